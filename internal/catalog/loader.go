package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a JSON catalog definition and loads it. The file holds an
// array of table definitions in the same shape the API exposes.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var tables []*Table
	if err := json.Unmarshal(data, &tables); err != nil {
		return fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return c.Load(tables)
}
