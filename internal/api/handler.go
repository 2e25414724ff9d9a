package api

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"

	"slate-backend/internal/auth"
	"slate-backend/internal/engine"
)

// Handler exposes the engine over HTTP. Every endpoint takes a POSTed
// request body; the operation is in the path, the table in the payload.
type Handler struct {
	engine *engine.Engine
}

func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{engine: eng}
}

// Read handles POST /api/data/read.
func (h *Handler) Read(c *fiber.Ctx) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	var req engine.ReadRequest
	if err := c.BodyParser(&req); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	return respond(c, h.engine.Read(c.Context(), p.ID, &req))
}

// Create handles POST /api/data/create.
func (h *Handler) Create(c *fiber.Ctx) error {
	return h.write(c, h.engine.Create)
}

// Update handles POST /api/data/update.
func (h *Handler) Update(c *fiber.Ctx) error {
	return h.write(c, h.engine.Update)
}

// Delete handles POST /api/data/delete.
func (h *Handler) Delete(c *fiber.Ctx) error {
	return h.write(c, h.engine.Delete)
}

// Upsert handles POST /api/data/upsert.
func (h *Handler) Upsert(c *fiber.Ctx) error {
	return h.write(c, h.engine.Upsert)
}

// Bulk handles POST /api/data/bulk.
func (h *Handler) Bulk(c *fiber.Ctx) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	var req engine.BulkRequest
	if err := c.BodyParser(&req); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	return respond(c, h.engine.Bulk(c.Context(), p.ID, &req))
}

// Tables handles GET /api/tables, returning the catalog for UI consumption.
func (h *Handler) Tables(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.engine.Catalog().All()})
}

// Table handles GET /api/tables/:name, returning one table's metadata.
func (h *Handler) Table(c *fiber.Ctx) error {
	t, err := h.engine.Catalog().Get(c.Params("name"))
	if err != nil {
		return engine.UnknownTableError(c.Params("name"))
	}
	return c.JSON(fiber.Map{"data": t})
}

func (h *Handler) write(c *fiber.Ctx, op func(ctx context.Context, userID string, req *engine.WriteRequest) engine.Result) error {
	p := auth.GetPrincipal(c)
	if p == nil {
		return engine.UnauthorizedError("Missing auth token")
	}
	var req engine.WriteRequest
	if err := c.BodyParser(&req); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	return respond(c, op(c.Context(), p.ID, &req))
}

// respond maps a Result onto the wire. Expected failures travel in the body
// with success=false; internal failures log their detail and return 500.
func respond(c *fiber.Ctx, res engine.Result) error {
	if !res.Success && res.LogMessage != "" {
		log.Printf("ERROR: %s", res.LogMessage)
		return c.Status(fiber.StatusInternalServerError).JSON(res)
	}
	return c.JSON(res)
}
