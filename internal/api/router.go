package api

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the data endpoints behind the auth middleware.
func RegisterRoutes(app *fiber.App, h *Handler, authMW fiber.Handler) {
	data := app.Group("/api/data", authMW)
	data.Post("/read", h.Read)
	data.Post("/create", h.Create)
	data.Post("/update", h.Update)
	data.Post("/delete", h.Delete)
	data.Post("/upsert", h.Upsert)
	data.Post("/bulk", h.Bulk)

	app.Get("/api/tables", authMW, h.Tables)
	app.Get("/api/tables/:name", authMW, h.Table)
}
