package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"slate-backend/internal/api"
	"slate-backend/internal/auth"
	"slate-backend/internal/catalog"
	"slate-backend/internal/config"
	"slate-backend/internal/engine"
	"slate-backend/internal/security"
	"slate-backend/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, driver: %s)", cfg.Server.Port, cfg.Database.Driver)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap access tables and seed admin
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap access tables: %v", err)
	}
	log.Println("Access tables ready")

	// 4. Load the table catalog
	cat := catalog.New()
	if err := cat.LoadFile(cfg.CatalogPath); err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	log.Printf("Catalog loaded (%d tables)", len(cat.All()))

	// 5. Migrate catalog tables
	migrator := store.NewMigrator(db)
	if err := migrator.EnsureTables(ctx, cat); err != nil {
		log.Fatalf("Failed to migrate tables: %v", err)
	}

	// 6. Wire the permission resolver and the engine
	resolver := security.NewResolver(security.NewSQLSource(db), cfg.Security)
	hooks := engine.NewHookRegistry()
	eng := engine.New(db, cat, resolver, hooks, cfg.Security)

	// 7. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 8. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 9. Auth routes (before middleware, no token required)
	issuer := auth.NewIssuer(cfg.JWTSecret)
	auth.RegisterRoutes(app, auth.NewHandler(db, issuer))

	// 10. Data routes (token required)
	authMW := auth.Middleware(issuer)
	api.RegisterRoutes(app, api.NewHandler(eng), authMW)

	// 11. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
