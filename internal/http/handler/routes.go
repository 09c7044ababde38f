package handler

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"scrubapi/internal/scrubber"
	"scrubapi/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// File routes run behind owner resolution; health routes do not.
func RegisterRoutes(app *fiber.App, db *sql.DB, svc service.FileService, checker ToolChecker, tools []scrubber.Tool, owner fiber.Handler) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())
	if checker != nil {
		app.Get("/health/tools", ToolsHealth(checker, tools))
	}

	files := app.Group("/api/files", owner)
	files.Post("/upload", UploadFile(svc))
	files.Get("/", ListFiles(svc))
	files.Get("/hash/:hash", LookupFile(svc))
	files.Get("/:id", GetFile(svc))
	files.Get("/:id/download", DownloadFile(svc))
	files.Delete("/:id", DeleteFile(svc))
}
