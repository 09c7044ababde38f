package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"

	"scrubapi/internal/scrubber"
)

// ToolChecker reports whether an external tool can be used.
type ToolChecker interface {
	Check(ctx context.Context, tool scrubber.Tool) scrubber.ToolStatus
}

// HealthCheck checks DB connectivity only.
//
// @Summary Readiness check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} errorPayload
// @Router /health [get]
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if db == nil || db.PingContext(ctx) != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is a simple liveness probe.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// toolsReport is the body of GET /health/tools.
type toolsReport struct {
	Status string                         `json:"status"`
	Tools  map[string]scrubber.ToolStatus `json:"tools"`
}

// ToolsHealth probes the scrubbing tools. Missing tools degrade uploads to
// cleaned=false rather than failing them, so the endpoint always answers 200.
//
// @Summary Scrubbing tool availability
// @Tags health
// @Produce json
// @Success 200 {object} toolsReport
// @Router /health/tools [get]
func ToolsHealth(checker ToolChecker, tools []scrubber.Tool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		report := toolsReport{Status: "ok", Tools: make(map[string]scrubber.ToolStatus, len(tools))}
		available := 0
		for _, t := range tools {
			st := checker.Check(c.UserContext(), t)
			report.Tools[t.Name] = st
			if st.Available {
				available++
			}
		}
		switch {
		case len(tools) > 0 && available == 0:
			report.Status = "unavailable"
		case available < len(tools):
			report.Status = "degraded"
		}
		return c.JSON(report)
	}
}
