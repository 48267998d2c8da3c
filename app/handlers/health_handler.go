package handlers

import (
	"github.com/gofiber/fiber/v3"

	"github.com/amirphl/creator-console/app/dto"
	"github.com/amirphl/creator-console/utils"
)

// RunCounter reports how many runs are executing in this process
type RunCounter interface {
	ActiveCount() (acquisitions, dispatches int)
}

// HealthHandler serves the liveness endpoint
type HealthHandler struct {
	runs    RunCounter
	version string
}

func NewHealthHandler(runs RunCounter, version string) *HealthHandler {
	return &HealthHandler{runs: runs, version: version}
}

// HealthCheck returns service health and the number of active runs
// @Summary Health Check
// @Tags Health
// @Produce json
// @Success 200 {object} dto.APIResponse "Service is healthy"
// @Router /api/v1/health [get]
func (h *HealthHandler) HealthCheck(c fiber.Ctx) error {
	data := fiber.Map{
		"status":    "ok",
		"timestamp": utils.UTCNow().Unix(),
		"version":   h.version,
		"service":   "creator-console",
	}
	if h.runs != nil {
		acquisitions, dispatches := h.runs.ActiveCount()
		data["active_acquisitions"] = acquisitions
		data["active_dispatches"] = dispatches
	}
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data:    data,
	})
}
