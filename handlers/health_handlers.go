package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// HealthCheck godoc
// @Summary Liveness check
// @Description Reports that the service is up and which model it loaded.
// @Tags health
// @Produce  json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *ApplicationHandler) HealthCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(HealthResponse{
		Status: "ok",
		Model:  h.ModelID,
	})
}
