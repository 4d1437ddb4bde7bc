package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/yourusername/candlecore/internal/exchange"
	"github.com/yourusername/candlecore/internal/repository"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db       *repository.Database
	exchange *exchange.CCXTClient
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *repository.Database, ex *exchange.CCXTClient) *HealthHandler {
	return &HealthHandler{db: db, exchange: ex}
}

// GetHealth returns the health status of the application and its dependencies.
func (h *HealthHandler) GetHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	dbError := ""
	if err := h.db.HealthCheck(ctx); err != nil {
		dbStatus = "unhealthy"
		dbError = err.Error()
	}

	exchangeStatus := "unconfigured"
	if h.exchange != nil {
		exchangeStatus = h.exchange.GetExchangeID()
	}

	response := fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"services": fiber.Map{
			"database": fiber.Map{
				"status": dbStatus,
				"error":  dbError,
			},
			"exchange": fiber.Map{
				"id": exchangeStatus,
			},
		},
	}

	if dbStatus == "unhealthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}
	return c.JSON(response)
}
