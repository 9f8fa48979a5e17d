package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"vault-backend/internal/clients"
	"vault-backend/internal/metrics"
	"vault-backend/internal/services"
)

// HealthHandler reports database, NATS and sequencer status
type HealthHandler struct {
	db   *gorm.DB
	nats *clients.NATSClient
	svc  *services.VaultService
}

func NewHealthHandler(db *gorm.DB, nats *clients.NATSClient, svc *services.VaultService) *HealthHandler {
	return &HealthHandler{db: db, nats: nats, svc: svc}
}

// HealthCheckHandler GET /health
func (h *HealthHandler) HealthCheckHandler(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	dbStatus := "ok"
	if err := h.pingDB(c.Request.Context()); err != nil {
		dbStatus = err.Error()
		status = http.StatusServiceUnavailable
		metrics.DBConnectionStatus.Set(0)
	} else {
		metrics.DBConnectionStatus.Set(1)
	}
	checks["database"] = dbStatus

	switch {
	case h.nats == nil:
		checks["nats"] = "disabled"
	case h.nats.Connected():
		checks["nats"] = "ok"
	default:
		// events are still delivered to websocket clients
		checks["nats"] = "disconnected"
	}

	if summary, err := h.svc.Summary(); err == nil {
		checks["vault"] = gin.H{"address": summary.Address.Hex(), "halted": summary.Halted}
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":  state,
		"service": "vault-backend",
		"checks":  checks,
	})
}

func (h *HealthHandler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return err
	}
	metrics.DBConnectionOpen.Set(float64(sqlDB.Stats().OpenConnections))
	return nil
}
