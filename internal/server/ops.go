package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// OpsHandler registers the /health and /metrics routes every process
// binary exposes, regardless of which domain handlers it also mounts (spec
// §6's CLI surface requirement). The Orchestrator's own Handler answers
// /health itself since it already owns a Register method; gateway,
// ingestion, and automation have no handler of their own that answers
// /health or /metrics and mount this instead.
type OpsHandler struct {
	metrics http.Handler
}

func NewOpsHandler(metrics http.Handler) *OpsHandler {
	return &OpsHandler{metrics: metrics}
}

func (h *OpsHandler) Register(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(h.metrics))
}

// MetricsHandler registers only /metrics, for binaries (the Orchestrator)
// whose own domain Handler already answers /health.
type MetricsHandler struct {
	metrics http.Handler
}

func NewMetricsHandler(metrics http.Handler) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

func (h *MetricsHandler) Register(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(h.metrics))
}
