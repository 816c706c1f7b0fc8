package orchestrator

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memoh-platform/convoy/internal/apperr"
)

// Handler exposes the Orchestrator's own HTTP surface: the synchronous
// inbound endpoint the Channel Gateway calls, and /health. Admin routes live
// in admin.go but are registered from the same Handler so cmd/orchestrator
// only needs to wire one server.Handler.
type Handler struct {
	pipeline *Pipeline
	admin    *AdminHandler
}

func NewHandler(pipeline *Pipeline, admin *AdminHandler) *Handler {
	return &Handler{pipeline: pipeline, admin: admin}
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.handleHealth)
	e.POST("/v1/messages/inbound", h.handleInbound)
	h.admin.Register(e)
}

func (h *Handler) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleInbound(c echo.Context) error {
	var msg InboundMessage
	if err := c.Bind(&msg); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(apperr.Validation("inbound_decode_failed", "invalid request body: %v", err)))
	}
	msg.CorrelationID = c.Request().Header.Get("X-Correlation-Id")

	ack, err := h.pipeline.ProcessInbound(c.Request().Context(), msg)
	if err != nil {
		return writeAppErr(c, err)
	}
	return c.JSON(http.StatusAccepted, ack)
}

// errorResponse is the wire shape every failed admin/inbound call returns.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBody(err *apperr.Error) errorResponse {
	return errorResponse{Code: err.Code, Message: err.Message}
}

// statusFor maps the closed apperr.Kind enum onto the HTTP status the admin
// and inbound surfaces return, per the taxonomy in internal/apperr.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	case apperr.KindPermanent:
		return http.StatusUnprocessableEntity
	case apperr.KindDegraded:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// writeAppErr renders any error as JSON, unwrapping it to an *apperr.Error
// when possible to pick an accurate status code.
func writeAppErr(c echo.Context, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return c.JSON(statusFor(ae.Kind), errorBody(ae))
	}
	return c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: err.Error()})
}
