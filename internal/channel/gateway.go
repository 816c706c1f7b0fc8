package channel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/backoffx"
	"github.com/memoh-platform/convoy/internal/domain"
	"github.com/memoh-platform/convoy/internal/store"
	"github.com/memoh-platform/convoy/internal/streams"
)

// ChannelResolver is the subset of store.ChannelStore the gateway needs,
// narrowed so gateway tests can supply an in-memory fake.
type ChannelResolver interface {
	Resolve(ctx context.Context, channelType domain.ChannelType, externalAccountID string) (domain.Channel, error)
}

var _ ChannelResolver = (*store.ChannelStore)(nil)

// Gateway terminates the four provider webhooks, verifies signatures,
// normalizes payloads, and forwards to the Orchestrator — buffering
// locally on transient forwarding failure (spec §4.1).
type Gateway struct {
	registry     *Registry
	channels     ChannelResolver
	orchestrator OrchestratorClient
	secrets      map[string][]string
	buffer       *streams.Stream
	log          *slog.Logger
	maxAttempts  uint64
}

func NewGateway(registry *Registry, channels ChannelResolver, orchestrator OrchestratorClient, secrets map[string][]string, buffer *streams.Stream, log *slog.Logger, maxAttempts uint64) *Gateway {
	if maxAttempts == 0 {
		maxAttempts = backoffx.DefaultMaxTries
	}
	return &Gateway{
		registry:     registry,
		channels:     channels,
		orchestrator: orchestrator,
		secrets:      secrets,
		buffer:       buffer,
		log:          log.With(slog.String("component", "channel_gateway")),
		maxAttempts:  maxAttempts,
	}
}

// Register wires one route per channel type: GET for the provider
// handshake, POST for delivery.
func (g *Gateway) Register(e *echo.Echo) {
	e.GET("/webhooks/:channel", g.handleHandshake)
	e.POST("/webhooks/:channel", g.handleWebhook)
}

func signatureHeader(channelType domain.ChannelType) string {
	switch channelType {
	case domain.ChannelWeb:
		return "X-Webchat-Signature"
	case domain.ChannelInstagram:
		return "X-Instagram-Signature"
	case domain.ChannelWhatsApp:
		return "X-Whatsapp-Signature"
	case domain.ChannelTelegram:
		return "X-Telegram-Signature"
	default:
		return "X-Signature"
	}
}

func (g *Gateway) handleHandshake(c echo.Context) error {
	ct := domain.ChannelType(c.Param("channel"))
	adapter, ok := g.registry.Get(ct)
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	query := map[string]string{}
	for k := range c.QueryParams() {
		query[k] = c.QueryParam(k)
	}
	hs := adapter.VerifyHandshake(query, g.secrets[string(ct)])
	if !hs.OK {
		return c.NoContent(http.StatusNotFound)
	}
	return c.String(http.StatusOK, hs.Challenge)
}

func (g *Gateway) handleWebhook(c echo.Context) error {
	ctx := c.Request().Context()
	ct := domain.ChannelType(c.Param("channel"))
	if !ct.Valid() {
		return c.NoContent(http.StatusNotFound)
	}
	adapter, ok := g.registry.Get(ct)
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	accountID, err := adapter.ResolveAccountID(c.Request().Header, body)
	if err != nil || accountID == "" {
		return c.NoContent(http.StatusBadRequest)
	}

	ch, err := g.channels.Resolve(ctx, ct, accountID)
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}
	if ch.Status != "" && ch.Status != "active" {
		return c.NoContent(http.StatusNotFound)
	}

	sig := c.Request().Header.Get(signatureHeader(ct))
	if !VerifySignature(body, strings.ToLower(sig), g.secrets[string(ct)]) {
		g.log.Warn("webhook signature mismatch", slog.String("channel_type", string(ct)), slog.String("channel_id", ch.ChannelID.String()))
		return c.NoContent(http.StatusUnauthorized)
	}

	norm, err := adapter.Normalize(ctx, ch, body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	correlationID := c.Request().Header.Get("X-Request-ID")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	msg := InboundMessage{
		EventID:       norm.EventID,
		TenantID:      ch.TenantID,
		BrandID:       ch.BrandID,
		ChannelID:     ch.ChannelID,
		SenderID:      norm.SenderID,
		Message:       norm.Text,
		Locale:        norm.Locale,
		Metadata:      norm.Metadata,
		OccurredAt:    norm.OccurredAt,
		CorrelationID: correlationID,
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}

	_, err = g.orchestrator.ProcessInbound(ctx, msg)
	if err == nil {
		return c.NoContent(http.StatusAccepted)
	}
	if !apperr.OfKind(err, apperr.KindTransient) {
		g.log.Error("orchestrator rejected inbound message", slog.Any("error", err), slog.String("event_id", msg.EventID))
		return c.NoContent(http.StatusAccepted)
	}

	if bufErr := g.enqueueRetry(ctx, msg, 1); bufErr != nil {
		g.log.Error("inbound retry buffer full", slog.Any("error", bufErr), slog.String("event_id", msg.EventID))
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusAccepted)
}

func (g *Gateway) enqueueRetry(ctx context.Context, msg InboundMessage, attempt int) error {
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return err
	}
	_, err = g.buffer.Publish(ctx, map[string]any{
		"event_id":       msg.EventID,
		"tenant_id":      msg.TenantID.String(),
		"brand_id":       msg.BrandID.String(),
		"channel_id":     msg.ChannelID.String(),
		"sender_id":      msg.SenderID,
		"message":        msg.Message,
		"locale":         msg.Locale,
		"metadata":       string(meta),
		"occurred_at":    msg.OccurredAt.Format(time.RFC3339),
		"correlation_id": msg.CorrelationID,
		"attempt":        attempt,
	})
	return err
}

// RunRetryBuffer drains the local durable retry buffer, re-attempting
// delivery to the Orchestrator with the shared backoff schedule until
// maxAttempts is exhausted, at which point the event is dead-lettered.
func (g *Gateway) RunRetryBuffer(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := g.buffer.Read(ctx, consumer, 10, 2*time.Second)
		if err != nil {
			g.log.Error("read inbound retry buffer failed", slog.Any("error", err))
			time.Sleep(time.Second)
			continue
		}
		for _, m := range msgs {
			g.processRetry(ctx, m)
		}
	}
}

func (g *Gateway) processRetry(ctx context.Context, m streams.Message) {
	msg, attempt, err := decodeRetryEntry(m.Values)
	if err != nil {
		g.log.Error("corrupt inbound retry entry, dead-lettering", slog.Any("error", err))
		_ = g.buffer.DeadLetter(ctx, m.ID, m.Values)
		return
	}

	interval := backoffSleepFor(attempt)
	select {
	case <-ctx.Done():
		return
	case <-time.After(interval):
	}

	_, err = g.orchestrator.ProcessInbound(ctx, msg)
	if err == nil {
		_ = g.buffer.Ack(ctx, m.ID)
		return
	}
	if attempt >= int(g.maxAttempts) || !apperr.OfKind(err, apperr.KindTransient) {
		g.log.Error("inbound event exhausted retries, dead-lettering", slog.String("event_id", msg.EventID), slog.Any("error", err))
		_ = g.buffer.DeadLetter(ctx, m.ID, m.Values)
		return
	}
	if pubErr := g.enqueueRetry(ctx, msg, attempt+1); pubErr != nil {
		g.log.Error("re-enqueue inbound retry failed", slog.Any("error", pubErr))
		return
	}
	_ = g.buffer.Ack(ctx, m.ID)
}

func backoffSleepFor(attempt int) time.Duration {
	d := backoffx.BaseInterval
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * backoffx.Multiplier)
		if d > backoffx.MaxInterval {
			return backoffx.MaxInterval
		}
	}
	return d
}

func decodeRetryEntry(values map[string]any) (InboundMessage, int, error) {
	var msg InboundMessage
	msg.EventID, _ = values["event_id"].(string)
	msg.SenderID, _ = values["sender_id"].(string)
	msg.Message, _ = values["message"].(string)
	msg.Locale, _ = values["locale"].(string)
	msg.CorrelationID, _ = values["correlation_id"].(string)

	tenantID, _ := values["tenant_id"].(string)
	brandID, _ := values["brand_id"].(string)
	channelID, _ := values["channel_id"].(string)
	var err error
	if msg.TenantID, err = uuid.Parse(tenantID); err != nil {
		return msg, 0, err
	}
	if msg.BrandID, err = uuid.Parse(brandID); err != nil {
		return msg, 0, err
	}
	if msg.ChannelID, err = uuid.Parse(channelID); err != nil {
		return msg, 0, err
	}
	if occurred, _ := values["occurred_at"].(string); occurred != "" {
		msg.OccurredAt, _ = time.Parse(time.RFC3339, occurred)
	}
	if rawMeta, _ := values["metadata"].(string); rawMeta != "" {
		_ = json.Unmarshal([]byte(rawMeta), &msg.Metadata)
	}
	attempt := 1
	switch v := values["attempt"].(type) {
	case string:
		var n int
		if _, err := parseIntLoose(v, &n); err == nil {
			attempt = n
		}
	case int64:
		attempt = int(v)
	case int:
		attempt = v
	}
	return msg, attempt, nil
}

func parseIntLoose(s string, out *int) (int, error) {
	n := 0
	neg := false
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			*out = 0
			return 0, apperr.Validation("attempt_not_numeric", "attempt %q is not numeric", s)
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		n = -n
	}
	*out = n
	return n, nil
}
