package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/domain"
	"github.com/memoh-platform/convoy/internal/store"
	"github.com/memoh-platform/convoy/internal/streams"
)

// channelCacheTTL bounds how long a loaded Channel (and its decrypted
// credentials) are reused between outbound deliveries before being
// re-fetched, so a credential rotation is picked up within one minute
// (spec §4.2).
const channelCacheTTL = 60 * time.Second

type cachedChannel struct {
	channel   domain.Channel
	expiresAt time.Time
}

// ChannelLoader is the subset of store.ChannelStore the outbound worker
// needs, narrowed for testability.
type ChannelLoader interface {
	Get(ctx context.Context, channelID uuid.UUID) (domain.Channel, error)
}

var _ ChannelLoader = (*store.ChannelStore)(nil)

// AuditRecorder is the subset of store.AuditStore the outbound worker needs
// to emit outbound.failed events on delivery exhaustion.
type AuditRecorder interface {
	Record(ctx context.Context, e domain.AuditEntry) error
}

var _ AuditRecorder = (*store.AuditStore)(nil)

// OutboundWorker drains the outbound delivery stream, resolving each
// record's channel and dispatching it through the matching Adapter. Per
// spec §4.2, ordering within one (channel_id, external_sender_id) pair is
// preserved by the stream's single partition key; across pairs delivery is
// unconstrained.
type OutboundWorker struct {
	stream      *streams.Stream
	registry    *Registry
	channels    ChannelLoader
	audit       AuditRecorder
	log         *slog.Logger
	maxAttempts int
	sendTimeout time.Duration

	mu    sync.Mutex
	cache map[uuid.UUID]cachedChannel
}

func NewOutboundWorker(stream *streams.Stream, registry *Registry, channels ChannelLoader, audit AuditRecorder, log *slog.Logger, maxAttempts int, sendTimeout time.Duration) *OutboundWorker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &OutboundWorker{
		stream:      stream,
		registry:    registry,
		channels:    channels,
		audit:       audit,
		log:         log.With(slog.String("component", "outbound_worker")),
		maxAttempts: maxAttempts,
		sendTimeout: sendTimeout,
		cache:       make(map[uuid.UUID]cachedChannel),
	}
}

// Run drains the outbound stream until ctx is cancelled.
func (w *OutboundWorker) Run(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgs, err := w.stream.Read(ctx, consumer, 10, 2*time.Second)
		if err != nil {
			w.log.Error("read outbound stream failed", slog.Any("error", err))
			time.Sleep(time.Second)
			continue
		}
		for _, m := range msgs {
			w.process(ctx, m)
		}
	}
}

func (w *OutboundWorker) process(ctx context.Context, m streams.Message) {
	rec, err := decodeOutboundEntry(m.Values)
	if err != nil {
		w.log.Error("corrupt outbound entry, dead-lettering", slog.Any("error", err))
		_ = w.stream.DeadLetter(ctx, m.ID, m.Values)
		return
	}

	ch, err := w.loadChannel(ctx, rec.ChannelID)
	if err != nil {
		w.log.Error("load channel for outbound delivery failed", slog.Any("error", err), slog.String("channel_id", rec.ChannelID.String()))
		w.retryOrDeadLetter(ctx, m, rec)
		return
	}

	adapter, ok := w.registry.Get(ch.ChannelType)
	if !ok {
		w.log.Error("no adapter for channel type, dead-lettering", slog.String("channel_type", string(ch.ChannelType)))
		_ = w.stream.DeadLetter(ctx, m.ID, m.Values)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	err = adapter.Send(sendCtx, ch, rec)
	cancel()
	if err == nil {
		_ = w.stream.Ack(ctx, m.ID)
		return
	}

	w.log.Warn("outbound delivery failed", slog.Any("error", err), slog.String("delivery_id", rec.DeliveryID), slog.Int("attempt", rec.Attempt))
	w.retryOrDeadLetter(ctx, m, rec)
}

func (w *OutboundWorker) retryOrDeadLetter(ctx context.Context, m streams.Message, rec OutboundRecord) {
	if rec.Attempt+1 >= w.maxAttempts {
		w.deadLetter(ctx, m, rec)
		return
	}
	rec.Attempt++
	if _, err := w.stream.Publish(ctx, encodeOutboundEntry(rec)); err != nil {
		w.log.Error("re-enqueue outbound delivery failed", slog.Any("error", err), slog.String("delivery_id", rec.DeliveryID))
		return
	}
	_ = w.stream.Ack(ctx, m.ID)
}

func (w *OutboundWorker) deadLetter(ctx context.Context, m streams.Message, rec OutboundRecord) {
	w.log.Error("outbound delivery exhausted attempts, dead-lettering", slog.String("delivery_id", rec.DeliveryID))
	_ = w.stream.DeadLetter(ctx, m.ID, m.Values)
	if w.audit == nil {
		return
	}
	_ = w.audit.Record(ctx, domain.AuditEntry{
		Actor:  "outbound_worker",
		Action: "outbound.failed",
		Detail: map[string]any{
			"delivery_id": rec.DeliveryID,
			"channel_id":  rec.ChannelID.String(),
			"attempts":    rec.Attempt + 1,
		},
	})
}

func (w *OutboundWorker) loadChannel(ctx context.Context, channelID uuid.UUID) (domain.Channel, error) {
	w.mu.Lock()
	if entry, ok := w.cache[channelID]; ok && time.Now().Before(entry.expiresAt) {
		w.mu.Unlock()
		return entry.channel, nil
	}
	w.mu.Unlock()

	ch, err := w.channels.Get(ctx, channelID)
	if err != nil {
		return domain.Channel{}, err
	}

	w.mu.Lock()
	w.cache[channelID] = cachedChannel{channel: ch, expiresAt: time.Now().Add(channelCacheTTL)}
	w.mu.Unlock()
	return ch, nil
}

// InvalidateChannel drops a cached channel immediately rather than waiting
// out channelCacheTTL. Nothing in this module calls it: no credential-
// rotation event is consumed, so a rotated credential is picked up only
// once the cached entry expires.
func (w *OutboundWorker) InvalidateChannel(channelID uuid.UUID) {
	w.mu.Lock()
	delete(w.cache, channelID)
	w.mu.Unlock()
}

func encodeOutboundEntry(rec OutboundRecord) map[string]any {
	values := map[string]any{
		"delivery_id":        rec.DeliveryID,
		"channel_id":         rec.ChannelID.String(),
		"external_sender_id": rec.ExternalSenderID,
		"content":            rec.Content,
		"attempt":            rec.Attempt,
		"correlation_id":     rec.CorrelationID,
	}
	if rec.Metadata != nil {
		if meta, err := json.Marshal(rec.Metadata); err == nil {
			values["metadata"] = string(meta)
		}
	}
	return values
}

func decodeOutboundEntry(values map[string]any) (OutboundRecord, error) {
	var rec OutboundRecord
	rec.DeliveryID, _ = values["delivery_id"].(string)
	rec.ExternalSenderID, _ = values["external_sender_id"].(string)
	rec.Content, _ = values["content"].(string)
	rec.CorrelationID, _ = values["correlation_id"].(string)

	channelID, _ := values["channel_id"].(string)
	id, err := uuid.Parse(channelID)
	if err != nil {
		return rec, apperr.Validation("outbound_entry_invalid", "bad channel_id %q: %v", channelID, err)
	}
	rec.ChannelID = id

	if raw, _ := values["metadata"].(string); raw != "" {
		_ = json.Unmarshal([]byte(raw), &rec.Metadata)
	}
	switch v := values["attempt"].(type) {
	case string:
		var n int
		if _, err := parseIntLoose(v, &n); err == nil {
			rec.Attempt = n
		}
	case int64:
		rec.Attempt = int(v)
	case int:
		rec.Attempt = v
	}
	return rec, nil
}
