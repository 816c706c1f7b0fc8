package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/memoh-platform/convoy/internal/apperr"
)

// dedupTTL must exceed the gateway's worst-case retry window with margin
// (spec §4.3.1: "TTL >= webhook retry window + 10%"). The gateway's retry
// buffer schedule (internal/backoffx) exhausts at 6 attempts capped at 30s
// each, comfortably inside this window.
const dedupTTL = 10 * time.Minute

// inProgressMarker is written before any pipeline work starts, so a second
// delivery arriving while the first is mid-flight sees "in progress" rather
// than a missing key.
const inProgressMarker = "in-progress"

// Dedup implements the event_id seen-set described in spec §4.3.1 on top of
// a dedicated Redis key space (separate from the streams package's
// consumer-group streams, since this is a plain key/value cache, not a
// durable queue).
type Dedup struct {
	client *redis.Client
}

func NewDedup(client *redis.Client) *Dedup {
	return &Dedup{client: client}
}

func dedupKey(eventID string) string { return "inbound:dedup:" + eventID }

// Claim marks eventID in-progress and returns claimed=true if this caller
// won the race to process it. If another delivery already claimed it,
// claimed is false and cached carries the previously produced Ack; if that
// first attempt has not finished yet, Claim returns a retryable
// apperr.KindTransient error instead. An empty eventID is never deduped — it is always
// claimed — mirroring the store layer's own partial-unique-index treatment
// of a null event_id.
func (d *Dedup) Claim(ctx context.Context, eventID string) (claimed bool, cached *Ack, err error) {
	if eventID == "" {
		return true, nil, nil
	}

	ok, err := d.client.SetNX(ctx, dedupKey(eventID), inProgressMarker, dedupTTL).Result()
	if err != nil {
		return false, nil, apperr.Wrap(apperr.KindTransient, true, "dedup_claim_failed", err)
	}
	if ok {
		return true, nil, nil
	}

	raw, err := d.client.Get(ctx, dedupKey(eventID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired between the SetNX and this Get; safe to let the caller
			// retry, which will claim it fresh.
			return false, nil, apperr.Transient("dedup_race", "event %s dedup entry expired mid-check", eventID)
		}
		return false, nil, apperr.Wrap(apperr.KindTransient, true, "dedup_read_failed", err)
	}
	if raw == inProgressMarker {
		return false, nil, apperr.Transient("dedup_in_progress", "event %s is already being processed", eventID)
	}

	var ack Ack
	if err := json.Unmarshal([]byte(raw), &ack); err != nil {
		return false, nil, apperr.Wrap(apperr.KindTransient, true, "dedup_decode_failed", err)
	}
	return false, &ack, nil
}

// Complete overwrites the in-progress marker with the produced Ack so any
// repeat of eventID within the TTL window replays it without re-running the
// pipeline.
func (d *Dedup) Complete(ctx context.Context, eventID string, ack Ack) error {
	if eventID == "" {
		return nil
	}
	body, err := json.Marshal(ack)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "dedup_encode_failed", err)
	}
	if err := d.client.Set(ctx, dedupKey(eventID), body, dedupTTL).Err(); err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "dedup_complete_failed", err)
	}
	return nil
}

// Release clears the in-progress marker on an abort before PERSISTED, so the
// next retry claims the event fresh instead of waiting out the TTL.
func (d *Dedup) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := d.client.Del(ctx, dedupKey(eventID)).Err(); err != nil {
		return apperr.Wrap(apperr.KindTransient, true, "dedup_release_failed", err)
	}
	return nil
}
