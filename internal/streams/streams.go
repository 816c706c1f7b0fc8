// Package streams is the single Redis Streams consumer-group abstraction
// used for the four at-least-once queues this platform needs: outbound
// delivery, ingestion jobs, the cross-component event bus, and the Channel
// Gateway's inbound retry buffer. Each stream
// gets its own dead-letter partition named "<stream>:dead".
package streams

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one entry read off a stream, with its ID carried alongside the
// field map so the caller can Ack or DeadLetter it.
type Message struct {
	ID     string
	Values map[string]any
}

// Stream wraps one Redis-backed queue with a fixed consumer group.
type Stream struct {
	client *redis.Client
	key    string
	group  string
}

// Open connects to addr and ensures the consumer group exists on key,
// creating the stream (MKSTREAM) if it does not exist yet.
func Open(ctx context.Context, addr, key, group string) (*Stream, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	s := &Stream{client: client, key: key, group: group}
	if err := s.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenWithClient wraps an already-connected client, useful for tests against
// miniredis where the caller owns the connection lifecycle.
func OpenWithClient(ctx context.Context, client *redis.Client, key, group string) (*Stream, error) {
	s := &Stream{client: client, key: key, group: group}
	if err := s.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stream) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.key, s.group, "$").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("create consumer group %s on %s: %w", s.group, s.key, err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Publish appends one entry and returns its stream-assigned ID.
func (s *Stream) Publish(ctx context.Context, values map[string]any) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", s.key, err)
	}
	return id, nil
}

// Read blocks up to block for up to count new entries delivered to consumer.
// It reads with the special ">" id, so only never-delivered entries are
// returned; pending entries are recovered through Claim.
func (s *Stream) Read(ctx context.Context, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.key, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", s.key, err)
	}
	var out []Message
	for _, stream := range res {
		for _, m := range stream.Messages {
			out = append(out, Message{ID: m.ID, Values: m.Values})
		}
	}
	return out, nil
}

// Ack marks entries as processed, removing them from the pending list.
func (s *Stream) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.key, s.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", s.key, err)
	}
	return nil
}

// Claim re-assigns entries idle longer than minIdle to consumer, recovering
// work abandoned by a crashed worker.
func (s *Stream) Claim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	res, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.key,
		Group:    s.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim %s: %w", s.key, err)
	}
	out := make([]Message, 0, len(res))
	for _, m := range res {
		out = append(out, Message{ID: m.ID, Values: m.Values})
	}
	return out, nil
}

// DeadLetter publishes values (typically the original entry plus a failure
// reason) to this stream's dead-letter partition and acks the original ID so
// it is not redelivered.
func (s *Stream) DeadLetter(ctx context.Context, originalID string, values map[string]any) error {
	deadKey := s.key + ":dead"
	if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: deadKey, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", deadKey, err)
	}
	return s.Ack(ctx, originalID)
}

// Close releases the underlying Redis connection.
func (s *Stream) Close() error {
	return s.client.Close()
}
