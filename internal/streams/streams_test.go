package streams

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStream(t *testing.T) (*Stream, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := OpenWithClient(context.Background(), client, "outbound", "gateway-out")
	require.NoError(t, err)
	return s, mr
}

func TestPublishAndRead(t *testing.T) {
	s, _ := newTestStream(t)
	ctx := context.Background()

	id, err := s.Publish(ctx, map[string]any{"delivery_id": "d-1", "body": "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs, err := s.Read(ctx, "consumer-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "d-1", msgs[0].Values["delivery_id"])

	require.NoError(t, s.Ack(ctx, msgs[0].ID))
}

func TestClaimRecoversAbandonedEntries(t *testing.T) {
	s, _ := newTestStream(t)
	ctx := context.Background()

	_, err := s.Publish(ctx, map[string]any{"delivery_id": "d-2"})
	require.NoError(t, err)

	msgs, err := s.Read(ctx, "consumer-a", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	claimed, err := s.Claim(ctx, "consumer-b", 0, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, msgs[0].ID, claimed[0].ID)
}

func TestDeadLetterAcksOriginal(t *testing.T) {
	s, _ := newTestStream(t)
	ctx := context.Background()

	id, err := s.Publish(ctx, map[string]any{"delivery_id": "d-3"})
	require.NoError(t, err)

	msgs, err := s.Read(ctx, "consumer-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, s.DeadLetter(ctx, id, map[string]any{"delivery_id": "d-3", "reason": "max attempts exceeded"}))

	claimed, err := s.Claim(ctx, "consumer-2", 0, 10)
	require.NoError(t, err)
	require.Empty(t, claimed)
}
