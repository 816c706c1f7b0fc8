package llm

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memoh-platform/convoy/internal/apperr"
	"github.com/memoh-platform/convoy/internal/breaker"
)

type stubClient struct {
	name string
	resp Response
	err  error
	n    int
}

func (s *stubClient) Name() string { return s.name }
func (s *stubClient) Complete(ctx context.Context, req Request) (Response, error) {
	s.n++
	if s.err != nil {
		return Response{}, s.err
	}
	return s.resp, nil
}

func TestFallbackClientUsesSecondaryOnPrimaryFailure(t *testing.T) {
	primary := &stubClient{name: "p", err: apperr.Permanent("boom", "no")}
	fallback := &stubClient{name: "f", resp: Response{Text: "hi from fallback"}}

	c := NewFallbackClient(primary, fallback, breaker.NewRegistry(), slog.Default())
	resp, err := c.Complete(context.Background(), "tenant-1", Request{SystemPrompt: "be nice"})

	require.NoError(t, err)
	require.Equal(t, "hi from fallback", resp.Text)
	require.Equal(t, 1, primary.n)
	require.Equal(t, 1, fallback.n)
}

func TestFallbackClientDegradedWhenBothFail(t *testing.T) {
	primary := &stubClient{name: "p", err: apperr.Permanent("boom", "no")}
	fallback := &stubClient{name: "f", err: apperr.Permanent("boom2", "no")}

	c := NewFallbackClient(primary, fallback, breaker.NewRegistry(), slog.Default())
	_, err := c.Complete(context.Background(), "tenant-1", Request{})

	require.True(t, apperr.OfKind(err, apperr.KindDegraded))
}
