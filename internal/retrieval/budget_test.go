package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBudgetSelectorStopsAtOverflow(t *testing.T) {
	sel, err := NewBudgetSelector()
	require.NoError(t, err)

	chunks := []ScoredChunk{
		{Chunk: Chunk{Text: strings.Repeat("alpha ", 50)}, HybridScore: 0.9},
		{Chunk: Chunk{Text: strings.Repeat("beta ", 50)}, HybridScore: 0.8},
		{Chunk: Chunk{Text: strings.Repeat("gamma ", 500)}, HybridScore: 0.7},
	}

	budget := sel.CountTokens(chunks[0].Text) + sel.CountTokens(chunks[1].Text) + 5
	selected := sel.Select(chunks, budget)

	require.Len(t, selected, 2)
	require.Equal(t, chunks[0].Text, selected[0].Text)
	require.Equal(t, chunks[1].Text, selected[1].Text)
}

func TestBudgetSelectorZeroBudgetSelectsNothing(t *testing.T) {
	sel, err := NewBudgetSelector()
	require.NoError(t, err)
	require.Empty(t, sel.Select([]ScoredChunk{{Chunk: Chunk{Text: "hello"}}}, 0))
}
