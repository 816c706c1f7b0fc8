package retrieval

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// defaultEncoding matches the cl100k_base tokenizer used by the primary LLM
// family this platform targets; a precise per-provider count is not
// available before the request is built, so this is an estimate used only
// for budget selection, not for billing.
const defaultEncoding = "cl100k_base"

// BudgetSelector greedily selects the highest-scored chunks that fit within
// a token budget, stopping the moment the next chunk would overflow it
// rather than truncating a chunk mid-sentence.
type BudgetSelector struct {
	enc *tiktoken.Tiktoken
}

func NewBudgetSelector() (*BudgetSelector, error) {
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return nil, err
	}
	return &BudgetSelector{enc: enc}, nil
}

// Select assumes chunks are already ordered by descending relevance (as
// VectorStore.Search returns them) and returns the longest prefix whose
// combined token count stays within budgetTokens.
func (b *BudgetSelector) Select(chunks []ScoredChunk, budgetTokens int) []ScoredChunk {
	if budgetTokens <= 0 {
		return nil
	}
	var used int
	var out []ScoredChunk
	for _, c := range chunks {
		n := len(b.enc.Encode(c.Text, nil, nil))
		if used+n > budgetTokens {
			break
		}
		used += n
		out = append(out, c)
	}
	return out
}

// CountTokens returns the token count of text under the selector's
// encoding, the same count Select applies to each chunk.
func (b *BudgetSelector) CountTokens(text string) int {
	return len(b.enc.Encode(text, nil, nil))
}

// JoinContext renders selected chunks into one context block for the
// system prompt, each separated so the model can distinguish sources.
func JoinContext(chunks []ScoredChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "\n---\n")
}
