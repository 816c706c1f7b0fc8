// Package ingestion runs the Ingestion Worker: format detection, chunking,
// batch embedding, and vector upsert for uploaded knowledge assets.
package ingestion

import "strings"

// overlapRunes is prefixed onto each chunk after the first (taken from the
// tail of the previous chunk) so retrieval does not lose context at a
// chunk boundary.
const overlapRunes = 100

// ChunkDocument splits normalized text into overlapping chunks bounded by
// limitRunes, preferring to break on paragraph boundaries and falling back
// to line boundaries, the same shape the teacher's outbound message
// splitter uses to keep a single reply under a provider's length limit —
// here run forward over ingested documents instead of outbound replies.
func ChunkDocument(text string, markdown bool, limitRunes int) []string {
	splitter := splitPlainText
	if markdown {
		splitter = splitMarkdownText
	}
	pieces := splitter(text, limitRunes)
	if len(pieces) <= 1 {
		return pieces
	}
	return addOverlap(pieces)
}

// splitPlainText breaks text on blank-line paragraph boundaries first; a
// paragraph longer than limitRunes on its own is further broken on line
// boundaries, and a single line still too long is hard-split.
func splitPlainText(text string, limitRunes int) []string {
	paragraphs := strings.Split(text, "\n\n")
	var out []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if runeLen(para) > limitRunes {
			flush()
			out = append(out, splitByLines(para, limitRunes)...)
			continue
		}
		if runeLen(current.String())+runeLen(para)+2 > limitRunes {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return out
}

// splitMarkdownText is the markdown-aware variant: it additionally refuses
// to split inside a fenced code block, treating the whole fence as one unit
// before falling back to splitByLines when the fence itself exceeds the
// limit.
func splitMarkdownText(text string, limitRunes int) []string {
	lines := strings.Split(text, "\n")
	var out []string
	var current strings.Builder
	inFence := false
	flush := func() {
		if current.Len() > 0 {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		candidateLen := runeLen(current.String()) + runeLen(line) + 1
		if !inFence && candidateLen > limitRunes && current.Len() > 0 {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	flush()
	if len(out) == 0 {
		return out
	}
	var final []string
	for _, piece := range out {
		if runeLen(piece) > limitRunes {
			final = append(final, splitByLines(piece, limitRunes)...)
		} else {
			final = append(final, piece)
		}
	}
	return final
}

func splitByLines(text string, limitRunes int) []string {
	lines := strings.Split(text, "\n")
	var out []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			out = append(out, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	for _, line := range lines {
		if runeLen(line) > limitRunes {
			flush()
			out = append(out, hardSplit(line, limitRunes)...)
			continue
		}
		if runeLen(current.String())+runeLen(line)+1 > limitRunes {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	flush()
	return out
}

func hardSplit(text string, limitRunes int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > 0 {
		n := limitRunes
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}

func addOverlap(pieces []string) []string {
	out := make([]string, len(pieces))
	out[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		prev := []rune(pieces[i-1])
		tailLen := overlapRunes
		if tailLen > len(prev) {
			tailLen = len(prev)
		}
		tail := string(prev[len(prev)-tailLen:])
		out[i] = strings.TrimSpace(tail) + "\n" + pieces[i]
	}
	return out
}
