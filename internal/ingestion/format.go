package ingestion

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// Format is the document shape a knowledge asset's bytes decode to before
// chunking.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatPlain    Format = "plain"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
)

// DetectFormat classifies an asset by its declared content type first,
// falling back to its filename extension.
func DetectFormat(contentType, filename string) Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "html"):
		return FormatHTML
	case strings.Contains(ct, "pdf"):
		return FormatPDF
	case strings.Contains(ct, "markdown"):
		return FormatMarkdown
	}

	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".html"), strings.HasSuffix(name, ".htm"):
		return FormatHTML
	case strings.HasSuffix(name, ".pdf"):
		return FormatPDF
	case strings.HasSuffix(name, ".md"), strings.HasSuffix(name, ".markdown"):
		return FormatMarkdown
	default:
		return FormatPlain
	}
}

// ToMarkdown normalizes raw asset bytes down to the text ChunkDocument
// consumes, converting HTML to markdown and extracting PDF text, and
// reports whether the result should be chunked with markdown-aware
// boundaries.
func ToMarkdown(format Format, content []byte) (text string, markdown bool, err error) {
	switch format {
	case FormatHTML:
		md, err := htmltomarkdown.ConvertString(string(content))
		if err != nil {
			return "", false, err
		}
		return md, true, nil
	case FormatPDF:
		return extractPDFText(content), false, nil
	case FormatMarkdown:
		return string(content), true, nil
	default:
		return string(content), false, nil
	}
}

var pdfTextOperator = regexp.MustCompile(`\(((?:\\.|[^()\\])*)\)\s*T[jJ]`)

// extractPDFText pulls the literal-string operands of PDF text-showing
// operators (Tj/TJ) directly out of the content stream. It does not decode
// compressed object streams or font encoding tables, so scanned or
// flate-compressed PDFs yield little or nothing — a deliberate minimal
// fallback in place of a dedicated PDF library (see DESIGN.md).
func extractPDFText(content []byte) string {
	matches := pdfTextOperator.FindAllSubmatch(content, -1)
	var sb strings.Builder
	for _, m := range matches {
		sb.Write(unescapePDFString(m[1]))
		sb.WriteByte(' ')
	}
	return sb.String()
}

func unescapePDFString(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			switch raw[i+1] {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case '(', ')', '\\':
				out = append(out, raw[i+1])
			default:
				out = append(out, raw[i+1])
			}
			i++
			continue
		}
		out = append(out, raw[i])
	}
	return out
}
