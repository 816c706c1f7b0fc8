package ingestion

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		filename    string
		want        Format
	}{
		{"html content type", "text/html; charset=utf-8", "doc", FormatHTML},
		{"pdf content type", "application/pdf", "doc", FormatPDF},
		{"markdown content type", "text/markdown", "doc", FormatMarkdown},
		{"html extension", "application/octet-stream", "page.html", FormatHTML},
		{"md extension", "application/octet-stream", "notes.md", FormatMarkdown},
		{"pdf extension", "", "report.PDF", FormatPDF},
		{"unknown falls back to plain", "application/octet-stream", "readme", FormatPlain},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DetectFormat(tc.contentType, tc.filename))
		})
	}
}

func TestToMarkdownPlainAndMarkdownPassThrough(t *testing.T) {
	text, markdown, err := ToMarkdown(FormatPlain, []byte("just text"))
	require.NoError(t, err)
	require.False(t, markdown)
	require.Equal(t, "just text", text)

	text, markdown, err = ToMarkdown(FormatMarkdown, []byte("# heading"))
	require.NoError(t, err)
	require.True(t, markdown)
	require.Equal(t, "# heading", text)
}

func TestExtractPDFText(t *testing.T) {
	content := []byte(`BT /F1 12 Tf (Hello) Tj (World) Tj ET`)
	got := extractPDFText(content)
	require.Contains(t, got, "Hello")
	require.Contains(t, got, "World")
}

func TestExtractPDFTextHandlesEscapes(t *testing.T) {
	content := []byte(`(Line one\nLine two) Tj`)
	got := extractPDFText(content)
	require.Contains(t, got, "Line one\nLine two")
}
