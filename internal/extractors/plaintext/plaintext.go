package plaintext

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/toricodesthings/pii-sanitization-service/internal/extract"
)

// Extractor handles plain text and markdown passthrough. HTML has its own
// extractor in this package; everything else text-like falls back here via
// the registry's text/plain rule.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

func (e *Extractor) Name() string { return "text" }

func (e *Extractor) SupportedTypes() []string {
	return []string{"text/plain", "text/markdown"}
}

func (e *Extractor) SupportedExtensions() []string {
	return []string{".txt", ".text", ".log", ".md", ".markdown"}
}

func (e *Extractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	select {
	case <-ctx.Done():
		return extract.Result{}, ctx.Err()
	default:
	}

	text := string(job.Data)
	fileType := "text/plain"

	switch strings.ToLower(filepath.Ext(job.FileName)) {
	case ".md", ".markdown":
		text = stripFrontMatter(text)
		fileType = "text/markdown"
	}

	return extract.Result{
		Text:     normalizeText(text),
		Method:   "native",
		FileType: fileType,
	}, nil
}

var blankRunRe = regexp.MustCompile(`\n{4,}`)

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n\n")
	return strings.TrimSpace(s)
}

func stripFrontMatter(s string) string {
	if !strings.HasPrefix(s, "---\n") {
		return s
	}
	idx := strings.Index(s[4:], "\n---\n")
	if idx < 0 {
		return s
	}
	return s[4+idx+5:]
}
