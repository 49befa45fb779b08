// Package extract resolves and runs local text extractors for formats whose
// content can be pulled without the remote document-analysis job (plain
// text, HTML, spreadsheets). Scanned or layout-heavy formats go through the
// docintel client instead.
package extract

import "context"

// Extractor is implemented by every local file-type handler.
type Extractor interface {
	Extract(ctx context.Context, job Job) (Result, error)
	SupportedTypes() []string
	SupportedExtensions() []string
	Name() string
}
