package extract

import (
	"fmt"
	"strings"
)

// Registry maps MIME types and file extensions to extractors. Extension
// matches win over MIME matches: the sniffer reports generic types like
// text/plain for many concrete formats.
type Registry struct {
	byMIME      map[string]Extractor
	byExtension map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{
		byMIME:      make(map[string]Extractor),
		byExtension: make(map[string]Extractor),
	}
}

func (r *Registry) Register(e Extractor) {
	for _, mt := range e.SupportedTypes() {
		if key := strings.ToLower(strings.TrimSpace(mt)); key != "" {
			r.byMIME[key] = e
		}
	}
	for _, ext := range e.SupportedExtensions() {
		if key := strings.ToLower(strings.TrimSpace(ext)); key != "" {
			r.byExtension[key] = e
		}
	}
}

// Supports reports whether any registered extractor claims the extension.
func (r *Registry) Supports(extension string) bool {
	_, ok := r.byExtension[strings.ToLower(strings.TrimSpace(extension))]
	return ok
}

func (r *Registry) Resolve(mimeType, extension string) (Extractor, error) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(strings.TrimSpace(extension))

	if e, ok := r.byExtension[ext]; ok {
		return e, nil
	}
	if e, ok := r.byMIME[mt]; ok {
		return e, nil
	}
	if i := strings.Index(mt, ";"); i > 0 {
		if e, ok := r.byMIME[strings.TrimSpace(mt[:i])]; ok {
			return e, nil
		}
	}
	if strings.HasPrefix(mt, "text/") {
		if e, ok := r.byMIME["text/plain"]; ok {
			return e, nil
		}
	}

	return nil, fmt.Errorf("no extractor registered for mime=%q extension=%q", mimeType, extension)
}
