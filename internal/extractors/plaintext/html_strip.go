package plaintext

import (
	"bytes"
	"context"
	"strings"

	"github.com/toricodesthings/pii-sanitization-service/internal/extract"
	"golang.org/x/net/html"
)

type HTMLExtractor struct{}

func NewHTML() *HTMLExtractor { return &HTMLExtractor{} }

func (e *HTMLExtractor) Name() string             { return "document/html" }
func (e *HTMLExtractor) SupportedTypes() []string { return []string{"text/html"} }
func (e *HTMLExtractor) SupportedExtensions() []string {
	return []string{".html", ".htm", ".xhtml"}
}

func (e *HTMLExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	select {
	case <-ctx.Done():
		return extract.Result{}, ctx.Err()
	default:
	}

	text := htmlStripToText(job.Data)
	return extract.Result{Text: text, Method: "native", FileType: e.Name()}, nil
}

// htmlStripToText walks the parsed document collecting heading, paragraph
// and list-item text, skipping script/style and boilerplate containers.
func htmlStripToText(b []byte) string {
	node, err := html.Parse(bytes.NewReader(b))
	if err != nil {
		return string(b)
	}

	var lines []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			tag := strings.ToLower(n.Data)
			if tag == "script" || tag == "style" || tag == "nav" || tag == "footer" || tag == "aside" {
				return
			}
			if tag == "h1" || tag == "h2" || tag == "h3" || tag == "p" || tag == "li" {
				if t := strings.TrimSpace(nodeText(n)); t != "" {
					lines = append(lines, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)

	if len(lines) == 0 {
		if plain := strings.TrimSpace(nodeText(node)); plain != "" {
			lines = append(lines, plain)
		}
	}
	return strings.Join(lines, "\n")
}

func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}
