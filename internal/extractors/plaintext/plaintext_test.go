package plaintext

import (
	"context"
	"strings"
	"testing"

	"github.com/toricodesthings/pii-sanitization-service/internal/extract"
)

func TestExtractNormalizesLineEndings(t *testing.T) {
	e := New()
	res, err := e.Extract(context.Background(), extract.Job{
		Data:     []byte("line one\r\nline two\r\n\n\n\n\nline three\r"),
		FileName: "notes.txt",
	})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if strings.Contains(res.Text, "\r") {
		t.Fatalf("carriage returns survived: %q", res.Text)
	}
	if strings.Contains(res.Text, "\n\n\n\n") {
		t.Fatalf("blank runs not collapsed: %q", res.Text)
	}
	if res.FileType != "text/plain" {
		t.Fatalf("unexpected file type: %q", res.FileType)
	}
}

func TestExtractStripsMarkdownFrontMatter(t *testing.T) {
	e := New()
	res, err := e.Extract(context.Background(), extract.Job{
		Data:     []byte("---\ntitle: secret\n---\n# Heading\n\nBody."),
		FileName: "doc.md",
	})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if strings.Contains(res.Text, "title: secret") {
		t.Fatalf("front matter survived: %q", res.Text)
	}
	if !strings.HasPrefix(res.Text, "# Heading") {
		t.Fatalf("unexpected text: %q", res.Text)
	}
	if res.FileType != "text/markdown" {
		t.Fatalf("unexpected file type: %q", res.FileType)
	}
}

func TestHTMLExtractStripsMarkup(t *testing.T) {
	doc := `<html><head><title>t</title><style>p{color:red}</style></head>
<body><script>alert(1)</script><h1>Report</h1><p>Contact john@example.com</p>
<ul><li>555-1234</li></ul></body></html>`

	e := NewHTML()
	res, err := e.Extract(context.Background(), extract.Job{Data: []byte(doc), FileName: "page.html"})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	for _, want := range []string{"Report", "Contact john@example.com", "555-1234"} {
		if !strings.Contains(res.Text, want) {
			t.Fatalf("missing %q in %q", want, res.Text)
		}
	}
	for _, banned := range []string{"<p>", "alert", "color:red"} {
		if strings.Contains(res.Text, banned) {
			t.Fatalf("markup leaked: %q in %q", banned, res.Text)
		}
	}
}
