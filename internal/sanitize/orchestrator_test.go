package sanitize

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/toricodesthings/pii-sanitization-service/internal/docintel"
	"github.com/toricodesthings/pii-sanitization-service/internal/extract"
	"github.com/toricodesthings/pii-sanitization-service/internal/extractors/plaintext"
	"github.com/toricodesthings/pii-sanitization-service/internal/pii"
	"github.com/toricodesthings/pii-sanitization-service/internal/storage"
)

type fakeRecognizer struct {
	entities []pii.Entity
	err      error
	calls    int
	lastText string
}

func (f *fakeRecognizer) Recognize(_ context.Context, text string) ([]pii.Entity, error) {
	f.calls++
	f.lastText = text
	if f.err != nil {
		return nil, f.err
	}
	return f.entities, nil
}

type fakeAnalyzer struct {
	result docintel.Result
	err    error
	calls  int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ []byte) (docintel.Result, error) {
	f.calls++
	if f.err != nil {
		return docintel.Result{}, f.err
	}
	return f.result, nil
}

type uploadCall struct {
	container   string
	fileName    string
	contentType string
	size        int
}

type fakeUploader struct {
	calls         []uploadCall
	failContainer string
	err           error
}

func (f *fakeUploader) Upload(_ context.Context, data []byte, container, fileName, contentType string) (storage.Blob, error) {
	f.calls = append(f.calls, uploadCall{container: container, fileName: fileName, contentType: contentType, size: len(data)})
	if container == f.failContainer {
		return storage.Blob{}, f.err
	}
	return storage.Blob{Name: container + "/" + fileName, URL: "https://blobs.example/" + container + "/" + fileName}, nil
}

func testRegistry() *extract.Registry {
	reg := extract.NewRegistry()
	reg.Register(plaintext.New())
	reg.Register(plaintext.NewHTML())
	return reg
}

func newTestOrchestrator(rec *fakeRecognizer, an *fakeAnalyzer, up *fakeUploader, policy Policy, maxBytes int64) *Orchestrator {
	return New(rec, an, up, testRegistry(), policy, maxBytes, nil)
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var pe *PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PipelineError, got %T: %v", err, err)
	}
	return pe.Kind
}

func phoneEntity(offset, length int) pii.Entity {
	return pii.Entity{Text: "555-1234", Category: "PhoneNumber", ConfidenceScore: 0.95, Offset: offset, Length: length}
}

func TestSanitizeTextFile(t *testing.T) {
	rec := &fakeRecognizer{entities: []pii.Entity{phoneEntity(5, 8)}}
	an := &fakeAnalyzer{}
	up := &fakeUploader{}
	o := newTestOrchestrator(rec, an, up, Policy{}, 0)

	out, err := o.Sanitize(context.Background(), []byte("Call 555-1234 now"), "note.txt")
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}

	if got := string(out.Artifact); got != "Call [PhoneNumber] now" {
		t.Errorf("artifact = %q", got)
	}
	if out.ArtifactName != "sanitized_note.txt" {
		t.Errorf("artifact name = %q", out.ArtifactName)
	}
	if out.ContentType != contentTypeText {
		t.Errorf("content type = %q", out.ContentType)
	}
	if out.EntitiesFound != 1 {
		t.Errorf("entities found = %d, want 1", out.EntitiesFound)
	}
	if out.WordCount != 3 {
		t.Errorf("word count = %d, want 3", out.WordCount)
	}
	if out.CharCount != len([]rune("Call [PhoneNumber] now")) {
		t.Errorf("char count = %d", out.CharCount)
	}
	if out.InputBlob == "" || out.OutputBlob == "" {
		t.Errorf("blob names not set: %q %q", out.InputBlob, out.OutputBlob)
	}

	if len(up.calls) != 2 {
		t.Fatalf("uploads = %d, want 2", len(up.calls))
	}
	if up.calls[0].container != storage.ContainerInput || up.calls[1].container != storage.ContainerOutput {
		t.Errorf("upload order = %q, %q", up.calls[0].container, up.calls[1].container)
	}
	if an.calls != 0 {
		t.Errorf("analyzer called %d times for a local format", an.calls)
	}
}

func TestSanitizeNoPIIStopsBeforeOutputUpload(t *testing.T) {
	rec := &fakeRecognizer{}
	up := &fakeUploader{}
	o := newTestOrchestrator(rec, &fakeAnalyzer{}, up, Policy{}, 0)

	_, err := o.Sanitize(context.Background(), []byte("nothing sensitive here"), "note.txt")
	if got := kindOf(t, err); got != KindNoPIIDetected {
		t.Fatalf("kind = %q, want %q", got, KindNoPIIDetected)
	}
	if len(up.calls) != 1 {
		t.Fatalf("uploads = %d, want input only", len(up.calls))
	}
	if up.calls[0].container != storage.ContainerInput {
		t.Errorf("upload container = %q", up.calls[0].container)
	}
}

func TestSanitizeNoPIIPassPolicy(t *testing.T) {
	rec := &fakeRecognizer{}
	up := &fakeUploader{}
	o := newTestOrchestrator(rec, &fakeAnalyzer{}, up, Policy{OnNoPII: "pass"}, 0)

	out, err := o.Sanitize(context.Background(), []byte("nothing sensitive here"), "note.txt")
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if out.EntitiesFound != 0 {
		t.Errorf("entities found = %d", out.EntitiesFound)
	}
	if string(out.Artifact) != "nothing sensitive here" {
		t.Errorf("artifact = %q", out.Artifact)
	}
	if len(up.calls) != 2 {
		t.Errorf("uploads = %d, want 2", len(up.calls))
	}
}

func TestSanitizeMinConfidenceFilter(t *testing.T) {
	low := pii.Entity{Text: "maybe", Category: "Person", ConfidenceScore: 0.3, Offset: 0, Length: 5}
	rec := &fakeRecognizer{entities: []pii.Entity{low}}
	o := newTestOrchestrator(rec, &fakeAnalyzer{}, &fakeUploader{}, Policy{MinConfidence: 0.8}, 0)

	_, err := o.Sanitize(context.Background(), []byte("maybe a name"), "note.txt")
	if got := kindOf(t, err); got != KindNoPIIDetected {
		t.Fatalf("kind = %q, want %q", got, KindNoPIIDetected)
	}
}

func TestSanitizeInputUploadFailureSkipsAnalysis(t *testing.T) {
	rec := &fakeRecognizer{}
	an := &fakeAnalyzer{result: docintel.Result{Content: "some text"}}
	up := &fakeUploader{failContainer: storage.ContainerInput, err: errors.New("503 from storage")}
	o := newTestOrchestrator(rec, an, up, Policy{}, 0)

	_, err := o.Sanitize(context.Background(), []byte("%PDF-1.4 fake"), "scan.pdf")
	if got := kindOf(t, err); got != KindStorageUpload {
		t.Fatalf("kind = %q, want %q", got, KindStorageUpload)
	}
	if an.calls != 0 {
		t.Errorf("analyzer called %d times after failed input upload", an.calls)
	}
	if rec.calls != 0 {
		t.Errorf("recognizer called %d times after failed input upload", rec.calls)
	}
}

func TestSanitizeOutputUploadFailure(t *testing.T) {
	rec := &fakeRecognizer{entities: []pii.Entity{phoneEntity(5, 8)}}
	up := &fakeUploader{failContainer: storage.ContainerOutput, err: errors.New("403 from storage")}
	o := newTestOrchestrator(rec, &fakeAnalyzer{}, up, Policy{}, 0)

	_, err := o.Sanitize(context.Background(), []byte("Call 555-1234 now"), "note.txt")
	if got := kindOf(t, err); got != KindStorageUpload {
		t.Fatalf("kind = %q, want %q", got, KindStorageUpload)
	}
	if len(up.calls) != 2 {
		t.Errorf("uploads = %d, want 2", len(up.calls))
	}
}

func TestSanitizeSizeLimit(t *testing.T) {
	const limit = 64
	rec := &fakeRecognizer{entities: []pii.Entity{phoneEntity(0, 8)}}

	t.Run("at limit accepted", func(t *testing.T) {
		up := &fakeUploader{}
		o := newTestOrchestrator(rec, &fakeAnalyzer{}, up, Policy{}, limit)
		data := append([]byte("555-1234"), bytes.Repeat([]byte{'a'}, limit-8)...)
		if _, err := o.Sanitize(context.Background(), data, "note.txt"); err != nil {
			t.Fatalf("file at exact limit rejected: %v", err)
		}
	})

	t.Run("over limit rejected", func(t *testing.T) {
		up := &fakeUploader{}
		o := newTestOrchestrator(rec, &fakeAnalyzer{}, up, Policy{}, limit)
		data := bytes.Repeat([]byte{'a'}, limit+1)
		_, err := o.Sanitize(context.Background(), data, "note.txt")
		if got := kindOf(t, err); got != KindFileTooLarge {
			t.Fatalf("kind = %q, want %q", got, KindFileTooLarge)
		}
		if len(up.calls) != 0 {
			t.Errorf("uploads = %d before validation passed", len(up.calls))
		}
	})
}

func TestSanitizeValidationFailures(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		fileName string
		want     Kind
	}{
		{"empty file", nil, "note.txt", KindEmptyInput},
		{"unsupported extension", []byte("MZ\x90\x00"), "tool.exe", KindUnsupportedFormat},
		{"no extension", []byte("hello"), "README", KindUnsupportedFormat},
		{"pdf bytes claiming txt", []byte("%PDF-1.4\nstream"), "note.txt", KindTypeMismatch},
		{"text bytes claiming pdf", []byte("just some text"), "scan.pdf", KindTypeMismatch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			up := &fakeUploader{}
			o := newTestOrchestrator(&fakeRecognizer{}, &fakeAnalyzer{}, up, Policy{}, 0)
			_, err := o.Sanitize(context.Background(), tc.data, tc.fileName)
			if got := kindOf(t, err); got != tc.want {
				t.Fatalf("kind = %q, want %q", got, tc.want)
			}
			if len(up.calls) != 0 {
				t.Errorf("uploads = %d before validation passed", len(up.calls))
			}
		})
	}
}

func TestSanitizeDOCXArtifact(t *testing.T) {
	source, err := buildDOCX("placeholder body")
	if err != nil {
		t.Fatalf("buildDOCX: %v", err)
	}

	rec := &fakeRecognizer{entities: []pii.Entity{phoneEntity(5, 8)}}
	an := &fakeAnalyzer{result: docintel.Result{Content: "Call 555-1234 now", Pages: 1}}
	up := &fakeUploader{}
	o := newTestOrchestrator(rec, an, up, Policy{}, 0)

	out, err := o.Sanitize(context.Background(), source, "report.docx")
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	if an.calls != 1 {
		t.Errorf("analyzer calls = %d, want 1", an.calls)
	}
	if out.ArtifactName != "sanitized_report.docx" {
		t.Errorf("artifact name = %q", out.ArtifactName)
	}
	if out.ContentType != contentTypeDOCX {
		t.Errorf("content type = %q", out.ContentType)
	}

	doc := readDOCXDocument(t, out.Artifact)
	if !strings.Contains(doc, "[PhoneNumber]") {
		t.Errorf("document.xml missing redaction label: %s", doc)
	}
	if strings.Contains(doc, "555-1234") {
		t.Errorf("document.xml still contains the original value")
	}
}

func TestSanitizeAnalysisErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"timeout", docintel.ErrTimedOut, KindAnalysisTimeout},
		{"analysis failed", &docintel.AnalysisError{Code: "InvalidContent", Message: "corrupt"}, KindAnalysisFailed},
		{"not configured", docintel.ErrNotConfigured, KindConfiguration},
		{"service error", &docintel.ServiceError{Op: "submit", StatusCode: 500}, KindRemoteService},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			an := &fakeAnalyzer{err: tc.err}
			o := newTestOrchestrator(&fakeRecognizer{}, an, &fakeUploader{}, Policy{}, 0)
			_, err := o.Sanitize(context.Background(), []byte("%PDF-1.4\nfake"), "scan.pdf")
			if got := kindOf(t, err); got != tc.want {
				t.Fatalf("kind = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSanitizeEmptyExtraction(t *testing.T) {
	an := &fakeAnalyzer{result: docintel.Result{Content: "  \n\t "}}
	rec := &fakeRecognizer{}
	o := newTestOrchestrator(rec, an, &fakeUploader{}, Policy{}, 0)

	_, err := o.Sanitize(context.Background(), []byte("%PDF-1.4\nfake"), "scan.pdf")
	if got := kindOf(t, err); got != KindNoContent {
		t.Fatalf("kind = %q, want %q", got, KindNoContent)
	}
	if rec.calls != 0 {
		t.Errorf("recognizer called with empty content")
	}
}

func TestSanitizeRecognitionErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not configured", pii.ErrNotConfigured, KindConfiguration},
		{"rate limited", &pii.APIError{StatusCode: 429, Body: "throttled"}, KindRemoteService},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := &fakeRecognizer{err: tc.err}
			o := newTestOrchestrator(rec, &fakeAnalyzer{}, &fakeUploader{}, Policy{}, 0)
			_, err := o.Sanitize(context.Background(), []byte("Call 555-1234 now"), "note.txt")
			if got := kindOf(t, err); got != tc.want {
				t.Fatalf("kind = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRecognizeText(t *testing.T) {
	rec := &fakeRecognizer{entities: []pii.Entity{phoneEntity(5, 8)}}
	o := newTestOrchestrator(rec, &fakeAnalyzer{}, &fakeUploader{}, Policy{}, 0)

	redacted, entities, err := o.RecognizeText(context.Background(), "Call 555-1234 now")
	if err != nil {
		t.Fatalf("RecognizeText: %v", err)
	}
	if redacted != "Call [PhoneNumber] now" {
		t.Errorf("redacted = %q", redacted)
	}
	if len(entities) != 1 {
		t.Errorf("entities = %d, want 1", len(entities))
	}
}

func TestRecognizeTextZeroEntitiesIsSuccess(t *testing.T) {
	o := newTestOrchestrator(&fakeRecognizer{}, &fakeAnalyzer{}, &fakeUploader{}, Policy{}, 0)

	redacted, entities, err := o.RecognizeText(context.Background(), "nothing here")
	if err != nil {
		t.Fatalf("RecognizeText: %v", err)
	}
	if redacted != "nothing here" || len(entities) != 0 {
		t.Errorf("got %q with %d entities", redacted, len(entities))
	}
}

func readDOCXDocument(t *testing.T, artifact []byte) string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(artifact), int64(len(artifact)))
	if err != nil {
		t.Fatalf("artifact is not a zip: %v", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open document.xml: %v", err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			t.Fatalf("read document.xml: %v", err)
		}
		return string(b)
	}
	t.Fatalf("word/document.xml missing from artifact")
	return ""
}
