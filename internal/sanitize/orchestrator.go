// Package sanitize composes document analysis, entity recognition, text
// redaction and artifact upload into one end-to-end pipeline. The pipeline
// is strictly linear: the first failing step short-circuits the rest, each
// external call is attempted exactly once, and an input blob that was
// already persisted is left in place when a later step fails.
package sanitize

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/toricodesthings/pii-sanitization-service/internal/docintel"
	"github.com/toricodesthings/pii-sanitization-service/internal/extract"
	"github.com/toricodesthings/pii-sanitization-service/internal/pii"
	"github.com/toricodesthings/pii-sanitization-service/internal/storage"
)

// DefaultMaxUploadBytes caps uploads at 10 MiB.
const DefaultMaxUploadBytes = 10 << 20

// Recognizer detects PII spans in plain text.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]pii.Entity, error)
}

// Analyzer extracts text from a binary document via the remote
// long-running analysis job.
type Analyzer interface {
	Analyze(ctx context.Context, file []byte) (docintel.Result, error)
}

// Uploader persists blobs to the storage collaborator.
type Uploader interface {
	Upload(ctx context.Context, data []byte, container, fileName, contentType string) (storage.Blob, error)
}

// Policy holds the tunable redaction behavior loaded from the policy file.
type Policy struct {
	// MinConfidence drops entities scoring below it before redaction.
	MinConfidence float64
	// OnNoPII decides what zero detected entities means: "fail" surfaces
	// a no-PII error and skips the output upload, "pass" returns the
	// extracted text as a successful empty redaction.
	OnNoPII string
}

// PassOnNoPII reports whether zero entities is treated as success.
func (p Policy) PassOnNoPII() bool { return strings.EqualFold(p.OnNoPII, "pass") }

// Orchestrator wires the pipeline collaborators together. Constructed once
// at startup; safe for concurrent use.
type Orchestrator struct {
	recognizer Recognizer
	analyzer   Analyzer
	uploader   Uploader
	local      *extract.Registry
	policy     Policy
	maxBytes   int64
	log        *slog.Logger
}

func New(recognizer Recognizer, analyzer Analyzer, uploader Uploader, local *extract.Registry, policy Policy, maxBytes int64, log *slog.Logger) *Orchestrator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		recognizer: recognizer,
		analyzer:   analyzer,
		uploader:   uploader,
		local:      local,
		policy:     policy,
		maxBytes:   maxBytes,
		log:        log,
	}
}

// remoteFormats are routed through the document-analysis job. The value is
// the MIME prefix the sniffed content must match; text formats are resolved
// against the local registry instead and checked with a text/ prefix.
var remoteFormats = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// localFormatMIME guards local formats whose magic bytes are reliably
// detectable. Plain text and markdown sniff as generic text and are accepted
// with a text/ prefix check.
var localFormatMIME = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".html": "text/",
	".htm":  "text/",
}

// RecognizeText runs detection and redaction on pasted text, for the
// direct-text API path that bypasses document analysis. Zero entities is a
// successful empty redaction here; the document pipeline applies the no-PII
// policy separately.
func (o *Orchestrator) RecognizeText(ctx context.Context, text string) (string, []pii.Entity, error) {
	entities, err := o.recognizer.Recognize(ctx, text)
	if err != nil {
		return "", nil, classifyRecognitionErr(err)
	}
	entities = pii.FilterConfidence(entities, o.policy.MinConfidence)
	return pii.Redact(text, entities), entities, nil
}

// Sanitize runs the full pipeline on one uploaded file.
func (o *Orchestrator) Sanitize(ctx context.Context, data []byte, fileName string) (*Outcome, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	if err := o.validate(data, ext); err != nil {
		return nil, err
	}

	inputBlob, err := o.uploader.Upload(ctx, data, storage.ContainerInput, fileName, sniffMIME(data))
	if err != nil {
		return nil, classifyUploadErr(err, storage.ContainerInput)
	}
	o.log.Info("sanitize: original persisted", "blob", inputBlob.Name, "bytes", len(data))

	content, err := o.extractText(ctx, data, fileName, ext)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, failf(KindNoContent, nil, "document contains no extractable text")
	}

	entities, err := o.recognizer.Recognize(ctx, content)
	if err != nil {
		return nil, classifyRecognitionErr(err)
	}
	entities = pii.FilterConfidence(entities, o.policy.MinConfidence)
	if len(entities) == 0 && !o.policy.PassOnNoPII() {
		return nil, failf(KindNoPIIDetected, nil, "no PII detected in document")
	}
	o.log.Info("sanitize: entities detected", "count", len(entities))

	redacted := pii.Redact(content, entities)

	artifact, artifactName, contentType, err := o.buildArtifact(redacted, fileName, ext)
	if err != nil {
		return nil, err
	}

	outputBlob, err := o.uploader.Upload(ctx, artifact, storage.ContainerOutput, artifactName, contentType)
	if err != nil {
		return nil, classifyUploadErr(err, storage.ContainerOutput)
	}
	o.log.Info("sanitize: artifact persisted", "blob", outputBlob.Name, "entities", len(entities))

	words, chars := extract.BuildCounts(redacted)
	return &Outcome{
		Artifact:      artifact,
		ArtifactName:  artifactName,
		ContentType:   contentType,
		InputBlob:     inputBlob.Name,
		OutputBlob:    outputBlob.Name,
		EntitiesFound: len(entities),
		WordCount:     words,
		CharCount:     chars,
	}, nil
}

func (o *Orchestrator) validate(data []byte, ext string) error {
	if len(data) == 0 {
		return failf(KindEmptyInput, nil, "uploaded file is empty")
	}

	_, remote := remoteFormats[ext]
	if !remote && !o.local.Supports(ext) {
		return failf(KindUnsupportedFormat, nil, "unsupported file type %q", ext)
	}
	if int64(len(data)) > o.maxBytes {
		return failf(KindFileTooLarge, nil, "file exceeds %d MiB limit", o.maxBytes/(1<<20))
	}

	// Content must match the claimed extension, not just carry it.
	want := remoteFormats[ext]
	if !remote {
		want = localFormatMIME[ext] // empty for plain text formats: any text/ sniff is fine
		if want == "" {
			want = "text/"
		}
	}
	if got := sniffMIME(data); !strings.HasPrefix(got, want) {
		return failf(KindTypeMismatch, nil, "file content (%s) does not match extension %q", got, ext)
	}
	return nil
}

func (o *Orchestrator) extractText(ctx context.Context, data []byte, fileName, ext string) (string, error) {
	if _, remote := remoteFormats[ext]; remote {
		res, err := o.analyzer.Analyze(ctx, data)
		if err != nil {
			return "", classifyAnalysisErr(err)
		}
		o.log.Info("sanitize: analysis complete", "pages", res.Pages, "chars", len(res.Content))
		return res.Content, nil
	}

	extractor, err := o.local.Resolve(sniffMIME(data), ext)
	if err != nil {
		return "", failf(KindUnsupportedFormat, err, "no extractor for %q", ext)
	}
	res, err := extractor.Extract(ctx, extract.Job{Data: data, FileName: fileName, MIMEType: sniffMIME(data)})
	if err != nil {
		return "", failf(KindNoContent, err, "text extraction failed: %v", err)
	}
	return res.Text, nil
}

// buildArtifact emits a structured document only for word-processing
// sources; everything else (including scanned PDFs, whose output is
// necessarily reflowed) becomes a plain-text artifact.
func (o *Orchestrator) buildArtifact(redacted, fileName, ext string) ([]byte, string, string, error) {
	if ext == ".docx" {
		artifact, err := buildDOCX(redacted)
		if err != nil {
			return nil, "", "", failf(KindNoContent, err, "build output document: %v", err)
		}
		return artifact, artifactFileName(fileName, ".docx"), contentTypeDOCX, nil
	}
	return []byte(redacted), artifactFileName(fileName, ".txt"), contentTypeText, nil
}

func sniffMIME(data []byte) string {
	return strings.ToLower(strings.TrimSpace(mimetype.Detect(data).String()))
}

func classifyRecognitionErr(err error) *PipelineError {
	switch {
	case errors.Is(err, pii.ErrNotConfigured):
		return failf(KindConfiguration, err, "%v", err)
	case errors.Is(err, pii.ErrEmptyInput):
		return failf(KindEmptyInput, err, "%v", err)
	}
	return failf(KindRemoteService, err, "entity recognition failed: %v", err)
}

func classifyAnalysisErr(err error) *PipelineError {
	var analysisErr *docintel.AnalysisError
	switch {
	case errors.Is(err, docintel.ErrNotConfigured):
		return failf(KindConfiguration, err, "%v", err)
	case errors.Is(err, docintel.ErrTimedOut):
		return failf(KindAnalysisTimeout, err, "%v; try a smaller file", err)
	case errors.As(err, &analysisErr):
		return failf(KindAnalysisFailed, err, "%v", err)
	}
	return failf(KindRemoteService, err, "document analysis failed: %v", err)
}

func classifyUploadErr(err error, container string) *PipelineError {
	if errors.Is(err, storage.ErrNotConfigured) {
		return failf(KindConfiguration, err, "%v", err)
	}
	return failf(KindStorageUpload, err, "persisting to %q failed: %v", container, err)
}
