package sanitize

import "fmt"

// Kind classifies a pipeline failure so the HTTP layer can map it to a
// status code and the UI can render a targeted message.
type Kind string

const (
	KindConfiguration     Kind = "configuration"
	KindEmptyInput        Kind = "empty_input"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindFileTooLarge      Kind = "file_too_large"
	KindTypeMismatch      Kind = "type_mismatch"
	KindRemoteService     Kind = "remote_service"
	KindAnalysisFailed    Kind = "analysis_failed"
	KindAnalysisTimeout   Kind = "analysis_timeout"
	KindNoContent         Kind = "no_content"
	KindNoPIIDetected     Kind = "no_pii_detected"
	KindStorageUpload     Kind = "storage_upload"
)

// PipelineError is the single failure type the orchestrator returns. Message
// is always non-empty; Err, when set, preserves the underlying cause
// (including remote status codes and bodies) for errors.Is/As callers.
type PipelineError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func failf(kind Kind, err error, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Outcome is a completed sanitization: the artifact itself plus where both
// blobs landed. The artifact bytes belong to the caller once returned.
type Outcome struct {
	Artifact      []byte
	ArtifactName  string
	ContentType   string
	InputBlob     string
	OutputBlob    string
	EntitiesFound int
	WordCount     int
	CharCount     int
}
