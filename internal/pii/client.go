// Package pii detects and redacts personally identifiable information in
// plain text. Detection is delegated to a remote entity-recognition service;
// this package owns request construction, response interpretation, and the
// offset-based replacement of detected spans.
package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	analyzeTextPath = "/language/:analyze-text"
	apiVersion      = "2023-04-01"

	maxResponseBytes = 16 << 20
	maxErrorBytes    = 64 << 10
)

var (
	// ErrNotConfigured is returned before any network call when the
	// endpoint or subscription key is missing.
	ErrNotConfigured = errors.New("language endpoint or key not configured")

	// ErrEmptyInput is returned when the text is empty after trimming.
	ErrEmptyInput = errors.New("text is empty")

	// ErrMalformedResponse is returned when the service response lacks
	// the expected document result.
	ErrMalformedResponse = errors.New("response missing document result")
)

// APIError is a non-2xx response from the language service. The raw body is
// kept so callers can render a useful message.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("language service %d: %s", e.StatusCode, e.Body)
}

// DocumentError is a per-document processing error reported inside an
// otherwise successful response.
type DocumentError struct {
	Code    string
	Message string
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document rejected by language service (%s): %s", e.Code, e.Message)
}

// Client calls the remote PII entity-recognition endpoint. Immutable after
// construction and safe for concurrent use.
type Client struct {
	endpoint   string
	key        string
	language   string
	categories []string
	httpc      *http.Client
}

// NewClient builds a recognition client. language defaults to "en" and
// categories, when non-empty, restricts which PII categories the service
// reports.
func NewClient(endpoint, key, language string, categories []string, timeout time.Duration) *Client {
	if language == "" {
		language = "en"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		key:        strings.TrimSpace(key),
		language:   language,
		categories: categories,
		httpc:      &http.Client{Timeout: timeout},
	}
}

type analyzeTextRequest struct {
	Kind          string        `json:"kind"`
	Parameters    analyzeParams `json:"parameters"`
	AnalysisInput analysisInput `json:"analysisInput"`
}

type analyzeParams struct {
	ModelVersion  string   `json:"modelVersion"`
	Domain        string   `json:"domain"`
	PiiCategories []string `json:"piiCategories"`
}

type analysisInput struct {
	Documents []inputDocument `json:"documents"`
}

type inputDocument struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

type analyzeTextResponse struct {
	Results struct {
		Documents []resultDocument `json:"documents"`
	} `json:"results"`
}

type resultDocument struct {
	ID       string   `json:"id"`
	Entities []Entity `json:"entities"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Recognize sends text to the entity-recognition endpoint and returns the
// detected PII spans. Zero entities with a nil error means the service found
// no PII; the caller decides whether that is a failure.
func (c *Client) Recognize(ctx context.Context, text string) ([]Entity, error) {
	if c.endpoint == "" || c.key == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	categories := c.categories
	if categories == nil {
		categories = []string{}
	}
	body, err := json.Marshal(analyzeTextRequest{
		Kind: "PiiEntityRecognition",
		Parameters: analyzeParams{
			ModelVersion:  "latest",
			Domain:        "none",
			PiiCategories: categories,
		},
		AnalysisInput: analysisInput{
			Documents: []inputDocument{{ID: "1", Language: c.language, Text: text}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	url := c.endpoint + analyzeTextPath + "?api-version=" + apiVersion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var result analyzeTextResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(result.Results.Documents) == 0 {
		return nil, ErrMalformedResponse
	}

	doc := result.Results.Documents[0]
	if doc.Error != nil {
		return nil, &DocumentError{Code: doc.Error.Code, Message: doc.Error.Message}
	}
	return doc.Entities, nil
}
