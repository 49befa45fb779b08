// Package docintel submits binary documents (PDF, DOCX, scanned images) to a
// remote long-running document-analysis job and polls the returned operation
// handle until the job settles. It owns request construction and status
// interpretation only; text understanding happens service-side.
package docintel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	analyzePath = "/documentModels/prebuilt-read:analyze"
	apiVersion  = "2024-11-30"

	defaultPollInterval = time.Second
	defaultMaxPolls     = 60

	maxResponseBytes = 64 << 20
	maxErrorBytes    = 64 << 10
)

var (
	// ErrNotConfigured is returned before any network call when the
	// endpoint or subscription key is missing.
	ErrNotConfigured = errors.New("document analysis endpoint or key not configured")

	// ErrMissingOperation is returned when the start call succeeds but the
	// response carries no Operation-Location header to poll.
	ErrMissingOperation = errors.New("analyze accepted but no operation handle returned")

	// ErrTimedOut is returned when the poll ceiling is reached while the
	// job still reports running.
	ErrTimedOut = errors.New("analysis did not complete within the polling ceiling")
)

// ServiceError is a non-2xx response from either the submit call or a poll.
type ServiceError struct {
	Op         string // "submit" or "poll"
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("document analysis %s %d: %s", e.Op, e.StatusCode, e.Body)
}

// AnalysisError is a job that the service itself reports as failed.
type AnalysisError struct {
	Code    string
	Message string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed (%s): %s", e.Code, e.Message)
}

// Result is the payload of a completed analysis. Content is the full
// extracted text in reading order as provided by the service.
type Result struct {
	Content string
	Pages   int
	ModelID string
}

// Client runs the submit-then-poll protocol against the document-analysis
// endpoint. Immutable after construction and safe for concurrent use.
type Client struct {
	endpoint     string
	key          string
	httpc        *http.Client
	pollInterval time.Duration
	maxPolls     int
}

// New builds an analysis client. pollInterval and maxPolls fall back to the
// service defaults (1s, 60) when zero or negative; tests set a zero-ish
// interval explicitly via NewWithPolling to run poll sequences without
// real delays.
func New(endpoint, key string, timeout time.Duration) *Client {
	return NewWithPolling(endpoint, key, timeout, defaultPollInterval, defaultMaxPolls)
}

// NewWithPolling is New with an explicit poll interval and attempt ceiling.
func NewWithPolling(endpoint, key string, timeout, pollInterval time.Duration, maxPolls int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if pollInterval < 0 {
		pollInterval = defaultPollInterval
	}
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}
	return &Client{
		endpoint:     strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		key:          strings.TrimSpace(key),
		httpc:        &http.Client{Timeout: timeout},
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
	}
}

type analyzeRequest struct {
	Base64Source string `json:"base64Source"`
}

type operationStatus struct {
	Status        string `json:"status"`
	AnalyzeResult struct {
		ModelID string `json:"modelId"`
		Content string `json:"content"`
		Pages   []struct {
			PageNumber int `json:"pageNumber"`
		} `json:"pages"`
	} `json:"analyzeResult"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze submits the document and polls the operation handle until the job
// succeeds, fails, or the attempt ceiling is exhausted. Cancelling ctx
// aborts the in-flight request and the poll loop; the operation handle is
// simply discarded.
func (c *Client) Analyze(ctx context.Context, file []byte) (Result, error) {
	if c.endpoint == "" || c.key == "" {
		return Result{}, ErrNotConfigured
	}

	opURL, err := c.submit(ctx, file)
	if err != nil {
		return Result{}, err
	}

	for attempt := 0; attempt < c.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		status, err := c.poll(ctx, opURL)
		if err != nil {
			return Result{}, err
		}

		switch status.Status {
		case "succeeded":
			pages := len(status.AnalyzeResult.Pages)
			return Result{
				Content: status.AnalyzeResult.Content,
				Pages:   pages,
				ModelID: status.AnalyzeResult.ModelID,
			}, nil
		case "failed":
			return Result{}, &AnalysisError{Code: status.Error.Code, Message: status.Error.Message}
		case "running", "notStarted", "":
			// Keep polling.
		default:
			return Result{}, fmt.Errorf("unexpected analysis status %q", status.Status)
		}
	}

	return Result{}, ErrTimedOut
}

func (c *Client) submit(ctx context.Context, file []byte) (string, error) {
	body, err := json.Marshal(analyzeRequest{
		Base64Source: base64.StdEncoding.EncodeToString(file),
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	url := c.endpoint + analyzePath + "?api-version=" + apiVersion
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return "", &ServiceError{Op: "submit", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	opURL := strings.TrimSpace(resp.Header.Get("Operation-Location"))
	if opURL == "" {
		return "", ErrMissingOperation
	}
	return opURL, nil
}

func (c *Client) poll(ctx context.Context, opURL string) (operationStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
	if err != nil {
		return operationStatus{}, fmt.Errorf("create poll request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return operationStatus{}, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return operationStatus{}, &ServiceError{Op: "poll", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var status operationStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&status); err != nil {
		return operationStatus{}, fmt.Errorf("decode poll response: %w", err)
	}
	return status, nil
}
