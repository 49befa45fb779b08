// Package storage uploads artifacts to an object-storage account over its
// blob REST interface. Two logical containers exist: "input" holds originals
// exactly as uploaded, "output" holds sanitized artifacts.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ContainerInput receives original uploads before any processing.
	ContainerInput = "input"
	// ContainerOutput receives sanitized artifacts.
	ContainerOutput = "output"

	maxErrorBytes = 64 << 10
)

// ErrNotConfigured is returned before any network call when the storage
// endpoint or credential is missing.
var ErrNotConfigured = errors.New("storage endpoint or credential not configured")

// UploadError is a non-2xx response from the storage service.
type UploadError struct {
	Container  string
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload to %q failed %d: %s", e.Container, e.StatusCode, e.Body)
}

// Blob identifies one stored object.
type Blob struct {
	Name string `json:"blobName"`
	URL  string `json:"url"`
}

// Client uploads blobs via PUT {endpoint}/{container}/{name}?{sas} with a
// block-blob type header. Immutable after construction and safe for
// concurrent use.
type Client struct {
	endpoint string
	sasToken string
	httpc    *http.Client
	now      func() time.Time
}

// New builds a storage client. sasToken is the query credential without a
// leading question mark.
func New(endpoint, sasToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		sasToken: strings.TrimPrefix(strings.TrimSpace(sasToken), "?"),
		httpc:    &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

// Upload stores data in the given container and returns the blob identity.
// The blob name is derived from fileName but timestamp-prefixed and
// uuid-qualified, so two uploads of the same file never collide.
func (c *Client) Upload(ctx context.Context, data []byte, container, fileName, contentType string) (Blob, error) {
	if c.endpoint == "" || c.sasToken == "" {
		return Blob{}, ErrNotConfigured
	}

	name := c.blobName(fileName)
	blobURL := c.endpoint + "/" + container + "/" + url.PathEscape(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, blobURL+"?"+c.sasToken, bytes.NewReader(data))
	if err != nil {
		return Blob{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.ContentLength = int64(len(data))

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Blob{}, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return Blob{}, &UploadError{Container: container, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	return Blob{Name: name, URL: blobURL}, nil
}

func (c *Client) blobName(fileName string) string {
	stamp := c.now().UTC().Format("20060102T150405Z")
	id := uuid.NewString()[:8]
	return stamp + "-" + id + "-" + safeFileName(fileName)
}

// safeFileName keeps the base name only and replaces anything outside a
// conservative character set, so user-supplied names cannot smuggle path
// segments or header-breaking bytes into the blob URL.
func safeFileName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "upload.bin"
	}

	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
