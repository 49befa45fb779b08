package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/toricodesthings/pii-sanitization-service/internal/config"
	"github.com/toricodesthings/pii-sanitization-service/internal/docintel"
	"github.com/toricodesthings/pii-sanitization-service/internal/extract"
	officeextractor "github.com/toricodesthings/pii-sanitization-service/internal/extractors/office"
	plaintextextractor "github.com/toricodesthings/pii-sanitization-service/internal/extractors/plaintext"
	structuredextractor "github.com/toricodesthings/pii-sanitization-service/internal/extractors/structured"
	"github.com/toricodesthings/pii-sanitization-service/internal/pii"
	"github.com/toricodesthings/pii-sanitization-service/internal/sanitize"
	"github.com/toricodesthings/pii-sanitization-service/internal/storage"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	cfg config.Config

	requestSem *semaphore.Weighted
	orch       *sanitize.Orchestrator

	// Per-IP rate limiters
	limiters = &sync.Map{}

	metrics = &serverMetrics{}
)

type serverMetrics struct {
	mu             sync.RWMutex
	totalRequests  int64
	activeReqs     int64
	sanitizedDocs  int64
	entitiesFound  int64
	failuresByKind map[sanitize.Kind]int64
}

func (m *serverMetrics) incActive() {
	m.mu.Lock()
	m.activeReqs++
	m.totalRequests++
	m.mu.Unlock()
}
func (m *serverMetrics) decActive() {
	m.mu.Lock()
	m.activeReqs--
	m.mu.Unlock()
}
func (m *serverMetrics) recordOutcome(entities int) {
	m.mu.Lock()
	m.sanitizedDocs++
	m.entitiesFound += int64(entities)
	m.mu.Unlock()
}
func (m *serverMetrics) recordFailure(kind sanitize.Kind) {
	m.mu.Lock()
	if m.failuresByKind == nil {
		m.failuresByKind = make(map[sanitize.Kind]int64)
	}
	m.failuresByKind[kind]++
	m.mu.Unlock()
}
func (m *serverMetrics) get() (total, active int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRequests, m.activeReqs
}
func (m *serverMetrics) snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	failures := make(map[string]int64, len(m.failuresByKind))
	for k, v := range m.failuresByKind {
		failures[string(k)] = v
	}
	return map[string]any{
		"activeRequests": m.activeReqs,
		"totalRequests":  m.totalRequests,
		"sanitizedDocs":  m.sanitizedDocs,
		"entitiesFound":  m.entitiesFound,
		"failures":       failures,
	}
}

func main() {
	cfg = config.Load()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		panic(err)
	}

	requestSem = semaphore.NewWeighted(cfg.MaxConcurrentRequests)

	registry := extract.NewRegistry()
	registry.Register(plaintextextractor.New())
	registry.Register(plaintextextractor.NewHTML())
	registry.Register(structuredextractor.NewCSV())
	registry.Register(officeextractor.NewXLSX())

	recognizer := pii.NewClient(cfg.LanguageEndpoint, cfg.LanguageKey, policy.Language, policy.PIICategories, cfg.RecognizeTimeout)
	analyzer := docintel.NewWithPolling(cfg.DocIntelEndpoint, cfg.DocIntelKey, cfg.AnalyzeTimeout, cfg.PollInterval, cfg.MaxPollAttempts)
	uploader := storage.New(cfg.StorageEndpoint, cfg.StorageSASToken, cfg.UploadTimeout)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	orch = sanitize.New(recognizer, analyzer, uploader, registry,
		sanitize.Policy{MinConfidence: policy.MinConfidence, OnNoPII: policy.OnNoPII},
		cfg.MaxUploadBytes, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/metrics", withInternalAuth(handleMetrics))

	// Direct text path — recognition and redaction without document analysis
	mux.HandleFunc("/recognize",
		withInternalAuth(
			withRateLimit(
				withMethod("POST",
					withConcurrencyLimit(handleRecognize)))))

	// Full pipeline — upload, analyze, redact, persist artifact
	mux.HandleFunc("/sanitize",
		withInternalAuth(
			withRateLimit(
				withMethod("POST",
					withConcurrencyLimit(handleSanitize)))))

	maxHeaderBytes := 1 << 20
	if cfg.MaxHeaderBytes > 0 {
		maxHeaderBytes = cfg.MaxHeaderBytes
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           withLogging(withRecovery(mux)),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}

	if strings.TrimSpace(cfg.LanguageKey) == "" {
		fmt.Fprintln(os.Stderr, "warning: AZURE_LANGUAGE_KEY not set (entity recognition will fail)")
	}
	if strings.TrimSpace(cfg.DocIntelKey) == "" {
		fmt.Fprintln(os.Stderr, "warning: AZURE_DOCINTEL_KEY not set (PDF/image analysis will fail)")
	}
	if strings.TrimSpace(cfg.StorageSASToken) == "" {
		fmt.Fprintln(os.Stderr, "warning: STORAGE_SAS_TOKEN not set (blob persistence will fail)")
	}

	fmt.Printf("piisan listening on %s (max concurrent: %d)\n", srv.Addr, cfg.MaxConcurrentRequests)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
}

// ---------- Handlers ----------

func handleHealth(w http.ResponseWriter, r *http.Request) {
	_, active := metrics.get()
	status := "healthy"
	code := http.StatusOK

	ratio := cfg.HealthDegradeRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.9
	}

	if active >= int64(float64(cfg.MaxConcurrentRequests)*ratio) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"active":  active,
		"version": "1.0.0",
	})
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	snap := metrics.snapshot()
	snap["goroutines"] = runtime.NumGoroutine()
	snap["memAllocMB"] = m.Alloc / (1 << 20)
	snap["memSysMB"] = m.Sys / (1 << 20)

	writeJSON(w, http.StatusOK, snap)
}

type recognizeRequest struct {
	Text string `json:"text"`
}

type recognizeResponse struct {
	Success      bool         `json:"success"`
	RedactedText string       `json:"redactedText"`
	Entities     []pii.Entity `json:"entities"`
	EntityCount  int          `json:"entityCount"`
}

func handleRecognize(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[recognizeRequest](r, cfg.MaxJSONBodyBytes)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}

	if strings.TrimSpace(req.Text) == "" {
		writeErr(w, http.StatusBadRequest, "validation_failed", "text required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), cfg.RecognizeTimeout)
	defer cancel()

	redacted, entities, err := orch.RecognizeText(ctx, req.Text)
	if err != nil {
		writePipelineErr(w, err)
		return
	}

	if entities == nil {
		entities = []pii.Entity{}
	}
	writeJSON(w, http.StatusOK, recognizeResponse{
		Success:      true,
		RedactedText: redacted,
		Entities:     entities,
		EntityCount:  len(entities),
	})
}

type sanitizeResponse struct {
	Success       bool   `json:"success"`
	InputBlob     string `json:"inputBlob"`
	OutputBlob    string `json:"outputBlob"`
	ArtifactName  string `json:"artifactName"`
	ContentType   string `json:"contentType"`
	EntitiesFound int    `json:"entitiesFound"`
	WordCount     int    `json:"wordCount"`
	CharCount     int    `json:"charCount"`
	Artifact      []byte `json:"artifact"` // base64 in JSON
}

func handleSanitize(w http.ResponseWriter, r *http.Request) {
	data, fileName, err := readUpload(w, r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}

	out, err := orch.Sanitize(r.Context(), data, fileName)
	if err != nil {
		writePipelineErr(w, err)
		return
	}
	metrics.recordOutcome(out.EntitiesFound)

	if wantsDownload(r) {
		w.Header().Set("Content-Type", out.ContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+out.ArtifactName+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(out.Artifact)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out.Artifact)
		return
	}

	writeJSON(w, http.StatusOK, sanitizeResponse{
		Success:       true,
		InputBlob:     out.InputBlob,
		OutputBlob:    out.OutputBlob,
		ArtifactName:  out.ArtifactName,
		ContentType:   out.ContentType,
		EntitiesFound: out.EntitiesFound,
		WordCount:     out.WordCount,
		CharCount:     out.CharCount,
		Artifact:      out.Artifact,
	})
}

// readUpload pulls the "file" part out of the multipart form. The reader is
// capped slightly above the upload limit so the pipeline, not the HTTP
// layer, owns the exact size verdict and its error shape.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	const formOverhead = 1 << 20

	r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+formOverhead)
	if err := r.ParseMultipartForm(cfg.MaxUploadBytes + formOverhead); err != nil {
		return nil, "", fmt.Errorf("parse multipart form: %w", err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("form field %q required: %w", "file", err)
	}
	defer file.Close()

	data, err := readAllPart(file)
	if err != nil {
		return nil, "", err
	}
	return data, header.Filename, nil
}

func readAllPart(file multipart.File) ([]byte, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

func wantsDownload(r *http.Request) bool {
	v := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("download")))
	return v == "1" || v == "true"
}

func writePipelineErr(w http.ResponseWriter, err error) {
	var pe *sanitize.PipelineError
	if !errors.As(err, &pe) {
		writeErr(w, http.StatusInternalServerError, "internal_error", sanitizeError(err))
		return
	}
	metrics.recordFailure(pe.Kind)
	writeErr(w, kindToStatus(pe.Kind), string(pe.Kind), pe.Message)
}

func kindToStatus(kind sanitize.Kind) int {
	switch kind {
	case sanitize.KindEmptyInput, sanitize.KindTypeMismatch:
		return http.StatusBadRequest
	case sanitize.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case sanitize.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case sanitize.KindNoContent, sanitize.KindNoPIIDetected:
		return http.StatusUnprocessableEntity
	case sanitize.KindAnalysisTimeout:
		return http.StatusGatewayTimeout
	case sanitize.KindRemoteService, sanitize.KindAnalysisFailed, sanitize.KindStorageUpload:
		return http.StatusBadGateway
	case sanitize.KindConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ---------- Middleware ----------

func withMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method must be "+method)
			return
		}
		next(w, r)
	}
}

func withInternalAuth(next http.HandlerFunc) http.HandlerFunc {
	shared := cfg.InternalSharedSecret
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Internal-Auth")
		if subtle.ConstantTimeCompare([]byte(got), []byte(shared)) != 1 {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "Invalid authentication")
			return
		}
		next(w, r)
	}
}

func withConcurrencyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requestSem.Acquire(r.Context(), 1); err != nil {
			writeErr(w, http.StatusServiceUnavailable, "capacity", "Service at capacity")
			return
		}
		defer requestSem.Release(1)

		metrics.incActive()
		defer metrics.decActive()

		next(w, r)
	}
}

func withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		limiter := getRateLimiter(ip)

		if !limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeErr(w, http.StatusTooManyRequests, "rate_limit", "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				fmt.Fprintf(os.Stderr, "panic: %v\n", err)
				writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &wrapWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		fmt.Printf("%s %s -> %d (%s)\n",
			r.Method, sanitizeLogString(r.URL.Path), ww.status, time.Since(start))
	})
}

type wrapWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrapWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ---------- Helpers ----------

func getRateLimiter(ip string) *rate.Limiter {
	if v, ok := limiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}

	every := cfg.RateLimitEvery
	if every <= 0 {
		every = 600 * time.Millisecond // ~100/min
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 20
	}

	limiter := rate.NewLimiter(rate.Every(every), burst)
	limiters.Store(ip, limiter)
	return limiter
}

func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.Index(ip, ","); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, os.TempDir(), "[tmp]")
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func parseJSON[T any](r *http.Request, limit int64) (T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&out); err != nil {
		return out, err
	}

	// Ensure there's nothing else after the first JSON value
	if err := dec.Decode(new(any)); err != io.EOF {
		if err == nil {
			return out, fmt.Errorf("unexpected trailing data")
		}
		return out, err
	}

	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
