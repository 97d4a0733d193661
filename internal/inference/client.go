// Package inference is the HTTP client for the external plant-health model
// service. It performs no retries; callers decide whether to re-trigger.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/metrics"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

const (
	DefaultTimeout     = 30 * time.Second
	healthCheckTimeout = 5 * time.Second

	predictPath      = "/predict"
	predictBatchPath = "/predict/batch"
	healthPath       = "/health"

	// error bodies are truncated to this many bytes in messages
	maxErrorBody = 512
)

// Image is one file in a batch request.
type Image struct {
	Filename string
	Data     []byte
}

// BatchResult is the per-image outcome of a batch request.
type BatchResult struct {
	Filename string                   `json:"filename"`
	Success  bool                     `json:"success"`
	Error    string                   `json:"error,omitempty"`
	Data     *models.InferencePayload `json:"data,omitempty"`
}

type predictResponse struct {
	Success bool                     `json:"success"`
	Data    *models.InferencePayload `json:"data"`
	Error   string                   `json:"error,omitempty"`
	Message string                   `json:"message,omitempty"`
}

type batchResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Results []BatchResult `json:"results"`
	} `json:"data"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client calls the inference service.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *zap.Logger
}

// Option customizes a client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the service at baseURL. A non-positive
// timeout falls back to DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service address recorded on analyzed scans.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Analyze submits one image and returns the model output.
func (c *Client) Analyze(ctx context.Context, image []byte, filename string) (*models.InferencePayload, error) {
	const op = "inference.Analyze"
	if len(image) == 0 {
		return nil, apperr.Validation(op, "image is empty")
	}

	body, contentType, err := encodeImages("image", []Image{{Filename: filename, Data: image}})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	var resp predictResponse
	if err := c.post(ctx, op, predictPath, c.timeout, body, contentType, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, apperr.Wrap(apperr.KindInvalidResponse, op, fmt.Errorf("service reported failure: %s", firstNonEmpty(resp.Error, resp.Message, "no reason given")))
	}
	if resp.Data == nil {
		return nil, apperr.Wrap(apperr.KindInvalidResponse, op, errors.New("response has no data"))
	}
	if err := checkPayload(resp.Data); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidResponse, op, err)
	}
	if resp.Data.Predictions == nil {
		resp.Data.Predictions = []models.Prediction{}
	}
	return resp.Data, nil
}

// AnalyzeBatch submits several images in one request. The timeout scales
// with the number of images. A per-image failure is reported in its
// BatchResult, not as an error.
func (c *Client) AnalyzeBatch(ctx context.Context, images []Image) ([]BatchResult, error) {
	const op = "inference.AnalyzeBatch"
	if len(images) == 0 {
		return []BatchResult{}, nil
	}

	body, contentType, err := encodeImages("images", images)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	var resp batchResponse
	timeout := c.timeout * time.Duration(len(images))
	if err := c.post(ctx, op, predictBatchPath, timeout, body, contentType, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, apperr.Wrap(apperr.KindInvalidResponse, op, fmt.Errorf("service reported failure: %s", firstNonEmpty(resp.Error, resp.Message, "no reason given")))
	}
	if resp.Data == nil {
		return nil, apperr.Wrap(apperr.KindInvalidResponse, op, errors.New("response has no data"))
	}

	results := resp.Data.Results
	for i := range results {
		r := &results[i]
		if !r.Success {
			continue
		}
		if r.Data == nil {
			r.Success = false
			r.Error = "result has no data"
			continue
		}
		if err := checkPayload(r.Data); err != nil {
			r.Success = false
			r.Error = err.Error()
			r.Data = nil
			continue
		}
		if r.Data.Predictions == nil {
			r.Data.Predictions = []models.Prediction{}
		}
	}
	return results, nil
}

// HealthCheck reports whether the service answers its health endpoint. It
// never returns an error.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("inference health check failed", zap.Error(err))
		metrics.InferenceRequestsTotal.WithLabelValues(healthPath, "unavailable").Inc()
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	healthy := resp.StatusCode == http.StatusOK
	outcome := "success"
	if !healthy {
		outcome = "invalid_response"
	}
	metrics.InferenceRequestsTotal.WithLabelValues(healthPath, outcome).Inc()
	return healthy
}

func (c *Client) post(ctx context.Context, op, path string, timeout time.Duration, body []byte, contentType string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.InferenceRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := classifyTransportError(err)
		metrics.InferenceRequestsTotal.WithLabelValues(path, outcomeLabel(kind)).Inc()
		c.logger.Debug("inference request failed",
			zap.String("path", path),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return apperr.Wrap(kind, op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		kind := classifyTransportError(err)
		metrics.InferenceRequestsTotal.WithLabelValues(path, outcomeLabel(kind)).Inc()
		return apperr.Wrap(kind, op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.InferenceRequestsTotal.WithLabelValues(path, outcomeLabel(apperr.KindInvalidResponse)).Inc()
		return apperr.Wrap(apperr.KindInvalidResponse, op,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(payload)), maxErrorBody)))
	}

	if err := json.Unmarshal(payload, out); err != nil {
		metrics.InferenceRequestsTotal.WithLabelValues(path, outcomeLabel(apperr.KindInvalidResponse)).Inc()
		return apperr.Wrap(apperr.KindInvalidResponse, op, fmt.Errorf("decode response: %w", err))
	}

	metrics.InferenceRequestsTotal.WithLabelValues(path, "success").Inc()
	c.logger.Debug("inference request completed",
		zap.String("path", path),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// classifyTransportError separates timeouts from an unreachable service.
func classifyTransportError(err error) apperr.Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return apperr.KindInternal
	}
	return apperr.KindServiceUnavailable
}

func outcomeLabel(kind apperr.Kind) string {
	switch kind {
	case apperr.KindTimeout:
		return "timeout"
	case apperr.KindServiceUnavailable:
		return "unavailable"
	case apperr.KindInvalidResponse:
		return "invalid_response"
	default:
		return "error"
	}
}

// checkPayload rejects confidences outside [0,1]. Unknown classes are kept;
// the reconciler treats them as non-healthy.
func checkPayload(p *models.InferencePayload) error {
	for i, pred := range p.Predictions {
		if pred.Class == "" {
			return fmt.Errorf("prediction %d has no class", i)
		}
		if pred.Confidence < 0 || pred.Confidence > 1 {
			return fmt.Errorf("prediction %d confidence %v outside [0,1]", i, pred.Confidence)
		}
	}
	if p.ConfidenceScore != nil && (*p.ConfidenceScore < 0 || *p.ConfidenceScore > 1) {
		return fmt.Errorf("confidence_score %v outside [0,1]", *p.ConfidenceScore)
	}
	if p.ProcessingTimeMs != nil && *p.ProcessingTimeMs < 0 {
		return fmt.Errorf("processing_time_ms %v is negative", *p.ProcessingTimeMs)
	}
	return nil
}

func encodeImages(field string, images []Image) ([]byte, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for i, img := range images {
		name := img.Filename
		if name == "" {
			name = fmt.Sprintf("image_%d.jpg", i)
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
		header.Set("Content-Type", http.DetectContentType(img.Data))

		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("create %s part: %w", field, err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, "", fmt.Errorf("write %s part: %w", field, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
