// Package inference is the client for the model inference sidecar. The sidecar hosts
// the zero-shot image classifier and the text-to-speech model behind a small JSON API.
package inference

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

	"github.com/book-expert/component-narrator/internal/core"
)

// API endpoints and paths.
const (
	apiLoadModel  = "/v1/models/load"
	apiClassify   = "/v1/classify"
	apiSynthesize = "/v1/synthesize"
	apiHealth     = "/health"
)

// Tasks accepted by the load endpoint.
const (
	TaskZeroShotImageClassification = "zero-shot-image-classification"
	TaskTextToSpeech                 = "text-to-speech"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "inference service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "inference service returned non-OK status: %s, body: %s"
	errFmtRequestFailed        = "request to inference service at %s failed: %w"
	maxErrorBodyBytes          = 4096
)

// ErrEmptyResponse indicates a successful status with an unusable body.
var ErrEmptyResponse = errors.New("empty response from inference service")

// Client talks to the inference sidecar. It is safe for concurrent use.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	requestTimeout time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithRequestTimeout bounds every classify, synthesize and health call. Model loads
// are bounded only by the context they are given.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = timeout
	}
}

// LoadRequest asks the sidecar to construct a model.
type LoadRequest struct {
	Task  string `json:"task"`
	Model string `json:"model"`
}

// ClassifyRequest is the zero-shot image classification payload.
type ClassifyRequest struct {
	Model           string   `json:"model"`
	Image           string   `json:"image"`
	CandidateLabels []string `json:"candidate_labels"`
}

// SynthesizeRequest is the text-to-speech payload.
type SynthesizeRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// SynthesizeResponse carries raw float samples and their rate.
type SynthesizeResponse struct {
	Samples      []float32 `json:"samples"`
	SamplingRate int       `json:"sampling_rate"`
}

// ErrorResponse is the structured error body returned by the sidecar.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewClient creates a client for the sidecar at baseURL, e.g. "http://localhost:8000".
// The timeout applies to every request except model loads.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return NewClientWithHTTP(baseURL, &http.Client{}, WithRequestTimeout(timeout))
}

// NewClientWithHTTP creates a client that sends requests through httpClient. A
// Timeout set on httpClient also caps model loads.
func NewClientWithHTTP(baseURL string, httpClient *http.Client, opts ...Option) *Client {
	client := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// LoadModel asks the sidecar to construct model for task and blocks until it is
// ready or ctx is done.
func (c *Client) LoadModel(ctx context.Context, task, model string) error {
	return c.post(ctx, apiLoadModel, LoadRequest{Task: task, Model: model}, nil)
}

// Classify scores image against the candidate labels.
func (c *Client) Classify(ctx context.Context, model string, image []byte, candidates []string) ([]core.LabelScore, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: image is empty", core.ErrInvalidInput)
	}

	request := ClassifyRequest{
		Model:           model,
		Image:           base64.StdEncoding.EncodeToString(image),
		CandidateLabels: candidates,
	}

	var scores []core.LabelScore

	err := c.bounded(ctx, func(callCtx context.Context) error {
		return c.post(callCtx, apiClassify, request, &scores)
	})
	if err != nil {
		return nil, err
	}

	return scores, nil
}

// Synthesize converts one piece of text into a waveform.
func (c *Client) Synthesize(ctx context.Context, model, voice, text string) (core.Waveform, error) {
	if strings.TrimSpace(text) == "" {
		return core.Waveform{}, fmt.Errorf("%w: text is empty", core.ErrInvalidInput)
	}

	var response SynthesizeResponse

	request := SynthesizeRequest{Model: model, Text: text, Voice: voice}

	err := c.bounded(ctx, func(callCtx context.Context) error {
		return c.post(callCtx, apiSynthesize, request, &response)
	})
	if err != nil {
		return core.Waveform{}, err
	}

	if response.SamplingRate <= 0 {
		return core.Waveform{}, fmt.Errorf("%w: %w: sampling rate %d",
			core.ErrModelUnavailable, ErrEmptyResponse, response.SamplingRate)
	}

	return core.Waveform{Samples: response.Samples, SampleRate: response.SamplingRate}, nil
}

// HealthCheck verifies that the sidecar is running.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.bounded(ctx, c.healthCheck)
}

func (c *Client) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health check failed for service at %s: %w", core.ErrModelUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check failed with status: %s", core.ErrModelUnavailable, resp.Status)
	}

	return nil
}

// bounded runs call under the request timeout. Hitting that timeout while ctx is
// still live is reported as core.ErrModelUnavailable.
func (c *Client) bounded(ctx context.Context, call func(context.Context) error) error {
	if c.requestTimeout <= 0 {
		return call(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	err := call(callCtx)
	if err == nil || ctx.Err() != nil || errors.Is(err, core.ErrModelUnavailable) {
		return err
	}

	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out after %s: %w", core.ErrModelUnavailable, c.requestTimeout, err)
	}

	return err
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf(errFmtRequestFailed, c.baseURL, ctx.Err())
		}

		return fmt.Errorf("%w: "+errFmtRequestFailed, core.ErrModelUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}

	decodeErr := json.NewDecoder(resp.Body).Decode(out)
	if decodeErr != nil {
		return fmt.Errorf("%w: failed to decode %s response: %w", core.ErrModelUnavailable, path, decodeErr)
	}

	return nil
}

// parseErrorResponse decodes a structured error when the sidecar sends one and falls
// back to the raw body. Rejections of the request itself map to core.ErrInvalidInput,
// everything else to core.ErrModelUnavailable.
func parseErrorResponse(resp *http.Response) error {
	kind := core.ErrModelUnavailable

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		kind = core.ErrInvalidInput
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf("%w: "+errFmtServiceErrorWithCode, kind, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf("%w: "+errFmtServiceNonOKStatus, kind, resp.Status, strings.TrimSpace(string(body)))
}
