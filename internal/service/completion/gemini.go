package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/zhouzirui/taptalk/backend/internal/logger"
)

// GeminiConfig configures the Gemini gateway. BaseURL and APIVersion
// override the SDK defaults when set.
type GeminiConfig struct {
	Model      string
	BaseURL    string
	APIVersion string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// GeminiGateway calls the Gemini generateContent endpoint with a
// per-call credential.
type GeminiGateway struct {
	cfg        GeminiConfig
	httpClient *http.Client
	log        logger.Logger
}

var _ Completer = (*GeminiGateway)(nil)

func NewGeminiGateway(cfg GeminiConfig, log logger.Logger) *GeminiGateway {
	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		*hc = *cfg.HTTPClient
	}
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc.Transport = errorEnvelopeTransport{base: base}

	return &GeminiGateway{cfg: cfg, httpClient: hc, log: log}
}

// Complete sends prompt as a single user turn and returns the first
// candidate's first text part.
func (g *GeminiGateway) Complete(ctx context.Context, prompt, credential string) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", ErrMissingCredential
	}

	callCtx, cancel := detach(ctx, g.cfg.Timeout)
	defer cancel()

	client, err := genai.NewClient(callCtx, &genai.ClientConfig{
		APIKey:     credential,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    g.cfg.BaseURL,
			APIVersion: g.cfg.APIVersion,
		},
	})
	if err != nil {
		return "", fmt.Errorf("gemini client: %w", err)
	}

	start := time.Now()
	resp, err := generate(callCtx, client, g.cfg.Model, prompt)
	if err != nil {
		g.log.Warnf("[gemini] completion failed model=%s latency_ms=%d: %v", g.cfg.Model, time.Since(start).Milliseconds(), err)
		if timedOut(callCtx) {
			return "", fmt.Errorf("%w after %s", ErrUpstreamTimeout, g.cfg.Timeout)
		}
		return "", upstreamError(err)
	}

	text, err := firstText(resp)
	if err != nil {
		return "", err
	}

	g.log.Debugf("[gemini] completion model=%s latency_ms=%d prompt_len=%d response_len=%d",
		g.cfg.Model, time.Since(start).Milliseconds(), len(prompt), len(text))
	return text, nil
}

// generate turns a panic inside the SDK into an UpstreamError.
func generate(ctx context.Context, client *genai.Client, model, prompt string) (resp *genai.GenerateContentResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = &UpstreamError{Message: fmt.Sprintf("gemini client failed: %v", r)}
		}
	}()
	return client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrMalformedResponse
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", ErrMalformedResponse
	}
	part := candidate.Content.Parts[0]
	if part == nil || part.Text == "" {
		return "", ErrMalformedResponse
	}
	return part.Text, nil
}

// upstreamError keeps the provider's own message: the SDK already prefers
// the structured error.message and falls back to the raw body.
func upstreamError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{StatusCode: apiErr.Code, Message: apiMessage(apiErr, err)}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &UpstreamError{StatusCode: apiErrPtr.Code, Message: apiMessage(*apiErrPtr, err)}
	}
	return &UpstreamError{Message: err.Error()}
}

func apiMessage(apiErr genai.APIError, err error) string {
	switch {
	case apiErr.Message != "":
		return apiErr.Message
	case apiErr.Status != "":
		return apiErr.Status
	default:
		return err.Error()
	}
}

// errorEnvelopeTransport rewrites non-2xx bodies that lack an "error" object
// into {"error":{"code":N,"message":<raw body>}}. The SDK only reads error
// details from that object.
type errorEnvelopeTransport struct {
	base http.RoundTripper
}

func (t errorEnvelopeTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(r)
	if err != nil || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return resp, err
	}

	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read gemini error body: %w", err)
	}

	if !hasErrorObject(raw) {
		message := strings.TrimSpace(string(raw))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		raw, err = json.Marshal(map[string]any{
			"error": map[string]any{"code": resp.StatusCode, "message": message},
		})
		if err != nil {
			return nil, err
		}
		resp.Header.Set("Content-Type", "application/json")
	}

	resp.Body = io.NopCloser(bytes.NewReader(raw))
	resp.ContentLength = int64(len(raw))
	resp.Header.Set("Content-Length", strconv.Itoa(len(raw)))
	return resp, nil
}

func hasErrorObject(raw []byte) bool {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return false
	}
	return bytes.HasPrefix(bytes.TrimSpace(envelope.Error), []byte("{"))
}
