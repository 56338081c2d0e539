// Package client is the Go SDK for the TapTalk chat relay. It speaks the
// /api/chat HTTP contract and keeps a local, optimistic view of a conversation.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultBaseURL is where a locally started relay listens.
	DefaultBaseURL = "http://localhost:8080"
	// DefaultValidationURL is the Gemini model-listing endpoint used to check keys.
	DefaultValidationURL = "https://generativelanguage.googleapis.com/v1"
)

// ErrCredentialRejected reports that the relay or the provider refused the credential.
var ErrCredentialRejected = errors.New("credential rejected")

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL       string
	ValidationURL string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Client calls the relay over HTTP.
type Client struct {
	relay     *resty.Client
	validator *resty.Client
}

// New builds a Client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.ValidationURL == "" {
		opts.ValidationURL = DefaultValidationURL
	}
	if opts.Timeout <= 0 {
		// Leaves headroom over the relay's own upstream deadline.
		opts.Timeout = 45 * time.Second
	}

	return &Client{
		relay:     newResty(opts.HTTPClient, opts.BaseURL, opts.Timeout),
		validator: newResty(opts.HTTPClient, opts.ValidationURL, opts.Timeout),
	}
}

func newResty(hc *http.Client, baseURL string, timeout time.Duration) *resty.Client {
	var rc *resty.Client
	if hc != nil {
		rc = resty.NewWithClient(hc)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(baseURL, "/"))
	rc.SetTimeout(timeout)
	rc.SetHeader("Accept", "application/json")
	return rc
}

// SendRequest is one outbound chat turn.
type SendRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
}

// SendResponse is the relay's reply to a chat turn.
type SendResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// HistoryMessage is one persisted message as returned by the relay.
type HistoryMessage struct {
	ID        uint64    `json:"id"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"isUser"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryResponse is a session transcript.
type HistoryResponse struct {
	SessionID string           `json:"sessionId"`
	Messages  []HistoryMessage `json:"messages"`
}

// APIError is a non-2xx answer from the relay.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Details    any    `json:"details,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
}

func (e *APIError) Error() string {
	if d, ok := e.Details.(string); ok && d != "" {
		return fmt.Sprintf("relay returned %d: %s: %s", e.StatusCode, e.Message, d)
	}
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, e.Message)
}

// IsCredentialError reports whether the relay refused the turn because of the key.
func (e *APIError) IsCredentialError() bool {
	return e.StatusCode == http.StatusUnauthorized ||
		strings.Contains(strings.ToLower(e.Message), "api key")
}

// SendMessage posts one user message and returns the assistant reply.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (SendResponse, error) {
	var out SendResponse
	resp, err := c.relay.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&APIError{}).
		Post("/api/chat")
	if err != nil {
		return SendResponse{}, fmt.Errorf("send message: %w", err)
	}
	if resp.IsError() {
		return SendResponse{}, apiError(resp)
	}
	return out, nil
}

// History fetches the transcript of sessionID.
func (c *Client) History(ctx context.Context, sessionID string) (HistoryResponse, error) {
	var out HistoryResponse
	resp, err := c.relay.R().
		SetContext(ctx).
		SetPathParam("sessionID", sessionID).
		SetResult(&out).
		SetError(&APIError{}).
		Get("/api/chat/{sessionID}")
	if err != nil {
		return HistoryResponse{}, fmt.Errorf("fetch history: %w", err)
	}
	if resp.IsError() {
		return HistoryResponse{}, apiError(resp)
	}
	if out.Messages == nil {
		out.Messages = []HistoryMessage{}
	}
	return out, nil
}

// Clear deletes sessionID on the relay.
func (c *Client) Clear(ctx context.Context, sessionID string) error {
	resp, err := c.relay.R().
		SetContext(ctx).
		SetPathParam("sessionID", sessionID).
		SetError(&APIError{}).
		Delete("/api/chat/{sessionID}")
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ValidateCredential checks apiKey against the provider's model listing.
// A refused key yields an error wrapping ErrCredentialRejected.
func (c *Client) ValidateCredential(ctx context.Context, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("%w: key is empty", ErrCredentialRejected)
	}

	resp, err := c.validator.R().
		SetContext(ctx).
		SetQueryParam("key", apiKey).
		SetError(&providerError{}).
		Get("/models")
	if err != nil {
		return fmt.Errorf("validate credential: %w", err)
	}
	if resp.IsSuccess() {
		return nil
	}

	message := "Invalid API key. Please check and try again."
	if pe, ok := resp.Error().(*providerError); ok && pe.Error.Message != "" {
		message = pe.Error.Message
	}
	return fmt.Errorf("%w: %s", ErrCredentialRejected, message)
}

func apiError(resp *resty.Response) error {
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr.Message == "" {
		apiErr = &APIError{Message: strings.TrimSpace(resp.String())}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
	}
	apiErr.StatusCode = resp.StatusCode()
	return apiErr
}
