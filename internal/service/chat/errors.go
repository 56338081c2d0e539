package chat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zhouzirui/taptalk/backend/internal/service/completion"
	"github.com/zhouzirui/taptalk/backend/internal/store"
)

var (
	ErrMessageRequired        = errors.New("message cannot be empty")
	ErrNoCredentialConfigured = errors.New("completion API key not configured")
	ErrSessionNotFound        = store.ErrSessionNotFound
)

// Kind classifies a chat failure for the transport layer.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindSessionNotFound Kind = "session_not_found"
	KindCredential      Kind = "credential"
	KindUpstream        Kind = "upstream"
	KindTimeout         Kind = "upstream_timeout"
	KindMalformed       Kind = "malformed_response"
	KindInternal        Kind = "internal"
)

// Error is returned by Service operations. SessionID is set once a session
// has been resolved, so callers can keep using it after a failed turn.
type Error struct {
	Kind      Kind
	SessionID string
	Cause     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf reports the classification of err; unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr.Kind
	}
	return classify(err)
}

func newError(err error, sessionID string) *Error {
	return &Error{Kind: classify(err), SessionID: sessionID, Cause: err}
}

func classify(err error) Kind {
	var upstream *completion.UpstreamError
	switch {
	case errors.Is(err, completion.ErrMissingCredential), errors.Is(err, ErrNoCredentialConfigured):
		return KindCredential
	case errors.As(err, &upstream):
		if credentialRejected(upstream) {
			return KindCredential
		}
		return KindUpstream
	case errors.Is(err, completion.ErrUpstreamTimeout):
		return KindTimeout
	case errors.Is(err, completion.ErrMalformedResponse):
		return KindMalformed
	case errors.Is(err, store.ErrSessionNotFound):
		return KindSessionNotFound
	case errors.Is(err, ErrMessageRequired), errors.Is(err, store.ErrEmptyContent):
		return KindValidation
	default:
		return KindInternal
	}
}

// credentialRejected spots upstream answers caused by a bad key. Gemini
// reports invalid keys as 400 INVALID_ARGUMENT as well as 401/403.
func credentialRejected(err *UpstreamError) bool {
	if err.StatusCode == http.StatusUnauthorized || err.StatusCode == http.StatusForbidden {
		return true
	}
	return strings.Contains(strings.ToLower(err.Message), "api key")
}

// UpstreamError is re-exported for callers that only import this package.
type UpstreamError = completion.UpstreamError
