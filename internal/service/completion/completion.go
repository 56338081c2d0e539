//go:generate go run go.uber.org/mock/mockgen -source=completion.go -destination=../../mocks/mock_completer.go -package=mocks
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingCredential = errors.New("completion credential is missing")
	ErrMalformedResponse = errors.New("unexpected response format from completion service")
	ErrUpstreamTimeout   = errors.New("completion service timed out")
)

// Completer turns a prompt into generated text. Calls are at-most-once:
// implementations never retry.
type Completer interface {
	Complete(ctx context.Context, prompt, credential string) (string, error)
}

// UpstreamError reports a non-success answer from the completion service.
// StatusCode is zero when the provider did not expose one.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("completion service error: %s", e.Message)
	}
	return fmt.Sprintf("completion service error: %d - %s", e.StatusCode, e.Message)
}

// detach runs the upstream call independently of the caller: a client that
// goes away does not abort an in-flight completion, only timeout does.
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, timeout)
}

func timedOut(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}
