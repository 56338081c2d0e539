package completion

import (
	"context"
	"strings"
)

// EchoGateway answers every prompt with the prompt itself. It is meant for
// local development without upstream access, and still insists on a
// credential so client credential flows behave as in production.
type EchoGateway struct{}

var _ Completer = EchoGateway{}

func (EchoGateway) Complete(_ context.Context, prompt, credential string) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", ErrMissingCredential
	}
	return prompt, nil
}
