package completion

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/taptalk/backend/internal/logger"
)

// ChatModelFactory builds an eino chat model authorised by apiKey.
type ChatModelFactory func(ctx context.Context, apiKey string) (model.BaseChatModel, error)

// ArkGateway relays prompts to a Volcengine Ark model through eino.
type ArkGateway struct {
	newModel ChatModelFactory
	timeout  time.Duration
	log      logger.Logger
}

var _ Completer = (*ArkGateway)(nil)

func NewArkGateway(newModel ChatModelFactory, timeout time.Duration, log logger.Logger) *ArkGateway {
	return &ArkGateway{newModel: newModel, timeout: timeout, log: log}
}

func (g *ArkGateway) Complete(ctx context.Context, prompt, credential string) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", ErrMissingCredential
	}

	callCtx, cancel := detach(ctx, g.timeout)
	defer cancel()

	chatModel, err := g.newModel(callCtx, credential)
	if err != nil {
		return "", fmt.Errorf("ark chat model: %w", err)
	}

	start := time.Now()
	response, err := chatModel.Generate(callCtx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		g.log.Warnf("[ark] completion failed latency_ms=%d: %v", time.Since(start).Milliseconds(), err)
		if timedOut(callCtx) {
			return "", fmt.Errorf("%w after %s", ErrUpstreamTimeout, g.timeout)
		}
		return "", &UpstreamError{StatusCode: http.StatusBadGateway, Message: err.Error()}
	}

	if response == nil || response.Content == "" {
		return "", ErrMalformedResponse
	}

	g.log.Debugf("[ark] completion latency_ms=%d prompt_len=%d response_len=%d",
		time.Since(start).Milliseconds(), len(prompt), len(response.Content))
	return response.Content, nil
}
