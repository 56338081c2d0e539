package completion

import (
	"fmt"

	"github.com/zhouzirui/taptalk/backend/internal/config"
	"github.com/zhouzirui/taptalk/backend/internal/logger"
)

// New builds the Completer selected by cfg.Provider.
func New(cfg config.GatewayConfig, log logger.Logger) (Completer, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiGateway(GeminiConfig{
			Model:      cfg.GeminiModel,
			BaseURL:    cfg.GeminiBaseURL,
			APIVersion: cfg.GeminiAPIVersion,
			Timeout:    cfg.Timeout,
		}, log), nil
	case config.ProviderArk:
		return NewArkGateway(cfg.NewArkChatModel, cfg.Timeout, log), nil
	case config.ProviderEcho:
		log.Warn("GATEWAY_PROVIDER=echo, completions mirror the prompt")
		return EchoGateway{}, nil
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", cfg.Provider)
	}
}
