package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/kelseyhightower/envconfig"
)

// 支持的模型网关。
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
	ProviderEcho   = "echo"
)

// 会话存储驱动。
const (
	DriverMemory = "memory"
	DriverBadger = "badger"
)

// 未知会话的处理策略。
const (
	PolicyCreate = "create"
	PolicyReject = "reject"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Gateway GatewayConfig
	Store   StoreConfig
	Chat    ChatConfig
	Log     LogConfig
	CORS    CORSConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	gateway, err := loadGatewayConfig()
	if err != nil {
		return nil, err
	}

	var storeCfg StoreConfig
	if err := envconfig.Process("", &storeCfg); err != nil {
		return nil, fmt.Errorf("store config: %w", err)
	}
	if err := oneOf("STORE_DRIVER", storeCfg.Driver, DriverMemory, DriverBadger); err != nil {
		return nil, err
	}

	var chatCfg ChatConfig
	if err := envconfig.Process("", &chatCfg); err != nil {
		return nil, fmt.Errorf("chat config: %w", err)
	}
	if err := oneOf("CHAT_UNKNOWN_SESSION_POLICY", chatCfg.UnknownSessionPolicy, PolicyCreate, PolicyReject); err != nil {
		return nil, err
	}

	var logCfg LogConfig
	if err := envconfig.Process("", &logCfg); err != nil {
		return nil, fmt.Errorf("log config: %w", err)
	}

	var corsCfg CORSConfig
	if err := envconfig.Process("", &corsCfg); err != nil {
		return nil, fmt.Errorf("cors config: %w", err)
	}

	return &Config{
		Server:  server,
		Gateway: gateway,
		Store:   storeCfg,
		Chat:    chatCfg,
		Log:     logCfg,
		CORS:    corsCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

type rawServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	var raw rawServerConfig
	if err := envconfig.Process("", &raw); err != nil {
		return ServerConfig{}, fmt.Errorf("server config: %w", err)
	}

	port := strings.TrimSpace(raw.Port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// ":8080" 与 "127.0.0.1:8080" 形式原样使用。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// GatewayConfig 描述上游模型服务配置。
type GatewayConfig struct {
	Provider string        `envconfig:"GATEWAY_PROVIDER" default:"gemini"`
	Timeout  time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"30s"`

	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`
	GeminiModel      string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-pro"`
	GeminiBaseURL    string `envconfig:"GEMINI_BASE_URL"`
	GeminiAPIVersion string `envconfig:"GEMINI_API_VERSION" default:"v1beta"`

	ArkAPIKey      string   `envconfig:"ARK_API_KEY"`
	ArkModel       string   `envconfig:"ARK_MODEL"`
	ArkBaseURL     string   `envconfig:"ARK_BASE_URL" default:"https://ark.cn-beijing.volces.com/api/v3"`
	ArkRegion      string   `envconfig:"ARK_REGION" default:"cn-beijing"`
	ArkTemperature *float64 `envconfig:"ARK_TEMPERATURE"`
	ArkTopP        *float64 `envconfig:"ARK_TOP_P"`
	ArkMaxTokens   *int     `envconfig:"ARK_MAX_TOKENS"`
}

func loadGatewayConfig() (GatewayConfig, error) {
	var cfg GatewayConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return GatewayConfig{}, fmt.Errorf("gateway config: %w", err)
	}

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if err := oneOf("GATEWAY_PROVIDER", cfg.Provider, ProviderGemini, ProviderArk, ProviderEcho); err != nil {
		return GatewayConfig{}, err
	}
	if cfg.Provider == ProviderArk && cfg.ArkModel == "" {
		return GatewayConfig{}, fmt.Errorf("ARK_MODEL is required when GATEWAY_PROVIDER=ark")
	}

	cfg.GeminiAPIKey = strings.TrimSpace(cfg.GeminiAPIKey)
	cfg.ArkAPIKey = strings.TrimSpace(cfg.ArkAPIKey)
	return cfg, nil
}

// DefaultCredential 返回当前网关的全局密钥，未配置时返回空字符串。
func (c GatewayConfig) DefaultCredential() string {
	if c.Provider == ProviderArk {
		return c.ArkAPIKey
	}
	return c.GeminiAPIKey
}

// NewArkChatModel 使用 apiKey 创建一个 Ark 模型实例。
func (c GatewayConfig) NewArkChatModel(ctx context.Context, apiKey string) (model.BaseChatModel, error) {
	if c.ArkModel == "" || apiKey == "" {
		return nil, fmt.Errorf("ark model or api key missing")
	}

	var temperature *float32
	if c.ArkTemperature != nil {
		val := float32(*c.ArkTemperature)
		temperature = &val
	}

	var topP *float32
	if c.ArkTopP != nil {
		val := float32(*c.ArkTopP)
		topP = &val
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      apiKey,
		Model:       c.ArkModel,
		MaxTokens:   c.ArkMaxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
}

// StoreConfig 选择会话存储及其过期策略。
// SessionTTL 为零时会话在进程生命周期内一直保留。
type StoreConfig struct {
	Driver        string        `envconfig:"STORE_DRIVER" default:"memory"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"0s"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"1m"`
}

// ChatConfig 聊天会话服务配置。
type ChatConfig struct {
	UnknownSessionPolicy string `envconfig:"CHAT_UNKNOWN_SESSION_POLICY" default:"create"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// CORSConfig 允许跨域访问 API 的来源列表。
type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s value %q: want one of %s", key, value, strings.Join(allowed, ", "))
}
