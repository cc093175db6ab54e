package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/engardedata/engarde-chat/internal/chat"
	"github.com/engardedata/engarde-chat/internal/handlers"
	"github.com/engardedata/engarde-chat/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	provider(ctx context.Context, logger *slog.Logger) (chat.Provider, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider   string                 `yaml:"provider"`
	Model      string                 `yaml:"model"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

type config struct {
	Port               string           `yaml:"port"`
	LogLevel           string           `yaml:"logLevel"`
	TurnTimeout        time.Duration    `yaml:"turnTimeout"`
	SessionIdleTimeout time.Duration    `yaml:"sessionIdleTimeout"`
	StorePath          string           `yaml:"storePath"`
	ContentFile        string           `yaml:"contentFile"`
	Greeting           string           `yaml:"greeting"`
	Site               chat.SiteProfile `yaml:"site"`
	LLM                llmConfig        `yaml:"llm"`
}

type geminiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
}

const (
	defaultPort        = "8080"
	defaultGeminiModel = "gemini-2.5-flash"
	defaultOllamaHost  = "http://127.0.0.1:11434"

	// apiKeyEnv is consulted before the provider specific variable.
	apiKeyEnv = "API_KEY"
)

func defaultConfigPath() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "engarde", "config.yaml"), nil
}

// loadConfig reads the config file at path. A missing or empty file yields the defaults, which use Gemini with the
// credential taken from the environment.
func loadConfig(path string) (config, error) {
	cfg := config{}

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	default:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *config) applyDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.TurnTimeout == 0 {
		c.TurnTimeout = chat.DefaultTurnTimeout
	}
	if c.SessionIdleTimeout == 0 {
		c.SessionIdleTimeout = handlers.DefaultSessionIdleTimeout
	}
	if c.Greeting == "" {
		c.Greeting = chat.DefaultGreeting
	}
	if c.LLM == nil {
		c.LLM = &geminiConfig{BaseLLMConfig: BaseLLMConfig{Provider: "gemini"}}
	}
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port               string           `yaml:"port"`
		LogLevel           string           `yaml:"logLevel"`
		TurnTimeout        time.Duration    `yaml:"turnTimeout"`
		SessionIdleTimeout time.Duration    `yaml:"sessionIdleTimeout"`
		StorePath          string           `yaml:"storePath"`
		ContentFile        string           `yaml:"contentFile"`
		Greeting           string           `yaml:"greeting"`
		Site               chat.SiteProfile `yaml:"site"`
		LLM                map[string]any   `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.LogLevel = rawConfig.LogLevel
	c.TurnTimeout = rawConfig.TurnTimeout
	c.SessionIdleTimeout = rawConfig.SessionIdleTimeout
	c.StorePath = rawConfig.StorePath
	c.ContentFile = rawConfig.ContentFile
	c.Greeting = rawConfig.Greeting
	c.Site = rawConfig.Site

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "gemini":
		llm = &geminiConfig{}
	case "openai", "openrouter":
		llm = &openAIConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm
	return nil
}

func (c config) logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// apiKey resolves a credential once: the configured value, then API_KEY, then the provider variable.
func apiKey(configured, providerEnv string) string {
	if configured != "" {
		return configured
	}
	if v := os.Getenv(apiKeyEnv); v != "" {
		return v
	}
	return os.Getenv(providerEnv)
}

func (g geminiConfig) provider(ctx context.Context, logger *slog.Logger) (chat.Provider, error) {
	model := g.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return services.NewGemini(ctx, services.GeminiOptions{
		APIKey:  apiKey(g.APIKey, "GEMINI_API_KEY"),
		Model:   model,
		BaseURL: g.BaseURL,
		Params:  g.Parameters,
	}, logger)
}

func (o openAIConfig) provider(_ context.Context, logger *slog.Logger) (chat.Provider, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	providerEnv := "OPENAI_API_KEY"
	baseURL := o.BaseURL
	if o.Provider == "openrouter" {
		providerEnv = "OPENROUTER_API_KEY"
		if baseURL == "" {
			baseURL = services.OpenRouterBaseURL
		}
	}
	return services.NewOpenAI(apiKey(o.APIKey, providerEnv), baseURL, o.Model, o.Parameters, logger)
}

func (o ollamaConfig) provider(_ context.Context, logger *slog.Logger) (chat.Provider, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	return services.NewOllama(host, o.Model, o.Parameters, logger)
}

func (a anthropicConfig) provider(_ context.Context, logger *slog.Logger) (chat.Provider, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return services.NewAnthropic(apiKey(a.APIKey, "ANTHROPIC_API_KEY"), a.Endpoint, a.Model, a.Parameters, logger)
}
