package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/MegaGrindStone/wingman-chat/internal/handlers"
	"github.com/MegaGrindStone/wingman-chat/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error)
	titleGenConfig
}

type titleGenConfig interface {
	titleGen(systemPrompt string, logger *slog.Logger) (handlers.TitleGenerator, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port                 string
	LogLevel             string
	SystemPrompt         string
	TitleGeneratorPrompt string
	LLM                  llmConfig
	// TitleGenerator is nil when titles come from the LLM provider.
	TitleGenerator titleGenConfig

	// dir is the directory of the config file, which also holds the store.
	dir string
}

type gatewayConfig struct {
	BaseLLMConfig  `yaml:",inline"`
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	MaxLineRetries int    `yaml:"maxLineRetries"`
	MaxBufferSize  int    `yaml:"maxBufferSize"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
	APIKey        string `yaml:"apiKey"`
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port                 string         `yaml:"port"`
		LogLevel             string         `yaml:"logLevel"`
		SystemPrompt         string         `yaml:"systemPrompt"`
		TitleGeneratorPrompt string         `yaml:"titleGeneratorPrompt"`
		LLM                  map[string]any `yaml:"llm"`
		TitleGenerator       map[string]any `yaml:"titleGenerator"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.LogLevel = rawConfig.LogLevel
	c.SystemPrompt = rawConfig.SystemPrompt
	c.TitleGeneratorPrompt = rawConfig.TitleGeneratorPrompt

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return errors.New("llm provider is required")
	}

	var llm llmConfig
	switch llmProvider {
	case "gateway":
		llm = &gatewayConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}
	if err := remarshal(rawConfig.LLM, llm); err != nil {
		return fmt.Errorf("error decoding llm config: %w", err)
	}
	c.LLM = llm

	if rawConfig.TitleGenerator == nil {
		return nil
	}

	titleProvider, ok := rawConfig.TitleGenerator["provider"].(string)
	if !ok {
		return errors.New("title generator provider is required")
	}

	var titleGen titleGenConfig
	switch titleProvider {
	case "openai":
		titleGen = &openAIConfig{}
	case "ollama":
		titleGen = &ollamaConfig{}
	case "gateway":
		titleGen = &gatewayConfig{}
	default:
		return fmt.Errorf("unknown title generator provider: %s", titleProvider)
	}
	if err := remarshal(rawConfig.TitleGenerator, titleGen); err != nil {
		return fmt.Errorf("error decoding title generator config: %w", err)
	}
	c.TitleGenerator = titleGen

	return nil
}

func remarshal(raw map[string]any, out any) error {
	rawYAML, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(rawYAML, out)
}

// setGatewayToken fills the token of every gateway provider that has none.
func (c *config) setGatewayToken(token string) {
	if g, ok := c.LLM.(*gatewayConfig); ok && g.Token == "" {
		g.Token = token
	}
	if g, ok := c.TitleGenerator.(*gatewayConfig); ok && g.Token == "" {
		g.Token = token
	}
}

func (c config) llm(logger *slog.Logger) (handlers.LLM, error) {
	return c.LLM.llm(c.SystemPrompt, logger)
}

func (c config) titleGen(logger *slog.Logger) (handlers.TitleGenerator, error) {
	if c.TitleGenerator != nil {
		return c.TitleGenerator.titleGen(c.TitleGeneratorPrompt, logger)
	}
	return c.LLM.titleGen(c.TitleGeneratorPrompt, logger)
}

// gateway returns the streaming gateway client of the llm provider.
func (c config) gateway(logger *slog.Logger) (services.Gateway, error) {
	g, ok := c.LLM.(*gatewayConfig)
	if !ok {
		return services.Gateway{}, fmt.Errorf("llm provider must be gateway, got %T", c.LLM)
	}
	return g.newGateway(c.SystemPrompt, logger)
}

func (g gatewayConfig) newGateway(systemPrompt string, logger *slog.Logger) (services.Gateway, error) {
	return services.NewGateway(services.GatewayConfig{
		URL:            g.URL,
		Token:          g.Token,
		Model:          g.Model,
		SystemPrompt:   systemPrompt,
		MaxLineRetries: g.MaxLineRetries,
		MaxBufferSize:  g.MaxBufferSize,
	}, logger)
}

func (g gatewayConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	return g.newGateway(systemPrompt, logger)
}

func (g gatewayConfig) titleGen(systemPrompt string, logger *slog.Logger) (handlers.TitleGenerator, error) {
	return g.newGateway(systemPrompt, logger)
}

func (o ollamaConfig) newOllama(systemPrompt string, logger *slog.Logger) (services.Ollama, error) {
	if o.Model == "" {
		return services.Ollama{}, errors.New("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt, logger)
}

func (o ollamaConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	return o.newOllama(systemPrompt, logger)
}

func (o ollamaConfig) titleGen(systemPrompt string, logger *slog.Logger) (handlers.TitleGenerator, error) {
	return o.newOllama(systemPrompt, logger)
}

func (o openAIConfig) titleGen(systemPrompt string, logger *slog.Logger) (handlers.TitleGenerator, error) {
	if o.Model == "" {
		return nil, errors.New("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, logger), nil
}
