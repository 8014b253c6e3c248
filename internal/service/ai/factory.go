package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"excelanalyst/internal/config"
)

const (
	ProviderGemini     = "gemini"
	ProviderGeminiEino = "gemini-eino"
	ProviderOpenAI     = "openai"
	ProviderClaude     = "claude"

	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultClaudeModel = "claude-sonnet-4-5"
	claudeMaxTokens    = 4096
)

var apiKeyEnv = map[string]string{
	ProviderGemini:     "GEMINI_API_KEY",
	ProviderGeminiEino: "GEMINI_API_KEY",
	ProviderOpenAI:     "OPENAI_API_KEY",
	ProviderClaude:     "ANTHROPIC_API_KEY",
}

// Factory builds the Initializer for the configured provider.
func Factory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Initializer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider, provCfg := cfg.ActiveProvider()
	apiKey := provCfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(apiKeyEnv[provider])
	}
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s: missing api key (set %s)", provider, apiKeyEnv[provider])
	}

	if provider == ProviderGemini {
		return newGeminiInitializer(ctx, apiKey, provCfg.BaseURL, orDefault(provCfg.Model, DefaultGeminiModel), logger)
	}

	chatModel, err := newEinoModel(ctx, provider, provCfg, apiKey)
	if err != nil {
		return nil, fmt.Errorf("start %s model: %w", provider, err)
	}
	return &einoInitializer{provider: provider, model: chatModel, logger: logger}, nil
}

func newEinoModel(ctx context.Context, provider string, provCfg config.ProviderConfig, apiKey string) (model.ToolCallingChatModel, error) {
	switch provider {
	case ProviderOpenAI:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   orDefault(provCfg.Model, DefaultOpenAIModel),
			APIKey:  apiKey,
		})
	case ProviderGeminiEino:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, err
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  orDefault(provCfg.Model, DefaultGeminiModel),
		})
	case ProviderClaude:
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    apiKey,
			Model:     orDefault(provCfg.Model, DefaultClaudeModel),
			BaseURL:   baseURLPtr,
			MaxTokens: claudeMaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
