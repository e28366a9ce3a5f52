package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/reviewgate/internal/fault"
)

// Provider identifies a model backend
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

// ModelOptions configures the backend model construction
type ModelOptions struct {
	Provider Provider
	APIKey   string
	Model    string
	BaseURL  string
}

// NewModel constructs a langchaingo model for the configured provider
func NewModel(ctx context.Context, opts ModelOptions) (llms.Model, error) {
	if opts.Model == "" {
		return nil, fault.Config("model name is required")
	}

	switch opts.Provider {
	case ProviderOpenAI:
		o := []openai.Option{
			openai.WithToken(opts.APIKey),
			openai.WithModel(opts.Model),
		}
		if opts.BaseURL != "" {
			o = append(o, openai.WithBaseURL(opts.BaseURL))
		}
		return openai.New(o...)

	case ProviderGemini:
		return googleai.New(ctx,
			googleai.WithAPIKey(opts.APIKey),
			googleai.WithDefaultModel(opts.Model),
		)

	case ProviderAnthropic:
		return anthropic.New(
			anthropic.WithToken(opts.APIKey),
			anthropic.WithModel(opts.Model),
		)

	case ProviderOllama:
		baseURL := opts.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.New(
			ollama.WithServerURL(baseURL),
			ollama.WithModel(opts.Model),
		)

	default:
		return nil, fault.Config("unsupported AI provider %q", opts.Provider)
	}
}

// ParseProvider validates a provider name from config or CLI input
func ParseProvider(raw string) (Provider, error) {
	switch Provider(raw) {
	case ProviderOpenAI, ProviderGemini, ProviderAnthropic, ProviderOllama:
		return Provider(raw), nil
	default:
		return "", fault.Config("unknown AI provider %q (want %s)", raw,
			fmt.Sprintf("%s|%s|%s|%s", ProviderOpenAI, ProviderGemini, ProviderAnthropic, ProviderOllama))
	}
}
