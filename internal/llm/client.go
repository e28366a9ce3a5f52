package llm

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"github.com/reviewgate/internal/fault"
	"github.com/reviewgate/pkg/models"
)

// Options configures one analysis request
type Options struct {
	Language        string
	MaxOutputTokens int
	ScopePreset     ScopePreset
}

// Client analyzes one chunk and returns structured findings. Errors are
// fault-classified: transient failures are safe to retry, permanent ones
// are not.
type Client interface {
	Analyze(ctx context.Context, c *models.Chunk, opts Options) ([]models.Finding, error)
}

// Redactor masks sensitive content in the serialized chunk before it
// leaves the process
type Redactor interface {
	Redact(text string) string
}

// ModelClient implements Client on top of a langchaingo model
type ModelClient struct {
	llm      llms.Model
	redactor Redactor
	log      zerolog.Logger
}

// NewModelClient wraps a langchaingo model as a review client. redactor
// may be nil to disable masking.
func NewModelClient(llm llms.Model, redactor Redactor, log zerolog.Logger) *ModelClient {
	return &ModelClient{llm: llm, redactor: redactor, log: log}
}

// Analyze submits the chunk to the model and decodes its findings
func (mc *ModelClient) Analyze(ctx context.Context, c *models.Chunk, opts Options) ([]models.Finding, error) {
	prompt := BuildPrompt(c, opts)
	if mc.redactor != nil {
		prompt = mc.redactor.Redact(prompt)
	}

	callOpts := []llms.CallOption{}
	if opts.MaxOutputTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxOutputTokens))
	}

	mc.log.Debug().Int("chunk", c.Index).Int("prompt_bytes", len(prompt)).
		Strs("files", c.Paths()).Msg("submitting chunk for review")

	response, err := llms.GenerateFromSinglePrompt(ctx, mc.llm, prompt, callOpts...)
	if err != nil {
		return nil, classifyModelError(err)
	}

	findings, err := DecodeFindings(response, c.Index)
	if err != nil {
		mc.log.Warn().Int("chunk", c.Index).Err(err).
			Str("head", head(response, 200)).Msg("could not decode model response")
		return nil, err
	}

	mc.log.Debug().Int("chunk", c.Index).Int("findings", len(findings)).
		Msg("chunk review complete")
	return findings, nil
}

// classifyModelError maps transport errors into the fault taxonomy.
// Unrecognized errors stay unclassified and flow through the string-based
// retryability check.
func classifyModelError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "unauthorized"):
		return fault.Permanent(err)
	case strings.Contains(msg, "400") || strings.Contains(msg, "content_filter") ||
		strings.Contains(msg, "context length"):
		return fault.Permanent(err)
	case fault.IsRetryable(err):
		return fault.Transient(err)
	default:
		return err
	}
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
