package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/reviewgate/internal/chunk"
	"github.com/reviewgate/internal/config"
	"github.com/reviewgate/internal/fault"
	"github.com/reviewgate/internal/llm"
	"github.com/reviewgate/internal/logging"
	"github.com/reviewgate/internal/platform"
	"github.com/reviewgate/internal/platform/github"
	"github.com/reviewgate/internal/platform/gitlab"
	"github.com/reviewgate/internal/redact"
	"github.com/reviewgate/internal/retry"
	"github.com/reviewgate/internal/review"
	"github.com/reviewgate/internal/risk"
	"github.com/reviewgate/pkg/models"
)

// Exit codes: 0 success, 1 unrecoverable setup or run error, 2 risk
// verdict at or above the fail-on threshold.
const (
	exitSetupError = 1
	exitRiskGate   = 2
)

// ReviewCommand returns the review command
func ReviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Review a pull/merge request and post findings",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "repo",
				Usage:    "repository identifier (owner/name)",
				EnvVars:  []string{"REVIEWGATE_REPO"},
				Required: true,
			},
			&cli.IntFlag{
				Name:     "pr",
				Usage:    "pull request number (merge request IID on GitLab)",
				EnvVars:  []string{"REVIEWGATE_PR"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "platform",
				Usage:   "hosting platform: github or gitlab",
				EnvVars: []string{"REVIEWGATE_PLATFORM_TYPE"},
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "platform API base URL for self-hosted instances",
				EnvVars: []string{"REVIEWGATE_PLATFORM_URL"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "platform API token",
				EnvVars: []string{"REVIEWGATE_PLATFORM_TOKEN"},
			},
			&cli.StringFlag{
				Name:    "ai",
				Usage:   "AI provider: openai, gemini, anthropic, or ollama",
				EnvVars: []string{"REVIEWGATE_AI_PROVIDER"},
			},
			&cli.StringFlag{
				Name:    "model",
				Usage:   "model identifier",
				EnvVars: []string{"REVIEWGATE_AI_MODEL"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "AI provider API key",
				EnvVars: []string{"REVIEWGATE_AI_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "language",
				Usage:   "output language for review messages",
				EnvVars: []string{"REVIEWGATE_REVIEW_LANGUAGE"},
			},
			&cli.IntFlag{
				Name:    "max-output-tokens",
				Usage:   "model output token budget per chunk",
				EnvVars: []string{"REVIEWGATE_AI_MAX_OUTPUT_TOKENS"},
			},
			&cli.IntFlag{
				Name:    "max-chunk-bytes",
				Usage:   "diff size budget per analysis chunk",
				EnvVars: []string{"REVIEWGATE_REVIEW_MAX_CHUNK_BYTES"},
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "parallel review requests",
				EnvVars: []string{"REVIEWGATE_REVIEW_CONCURRENCY"},
			},
			&cli.StringFlag{
				Name:    "scope",
				Usage:   "review scope preset: standard, security, or test",
				EnvVars: []string{"REVIEWGATE_REVIEW_SCOPE"},
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "glob of files to review (repeatable)",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "glob of files to skip (repeatable)",
			},
			&cli.IntFlag{
				Name:    "max-files",
				Usage:   "cap on reviewed files per run",
				EnvVars: []string{"REVIEWGATE_REVIEW_MAX_FILES"},
			},
			&cli.StringFlag{
				Name:    "fail-on",
				Usage:   "exit non-zero when verdict severity reaches this level (info|minor|major|critical)",
				EnvVars: []string{"REVIEWGATE_REVIEW_FAIL_ON"},
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"d"},
				Usage:   "compute the publish plan without posting comments",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level: trace, debug, info, warn, error",
				EnvVars: []string{"REVIEWGATE_LOG_LEVEL"},
			},
		},
		Action: runReview,
	}
}

func runReview(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	applyFlagOverrides(c, cfg)

	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	runID := uuid.NewString()
	log := logging.ForRun(logging.Setup(cfg.Log.Level), runID)

	scope, ok := llm.ParseScope(cfg.Review.Scope)
	if !ok {
		return cli.Exit(fmt.Sprintf("unknown review scope %q", cfg.Review.Scope), exitSetupError)
	}

	var failOn models.Severity
	if raw := c.String("fail-on"); raw != "" || cfg.Review.FailOn != "" {
		if raw == "" {
			raw = cfg.Review.FailOn
		}
		failOn = models.Severity(raw)
		if !failOn.Valid() {
			return cli.Exit(fmt.Sprintf("unknown fail-on severity %q", raw), exitSetupError)
		}
	}

	ctx := context.Background()

	host, err := buildPlatform(cfg, log)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	client, err := buildClient(ctx, cfg, log)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}

	svc := review.NewService(host, client, review.Options{
		MaxChunkBytes:     cfg.Review.MaxChunkBytes,
		Concurrency:       cfg.Review.Concurrency,
		ChunkTimeout:      cfg.Review.ChunkTimeout,
		RequestsPerSecond: cfg.Review.RequestsPerSecond,
		Retry:             retry.ReviewConfig(),
		Language:          cfg.Review.Language,
		MaxOutputTokens:   cfg.AI.MaxOutputTokens,
		Scope:             scope,
		Filter: chunk.FilterOptions{
			IncludeGlobs: cfg.Review.Include,
			ExcludeGlobs: cfg.Review.Exclude,
			MaxFiles:     cfg.Review.MaxFiles,
		},
		DryRun: c.Bool("dry-run"),
	}, log)

	ref := platform.Ref{Repo: c.String("repo"), Number: c.Int("pr")}
	log.Info().Str("pr", ref.String()).Str("platform", cfg.Platform.Type).
		Str("model", cfg.AI.Model).Msg("starting review")

	result, err := svc.Run(ctx, ref)
	if err != nil {
		if fault.IsFatal(err) {
			return cli.Exit(err.Error(), exitSetupError)
		}
		return cli.Exit(fmt.Sprintf("review failed: %v", err), exitSetupError)
	}

	return report(c, result, failOn)
}

// report prints the run outcome and applies the CI gate
func report(c *cli.Context, result *review.RunResult, failOn models.Severity) error {
	if result.Skipped {
		fmt.Println("nothing to review")
		return nil
	}

	rr := result.Review
	fmt.Printf("status: %s (%d/%d chunks succeeded)\n",
		rr.Status, rr.Chunks-len(rr.Failures), rr.Chunks)

	plan := result.Plan
	creates, skips := 0, 0
	for _, pc := range plan.Comments {
		if pc.Action == models.ActionCreate {
			creates++
		} else {
			skips++
		}
	}
	fmt.Printf("findings: %d (%d new, %d duplicates)\n", len(plan.Comments), creates, skips)
	fmt.Println(risk.Summary(plan.Verdict))

	if c.Bool("dry-run") {
		for _, pc := range plan.Comments {
			f := pc.Finding
			fmt.Printf("  [%s] %-8s %s: %s\n", pc.Action, f.Severity, f.Ref(), f.Message)
		}
	}

	if rr.Status == models.RunFailed {
		return cli.Exit("all chunks failed review", exitSetupError)
	}

	if failOn != "" && risk.AtOrAbove(plan.Verdict, failOn) {
		return cli.Exit(fmt.Sprintf("risk gate: verdict %s is at or above %s", plan.Verdict.Severity, failOn), exitRiskGate)
	}
	return nil
}

// applyFlagOverrides layers explicit CLI flags over file/env config
func applyFlagOverrides(c *cli.Context, cfg *config.Config) {
	if v := c.String("platform"); v != "" {
		cfg.Platform.Type = v
	}
	if v := c.String("base-url"); v != "" {
		cfg.Platform.URL = v
	}
	if v := c.String("token"); v != "" {
		cfg.Platform.Token = v
	}
	if v := c.String("ai"); v != "" {
		cfg.AI.Provider = v
	}
	if v := c.String("model"); v != "" {
		cfg.AI.Model = v
	}
	if v := c.String("api-key"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := c.String("language"); v != "" {
		cfg.Review.Language = v
	}
	if v := c.Int("max-output-tokens"); v > 0 {
		cfg.AI.MaxOutputTokens = v
	}
	if v := c.Int("max-chunk-bytes"); v > 0 {
		cfg.Review.MaxChunkBytes = v
	}
	if v := c.Int("concurrency"); v > 0 {
		cfg.Review.Concurrency = v
	}
	if v := c.String("scope"); v != "" {
		cfg.Review.Scope = v
	}
	if v := c.StringSlice("include"); len(v) > 0 {
		cfg.Review.Include = v
	}
	if v := c.StringSlice("exclude"); len(v) > 0 {
		cfg.Review.Exclude = v
	}
	if v := c.Int("max-files"); v > 0 {
		cfg.Review.MaxFiles = v
	}
	if v := c.String("fail-on"); v != "" {
		cfg.Review.FailOn = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
}

// buildPlatform constructs the hosting platform adapter
func buildPlatform(cfg *config.Config, log zerolog.Logger) (platform.Platform, error) {
	switch cfg.Platform.Type {
	case "github":
		return github.New(cfg.Platform.URL, cfg.Platform.Token, log), nil
	case "gitlab":
		return gitlab.New(cfg.Platform.URL, cfg.Platform.Token, log)
	default:
		return nil, fault.Config("unsupported platform %q", cfg.Platform.Type)
	}
}

// buildClient constructs the model-backed review client with optional
// secret redaction
func buildClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (llm.Client, error) {
	provider, err := llm.ParseProvider(cfg.AI.Provider)
	if err != nil {
		return nil, err
	}

	model, err := llm.NewModel(ctx, llm.ModelOptions{
		Provider: provider,
		APIKey:   cfg.AI.APIKey,
		Model:    cfg.AI.Model,
		BaseURL:  cfg.AI.BaseURL,
	})
	if err != nil {
		return nil, fault.Config("initialize %s model: %v", cfg.AI.Provider, err)
	}

	var redactor llm.Redactor
	if cfg.Review.RedactSecrets {
		r, err := redact.New(log)
		if err != nil {
			return nil, fmt.Errorf("initialize secret redactor: %w", err)
		}
		redactor = r
	}

	return llm.NewModelClient(model, redactor, log), nil
}
