package review

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/reviewgate/internal/chunk"
	"github.com/reviewgate/internal/llm"
	"github.com/reviewgate/internal/orchestrate"
	"github.com/reviewgate/internal/platform"
	"github.com/reviewgate/internal/reconcile"
	"github.com/reviewgate/internal/retry"
	"github.com/reviewgate/pkg/models"
)

// Options is the run configuration assembled by the entry point. Core
// components never read the environment themselves.
type Options struct {
	MaxChunkBytes     int
	Concurrency       int
	ChunkTimeout      time.Duration
	RequestsPerSecond float64
	Retry             retry.Config

	Language        string
	MaxOutputTokens int
	Scope           llm.ScopePreset

	Filter chunk.FilterOptions

	// DryRun computes the publish plan without posting anything
	DryRun bool
}

// Service wires the pipeline stages: fetch, filter, chunk, orchestrate,
// reconcile, publish.
type Service struct {
	platform platform.Platform
	client   llm.Client
	opts     Options
	log      zerolog.Logger
}

// NewService builds the pipeline service
func NewService(p platform.Platform, client llm.Client, opts Options, log zerolog.Logger) *Service {
	return &Service{platform: p, client: client, opts: opts, log: log}
}

// RunResult carries everything a caller needs for reporting and the CI
// gate decision.
type RunResult struct {
	PR      *platform.PullRequestDiff
	Review  *models.ReviewResult
	Plan    *models.PublishPlan
	Posted  []models.PostOutcome
	Skipped bool // draft pull request or no reviewable files
}

// Run executes one end-to-end review of the referenced pull request
func (s *Service) Run(ctx context.Context, ref platform.Ref) (*RunResult, error) {
	pr, err := s.platform.FetchDiff(ctx, ref)
	if err != nil {
		return nil, err
	}
	result := &RunResult{PR: pr}

	if pr.Draft {
		s.log.Info().Str("pr", ref.String()).Msg("draft pull request, skipping review")
		result.Skipped = true
		return result, nil
	}

	files := chunk.Filter(pr.Files, s.opts.Filter)
	if len(files) == 0 {
		s.log.Info().Str("pr", ref.String()).Msg("no reviewable files after filtering")
		result.Skipped = true
		if !s.opts.DryRun {
			body := platform.SummaryHeader + "\n\nNo reviewable files in this pull request."
			if err := s.platform.PostSummary(ctx, ref, body); err != nil {
				s.log.Warn().Err(err).Msg("could not post no-files comment")
			}
		}
		return result, nil
	}
	s.log.Info().Int("files", len(files)).Int("total_files", len(pr.Files)).
		Str("pr", ref.String()).Msg("selected files for review")

	chunks, err := chunk.Split(files, s.opts.MaxChunkBytes)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int("chunks", len(chunks)).Int("max_bytes", s.opts.MaxChunkBytes).
		Msg("diff split into chunks")

	orch, err := orchestrate.New(s.client, orchestrate.Config{
		Concurrency:       s.opts.Concurrency,
		ChunkTimeout:      s.opts.ChunkTimeout,
		Retry:             s.opts.Retry,
		RequestsPerSecond: s.opts.RequestsPerSecond,
	}, s.log)
	if err != nil {
		return nil, err
	}

	result.Review = orch.Review(ctx, chunks, llm.Options{
		Language:        s.opts.Language,
		MaxOutputTokens: s.opts.MaxOutputTokens,
		ScopePreset:     s.opts.Scope,
	})

	findings := reconcile.ResolveLines(result.Review.Findings, files)

	existing, err := s.platform.ListComments(ctx, ref)
	if err != nil {
		return nil, err
	}

	plan := reconcile.Reconcile(findings, existing, s.log)
	result.Plan = &plan

	if s.opts.DryRun {
		s.log.Info().Int("creates", len(plan.Creates())).
			Msg("dry run, skipping publish")
		return result, nil
	}

	if len(result.Review.Findings) == 0 {
		if result.Review.Status == models.RunFailed {
			// nothing was reviewed, a clean-bill comment would mislead
			s.log.Warn().Msg("all chunks failed, skipping summary post")
			return result, nil
		}
		body := platform.NoFindingsBody(result.Review.Status)
		if err := s.platform.PostSummary(ctx, ref, body); err != nil {
			s.log.Warn().Err(err).Msg("could not post no-findings comment")
		}
		return result, nil
	}

	result.Posted = s.platform.Apply(ctx, pr, &plan)

	failed := 0
	for _, o := range result.Posted {
		if o.Err != nil {
			failed++
		}
	}
	s.log.Info().Int("posted", len(result.Posted)-failed).Int("post_failures", failed).
		Msg("publish plan applied")

	return result, nil
}
