package orchestrate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/reviewgate/internal/fault"
	"github.com/reviewgate/internal/llm"
	"github.com/reviewgate/internal/retry"
	"github.com/reviewgate/pkg/models"
)

// ChunkState is the explicit per-chunk lifecycle used instead of nested
// retry loops, so orchestration behavior stays testable with virtual time.
type ChunkState string

const (
	StatePending        ChunkState = "pending"
	StateInFlight       ChunkState = "in_flight"
	StateRetryScheduled ChunkState = "retry_scheduled"
	StateSucceeded      ChunkState = "succeeded"
	StateFailed         ChunkState = "failed"
)

// Config tunes the orchestration run
type Config struct {
	Concurrency  int
	ChunkTimeout time.Duration
	Retry        retry.Config

	// RequestsPerSecond caps the total model call rate across all
	// workers. Zero disables throttling.
	RequestsPerSecond float64

	// OnStateChange observes chunk lifecycle transitions. Callbacks may
	// arrive concurrently from different workers, never twice for the
	// same (chunk, transition) pair.
	OnStateChange func(chunkIndex int, state ChunkState)
}

// DefaultConfig returns orchestration defaults matched to typical model
// provider rate limits
func DefaultConfig() Config {
	return Config{
		Concurrency:  4,
		ChunkTimeout: 2 * time.Minute,
		Retry:        retry.ReviewConfig(),
	}
}

// chunkOutcome is one chunk's slot in the result accumulator. Each slot
// is written exactly once, by the worker that owns the chunk.
type chunkOutcome struct {
	findings []models.Finding
	failure  *models.ChunkFailure
	states   []ChunkState
}

// Orchestrator drives a review client over all chunks with bounded
// concurrency, per-chunk retry, and partial-failure tolerance.
type Orchestrator struct {
	client  llm.Client
	cfg     Config
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New validates the configuration and builds an orchestrator
func New(client llm.Client, cfg Config, log zerolog.Logger) (*Orchestrator, error) {
	if client == nil {
		return nil, fault.Config("review client is required")
	}
	if cfg.Concurrency <= 0 {
		return nil, fault.Config("concurrency must be positive, got %d", cfg.Concurrency)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Concurrency)
	}

	return &Orchestrator{client: client, cfg: cfg, limiter: limiter, log: log}, nil
}

// Review processes all chunks and returns the merged result. Chunks that
// exhaust retries contribute a failure record instead of aborting the run;
// the result is merged in chunk-index order regardless of completion
// order. Cancelling ctx stops new dispatch and marks unprocessed chunks
// failed, keeping results from chunks that already completed.
func (o *Orchestrator) Review(ctx context.Context, chunks []models.Chunk, opts llm.Options) *models.ReviewResult {
	result := &models.ReviewResult{Chunks: len(chunks)}
	if len(chunks) == 0 {
		result.Status = models.RunComplete
		result.Findings = []models.Finding{}
		return result
	}

	outcomes := make([]chunkOutcome, len(chunks))
	taskCh := make(chan int, len(chunks))
	for i := range chunks {
		taskCh <- i
	}
	close(taskCh)

	workers := o.cfg.Concurrency
	if workers > len(chunks) {
		workers = len(chunks)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range taskCh {
				outcomes[idx] = o.runChunk(ctx, &chunks[idx], opts)
			}
		}()
	}
	wg.Wait()

	return o.merge(chunks, outcomes, result)
}

// runChunk walks one chunk through the retry state machine
func (o *Orchestrator) runChunk(ctx context.Context, c *models.Chunk, opts llm.Options) chunkOutcome {
	out := chunkOutcome{}
	o.transition(&out, c.Index, StatePending)
	log := o.log.With().Int("chunk", c.Index).Logger()

	maxAttempts := o.cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	var lastErr error

	for {
		// cooperative cancellation: checked before dispatch and
		// between attempts, never mid-call
		if err := ctx.Err(); err != nil {
			o.transition(&out, c.Index, StateFailed)
			out.failure = &models.ChunkFailure{ChunkIndex: c.Index, Attempts: attempts, Err: err}
			return out
		}

		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				o.transition(&out, c.Index, StateFailed)
				out.failure = &models.ChunkFailure{ChunkIndex: c.Index, Attempts: attempts, Err: err}
				return out
			}
		}

		o.transition(&out, c.Index, StateInFlight)
		attempts++

		findings, err := o.analyzeOnce(ctx, c, opts)
		if err == nil {
			o.transition(&out, c.Index, StateSucceeded)
			out.findings = findings
			log.Debug().Int("attempts", attempts).Int("findings", len(findings)).
				Msg("chunk succeeded")
			return out
		}
		lastErr = err

		if !fault.IsRetryable(err) || attempts >= maxAttempts {
			o.transition(&out, c.Index, StateFailed)
			out.failure = &models.ChunkFailure{ChunkIndex: c.Index, Attempts: attempts, Err: lastErr}
			log.Warn().Err(lastErr).Int("attempts", attempts).
				Str("kind", fault.Kind(lastErr)).Msg("chunk failed")
			return out
		}

		o.transition(&out, c.Index, StateRetryScheduled)
		delay := retry.Delay(o.cfg.Retry, attempts-1)
		log.Debug().Err(err).Dur("backoff", delay).Int("attempt", attempts).
			Msg("chunk review failed, retry scheduled")

		if err := o.backoff(ctx, delay); err != nil {
			o.transition(&out, c.Index, StateFailed)
			out.failure = &models.ChunkFailure{ChunkIndex: c.Index, Attempts: attempts, Err: err}
			return out
		}
	}
}

// transition records a chunk state change and notifies the observer
func (o *Orchestrator) transition(out *chunkOutcome, chunkIndex int, state ChunkState) {
	out.states = append(out.states, state)
	if o.cfg.OnStateChange != nil {
		o.cfg.OnStateChange(chunkIndex, state)
	}
}

// analyzeOnce performs a single attempt under the per-chunk deadline.
// A deadline hit is a transient failure of this chunk only.
func (o *Orchestrator) analyzeOnce(ctx context.Context, c *models.Chunk, opts llm.Options) ([]models.Finding, error) {
	if o.cfg.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ChunkTimeout)
		defer cancel()
	}
	findings, err := o.client.Analyze(ctx, c, opts)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, fault.Transient(err)
	}
	return findings, err
}

func (o *Orchestrator) backoff(ctx context.Context, d time.Duration) error {
	if o.cfg.Retry.Sleep != nil {
		return o.cfg.Retry.Sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// merge reassembles per-chunk outcomes in chunk-index order and applies
// the deterministic finding sort: files by first appearance in the diff,
// lines ascending within a file, chunk-submission order as stable
// tie-break.
func (o *Orchestrator) merge(chunks []models.Chunk, outcomes []chunkOutcome, result *models.ReviewResult) *models.ReviewResult {
	fileRank := make(map[string]int)
	for i := range chunks {
		for _, p := range chunks[i].Paths() {
			if _, ok := fileRank[p]; !ok {
				fileRank[p] = len(fileRank)
			}
		}
	}

	findings := make([]models.Finding, 0)
	for i := range outcomes {
		if outcomes[i].failure != nil {
			result.Failures = append(result.Failures, *outcomes[i].failure)
			continue
		}
		findings = append(findings, outcomes[i].findings...)
	}

	sort.SliceStable(findings, func(a, b int) bool {
		ra, oka := fileRank[findings[a].Path]
		rb, okb := fileRank[findings[b].Path]
		if !oka {
			ra = len(fileRank)
		}
		if !okb {
			rb = len(fileRank)
		}
		if ra != rb {
			return ra < rb
		}
		return findings[a].Line < findings[b].Line
	})

	result.Findings = findings

	switch {
	case len(result.Failures) == 0:
		result.Status = models.RunComplete
	case len(result.Failures) == len(chunks):
		result.Status = models.RunFailed
	default:
		result.Status = models.RunPartial
	}

	o.log.Info().Int("chunks", len(chunks)).Int("failed_chunks", len(result.Failures)).
		Int("findings", len(findings)).Str("status", string(result.Status)).
		Msg("review run merged")
	return result
}
