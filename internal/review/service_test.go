package review

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/reviewgate/internal/fault"
	"github.com/reviewgate/internal/llm"
	"github.com/reviewgate/internal/logging"
	"github.com/reviewgate/internal/platform"
	"github.com/reviewgate/internal/reconcile"
	"github.com/reviewgate/internal/retry"
	"github.com/reviewgate/pkg/models"
)

// fakePlatform is an in-memory platform boundary
type fakePlatform struct {
	mu        sync.Mutex
	pr        *platform.PullRequestDiff
	existing  []models.ExistingComment
	applied   []models.PublishPlan
	summaries []string
}

func (p *fakePlatform) FetchDiff(ctx context.Context, ref platform.Ref) (*platform.PullRequestDiff, error) {
	return p.pr, nil
}

func (p *fakePlatform) ListComments(ctx context.Context, ref platform.Ref) ([]models.ExistingComment, error) {
	return p.existing, nil
}

func (p *fakePlatform) Apply(ctx context.Context, pr *platform.PullRequestDiff, plan *models.PublishPlan) []models.PostOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, *plan)
	var outcomes []models.PostOutcome
	for _, f := range plan.Creates() {
		outcomes = append(outcomes, models.PostOutcome{Finding: f})
	}
	return outcomes
}

func (p *fakePlatform) PostSummary(ctx context.Context, ref platform.Ref, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, body)
	return nil
}

// scriptedClient returns fixed findings per chunk
type scriptedClient struct {
	findings []models.Finding
}

func (c *scriptedClient) Analyze(ctx context.Context, ch *models.Chunk, _ llm.Options) ([]models.Finding, error) {
	var out []models.Finding
	paths := make(map[string]bool)
	for _, p := range ch.Paths() {
		paths[p] = true
	}
	for _, f := range c.findings {
		if paths[f.Path] {
			f.ChunkIndex = ch.Index
			out = append(out, f)
		}
	}
	return out, nil
}

func reviewableFile(path string, lines ...int) models.DiffFile {
	var hunkLines []models.Line
	for _, n := range lines {
		hunkLines = append(hunkLines, models.Line{Kind: models.LineAdded, Content: "x", NewNumber: n})
	}
	return models.DiffFile{
		Path:     path,
		Kind:     models.FileModified,
		Hunks:    []models.Hunk{{Lines: hunkLines}},
		RawPatch: "@@ stub @@",
	}
}

func testOptions() Options {
	return Options{
		MaxChunkBytes: 64 * 1024,
		Concurrency:   2,
		Retry:         retry.Config{MaxAttempts: 1},
		Scope:         llm.ScopeStandard,
	}
}

func TestRunEndToEnd(t *testing.T) {
	p := &fakePlatform{pr: &platform.PullRequestDiff{
		Ref:     platform.Ref{Repo: "acme/widgets", Number: 7},
		HeadSHA: "head",
		Files: []models.DiffFile{
			reviewableFile("a.go", 10, 11, 12),
			reviewableFile("b.go", 5),
		},
	}}
	client := &scriptedClient{findings: []models.Finding{
		{Path: "a.go", Line: 11, Severity: models.SeverityMajor, Category: models.CategoryBugRisk, Message: "nil deref"},
		{Path: "b.go", Line: 5, Severity: models.SeverityInfo, Category: models.CategoryStyle, Message: "naming"},
	}}

	svc := NewService(p, client, testOptions(), logging.Nop())
	result, err := svc.Run(context.Background(), p.pr.Ref)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Skipped {
		t.Fatal("run unexpectedly skipped")
	}
	if result.Review.Status != models.RunComplete {
		t.Errorf("status = %s, want complete", result.Review.Status)
	}
	if got := len(result.Plan.Creates()); got != 2 {
		t.Errorf("planned creates = %d, want 2", got)
	}
	if result.Plan.Verdict.Severity != models.SeverityMajor {
		t.Errorf("verdict = %s, want major", result.Plan.Verdict.Severity)
	}
	if len(p.applied) != 1 {
		t.Fatalf("Apply called %d times, want 1", len(p.applied))
	}
	if len(result.Posted) != 2 {
		t.Errorf("posted = %d, want 2", len(result.Posted))
	}
}

func TestRunSecondTimeSkipsDuplicates(t *testing.T) {
	files := []models.DiffFile{reviewableFile("a.go", 10)}
	finding := models.Finding{
		Path: "a.go", Line: 10,
		Severity: models.SeverityMajor, Category: models.CategoryBugRisk,
		Message: "nil deref",
	}
	fp := reconcile.Fingerprint("a.go", 10, models.CategoryBugRisk, "nil deref")

	p := &fakePlatform{
		pr: &platform.PullRequestDiff{Ref: platform.Ref{Repo: "r", Number: 1}, Files: files},
		existing: []models.ExistingComment{
			{Path: "a.go", Line: 10, Body: "earlier body\n\n" + reconcile.Marker(fp)},
		},
	}
	client := &scriptedClient{findings: []models.Finding{finding}}

	svc := NewService(p, client, testOptions(), logging.Nop())
	result, err := svc.Run(context.Background(), p.pr.Ref)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(result.Plan.Creates()); got != 0 {
		t.Errorf("second run planned %d creates, want 0", got)
	}
	// findings exist, so Apply still runs (with zero creates)
	if len(result.Posted) != 0 {
		t.Errorf("posted = %d, want 0", len(result.Posted))
	}
}

func TestRunSkipsDraft(t *testing.T) {
	p := &fakePlatform{pr: &platform.PullRequestDiff{
		Ref:   platform.Ref{Repo: "r", Number: 1},
		Draft: true,
		Files: []models.DiffFile{reviewableFile("a.go", 1)},
	}}

	svc := NewService(p, &scriptedClient{}, testOptions(), logging.Nop())
	result, err := svc.Run(context.Background(), p.pr.Ref)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Skipped {
		t.Error("draft pull request should be skipped")
	}
	if len(p.applied) != 0 || len(p.summaries) != 0 {
		t.Error("draft skip should post nothing")
	}
}

func TestRunNoReviewableFilesPostsNotice(t *testing.T) {
	p := &fakePlatform{pr: &platform.PullRequestDiff{
		Ref:   platform.Ref{Repo: "r", Number: 1},
		Files: []models.DiffFile{{Path: "image.png", Kind: models.FileModified}},
	}}

	svc := NewService(p, &scriptedClient{}, testOptions(), logging.Nop())
	result, err := svc.Run(context.Background(), p.pr.Ref)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Skipped {
		t.Error("expected skip when nothing reviewable remains")
	}
	if len(p.summaries) != 1 || !strings.Contains(p.summaries[0], "No reviewable files") {
		t.Errorf("summaries = %v, want one no-files notice", p.summaries)
	}
}

func TestRunNoFindingsPostsLGTM(t *testing.T) {
	p := &fakePlatform{pr: &platform.PullRequestDiff{
		Ref:   platform.Ref{Repo: "r", Number: 1},
		Files: []models.DiffFile{reviewableFile("a.go", 1)},
	}}

	svc := NewService(p, &scriptedClient{}, testOptions(), logging.Nop())
	result, err := svc.Run(context.Background(), p.pr.Ref)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Skipped {
		t.Fatal("clean run should not be marked skipped")
	}
	if len(p.summaries) != 1 {
		t.Fatalf("summaries = %v, want one no-findings comment", p.summaries)
	}
	if len(p.applied) != 0 {
		t.Error("Apply should not run when there are no findings")
	}
}

type failingClient struct{}

func (c *failingClient) Analyze(context.Context, *models.Chunk, llm.Options) ([]models.Finding, error) {
	return nil, fault.Permanent(errors.New("model rejected the request"))
}

func TestRunAllChunksFailedPostsNothing(t *testing.T) {
	p := &fakePlatform{pr: &platform.PullRequestDiff{
		Ref:   platform.Ref{Repo: "r", Number: 1},
		Files: []models.DiffFile{reviewableFile("a.go", 1)},
	}}

	svc := NewService(p, &failingClient{}, testOptions(), logging.Nop())
	result, err := svc.Run(context.Background(), p.pr.Ref)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Review.Status != models.RunFailed {
		t.Fatalf("status = %s, want failed", result.Review.Status)
	}
	if len(p.summaries) != 0 {
		t.Errorf("summaries = %v, a failed run must not post a clean bill", p.summaries)
	}
	if len(p.applied) != 0 {
		t.Error("Apply should not run for a failed run")
	}
}

func TestRunDryRunPublishesNothing(t *testing.T) {
	p := &fakePlatform{pr: &platform.PullRequestDiff{
		Ref:   platform.Ref{Repo: "r", Number: 1},
		Files: []models.DiffFile{reviewableFile("a.go", 10)},
	}}
	client := &scriptedClient{findings: []models.Finding{
		{Path: "a.go", Line: 10, Severity: models.SeverityMinor, Category: models.CategoryStyle, Message: "m"},
	}}

	opts := testOptions()
	opts.DryRun = true
	svc := NewService(p, client, opts, logging.Nop())
	result, err := svc.Run(context.Background(), p.pr.Ref)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Plan.Creates()) != 1 {
		t.Errorf("plan creates = %d, want 1", len(result.Plan.Creates()))
	}
	if len(p.applied) != 0 || len(p.summaries) != 0 {
		t.Error("dry run must not touch the platform")
	}
}

func TestRunSnapsFindingLines(t *testing.T) {
	p := &fakePlatform{pr: &platform.PullRequestDiff{
		Ref:   platform.Ref{Repo: "r", Number: 1},
		Files: []models.DiffFile{reviewableFile("a.go", 10, 11)},
	}}
	// model reports line 13, which is not in the diff; 11 is within range
	client := &scriptedClient{findings: []models.Finding{
		{Path: "a.go", Line: 13, Severity: models.SeverityMinor, Category: models.CategoryStyle, Message: "m"},
	}}

	svc := NewService(p, client, testOptions(), logging.Nop())
	result, err := svc.Run(context.Background(), p.pr.Ref)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	creates := result.Plan.Creates()
	if len(creates) != 1 {
		t.Fatalf("creates = %d, want 1", len(creates))
	}
	if creates[0].Line != 11 {
		t.Errorf("finding line = %d, want snapped to 11", creates[0].Line)
	}
}
