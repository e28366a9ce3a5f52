package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/reviewgate/internal/reconcile"
	"github.com/reviewgate/pkg/models"
)

// Ref identifies one pull/merge request on a hosting platform
type Ref struct {
	Repo   string // "owner/name" or GitLab "group/project"
	Number int    // PR number / MR IID
}

func (r Ref) String() string {
	return fmt.Sprintf("%s#%d", r.Repo, r.Number)
}

// PullRequestDiff is the fetched diff plus the request metadata the
// pipeline needs for publishing.
type PullRequestDiff struct {
	Ref      Ref
	Title    string
	Draft    bool
	BaseSHA  string
	HeadSHA  string
	StartSHA string // GitLab diff_refs start_sha, empty elsewhere
	Files    []models.DiffFile
}

// DiffSource supplies the parsed diff for a revision pair identified by
// the pull request reference.
type DiffSource interface {
	FetchDiff(ctx context.Context, ref Ref) (*PullRequestDiff, error)
}

// ExistingCommentSource lists previously posted review comments for
// deduplication. Implementations never mutate platform state.
type ExistingCommentSource interface {
	ListComments(ctx context.Context, ref Ref) ([]models.ExistingComment, error)
}

// Publisher applies a publish plan. Individual post failures are isolated
// per finding: one failed create never aborts the remaining posts.
type Publisher interface {
	Apply(ctx context.Context, pr *PullRequestDiff, plan *models.PublishPlan) []models.PostOutcome
	PostSummary(ctx context.Context, ref Ref, body string) error
}

// Platform bundles the three collaborator roles one hosting service
// implements.
type Platform interface {
	DiffSource
	ExistingCommentSource
	Publisher
}

var severityBadge = map[models.Severity]string{
	models.SeverityCritical: "🔴 **CRITICAL**",
	models.SeverityMajor:    "🟠 **MAJOR**",
	models.SeverityMinor:    "🟡 **MINOR**",
	models.SeverityInfo:     "🟢 **INFO**",
}

// CommentBody renders one finding as a platform comment, including the
// hidden fingerprint marker later runs use for deduplication.
func CommentBody(f *models.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] — %s", severityBadge[f.Severity], f.Category, f.Message)
	if f.Suggestion != "" {
		fmt.Fprintf(&b, "\n\n**Suggested fix:** %s", f.Suggestion)
	}
	b.WriteString("\n\n")
	b.WriteString(reconcile.Marker(reconcile.FingerprintFinding(f)))
	return b.String()
}

// SummaryHeader prefixes every non-inline comment this tool posts
const SummaryHeader = "### 🤖 reviewgate"

// FallbackListBody renders findings that could not be placed inline as a
// single summary comment.
func FallbackListBody(findings []models.Finding) string {
	var b strings.Builder
	b.WriteString(SummaryHeader)
	b.WriteString("\n\nFindings without an inline position:\n")
	for i := range findings {
		f := &findings[i]
		fmt.Fprintf(&b, "\n- %s `%s` [%s] — %s", severityBadge[f.Severity], f.Ref(), f.Category, f.Message)
		if f.Suggestion != "" {
			fmt.Fprintf(&b, "\n  **Suggested fix:** %s", f.Suggestion)
		}
		fmt.Fprintf(&b, "\n  %s", reconcile.Marker(reconcile.FingerprintFinding(f)))
	}
	return b.String()
}

// NoFindingsBody is posted when a completed run produced zero findings
func NoFindingsBody(status models.RunStatus) string {
	if status == models.RunPartial {
		return SummaryHeader + "\n\nNo findings from the chunks that completed. " +
			"Some chunks failed review; results are partial."
	}
	return SummaryHeader + "\n\nLGTM! 🎉 No findings."
}
