package platform

import (
	"strings"
	"testing"

	"github.com/reviewgate/internal/reconcile"
	"github.com/reviewgate/pkg/models"
)

func TestCommentBodyCarriesMarker(t *testing.T) {
	f := models.Finding{
		Path:       "a.go",
		Line:       4,
		Severity:   models.SeverityMajor,
		Category:   models.CategoryBugRisk,
		Message:    "possible nil dereference",
		Suggestion: "guard the pointer",
	}

	body := CommentBody(&f)

	if !strings.Contains(body, "possible nil dereference") {
		t.Error("body missing message")
	}
	if !strings.Contains(body, "guard the pointer") {
		t.Error("body missing suggestion")
	}
	if !strings.Contains(body, "🟠") {
		t.Error("body missing severity badge")
	}
	if got := reconcile.ExtractMarker(body); got != f.Fingerprint {
		t.Errorf("marker = %q, want %q", got, f.Fingerprint)
	}
}

func TestFallbackListBodyMarksEveryFinding(t *testing.T) {
	findings := []models.Finding{
		{Path: "a.go", Severity: models.SeverityMinor, Category: models.CategoryStyle, Message: "first"},
		{Path: "b.go", Severity: models.SeverityInfo, Category: models.CategoryStyle, Message: "second"},
	}

	body := FallbackListBody(findings)
	if !strings.HasPrefix(body, SummaryHeader) {
		t.Error("fallback body missing summary header")
	}
	if n := strings.Count(body, "reviewgate:fp:"); n != 2 {
		t.Errorf("body carries %d markers, want 2", n)
	}
}

func TestNoFindingsBody(t *testing.T) {
	clean := NoFindingsBody(models.RunComplete)
	if !strings.Contains(clean, "LGTM") {
		t.Errorf("complete-run body = %q", clean)
	}

	partial := NoFindingsBody(models.RunPartial)
	if !strings.Contains(partial, "partial") {
		t.Errorf("partial-run body = %q", partial)
	}
	if strings.Contains(partial, "LGTM") {
		t.Error("partial run must not claim a clean review")
	}
}

func TestRefString(t *testing.T) {
	r := Ref{Repo: "acme/widgets", Number: 7}
	if got := r.String(); got != "acme/widgets#7" {
		t.Errorf("Ref.String() = %q", got)
	}
}
