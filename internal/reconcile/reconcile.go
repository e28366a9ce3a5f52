package reconcile

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/reviewgate/internal/diff"
	"github.com/reviewgate/internal/risk"
	"github.com/reviewgate/pkg/models"
)

// snapRange is how far (in lines) a finding may be moved to land on a
// line that actually appears in the diff's new side.
const snapRange = 3

// Reconcile computes the publish plan for merged findings against the
// existing comment snapshot. Findings whose fingerprint matches an
// existing comment, or whose (path, line) matches an unmarked existing
// comment with an equal normalized body prefix, become skip-duplicate.
// Duplicate fingerprints within the new set collapse to the first
// occurrence in merged order. Pure function: no network, no mutation of
// the inputs beyond filling finding fingerprints.
func Reconcile(findings []models.Finding, existing []models.ExistingComment, log zerolog.Logger) models.PublishPlan {
	seen := make(map[string]bool, len(existing))
	unmarked := make(map[locationKey][]string)

	for _, c := range existing {
		fps := ExtractMarkers(c.Body)
		if c.Fingerprint != "" {
			fps = append(fps, c.Fingerprint)
		}
		if len(fps) > 0 {
			for _, fp := range fps {
				seen[fp] = true
			}
			continue
		}
		key := locationKey{path: c.Path, line: c.Line}
		unmarked[key] = append(unmarked[key], NormalizeMessage(c.Body))
	}

	plan := models.PublishPlan{
		Comments: make([]models.PlannedComment, 0, len(findings)),
	}
	planned := make(map[string]bool, len(findings))

	for i := range findings {
		f := findings[i]
		fp := FingerprintFinding(&f)

		action := models.ActionCreate
		switch {
		case planned[fp]:
			// same issue re-emitted from overlapping chunk context
			action = models.ActionSkipDuplicate
		case seen[fp]:
			action = models.ActionSkipDuplicate
		case matchesUnmarked(unmarked, f):
			action = models.ActionSkipDuplicate
		}

		if action == models.ActionCreate {
			planned[fp] = true
		} else {
			log.Debug().Str("fingerprint", fp).Str("ref", f.Ref()).
				Msg("skipping duplicate finding")
		}

		plan.Comments = append(plan.Comments, models.PlannedComment{Finding: f, Action: action})
	}

	plan.Verdict = risk.Aggregate(findings)
	return plan
}

type locationKey struct {
	path string
	line int
}

// matchesUnmarked compares a finding against comments that carry no
// fingerprint marker. The comparison is positional plus a normalized
// message containment check, which keeps re-runs idempotent even against
// comments posted by earlier tool versions.
func matchesUnmarked(unmarked map[locationKey][]string, f models.Finding) bool {
	bodies := unmarked[locationKey{path: f.Path, line: f.Line}]
	if len(bodies) == 0 {
		return false
	}
	msg := NormalizeMessage(f.Message)
	if msg == "" {
		return false
	}
	for _, body := range bodies {
		if strings.Contains(body, msg) {
			return true
		}
	}
	return false
}

// ResolveLines snaps each finding's line onto a line that exists in the
// diff's new side, searching up to snapRange lines in both directions.
// Findings that cannot be placed degrade to file-level (line 0) so the
// publisher can fall back to a non-inline comment. Fingerprints are
// computed after snapping, so placement is part of dedup identity.
func ResolveLines(findings []models.Finding, files []models.DiffFile) []models.Finding {
	lineSets := make(map[string]map[int]bool, len(files))
	for i := range files {
		lineSets[files[i].Path] = diff.NewLineSet(&files[i])
	}

	out := make([]models.Finding, len(findings))
	for i, f := range findings {
		set, ok := lineSets[f.Path]
		if !ok {
			f.Line = 0
		} else if f.Line > 0 && !set[f.Line] {
			f.Line = snap(set, f.Line)
		}
		f.Fingerprint = ""
		FingerprintFinding(&f)
		out[i] = f
	}
	return out
}

func snap(set map[int]bool, line int) int {
	for d := 1; d <= snapRange; d++ {
		if set[line-d] {
			return line - d
		}
		if set[line+d] {
			return line + d
		}
	}
	return 0
}
