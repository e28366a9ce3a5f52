package risk

import (
	"fmt"
	"strings"

	"github.com/reviewgate/pkg/models"
)

// Aggregate reduces findings to a single verdict: the highest severity
// observed plus per-severity counts. An empty finding set yields severity
// none. Pure function, total over any input.
func Aggregate(findings []models.Finding) models.RiskVerdict {
	verdict := models.RiskVerdict{
		Severity: models.SeverityNone,
		Counts:   make(map[models.Severity]int),
	}

	for _, f := range findings {
		verdict.Counts[f.Severity]++
		if f.Severity.Rank() > verdict.Severity.Rank() {
			verdict.Severity = f.Severity
		}
	}
	return verdict
}

// AtOrAbove reports whether the verdict severity meets the threshold.
// A none verdict never meets any valid threshold.
func AtOrAbove(verdict models.RiskVerdict, threshold models.Severity) bool {
	if !threshold.Valid() {
		return false
	}
	return verdict.Severity.Rank() >= threshold.Rank()
}

// Summary renders a one-line human-readable verdict for logs and CLI output
func Summary(verdict models.RiskVerdict) string {
	if verdict.Severity == models.SeverityNone {
		return "risk: none (no findings)"
	}

	order := []models.Severity{
		models.SeverityCritical,
		models.SeverityMajor,
		models.SeverityMinor,
		models.SeverityInfo,
	}
	var parts []string
	for _, s := range order {
		if n := verdict.Counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", s, n))
		}
	}
	return fmt.Sprintf("risk: %s (%s)", verdict.Severity, strings.Join(parts, ", "))
}
