package llm

import (
	"fmt"
	"strings"

	"github.com/reviewgate/pkg/models"
)

// ScopePreset selects which finding categories the reviewer is asked for
type ScopePreset string

const (
	ScopeStandard ScopePreset = "standard"
	ScopeSecurity ScopePreset = "security"
	ScopeTest     ScopePreset = "test"
)

// scopeCategories maps presets to the categories requested in the prompt
var scopeCategories = map[ScopePreset][]models.Category{
	ScopeStandard: {
		models.CategoryDesign, models.CategoryReadability, models.CategoryBugRisk,
		models.CategoryPerformance, models.CategorySecurity, models.CategoryStyle,
	},
	ScopeSecurity: {models.CategorySecurity, models.CategoryBugRisk},
	ScopeTest:     {models.CategoryBugRisk, models.CategoryDesign, models.CategoryReadability},
}

// ParseScope validates a scope preset from config or CLI input
func ParseScope(raw string) (ScopePreset, bool) {
	s := ScopePreset(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := scopeCategories[s]
	return s, ok
}

// BuildPrompt renders the review request for one chunk. Each hunk is
// annotated with old/new line numbers so the model can report positions
// in new-file numbering without counting diff lines itself.
func BuildPrompt(c *models.Chunk, opts Options) string {
	var b strings.Builder

	b.WriteString("You are an experienced software engineer reviewing a pull request diff.\n")
	b.WriteString("Report genuine issues only; do not restate the diff or praise the code.\n\n")

	categories := scopeCategories[opts.ScopePreset]
	if len(categories) == 0 {
		categories = scopeCategories[ScopeStandard]
	}
	catNames := make([]string, len(categories))
	for i, c := range categories {
		catNames[i] = string(c)
	}

	b.WriteString("Respond with ONLY a JSON array inside a ```json fence. Schema:\n")
	b.WriteString("```json\n[\n  {\n")
	b.WriteString(`    "severity": "info" | "minor" | "major" | "critical",` + "\n")
	b.WriteString(fmt.Sprintf("    %q: %q,\n", "category", strings.Join(catNames, " | ")))
	b.WriteString(`    "file": "relative path as shown in the diff",` + "\n")
	b.WriteString(`    "line": 123,` + "\n")
	b.WriteString(`    "message": "what is wrong and why it matters",` + "\n")
	b.WriteString(`    "suggestion": "concrete fix (optional)"` + "\n")
	b.WriteString("  }\n]\n```\n")
	b.WriteString("Use the NEW column line number. Use line 0 for file-level findings.\n")

	if opts.Language != "" {
		fmt.Fprintf(&b, "Write all messages in %s.\n", opts.Language)
	}

	b.WriteString("\nChanged files:\n")
	for _, p := range c.Paths() {
		fmt.Fprintf(&b, "- %s\n", p)
	}

	b.WriteString("\nDiff (OLD | NEW | content):\n")
	for i := range c.Files {
		b.WriteString("\n=== ")
		b.WriteString(c.Files[i].Path)
		b.WriteString(" ===\n")
		writeNumberedHunks(&b, &c.Files[i])
	}

	return b.String()
}

// writeNumberedHunks renders hunks as an OLD | NEW | content table,
// which is what makes model-reported line numbers trustworthy.
func writeNumberedHunks(b *strings.Builder, f *models.DiffFile) {
	for _, h := range f.Hunks {
		fmt.Fprintf(b, "%s\n", h.Header)
		for _, l := range h.Lines {
			old := "    "
			if l.OldNumber > 0 {
				old = fmt.Sprintf("%4d", l.OldNumber)
			}
			nw := "    "
			if l.NewNumber > 0 {
				nw = fmt.Sprintf("%4d", l.NewNumber)
			}
			mark := " "
			switch l.Kind {
			case models.LineAdded:
				mark = "+"
			case models.LineRemoved:
				mark = "-"
			}
			fmt.Fprintf(b, "%s |%s | %s%s\n", old, nw, mark, l.Content)
		}
	}
}
