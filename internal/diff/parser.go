package diff

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/reviewgate/internal/fault"
	"github.com/reviewgate/pkg/models"
)

// Parser parses git diff output into structured data
type Parser struct{}

// NewParser creates a new diff parser
func NewParser() *Parser {
	return &Parser{}
}

var (
	fileHeaderRe = regexp.MustCompile(`^diff --git a/(.*) b/(.*)$`)
	hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)
)

// Parse parses a full unified diff into an ordered slice of DiffFile.
// An empty diff yields an empty slice.
func (p *Parser) Parse(diffText string) ([]models.DiffFile, error) {
	if strings.TrimSpace(diffText) == "" {
		return nil, nil
	}

	var files []models.DiffFile
	for _, fileDiff := range splitByFile(diffText) {
		f, err := p.parseFileDiff(fileDiff)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// splitByFile splits a unified diff into per-file sections
func splitByFile(diffText string) []string {
	var sections []string
	var current []string

	for _, line := range strings.Split(diffText, "\n") {
		if strings.HasPrefix(line, "diff --git ") {
			if len(current) > 0 {
				sections = append(sections, strings.Join(current, "\n"))
			}
			current = []string{line}
			continue
		}
		if len(current) > 0 {
			current = append(current, line)
		}
	}
	if len(current) > 0 {
		sections = append(sections, strings.Join(current, "\n"))
	}
	return sections
}

// parseFileDiff parses one "diff --git" section
func (p *Parser) parseFileDiff(section string) (models.DiffFile, error) {
	lines := strings.Split(section, "\n")

	m := fileHeaderRe.FindStringSubmatch(lines[0])
	if m == nil {
		return models.DiffFile{}, fault.Permanent(errors.New("missing diff --git header"))
	}
	oldPath, newPath := m[1], m[2]

	file := models.DiffFile{
		Path: newPath,
		Kind: models.FileModified,
	}

	var patchStart int
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "new file mode"):
			file.Kind = models.FileAdded
		case strings.HasPrefix(line, "deleted file mode"):
			file.Kind = models.FileDeleted
			file.Path = oldPath
		case strings.HasPrefix(line, "rename from"):
			file.Kind = models.FileRenamed
			file.OldPath = oldPath
		}
		if strings.HasPrefix(line, "@@") {
			patchStart = i
			break
		}
	}

	if patchStart == 0 {
		// binary or metadata-only change, no hunks to review
		return file, nil
	}

	patch := strings.Join(lines[patchStart:], "\n")
	hunks, err := ParseHunks(patch)
	if err != nil {
		return models.DiffFile{}, err
	}
	file.Hunks = hunks
	file.RawPatch = patch
	return file, nil
}

// ParseHunks parses hunk text (the "@@ ..." portion of a unified diff,
// as returned per-file by the GitHub and GitLab APIs) into structured
// hunks with old/new line numbering on every line.
func ParseHunks(patch string) ([]models.Hunk, error) {
	if strings.TrimSpace(patch) == "" {
		return nil, nil
	}

	var hunks []models.Hunk
	var current *models.Hunk
	oldLine, newLine := 0, 0

	for _, raw := range strings.Split(patch, "\n") {
		if m := hunkHeaderRe.FindStringSubmatch(raw); m != nil {
			if current != nil {
				hunks = append(hunks, *current)
			}
			oldStart := atoiDefault(m[1], 1)
			oldCount := atoiDefault(m[2], 1)
			newStart := atoiDefault(m[3], 1)
			newCount := atoiDefault(m[4], 1)
			current = &models.Hunk{
				OldStart: oldStart,
				OldCount: oldCount,
				NewStart: newStart,
				NewCount: newCount,
				Header:   raw,
			}
			oldLine = oldStart
			newLine = newStart
			continue
		}

		if current == nil {
			// leading junk before the first hunk header
			continue
		}

		switch {
		case strings.HasPrefix(raw, "+"):
			current.Lines = append(current.Lines, models.Line{
				Kind:      models.LineAdded,
				Content:   strings.TrimPrefix(raw, "+"),
				NewNumber: newLine,
			})
			newLine++
		case strings.HasPrefix(raw, "-"):
			current.Lines = append(current.Lines, models.Line{
				Kind:      models.LineRemoved,
				Content:   strings.TrimPrefix(raw, "-"),
				OldNumber: oldLine,
			})
			oldLine++
		case strings.HasPrefix(raw, `\`):
			// "\ No newline at end of file" carries no line numbering
		default:
			content := strings.TrimPrefix(raw, " ")
			current.Lines = append(current.Lines, models.Line{
				Kind:      models.LineContext,
				Content:   content,
				OldNumber: oldLine,
				NewNumber: newLine,
			})
			oldLine++
			newLine++
		}
	}

	if current != nil {
		hunks = append(hunks, *current)
	}
	return hunks, nil
}

// NewLineSet returns the set of new-file line numbers that appear in the
// file's hunks (added and context lines). Used for snapping findings to
// commentable positions.
func NewLineSet(file *models.DiffFile) map[int]bool {
	set := make(map[int]bool)
	for _, h := range file.Hunks {
		for _, l := range h.Lines {
			if l.NewNumber > 0 {
				set[l.NewNumber] = true
			}
		}
	}
	return set
}

// AddedLineSet returns only the added new-file line numbers
func AddedLineSet(file *models.DiffFile) map[int]bool {
	set := make(map[int]bool)
	for _, h := range file.Hunks {
		for _, l := range h.Lines {
			if l.Kind == models.LineAdded {
				set[l.NewNumber] = true
			}
		}
	}
	return set
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
