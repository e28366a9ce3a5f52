package chunk

import (
	"path"
	"strings"

	"github.com/reviewgate/internal/fault"
	"github.com/reviewgate/pkg/models"
)

// Split groups diff files into ordered chunks whose serialized size stays
// within maxBytes. Files are never split: a single file larger than
// maxBytes becomes its own oversized chunk, so the byte budget is soft
// while file atomicity is hard. Chunk indices follow emission order and
// are stable for identical input.
func Split(files []models.DiffFile, maxBytes int) ([]models.Chunk, error) {
	if maxBytes <= 0 {
		return nil, fault.Config("max chunk bytes must be positive, got %d", maxBytes)
	}
	if len(files) == 0 {
		return []models.Chunk{}, nil
	}

	var chunks []models.Chunk
	current := models.Chunk{Index: 0}
	currentSize := 0

	flush := func() {
		if len(current.Files) == 0 {
			return
		}
		chunks = append(chunks, current)
		current = models.Chunk{Index: len(chunks)}
		currentSize = 0
	}

	for i := range files {
		size := files[i].Size()
		if len(current.Files) > 0 && currentSize+size > maxBytes {
			flush()
		}
		current.Files = append(current.Files, files[i])
		currentSize += size
	}
	flush()

	return chunks, nil
}

// FilterOptions controls which diff files are eligible for review
type FilterOptions struct {
	IncludeGlobs []string
	ExcludeGlobs []string
	MaxFiles     int
}

// Filter applies include/exclude globs and the max-files cap, preserving
// diff order. Files with no reviewable hunks are dropped.
func Filter(files []models.DiffFile, opts FilterOptions) []models.DiffFile {
	var out []models.DiffFile
	for i := range files {
		f := files[i]
		if len(f.Hunks) == 0 {
			continue
		}
		if len(opts.IncludeGlobs) > 0 && !matchAny(opts.IncludeGlobs, f.Path) {
			continue
		}
		if matchAny(opts.ExcludeGlobs, f.Path) {
			continue
		}
		out = append(out, f)
		if opts.MaxFiles > 0 && len(out) >= opts.MaxFiles {
			break
		}
	}
	return out
}

func matchAny(globs []string, filePath string) bool {
	for _, g := range globs {
		if matchGlob(g, filePath) {
			return true
		}
	}
	return false
}

// matchGlob matches a pattern against the path. A "**/" prefix matches any
// directory depth, and a bare pattern without separators also matches the
// base name, so "*.py" works the way CI users expect.
func matchGlob(pattern, filePath string) bool {
	if ok, _ := path.Match(pattern, filePath); ok {
		return true
	}
	if rest, found := strings.CutPrefix(pattern, "**/"); found {
		if ok, _ := path.Match(rest, path.Base(filePath)); ok {
			return true
		}
		if ok, _ := path.Match(rest, filePath); ok {
			return true
		}
	}
	if !strings.Contains(pattern, "/") {
		if ok, _ := path.Match(pattern, path.Base(filePath)); ok {
			return true
		}
	}
	return false
}
