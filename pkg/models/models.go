package models

import (
	"fmt"
	"strings"
)

// FileChangeKind describes how a file changed in a diff
type FileChangeKind string

const (
	FileAdded    FileChangeKind = "added"
	FileModified FileChangeKind = "modified"
	FileDeleted  FileChangeKind = "deleted"
	FileRenamed  FileChangeKind = "renamed"
)

// LineKind describes the role of a single diff line
type LineKind string

const (
	LineContext LineKind = "context"
	LineAdded   LineKind = "added"
	LineRemoved LineKind = "removed"
)

// Line is a single line inside a diff hunk.
// NewNumber carries the new-file line number and is 0 for removed lines.
type Line struct {
	Kind      LineKind
	Content   string
	OldNumber int
	NewNumber int
}

// Hunk represents a single chunk of changes in a diff
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Header   string
	Lines    []Line
}

// DiffFile represents one file's changes from a merge/pull request.
// Immutable once parsed; Path is unique within a diff.
type DiffFile struct {
	Path     string
	OldPath  string // only set when Kind is FileRenamed
	Kind     FileChangeKind
	Hunks    []Hunk
	RawPatch string // unified diff text for this file, as received
}

// Size returns the serialized byte size used for chunk budgeting.
// The raw patch plus the file header line keeps sizing deterministic
// for identical diff input.
func (f *DiffFile) Size() int {
	return len("=== ") + len(f.Path) + len(" ===\n") + len(f.RawPatch)
}

// Serialize renders the file the way it is presented to the reviewer.
func (f *DiffFile) Serialize() string {
	var b strings.Builder
	b.WriteString("=== ")
	b.WriteString(f.Path)
	b.WriteString(" ===\n")
	b.WriteString(f.RawPatch)
	return b.String()
}

// Chunk is an ordered group of whole diff files submitted to the reviewer
// as one unit. Index is assigned in emission order and identifies the chunk
// for result ordering and retries.
type Chunk struct {
	Index int
	Files []DiffFile
}

// Size returns the total serialized size of all files in the chunk
func (c *Chunk) Size() int {
	total := 0
	for i := range c.Files {
		total += c.Files[i].Size()
	}
	return total
}

// Paths lists the file paths contained in the chunk, in order
func (c *Chunk) Paths() []string {
	paths := make([]string, len(c.Files))
	for i := range c.Files {
		paths[i] = c.Files[i].Path
	}
	return paths
}

// Severity represents the severity level of a review finding
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityInfo     Severity = "info"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityInfo:     1,
	SeverityMinor:    2,
	SeverityMajor:    3,
	SeverityCritical: 4,
}

// Rank returns the ordering weight of a severity (none < info < minor < major < critical).
// Unknown severities rank as none.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether s is a recognized finding severity
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok && s != SeverityNone
}

// ParseSeverity maps free-form model output to a Severity, defaulting to info
func ParseSeverity(raw string) Severity {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if s.Valid() {
		return s
	}
	return SeverityInfo
}

// Category classifies what aspect of the code a finding concerns
type Category string

const (
	CategoryDesign      Category = "design"
	CategoryReadability Category = "readability"
	CategoryBugRisk     Category = "bug-risk"
	CategoryPerformance Category = "performance"
	CategorySecurity    Category = "security"
	CategoryStyle       Category = "style"
)

var knownCategories = map[Category]bool{
	CategoryDesign:      true,
	CategoryReadability: true,
	CategoryBugRisk:     true,
	CategoryPerformance: true,
	CategorySecurity:    true,
	CategoryStyle:       true,
}

// Valid reports whether c is a recognized finding category
func (c Category) Valid() bool {
	return knownCategories[c]
}

// ParseCategory maps free-form model output to a Category, defaulting to bug-risk
func ParseCategory(raw string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if c.Valid() {
		return c
	}
	return CategoryBugRisk
}

// Finding is a single review observation produced for a chunk.
// Line uses new-file numbering; 0 means a file-level finding.
type Finding struct {
	Path        string
	Line        int
	Severity    Severity
	Category    Category
	Message     string
	Suggestion  string
	ChunkIndex  int
	Fingerprint string
}

// Ref renders the finding's location for logs and summary comments
func (f *Finding) Ref() string {
	if f.Line > 0 {
		return fmt.Sprintf("%s:%d", f.Path, f.Line)
	}
	return f.Path
}

// ChunkFailure records a chunk that permanently failed review
type ChunkFailure struct {
	ChunkIndex int
	Attempts   int
	Err        error
}

// RunStatus describes the overall outcome of an orchestration run
type RunStatus string

const (
	RunComplete RunStatus = "complete"
	RunPartial  RunStatus = "partial"
	RunFailed   RunStatus = "failed"
)

// ReviewResult is the merged outcome of reviewing all chunks
type ReviewResult struct {
	Status   RunStatus
	Findings []Finding
	Failures []ChunkFailure
	Chunks   int
}

// ExistingComment is a platform-side comment used only for deduplication.
// Fingerprint is set when the platform body carries a recoverable marker.
type ExistingComment struct {
	Path        string
	Line        int
	Body        string
	Author      string
	Fingerprint string
}

// PublishAction says what the publisher should do with one finding
type PublishAction string

const (
	ActionCreate        PublishAction = "create"
	ActionSkipDuplicate PublishAction = "skip-duplicate"
)

// PlannedComment pairs a finding with its publish decision
type PlannedComment struct {
	Finding Finding
	Action  PublishAction
}

// RiskVerdict is the aggregate severity outcome of a run
type RiskVerdict struct {
	Severity Severity
	Counts   map[Severity]int
}

// PublishPlan is the reconciled set of publish decisions plus the verdict
type PublishPlan struct {
	Comments []PlannedComment
	Verdict  RiskVerdict
}

// Creates returns only the findings planned for creation, in merged order
func (p *PublishPlan) Creates() []Finding {
	var out []Finding
	for _, c := range p.Comments {
		if c.Action == ActionCreate {
			out = append(out, c.Finding)
		}
	}
	return out
}

// PostOutcome reports the result of publishing one finding
type PostOutcome struct {
	Finding   Finding
	CommentID string
	Err       error
}
