package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/reviewgate/internal/fault"
	"github.com/reviewgate/pkg/models"
)

// maxFindingsPerChunk caps how many findings one chunk may contribute,
// guarding against runaway model output.
const maxFindingsPerChunk = 50

var jsonFenceRe = regexp.MustCompile("(?is)```json\\s*(.+?)\\s*```")

// rawFinding is the JSON shape the model is asked to emit
type rawFinding struct {
	Severity   string `json:"severity"`
	Category   string `json:"category"`
	File       string `json:"file"`
	Line       int    `json:"line"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// ExtractJSONBlock pulls the fenced JSON payload out of a model response.
// When no fence is present the whole response is returned, since some
// models emit bare JSON despite the instructions.
func ExtractJSONBlock(text string) string {
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return strings.TrimSpace(text)
}

// DecodeFindings parses a model response into findings. Malformed JSON
// gets one repair pass through the jsonrepair library before the chunk
// is declared permanently failed.
func DecodeFindings(response string, chunkIndex int) ([]models.Finding, error) {
	if strings.TrimSpace(response) == "" {
		return nil, fault.Permanent(errors.New("empty model response"))
	}

	block := ExtractJSONBlock(response)

	var raws []rawFinding
	if err := json.Unmarshal([]byte(block), &raws); err != nil {
		// a single object instead of an array is a common model slip
		var one rawFinding
		if json.Unmarshal([]byte(block), &one) == nil && one.File != "" {
			raws = []rawFinding{one}
		} else {
			repaired, repairErr := jsonrepair.JSONRepair(block)
			if repairErr != nil {
				return nil, fault.Permanent(errors.Join(err, repairErr))
			}
			if err := json.Unmarshal([]byte(repaired), &raws); err != nil {
				return nil, fault.Permanent(err)
			}
		}
	}

	return normalize(raws, chunkIndex), nil
}

// normalize clamps model output to the finding model: unknown severities
// and categories fall back to defaults, entries without a file path are
// dropped, and the per-chunk cap applies.
func normalize(raws []rawFinding, chunkIndex int) []models.Finding {
	findings := make([]models.Finding, 0, len(raws))
	for _, r := range raws {
		if len(findings) >= maxFindingsPerChunk {
			break
		}
		path := strings.TrimSpace(r.File)
		message := strings.TrimSpace(r.Message)
		if path == "" || message == "" {
			continue
		}
		line := r.Line
		if line < 0 {
			line = 0
		}
		findings = append(findings, models.Finding{
			Path:       path,
			Line:       line,
			Severity:   models.ParseSeverity(r.Severity),
			Category:   models.ParseCategory(r.Category),
			Message:    message,
			Suggestion: strings.TrimSpace(r.Suggestion),
			ChunkIndex: chunkIndex,
		})
	}
	return findings
}
