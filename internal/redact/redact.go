package redact

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/zricethezav/gitleaks/v8/detect"
)

const mask = "[REDACTED]"

// Redactor masks secrets detected in outbound text so credentials that
// land in a diff never reach the model provider.
type Redactor struct {
	detector *detect.Detector
	log      zerolog.Logger
}

// New builds a redactor with the default gitleaks ruleset
func New(log zerolog.Logger) (*Redactor, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, err
	}
	return &Redactor{detector: detector, log: log}, nil
}

// Redact replaces every detected secret occurrence with a mask. The
// surrounding text is left untouched so diff line numbering survives.
func (r *Redactor) Redact(text string) string {
	findings := r.detector.DetectString(text)
	if len(findings) == 0 {
		return text
	}

	out := text
	masked := 0
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		out = strings.ReplaceAll(out, f.Secret, mask)
		masked++
	}
	if masked > 0 {
		r.log.Warn().Int("secrets", masked).
			Msg("masked detected secrets before model submission")
	}
	return out
}
