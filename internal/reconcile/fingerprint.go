package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/reviewgate/pkg/models"
)

// Fingerprint normalization is a versioned contract: changing it changes
// which previously posted comments are recognized as duplicates. Version 1
// rules: message is lowercased, runs of whitespace collapse to a single
// space, and leading/trailing whitespace is trimmed. The hash input is
// path, decimal line (0 for file-level), category, and the normalized
// message, joined by NUL bytes. The fingerprint is the first 16 bytes of
// the SHA-256, hex encoded.
const fingerprintVersion = 1

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeMessage applies the version 1 normalization rules
func NormalizeMessage(message string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ToLower(message), " "))
}

// Fingerprint computes the deterministic content fingerprint for a finding
func Fingerprint(path string, line int, category models.Category, message string) string {
	input := fmt.Sprintf("%s\x00%d\x00%s\x00%s", path, line, category, NormalizeMessage(message))
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}

// FingerprintFinding fills in and returns the finding's fingerprint
func FingerprintFinding(f *models.Finding) string {
	if f.Fingerprint == "" {
		f.Fingerprint = Fingerprint(f.Path, f.Line, f.Category, f.Message)
	}
	return f.Fingerprint
}

// markerRe matches the hidden fingerprint marker this tool embeds in every
// comment body it posts, so later runs can recover exact dedup keys from
// the platform.
var markerRe = regexp.MustCompile(`<!--\s*reviewgate:fp:([0-9a-f]{32})\s*-->`)

// Marker renders the hidden fingerprint marker for a comment body
func Marker(fingerprint string) string {
	return fmt.Sprintf("<!-- reviewgate:fp:%s -->", fingerprint)
}

// ExtractMarker recovers a fingerprint from a posted comment body.
// Returns "" when the body carries no marker (comments from humans or
// other tools).
func ExtractMarker(body string) string {
	m := markerRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

// ExtractMarkers recovers every fingerprint embedded in a comment body.
// Fallback summary comments carry one marker per finding, so a single
// body can account for several dedup keys.
func ExtractMarkers(body string) []string {
	var fps []string
	for _, m := range markerRe.FindAllStringSubmatch(body, -1) {
		fps = append(fps, m[1])
	}
	return fps
}
