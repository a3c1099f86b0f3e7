package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/conorfennell/vocabio/internal/domain"
)

// Normalize flattens the content of a vocabulary entry into one canonical string.
// Each part is trimmed, lowercased and has its line endings normalized; tags,
// pronunciation and topic do not take part, so retagging a word keeps its progress.
func Normalize(v domain.Vocabulary) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return p
	}

	parts := []string{normalizePart(v.Word)}
	for _, d := range v.Definitions {
		parts = append(parts, normalizePart(d.Definition), normalizePart(d.Example))
	}

	// Newline separators keep "ab"+"c" and "a"+"bc" apart.
	return strings.Join(parts, "\n")
}

// Hash returns the SHA-256 of the normalized entry as a hex string.
func Hash(v domain.Vocabulary) string {
	sum := sha256.Sum256([]byte(Normalize(v)))
	return hex.EncodeToString(sum[:])
}
