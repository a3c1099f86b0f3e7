package domain

import (
	"strings"
	"time"
)

// SourceType says how a deck source is fetched.
type SourceType string

const (
	SourceLocal SourceType = "local"
	SourceGit   SourceType = "git"
)

// DetectSourceType guesses the type of a source from its path or URL.
func DetectSourceType(path string) SourceType {
	if strings.HasSuffix(path, ".git") || strings.HasPrefix(path, "git@") ||
		strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return SourceGit
	}
	return SourceLocal
}

// Source is a directory or git repository holding vocabulary decks.
type Source struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Type        SourceType `json:"type"`
	LastScanned *time.Time `json:"last_scanned,omitempty"`
}
