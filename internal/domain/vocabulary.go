package domain

import (
	"time"

	"github.com/conorfennell/vocabio/internal/srs"
)

// Definition is one meaning of a vocabulary entry, with an optional example.
type Definition struct {
	Definition string `json:"definition"`
	Example    string `json:"example,omitempty"`
}

// Vocabulary is a single word parsed from a deck.
type Vocabulary struct {
	ID            string       `json:"id"`
	Word          string       `json:"word"`
	Pronunciation string       `json:"pronunciation,omitempty"`
	Topic         string       `json:"topic,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	Definitions   []Definition `json:"definitions"`
	Hash          string       `json:"hash"`
	SourceID      int64        `json:"source_id"`
}

// Progress is a user's review state for one vocabulary entry.
type Progress struct {
	UserID       string          `json:"user_id"`
	VocabularyID string          `json:"vocabulary_id"`
	State        srs.ReviewState `json:"state"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Mastery classifies the progress with the scheduler's mastery rules.
func (p *Progress) Mastery() srs.Mastery {
	if p == nil {
		return srs.MasteryNew
	}
	return srs.MasteryLevel(&p.State)
}

// ReviewLog records a single graded review.
type ReviewLog struct {
	ID           int64       `json:"id"`
	UserID       string      `json:"user_id"`
	VocabularyID string      `json:"vocabulary_id"`
	Quality      srs.Quality `json:"quality"`
	Interval     int         `json:"interval"`
	Easiness     float64     `json:"easiness"`
	ReviewedAt   time.Time   `json:"reviewed_at"`
}

// SourceProgress is a user's progress over the entries of one source.
type SourceProgress struct {
	SourceID int64 `json:"source_id"`
	Total    int   `json:"total"`
	Reviewed int   `json:"reviewed"`
	Mastered int   `json:"mastered"`
	Due      int   `json:"due"`
}

// Statistics summarises a user's review workload. Streak counts consecutive
// days with at least one review.
type Statistics struct {
	DueToday        int     `json:"due_today"`
	DueThisWeek     int     `json:"due_this_week"`
	Mastered        int     `json:"mastered"`
	Learning        int     `json:"learning"`
	NewCards        int     `json:"new_cards"`
	TotalReviews    int     `json:"total_reviews"`
	AverageEasiness float64 `json:"average_easiness"`
	MedianInterval  float64 `json:"median_interval"`
	Streak          int     `json:"streak"`
}
