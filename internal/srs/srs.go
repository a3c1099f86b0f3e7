package srs

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Quality is the self-rated recall quality of a single review, 0 through 5.
type Quality int

const (
	Blackout            Quality = 0 // no recall at all
	Incorrect           Quality = 1 // wrong, but the answer looked familiar
	IncorrectEasyRecall Quality = 2 // wrong, but the answer seemed easy once shown
	CorrectDifficult    Quality = 3 // right, with serious difficulty
	CorrectHesitant     Quality = 4 // right, after a hesitation
	Perfect             Quality = 5 // right, effortlessly
)

// Scheduling constants of the SM-2 algorithm.
const (
	InitialEasiness = 2.5
	MinEasiness     = 1.3
	InitialInterval = 1
	SecondInterval  = 6

	MasteredRepetitions = 5
	MasteredInterval    = 30
)

// ErrInvalidQuality is returned when a quality falls outside 0..5.
var ErrInvalidQuality = errors.New("srs: invalid quality")

var qualityNames = [...]string{
	Blackout:            "blackout",
	Incorrect:           "incorrect",
	IncorrectEasyRecall: "incorrect-easy-recall",
	CorrectDifficult:    "correct-difficult",
	CorrectHesitant:     "correct-hesitant",
	Perfect:             "perfect",
}

// IsValid reports whether q is within 0..5.
func (q Quality) IsValid() bool {
	return q >= Blackout && q <= Perfect
}

// Passed reports whether q counts as a successful recall.
func (q Quality) Passed() bool {
	return q >= CorrectDifficult
}

func (q Quality) String() string {
	if q.IsValid() {
		return qualityNames[q]
	}
	return fmt.Sprintf("Quality(%d)", int(q))
}

// ReviewState is the scheduling state of one vocabulary item for one user.
// LastReviewedAt and NextReviewAt are nil until the first review.
type ReviewState struct {
	Interval       int        `json:"interval"`
	Easiness       float64    `json:"easiness"`
	Repetitions    int        `json:"repetitions"`
	LastReviewedAt *time.Time `json:"last_review_at,omitempty"`
	NextReviewAt   *time.Time `json:"next_review_at,omitempty"`
}

// Mastery classifies how well an item is known.
type Mastery string

const (
	MasteryNew      Mastery = "new"
	MasteryLearning Mastery = "learning"
	MasteryMastered Mastery = "mastered"
)

// EasinessDelta is the change applied to the easiness factor for quality q:
// 0.1 - (5-q) * (0.08 + (5-q) * 0.02).
func EasinessDelta(q Quality) float64 {
	d := float64(5 - q)
	return 0.1 - d*(0.08+d*0.02)
}

// Schedule computes the state that follows prev after a review rated q at now.
// A nil prev is a first review. prev is never modified.
func Schedule(prev *ReviewState, q Quality, now time.Time) (ReviewState, error) {
	if !q.IsValid() {
		return ReviewState{}, fmt.Errorf("%w: %d", ErrInvalidQuality, int(q))
	}

	interval := InitialInterval
	easiness := InitialEasiness
	repetitions := 0
	if prev != nil {
		interval = prev.Interval
		easiness = prev.Easiness
		repetitions = prev.Repetitions
	}

	easiness = math.Max(MinEasiness, easiness+EasinessDelta(q))

	if !q.Passed() {
		repetitions = 0
		interval = InitialInterval
	} else {
		repetitions++
		switch repetitions {
		case 1:
			interval = InitialInterval
		case 2:
			interval = SecondInterval
		default:
			interval = int(math.Round(float64(interval) * easiness))
		}
	}

	reviewed := now
	next := now.AddDate(0, 0, interval)
	return ReviewState{
		Interval:       interval,
		Easiness:       easiness,
		Repetitions:    repetitions,
		LastReviewedAt: &reviewed,
		NextReviewAt:   &next,
	}, nil
}

// Preview returns the state each valid quality would produce, without side effects.
func Preview(prev *ReviewState, now time.Time) map[Quality]ReviewState {
	out := make(map[Quality]ReviewState, len(qualityNames))
	for q := Blackout; q <= Perfect; q++ {
		// q is always valid here.
		next, _ := Schedule(prev, q, now)
		out[q] = next
	}
	return out
}

// IsDue reports whether an item should be reviewed at now. Items that were
// never reviewed are always due.
func IsDue(state *ReviewState, now time.Time) bool {
	if state == nil || state.NextReviewAt == nil {
		return true
	}
	return !now.Before(*state.NextReviewAt)
}

// MasteryLevel classifies state. A nil state is new.
func MasteryLevel(state *ReviewState) Mastery {
	if state == nil {
		return MasteryNew
	}
	if state.Repetitions >= MasteredRepetitions && state.Interval >= MasteredInterval {
		return MasteryMastered
	}
	if state.Repetitions > 0 {
		return MasteryLearning
	}
	return MasteryNew
}
