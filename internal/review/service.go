// Package review exposes the scheduler to a signed-in user: recording
// reviews, listing the due queue and summarising progress.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/montanaflynn/stats"
	"github.com/samber/lo"

	"github.com/conorfennell/vocabio/internal/auth"
	"github.com/conorfennell/vocabio/internal/domain"
	"github.com/conorfennell/vocabio/internal/srs"
	"github.com/conorfennell/vocabio/internal/storage"
)

var (
	// ErrInvalidRequest wraps validation failures of caller input.
	ErrInvalidRequest = errors.New("review: invalid request")
	// ErrUnauthenticated is returned when the session is empty or expired.
	ErrUnauthenticated = errors.New("review: unauthenticated")
)

// DefaultDueLimit caps the due queue when neither the caller nor the
// configuration sets a limit.
const DefaultDueLimit = 20

// Store is the persistence the service depends on.
type Store interface {
	FindVocabulary(ctx context.Context, id string) (*domain.Vocabulary, error)
	FindProgress(ctx context.Context, userID, vocabularyID string) (*domain.Progress, error)
	ApplyReview(ctx context.Context, userID, vocabularyID string, quality srs.Quality, schedule storage.ScheduleFunc) (*domain.Progress, error)
	GetDueVocabularies(ctx context.Context, userID string, now time.Time, limit int, sourceID int64) ([]domain.Vocabulary, error)
	GetProgressByUser(ctx context.Context, userID string) ([]domain.Progress, error)
	CountVocabularies(ctx context.Context) (int, error)
	CountReviews(ctx context.Context, userID string) (int, error)
	GetReviewLog(ctx context.Context, userID, vocabularyID string) ([]domain.ReviewLog, error)
	GetReviewTimes(ctx context.Context, userID string) ([]time.Time, error)
	GetSourceProgress(ctx context.Context, userID string, now time.Time) ([]domain.SourceProgress, error)
}

var _ Store = (*storage.DB)(nil)

// Service records reviews and answers queue and progress questions.
type Service struct {
	store    Store
	validate *validator.Validate
	clock    func() time.Time
	dueLimit int
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithDueLimit sets the default size of the due queue.
func WithDueLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.dueLimit = limit
		}
	}
}

// NewService returns a Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock:    time.Now,
		dueLimit: DefaultDueLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReviewRequest is a single rating submitted by a user.
type ReviewRequest struct {
	VocabularyID string `json:"vocabulary_id" validate:"required"`
	Quality      *int   `json:"quality" validate:"required,min=0,max=5"`
}

// DueQuery narrows the due queue. Zero values mean the defaults.
type DueQuery struct {
	Limit    int   `validate:"min=0,max=500"`
	SourceID int64 `validate:"min=0"`
}

// ProgressView is the progress of one vocabulary for the session user.
// State is nil when the item was never reviewed.
type ProgressView struct {
	VocabularyID string           `json:"vocabulary_id"`
	State        *srs.ReviewState `json:"state,omitempty"`
	Mastery      srs.Mastery      `json:"mastery"`
	Due          bool             `json:"due"`
}

// Outcome is the state a single rating would produce.
type Outcome struct {
	Quality srs.Quality     `json:"quality"`
	Label   string          `json:"label"`
	State   srs.ReviewState `json:"state"`
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Second)
}

func (s *Service) authorize(session auth.Session) (time.Time, error) {
	now := s.now()
	if !session.Valid(now) {
		return now, ErrUnauthenticated
	}
	return now, nil
}

// Review applies a rating to the session user's progress on a vocabulary.
func (s *Service) Review(ctx context.Context, session auth.Session, req ReviewRequest) (*domain.Progress, error) {
	now, err := s.authorize(session)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	quality := srs.Quality(*req.Quality)

	if _, err := s.store.FindVocabulary(ctx, req.VocabularyID); err != nil {
		return nil, fmt.Errorf("finding vocabulary %s: %w", req.VocabularyID, err)
	}

	progress, err := s.store.ApplyReview(ctx, session.UserID, req.VocabularyID, quality,
		func(prev *srs.ReviewState) (srs.ReviewState, error) {
			return srs.Schedule(prev, quality, now)
		})
	if err != nil {
		if errors.Is(err, srs.ErrInvalidQuality) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("applying review: %w", err)
	}
	return progress, nil
}

// Progress returns the session user's progress on a vocabulary. An item that
// was never reviewed is reported as new and due.
func (s *Service) Progress(ctx context.Context, session auth.Session, vocabularyID string) (ProgressView, error) {
	now, err := s.authorize(session)
	if err != nil {
		return ProgressView{}, err
	}
	if _, err := s.store.FindVocabulary(ctx, vocabularyID); err != nil {
		return ProgressView{}, fmt.Errorf("finding vocabulary %s: %w", vocabularyID, err)
	}
	p, err := s.store.FindProgress(ctx, session.UserID, vocabularyID)
	if err != nil {
		return ProgressView{}, fmt.Errorf("finding progress: %w", err)
	}

	view := ProgressView{VocabularyID: vocabularyID}
	if p != nil {
		state := p.State
		view.State = &state
	}
	view.Mastery = srs.MasteryLevel(view.State)
	view.Due = srs.IsDue(view.State, now)
	return view, nil
}

// Due lists the vocabularies the session user should review now.
func (s *Service) Due(ctx context.Context, session auth.Session, q DueQuery) ([]domain.Vocabulary, error) {
	now, err := s.authorize(session)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(q); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	limit := q.Limit
	if limit == 0 {
		limit = s.dueLimit
	}
	due, err := s.store.GetDueVocabularies(ctx, session.UserID, now, limit, q.SourceID)
	if err != nil {
		return nil, fmt.Errorf("getting due vocabularies: %w", err)
	}
	return due, nil
}

// Preview returns, for every quality, the state a review at this moment would
// produce. Nothing is stored.
func (s *Service) Preview(ctx context.Context, session auth.Session, vocabularyID string) ([]Outcome, error) {
	now, err := s.authorize(session)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.FindVocabulary(ctx, vocabularyID); err != nil {
		return nil, fmt.Errorf("finding vocabulary %s: %w", vocabularyID, err)
	}
	p, err := s.store.FindProgress(ctx, session.UserID, vocabularyID)
	if err != nil {
		return nil, fmt.Errorf("finding progress: %w", err)
	}
	var prev *srs.ReviewState
	if p != nil {
		prev = &p.State
	}

	preview := srs.Preview(prev, now)
	qualities := []srs.Quality{srs.Blackout, srs.Incorrect, srs.IncorrectEasyRecall, srs.CorrectDifficult, srs.CorrectHesitant, srs.Perfect}
	return lo.Map(qualities, func(q srs.Quality, _ int) Outcome {
		return Outcome{Quality: q, Label: q.String(), State: preview[q]}
	}), nil
}

// Statistics summarises the session user's progress.
//
// Due counts only consider reviewed items; never-reviewed vocabularies are
// counted as new cards.
func (s *Service) Statistics(ctx context.Context, session auth.Session) (domain.Statistics, error) {
	now, err := s.authorize(session)
	if err != nil {
		return domain.Statistics{}, err
	}
	progress, err := s.store.GetProgressByUser(ctx, session.UserID)
	if err != nil {
		return domain.Statistics{}, fmt.Errorf("getting progress: %w", err)
	}
	total, err := s.store.CountVocabularies(ctx)
	if err != nil {
		return domain.Statistics{}, fmt.Errorf("counting vocabularies: %w", err)
	}
	reviews, err := s.store.CountReviews(ctx, session.UserID)
	if err != nil {
		return domain.Statistics{}, fmt.Errorf("counting reviews: %w", err)
	}
	reviewTimes, err := s.store.GetReviewTimes(ctx, session.UserID)
	if err != nil {
		return domain.Statistics{}, fmt.Errorf("getting review times: %w", err)
	}

	endOfDay := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	endOfWeek := now.AddDate(0, 0, 7)
	dueToday := lo.CountBy(progress, func(p domain.Progress) bool {
		return p.State.NextReviewAt != nil && p.State.NextReviewAt.Before(endOfDay)
	})
	dueThisWeek := lo.CountBy(progress, func(p domain.Progress) bool {
		return p.State.NextReviewAt != nil && !p.State.NextReviewAt.After(endOfWeek)
	})
	withMastery := func(m srs.Mastery) int {
		return lo.CountBy(progress, func(p domain.Progress) bool { return p.Mastery() == m })
	}

	st := domain.Statistics{
		DueToday:     dueToday,
		DueThisWeek:  dueThisWeek,
		Mastered:     withMastery(srs.MasteryMastered),
		Learning:     withMastery(srs.MasteryLearning),
		NewCards:     withMastery(srs.MasteryNew) + max(0, total-len(progress)),
		TotalReviews: reviews,
		Streak:       dailyStreak(reviewTimes, now),
	}

	if len(progress) > 0 {
		easiness := lo.Map(progress, func(p domain.Progress, _ int) float64 { return p.State.Easiness })
		intervals := lo.Map(progress, func(p domain.Progress, _ int) float64 { return float64(p.State.Interval) })
		if st.AverageEasiness, err = stats.Mean(easiness); err != nil {
			return domain.Statistics{}, fmt.Errorf("averaging easiness: %w", err)
		}
		if st.MedianInterval, err = stats.Median(intervals); err != nil {
			return domain.Statistics{}, fmt.Errorf("median interval: %w", err)
		}
	}
	return st, nil
}

// History returns the session user's reviews of a vocabulary, oldest first.
func (s *Service) History(ctx context.Context, session auth.Session, vocabularyID string) ([]domain.ReviewLog, error) {
	if _, err := s.authorize(session); err != nil {
		return nil, err
	}
	if _, err := s.store.FindVocabulary(ctx, vocabularyID); err != nil {
		return nil, fmt.Errorf("finding vocabulary %s: %w", vocabularyID, err)
	}
	logs, err := s.store.GetReviewLog(ctx, session.UserID, vocabularyID)
	if err != nil {
		return nil, fmt.Errorf("getting review history: %w", err)
	}
	return logs, nil
}

// SourceProgress breaks the session user's progress down by source.
func (s *Service) SourceProgress(ctx context.Context, session auth.Session) ([]domain.SourceProgress, error) {
	now, err := s.authorize(session)
	if err != nil {
		return nil, err
	}
	out, err := s.store.GetSourceProgress(ctx, session.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("getting source progress: %w", err)
	}
	return out, nil
}

// dailyStreak counts consecutive UTC days with a review, ending today, or
// yesterday when nothing was reviewed yet today.
func dailyStreak(reviews []time.Time, now time.Time) int {
	days := make(map[string]bool, len(reviews))
	for _, t := range reviews {
		days[t.UTC().Format(time.DateOnly)] = true
	}

	day := now.UTC()
	if !days[day.Format(time.DateOnly)] {
		day = day.AddDate(0, 0, -1)
	}
	streak := 0
	for days[day.Format(time.DateOnly)] {
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak
}
