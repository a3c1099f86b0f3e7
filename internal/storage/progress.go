package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/vocabio/internal/domain"
	"github.com/conorfennell/vocabio/internal/srs"
)

const selectProgress = `
	SELECT user_id, vocabulary_id, interval_days, easiness, repetitions,
	       last_review_at, next_review_at, created_at, updated_at
	FROM srs_progress`

type progressRow struct {
	UserID       string       `db:"user_id"`
	VocabularyID string       `db:"vocabulary_id"`
	IntervalDays int          `db:"interval_days"`
	Easiness     float64      `db:"easiness"`
	Repetitions  int          `db:"repetitions"`
	LastReviewAt sql.NullTime `db:"last_review_at"`
	NextReviewAt sql.NullTime `db:"next_review_at"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: dbTime(*t), Valid: true}
}

func timeOrNil(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r progressRow) toDomain() domain.Progress {
	return domain.Progress{
		UserID:       r.UserID,
		VocabularyID: r.VocabularyID,
		State: srs.ReviewState{
			Interval:       r.IntervalDays,
			Easiness:       r.Easiness,
			Repetitions:    r.Repetitions,
			LastReviewedAt: timeOrNil(r.LastReviewAt),
			NextReviewAt:   timeOrNil(r.NextReviewAt),
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// FindProgress retrieves the review state of vocabularyID for userID. It
// returns nil when the entry was never reviewed.
func (db *DB) FindProgress(ctx context.Context, userID, vocabularyID string) (*domain.Progress, error) {
	var row progressRow
	err := db.conn.GetContext(ctx, &row, selectProgress+` WHERE user_id = ? AND vocabulary_id = ?`, userID, vocabularyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find progress of %s for user %s: %w", vocabularyID, userID, err)
	}
	p := row.toDomain()
	return &p, nil
}

// GetProgressByUser retrieves every review state held by userID.
func (db *DB) GetProgressByUser(ctx context.Context, userID string) ([]domain.Progress, error) {
	var rows []progressRow
	if err := db.conn.SelectContext(ctx, &rows, selectProgress+` WHERE user_id = ? ORDER BY vocabulary_id`, userID); err != nil {
		return nil, fmt.Errorf("failed to get progress for user %s: %w", userID, err)
	}
	out := make([]domain.Progress, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// CountReviews returns how many reviews userID has logged.
func (db *DB) CountReviews(ctx context.Context, userID string) (int, error) {
	var n int
	if err := db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM review_log WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("failed to count reviews for user %s: %w", userID, err)
	}
	return n, nil
}

type reviewLogRow struct {
	ID           int64     `db:"id"`
	UserID       string    `db:"user_id"`
	VocabularyID string    `db:"vocabulary_id"`
	Quality      int       `db:"quality"`
	IntervalDays int       `db:"interval_days"`
	Easiness     float64   `db:"easiness"`
	ReviewedAt   time.Time `db:"reviewed_at"`
}

// GetReviewLog returns the review history of vocabularyID for userID, oldest first.
func (db *DB) GetReviewLog(ctx context.Context, userID, vocabularyID string) ([]domain.ReviewLog, error) {
	var rows []reviewLogRow
	err := db.conn.SelectContext(ctx, &rows, `
		SELECT id, user_id, vocabulary_id, quality, interval_days, easiness, reviewed_at
		FROM review_log
		WHERE user_id = ? AND vocabulary_id = ?
		ORDER BY reviewed_at, id
	`, userID, vocabularyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get review log of %s for user %s: %w", vocabularyID, userID, err)
	}
	logs := make([]domain.ReviewLog, 0, len(rows))
	for _, r := range rows {
		logs = append(logs, domain.ReviewLog{
			ID:           r.ID,
			UserID:       r.UserID,
			VocabularyID: r.VocabularyID,
			Quality:      srs.Quality(r.Quality),
			Interval:     r.IntervalDays,
			Easiness:     r.Easiness,
			ReviewedAt:   r.ReviewedAt,
		})
	}
	return logs, nil
}

// GetReviewTimes returns when userID reviewed anything, newest first.
func (db *DB) GetReviewTimes(ctx context.Context, userID string) ([]time.Time, error) {
	var times []time.Time
	err := db.conn.SelectContext(ctx, &times, `
		SELECT reviewed_at FROM review_log
		WHERE user_id = ?
		ORDER BY reviewed_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get review times for user %s: %w", userID, err)
	}
	return times, nil
}

// ScheduleFunc derives the next review state from the stored one, which is nil
// for a first review.
type ScheduleFunc func(prev *srs.ReviewState) (srs.ReviewState, error)

// ApplyReview loads the current state of vocabularyID for userID, passes it to
// schedule and stores the result together with a review log entry, all in one
// transaction. An error from schedule aborts without writing.
func (db *DB) ApplyReview(ctx context.Context, userID, vocabularyID string, quality srs.Quality, schedule ScheduleFunc) (*domain.Progress, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin review transaction: %w", err)
	}
	defer tx.Rollback()

	var prev *srs.ReviewState
	var createdAt time.Time
	var current progressRow
	err = tx.GetContext(ctx, &current, selectProgress+` WHERE user_id = ? AND vocabulary_id = ?`, userID, vocabularyID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to load progress of %s for user %s: %w", vocabularyID, userID, err)
	default:
		p := current.toDomain()
		prev = &p.State
		createdAt = p.CreatedAt
	}

	next, err := schedule(prev)
	if err != nil {
		return nil, err
	}

	reviewedAt := time.Now()
	if next.LastReviewedAt != nil {
		reviewedAt = *next.LastReviewedAt
	}
	reviewedAt = dbTime(reviewedAt)
	if createdAt.IsZero() {
		createdAt = reviewedAt
	}

	row := progressRow{
		UserID:       userID,
		VocabularyID: vocabularyID,
		IntervalDays: next.Interval,
		Easiness:     next.Easiness,
		Repetitions:  next.Repetitions,
		LastReviewAt: nullTime(next.LastReviewedAt),
		NextReviewAt: nullTime(next.NextReviewAt),
		CreatedAt:    dbTime(createdAt),
		UpdatedAt:    reviewedAt,
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO srs_progress (user_id, vocabulary_id, interval_days, easiness, repetitions,
		                          last_review_at, next_review_at, created_at, updated_at)
		VALUES (:user_id, :vocabulary_id, :interval_days, :easiness, :repetitions,
		        :last_review_at, :next_review_at, :created_at, :updated_at)
		ON CONFLICT (user_id, vocabulary_id) DO UPDATE SET
			interval_days = excluded.interval_days,
			easiness = excluded.easiness,
			repetitions = excluded.repetitions,
			last_review_at = excluded.last_review_at,
			next_review_at = excluded.next_review_at,
			updated_at = excluded.updated_at
	`, row); err != nil {
		return nil, fmt.Errorf("failed to store progress of %s for user %s: %w", vocabularyID, userID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO review_log (user_id, vocabulary_id, quality, interval_days, easiness, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, vocabularyID, int(quality), next.Interval, next.Easiness, reviewedAt); err != nil {
		return nil, fmt.Errorf("failed to log review of %s for user %s: %w", vocabularyID, userID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit review of %s for user %s: %w", vocabularyID, userID, err)
	}

	p := row.toDomain()
	return &p, nil
}
