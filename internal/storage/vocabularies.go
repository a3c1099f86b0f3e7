package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/vocabio/internal/domain"
	"github.com/conorfennell/vocabio/internal/srs"
)

const selectVocabulary = `
	SELECT v.id, v.hash, v.word, v.pronunciation, v.topic, v.tags, v.definitions, v.source_id
	FROM vocabularies v`

type vocabularyRow struct {
	ID            string `db:"id"`
	Hash          string `db:"hash"`
	Word          string `db:"word"`
	Pronunciation string `db:"pronunciation"`
	Topic         string `db:"topic"`
	Tags          string `db:"tags"`
	Definitions   string `db:"definitions"`
	SourceID      int64  `db:"source_id"`
}

func (r vocabularyRow) toDomain() (domain.Vocabulary, error) {
	v := domain.Vocabulary{
		ID:            r.ID,
		Hash:          r.Hash,
		Word:          r.Word,
		Pronunciation: r.Pronunciation,
		Topic:         r.Topic,
		SourceID:      r.SourceID,
	}
	if err := json.Unmarshal([]byte(r.Tags), &v.Tags); err != nil {
		return v, fmt.Errorf("failed to decode tags of vocabulary %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Definitions), &v.Definitions); err != nil {
		return v, fmt.Errorf("failed to decode definitions of vocabulary %s: %w", r.ID, err)
	}
	return v, nil
}

func toDomainVocabularies(rows []vocabularyRow) ([]domain.Vocabulary, error) {
	out := make([]domain.Vocabulary, 0, len(rows))
	for _, r := range rows {
		v, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// InsertVocabulary stores a new vocabulary entry for sourceID and returns it
// with its generated ID.
func (db *DB) InsertVocabulary(ctx context.Context, v domain.Vocabulary, sourceID int64) (domain.Vocabulary, error) {
	tags := v.Tags
	if tags == nil {
		tags = []string{}
	}
	defs := v.Definitions
	if defs == nil {
		defs = []domain.Definition{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return v, fmt.Errorf("failed to encode tags for %s: %w", v.Hash, err)
	}
	defsJSON, err := json.Marshal(defs)
	if err != nil {
		return v, fmt.Errorf("failed to encode definitions for %s: %w", v.Hash, err)
	}

	row := vocabularyRow{
		ID:            uuid.NewString(),
		Hash:          v.Hash,
		Word:          v.Word,
		Pronunciation: v.Pronunciation,
		Topic:         v.Topic,
		Tags:          string(tagsJSON),
		Definitions:   string(defsJSON),
		SourceID:      sourceID,
	}
	_, err = db.conn.NamedExecContext(ctx, `
		INSERT INTO vocabularies (id, hash, word, pronunciation, topic, tags, definitions, source_id)
		VALUES (:id, :hash, :word, :pronunciation, :topic, :tags, :definitions, :source_id)
	`, row)
	if err != nil {
		return v, fmt.Errorf("failed to insert vocabulary %s: %w", v.Hash, err)
	}
	return row.toDomain()
}

// FindVocabulary retrieves a vocabulary entry by ID, or ErrNotFound.
func (db *DB) FindVocabulary(ctx context.Context, id string) (*domain.Vocabulary, error) {
	var row vocabularyRow
	err := db.conn.GetContext(ctx, &row, selectVocabulary+` WHERE v.id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("vocabulary %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find vocabulary %s: %w", id, err)
	}
	v, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// FindVocabularyByHash retrieves a vocabulary entry by content hash. It returns
// nil when absent.
func (db *DB) FindVocabularyByHash(ctx context.Context, hash string) (*domain.Vocabulary, error) {
	var row vocabularyRow
	err := db.conn.GetContext(ctx, &row, selectVocabulary+` WHERE v.hash = ?`, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find vocabulary by hash %s: %w", hash, err)
	}
	v, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVocabulariesBySourceID retrieves all vocabulary entries of a source.
func (db *DB) GetVocabulariesBySourceID(ctx context.Context, sourceID int64) ([]domain.Vocabulary, error) {
	var rows []vocabularyRow
	if err := db.conn.SelectContext(ctx, &rows, selectVocabulary+` WHERE v.source_id = ? ORDER BY v.word`, sourceID); err != nil {
		return nil, fmt.Errorf("failed to get vocabularies for source ID %d: %w", sourceID, err)
	}
	return toDomainVocabularies(rows)
}

// CountVocabularies returns the number of stored vocabulary entries.
func (db *DB) CountVocabularies(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM vocabularies`); err != nil {
		return 0, fmt.Errorf("failed to count vocabularies: %w", err)
	}
	return n, nil
}

// DeleteVocabularyByHash removes a vocabulary entry and its review data.
func (db *DB) DeleteVocabularyByHash(ctx context.Context, hash string) error {
	_, err := db.conn.ExecContext(ctx, `
		DELETE FROM vocabularies
		WHERE hash = ?
	`, hash)
	if err != nil {
		return fmt.Errorf("failed to delete vocabulary with hash %s: %w", hash, err)
	}
	return nil
}

// ReassignVocabularySource moves an entry to another source, keeping its id
// and therefore every user's progress on it.
func (db *DB) ReassignVocabularySource(ctx context.Context, hash string, sourceID int64) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE vocabularies SET source_id = ?
		WHERE hash = ?
	`, sourceID, hash)
	if err != nil {
		return fmt.Errorf("failed to move vocabulary %s to source %d: %w", hash, sourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to move vocabulary %s to source %d: %w", hash, sourceID, err)
	}
	if n == 0 {
		return fmt.Errorf("vocabulary with hash %s: %w", hash, ErrNotFound)
	}
	return nil
}

// GetDueVocabularies returns up to limit entries that userID should review at
// now: entries never reviewed come first, then the most overdue. A zero
// sourceID matches every source.
func (db *DB) GetDueVocabularies(ctx context.Context, userID string, now time.Time, limit int, sourceID int64) ([]domain.Vocabulary, error) {
	var rows []vocabularyRow
	err := db.conn.SelectContext(ctx, &rows, selectVocabulary+`
		LEFT JOIN srs_progress p ON p.vocabulary_id = v.id AND p.user_id = ?
		WHERE (p.next_review_at IS NULL OR p.next_review_at <= ?)
		  AND (? = 0 OR v.source_id = ?)
		ORDER BY p.next_review_at IS NOT NULL, p.next_review_at, v.word
		LIMIT ?
	`, userID, dbTime(now), sourceID, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due vocabularies for user %s: %w", userID, err)
	}
	return toDomainVocabularies(rows)
}

type sourceProgressRow struct {
	SourceID int64 `db:"source_id"`
	Total    int   `db:"total"`
	Reviewed int   `db:"reviewed"`
	Mastered int   `db:"mastered"`
	Due      int   `db:"due"`
}

// GetSourceProgress counts, per source, the entries userID has reviewed,
// mastered and has due at now.
func (db *DB) GetSourceProgress(ctx context.Context, userID string, now time.Time) ([]domain.SourceProgress, error) {
	var rows []sourceProgressRow
	err := db.conn.SelectContext(ctx, &rows, `
		SELECT v.source_id,
		       COUNT(*) AS total,
		       COUNT(p.vocabulary_id) AS reviewed,
		       COALESCE(SUM(CASE WHEN p.repetitions >= ? AND p.interval_days >= ? THEN 1 ELSE 0 END), 0) AS mastered,
		       COALESCE(SUM(CASE WHEN p.next_review_at IS NULL OR p.next_review_at <= ? THEN 1 ELSE 0 END), 0) AS due
		FROM vocabularies v
		LEFT JOIN srs_progress p ON p.vocabulary_id = v.id AND p.user_id = ?
		GROUP BY v.source_id
		ORDER BY v.source_id
	`, srs.MasteredRepetitions, srs.MasteredInterval, dbTime(now), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get source progress for user %s: %w", userID, err)
	}
	out := make([]domain.SourceProgress, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.SourceProgress(r))
	}
	return out, nil
}
