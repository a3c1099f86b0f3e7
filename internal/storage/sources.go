package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/vocabio/internal/domain"
)

type sourceRow struct {
	ID          int64        `db:"id"`
	Path        string       `db:"path"`
	Type        string       `db:"type"`
	LastScanned sql.NullTime `db:"last_scanned"`
}

func (r sourceRow) toDomain() domain.Source {
	s := domain.Source{ID: r.ID, Path: r.Path, Type: domain.SourceType(r.Type)}
	if r.LastScanned.Valid {
		t := r.LastScanned.Time
		s.LastScanned = &t
	}
	return s
}

// InsertSource inserts a new source and returns its ID.
func (db *DB) InsertSource(ctx context.Context, path string, sourceType domain.SourceType) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sources (path, type)
		VALUES (?, ?)
	`, path, string(sourceType))
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return id, nil
}

// FindSourceByPath retrieves a source by its path. It returns nil when absent.
func (db *DB) FindSourceByPath(ctx context.Context, path string) (*domain.Source, error) {
	var row sourceRow
	err := db.conn.GetContext(ctx, &row, `
		SELECT id, path, type, last_scanned
		FROM sources WHERE path = ?
	`, path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	s := row.toDomain()
	return &s, nil
}

// GetAllSources retrieves all stored sources ordered by id.
func (db *DB) GetAllSources(ctx context.Context) ([]domain.Source, error) {
	var rows []sourceRow
	if err := db.conn.SelectContext(ctx, &rows, `
		SELECT id, path, type, last_scanned
		FROM sources ORDER BY id
	`); err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	sources := make([]domain.Source, 0, len(rows))
	for _, r := range rows {
		sources = append(sources, r.toDomain())
	}
	return sources, nil
}

// UpdateSourceLastScanned records that a source was scanned at now.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64, now time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sources
		SET last_scanned = ?
		WHERE id = ?
	`, dbTime(now), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// DeleteSource removes a source together with its vocabularies and their progress.
func (db *DB) DeleteSource(ctx context.Context, sourceID int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete source ID %d: %w", sourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete source ID %d: %w", sourceID, err)
	}
	if n == 0 {
		return fmt.Errorf("source ID %d: %w", sourceID, ErrNotFound)
	}
	return nil
}
