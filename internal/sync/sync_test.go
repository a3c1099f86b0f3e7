package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/vocabio/internal/domain"
	"github.com/conorfennell/vocabio/internal/srs"
	"github.com/conorfennell/vocabio/internal/storage"
)

var scanTime = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestSyncer(t *testing.T) (*Syncer, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewSyncer(db, t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Clock = func() time.Time { return scanTime }
	return s, db
}

func writeDeck(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRunReconcilesLocalSource(t *testing.T) {
	s, db := newTestSyncer(t)
	ctx := context.Background()
	decks := t.TempDir()
	writeDeck(t, decks, "a.md", "W: een\nD: one\n\nW: twee\nD: two\n")
	writeDeck(t, filepath.Join(decks, "sub"), "b.md", "W: drie\nD: three\n")
	writeDeck(t, decks, "notes.txt", "W: ignored\nD: not a deck\n")

	id, err := db.InsertSource(ctx, decks, domain.SourceLocal)
	require.NoError(t, err)

	reports, err := s.Run(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, Report{SourceID: id, Parsed: 3, Inserted: 3}, reports[0])

	// Removing an entry deletes it; running again inserts nothing new.
	writeDeck(t, decks, "a.md", "W: een\nD: one\n")
	reports, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{SourceID: id, Parsed: 2, Deleted: 1}, reports[0])

	vocab, err := db.GetVocabulariesBySourceID(ctx, id)
	require.NoError(t, err)
	require.Len(t, vocab, 2)
	assert.Equal(t, "drie", vocab[0].Word)
	assert.Equal(t, "een", vocab[1].Word)

	src, err := db.FindSourceByPath(ctx, decks)
	require.NoError(t, err)
	require.NotNil(t, src.LastScanned)
	assert.True(t, scanTime.Equal(*src.LastScanned))
}

func TestRunFetchesGitSource(t *testing.T) {
	s, db := newTestSyncer(t)
	ctx := context.Background()
	var fetched []string
	s.Fetch = func(ctx context.Context, url, localPath string, progress io.Writer) error {
		fetched = append(fetched, url)
		writeDeck(t, localPath, "deck.md", "W: kat\nD: cat\n")
		return nil
	}

	id, err := db.InsertSource(ctx, "https://example.com/team/dutch.git", domain.SourceGit)
	require.NoError(t, err)

	reports, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/team/dutch.git"}, fetched)
	require.Len(t, reports, 1)
	assert.Equal(t, Report{SourceID: id, Parsed: 1, Inserted: 1}, reports[0])

	_, err = os.Stat(filepath.Join(s.ReposDir, "example.com", "team", "dutch", "deck.md"))
	assert.NoError(t, err)
}

func TestRunSkipsFailingSource(t *testing.T) {
	s, db := newTestSyncer(t)
	ctx := context.Background()
	s.Fetch = func(ctx context.Context, url, localPath string, progress io.Writer) error {
		return errors.New("network down")
	}
	decks := t.TempDir()
	writeDeck(t, decks, "a.md", "W: een\nD: one\n")

	_, err := db.InsertSource(ctx, "git@example.com:team/dutch.git", domain.SourceGit)
	require.NoError(t, err)
	localID, err := db.InsertSource(ctx, decks, domain.SourceLocal)
	require.NoError(t, err)

	reports, err := s.Run(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, localID, reports[0].SourceID)
}

func TestRunKeepsProgressOfSharedEntry(t *testing.T) {
	s, db := newTestSyncer(t)
	ctx := context.Background()
	first, second := t.TempDir(), t.TempDir()
	writeDeck(t, first, "deck.md", "W: kat\nD: cat\n\nW: hond\nD: dog\n")
	writeDeck(t, second, "deck.md", "W: kat\nD: cat\n")

	firstID, err := db.InsertSource(ctx, first, domain.SourceLocal)
	require.NoError(t, err)
	secondID, err := db.InsertSource(ctx, second, domain.SourceLocal)
	require.NoError(t, err)

	reports, err := s.Run(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, 2, reports[0].Inserted)
	assert.Equal(t, 0, reports[1].Inserted)

	vocab, err := db.GetVocabulariesBySourceID(ctx, firstID)
	require.NoError(t, err)
	require.Len(t, vocab, 2)
	kat := vocab[1]
	require.Equal(t, "kat", kat.Word)
	_, err = db.ApplyReview(ctx, "alice", kat.ID, srs.Perfect, func(prev *srs.ReviewState) (srs.ReviewState, error) {
		return srs.Schedule(prev, srs.Perfect, scanTime)
	})
	require.NoError(t, err)

	// kat leaves the first source but is still in the second one.
	writeDeck(t, first, "deck.md", "W: hond\nD: dog\n")
	reports, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{SourceID: firstID, Parsed: 1, Reassigned: 1}, reports[0])
	assert.Equal(t, Report{SourceID: secondID, Parsed: 1}, reports[1])

	moved, err := db.FindVocabulary(ctx, kat.ID)
	require.NoError(t, err)
	assert.Equal(t, secondID, moved.SourceID)
	p, err := db.FindProgress(ctx, "alice", kat.ID)
	require.NoError(t, err)
	require.NotNil(t, p, "progress survives the move")
	assert.Equal(t, 1, p.State.Repetitions)

	// Once no source produces it, it is deleted.
	writeDeck(t, second, "deck.md", "")
	reports, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{SourceID: secondID, Deleted: 1}, reports[1])
	_, err = db.FindVocabulary(ctx, kat.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunKeepsOrphansWhenASourceFails(t *testing.T) {
	s, db := newTestSyncer(t)
	ctx := context.Background()
	decks := t.TempDir()
	writeDeck(t, decks, "a.md", "W: een\nD: one\n\nW: twee\nD: two\n")
	localID, err := db.InsertSource(ctx, decks, domain.SourceLocal)
	require.NoError(t, err)

	_, err = s.Run(ctx)
	require.NoError(t, err)

	_, err = db.InsertSource(ctx, "https://example.com/team/dutch.git", domain.SourceGit)
	require.NoError(t, err)
	s.Fetch = func(ctx context.Context, url, localPath string, progress io.Writer) error {
		return errors.New("network down")
	}
	writeDeck(t, decks, "a.md", "W: een\nD: one\n")

	reports, err := s.Run(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, Report{SourceID: localID, Parsed: 1}, reports[0])

	vocab, err := db.GetVocabulariesBySourceID(ctx, localID)
	require.NoError(t, err)
	assert.Len(t, vocab, 2)
}

func TestConcurrentRunsDoNotCollide(t *testing.T) {
	s, db := newTestSyncer(t)
	ctx := context.Background()
	decks := t.TempDir()
	writeDeck(t, decks, "a.md", "W: een\nD: one\n\nW: twee\nD: two\n\nW: drie\nD: three\n")
	_, err := db.InsertSource(ctx, decks, domain.SourceLocal)
	require.NoError(t, err)

	const runs = 4
	results := make([][]Report, runs)
	var wg gosync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports, err := s.Run(ctx)
			assert.NoError(t, err)
			results[i] = reports
		}(i)
	}
	wg.Wait()

	inserted, errCount := 0, 0
	for _, reports := range results {
		require.Len(t, reports, 1)
		inserted += reports[0].Inserted
		errCount += reports[0].Errors
	}
	assert.Equal(t, 3, inserted)
	assert.Zero(t, errCount)
}

func TestRunWithoutSources(t *testing.T) {
	s, _ := newTestSyncer(t)
	reports, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestGitURLToLocalPath(t *testing.T) {
	testCases := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{url: "https://github.com/org/decks.git", want: filepath.Join("repos", "github.com", "org", "decks")},
		{url: "git@github.com:org/decks.git", want: filepath.Join("repos", "github.com", "org", "decks")},
		{url: "not a url", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			got, err := gitURLToLocalPath("repos", tc.url)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
