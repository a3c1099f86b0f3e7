package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/conorfennell/vocabio/internal/domain"
	"github.com/conorfennell/vocabio/internal/fingerprint"
	"github.com/conorfennell/vocabio/internal/gitsource"
	"github.com/conorfennell/vocabio/internal/parser"
	"github.com/conorfennell/vocabio/internal/storage"
)

// Store is the persistence used while reconciling sources.
type Store interface {
	GetAllSources(ctx context.Context) ([]domain.Source, error)
	FindVocabularyByHash(ctx context.Context, hash string) (*domain.Vocabulary, error)
	InsertVocabulary(ctx context.Context, v domain.Vocabulary, sourceID int64) (domain.Vocabulary, error)
	GetVocabulariesBySourceID(ctx context.Context, sourceID int64) ([]domain.Vocabulary, error)
	DeleteVocabularyByHash(ctx context.Context, hash string) error
	ReassignVocabularySource(ctx context.Context, hash string, sourceID int64) error
	UpdateSourceLastScanned(ctx context.Context, sourceID int64, now time.Time) error
}

var _ Store = (*storage.DB)(nil)

// FetchFunc brings a git source up to date in localPath.
type FetchFunc func(ctx context.Context, url, localPath string, progress io.Writer) error

// Syncer reconciles the vocabulary table with the decks found in every source.
type Syncer struct {
	Store    Store
	ReposDir string
	Logger   *slog.Logger
	Fetch    FetchFunc
	Clock    func() time.Time

	mu gosync.Mutex
}

// NewSyncer returns a Syncer that clones git sources below reposDir.
func NewSyncer(store Store, reposDir string, logger *slog.Logger) *Syncer {
	return &Syncer{
		Store:    store,
		ReposDir: reposDir,
		Logger:   logger,
		Fetch:    gitsource.Sync,
		Clock:    time.Now,
	}
}

// Report summarises one reconciliation of a source.
type Report struct {
	SourceID   int64 `json:"source_id"`
	Parsed     int   `json:"parsed"`
	Inserted   int   `json:"inserted"`
	Reassigned int   `json:"reassigned"`
	Deleted    int   `json:"deleted"`
	Errors     int   `json:"errors"`
}

// Run iterates over all sources and reconciles them. A source that fails to
// fetch or walk is logged and skipped; only failing to list sources aborts.
// Concurrent calls run one after another.
func (s *Syncer) Run(ctx context.Context) ([]Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Logger.Info("Starting sync process for all sources...")
	sources, err := s.Store.GetAllSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}

	if len(sources) == 0 {
		s.Logger.Info("No sources configured. Add one with --add-source <path/or/url.git>")
		return nil, nil
	}

	var scans []scan
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.Logger.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

		dir, err := s.checkout(ctx, source)
		if err != nil {
			s.Logger.Error("Error fetching source", "source_id", source.ID, "path", source.Path, "error", err)
			continue
		}
		sc, err := scanDir(source.ID, dir)
		if err != nil {
			s.Logger.Error("Error scanning source", "source_id", source.ID, "path", dir, "error", err)
			continue
		}
		scans = append(scans, sc)
	}

	// Entries shared between sources stay with the first source producing them.
	producers := make(map[string]int64)
	for _, sc := range scans {
		for _, entry := range sc.entries {
			if _, ok := producers[entry.Hash]; !ok {
				producers[entry.Hash] = sc.sourceID
			}
		}
	}
	complete := len(scans) == len(sources)
	if !complete {
		s.Logger.Warn("Some sources could not be scanned, orphaned vocabularies are kept until the next full sync")
	}

	var reports []Report
	for _, sc := range scans {
		report, err := s.reconcile(ctx, sc, producers, complete)
		if err != nil {
			s.Logger.Error("Error reconciling source", "source_id", sc.sourceID, "path", sc.dir, "error", err)
			continue
		}
		reports = append(reports, report)
	}
	s.Logger.Info("Sync process complete.", "sources", len(reports))
	return reports, nil
}

// checkout returns the directory holding the decks of source, fetching git
// sources first.
func (s *Syncer) checkout(ctx context.Context, source domain.Source) (string, error) {
	if source.Type != domain.SourceGit {
		return source.Path, nil
	}
	localRepoPath, err := gitURLToLocalPath(s.ReposDir, source.Path)
	if err != nil {
		return "", fmt.Errorf("determining local path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(localRepoPath), os.ModePerm); err != nil {
		return "", fmt.Errorf("creating repos directory: %w", err)
	}
	if err := s.Fetch(ctx, source.Path, localRepoPath, nil); err != nil {
		return "", err
	}
	return localRepoPath, nil
}

type scan struct {
	sourceID int64
	dir      string
	entries  []domain.Vocabulary
	problems []error
}

// scanDir parses every markdown deck below dir and hashes its entries.
func scanDir(sourceID int64, dir string) (scan, error) {
	sc := scan{sourceID: sourceID, dir: dir}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		entries, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			sc.problems = append(sc.problems, fmt.Errorf("parsing %s: %w", path, parseErr))
		}
		for _, entry := range entries {
			entry.Hash = fingerprint.Hash(entry)
			sc.entries = append(sc.entries, entry)
		}
		return nil
	})
	if err != nil {
		return sc, fmt.Errorf("walking %s: %w", dir, err)
	}
	return sc, nil
}

// reconcile inserts the new entries of a scanned source and handles the stored
// ones it no longer produces: they move to another source that still produces
// them, otherwise they are deleted when deleteOrphans is set.
func (s *Syncer) reconcile(ctx context.Context, sc scan, producers map[string]int64, deleteOrphans bool) (Report, error) {
	report := Report{SourceID: sc.sourceID, Parsed: len(sc.entries)}
	problems := sc.problems
	found := make(map[string]bool, len(sc.entries))

	for _, entry := range sc.entries {
		found[entry.Hash] = true
		existing, err := s.Store.FindVocabularyByHash(ctx, entry.Hash)
		if err != nil {
			problems = append(problems, fmt.Errorf("db check for %s: %w", entry.Hash, err))
			continue
		}
		if existing != nil {
			continue
		}
		s.Logger.Debug("New vocabulary found, inserting...", "word", entry.Word, "hash", entry.Hash)
		if _, err := s.Store.InsertVocabulary(ctx, entry, sc.sourceID); err != nil {
			problems = append(problems, fmt.Errorf("db insert for %s: %w", entry.Hash, err))
			continue
		}
		report.Inserted++
	}

	stored, err := s.Store.GetVocabulariesBySourceID(ctx, sc.sourceID)
	if err != nil {
		return report, fmt.Errorf("getting vocabularies for source %d: %w", sc.sourceID, err)
	}
	for _, v := range stored {
		if found[v.Hash] {
			continue
		}
		if owner, ok := producers[v.Hash]; ok && owner != sc.sourceID {
			s.Logger.Info("Vocabulary moved to another source", "word", v.Word, "hash", v.Hash, "source_id", owner)
			if err := s.Store.ReassignVocabularySource(ctx, v.Hash, owner); err != nil {
				problems = append(problems, fmt.Errorf("db reassign for %s: %w", v.Hash, err))
				continue
			}
			report.Reassigned++
			continue
		}
		if !deleteOrphans {
			continue
		}
		s.Logger.Info("Orphaned vocabulary, deleting", "word", v.Word, "hash", v.Hash)
		if err := s.Store.DeleteVocabularyByHash(ctx, v.Hash); err != nil {
			problems = append(problems, fmt.Errorf("db delete for %s: %w", v.Hash, err))
			continue
		}
		report.Deleted++
	}

	if err := s.Store.UpdateSourceLastScanned(ctx, sc.sourceID, s.Clock()); err != nil {
		s.Logger.Warn("Failed to update last scanned for source", "source_id", sc.sourceID, "error", err)
	}

	report.Errors = len(problems)
	if len(problems) > 0 {
		s.Logger.Warn("reconciliation finished with errors", "source_id", sc.sourceID, "error", errors.Join(problems...))
	}
	s.Logger.Info("reconciliation complete",
		"path", sc.dir,
		"parsed", report.Parsed,
		"inserted", report.Inserted,
		"reassigned", report.Reassigned,
		"orphaned_deleted", report.Deleted,
		"errors", report.Errors,
	)
	return report, nil
}

func gitURLToLocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http") {
		if strings.Contains(repoURL, "@") {
			parts := strings.Split(repoURL, ":")
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 {
					host := hostAndUser[1]
					repoPath := strings.TrimSuffix(parts[1], ".git")
					return filepath.Join(baseDir, host, repoPath), nil
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}

	sanitizedPath := strings.TrimSuffix(parsedURL.Path, ".git")
	return filepath.Join(baseDir, parsedURL.Host, sanitizedPath), nil
}
