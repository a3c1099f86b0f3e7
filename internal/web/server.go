package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/conorfennell/vocabio/internal/auth"
	"github.com/conorfennell/vocabio/internal/domain"
	"github.com/conorfennell/vocabio/internal/review"
	"github.com/conorfennell/vocabio/internal/storage"
	"github.com/conorfennell/vocabio/internal/sync"
)

const maxBodyBytes = 1 << 20

var (
	errBadRequest = errors.New("bad request")
	errConflict   = errors.New("conflict")
)

// Store is the persistence used directly by the HTTP layer.
type Store interface {
	auth.SessionStore
	DeleteSession(ctx context.Context, token string) error
	GetAllSources(ctx context.Context) ([]domain.Source, error)
	FindSourceByPath(ctx context.Context, path string) (*domain.Source, error)
	InsertSource(ctx context.Context, path string, sourceType domain.SourceType) (int64, error)
	DeleteSource(ctx context.Context, sourceID int64) error
}

var _ Store = (*storage.DB)(nil)

// Syncer reconciles all sources on demand.
type Syncer interface {
	Run(ctx context.Context) ([]sync.Report, error)
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	store   Store
	reviews *review.Service
	syncer  Syncer
	logger  *slog.Logger
	clock   func() time.Time
	router  *http.ServeMux
}

// NewServer creates and configures a new server.
func NewServer(store Store, reviews *review.Service, syncer Syncer, logger *slog.Logger) *Server {
	s := &Server{
		store:   store,
		reviews: reviews,
		syncer:  syncer,
		logger:  logger,
		clock:   time.Now,
		router:  http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logRequests(s.router).ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth)

	s.router.HandleFunc("GET /srs/due", s.withSession(s.handleGetDue))
	s.router.HandleFunc("GET /srs/progress/{id}", s.withSession(s.handleGetProgress))
	s.router.HandleFunc("POST /srs/review", s.withSession(s.handlePostReview))
	s.router.HandleFunc("GET /srs/preview/{id}", s.withSession(s.handleGetPreview))
	s.router.HandleFunc("GET /srs/statistics", s.withSession(s.handleGetStatistics))
	s.router.HandleFunc("GET /srs/history/{id}", s.withSession(s.handleGetHistory))
	s.router.HandleFunc("DELETE /session", s.withSession(s.handleDeleteSession))

	// Source management routes
	s.router.HandleFunc("GET /sources", s.withSession(s.handleGetSources))
	s.router.HandleFunc("POST /sources", s.withSession(s.handlePostSource))
	s.router.HandleFunc("GET /sources/progress", s.withSession(s.handleGetSourceProgress))
	s.router.HandleFunc("DELETE /sources/{id}", s.withSession(s.handleDeleteSource))
	s.router.HandleFunc("POST /sync", s.withSession(s.handlePostSync))
}

// ApiResponse is the envelope of every response body.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, session auth.Session)

// withSession resolves the bearer token before calling next.
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := auth.Resolve(r.Context(), s.store, r.Header.Get("Authorization"), s.clock())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next(w, r, session)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetDue(w http.ResponseWriter, r *http.Request, session auth.Session) {
	var q review.DueQuery
	var err error
	if v := r.URL.Query().Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			s.fail(w, r, fmt.Errorf("%w: invalid limit %q", errBadRequest, v))
			return
		}
	}
	if v := r.URL.Query().Get("source_id"); v != "" {
		if q.SourceID, err = strconv.ParseInt(v, 10, 64); err != nil {
			s.fail(w, r, fmt.Errorf("%w: invalid source_id %q", errBadRequest, v))
			return
		}
	}

	due, err := s.reviews.Due(r.Context(), session, q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if due == nil {
		due = []domain.Vocabulary{}
	}
	s.respond(w, http.StatusOK, due)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request, session auth.Session) {
	view, err := s.reviews.Progress(r.Context(), session, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, view)
}

func (s *Server) handlePostReview(w http.ResponseWriter, r *http.Request, session auth.Session) {
	var req review.ReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	progress, err := s.reviews.Review(r.Context(), session, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, progress)
}

func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request, session auth.Session) {
	outcomes, err := s.reviews.Preview(r.Context(), session, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, outcomes)
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request, session auth.Session) {
	st, err := s.reviews.Statistics(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, st)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request, session auth.Session) {
	logs, err := s.reviews.History(r.Context(), session, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if logs == nil {
		logs = []domain.ReviewLog{}
	}
	s.respond(w, http.StatusOK, logs)
}

// handleDeleteSession revokes the token the request was made with.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, session auth.Session) {
	if err := s.store.DeleteSession(r.Context(), session.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("Session revoked", "user_id", session.UserID)
	s.respond(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (s *Server) handleGetSourceProgress(w http.ResponseWriter, r *http.Request, session auth.Session) {
	progress, err := s.reviews.SourceProgress(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, progress)
}

func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	sources, err := s.store.GetAllSources(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sources == nil {
		sources = []domain.Source{}
	}
	s.respond(w, http.StatusOK, sources)
}

type addSourceRequest struct {
	Path string `json:"path"`
}

// handlePostSource registers a new source. Its decks are imported on the next sync.
func (s *Server) handlePostSource(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	var req addSourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		s.fail(w, r, fmt.Errorf("%w: path cannot be empty", errBadRequest))
		return
	}

	existing, err := s.store.FindSourceByPath(r.Context(), path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if existing != nil {
		s.fail(w, r, fmt.Errorf("%w: source %q already exists", errConflict, path))
		return
	}

	source := domain.Source{Path: path, Type: domain.DetectSourceType(path)}
	if source.ID, err = s.store.InsertSource(r.Context(), source.Path, source.Type); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("Source added", "id", source.ID, "path", source.Path, "type", source.Type)
	s.respond(w, http.StatusCreated, source)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: invalid source id", errBadRequest))
		return
	}
	if err := s.store.DeleteSource(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]int64{"deleted": id})
}

type syncResponse struct {
	Sources  []sync.Report `json:"sources"`
	Inserted int           `json:"inserted"`
	Deleted  int           `json:"deleted"`
	Errors   int           `json:"errors"`
}

// handlePostSync runs a sync in the foreground so the caller waits for it.
func (s *Server) handlePostSync(w http.ResponseWriter, r *http.Request, _ auth.Session) {
	reports, err := s.syncer.Run(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, syncResponse{
		Sources:  lo.Ternary(reports == nil, []sync.Report{}, reports),
		Inserted: lo.SumBy(reports, func(rep sync.Report) int { return rep.Inserted }),
		Deleted:  lo.SumBy(reports, func(rep sync.Report) int { return rep.Deleted }),
		Errors:   lo.SumBy(reports, func(rep sync.Report) int { return rep.Errors }),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) respond(w http.ResponseWriter, status int, data any) {
	s.write(w, status, ApiResponse{Success: true, Data: data})
}

// fail maps err to a status code. Internal errors are logged and not echoed.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = http.StatusText(status)
	}
	s.write(w, status, ApiResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, review.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, review.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) write(w http.ResponseWriter, status int, body ApiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
