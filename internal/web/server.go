// Package web exposes the service over plain net/http.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/local/notesync/internal/assembler"
	"github.com/local/notesync/internal/blob"
	"github.com/local/notesync/internal/custompdf"
	"github.com/local/notesync/internal/directory"
	"github.com/local/notesync/internal/evaluation"
	"github.com/local/notesync/internal/metrics"
	"github.com/local/notesync/internal/notify"
	"github.com/local/notesync/internal/pageasset"
	"github.com/local/notesync/internal/statuscheck"
	"github.com/local/notesync/internal/store"
)

// UserHeader carries the caller's user id. Authentication happens upstream.
const UserHeader = "X-User-ID"

type Directory interface {
	User(ctx context.Context, id string) (*directory.User, error)
	Course(ctx context.Context, id string) (*directory.Course, error)
	Classmates(ctx context.Context, courseID, exclude string) ([]string, error)
	Material(ctx context.Context, id string) (*directory.Material, error)
	ListMaterials(ctx context.Context, courseID string, week int) ([]directory.Material, error)
	ListPeerMaterials(ctx context.Context, courseID string, week int) ([]directory.Material, error)
	ReferenceMaterial(ctx context.Context, courseID string, week int) (*directory.Material, error)
	CreateMaterial(ctx context.Context, m *directory.Material) error
	IncrementDownloads(ctx context.Context, id string) error
	IncrementViews(ctx context.Context, id string) error
	Week(ctx context.Context, courseID string, week int) (*directory.CourseWeek, error)
	SetWeekDeadline(ctx context.Context, courseID string, week int, deadline *time.Time) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]directory.Notification, error)
	MarkNotificationRead(ctx context.Context, userID string, id uint) error
}

type PageCache interface {
	Rasterize(ctx context.Context, doc pageasset.Document) ([]pageasset.Ref, error)
	Page(ctx context.Context, doc pageasset.Document, page int) ([]byte, error)
}

type Evaluator interface {
	EvaluateNow(ctx context.Context, courseID string, week int) (*evaluation.WeekReport, error)
}

type RunStatuses interface {
	Get(ctx context.Context, courseID string, week int) (store.RunStatus, bool, error)
}

type CustomPDFs interface {
	Create(ctx context.Context, req custompdf.Request) (*custompdf.Created, error)
	Download(ctx context.Context, id, requester string) (*directory.CustomPDF, []byte, error)
	List(ctx context.Context, studentID string) ([]directory.CustomPDF, error)
}

type Readiness interface {
	Summary(ctx context.Context) statuscheck.Summary
}

type Notifier interface {
	Enqueue(ctx context.Context, n notify.Notification)
}

type Dependencies struct {
	Directory  Directory
	Store      blob.Store
	Pages      PageCache
	Evaluator  Evaluator
	Runs       RunStatuses
	CustomPDFs CustomPDFs
	Readiness  Readiness
	Notifier   Notifier
	// PDF counts pages of uploads.
	PDF            assembler.Engine
	Logger         zerolog.Logger
	MaxUploadBytes int64
	SignedURLTTL   time.Duration
}

type Server struct {
	deps   Dependencies
	logger zerolog.Logger
}

func New(deps Dependencies) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 50 << 20
	}
	return &Server{deps: deps, logger: deps.Logger.With().Str("component", "web").Logger()}
}

// Handler returns the routed mux wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(mux)
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /courses/{course}/weeks/{week}/materials", s.handleUpload)
	mux.HandleFunc("GET /courses/{course}/weeks/{week}/materials", s.handleListMaterials)
	mux.HandleFunc("PUT /courses/{course}/weeks/{week}/deadline", s.handleSetDeadline)
	mux.HandleFunc("POST /courses/{course}/weeks/{week}/evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /courses/{course}/weeks/{week}/evaluation", s.handleEvaluation)

	mux.HandleFunc("GET /materials/{id}/pages", s.handlePages)
	mux.HandleFunc("GET /materials/{id}/pages/{page}", s.handlePage)
	mux.HandleFunc("GET /materials/{id}/download", s.handleDownload)

	mux.HandleFunc("POST /custom_pdfs", s.handleCreateCustomPDF)
	mux.HandleFunc("GET /students/{id}/custom_pdfs", s.handleListCustomPDFs)
	mux.HandleFunc("GET /custom_pdfs/{id}/download", s.handleDownloadCustomPDF)

	mux.HandleFunc("GET /users/{id}/notifications", s.handleNotifications)
	mux.HandleFunc("POST /users/{id}/notifications/{nid}/read", s.handleMarkRead)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Readiness == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ready": true})
		return
	}
	sum := s.deps.Readiness.Summary(r.Context())
	code := http.StatusOK
	if !sum.Ready() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"ready": sum.Ready(), "checks": sum})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error().Interface("panic", p).Str("path", r.URL.Path).Msg("handler panic")
				http.Error(rec, "internal error", http.StatusInternalServerError)
			}
			ev := s.logger.Debug()
			if rec.status >= 500 {
				ev = s.logger.Warn()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(rec, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "message": msg})
}

func weekParam(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	course := r.PathValue("course")
	week, err := strconv.Atoi(r.PathValue("week"))
	if course == "" || err != nil || week < 0 {
		writeError(w, http.StatusBadRequest, "invalid course or week")
		return "", 0, false
	}
	return course, week, true
}

func requester(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(UserHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader)
		return "", false
	}
	return id, true
}
