package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/rapport/internal/engine"
)

// maxBodyBytes caps request bodies on ingestion routes.
const maxBodyBytes = 1 << 20

// Server is the local HTTP adapter in front of the relationship engine.
type Server struct {
	engine  *engine.Engine
	log     *slog.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server for eng. A nil logger discards output.
func New(eng *engine.Engine, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		engine:  eng,
		log:     log,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/interactions", s.handleRecord)
		r.Get("/relationships", s.handleExport)
		r.Get("/relationships/{agent}", s.handleRelationship)
		r.Get("/relationships/{agent}/context", s.handleContext)
		r.Post("/relationships/{agent}/pin", s.handlePin)
		r.Post("/relationships/{agent}/classify", s.handleClassify)

		r.Post("/sweep", s.handleSweep)
		r.Post("/narratives", s.handleNarratives)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.engine.DB.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	body := map[string]any{
		"status":    "ok",
		"version":   s.version,
		"uptime":    time.Since(s.started).Seconds(),
		"db":        dbOK,
		"db_path":   s.engine.DB.Path,
		"narrative": s.engine.Narrator != nil,
		"stats":     s.engine.Stats(),
	}
	if o, err := s.engine.Overview(r.Context()); err == nil {
		body["overview"] = o
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps the engine error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrBatchInProgress):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNarrativeDisabled), errors.Is(err, engine.ErrStorage):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("http: request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
