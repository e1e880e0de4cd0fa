package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/syui/aigpt/internal/engine"
	"github.com/syui/aigpt/internal/errs"
)

// Server is the aigpt HTTP API server.
type Server struct {
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server over eng.
func New(eng *engine.Engine, version string) *Server {
	s := &Server{
		engine:  eng,
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
		r.Get("/status", s.handleStatus)
		r.Get("/fortune", s.handleFortune)

		r.Get("/relationships", s.handleListRelationships)
		r.Get("/relationships/{userID}", s.handleGetRelationship)
		r.Get("/relationships/{userID}/memories", s.handleMemories)
		r.Post("/relationships/{userID}/transmission", s.handleSetTransmission)

		r.Post("/interactions", s.handleInteract)
		r.Post("/chat", s.handleChat)
		r.Post("/tick", s.handleTick)
		r.Get("/transmissions", s.handleTransmissions)

		r.Get("/scheduler", s.handleScheduler)
		r.Get("/scheduler/history", s.handleSchedulerHistory)
		r.Post("/scheduler/tasks", s.handleCreateTask)
		r.Post("/scheduler/tasks/{taskID}/enable", s.handleEnableTask(true))
		r.Post("/scheduler/tasks/{taskID}/disable", s.handleEnableTask(false))
		r.Delete("/scheduler/tasks/{taskID}", s.handleDeleteTask)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.engine.DB.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.engine.DB.Path,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.NotFound:
		return http.StatusNotFound
	case errs.InvalidInput:
		return http.StatusBadRequest
	case errs.Generation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": err.Error(),
		"kind":  errs.KindOf(err).String(),
	})
}
