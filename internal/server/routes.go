package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/syui/aigpt/internal/engine"
	"github.com/syui/aigpt/internal/errs"
	"github.com/syui/aigpt/internal/relationship"
	"github.com/syui/aigpt/internal/scheduler"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleFortune(w http.ResponseWriter, r *http.Request) {
	f, err := s.engine.TodaysFortune()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fortune":          f,
		"mood":             f.Mood(),
		"mood_description": f.Mood().Describe(),
	})
}

func (s *Server) handleListRelationships(w http.ResponseWriter, r *http.Request) {
	rels, err := s.engine.Relationships.List()
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := s.engine.Relationships.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	if rels == nil {
		rels = []relationship.Relationship{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"relationships": rels,
		"stats":         st,
	})
}

func (s *Server) handleGetRelationship(w http.ResponseWriter, r *http.Request) {
	rel, err := s.engine.Relationship(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	mems, err := s.engine.Memories(chi.URLParam(r, "userID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": mems})
}

func (s *Server) handleSetTransmission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	rel, err := s.engine.SetTransmission(chi.URLParam(r, "userID"), req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (s *Server) handleInteract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string   `json:"user_id"`
		Sentiment *float64 `json:"sentiment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Sentiment == nil {
		http.Error(w, `{"error":"sentiment required"}`, http.StatusBadRequest)
		return
	}

	res, err := s.engine.Interact(req.UserID, *req.Sentiment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"user_id"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	res, err := s.engine.Chat(r.Context(), req.UserID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var (
		rep engine.TickReport
		err error
	)
	// A tick runs to completion even if the client goes away.
	ctx := r.Context()
	if r.URL.Query().Get("all") == "true" {
		rep, err = s.engine.RunAll(context.WithoutCancel(ctx))
	} else {
		rep, err = s.engine.Tick(context.WithoutCancel(ctx))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleTransmissions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	logs, st, err := s.engine.RecentTransmissions(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transmissions": logs,
		"stats":         st,
	})
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	tasks, st, err := s.engine.SchedulerStatus()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"stats": st,
	})
}

func (s *Server) handleSchedulerHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.engine.Scheduler.History(queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": hist})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind          string    `json:"kind"`
		Name          string    `json:"name"`
		UserID        string    `json:"user_id"`
		At            time.Time `json:"at"`
		IntervalHours float64   `json:"interval_hours"`
		MaxRuns       int       `json:"max_runs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	kind, err := scheduler.ParseKind(req.Kind)
	if err != nil {
		writeError(w, errs.E(errs.InvalidInput, "create task", err))
		return
	}

	now, err := s.engine.Clock.Now()
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.engine.Scheduler.Create(scheduler.CreateOptions{
		Kind:     kind,
		Name:     req.Name,
		UserID:   req.UserID,
		At:       req.At,
		Interval: time.Duration(req.IntervalHours * float64(time.Hour)),
		MaxRuns:  req.MaxRuns,
	}, now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleEnableTask(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := s.engine.Scheduler.SetEnabled(chi.URLParam(r, "taskID"), enabled)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Scheduler.Delete(chi.URLParam(r, "taskID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
