package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/chantio/chantio/internal/scheduler"
)

// Scheduler actions accepted by POST /scheduler.
const (
	actionStartDailyFull    = "start-daily-full"
	actionStartIncremental  = "start-incremental"
	actionStartHourly       = "start-hourly"
	actionStartDefault      = "start-default"
	actionStop              = "stop"
	actionStopAll           = "stop-all"
	actionRunFullNow        = "run-full-now"
	actionRunIncrementalNow = "run-incremental-now"
)

type handlers struct {
	cfg    ServerConfig
	logger *slog.Logger
}

type askRequest struct {
	UserID   string `json:"userId"`
	Question string `json:"question"`
}

func (h *handlers) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", h.logger)
		return
	}
	if req.UserID == "" || req.Question == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "userId and question are required", h.logger)
		return
	}

	ctx, cancel := contextWithTimeout(r, h.cfg.AnswerTimeout)
	defer cancel()

	res, err := h.cfg.Assistant.Answer(ctx, req.UserID, req.Question)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), h.logger)
		return
	}
	writeJSON(w, http.StatusOK, res, h.logger)
}

func (h *handlers) clearConversation(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "user id is required", h.logger)
		return
	}
	if err := h.cfg.History.Clear(r.Context(), userID); err != nil {
		h.logger.Error("clearing conversation failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not clear conversation", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"}, h.logger)
}

func (h *handlers) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Scheduler.Status(), h.logger)
}

type schedulerRequest struct {
	Action   string `json:"action"`
	TaskName string `json:"taskName,omitempty"`
	Time     string `json:"time,omitempty"`
}

func (h *handlers) schedulerAction(w http.ResponseWriter, r *http.Request) {
	var req schedulerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", h.logger)
		return
	}

	var runID string
	var err error
	switch req.Action {
	case actionStartDailyFull:
		at := req.Time
		if at == "" {
			at = h.cfg.FullReindexAt
		}
		err = h.cfg.Scheduler.StartDailyFull(at)
	case actionStartIncremental:
		err = h.cfg.Scheduler.StartIncremental(h.cfg.IncrementalEvery)
	case actionStartHourly:
		err = h.cfg.Scheduler.StartHourly()
	case actionStartDefault:
		err = h.cfg.Scheduler.StartDefaults()
	case actionStop:
		if req.TaskName == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "taskName is required for stop", h.logger)
			return
		}
		err = h.cfg.Scheduler.Stop(req.TaskName)
	case actionStopAll:
		h.cfg.Scheduler.StopAll()
	case actionRunFullNow:
		runID, err = h.cfg.Scheduler.RunNow(scheduler.JobFull)
	case actionRunIncrementalNow:
		runID, err = h.cfg.Scheduler.RunNow(scheduler.JobIncremental)
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "unknown action: "+req.Action, h.logger)
		return
	}

	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "already_running", err.Error(), h.logger)
		return
	case errors.Is(err, scheduler.ErrAlreadyStarted):
		writeError(w, http.StatusConflict, "already_started", err.Error(), h.logger)
		return
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "unknown_job", err.Error(), h.logger)
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), h.logger)
		return
	}

	resp := map[string]string{"status": "ok"}
	if runID != "" {
		resp["runId"] = runID
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

type healthResponse struct {
	Status     string         `json:"status"`
	EmbedModel bool           `json:"embedModelPresent"`
	ChatModel  bool           `json:"chatModelPresent"`
	Vectors    int            `json:"vectors"`
	BySource   map[string]int `json:"bySource,omitempty"`
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	if h.cfg.Store != nil {
		resp.Vectors, resp.BySource = h.cfg.Store.Count()
	}

	if h.cfg.Health != nil {
		health, err := h.cfg.Health.Health(r.Context())
		if err != nil {
			resp.Status = "degraded"
		} else {
			resp.EmbedModel = health.EmbedModelPresent
			resp.ChatModel = health.ChatModelPresent
			if !health.EmbedModelPresent || !health.ChatModelPresent {
				resp.Status = "degraded"
			}
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp, h.logger)
}

func (h *handlers) cacheStats(w http.ResponseWriter, _ *http.Request) {
	if h.cfg.Cache == nil {
		writeError(w, http.StatusNotFound, "not_found", "cache not configured", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, h.cfg.Cache.Stats(), h.logger)
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
