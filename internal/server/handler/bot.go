package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/notify"
)

// BotController is the engine surface the API drives.
type BotController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Tick(ctx context.Context) domain.TradeOutcome
	State() domain.BotState
	Config() domain.BotConfig
	Status() domain.BotStatus
	UpdateConfig(ctx context.Context, patch domain.BotConfigPatch) error
}

// LifecycleRecorder is told about start/stop requests that changed state.
type LifecycleRecorder interface {
	OnLifecycle(ctx context.Context, running bool, source string)
}

// BotHandler serves the /api/bot endpoints.
type BotHandler struct {
	bot       BotController
	lifecycle LifecycleRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewBotHandler creates a BotHandler. lifecycle may be nil.
func NewBotHandler(bot BotController, lifecycle LifecycleRecorder, logger *slog.Logger) *BotHandler {
	return &BotHandler{
		bot:       bot,
		lifecycle: lifecycle,
		logger:    logger.With(slog.String("handler", "bot")),
		now:       time.Now,
	}
}

// GetState returns the persisted channel, position and counters.
// GET /api/bot/state
func (h *BotHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bot.State())
}

// GetConfig returns the live config.
// GET /api/bot/config
func (h *BotHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bot.Config())
}

type validationResponse struct {
	Error  string              `json:"error"`
	Fields []domain.FieldError `json:"fields"`
}

// UpdateConfig applies a partial update atomically. Every problem is
// reported at once and nothing is applied when any exists.
// PUT /api/bot/config
func (h *BotHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "no parameters given")
		return
	}

	patch, fieldErrs := parsePatch(body)
	if len(fieldErrs) > 0 {
		writeJSON(w, http.StatusBadRequest, validationResponse{Error: "invalid parameters", Fields: fieldErrs})
		return
	}

	if err := h.bot.UpdateConfig(r.Context(), patch); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Error: verr.Error(), Fields: verr.Fields})
			return
		}
		h.logger.ErrorContext(r.Context(), "update config failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to update config")
		return
	}
	writeJSON(w, http.StatusOK, h.bot.Config())
}

type lifecycleResponse struct {
	Running bool   `json:"running"`
	Changed bool   `json:"changed"`
	Message string `json:"message"`
}

// Start begins ticking. Starting a running bot is reported, not an error.
// POST /api/bot/start
func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.lifecycleChange(w, r, true)
}

// Stop halts ticking. Stopping a stopped bot is reported, not an error.
// POST /api/bot/stop
func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.lifecycleChange(w, r, false)
}

func (h *BotHandler) lifecycleChange(w http.ResponseWriter, r *http.Request, running bool) {
	var err error
	if running {
		err = h.bot.Start(r.Context())
	} else {
		err = h.bot.Stop(r.Context())
	}

	switch {
	case errors.Is(err, domain.ErrAlreadyRunning), errors.Is(err, domain.ErrNotRunning):
		writeJSON(w, http.StatusOK, lifecycleResponse{Running: running, Message: err.Error()})
	case err != nil:
		h.logger.ErrorContext(r.Context(), "lifecycle change failed",
			slog.Bool("running", running),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to persist bot state")
	default:
		if h.lifecycle != nil {
			h.lifecycle.OnLifecycle(r.Context(), running, "api")
		}
		msg := "bot stopped"
		if running {
			msg = "bot started"
		}
		writeJSON(w, http.StatusOK, lifecycleResponse{Running: running, Changed: true, Message: msg})
	}
}

// Tick runs one evaluation now and returns its outcome. The bot must be
// running.
// POST /api/bot/tick
func (h *BotHandler) Tick(w http.ResponseWriter, r *http.Request) {
	if !h.bot.State().IsRunning {
		writeError(w, http.StatusConflict, domain.ErrNotRunning.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.bot.Tick(r.Context()))
}

// Status returns the operator report as text, or the summary as JSON with
// ?format=json.
// GET /api/bot/status
func (h *BotHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, h.bot.Status())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(notify.FormatStatus(h.bot.State(), h.bot.Config(), h.now())))
}
