package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// DispatchTrigger requests an immediate dispatch run on the worker instead
// of waiting for the next cron tick.
type DispatchTrigger interface {
	TriggerDispatch(ctx context.Context) error
}

// Handler exposes the outbox consumer surface over HTTP for sync peers that
// poll instead of being pushed to.
type Handler struct {
	logger  *slog.Logger
	store   Store
	trigger DispatchTrigger
}

// NewHandler builds Handler instance. The trigger is optional.
func NewHandler(logger *slog.Logger, store Store, trigger DispatchTrigger) *Handler {
	return &Handler{logger: logger, store: store, trigger: trigger}
}

// MountRoutes registers outbox routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/pending", h.handleListPending)
	r.Post("/dispatch", h.handleDispatch)
	r.Post("/records/{id}/sent", h.handleMarkSent)
	r.Post("/records/{id}/ack", h.handleAcknowledge)
	r.Post("/records/{id}/reset", h.handleReset)
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "dispatch trigger not configured")
		return
	}
	if err := h.trigger.TriggerDispatch(r.Context()); err != nil {
		h.logger.Error("trigger outbox dispatch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

type recordView struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityKey  string          `json:"entity_key"`
	Payload    json.RawMessage `json:"payload"`
	Position   int64           `json:"position"`
	Attempts   int             `json:"attempts"`
}

func (h *Handler) handleListPending(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.store.ListPending(r.Context(), limit)
	if err != nil {
		h.logger.Error("list pending outbox records", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView{
			ID:         rec.ID.String(),
			EntityType: rec.EntityType,
			EntityKey:  rec.EntityKey,
			Payload:    json.RawMessage(rec.Payload),
			Position:   rec.Position,
			Attempts:   rec.Attempts,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": views})
}

// handleMarkSent claims a PENDING record for a polling consumer. Polling
// peers fetch from /pending and have no push delivery, so they drive the
// PENDING to SENT step themselves before acknowledging.
func (h *Handler) handleMarkSent(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.store.MarkSent)
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.store.MarkAcknowledged)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.store.ResetPending)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id uuid.UUID) error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid record id")
		return
	}
	if err := fn(r.Context(), id); err != nil {
		if err == ErrRecordNotFound {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("outbox transition", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
