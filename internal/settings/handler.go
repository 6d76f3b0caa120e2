package settings

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// Handler exposes settings snapshots over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers settings routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{type}", h.handleGet)
	r.Put("/{type}", h.handleSave)
}

type saveRequest struct {
	OutletID int64           `json:"outlet_id" validate:"gte=0"`
	Payload  json.RawMessage `json:"payload" validate:"required"`
}

type snapshotResponse struct {
	Type      string          `json:"type"`
	OutletID  int64           `json:"outlet_id"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	settingsType := chi.URLParam(r, "type")
	var outletID int64
	if v := r.URL.Query().Get("outlet_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid outlet_id")
			return
		}
		outletID = id
	}
	snapshot, err := h.service.Get(r.Context(), settingsType, outletID, json.RawMessage(`{}`))
	if err != nil {
		h.respondErr(w, "get settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snapshotResponse(snapshot))
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	settingsType := chi.URLParam(r, "type")
	var req saveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	snapshot, err := h.service.Save(r.Context(), settingsType, req.OutletID, req.Payload)
	if err != nil {
		h.respondErr(w, "save settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snapshotResponse(snapshot))
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrValidation) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
