package tills

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/posting"
)

// Handler exposes till sessions over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers till routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sessions", h.handleOpen)
	r.Get("/sessions/{id}", h.handleGet)
	r.Post("/sessions/{id}/close", h.handleClose)
	r.Get("/sessions", h.handleListOpen)
}

type openRequest struct {
	TillID       int64   `json:"till_id" validate:"required,gt=0"`
	OutletID     int64   `json:"outlet_id" validate:"required,gt=0"`
	OpeningFloat float64 `json:"opening_float" validate:"gte=0"`
}

type closeRequest struct {
	DeclaredToMove float64 `json:"declared_to_move" validate:"gte=0"`
	SystemCash     float64 `json:"system_cash" validate:"gte=0"`
}

type sessionResponse struct {
	ID             int64    `json:"id"`
	PublicID       string   `json:"public_id"`
	Number         string   `json:"number"`
	TillID         int64    `json:"till_id"`
	OutletID       int64    `json:"outlet_id"`
	OpeningFloat   float64  `json:"opening_float"`
	DeclaredToMove float64  `json:"declared_to_move"`
	SystemCash     float64  `json:"system_cash"`
	Variance       float64  `json:"variance"`
	Status         string   `json:"status"`
	OpenedAt       string   `json:"opened_at"`
	ClosedAt       *string  `json:"closed_at,omitempty"`
}

func toSessionResponse(s Session) sessionResponse {
	resp := sessionResponse{
		ID:             s.ID,
		PublicID:       s.PublicID.String(),
		Number:         s.Number,
		TillID:         s.TillID,
		OutletID:       s.OutletID,
		OpeningFloat:   s.OpeningFloat,
		DeclaredToMove: s.DeclaredToMove,
		SystemCash:     s.SystemCash,
		Variance:       s.Variance,
		Status:         string(s.Status),
		OpenedAt:       s.OpenedAt.Format(time.RFC3339),
	}
	if s.ClosedAt != nil {
		closedAt := s.ClosedAt.Format(time.RFC3339)
		resp.ClosedAt = &closedAt
	}
	return resp
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	session, err := h.service.Open(r.Context(), OpenInput{TillID: req.TillID, OutletID: req.OutletID, OpeningFloat: req.OpeningFloat})
	if err != nil {
		h.respondErr(w, "open session", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSessionResponse(session))
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	var req closeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	session, err := h.service.Close(r.Context(), CloseInput{SessionID: id, DeclaredToMove: req.DeclaredToMove, SystemCash: req.SystemCash})
	if err != nil {
		h.respondErr(w, "close session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return
	}
	session, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(session))
}

func (h *Handler) handleListOpen(w http.ResponseWriter, r *http.Request) {
	outletID, err := strconv.ParseInt(r.URL.Query().Get("outlet_id"), 10, 64)
	if err != nil || outletID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "outlet_id is required")
		return
	}
	sessions, err := h.service.ListOpen(r.Context(), outletID)
	if err != nil {
		h.respondErr(w, "list open sessions", err)
		return
	}
	views := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toSessionResponse(s))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sessions": views})
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrSessionOpen):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, posting.ErrOptimisticConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "concurrent modification, retry the request")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
