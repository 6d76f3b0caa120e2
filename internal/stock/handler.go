package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-pos/meridian-pos/internal/accounts"
	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/posting"
)

// Handler exposes opening-stock documents over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/documents", h.handleCreate)
	r.Get("/documents/{id}", h.handleGet)
	r.Put("/documents/{id}/lines", h.handleSetLines)
	r.Post("/documents/{id}/lock", h.handleLock)
	r.Post("/documents/{id}/unlock", h.handleUnlock)
	r.Get("/on-hand", h.handleOnHand)
}

type createRequest struct {
	Number      string `json:"number" validate:"omitempty,max=64"`
	OutletID    int64  `json:"outlet_id" validate:"required,gt=0"`
	WarehouseID int64  `json:"warehouse_id" validate:"required,gt=0"`
}

type lineRequest struct {
	ItemID    int64   `json:"item_id" validate:"required,gt=0"`
	Qty       float64 `json:"qty" validate:"gte=0"`
	UnitValue float64 `json:"unit_value" validate:"gte=0"`
}

type setLinesRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type documentResponse struct {
	ID          int64   `json:"id"`
	PublicID    string  `json:"public_id"`
	Number      string  `json:"number"`
	OutletID    int64   `json:"outlet_id"`
	WarehouseID int64   `json:"warehouse_id"`
	Locked      bool    `json:"locked"`
	LockedValue float64 `json:"locked_value"`
}

func toDocumentResponse(d Document) documentResponse {
	return documentResponse{
		ID:          d.ID,
		PublicID:    d.PublicID.String(),
		Number:      d.Number,
		OutletID:    d.OutletID,
		WarehouseID: d.WarehouseID,
		Locked:      d.Locked,
		LockedValue: d.LockedValue,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	doc, err := h.service.Create(r.Context(), CreateInput{Number: req.Number, OutletID: req.OutletID, WarehouseID: req.WarehouseID})
	if err != nil {
		h.respondErr(w, "create stock document", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (h *Handler) handleSetLines(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req setLinesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, LineInput{ItemID: l.ItemID, Qty: l.Qty, UnitValue: l.UnitValue})
	}
	if err := h.service.SetLines(r.Context(), id, lines); err != nil {
		h.respondErr(w, "set stock lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Lock(r.Context(), id)
	if err != nil {
		h.respondErr(w, "lock stock document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Unlock(r.Context(), id)
	if err != nil {
		h.respondErr(w, "unlock stock document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get stock document", err)
		return
	}
	lines, err := h.service.Lines(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get stock lines", err)
		return
	}
	lineViews := make([]map[string]any, 0, len(lines))
	for _, l := range lines {
		lineViews = append(lineViews, map[string]any{
			"item_id":    l.ItemID,
			"qty":        l.Qty,
			"unit_value": l.UnitValue,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"document":    toDocumentResponse(doc),
		"lines":       lineViews,
		"total_value": Value(lines),
	})
}

func (h *Handler) handleOnHand(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(r.URL.Query().Get("item_id"), 10, 64)
	if err != nil || itemID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item_id is required")
		return
	}
	locationID, err := strconv.ParseInt(r.URL.Query().Get("location_id"), 10, 64)
	if err != nil || locationID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "location_id is required")
		return
	}
	asOf := time.Time{}
	if v := r.URL.Query().Get("as_of"); v != "" {
		asOf, err = time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be RFC3339")
			return
		}
	}
	qty, err := h.service.OnHand(r.Context(), itemID, locationID, asOf)
	if err != nil {
		h.respondErr(w, "on-hand projection", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item_id":     itemID,
		"location_id": locationID,
		"on_hand":     qty,
	})
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrLocked), errors.Is(err, ErrNotLocked):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, accounts.ErrAccountNotConfigured):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, posting.ErrOptimisticConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "concurrent modification, retry the request")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}
