package purchasing

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/posting"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Handler exposes the purchase lifecycle over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/revisions", h.handleRevise)
	r.Post("/{id}/payments", h.handleAddPayment)
	r.Post("/{id}/void-return", h.handleVoidReturn)
	r.Get("/chains/{chainID}", h.handleChain)
	r.Post("/chains/{chainID}/void", h.handleVoidChain)
	r.Post("/payments/{paymentID}/reverse", h.handleReversePayment)
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
	purchase, err := h.service.Create(r.Context(), CreateInput{
		Number:     req.Number,
		SupplierID: req.SupplierID,
		OutletID:   req.OutletID,
		GrandTotal: req.GrandTotal,
		Kind:       Kind(req.Kind),
	})
	if err != nil {
		h.respondErr(w, "create purchase", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPurchaseResponse(purchase))
}

func (h *Handler) handleRevise(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req reviseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amended, err := h.service.Revise(r.Context(), id, req.GrandTotal)
	if err != nil {
		h.respondErr(w, "revise purchase", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPurchaseResponse(amended))
}

func (h *Handler) handleVoidChain(w http.ResponseWriter, r *http.Request) {
	chainID, err := uuid.Parse(chi.URLParam(r, "chainID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid chain id")
		return
	}
	var req voidChainRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if req.WithReversals {
		cutoff := time.Now()
		if req.Cutoff != nil {
			cutoff = *req.Cutoff
		}
		err = h.service.VoidChainWithReversals(r.Context(), chainID, cutoff, req.InvalidateOriginalsAfter)
	} else {
		err = h.service.VoidChain(r.Context(), chainID)
	}
	if err != nil {
		h.respondErr(w, "void chain", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "voided"})
}

func (h *Handler) handleVoidReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.VoidReturn(r.Context(), id); err != nil {
		h.respondErr(w, "void return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "voided"})
}

func (h *Handler) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	paidAt := time.Time{}
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}
	payment, err := h.service.AddPayment(r.Context(), id, req.Amount, paidAt)
	if err != nil {
		h.respondErr(w, "add payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPaymentResponse(payment))
}

func (h *Handler) handleReversePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "paymentID")
	if !ok {
		return
	}
	if err := h.service.ReversePayment(r.Context(), id); err != nil {
		h.respondErr(w, "reverse payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "reversed"})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	purchase, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get purchase", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPurchaseResponse(purchase))
}

func (h *Handler) handleChain(w http.ResponseWriter, r *http.Request) {
	chainID, err := uuid.Parse(chi.URLParam(r, "chainID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid chain id")
		return
	}
	chain, err := h.service.Chain(r.Context(), chainID)
	if err != nil {
		h.respondErr(w, "get chain", err)
		return
	}
	views := make([]purchaseResponse, 0, len(chain))
	for _, p := range chain {
		views = append(views, toPurchaseResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"revisions": views})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{}
	if v := r.URL.Query().Get("supplier_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid supplier_id")
			return
		}
		filter.SupplierID = id
	}
	if v := r.URL.Query().Get("outlet_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid outlet_id")
			return
		}
		filter.OutletID = id
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = Status(v)
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	purchases, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondErr(w, "list purchases", err)
		return
	}
	meta := shared.NewPagination(page, perPage, len(purchases))
	start := (meta.Page - 1) * meta.PerPage
	if start > len(purchases) {
		start = len(purchases)
	}
	end := start + meta.PerPage
	if end > len(purchases) {
		end = len(purchases)
	}
	views := make([]purchaseResponse, 0, end-start)
	for _, p := range purchases[start:end] {
		views = append(views, toPurchaseResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"purchases": views,
		"pagination": map[string]int{
			"page":        meta.Page,
			"per_page":    meta.PerPage,
			"total":       meta.Total,
			"total_pages": meta.TotalPages,
		},
	})
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, posting.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, posting.ErrOutOfSequence):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, posting.ErrOptimisticConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "concurrent modification, retry the request")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}
