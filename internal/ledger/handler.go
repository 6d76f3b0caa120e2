package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// Handler serves the read-only ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/documents/{publicID}/entries", h.handleDocumentEntries)
	r.Get("/documents/{publicID}/ap-balance", h.handleAPBalance)
	r.Get("/accounts/{accountID}/balance", h.handleAccountBalance)
}

type entryView struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"account_id"`
	Debit       float64   `json:"debit"`
	Credit      float64   `json:"credit"`
	DocPublicID string    `json:"doc_public_id"`
	DocNumber   string    `json:"doc_number"`
	SourceKind  string    `json:"source_kind"`
	Invalid     bool      `json:"invalid"`
	PostedAt    time.Time `json:"posted_at"`
}

func (h *Handler) handleDocumentEntries(w http.ResponseWriter, r *http.Request) {
	publicID, err := uuid.Parse(chi.URLParam(r, "publicID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document public id")
		return
	}
	entries, err := h.service.DocumentEntries(r.Context(), publicID)
	if err != nil {
		h.logger.Error("list document entries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{
			ID:          e.ID,
			AccountID:   e.AccountID,
			Debit:       e.Debit,
			Credit:      e.Credit,
			DocPublicID: e.DocPublicID.String(),
			DocNumber:   e.DocNumber,
			SourceKind:  string(e.SourceKind),
			Invalid:     e.Invalid,
			PostedAt:    e.PostedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": views})
}

func (h *Handler) handleAPBalance(w http.ResponseWriter, r *http.Request) {
	publicID, err := uuid.Parse(chi.URLParam(r, "publicID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid document public id")
		return
	}
	accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if err != nil || accountID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "account_id required")
		return
	}
	balance, err := h.service.SupplierAPBalance(r.Context(), publicID, accountID)
	if err != nil {
		h.logger.Error("supplier ap balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (h *Handler) handleAccountBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil || accountID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid account id")
		return
	}
	asOf := time.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be RFC3339")
			return
		}
		asOf = parsed
	}
	balance, err := h.service.AccountBalance(r.Context(), accountID, asOf)
	if err != nil {
		h.logger.Error("account balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balance": balance, "as_of": asOf})
}
