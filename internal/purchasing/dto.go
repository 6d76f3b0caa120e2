package purchasing

import "time"

type createRequest struct {
	Number     string  `json:"number" validate:"omitempty,max=64"`
	SupplierID int64   `json:"supplier_id" validate:"required,gt=0"`
	OutletID   int64   `json:"outlet_id" validate:"required,gt=0"`
	GrandTotal float64 `json:"grand_total" validate:"required,gt=0"`
	Kind       string  `json:"kind" validate:"omitempty,oneof=PURCHASE RETURN"`
}

type reviseRequest struct {
	GrandTotal float64 `json:"grand_total" validate:"required,gt=0"`
}

type voidChainRequest struct {
	WithReversals            bool       `json:"with_reversals"`
	Cutoff                   *time.Time `json:"cutoff"`
	InvalidateOriginalsAfter bool       `json:"invalidate_originals_after"`
}

type paymentRequest struct {
	Amount float64    `json:"amount" validate:"required,gt=0"`
	PaidAt *time.Time `json:"paid_at"`
}

type purchaseResponse struct {
	ID         int64   `json:"id"`
	PublicID   string  `json:"public_id"`
	ChainID    string  `json:"chain_id"`
	Revision   int     `json:"revision"`
	Kind       string  `json:"kind"`
	Number     string  `json:"number"`
	SupplierID int64   `json:"supplier_id"`
	OutletID   int64   `json:"outlet_id"`
	GrandTotal float64 `json:"grand_total"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
}

func toPurchaseResponse(p Purchase) purchaseResponse {
	return purchaseResponse{
		ID:         p.ID,
		PublicID:   p.PublicID.String(),
		ChainID:    p.ChainID.String(),
		Revision:   p.Revision,
		Kind:       string(p.Kind),
		Number:     p.Number,
		SupplierID: p.SupplierID,
		OutletID:   p.OutletID,
		GrandTotal: p.GrandTotal,
		Status:     string(p.Status),
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
	}
}

type paymentResponse struct {
	ID         int64   `json:"id"`
	PurchaseID int64   `json:"purchase_id"`
	Amount     float64 `json:"amount"`
	PaidAt     string  `json:"paid_at"`
	Reversed   bool    `json:"reversed"`
}

func toPaymentResponse(p Payment) paymentResponse {
	return paymentResponse{
		ID:         p.ID,
		PurchaseID: p.PurchaseID,
		Amount:     p.Amount,
		PaidAt:     p.PaidAt.Format(time.RFC3339),
		Reversed:   p.Reversed,
	}
}
