// Package accounts resolves semantic account roles to concrete chart-of-
// accounts identifiers. A missing mapping is a configuration fault, fatal to
// the posting that needed it.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Role names a semantic account used by posting operations.
type Role string

const (
	RoleAccountsPayable Role = "ap"
	RoleCash            Role = "cash"
	RoleInventory       Role = "inventory"
	RoleTillVariance    Role = "till_variance"
	RoleOpeningOffset   Role = "opening_offset"
)

// ErrAccountNotConfigured indicates the chart-of-accounts mapping for a role
// is missing. Not retried; the operator has to configure the mapping.
var ErrAccountNotConfigured = errors.New("accounts: account not configured")

// Scope narrows a role to a party or outlet. Zero values fall back to the
// unscoped mapping row.
type Scope struct {
	SupplierID int64
	OutletID   int64
}

// Mapping links a role and scope to a ledger account.
type Mapping struct {
	Role       Role
	SupplierID int64
	OutletID   int64
	AccountID  int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Resolver looks up account mappings.
type Resolver interface {
	Resolve(ctx context.Context, role Role, scope Scope) (int64, error)
}

type resolver struct {
	db *pgxpool.Pool
}

// NewResolver builds the pgx-backed resolver.
func NewResolver(db *pgxpool.Pool) Resolver {
	return &resolver{db: db}
}

// Resolve returns the account id for a role, preferring the scoped row and
// falling back to the unscoped default for the role.
func (r *resolver) Resolve(ctx context.Context, role Role, scope Scope) (int64, error) {
	if role == "" {
		return 0, errors.New("accounts: role required")
	}
	var accountID int64
	err := r.db.QueryRow(ctx, `SELECT account_id FROM account_mappings
WHERE role=$1 AND supplier_id IN (0, $2) AND outlet_id IN (0, $3)
ORDER BY supplier_id DESC, outlet_id DESC LIMIT 1`, role, scope.SupplierID, scope.OutletID).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: role %s", ErrAccountNotConfigured, role)
		}
		return 0, err
	}
	if accountID == 0 {
		return 0, fmt.Errorf("%w: role %s", ErrAccountNotConfigured, role)
	}
	return accountID, nil
}
