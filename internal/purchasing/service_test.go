package purchasing

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/accounts"
	"github.com/meridian-pos/meridian-pos/internal/ledger"
	"github.com/meridian-pos/meridian-pos/internal/posting"
)

const (
	accInventory int64 = 1
	accAP        int64 = 2
	accCash      int64 = 3
)

type staticResolver struct{}

func (staticResolver) Resolve(_ context.Context, role accounts.Role, _ accounts.Scope) (int64, error) {
	switch role {
	case accounts.RoleInventory:
		return accInventory, nil
	case accounts.RoleAccountsPayable:
		return accAP, nil
	case accounts.RoleCash:
		return accCash, nil
	}
	return 0, accounts.ErrAccountNotConfigured
}

type memLedger struct {
	entries []ledger.Entry
}

func (l *memLedger) InsertBatch(_ context.Context, batch ledger.Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	for _, line := range batch.Lines {
		l.entries = append(l.entries, ledger.Entry{
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			DocPublicID: batch.DocPublicID,
			SourceKind:  batch.SourceKind,
			PostedAt:    batch.PostedAt,
		})
	}
	return nil
}

func (l *memLedger) NetPosition(_ context.Context, docPublicID uuid.UUID, asOf time.Time) (map[int64]float64, error) {
	position := make(map[int64]float64)
	for _, e := range l.entries {
		if e.DocPublicID != docPublicID || e.Invalid || e.PostedAt.After(asOf) {
			continue
		}
		position[e.AccountID] += e.Debit - e.Credit
	}
	for id, net := range position {
		if ledger.Round2(net) == 0 {
			delete(position, id)
		} else {
			position[id] = ledger.Round2(net)
		}
	}
	return position, nil
}

func (l *memLedger) MarkInvalidAfter(_ context.Context, docPublicID uuid.UUID, cutoff time.Time) (int64, error) {
	var flagged int64
	for i := range l.entries {
		if l.entries[i].DocPublicID == docPublicID && !l.entries[i].Invalid && l.entries[i].PostedAt.After(cutoff) {
			l.entries[i].Invalid = true
			flagged++
		}
	}
	return flagged, nil
}

func (l *memLedger) accountNet(accountID int64) float64 {
	var net float64
	for _, e := range l.entries {
		if e.AccountID == accountID && !e.Invalid {
			net += e.Debit - e.Credit
		}
	}
	return ledger.Round2(net)
}

type memOutbox struct {
	payloads map[string]any
}

func (o *memOutbox) EnqueueUpsert(_ context.Context, entityType, naturalKey string, payload any) error {
	if o.payloads == nil {
		o.payloads = make(map[string]any)
	}
	o.payloads[entityType+":"+naturalKey] = payload
	return nil
}

type memChainRec struct {
	last   int
	voided bool
}

type memChains struct {
	chains map[uuid.UUID]*memChainRec
}

func (c *memChains) BeginChain(_ context.Context, chainID uuid.UUID) error {
	if c.chains == nil {
		c.chains = make(map[uuid.UUID]*memChainRec)
	}
	if _, ok := c.chains[chainID]; ok {
		return posting.ErrOutOfSequence
	}
	c.chains[chainID] = &memChainRec{}
	return nil
}

func (c *memChains) AdvanceChain(_ context.Context, chainID uuid.UUID, revision int) error {
	rec, ok := c.chains[chainID]
	if !ok || rec.voided || rec.last != revision-1 {
		return posting.ErrOutOfSequence
	}
	rec.last = revision
	return nil
}

func (c *memChains) MarkVoided(_ context.Context, chainID uuid.UUID) error {
	if c.chains == nil {
		c.chains = make(map[uuid.UUID]*memChainRec)
	}
	rec, ok := c.chains[chainID]
	if !ok {
		rec = &memChainRec{}
		c.chains[chainID] = rec
	}
	rec.voided = true
	return nil
}

func (c *memChains) LastPosted(_ context.Context, chainID uuid.UUID) (int, bool, bool, error) {
	rec, ok := c.chains[chainID]
	if !ok {
		return 0, false, false, nil
	}
	return rec.last, rec.voided, true, nil
}

type memUOW struct {
	ledger *memLedger
	outbox *memOutbox
	chains *memChains
}

func (u *memUOW) Ledger() posting.LedgerWriter { return u.ledger }
func (u *memUOW) Outbox() posting.OutboxWriter { return u.outbox }
func (u *memUOW) Chains() posting.ChainState   { return u.chains }

type memoryRepo struct {
	purchases map[int64]Purchase
	payments  map[int64]Payment
	nextID    int64
	uow       *memUOW
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		purchases: make(map[int64]Purchase),
		payments:  make(map[int64]Payment),
		uow:       &memUOW{ledger: &memLedger{}, outbox: &memOutbox{}, chains: &memChains{}},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetPurchase(_ context.Context, id int64) (Purchase, error) {
	p, ok := r.purchases[id]
	if !ok {
		return Purchase{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) GetChain(_ context.Context, chainID uuid.UUID) ([]Purchase, error) {
	var chain []Purchase
	for _, p := range r.purchases {
		if p.ChainID == chainID {
			chain = append(chain, p)
		}
	}
	if len(chain) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].Revision < chain[j].Revision })
	return chain, nil
}

func (r *memoryRepo) GetPayment(_ context.Context, id int64) (Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) List(_ context.Context, filter ListFilter) ([]Purchase, error) {
	var out []Purchase
	for _, p := range r.purchases {
		if filter.SupplierID != 0 && p.SupplierID != filter.SupplierID {
			continue
		}
		if filter.OutletID != 0 && p.OutletID != filter.OutletID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) InsertPurchase(_ context.Context, p Purchase) (int64, error) {
	tx.repo.nextID++
	p.ID = tx.repo.nextID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	tx.repo.purchases[p.ID] = p
	return p.ID, nil
}

func (tx *memoryTx) GetPurchaseForUpdate(ctx context.Context, id int64) (Purchase, error) {
	return tx.repo.GetPurchase(ctx, id)
}

func (tx *memoryTx) GetChainForUpdate(ctx context.Context, chainID uuid.UUID) ([]Purchase, error) {
	return tx.repo.GetChain(ctx, chainID)
}

func (tx *memoryTx) UpdateStatus(_ context.Context, id int64, status Status) error {
	p, ok := tx.repo.purchases[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	tx.repo.purchases[id] = p
	return nil
}

func (tx *memoryTx) LinkNextRevision(_ context.Context, prevID, nextID int64) error {
	p, ok := tx.repo.purchases[prevID]
	if !ok {
		return ErrNotFound
	}
	p.NextRevisionID = &nextID
	tx.repo.purchases[prevID] = p
	return nil
}

func (tx *memoryTx) InsertPayment(_ context.Context, payment Payment) (int64, error) {
	tx.repo.nextID++
	payment.ID = tx.repo.nextID
	tx.repo.payments[payment.ID] = payment
	return payment.ID, nil
}

func (tx *memoryTx) GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error) {
	return tx.repo.GetPayment(ctx, id)
}

func (tx *memoryTx) MarkPaymentReversed(_ context.Context, id int64) error {
	p, ok := tx.repo.payments[id]
	if !ok {
		return ErrNotFound
	}
	p.Reversed = true
	tx.repo.payments[id] = p
	return nil
}

func (tx *memoryTx) UnitOfWork() posting.UnitOfWork { return tx.repo.uow }

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	engine := posting.NewEngine(staticResolver{}, nil, nil)
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	step := 0
	engine.WithNow(func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	})
	voider := posting.NewChainVoider(engine, nil)
	return NewService(repo, engine, voider, nil, nil, nil), repo
}

func TestServiceCreatePostsAndSyncs(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{SupplierID: 7, OutletID: 3, GrandTotal: 1000})
	require.NoError(t, err)
	require.Equal(t, StatusFinal, p.Status)
	require.Equal(t, 0, p.Revision)
	require.NotEmpty(t, p.Number)

	require.Equal(t, float64(1000), repo.uow.ledger.accountNet(accInventory))
	require.Equal(t, float64(-1000), repo.uow.ledger.accountNet(accAP))
	require.Contains(t, repo.uow.outbox.payloads, "Purchase:"+p.PublicID.String())
}

func TestServiceCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{SupplierID: 7, OutletID: 3, GrandTotal: 0})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, CreateInput{GrandTotal: 100})
	require.ErrorIs(t, err, ErrValidation)
}

func TestServiceRevisePostsDeltaAndLinksChain(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{SupplierID: 7, OutletID: 3, GrandTotal: 1000})
	require.NoError(t, err)

	amended, err := svc.Revise(ctx, p.ID, 1200)
	require.NoError(t, err)
	require.Equal(t, 1, amended.Revision)
	require.Equal(t, p.PublicID, amended.PublicID)
	require.Equal(t, p.ChainID, amended.ChainID)
	require.NotNil(t, amended.PrevRevisionID)
	require.Equal(t, p.ID, *amended.PrevRevisionID)

	prev, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, prev.NextRevisionID)
	require.Equal(t, amended.ID, *prev.NextRevisionID)

	require.Equal(t, float64(1200), repo.uow.ledger.accountNet(accInventory))
	require.Equal(t, float64(-1200), repo.uow.ledger.accountNet(accAP))
}

func TestServiceReviseOnlyLatestRevision(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{SupplierID: 7, OutletID: 3, GrandTotal: 1000})
	require.NoError(t, err)
	_, err = svc.Revise(ctx, p.ID, 1200)
	require.NoError(t, err)

	_, err = svc.Revise(ctx, p.ID, 1500)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestServiceVoidChain(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{SupplierID: 7, OutletID: 3, GrandTotal: 1000})
	require.NoError(t, err)
	_, err = svc.Revise(ctx, p.ID, 1200)
	require.NoError(t, err)

	require.NoError(t, svc.VoidChain(ctx, p.ChainID))

	require.Equal(t, float64(0), repo.uow.ledger.accountNet(accInventory))
	require.Equal(t, float64(0), repo.uow.ledger.accountNet(accAP))

	chain, err := svc.Chain(ctx, p.ChainID)
	require.NoError(t, err)
	for _, rev := range chain {
		require.Equal(t, StatusVoided, rev.Status)
	}

	// A voided chain cannot be voided again or amended.
	require.ErrorIs(t, svc.VoidChain(ctx, p.ChainID), ErrInvalidState)
	_, err = svc.Revise(ctx, chain[len(chain)-1].ID, 900)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestServiceVoidChainOnReturnNetsToZero(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	ret, err := svc.Create(ctx, CreateInput{Kind: KindReturn, SupplierID: 7, OutletID: 3, GrandTotal: 300})
	require.NoError(t, err)
	require.Equal(t, float64(-300), repo.uow.ledger.accountNet(accInventory))

	require.NoError(t, svc.VoidChain(ctx, ret.ChainID))

	// Voiding a return chain reverses its credit-inventory posting instead
	// of stacking another one on top.
	require.Equal(t, float64(0), repo.uow.ledger.accountNet(accInventory))
	require.Equal(t, float64(0), repo.uow.ledger.accountNet(accAP))

	current, err := svc.Get(ctx, ret.ID)
	require.NoError(t, err)
	require.Equal(t, StatusVoided, current.Status)
}

func TestServiceVoidChainWithReversals(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{SupplierID: 7, OutletID: 3, GrandTotal: 1000})
	require.NoError(t, err)
	_, err = svc.Revise(ctx, p.ID, 1200)
	require.NoError(t, err)

	cutoff := time.Date(2026, 4, 1, 23, 0, 0, 0, time.UTC)
	require.NoError(t, svc.VoidChainWithReversals(ctx, p.ChainID, cutoff, false))

	require.Equal(t, float64(0), repo.uow.ledger.accountNet(accInventory))
	require.Equal(t, float64(0), repo.uow.ledger.accountNet(accAP))

	chain, err := svc.Chain(ctx, p.ChainID)
	require.NoError(t, err)
	for _, rev := range chain {
		require.Equal(t, StatusVoided, rev.Status)
	}
}

func TestServiceReturnLifecycle(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	ret, err := svc.Create(ctx, CreateInput{SupplierID: 7, OutletID: 3, GrandTotal: 300, Kind: KindReturn})
	require.NoError(t, err)
	require.Equal(t, KindReturn, ret.Kind)

	require.Equal(t, float64(-300), repo.uow.ledger.accountNet(accInventory))
	require.Equal(t, float64(300), repo.uow.ledger.accountNet(accAP))

	require.NoError(t, svc.VoidReturn(ctx, ret.ID))
	require.Equal(t, float64(0), repo.uow.ledger.accountNet(accInventory))
	require.Equal(t, float64(0), repo.uow.ledger.accountNet(accAP))

	voided, err := svc.Get(ctx, ret.ID)
	require.NoError(t, err)
	require.Equal(t, StatusVoided, voided.Status)

	require.ErrorIs(t, svc.VoidReturn(ctx, ret.ID), ErrInvalidState)
}

func TestServiceVoidReturnRejectsPurchase(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{SupplierID: 7, OutletID: 3, GrandTotal: 1000})
	require.NoError(t, err)

	require.ErrorIs(t, svc.VoidReturn(ctx, p.ID), ErrInvalidState)
}

func TestServicePaymentLifecycle(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{SupplierID: 7, OutletID: 3, GrandTotal: 1000})
	require.NoError(t, err)

	payment, err := svc.AddPayment(ctx, p.ID, 400, time.Time{})
	require.NoError(t, err)
	require.Equal(t, float64(400), payment.Amount)

	require.Equal(t, float64(-600), repo.uow.ledger.accountNet(accAP))
	require.Equal(t, float64(-400), repo.uow.ledger.accountNet(accCash))

	require.NoError(t, svc.ReversePayment(ctx, payment.ID))
	require.Equal(t, float64(-1000), repo.uow.ledger.accountNet(accAP))
	require.Equal(t, float64(0), repo.uow.ledger.accountNet(accCash))

	stored, err := repo.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	require.True(t, stored.Reversed)

	require.ErrorIs(t, svc.ReversePayment(ctx, payment.ID), ErrInvalidState)
}

func TestServiceAddPaymentValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Create(ctx, CreateInput{SupplierID: 7, OutletID: 3, GrandTotal: 1000})
	require.NoError(t, err)

	_, err = svc.AddPayment(ctx, p.ID, 0, time.Time{})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.AddPayment(ctx, 9999, 100, time.Time{})
	require.ErrorIs(t, err, ErrNotFound)
}
