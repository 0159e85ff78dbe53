package service

// In-memory stores mirroring the repository semantics.  They apply the
// same conditional-update rules the SQL does (capacity guard on
// reserve, floor clamps on release and rollback, compare-and-set on
// status transitions) so the services are exercised against the
// contract they run on in production.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tixello/marketplace-core/internal/model"
	"github.com/tixello/marketplace-core/internal/repository"
)

type fakeInventory struct {
	mu          sync.Mutex
	types       map[uint64]*model.TicketType
	failRelease map[uint64]bool
}

func newFakeInventory(types ...*model.TicketType) *fakeInventory {
	f := &fakeInventory{types: make(map[uint64]*model.TicketType)}
	for _, tt := range types {
		f.types[tt.ID] = tt
	}
	return f
}

func limited(n int64) *int64 { return &n }

func (f *fakeInventory) Get(_ context.Context, id uint64) (*model.TicketType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tt, ok := f.types[id]
	if !ok || tt.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	cp := *tt
	return &cp, nil
}

func (f *fakeInventory) GetForClient(ctx context.Context, clientID, id uint64) (*model.TicketType, error) {
	tt, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tt.ClientID != clientID {
		return nil, repository.ErrNotFound
	}
	return tt, nil
}

func (f *fakeInventory) Available(_ context.Context, id uint64) (model.Capacity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tt, ok := f.types[id]
	if !ok {
		return model.Capacity{}, repository.ErrNotFound
	}
	return model.CapacityOf(tt.Quantity, tt.QuantitySold, tt.QuantityReserved), nil
}

func (f *fakeInventory) TryReserve(_ context.Context, id uint64, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tt, ok := f.types[id]
	if !ok || tt.DeletedAt != nil || tt.Status == model.TicketTypeArchived {
		return repository.ErrNotFound
	}
	if !model.CapacityOf(tt.Quantity, tt.QuantitySold, tt.QuantityReserved).AtLeast(n) {
		return repository.ErrCapacityExceeded
	}
	tt.QuantityReserved += n
	return nil
}

func (f *fakeInventory) Release(_ context.Context, id uint64, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRelease[id] {
		return fmt.Errorf("release unavailable for ticket type %d", id)
	}
	tt, ok := f.types[id]
	if !ok {
		return repository.ErrNotFound
	}
	tt.QuantityReserved -= n
	if tt.QuantityReserved < 0 {
		tt.QuantityReserved = 0
	}
	return nil
}

func (f *fakeInventory) Confirm(_ context.Context, id uint64, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tt, ok := f.types[id]
	if !ok {
		return repository.ErrNotFound
	}
	tt.QuantityReserved -= n
	if tt.QuantityReserved < 0 {
		tt.QuantityReserved = 0
	}
	tt.QuantitySold += n
	if !model.CapacityOf(tt.Quantity, tt.QuantitySold, tt.QuantityReserved).AtLeast(1) && tt.Quantity != nil {
		tt.Status = model.TicketTypeSoldOut
	}
	return nil
}

func (f *fakeInventory) RollbackSale(_ context.Context, id uint64, n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tt, ok := f.types[id]
	if !ok {
		return repository.ErrNotFound
	}
	tt.QuantitySold -= n
	if tt.QuantitySold < 0 {
		tt.QuantitySold = 0
	}
	if tt.Status == model.TicketTypeSoldOut {
		tt.Status = model.TicketTypeOnSale
	}
	return nil
}

func (f *fakeInventory) breakRelease(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRelease == nil {
		f.failRelease = make(map[uint64]bool)
	}
	f.failRelease[id] = true
}

func (f *fakeInventory) state(id uint64) (sold, reserved int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tt := f.types[id]
	return tt.QuantitySold, tt.QuantityReserved, tt.Status
}

type fakeHolds struct {
	mu     sync.Mutex
	nextID uint64
	holds  map[uint64]*model.Hold
}

func newFakeHolds() *fakeHolds {
	return &fakeHolds{holds: make(map[uint64]*model.Hold)}
}

func (f *fakeHolds) Create(_ context.Context, h *model.Hold) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	h.ID = f.nextID
	h.CreatedAt = time.Now().UTC()
	cp := *h
	cp.Items = append([]model.HoldItem(nil), h.Items...)
	f.holds[h.ID] = &cp
	return nil
}

func (f *fakeHolds) GetByID(_ context.Context, id uint64) (*model.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *h
	cp.Items = append([]model.HoldItem(nil), h.Items...)
	return &cp, nil
}

func (f *fakeHolds) GetByToken(_ context.Context, clientID uint64, token string) (*model.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.holds {
		if h.ClientID == clientID && h.Token == token {
			cp := *h
			cp.Items = append([]model.HoldItem(nil), h.Items...)
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeHolds) setExpiry(id uint64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds[id].ExpiresAt = at
}

func (f *fakeHolds) TransitionStatus(_ context.Context, id uint64, from, to, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if h.Status != from {
		return false, nil
	}
	h.Status = to
	h.Reason = reason
	return true, nil
}

func (f *fakeHolds) ListExpired(_ context.Context, now time.Time, limit int) ([]model.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Hold
	for _, h := range f.holds {
		if h.Status == model.HoldHeld && !h.ExpiresAt.After(now) {
			cp := *h
			cp.Items = append([]model.HoldItem(nil), h.Items...)
			out = append(out, cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fakeOrders struct {
	mu            sync.Mutex
	nextID        uint64
	orders        map[uint64]*model.Order
	transitionErr error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[uint64]*model.Order)}
}

func (f *fakeOrders) Create(_ context.Context, o *model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	o.ID = f.nextID
	o.CreatedAt = time.Now().UTC()
	for i := range o.Tickets {
		o.Tickets[i].OrderID = o.ID
	}
	cp := *o
	cp.Tickets = append([]model.Ticket(nil), o.Tickets...)
	f.orders[o.ID] = &cp
	return nil
}

func (f *fakeOrders) GetByID(_ context.Context, id uint64) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	cp.Tickets = append([]model.Ticket(nil), o.Tickets...)
	return &cp, nil
}

func (f *fakeOrders) GetForClient(ctx context.Context, clientID, id uint64) (*model.Order, error) {
	o, err := f.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.ClientID != clientID {
		return nil, repository.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) failTransitions(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitionErr = err
}

func (f *fakeOrders) ApplyTransition(_ context.Context, orderID uint64, status, paymentRef string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transitionErr != nil {
		return f.transitionErr
	}
	o, ok := f.orders[orderID]
	if !ok {
		return repository.ErrNotFound
	}
	o.Status = status
	switch {
	case model.SuccessStatus(status):
		if o.PaidAt == nil {
			t := now
			o.PaidAt = &t
		}
		if paymentRef != "" {
			o.PaymentRef = paymentRef
		}
	case status == model.OrderCancelled || status == model.OrderRefunded:
		if o.CancelledAt == nil {
			t := now
			o.CancelledAt = &t
		}
	}
	ticketStatus := model.TicketStatusFor(status)
	for i := range o.Tickets {
		if status == model.OrderPending && o.Tickets[i].Status == model.TicketCheckedIn {
			continue
		}
		o.Tickets[i].Status = ticketStatus
	}
	return nil
}

func (f *fakeOrders) CheckInTicket(_ context.Context, clientID uint64, code string) (*model.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ClientID != clientID {
			continue
		}
		for i := range o.Tickets {
			if o.Tickets[i].Code != code {
				continue
			}
			if o.Tickets[i].Status != model.TicketValid {
				return nil, repository.ErrInvalidTransition
			}
			now := time.Now().UTC()
			o.Tickets[i].Status = model.TicketCheckedIn
			o.Tickets[i].CheckedInAt = &now
			cp := o.Tickets[i]
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

type ledgerCall struct {
	kind        string
	organizerID uint64
	gross       decimal.Decimal
	reference   string
}

type fakeLedger struct {
	mu    sync.Mutex
	rate  decimal.Decimal
	calls []ledgerCall
}

func (f *fakeLedger) record(kind string, organizerID uint64, gross decimal.Decimal, reference string) *model.BalanceTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ledgerCall{kind: kind, organizerID: organizerID, gross: gross, reference: reference})
	commission := gross.Mul(f.rate).Div(decimal.NewFromInt(100)).Round(2)
	net := gross.Sub(commission)
	amount := net
	if kind == model.TxRefund {
		amount = net.Neg()
	}
	return &model.BalanceTransaction{Type: kind, Amount: amount, Gross: gross, Commission: commission}
}

func (f *fakeLedger) RecordSale(_ context.Context, organizerID uint64, gross decimal.Decimal, reference string) (*model.BalanceTransaction, error) {
	return f.record(model.TxSale, organizerID, gross, reference), nil
}

func (f *fakeLedger) RecordRefund(_ context.Context, organizerID uint64, gross decimal.Decimal, reference string) (*model.BalanceTransaction, error) {
	return f.record(model.TxRefund, organizerID, gross, reference), nil
}

func (f *fakeLedger) callsOf(kind string) []ledgerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledgerCall
	for _, c := range f.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type fakePromos struct {
	mu     sync.Mutex
	codes  map[string]*model.PromoCode
	usages map[uint64][]uint64
}

func newFakePromos(codes ...*model.PromoCode) *fakePromos {
	f := &fakePromos{codes: make(map[string]*model.PromoCode), usages: make(map[uint64][]uint64)}
	for _, p := range codes {
		f.codes[p.Code] = p
	}
	return f
}

func (f *fakePromos) GetByCode(_ context.Context, clientID uint64, code string) (*model.PromoCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.codes[code]
	if !ok || p.ClientID != clientID {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePromos) Claim(_ context.Context, promoID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.codes {
		if p.ID != promoID {
			continue
		}
		if !p.Active || (p.MaxUses != nil && p.UsedCount >= *p.MaxUses) {
			return repository.ErrPromoNotAvailable
		}
		p.UsedCount++
		return nil
	}
	return repository.ErrNotFound
}

func (f *fakePromos) Unclaim(_ context.Context, promoID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.codes {
		if p.ID == promoID && p.UsedCount > 0 {
			p.UsedCount--
		}
	}
	return nil
}

func (f *fakePromos) RecordUsage(_ context.Context, promoID, orderID uint64, _ decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usages[promoID] = append(f.usages[promoID], orderID)
	return nil
}

func (f *fakePromos) DropUsage(_ context.Context, promoID, orderID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.usages[promoID][:0]
	for _, id := range f.usages[promoID] {
		if id != orderID {
			kept = append(kept, id)
		}
	}
	f.usages[promoID] = kept
	return nil
}

// fakeGateway approves or declines according to its flags and records
// every call.
type fakeGateway struct {
	mu            sync.Mutex
	declineCharge bool
	declineRefund bool
	charges       []decimal.Decimal
	refunds       []decimal.Decimal
}

func (f *fakeGateway) Charge(_ context.Context, _ string, amount decimal.Decimal, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declineCharge {
		return fmt.Errorf("card declined")
	}
	f.charges = append(f.charges, amount)
	return nil
}

func (f *fakeGateway) Refund(_ context.Context, _ string, amount decimal.Decimal, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declineRefund {
		return fmt.Errorf("refund rejected")
	}
	f.refunds = append(f.refunds, amount)
	return nil
}
