package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tixello/marketplace-core/internal/model"
	"github.com/tixello/marketplace-core/internal/queue"
	"github.com/tixello/marketplace-core/internal/repository"
)

const testOrganizer = uint64(3)

type eventSink struct {
	mu     sync.Mutex
	events []queue.OrderEvent
}

func (s *eventSink) publish(_ context.Context, ev queue.OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *eventSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

// settlementFixture builds a pending two-ticket order sitting on an
// active hold, plus the settlement service around it.
type settlementFixture struct {
	inv        *fakeInventory
	holds      *fakeHolds
	orders     *fakeOrders
	ledger     *fakeLedger
	gateway    *fakeGateway
	sink       *eventSink
	settlement *SettlementService
	order      *model.Order
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	ctx := context.Background()

	inv := newFakeInventory(ticketType(1, limited(10)))
	holds := newFakeHolds()
	reservations := NewReservationService(inv, holds, 15*time.Minute)

	h, err := reservations.CreateHold(ctx, testClient, []HoldLine{{TicketTypeID: 1, Quantity: 2}})
	if err != nil {
		t.Fatalf("CreateHold() error: %v", err)
	}

	orders := newFakeOrders()
	o := &model.Order{
		PublicCode:    "ORD-TEST",
		ClientID:      testClient,
		OrganizerID:   testOrganizer,
		CustomerEmail: "buyer@example.com",
		HoldID:        h.ID,
		Status:        model.OrderPending,
		Subtotal:      decimal.RequireFromString("50.00"),
		Discount:      decimal.Zero,
		Total:         decimal.RequireFromString("50.00"),
		Currency:      "EUR",
		Tickets: []model.Ticket{
			{TicketTypeID: 1, Code: "TKT-A", Status: model.TicketPending, Price: decimal.RequireFromString("25.00"), Currency: "EUR"},
			{TicketTypeID: 1, Code: "TKT-B", Status: model.TicketPending, Price: decimal.RequireFromString("25.00"), Currency: "EUR"},
		},
	}
	if err := orders.Create(ctx, o); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	ledger := &fakeLedger{rate: decimal.RequireFromString("10.00")}
	gateway := &fakeGateway{}
	sink := &eventSink{}
	settlement := NewSettlementService(orders, holds, inv, reservations, ledger, newFakePromos(), gateway, sink.publish)

	return &settlementFixture{
		inv: inv, holds: holds, orders: orders, ledger: ledger,
		gateway: gateway, sink: sink, settlement: settlement, order: o,
	}
}

func TestSettlePendingToPaid(t *testing.T) {
	t.Parallel()
	f := newSettlementFixture(t)
	ctx := context.Background()

	o, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderPaid, "ch_123")
	if err != nil {
		t.Fatalf("Settle() error: %v", err)
	}
	if o.Status != model.OrderPaid {
		t.Fatalf("order status = %q, want %q", o.Status, model.OrderPaid)
	}
	if o.PaymentRef != "ch_123" {
		t.Fatalf("payment ref = %q, want ch_123", o.PaymentRef)
	}
	if o.PaidAt == nil {
		t.Fatal("paid_at not set")
	}
	for _, tk := range o.Tickets {
		if tk.Status != model.TicketValid {
			t.Fatalf("ticket %s status = %q, want %q", tk.Code, tk.Status, model.TicketValid)
		}
	}
	sold, reserved, _ := f.inv.state(1)
	if sold != 2 || reserved != 0 {
		t.Fatalf("counters = sold %d reserved %d, want 2/0", sold, reserved)
	}
	if len(f.gateway.charges) != 1 || f.gateway.charges[0].StringFixed(2) != "50.00" {
		t.Fatalf("charges = %v, want one of 50.00", f.gateway.charges)
	}
	sales := f.ledger.callsOf(model.TxSale)
	if len(sales) != 1 || sales[0].gross.StringFixed(2) != "50.00" || sales[0].organizerID != testOrganizer {
		t.Fatalf("sale calls = %+v, want one 50.00 for organizer %d", sales, testOrganizer)
	}
	if kinds := f.sink.kinds(); len(kinds) != 1 || kinds[0] != queue.KindOrderPaid {
		t.Fatalf("events = %v, want [%s]", kinds, queue.KindOrderPaid)
	}
}

func TestSettleRedeliveredWebhookIsNoOp(t *testing.T) {
	t.Parallel()
	f := newSettlementFixture(t)
	ctx := context.Background()

	if _, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderPaid, "ch_123"); err != nil {
		t.Fatalf("first Settle() error: %v", err)
	}
	if _, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderPaid, "ch_123"); err != nil {
		t.Fatalf("second Settle() error: %v", err)
	}
	if len(f.gateway.charges) != 1 {
		t.Fatalf("charges after redelivery = %d, want 1", len(f.gateway.charges))
	}
	if sales := f.ledger.callsOf(model.TxSale); len(sales) != 1 {
		t.Fatalf("sale rows after redelivery = %d, want 1", len(sales))
	}
	if sold, _, _ := f.inv.state(1); sold != 2 {
		t.Fatalf("sold after redelivery = %d, want 2", sold)
	}
}

func TestSettleChargeDeclineKeepsOrderPending(t *testing.T) {
	t.Parallel()
	f := newSettlementFixture(t)
	f.gateway.declineCharge = true
	ctx := context.Background()

	if _, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderPaid, "ch_bad"); !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("Settle() with declined charge error = %v, want ErrPaymentFailed", err)
	}
	o, err := f.orders.GetByID(ctx, f.order.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if o.Status != model.OrderPending {
		t.Fatalf("order status after decline = %q, want pending", o.Status)
	}
	// The hold is untouched and keeps its reservation.
	if _, reserved, _ := f.inv.state(1); reserved != 2 {
		t.Fatalf("reserved after decline = %d, want 2", reserved)
	}
	if sales := f.ledger.callsOf(model.TxSale); len(sales) != 0 {
		t.Fatalf("sale rows after decline = %d, want 0", len(sales))
	}
}

func TestSettleExpiredHoldChargesNothing(t *testing.T) {
	t.Parallel()
	f := newSettlementFixture(t)
	ctx := context.Background()

	// The settle webhook arrives long after the cart TTL ran out.
	f.holds.setExpiry(f.order.HoldID, time.Now().UTC().Add(-time.Minute))

	if _, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderPaid, "ch_late"); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("Settle() on expired hold error = %v, want ErrInvalidTransition", err)
	}
	if len(f.gateway.charges) != 0 {
		t.Fatalf("charges = %v, want none for an unconfirmable hold", f.gateway.charges)
	}
	o, err := f.orders.GetByID(ctx, f.order.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if o.Status != model.OrderPending {
		t.Fatalf("order status = %q, want pending", o.Status)
	}

	// Webhook redeliveries keep failing without capturing anything.
	if _, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderPaid, "ch_late"); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("redelivered Settle() error = %v, want ErrInvalidTransition", err)
	}
	if len(f.gateway.charges) != 0 {
		t.Fatalf("charges after redelivery = %v, want none", f.gateway.charges)
	}
}

func TestSettleRefundsChargeWhenTransitionFails(t *testing.T) {
	t.Parallel()
	f := newSettlementFixture(t)
	ctx := context.Background()

	f.orders.failTransitions(fmt.Errorf("storage offline"))
	if _, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderPaid, "ch_123"); err == nil {
		t.Fatal("Settle() with failing order store succeeded, want error")
	}
	// The captured charge is handed back so the pending order owes
	// the customer nothing.
	if len(f.gateway.charges) != 1 || len(f.gateway.refunds) != 1 {
		t.Fatalf("charges %v refunds %v, want one of each", f.gateway.charges, f.gateway.refunds)
	}
	if got := f.gateway.refunds[0].StringFixed(2); got != "50.00" {
		t.Fatalf("refunded = %s, want 50.00", got)
	}
	o, err := f.orders.GetByID(ctx, f.order.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if o.Status != model.OrderPending {
		t.Fatalf("order status = %q, want pending", o.Status)
	}

	// Once the store recovers a retried webhook settles normally.
	f.orders.failTransitions(nil)
	o, err = f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderPaid, "ch_123")
	if err != nil {
		t.Fatalf("retried Settle() error: %v", err)
	}
	if o.Status != model.OrderPaid {
		t.Fatalf("order status after retry = %q, want paid", o.Status)
	}
	if len(f.gateway.charges) != 2 || len(f.gateway.refunds) != 1 {
		t.Fatalf("charges %v refunds %v after retry, want 2 charges and 1 refund", f.gateway.charges, f.gateway.refunds)
	}
}

func TestSettlePaidToRefunded(t *testing.T) {
	t.Parallel()
	f := newSettlementFixture(t)
	ctx := context.Background()

	if _, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderPaid, "ch_123"); err != nil {
		t.Fatalf("Settle(paid) error: %v", err)
	}
	o, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderRefunded, "")
	if err != nil {
		t.Fatalf("Settle(refunded) error: %v", err)
	}
	if o.Status != model.OrderRefunded {
		t.Fatalf("order status = %q, want refunded", o.Status)
	}
	for _, tk := range o.Tickets {
		if tk.Status != model.TicketCancelled {
			t.Fatalf("ticket %s status = %q, want cancelled", tk.Code, tk.Status)
		}
	}
	sold, reserved, status := f.inv.state(1)
	if sold != 0 || reserved != 0 {
		t.Fatalf("counters after refund = sold %d reserved %d, want 0/0", sold, reserved)
	}
	if status != model.TicketTypeOnSale {
		t.Fatalf("ticket type status after refund = %q, want on_sale", status)
	}
	if len(f.gateway.refunds) != 1 || f.gateway.refunds[0].StringFixed(2) != "50.00" {
		t.Fatalf("refunds = %v, want one of 50.00", f.gateway.refunds)
	}
	refunds := f.ledger.callsOf(model.TxRefund)
	if len(refunds) != 1 || refunds[0].gross.StringFixed(2) != "50.00" {
		t.Fatalf("refund ledger calls = %+v, want one 50.00", refunds)
	}
	kinds := f.sink.kinds()
	if len(kinds) != 2 || kinds[1] != queue.KindOrderRefunded {
		t.Fatalf("events = %v, want [order.paid order.refunded]", kinds)
	}
}

func TestSettleRefundFailureBlocksTransition(t *testing.T) {
	t.Parallel()
	f := newSettlementFixture(t)
	ctx := context.Background()

	if _, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderPaid, "ch_123"); err != nil {
		t.Fatalf("Settle(paid) error: %v", err)
	}
	f.gateway.declineRefund = true
	if _, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderRefunded, ""); !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("Settle(refunded) with failing gateway error = %v, want ErrPaymentFailed", err)
	}
	o, _ := f.orders.GetByID(ctx, f.order.ID)
	if o.Status != model.OrderPaid {
		t.Fatalf("order status after failed refund = %q, want paid", o.Status)
	}
	if sold, _, _ := f.inv.state(1); sold != 2 {
		t.Fatalf("sold after failed refund = %d, want 2", sold)
	}
}

func TestSettlePendingToCancelledReleasesHold(t *testing.T) {
	t.Parallel()
	f := newSettlementFixture(t)
	ctx := context.Background()

	o, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderCancelled, "")
	if err != nil {
		t.Fatalf("Settle(cancelled) error: %v", err)
	}
	if o.Status != model.OrderCancelled {
		t.Fatalf("order status = %q, want cancelled", o.Status)
	}
	if o.CancelledAt == nil {
		t.Fatal("cancelled_at not set")
	}
	sold, reserved, _ := f.inv.state(1)
	if sold != 0 || reserved != 0 {
		t.Fatalf("counters after cancel = sold %d reserved %d, want 0/0", sold, reserved)
	}
	h, _ := f.holds.GetByID(ctx, f.order.HoldID)
	if h.Status != model.HoldReleased {
		t.Fatalf("hold status after cancel = %q, want released", h.Status)
	}
	if len(f.gateway.refunds) != 0 {
		t.Fatalf("refunds on unpaid cancel = %v, want none", f.gateway.refunds)
	}
}

func TestSettlePaidToPendingKeepsMoneyAndInventory(t *testing.T) {
	t.Parallel()
	f := newSettlementFixture(t)
	ctx := context.Background()

	if _, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderPaid, "ch_123"); err != nil {
		t.Fatalf("Settle(paid) error: %v", err)
	}
	o, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderPending, "")
	if err != nil {
		t.Fatalf("Settle(pending) error: %v", err)
	}
	if o.Status != model.OrderPending {
		t.Fatalf("order status = %q, want pending", o.Status)
	}
	for _, tk := range o.Tickets {
		if tk.Status != model.TicketPending {
			t.Fatalf("ticket %s status = %q, want pending", tk.Code, tk.Status)
		}
	}
	// Sold inventory and the sale ledger row stay in place.
	if sold, _, _ := f.inv.state(1); sold != 2 {
		t.Fatalf("sold after re-entry = %d, want 2", sold)
	}
	if sales := f.ledger.callsOf(model.TxSale); len(sales) != 1 {
		t.Fatalf("sale rows after re-entry = %d, want 1", len(sales))
	}
}

func TestSettleFromTerminalStatusFails(t *testing.T) {
	t.Parallel()
	f := newSettlementFixture(t)
	ctx := context.Background()

	if _, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderCancelled, ""); err != nil {
		t.Fatalf("Settle(cancelled) error: %v", err)
	}
	_, err := f.settlement.Settle(ctx, testClient, f.order.ID, model.OrderPaid, "ch_late")
	if !errors.Is(err, repository.ErrInvalidTransition) {
		t.Fatalf("Settle(paid) from cancelled error = %v, want ErrInvalidTransition", err)
	}
}

func TestSettleUnknownOrder(t *testing.T) {
	t.Parallel()
	f := newSettlementFixture(t)
	_, err := f.settlement.Settle(context.Background(), testClient, 9999, model.OrderPaid, "")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("Settle() on unknown order error = %v, want ErrNotFound", err)
	}
}
