package model

import "testing"

func limit(n int64) *int64 { return &n }

func TestCapacityOf(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		quantity *int64
		sold     int64
		reserved int64
		want     Capacity
	}{
		{"unlimited", nil, 500, 20, Capacity{Unbounded: true}},
		{"remaining", limit(100), 60, 15, Capacity{N: 25}},
		{"exhausted", limit(100), 80, 20, Capacity{N: 0}},
		{"oversold clamps to zero", limit(100), 101, 0, Capacity{N: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CapacityOf(tc.quantity, tc.sold, tc.reserved); got != tc.want {
				t.Fatalf("CapacityOf() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestCapacityAtLeast(t *testing.T) {
	t.Parallel()
	if !(Capacity{Unbounded: true}).AtLeast(1 << 40) {
		t.Fatal("unbounded capacity must cover any quantity")
	}
	if !(Capacity{N: 3}).AtLeast(3) {
		t.Fatal("capacity of 3 must cover 3")
	}
	if (Capacity{N: 3}).AtLeast(4) {
		t.Fatal("capacity of 3 must not cover 4")
	}
}

func TestTicketStatusFor(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		OrderPending:   TicketPending,
		OrderPaid:      TicketValid,
		OrderConfirmed: TicketValid,
		OrderCompleted: TicketValid,
		OrderCancelled: TicketCancelled,
		OrderRefunded:  TicketCancelled,
	}
	for orderStatus, want := range cases {
		if got := TicketStatusFor(orderStatus); got != want {
			t.Errorf("TicketStatusFor(%q) = %q, want %q", orderStatus, got, want)
		}
	}
}

func TestHoldTerminal(t *testing.T) {
	t.Parallel()
	for _, status := range []string{HoldConfirmed, HoldReleased, HoldExpired} {
		if h := (Hold{Status: status}); !h.Terminal() {
			t.Errorf("hold in %q must be terminal", status)
		}
	}
	if h := (Hold{Status: HoldHeld}); h.Terminal() {
		t.Error("a live hold is not terminal")
	}
}

func TestSuccessStatus(t *testing.T) {
	t.Parallel()
	for _, s := range []string{OrderPaid, OrderConfirmed, OrderCompleted} {
		if !SuccessStatus(s) {
			t.Errorf("SuccessStatus(%q) = false, want true", s)
		}
	}
	for _, s := range []string{OrderPending, OrderCancelled, OrderRefunded} {
		if SuccessStatus(s) {
			t.Errorf("SuccessStatus(%q) = true, want false", s)
		}
	}
}
