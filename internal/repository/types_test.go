package repository

import "testing"

func TestOrderStatusPredicates(t *testing.T) {
	cases := []struct {
		status   OrderStatus
		mutable  bool
		terminal bool
		active   bool
	}{
		{StatusDraft, true, false, true},
		{StatusPending, false, false, true},
		{StatusApproved, false, false, true},
		{StatusRejected, false, true, false},
		{StatusPaid, false, true, true},
		{StatusCancelled, false, true, false},
	}

	for _, c := range cases {
		if got := c.status.Mutable(); got != c.mutable {
			t.Errorf("%s: Mutable() = %v, want %v", c.status, got, c.mutable)
		}
		if got := c.status.Terminal(); got != c.terminal {
			t.Errorf("%s: Terminal() = %v, want %v", c.status, got, c.terminal)
		}
		if got := c.status.Active(); got != c.active {
			t.Errorf("%s: Active() = %v, want %v", c.status, got, c.active)
		}
	}
}
