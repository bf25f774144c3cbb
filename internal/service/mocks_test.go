package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/medipagos/be-payment-orders/internal/errors"
	"github.com/medipagos/be-payment-orders/internal/repository"
)

// fakeLedger is an in-memory repository.Store used by the service tests. A
// snapshot is taken before each transaction and restored when the closure
// fails, so the atomicity expectations of the services hold against it.
type fakeLedger struct {
	mu           sync.Mutex
	orders       map[string]*repository.PaymentOrder
	links        map[string][]string
	settlements  map[string]*repository.SettlementAmounts
	profiles     map[string]*repository.ApprovalProfile
	profileUsers []*repository.ApprovalProfileUser
	approvals    []*repository.PaymentOrderApproval
	audit        []*repository.AuditEntry
	seq          int

	// failSettlement makes GetSettlementAmounts fail for the given id, to
	// exercise mid-transaction rollback.
	failSettlement string

	// linkCalls records the order of lock/check/insert calls inside a link
	// mutation, so tests can assert the settlement lock precedes the
	// exclusivity check.
	linkCalls []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		orders:      map[string]*repository.PaymentOrder{},
		links:       map[string][]string{},
		settlements: map[string]*repository.SettlementAmounts{},
		profiles:    map[string]*repository.ApprovalProfile{},
	}
}

func (l *fakeLedger) nextID(prefix string) string {
	l.seq++
	return fmt.Sprintf("%s-%d", prefix, l.seq)
}

// ── Seeding helpers ──────────────────────────────────────────────────────────

func (l *fakeLedger) addSettlement(s *repository.SettlementAmounts) {
	l.settlements[s.SettlementID] = s
}

func (l *fakeLedger) addProfile(group, code string, orden int) *repository.ApprovalProfile {
	p := &repository.ApprovalProfile{
		ID:            l.nextID("profile"),
		WorkflowGroup: group,
		Code:          code,
		Orden:         orden,
		Active:        true,
	}
	l.profiles[p.ID] = p
	return p
}

func (l *fakeLedger) addUser(profileID, userID string, siteID *string) {
	l.profileUsers = append(l.profileUsers, &repository.ApprovalProfileUser{
		ID:        l.nextID("mapping"),
		ProfileID: profileID,
		UserID:    userID,
		SiteID:    siteID,
	})
}

// ── Store ────────────────────────────────────────────────────────────────────

func (l *fakeLedger) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.snapshot()
	if err := fn(&fakeTx{l: l}); err != nil {
		l.restore(snap)
		return err
	}
	return nil
}

type ledgerSnapshot struct {
	orders    map[string]repository.PaymentOrder
	links     map[string][]string
	approvals []repository.PaymentOrderApproval
	auditLen  int
}

func (l *fakeLedger) snapshot() ledgerSnapshot {
	s := ledgerSnapshot{
		orders:   map[string]repository.PaymentOrder{},
		links:    map[string][]string{},
		auditLen: len(l.audit),
	}
	for id, o := range l.orders {
		s.orders[id] = *o
	}
	for id, ids := range l.links {
		s.links[id] = append([]string(nil), ids...)
	}
	for _, a := range l.approvals {
		s.approvals = append(s.approvals, *a)
	}
	return s
}

func (l *fakeLedger) restore(s ledgerSnapshot) {
	l.orders = map[string]*repository.PaymentOrder{}
	for id := range s.orders {
		o := s.orders[id]
		l.orders[id] = &o
	}
	l.links = s.links
	l.approvals = nil
	for i := range s.approvals {
		a := s.approvals[i]
		l.approvals = append(l.approvals, &a)
	}
	l.audit = l.audit[:s.auditLen]
}

func (l *fakeLedger) GetOrder(ctx context.Context, id string) (*repository.PaymentOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok || !o.Active {
		return nil, errors.NotFound("payment_order", id)
	}
	cp := *o
	return &cp, nil
}

func (l *fakeLedger) ListOrders(ctx context.Context, f repository.OrderFilter) ([]*repository.PaymentOrder, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*repository.PaymentOrder, 0)
	for _, o := range l.orders {
		if f.BankID != nil && o.BankID != *f.BankID {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out, int64(len(out)), nil
}

func (l *fakeLedger) GetApprovals(ctx context.Context, orderID string) ([]*repository.PaymentOrderApproval, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return (&fakeTx{l: l}).approvalsFor(orderID), nil
}

func (l *fakeLedger) GetPendingOrdersForUser(ctx context.Context, userID string) ([]*repository.PaymentOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &fakeTx{l: l}
	out := make([]*repository.PaymentOrder, 0)
	for _, o := range l.orders {
		if o.Status != repository.StatusPending {
			continue
		}
		var current *repository.PaymentOrderApproval
		for _, a := range tx.approvalsFor(o.ID) {
			if a.Status == repository.ApprovalPending {
				current = a
				break
			}
		}
		if current == nil {
			continue
		}
		users, _ := tx.GetEligibleUsers(ctx, current.ProfileID, o.SiteID)
		for _, u := range users {
			if u == userID {
				cp := *o
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (l *fakeLedger) GetAuditTrail(ctx context.Context, orderID string) ([]*repository.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*repository.AuditEntry, 0)
	for _, e := range l.audit {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ── Tx ───────────────────────────────────────────────────────────────────────

type fakeTx struct {
	l *fakeLedger
}

func (t *fakeTx) GetOrderForUpdate(ctx context.Context, id string) (*repository.PaymentOrder, error) {
	o, ok := t.l.orders[id]
	if !ok || !o.Active {
		return nil, errors.NotFound("payment_order", id)
	}
	cp := *o
	return &cp, nil
}

func (t *fakeTx) InsertOrder(ctx context.Context, o *repository.PaymentOrder) error {
	o.ID = t.l.nextID("order")
	o.OrderNumber = fmt.Sprintf("OP-%08d", t.l.seq)
	o.Active = true
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	t.l.orders[o.ID] = &cp
	return nil
}

func (t *fakeTx) UpdateOrderTotals(ctx context.Context, o *repository.PaymentOrder) error {
	stored, ok := t.l.orders[o.ID]
	if !ok {
		return errors.NotFound("payment_order", o.ID)
	}
	stored.Consumo = o.Consumo
	stored.Descuento = o.Descuento
	stored.Subtotal = o.Subtotal
	stored.Renta = o.Renta
	stored.IGV = o.IGV
	stored.Total = o.Total
	stored.CantComprobantes = o.CantComprobantes
	stored.CantLiquidaciones = o.CantLiquidaciones
	return nil
}

func (t *fakeTx) UpdateOrderStatus(ctx context.Context, id string, status repository.OrderStatus, updatedBy string) error {
	stored, ok := t.l.orders[id]
	if !ok {
		return errors.NotFound("payment_order", id)
	}
	stored.Status = status
	stored.UpdatedBy = &updatedBy
	return nil
}

func (t *fakeTx) GetLinks(ctx context.Context, orderID string) ([]string, error) {
	return append([]string(nil), t.l.links[orderID]...), nil
}

func (t *fakeTx) LockSettlement(ctx context.Context, settlementID string) error {
	t.l.linkCalls = append(t.l.linkCalls, "lock:"+settlementID)
	if _, ok := t.l.settlements[settlementID]; !ok {
		return errors.NotFound("settlement", settlementID)
	}
	return nil
}

func (t *fakeTx) FindActiveOrderForSettlement(ctx context.Context, settlementID, excludeOrderID string) (*string, error) {
	t.l.linkCalls = append(t.l.linkCalls, "find:"+settlementID)
	for orderID, ids := range t.l.links {
		if orderID == excludeOrderID {
			continue
		}
		o, ok := t.l.orders[orderID]
		if !ok || !o.Status.Active() {
			continue
		}
		for _, id := range ids {
			if id == settlementID {
				n := o.OrderNumber
				return &n, nil
			}
		}
	}
	return nil, nil
}

func (t *fakeTx) InsertLink(ctx context.Context, orderID, settlementID string) error {
	t.l.linkCalls = append(t.l.linkCalls, "insert:"+settlementID)
	for _, id := range t.l.links[orderID] {
		if id == settlementID {
			return errors.Newf(errors.ErrCodeConflict,
				"settlement '%s' is already linked to this order", settlementID)
		}
	}
	t.l.links[orderID] = append(t.l.links[orderID], settlementID)
	return nil
}

func (t *fakeTx) DeleteLink(ctx context.Context, orderID, settlementID string) (bool, error) {
	ids := t.l.links[orderID]
	for i, id := range ids {
		if id == settlementID {
			t.l.links[orderID] = append(ids[:i:i], ids[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) GetSettlementAmounts(ctx context.Context, settlementID string) (*repository.SettlementAmounts, error) {
	if settlementID == t.l.failSettlement {
		return nil, errors.New(errors.ErrCodeInternal, "settlement read failed")
	}
	s, ok := t.l.settlements[settlementID]
	if !ok {
		return nil, errors.NotFound("settlement", settlementID)
	}
	cp := *s
	return &cp, nil
}

func (t *fakeTx) GetProfilesForGroup(ctx context.Context, group string) ([]*repository.ApprovalProfile, error) {
	out := make([]*repository.ApprovalProfile, 0)
	for _, p := range t.l.profiles {
		if p.WorkflowGroup == group && p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Orden < out[j].Orden })
	return out, nil
}

func (t *fakeTx) HasApprovals(ctx context.Context, orderID string) (bool, error) {
	for _, a := range t.l.approvals {
		if a.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) InsertApprovalRows(ctx context.Context, rows []*repository.PaymentOrderApproval) error {
	for _, row := range rows {
		row.ID = t.l.nextID("approval")
		row.Status = repository.ApprovalPending
		cp := *row
		t.l.approvals = append(t.l.approvals, &cp)
	}
	return nil
}

func (t *fakeTx) approvalsFor(orderID string) []*repository.PaymentOrderApproval {
	out := make([]*repository.PaymentOrderApproval, 0)
	for _, a := range t.l.approvals {
		if a.OrderID == orderID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProfileOrden < out[j].ProfileOrden })
	return out
}

func (t *fakeTx) GetApprovals(ctx context.Context, orderID string) ([]*repository.PaymentOrderApproval, error) {
	return t.approvalsFor(orderID), nil
}

func (t *fakeTx) ResolveApproval(ctx context.Context, id string, status repository.ApprovalStatus, userID string, notes *string) (bool, error) {
	for _, a := range t.l.approvals {
		if a.ID != id {
			continue
		}
		if a.Status != repository.ApprovalPending {
			return false, nil
		}
		now := time.Now()
		a.Status = status
		a.ResolvedBy = &userID
		a.ResolvedAt = &now
		a.Notes = notes
		return true, nil
	}
	return false, errors.NotFound("approval", id)
}

func (t *fakeTx) GetEligibleUsers(ctx context.Context, profileID string, siteID *string) ([]string, error) {
	out := make([]string, 0)
	for _, m := range t.l.profileUsers {
		if m.ProfileID != profileID {
			continue
		}
		if m.SiteID == nil {
			out = append(out, m.UserID)
			continue
		}
		if siteID != nil && *m.SiteID == *siteID {
			out = append(out, m.UserID)
		}
	}
	return out, nil
}

func (t *fakeTx) AppendAudit(ctx context.Context, e *repository.AuditEntry) error {
	e.ID = t.l.nextID("audit")
	e.PerformedAt = time.Now()
	cp := *e
	t.l.audit = append(t.l.audit, &cp)
	return nil
}

// ── Notifier ─────────────────────────────────────────────────────────────────

type fakeNotifier struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (n *fakeNotifier) PublishOrderEvent(ctx context.Context, event OrderEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) last() *OrderEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return nil
	}
	e := n.events[len(n.events)-1]
	return &e
}
