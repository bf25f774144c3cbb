package service

import (
	"context"
	"time"

	"github.com/medipagos/be-payment-orders/internal/errors"
	"github.com/medipagos/be-payment-orders/internal/logger"
	"github.com/medipagos/be-payment-orders/internal/repository"
)

// OrderEvent is the payload emitted to the notification sink once per
// committed transition.
type OrderEvent struct {
	OrderID      string    `json:"order_id"`
	OrderNumber  string    `json:"order_number"`
	NewStatus    string    `json:"new_status"`
	ResolvedStep *string   `json:"resolved_step,omitempty"`
	ActorID      string    `json:"actor_id"`
	Recipients   []string  `json:"recipients,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier dispatches order events best-effort. Implementations must never
// return an error to the caller; delivery failures are logged and dropped.
type Notifier interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent)
}

// OrderService owns the payment order lifecycle. Every mutating operation
// runs as one transaction: the order row is locked first, the transition is
// validated, aggregation and chain updates happen inside the same scope, and
// the notification fires only after commit.
type OrderService struct {
	store    repository.Store
	agg      Aggregator
	chain    ChainResolver
	guard    Guard
	notifier Notifier
	log      *logger.Logger
}

// NewOrderService creates a new OrderService.
func NewOrderService(store repository.Store, notifier Notifier, log *logger.Logger) *OrderService {
	return &OrderService{
		store:    store,
		notifier: notifier,
		log:      log,
	}
}

// CreateOrderRequest creates a draft payment order.
type CreateOrderRequest struct {
	BankID        string
	SiteID        *string
	WorkflowGroup string
	Comment       *string
	CreatedBy     string
}

// CreateOrder creates an empty draft order for a bank.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*repository.PaymentOrder, error) {
	if req.BankID == "" {
		return nil, errors.InvalidInput("bank_id", "target bank is required")
	}
	if req.WorkflowGroup == "" {
		return nil, errors.InvalidInput("workflow_group", "workflow group is required")
	}

	order := &repository.PaymentOrder{
		BankID:        req.BankID,
		SiteID:        req.SiteID,
		WorkflowGroup: req.WorkflowGroup,
		Status:        repository.StatusDraft,
		Comment:       req.Comment,
	}
	if req.CreatedBy != "" {
		order.CreatedBy = &req.CreatedBy
	}

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &repository.AuditEntry{
			OrderID:     order.ID,
			Action:      "created",
			PerformedBy: req.CreatedBy,
			StatusAfter: statusPtr(repository.StatusDraft),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", order.ID).
		Str("order_number", order.OrderNumber).
		Str("bank_id", order.BankID).
		Str("workflow_group", order.WorkflowGroup).
		Msg("Payment order created")

	return order, nil
}

// AddLink links a settlement to a draft order and recomputes its totals.
func (s *OrderService) AddLink(ctx context.Context, orderID, settlementID, actedBy string) (*repository.PaymentOrder, error) {
	if settlementID == "" {
		return nil, errors.InvalidInput("settlement_id", "settlement is required")
	}

	var order *repository.PaymentOrder
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.agg.AddLink(ctx, tx, o, settlementID); err != nil {
			return err
		}
		order = o
		return tx.AppendAudit(ctx, &repository.AuditEntry{
			OrderID:     orderID,
			Action:      "link_added",
			PerformedBy: actedBy,
			Metadata:    map[string]interface{}{"settlement_id": settlementID},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("settlement_id", settlementID).
		Str("total", order.Total.String()).
		Int("cant_liquidaciones", order.CantLiquidaciones).
		Msg("Settlement linked")

	return order, nil
}

// RemoveLink unlinks a settlement from a draft order and recomputes totals.
func (s *OrderService) RemoveLink(ctx context.Context, orderID, settlementID, actedBy string) (*repository.PaymentOrder, error) {
	var order *repository.PaymentOrder
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.agg.RemoveLink(ctx, tx, o, settlementID); err != nil {
			return err
		}
		order = o
		return tx.AppendAudit(ctx, &repository.AuditEntry{
			OrderID:     orderID,
			Action:      "link_removed",
			PerformedBy: actedBy,
			Metadata:    map[string]interface{}{"settlement_id": settlementID},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("settlement_id", settlementID).
		Str("total", order.Total.String()).
		Int("cant_liquidaciones", order.CantLiquidaciones).
		Msg("Settlement unlinked")

	return order, nil
}

// Submit moves a draft order with at least one link into the approval chain.
func (s *OrderService) Submit(ctx context.Context, orderID, submittedBy string) (*repository.PaymentOrder, error) {
	var (
		order      *repository.PaymentOrder
		recipients []string
	)

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != repository.StatusDraft {
			return errors.Newf(errors.ErrCodeState,
				"cannot submit order with status '%s'", o.Status)
		}

		links, err := tx.GetLinks(ctx, orderID)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			return errors.InvalidInput("links", "order must have at least one linked settlement")
		}

		rows, err := s.chain.Instantiate(ctx, tx, orderID, o.WorkflowGroup)
		if err != nil {
			return err
		}

		if err := tx.UpdateOrderStatus(ctx, orderID, repository.StatusPending, submittedBy); err != nil {
			return err
		}
		o.Status = repository.StatusPending

		// Notify approvers of the first step.
		recipients, err = s.chain.EligibleApprovers(ctx, tx, rows[0].ProfileID, o.SiteID)
		if err != nil {
			return err
		}

		order = o
		return tx.AppendAudit(ctx, &repository.AuditEntry{
			OrderID:      orderID,
			Action:       "submitted",
			PerformedBy:  submittedBy,
			StatusBefore: statusPtr(repository.StatusDraft),
			StatusAfter:  statusPtr(repository.StatusPending),
			Metadata:     map[string]interface{}{"total_steps": len(rows)},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("order_number", order.OrderNumber).
		Str("submitted_by", submittedBy).
		Msg("Payment order submitted")

	s.publish(ctx, order, nil, submittedBy, recipients)
	return order, nil
}

// Approve resolves the current chain step. When the last step resolves, the
// order transitions to approved.
func (s *OrderService) Approve(ctx context.Context, orderID, userID string, notes *string) (*repository.PaymentOrder, error) {
	var (
		order      *repository.PaymentOrder
		stepCode   string
		recipients []string
	)

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != repository.StatusPending {
			return errors.Newf(errors.ErrCodeState,
				"cannot approve order with status '%s'", o.Status)
		}

		step, err := s.chain.CurrentStep(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if step == nil {
			return errors.New(errors.ErrCodeState, "order has no pending approval step")
		}

		if err := s.guard.Authorize(ctx, tx, step, o.SiteID, userID); err != nil {
			return err
		}

		resolved, err := tx.ResolveApproval(ctx, step.ID, repository.ApprovalApproved, userID, notes)
		if err != nil {
			return err
		}
		if !resolved {
			return errors.Newf(errors.ErrCodeConflict,
				"approval step '%s' is already resolved", step.ProfileCode)
		}
		stepCode = step.ProfileCode

		next, err := s.chain.CurrentStep(ctx, tx, orderID)
		if err != nil {
			return err
		}
		statusBefore := o.Status
		if next == nil {
			// Chain fully resolved.
			if err := tx.UpdateOrderStatus(ctx, orderID, repository.StatusApproved, userID); err != nil {
				return err
			}
			o.Status = repository.StatusApproved
		} else {
			recipients, err = s.chain.EligibleApprovers(ctx, tx, next.ProfileID, o.SiteID)
			if err != nil {
				return err
			}
		}

		order = o
		return tx.AppendAudit(ctx, &repository.AuditEntry{
			OrderID:      orderID,
			ProfileID:    &step.ProfileID,
			Action:       "approved",
			PerformedBy:  userID,
			StatusBefore: statusPtr(statusBefore),
			StatusAfter:  statusPtr(o.Status),
			Metadata:     map[string]interface{}{"step": step.ProfileCode, "orden": step.ProfileOrden},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("order_number", order.OrderNumber).
		Str("step", stepCode).
		Str("approved_by", userID).
		Str("status", string(order.Status)).
		Msg("Approval step resolved")

	s.publish(ctx, order, &stepCode, userID, recipients)
	return order, nil
}

// Reject resolves the current step as rejected and terminates the order.
// Remaining pending rows are left as-is; they are inert once the order is
// terminal.
func (s *OrderService) Reject(ctx context.Context, orderID, userID, reason string) (*repository.PaymentOrder, error) {
	if reason == "" {
		return nil, errors.InvalidInput("reason", "rejection reason is required")
	}

	var (
		order    *repository.PaymentOrder
		stepCode string
	)

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != repository.StatusPending {
			return errors.Newf(errors.ErrCodeState,
				"cannot reject order with status '%s'", o.Status)
		}

		step, err := s.chain.CurrentStep(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if step == nil {
			return errors.New(errors.ErrCodeState, "order has no pending approval step")
		}

		if err := s.guard.Authorize(ctx, tx, step, o.SiteID, userID); err != nil {
			return err
		}

		resolved, err := tx.ResolveApproval(ctx, step.ID, repository.ApprovalRejected, userID, &reason)
		if err != nil {
			return err
		}
		if !resolved {
			return errors.Newf(errors.ErrCodeConflict,
				"approval step '%s' is already resolved", step.ProfileCode)
		}
		stepCode = step.ProfileCode

		if err := tx.UpdateOrderStatus(ctx, orderID, repository.StatusRejected, userID); err != nil {
			return err
		}
		o.Status = repository.StatusRejected

		order = o
		return tx.AppendAudit(ctx, &repository.AuditEntry{
			OrderID:      orderID,
			ProfileID:    &step.ProfileID,
			Action:       "rejected",
			PerformedBy:  userID,
			StatusBefore: statusPtr(repository.StatusPending),
			StatusAfter:  statusPtr(repository.StatusRejected),
			Metadata:     map[string]interface{}{"step": step.ProfileCode, "reason": reason},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("order_number", order.OrderNumber).
		Str("step", stepCode).
		Str("rejected_by", userID).
		Msg("Payment order rejected")

	s.publish(ctx, order, &stepCode, userID, nil)
	return order, nil
}

// Cancel terminates a draft or pending order, releasing its settlements for
// linking elsewhere.
func (s *OrderService) Cancel(ctx context.Context, orderID, userID string) (*repository.PaymentOrder, error) {
	var order *repository.PaymentOrder

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != repository.StatusDraft && o.Status != repository.StatusPending {
			return errors.Newf(errors.ErrCodeState,
				"cannot cancel order with status '%s'", o.Status)
		}

		statusBefore := o.Status
		if err := tx.UpdateOrderStatus(ctx, orderID, repository.StatusCancelled, userID); err != nil {
			return err
		}
		o.Status = repository.StatusCancelled

		order = o
		return tx.AppendAudit(ctx, &repository.AuditEntry{
			OrderID:      orderID,
			Action:       "cancelled",
			PerformedBy:  userID,
			StatusBefore: statusPtr(statusBefore),
			StatusAfter:  statusPtr(repository.StatusCancelled),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("order_number", order.OrderNumber).
		Str("cancelled_by", userID).
		Msg("Payment order cancelled")

	s.publish(ctx, order, nil, userID, nil)
	return order, nil
}

// RecordPayment marks a fully approved order as paid after external payment
// confirmation.
func (s *OrderService) RecordPayment(ctx context.Context, orderID, userID string, reference *string) (*repository.PaymentOrder, error) {
	var order *repository.PaymentOrder

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != repository.StatusApproved {
			return errors.Newf(errors.ErrCodeState,
				"cannot record payment for order with status '%s'", o.Status)
		}

		if err := tx.UpdateOrderStatus(ctx, orderID, repository.StatusPaid, userID); err != nil {
			return err
		}
		o.Status = repository.StatusPaid

		metadata := map[string]interface{}{}
		if reference != nil {
			metadata["payment_reference"] = *reference
		}

		order = o
		return tx.AppendAudit(ctx, &repository.AuditEntry{
			OrderID:      orderID,
			Action:       "paid",
			PerformedBy:  userID,
			StatusBefore: statusPtr(repository.StatusApproved),
			StatusAfter:  statusPtr(repository.StatusPaid),
			Metadata:     metadata,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("order_number", order.OrderNumber).
		Str("recorded_by", userID).
		Msg("Payment recorded")

	s.publish(ctx, order, nil, userID, nil)
	return order, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// GetOrder returns the current order snapshot.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*repository.PaymentOrder, error) {
	return s.store.GetOrder(ctx, orderID)
}

// ListOrders lists orders with filtering and pagination.
func (s *OrderService) ListOrders(ctx context.Context, f repository.OrderFilter) ([]*repository.PaymentOrder, int64, error) {
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.ListOrders(ctx, f)
}

// GetApprovals returns an order's chain with resolution state, verifying the
// order exists.
func (s *OrderService) GetApprovals(ctx context.Context, orderID string) ([]*repository.PaymentOrderApproval, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.GetApprovals(ctx, orderID)
}

// GetPendingForUser returns orders whose current step awaits the user.
func (s *OrderService) GetPendingForUser(ctx context.Context, userID string) ([]*repository.PaymentOrder, error) {
	if userID == "" {
		return nil, errors.InvalidInput("user_id", "user is required")
	}
	return s.store.GetPendingOrdersForUser(ctx, userID)
}

// GetAuditTrail returns the order's approval history oldest-first.
func (s *OrderService) GetAuditTrail(ctx context.Context, orderID string) ([]*repository.AuditEntry, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.GetAuditTrail(ctx, orderID)
}

// ── Internal helpers ─────────────────────────────────────────────────────────

// publish fires the post-commit notification. Best-effort only; the notifier
// never reports failure upward.
func (s *OrderService) publish(ctx context.Context, order *repository.PaymentOrder, resolvedStep *string, actorID string, recipients []string) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishOrderEvent(ctx, OrderEvent{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		NewStatus:    string(order.Status),
		ResolvedStep: resolvedStep,
		ActorID:      actorID,
		Recipients:   recipients,
		Timestamp:    time.Now().UTC(),
	})
}

func statusPtr(s repository.OrderStatus) *string {
	v := string(s)
	return &v
}
