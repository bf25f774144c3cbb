package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/medipagos/be-payment-orders/internal/errors"
)

// ledgerTx implements Tx over one pgx transaction.
type ledgerTx struct {
	tx pgx.Tx
}

// ── Orders ───────────────────────────────────────────────────────────────────

// GetOrderForUpdate reads the order under a row lock. NOWAIT keeps lock
// acquisition bounded; contention surfaces as a concurrency error.
func (t *ledgerTx) GetOrderForUpdate(ctx context.Context, id string) (*PaymentOrder, error) {
	query := `SELECT` + orderColumns + `
		FROM payment_orders
		WHERE id = $1 AND active = TRUE
		FOR UPDATE NOWAIT`

	o, err := scanOrder(t.tx.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("payment_order", id)
	}
	if err != nil {
		return nil, concurrencyOr(err, "failed to lock payment order")
	}
	return o, nil
}

// InsertOrder creates a draft order, assigning the next order number from the
// sequence.
func (t *ledgerTx) InsertOrder(ctx context.Context, o *PaymentOrder) error {
	query := `
		INSERT INTO payment_orders
		    (order_number, bank_id, site_id, workflow_group, status,
		     consumo, descuento, subtotal, renta, igv, total,
		     cant_comprobantes, cant_liquidaciones, comment, created_by)
		VALUES ('OP-' || LPAD(nextval('payment_order_number_seq')::text, 8, '0'),
		        $1, $2, $3, $4::order_status,
		        $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14)
		RETURNING id, order_number, created_at, updated_at`

	err := t.tx.QueryRow(ctx, query,
		o.BankID,
		o.SiteID,
		o.WorkflowGroup,
		o.Status,
		o.Consumo,
		o.Descuento,
		o.Subtotal,
		o.Renta,
		o.IGV,
		o.Total,
		o.CantComprobantes,
		o.CantLiquidaciones,
		o.Comment,
		o.CreatedBy,
	).Scan(&o.ID, &o.OrderNumber, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create payment order")
	}
	o.Active = true
	return nil
}

// UpdateOrderTotals writes the recomputed monetary projection and counts.
func (t *ledgerTx) UpdateOrderTotals(ctx context.Context, o *PaymentOrder) error {
	query := `
		UPDATE payment_orders
		SET consumo            = $2,
		    descuento          = $3,
		    subtotal           = $4,
		    renta              = $5,
		    igv                = $6,
		    total              = $7,
		    cant_comprobantes  = $8,
		    cant_liquidaciones = $9,
		    updated_at         = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := t.tx.QueryRow(ctx, query,
		o.ID,
		o.Consumo,
		o.Descuento,
		o.Subtotal,
		o.Renta,
		o.IGV,
		o.Total,
		o.CantComprobantes,
		o.CantLiquidaciones,
	).Scan(&o.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("payment_order", o.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update order totals")
	}
	return nil
}

// UpdateOrderStatus moves the order to a new lifecycle status.
func (t *ledgerTx) UpdateOrderStatus(ctx context.Context, id string, status OrderStatus, updatedBy string) error {
	query := `
		UPDATE payment_orders
		SET status     = $2::order_status,
		    updated_by = $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id`

	var returnedID string
	err := t.tx.QueryRow(ctx, query, id, status, updatedBy).Scan(&returnedID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("payment_order", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update order status")
	}
	return nil
}

// ── Settlement links ─────────────────────────────────────────────────────────

// GetLinks returns the settlement IDs currently linked to the order.
func (t *ledgerTx) GetLinks(ctx context.Context, orderID string) ([]string, error) {
	query := `
		SELECT settlement_id
		FROM settlement_links
		WHERE order_id = $1
		ORDER BY settlement_id`

	rows, err := t.tx.Query(ctx, query, orderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get settlement links")
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan settlement link")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// LockSettlement takes a row lock on the settlement itself. Two transactions
// linking the same settlement to different orders hold locks on different
// order rows, so without this the exclusivity check in both would read the
// pre-insert state and both links would commit.
func (t *ledgerTx) LockSettlement(ctx context.Context, settlementID string) error {
	query := `
		SELECT id
		FROM settlements
		WHERE id = $1
		FOR UPDATE`

	var id string
	err := t.tx.QueryRow(ctx, query, settlementID).Scan(&id)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("settlement", settlementID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock settlement")
	}
	return nil
}

// FindActiveOrderForSettlement returns the ID of another active order holding
// this settlement, or nil. Cancelled and rejected orders release their claim.
func (t *ledgerTx) FindActiveOrderForSettlement(ctx context.Context, settlementID, excludeOrderID string) (*string, error) {
	query := `
		SELECT o.id
		FROM settlement_links l
		JOIN payment_orders o ON o.id = l.order_id
		WHERE l.settlement_id = $1
		  AND o.id <> $2
		  AND o.active = TRUE
		  AND o.status NOT IN ('cancelled', 'rejected')
		LIMIT 1`

	var orderID string
	err := t.tx.QueryRow(ctx, query, settlementID, excludeOrderID).Scan(&orderID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to check settlement exclusivity")
	}
	return &orderID, nil
}

// InsertLink links a settlement to the order. A duplicate pair violates the
// unique index and surfaces as a conflict.
func (t *ledgerTx) InsertLink(ctx context.Context, orderID, settlementID string) error {
	query := `
		INSERT INTO settlement_links (order_id, settlement_id)
		VALUES ($1, $2)
		ON CONFLICT (order_id, settlement_id) DO NOTHING
		RETURNING order_id`

	var returnedID string
	err := t.tx.QueryRow(ctx, query, orderID, settlementID).Scan(&returnedID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.Newf(errors.ErrCodeConflict,
			"settlement '%s' is already linked to this order", settlementID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert settlement link")
	}
	return nil
}

// DeleteLink removes a link, reporting whether it existed.
func (t *ledgerTx) DeleteLink(ctx context.Context, orderID, settlementID string) (bool, error) {
	query := `
		DELETE FROM settlement_links
		WHERE order_id = $1 AND settlement_id = $2`

	tag, err := t.tx.Exec(ctx, query, orderID, settlementID)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to delete settlement link")
	}
	return tag.RowsAffected() > 0, nil
}

// GetSettlementAmounts reads the monetary columns of one settlement record.
func (t *ledgerTx) GetSettlementAmounts(ctx context.Context, settlementID string) (*SettlementAmounts, error) {
	query := `
		SELECT id, consumo, descuento, subtotal, renta, igv, total, cant_comprobantes
		FROM settlements
		WHERE id = $1`

	s := &SettlementAmounts{}
	err := t.tx.QueryRow(ctx, query, settlementID).Scan(
		&s.SettlementID,
		&s.Consumo,
		&s.Descuento,
		&s.Subtotal,
		&s.Renta,
		&s.IGV,
		&s.Total,
		&s.CantComprobantes,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("settlement", settlementID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get settlement amounts")
	}
	return s, nil
}

// ── Approval chain ───────────────────────────────────────────────────────────

// GetProfilesForGroup returns the active profiles of a workflow group sorted
// ascending by orden.
func (t *ledgerTx) GetProfilesForGroup(ctx context.Context, group string) ([]*ApprovalProfile, error) {
	query := `
		SELECT id, workflow_group, code, description, level, orden, active,
		       created_at, updated_at
		FROM approval_profiles
		WHERE workflow_group = $1 AND active = TRUE
		ORDER BY orden ASC`

	rows, err := t.tx.Query(ctx, query, group)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval profiles")
	}
	defer rows.Close()

	profiles := make([]*ApprovalProfile, 0)
	for rows.Next() {
		p := &ApprovalProfile{}
		err := rows.Scan(
			&p.ID,
			&p.WorkflowGroup,
			&p.Code,
			&p.Description,
			&p.Level,
			&p.Orden,
			&p.Active,
			&p.CreatedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval profile")
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// HasApprovals reports whether chain rows already exist for the order.
func (t *ledgerTx) HasApprovals(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM payment_order_approvals WHERE order_id = $1)`,
		orderID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check existing approvals")
	}
	return exists, nil
}

// InsertApprovalRows creates the chain rows as one batch.
func (t *ledgerTx) InsertApprovalRows(ctx context.Context, rows []*PaymentOrderApproval) error {
	query := `
		INSERT INTO payment_order_approvals (order_id, profile_id, status)
		VALUES ($1, $2, $3::approval_status)
		RETURNING id, created_at, updated_at`

	for _, row := range rows {
		err := t.tx.QueryRow(ctx, query,
			row.OrderID,
			row.ProfileID,
			row.Status,
		).Scan(&row.ID, &row.CreatedAt, &row.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval row")
		}
	}
	return nil
}

// GetApprovals returns the order's chain rows in step order.
func (t *ledgerTx) GetApprovals(ctx context.Context, orderID string) ([]*PaymentOrderApproval, error) {
	rows, err := t.tx.Query(ctx, approvalsQuery, orderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approvals")
	}
	defer rows.Close()
	return scanApprovalRows(rows)
}

// ResolveApproval marks a pending row approved or rejected. Returns false
// when the row was already resolved.
func (t *ledgerTx) ResolveApproval(ctx context.Context, id string, status ApprovalStatus, userID string, notes *string) (bool, error) {
	query := `
		UPDATE payment_order_approvals
		SET status      = $2::approval_status,
		    resolved_by = $3,
		    resolved_at = NOW(),
		    notes       = $4,
		    updated_at  = NOW()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING id`

	var returnedID string
	err := t.tx.QueryRow(ctx, query, id, status, userID, notes).Scan(&returnedID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve approval")
	}
	return true, nil
}

// GetEligibleUsers returns users mapped to the profile whose site scope is
// global or matches the order's site.
func (t *ledgerTx) GetEligibleUsers(ctx context.Context, profileID string, siteID *string) ([]string, error) {
	query := `
		SELECT user_id
		FROM approval_profile_users
		WHERE profile_id = $1
		  AND (site_id IS NULL OR site_id = $2::text)
		ORDER BY user_id`

	rows, err := t.tx.Query(ctx, query, profileID, siteID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get eligible users")
	}
	defer rows.Close()

	users := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan eligible user")
		}
		users = append(users, id)
	}
	return users, nil
}

// ── Audit ────────────────────────────────────────────────────────────────────

// AppendAudit inserts one immutable audit entry.
func (t *ledgerTx) AppendAudit(ctx context.Context, e *AuditEntry) error {
	var metadataJSON []byte
	if e.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO payment_order_audit_log
		    (order_id, profile_id, action, performed_by,
		     status_before, status_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, performed_at`

	return errors.Wrap(
		t.tx.QueryRow(ctx, query,
			e.OrderID,
			e.ProfileID,
			e.Action,
			e.PerformedBy,
			e.StatusBefore,
			e.StatusAfter,
			metadataJSON,
		).Scan(&e.ID, &e.PerformedAt),
		errors.ErrCodeInternal, "failed to append audit entry")
}
