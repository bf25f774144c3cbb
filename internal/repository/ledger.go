package repository

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medipagos/be-payment-orders/internal/database"
	"github.com/medipagos/be-payment-orders/internal/errors"
)

// Store is the ledger contract the lifecycle services run against. Mutating
// operations go through InTx; everything inside the closure either fully
// commits or leaves no trace.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id string) (*PaymentOrder, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]*PaymentOrder, int64, error)
	GetApprovals(ctx context.Context, orderID string) ([]*PaymentOrderApproval, error)
	GetPendingOrdersForUser(ctx context.Context, userID string) ([]*PaymentOrder, error)
	GetAuditTrail(ctx context.Context, orderID string) ([]*AuditEntry, error)
}

// Tx is the transactional scope of one mutating operation.
type Tx interface {
	// Orders. GetOrderForUpdate takes the row lock serializing concurrent
	// operations against the same order; contention surfaces a concurrency
	// error instead of blocking.
	GetOrderForUpdate(ctx context.Context, id string) (*PaymentOrder, error)
	InsertOrder(ctx context.Context, o *PaymentOrder) error
	UpdateOrderTotals(ctx context.Context, o *PaymentOrder) error
	UpdateOrderStatus(ctx context.Context, id string, status OrderStatus, updatedBy string) error

	// Settlement links. LockSettlement serializes concurrent link attempts
	// for the same settlement across different orders; the per-order row lock
	// alone cannot, so the exclusivity check is only sound after it.
	GetLinks(ctx context.Context, orderID string) ([]string, error)
	LockSettlement(ctx context.Context, settlementID string) error
	FindActiveOrderForSettlement(ctx context.Context, settlementID, excludeOrderID string) (*string, error)
	InsertLink(ctx context.Context, orderID, settlementID string) error
	DeleteLink(ctx context.Context, orderID, settlementID string) (bool, error)
	GetSettlementAmounts(ctx context.Context, settlementID string) (*SettlementAmounts, error)

	// Approval chain.
	GetProfilesForGroup(ctx context.Context, group string) ([]*ApprovalProfile, error)
	HasApprovals(ctx context.Context, orderID string) (bool, error)
	InsertApprovalRows(ctx context.Context, rows []*PaymentOrderApproval) error
	GetApprovals(ctx context.Context, orderID string) ([]*PaymentOrderApproval, error)
	ResolveApproval(ctx context.Context, id string, status ApprovalStatus, userID string, notes *string) (bool, error)
	GetEligibleUsers(ctx context.Context, profileID string, siteID *string) ([]string, error)

	// Audit.
	AppendAudit(ctx context.Context, e *AuditEntry) error
}

// Ledger is the PostgreSQL Store implementation.
type Ledger struct {
	db *database.DB
}

// NewLedger creates a Ledger over the shared pool.
func NewLedger(db *database.DB) *Ledger {
	return &Ledger{db: db}
}

// InTx runs fn inside one database transaction.
func (l *Ledger) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return l.db.InTransaction(ctx, func(pgtx pgx.Tx) error {
		return fn(&ledgerTx{tx: pgtx})
	})
}

const orderColumns = `
	id, order_number, bank_id, site_id, workflow_group, status,
	consumo, descuento, subtotal, renta, igv, total,
	cant_comprobantes, cant_liquidaciones,
	comment, active, created_by, created_at, updated_by, updated_at`

// GetOrder retrieves an order without locking it.
func (l *Ledger) GetOrder(ctx context.Context, id string) (*PaymentOrder, error) {
	query := `SELECT` + orderColumns + `
		FROM payment_orders
		WHERE id = $1 AND active = TRUE`

	o, err := scanOrder(l.db.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("payment_order", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get payment order")
	}
	return o, nil
}

// ListOrders retrieves orders with filtering and pagination.
func (l *Ledger) ListOrders(ctx context.Context, f OrderFilter) ([]*PaymentOrder, int64, error) {
	query := `SELECT` + orderColumns + ` FROM payment_orders WHERE active = TRUE`
	countQuery := `SELECT COUNT(*) FROM payment_orders WHERE active = TRUE`

	args := []any{}
	argCount := 1

	if f.BankID != nil {
		clause := fmt.Sprintf(" AND bank_id = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *f.BankID)
		argCount++
	}
	if f.Status != nil {
		clause := fmt.Sprintf(" AND status = $%d::order_status", argCount)
		query += clause
		countQuery += clause
		args = append(args, *f.Status)
		argCount++
	}
	if f.FromDate != nil {
		clause := fmt.Sprintf(" AND created_at >= $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *f.FromDate)
		argCount++
	}
	if f.ToDate != nil {
		clause := fmt.Sprintf(" AND created_at <= $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *f.ToDate)
		argCount++
	}

	query += " ORDER BY created_at DESC, order_number DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, f.Limit, f.Offset)

	var total int64
	if err := l.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count payment orders")
	}

	rows, err := l.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list payment orders")
	}
	defer rows.Close()

	orders := make([]*PaymentOrder, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan payment order")
		}
		orders = append(orders, o)
	}
	return orders, total, nil
}

// GetApprovals returns the order's full approval chain in step order.
func (l *Ledger) GetApprovals(ctx context.Context, orderID string) ([]*PaymentOrderApproval, error) {
	rows, err := l.db.Query(ctx, approvalsQuery, orderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approvals")
	}
	defer rows.Close()
	return scanApprovalRows(rows)
}

// GetPendingOrdersForUser returns pending orders whose current step the user
// is eligible to act on.
func (l *Ledger) GetPendingOrdersForUser(ctx context.Context, userID string) ([]*PaymentOrder, error) {
	query := `
		SELECT DISTINCT` + orderColumnsQualified + `
		FROM payment_orders o
		JOIN payment_order_approvals a ON a.order_id = o.id AND a.status = 'pending'
		JOIN approval_profiles p ON p.id = a.profile_id
		JOIN approval_profile_users u ON u.profile_id = p.id
		WHERE o.active = TRUE
		  AND o.status = 'pending'
		  AND u.user_id = $1
		  AND (u.site_id IS NULL OR u.site_id = o.site_id)
		  AND p.orden = (
		      SELECT MIN(p2.orden)
		      FROM payment_order_approvals a2
		      JOIN approval_profiles p2 ON p2.id = a2.profile_id
		      WHERE a2.order_id = o.id AND a2.status = 'pending'
		  )
		ORDER BY o.created_at ASC`

	rows, err := l.db.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending orders")
	}
	defer rows.Close()

	orders := make([]*PaymentOrder, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan payment order")
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// GetAuditTrail returns the order's audit history oldest-first.
func (l *Ledger) GetAuditTrail(ctx context.Context, orderID string) ([]*AuditEntry, error) {
	rows, err := l.db.Query(ctx, auditQuery, orderID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit trail")
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

// lockNotAvailable is the PostgreSQL error code raised by FOR UPDATE NOWAIT
// when another transaction holds the row lock.
const lockNotAvailable = "55P03"

func concurrencyOr(err error, wrapped string) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
		return errors.New(errors.ErrCodeConcurrency,
			"payment order is locked by another operation")
	}
	return errors.Wrap(err, errors.ErrCodeInternal, wrapped)
}
