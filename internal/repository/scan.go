package repository

import (
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/medipagos/be-payment-orders/internal/errors"
)

const orderColumnsQualified = `
	o.id, o.order_number, o.bank_id, o.site_id, o.workflow_group, o.status,
	o.consumo, o.descuento, o.subtotal, o.renta, o.igv, o.total,
	o.cant_comprobantes, o.cant_liquidaciones,
	o.comment, o.active, o.created_by, o.created_at, o.updated_by, o.updated_at`

const approvalsQuery = `
	SELECT a.id, a.order_id, a.profile_id, p.code, p.orden,
	       a.status, a.resolved_by, a.resolved_at, a.notes,
	       a.created_at, a.updated_at
	FROM payment_order_approvals a
	JOIN approval_profiles p ON p.id = a.profile_id
	WHERE a.order_id = $1
	ORDER BY p.orden ASC`

const auditQuery = `
	SELECT id, order_id, profile_id, action, performed_by, performed_at,
	       status_before, status_after, metadata
	FROM payment_order_audit_log
	WHERE order_id = $1
	ORDER BY performed_at ASC`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*PaymentOrder, error) {
	o := &PaymentOrder{}
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.BankID,
		&o.SiteID,
		&o.WorkflowGroup,
		&o.Status,
		&o.Consumo,
		&o.Descuento,
		&o.Subtotal,
		&o.Renta,
		&o.IGV,
		&o.Total,
		&o.CantComprobantes,
		&o.CantLiquidaciones,
		&o.Comment,
		&o.Active,
		&o.CreatedBy,
		&o.CreatedAt,
		&o.UpdatedBy,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func scanApprovalRows(rows pgx.Rows) ([]*PaymentOrderApproval, error) {
	approvals := make([]*PaymentOrderApproval, 0)
	for rows.Next() {
		a := &PaymentOrderApproval{}
		err := rows.Scan(
			&a.ID,
			&a.OrderID,
			&a.ProfileID,
			&a.ProfileCode,
			&a.ProfileOrden,
			&a.Status,
			&a.ResolvedBy,
			&a.ResolvedAt,
			&a.Notes,
			&a.CreatedAt,
			&a.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval row")
		}
		approvals = append(approvals, a)
	}
	return approvals, nil
}

func scanAuditRows(rows pgx.Rows) ([]*AuditEntry, error) {
	entries := make([]*AuditEntry, 0)
	for rows.Next() {
		e := &AuditEntry{}
		var metadataJSON []byte
		err := rows.Scan(
			&e.ID,
			&e.OrderID,
			&e.ProfileID,
			&e.Action,
			&e.PerformedBy,
			&e.PerformedAt,
			&e.StatusBefore,
			&e.StatusAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
