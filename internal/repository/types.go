package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Order lifecycle ──────────────────────────────────────────────────────────

// OrderStatus is the payment order lifecycle status.
type OrderStatus string

const (
	StatusDraft     OrderStatus = "draft"
	StatusPending   OrderStatus = "pending"
	StatusApproved  OrderStatus = "approved"
	StatusRejected  OrderStatus = "rejected"
	StatusPaid      OrderStatus = "paid"
	StatusCancelled OrderStatus = "cancelled"
)

// Mutable reports whether links may still be added or removed.
func (s OrderStatus) Mutable() bool {
	return s == StatusDraft
}

// Terminal reports whether the order can never change again.
func (s OrderStatus) Terminal() bool {
	return s == StatusRejected || s == StatusPaid || s == StatusCancelled
}

// Active reports whether the order still claims its linked settlements for
// the exclusivity invariant.
func (s OrderStatus) Active() bool {
	return s != StatusCancelled && s != StatusRejected
}

// PaymentOrder is a bank-targeted disbursement request aggregating one or
// more settlement records. Totals are a projection over the current link set,
// recomputed in the same transaction as any link mutation.
type PaymentOrder struct {
	ID                string          `json:"id"`
	OrderNumber       string          `json:"order_number"`
	BankID            string          `json:"bank_id"`
	SiteID            *string         `json:"site_id,omitempty"` // sede scoping approver eligibility; nil = global
	WorkflowGroup     string          `json:"workflow_group"`
	Status            OrderStatus     `json:"status"`
	Consumo           decimal.Decimal `json:"consumo"`
	Descuento         decimal.Decimal `json:"descuento"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Renta             decimal.Decimal `json:"renta"`
	IGV               decimal.Decimal `json:"igv"`
	Total             decimal.Decimal `json:"total"`
	CantComprobantes  int             `json:"cant_comprobantes"`
	CantLiquidaciones int             `json:"cant_liquidaciones"`
	Comment           *string         `json:"comment,omitempty"`
	Active            bool            `json:"active"`
	CreatedBy         *string         `json:"created_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedBy         *string         `json:"updated_by,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// SettlementAmounts are the monetary columns of one settlement record
// ("liquidación") as read from the production ledger.
type SettlementAmounts struct {
	SettlementID     string          `json:"settlement_id"`
	Consumo          decimal.Decimal `json:"consumo"`
	Descuento        decimal.Decimal `json:"descuento"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Renta            decimal.Decimal `json:"renta"`
	IGV              decimal.Decimal `json:"igv"`
	Total            decimal.Decimal `json:"total"`
	CantComprobantes int             `json:"cant_comprobantes"`
}

// ── Approval chain ───────────────────────────────────────────────────────────

// ApprovalProfile is a step template within a workflow group, totally ordered
// by Orden. Duplicate Orden values within a group are rejected at creation.
type ApprovalProfile struct {
	ID            string    `json:"id"`
	WorkflowGroup string    `json:"workflow_group"`
	Code          string    `json:"code"`
	Description   *string   `json:"description,omitempty"`
	Level         string    `json:"level"`
	Orden         int       `json:"orden"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ApprovalProfileUser maps a user to a profile, optionally restricted to one
// site. A nil SiteID means the mapping applies at every site.
type ApprovalProfileUser struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	UserID    string    `json:"user_id"`
	SiteID    *string   `json:"site_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ApprovalStatus is the resolution state of one chain step instance.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// PaymentOrderApproval is one step instance of an order's approval chain,
// created as a batch at submission. ProfileOrden and ProfileCode are joined
// from the profile for ordering and display.
type PaymentOrderApproval struct {
	ID           string         `json:"id"`
	OrderID      string         `json:"order_id"`
	ProfileID    string         `json:"profile_id"`
	ProfileCode  string         `json:"profile_code"`
	ProfileOrden int            `json:"profile_orden"`
	Status       ApprovalStatus `json:"status"`
	ResolvedBy   *string        `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
	Notes        *string        `json:"notes,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID           string                 `json:"id"`
	OrderID      string                 `json:"order_id"`
	ProfileID    *string                `json:"profile_id,omitempty"`
	Action       string                 `json:"action"` // submitted | approved | rejected | cancelled | paid | link_added | link_removed
	PerformedBy  string                 `json:"performed_by"`
	PerformedAt  time.Time              `json:"performed_at"`
	StatusBefore *string                `json:"status_before,omitempty"`
	StatusAfter  *string                `json:"status_after,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// OrderFilter narrows ListOrders.
type OrderFilter struct {
	BankID   *string
	Status   *OrderStatus
	FromDate *string
	ToDate   *string
	Limit    int
	Offset   int
}
