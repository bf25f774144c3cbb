package service

import (
	"context"

	"github.com/medipagos/be-payment-orders/internal/errors"
	"github.com/medipagos/be-payment-orders/internal/repository"
)

// ChainResolver materializes and queries the ordered approval chain of a
// workflow group. Profile ranks are validated at profile creation; the
// resolver trusts the stored order.
type ChainResolver struct{}

// ResolveChain returns the active profiles of a workflow group sorted
// ascending by orden.
func (c ChainResolver) ResolveChain(ctx context.Context, tx repository.Tx, group string) ([]*repository.ApprovalProfile, error) {
	return tx.GetProfilesForGroup(ctx, group)
}

// Instantiate creates one pending chain row per resolved profile, as a batch.
// Called exactly once, at submission.
func (c ChainResolver) Instantiate(ctx context.Context, tx repository.Tx, orderID, group string) ([]*repository.PaymentOrderApproval, error) {
	exists, err := tx.HasApprovals(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.New(errors.ErrCodeConflict,
			"approval chain already instantiated for this order")
	}

	profiles, err := c.ResolveChain(ctx, tx, group)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, errors.Newf(errors.ErrCodeValidation,
			"workflow group '%s' has no active approval profiles", group)
	}

	rows := make([]*repository.PaymentOrderApproval, 0, len(profiles))
	for _, p := range profiles {
		rows = append(rows, &repository.PaymentOrderApproval{
			OrderID:      orderID,
			ProfileID:    p.ID,
			ProfileCode:  p.Code,
			ProfileOrden: p.Orden,
			Status:       repository.ApprovalPending,
		})
	}

	if err := tx.InsertApprovalRows(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// CurrentStep returns the first pending row in orden sequence, or nil when
// the chain is complete or short-circuited.
func (c ChainResolver) CurrentStep(ctx context.Context, tx repository.Tx, orderID string) (*repository.PaymentOrderApproval, error) {
	rows, err := tx.GetApprovals(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Status == repository.ApprovalPending {
			return row, nil
		}
	}
	return nil, nil
}

// EligibleApprovers returns the users who may act for a profile at the given
// site: mappings with no site restriction, plus mappings matching the site.
func (c ChainResolver) EligibleApprovers(ctx context.Context, tx repository.Tx, profileID string, siteID *string) ([]string, error) {
	return tx.GetEligibleUsers(ctx, profileID, siteID)
}
