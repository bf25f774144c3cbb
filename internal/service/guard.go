package service

import (
	"context"

	"github.com/medipagos/be-payment-orders/internal/errors"
	"github.com/medipagos/be-payment-orders/internal/repository"
)

// Guard decides whether an acting identity may resolve the current step of an
// order, honoring the profile's user mappings and their optional site scope.
type Guard struct {
	chain ChainResolver
}

// Authorize returns an unauthorized error unless userID is eligible for the
// step's profile at the order's site.
func (g Guard) Authorize(ctx context.Context, tx repository.Tx, step *repository.PaymentOrderApproval, siteID *string, userID string) error {
	if userID == "" {
		return errors.InvalidInput("user_id", "acting user is required")
	}

	users, err := g.chain.EligibleApprovers(ctx, tx, step.ProfileID, siteID)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u == userID {
			return nil
		}
	}
	return errors.Newf(errors.ErrCodeUnauthorized,
		"user '%s' is not eligible to act on step '%s'", userID, step.ProfileCode)
}
