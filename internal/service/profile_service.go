package service

import (
	"context"

	"github.com/medipagos/be-payment-orders/internal/errors"
	"github.com/medipagos/be-payment-orders/internal/logger"
	"github.com/medipagos/be-payment-orders/internal/repository"
)

// ProfileStore is the persistence contract for profile administration.
type ProfileStore interface {
	Create(ctx context.Context, p *repository.ApprovalProfile) error
	GetByID(ctx context.Context, id string) (*repository.ApprovalProfile, error)
	ListByGroup(ctx context.Context, group string, activeOnly bool) ([]*repository.ApprovalProfile, error)
	Update(ctx context.Context, p *repository.ApprovalProfile) error
	Deactivate(ctx context.Context, id string) error
	AssignUser(ctx context.Context, m *repository.ApprovalProfileUser) error
	RemoveUser(ctx context.Context, profileID, userID string) error
	ListUsers(ctx context.Context, profileID string) ([]*repository.ApprovalProfileUser, error)
}

// ProfileService handles administrative maintenance of approval profiles and
// their user mappings.
type ProfileService struct {
	profiles ProfileStore
	log      *logger.Logger
}

// NewProfileService creates a new ProfileService.
func NewProfileService(profiles ProfileStore, log *logger.Logger) *ProfileService {
	return &ProfileService{profiles: profiles, log: log}
}

// CreateProfileRequest creates a step template within a workflow group.
type CreateProfileRequest struct {
	WorkflowGroup string
	Code          string
	Description   *string
	Level         string
	Orden         int
}

// CreateProfile validates and creates a profile. Duplicate orden within the
// group is rejected here, at creation time, so the chain's total order never
// needs re-validation during approvals.
func (s *ProfileService) CreateProfile(ctx context.Context, req *CreateProfileRequest) (*repository.ApprovalProfile, error) {
	if req.WorkflowGroup == "" {
		return nil, errors.InvalidInput("workflow_group", "workflow group is required")
	}
	if req.Code == "" {
		return nil, errors.InvalidInput("code", "profile code is required")
	}
	if req.Orden < 1 {
		return nil, errors.InvalidInput("orden", "orden must be a positive rank")
	}

	profile := &repository.ApprovalProfile{
		WorkflowGroup: req.WorkflowGroup,
		Code:          req.Code,
		Description:   req.Description,
		Level:         req.Level,
		Orden:         req.Orden,
		Active:        true,
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("profile_id", profile.ID).
		Str("workflow_group", profile.WorkflowGroup).
		Str("code", profile.Code).
		Int("orden", profile.Orden).
		Msg("Approval profile created")

	return profile, nil
}

// GetProfile retrieves one profile.
func (s *ProfileService) GetProfile(ctx context.Context, id string) (*repository.ApprovalProfile, error) {
	return s.profiles.GetByID(ctx, id)
}

// ListProfiles lists a workflow group's profiles in chain order.
func (s *ProfileService) ListProfiles(ctx context.Context, group string, activeOnly bool) ([]*repository.ApprovalProfile, error) {
	if group == "" {
		return nil, errors.InvalidInput("workflow_group", "workflow group is required")
	}
	return s.profiles.ListByGroup(ctx, group, activeOnly)
}

// UpdateProfile persists changes to an existing profile.
func (s *ProfileService) UpdateProfile(ctx context.Context, p *repository.ApprovalProfile) (*repository.ApprovalProfile, error) {
	if p.ID == "" {
		return nil, errors.InvalidInput("id", "profile id is required")
	}
	if p.Orden < 1 {
		return nil, errors.InvalidInput("orden", "orden must be a positive rank")
	}
	if err := s.profiles.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeactivateProfile soft-disables a profile.
func (s *ProfileService) DeactivateProfile(ctx context.Context, id string) error {
	if err := s.profiles.Deactivate(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("profile_id", id).Msg("Approval profile deactivated")
	return nil
}

// AssignUser maps a user to a profile, optionally restricted to one site.
func (s *ProfileService) AssignUser(ctx context.Context, profileID, userID string, siteID *string) (*repository.ApprovalProfileUser, error) {
	if userID == "" {
		return nil, errors.InvalidInput("user_id", "user is required")
	}
	if _, err := s.profiles.GetByID(ctx, profileID); err != nil {
		return nil, err
	}

	mapping := &repository.ApprovalProfileUser{
		ProfileID: profileID,
		UserID:    userID,
		SiteID:    siteID,
	}
	if err := s.profiles.AssignUser(ctx, mapping); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("profile_id", profileID).
		Str("user_id", userID).
		Msg("Approver assigned to profile")

	return mapping, nil
}

// RemoveUser deletes a profile-user mapping.
func (s *ProfileService) RemoveUser(ctx context.Context, profileID, userID string) error {
	return s.profiles.RemoveUser(ctx, profileID, userID)
}

// ListUsers lists a profile's user mappings.
func (s *ProfileService) ListUsers(ctx context.Context, profileID string) ([]*repository.ApprovalProfileUser, error) {
	return s.profiles.ListUsers(ctx, profileID)
}
