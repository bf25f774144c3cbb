package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/medipagos/be-payment-orders/internal/errors"
	"github.com/medipagos/be-payment-orders/internal/logger"
	"github.com/medipagos/be-payment-orders/internal/repository"
)

// fakeProfileStore is an in-memory ProfileStore mirroring the uniqueness
// rules the real repository enforces with database constraints.
type fakeProfileStore struct {
	profiles map[string]*repository.ApprovalProfile
	users    []*repository.ApprovalProfileUser
	seq      int
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: map[string]*repository.ApprovalProfile{}}
}

func (s *fakeProfileStore) Create(ctx context.Context, p *repository.ApprovalProfile) error {
	for _, existing := range s.profiles {
		if existing.WorkflowGroup == p.WorkflowGroup && existing.Orden == p.Orden {
			return errors.Newf(errors.ErrCodeConflict,
				"orden %d is already used in workflow group '%s'", p.Orden, p.WorkflowGroup)
		}
	}
	s.seq++
	p.ID = fmt.Sprintf("profile-%d", s.seq)
	cp := *p
	s.profiles[p.ID] = &cp
	return nil
}

func (s *fakeProfileStore) GetByID(ctx context.Context, id string) (*repository.ApprovalProfile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, errors.NotFound("approval_profile", id)
	}
	cp := *p
	return &cp, nil
}

func (s *fakeProfileStore) ListByGroup(ctx context.Context, group string, activeOnly bool) ([]*repository.ApprovalProfile, error) {
	out := make([]*repository.ApprovalProfile, 0)
	for _, p := range s.profiles {
		if p.WorkflowGroup != group {
			continue
		}
		if activeOnly && !p.Active {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeProfileStore) Update(ctx context.Context, p *repository.ApprovalProfile) error {
	if _, ok := s.profiles[p.ID]; !ok {
		return errors.NotFound("approval_profile", p.ID)
	}
	cp := *p
	s.profiles[p.ID] = &cp
	return nil
}

func (s *fakeProfileStore) Deactivate(ctx context.Context, id string) error {
	p, ok := s.profiles[id]
	if !ok {
		return errors.NotFound("approval_profile", id)
	}
	p.Active = false
	return nil
}

func (s *fakeProfileStore) AssignUser(ctx context.Context, m *repository.ApprovalProfileUser) error {
	for _, existing := range s.users {
		if existing.ProfileID == m.ProfileID && existing.UserID == m.UserID {
			return errors.Newf(errors.ErrCodeConflict,
				"user '%s' is already assigned to this profile", m.UserID)
		}
	}
	s.seq++
	m.ID = fmt.Sprintf("mapping-%d", s.seq)
	cp := *m
	s.users = append(s.users, &cp)
	return nil
}

func (s *fakeProfileStore) RemoveUser(ctx context.Context, profileID, userID string) error {
	for i, m := range s.users {
		if m.ProfileID == profileID && m.UserID == userID {
			s.users = append(s.users[:i], s.users[i+1:]...)
			return nil
		}
	}
	return errors.NotFound("profile_user", userID)
}

func (s *fakeProfileStore) ListUsers(ctx context.Context, profileID string) ([]*repository.ApprovalProfileUser, error) {
	out := make([]*repository.ApprovalProfileUser, 0)
	for _, m := range s.users {
		if m.ProfileID == profileID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func newProfileService() (*ProfileService, *fakeProfileStore) {
	store := newFakeProfileStore()
	return NewProfileService(store, logger.Nop()), store
}

func TestProfileService_CreateProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("validates required fields", func(t *testing.T) {
		svc, _ := newProfileService()

		_, err := svc.CreateProfile(ctx, &CreateProfileRequest{Code: "JEFE", Orden: 1})
		wantCode(t, err, errors.ErrCodeValidation)

		_, err = svc.CreateProfile(ctx, &CreateProfileRequest{WorkflowGroup: "PAGOS", Orden: 1})
		wantCode(t, err, errors.ErrCodeValidation)

		_, err = svc.CreateProfile(ctx, &CreateProfileRequest{WorkflowGroup: "PAGOS", Code: "JEFE", Orden: 0})
		wantCode(t, err, errors.ErrCodeValidation)
	})

	t.Run("rejects a duplicate orden within a group", func(t *testing.T) {
		svc, _ := newProfileService()

		if _, err := svc.CreateProfile(ctx, &CreateProfileRequest{
			WorkflowGroup: "PAGOS", Code: "JEFE", Orden: 1,
		}); err != nil {
			t.Fatalf("CreateProfile failed: %v", err)
		}

		_, err := svc.CreateProfile(ctx, &CreateProfileRequest{
			WorkflowGroup: "PAGOS", Code: "CONTRALOR", Orden: 1,
		})
		wantCode(t, err, errors.ErrCodeConflict)

		// The same orden is fine in a different group.
		if _, err := svc.CreateProfile(ctx, &CreateProfileRequest{
			WorkflowGroup: "REEMBOLSOS", Code: "JEFE", Orden: 1,
		}); err != nil {
			t.Fatalf("CreateProfile in other group failed: %v", err)
		}
	})
}

func TestProfileService_Users(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns and removes user mappings", func(t *testing.T) {
		svc, _ := newProfileService()
		profile, err := svc.CreateProfile(ctx, &CreateProfileRequest{
			WorkflowGroup: "PAGOS", Code: "JEFE", Orden: 1,
		})
		if err != nil {
			t.Fatalf("CreateProfile failed: %v", err)
		}

		lima := "LIMA"
		if _, err := svc.AssignUser(ctx, profile.ID, "alice", &lima); err != nil {
			t.Fatalf("AssignUser failed: %v", err)
		}

		_, err = svc.AssignUser(ctx, profile.ID, "alice", nil)
		wantCode(t, err, errors.ErrCodeConflict)

		users, err := svc.ListUsers(ctx, profile.ID)
		if err != nil {
			t.Fatalf("ListUsers failed: %v", err)
		}
		if len(users) != 1 || users[0].UserID != "alice" {
			t.Errorf("expected alice mapped once, got %+v", users)
		}

		if err := svc.RemoveUser(ctx, profile.ID, "alice"); err != nil {
			t.Fatalf("RemoveUser failed: %v", err)
		}
		users, _ = svc.ListUsers(ctx, profile.ID)
		if len(users) != 0 {
			t.Errorf("expected empty mapping list, got %+v", users)
		}
	})

	t.Run("rejects assignments to unknown profiles", func(t *testing.T) {
		svc, _ := newProfileService()
		_, err := svc.AssignUser(ctx, "missing", "alice", nil)
		wantCode(t, err, errors.ErrCodeNotFound)
	})

	t.Run("requires a user id", func(t *testing.T) {
		svc, _ := newProfileService()
		_, err := svc.AssignUser(ctx, "profile-1", "", nil)
		wantCode(t, err, errors.ErrCodeValidation)
	})
}

func TestProfileService_Deactivate(t *testing.T) {
	ctx := context.Background()

	svc, _ := newProfileService()
	profile, err := svc.CreateProfile(ctx, &CreateProfileRequest{
		WorkflowGroup: "PAGOS", Code: "JEFE", Orden: 1,
	})
	if err != nil {
		t.Fatalf("CreateProfile failed: %v", err)
	}

	if err := svc.DeactivateProfile(ctx, profile.ID); err != nil {
		t.Fatalf("DeactivateProfile failed: %v", err)
	}

	active, err := svc.ListProfiles(ctx, "PAGOS", true)
	if err != nil {
		t.Fatalf("ListProfiles failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active profiles, got %d", len(active))
	}

	all, _ := svc.ListProfiles(ctx, "PAGOS", false)
	if len(all) != 1 {
		t.Errorf("expected the deactivated profile in the full list, got %d", len(all))
	}
}
