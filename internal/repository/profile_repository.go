package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medipagos/be-payment-orders/internal/database"
	"github.com/medipagos/be-payment-orders/internal/errors"
)

// uniqueViolation is the PostgreSQL error code for unique index violations.
const uniqueViolation = "23505"

// ProfileRepository handles administrative CRUD for approval profiles and
// their user mappings.
type ProfileRepository struct {
	db *database.DB
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(db *database.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Create inserts a new profile. A duplicate orden within the workflow group
// violates the (workflow_group, orden) unique index and is reported as a
// conflict; the total order is never re-validated at approval time.
func (r *ProfileRepository) Create(ctx context.Context, p *ApprovalProfile) error {
	query := `
		INSERT INTO approval_profiles
		    (workflow_group, code, description, level, orden, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.WorkflowGroup,
		p.Code,
		p.Description,
		p.Level,
		p.Orden,
		p.Active,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Newf(errors.ErrCodeConflict,
			"orden %d is already used in workflow group '%s'", p.Orden, p.WorkflowGroup)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval profile")
	}
	return nil
}

// GetByID retrieves one profile.
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*ApprovalProfile, error) {
	query := `
		SELECT id, workflow_group, code, description, level, orden, active,
		       created_at, updated_at
		FROM approval_profiles
		WHERE id = $1`

	p := &ApprovalProfile{}
	err := r.db.QueryRow(ctx, query, id).Scan(
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
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("approval_profile", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval profile")
	}
	return p, nil
}

// ListByGroup returns a workflow group's profiles sorted by orden, optionally
// active only.
func (r *ProfileRepository) ListByGroup(ctx context.Context, group string, activeOnly bool) ([]*ApprovalProfile, error) {
	query := `
		SELECT id, workflow_group, code, description, level, orden, active,
		       created_at, updated_at
		FROM approval_profiles
		WHERE workflow_group = $1`
	if activeOnly {
		query += " AND active = TRUE"
	}
	query += " ORDER BY orden ASC"

	rows, err := r.db.Query(ctx, query, group)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval profiles")
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

// Update persists changes to a profile. Orden changes are validated against
// the same unique index as creation.
func (r *ProfileRepository) Update(ctx context.Context, p *ApprovalProfile) error {
	query := `
		UPDATE approval_profiles
		SET code        = $2,
		    description = $3,
		    level       = $4,
		    orden       = $5,
		    active      = $6,
		    updated_at  = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		p.ID,
		p.Code,
		p.Description,
		p.Level,
		p.Orden,
		p.Active,
	).Scan(&p.UpdatedAt)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Newf(errors.ErrCodeConflict,
			"orden %d is already used in workflow group '%s'", p.Orden, p.WorkflowGroup)
	}
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("approval_profile", p.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval profile")
	}
	return nil
}

// Deactivate soft-disables a profile so it no longer appears in resolved
// chains. Existing chain rows keep referencing it.
func (r *ProfileRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE approval_profiles
		SET active = FALSE, updated_at = NOW()
		WHERE id = $1
		RETURNING id`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("approval_profile", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to deactivate approval profile")
	}
	return nil
}

// AssignUser maps a user to a profile, optionally scoped to one site.
func (r *ProfileRepository) AssignUser(ctx context.Context, m *ApprovalProfileUser) error {
	query := `
		INSERT INTO approval_profile_users (profile_id, user_id, site_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		m.ProfileID,
		m.UserID,
		m.SiteID,
	).Scan(&m.ID, &m.CreatedAt)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Newf(errors.ErrCodeConflict,
			"user '%s' is already assigned to this profile", m.UserID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to assign profile user")
	}
	return nil
}

// RemoveUser deletes a profile-user mapping.
func (r *ProfileRepository) RemoveUser(ctx context.Context, profileID, userID string) error {
	query := `
		DELETE FROM approval_profile_users
		WHERE profile_id = $1 AND user_id = $2`

	tag, err := r.db.Exec(ctx, query, profileID, userID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to remove profile user")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_profile_user", userID)
	}
	return nil
}

// ListUsers returns all user mappings for a profile.
func (r *ProfileRepository) ListUsers(ctx context.Context, profileID string) ([]*ApprovalProfileUser, error) {
	query := `
		SELECT id, profile_id, user_id, site_id, created_at
		FROM approval_profile_users
		WHERE profile_id = $1
		ORDER BY user_id`

	rows, err := r.db.Query(ctx, query, profileID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list profile users")
	}
	defer rows.Close()

	users := make([]*ApprovalProfileUser, 0)
	for rows.Next() {
		m := &ApprovalProfileUser{}
		if err := rows.Scan(&m.ID, &m.ProfileID, &m.UserID, &m.SiteID, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan profile user")
		}
		users = append(users, m)
	}
	return users, nil
}
