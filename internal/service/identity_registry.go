package service

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

// NewUser is the input for user provisioning.
type NewUser struct {
	Username   string
	Email      string
	Password   string
	Role       repository.Role
	Department string
}

// IdentityRegistry owns users and department approver assignments.
type IdentityRegistry struct {
	users     UserStore
	approvers DepartmentApproverStore
	bindings  *BindingsResolver
	log       *logger.Logger
}

// NewIdentityRegistry creates a new IdentityRegistry. bindings may be nil;
// when set it is refreshed after every provisioned user.
func NewIdentityRegistry(users UserStore, approvers DepartmentApproverStore, bindings *BindingsResolver, log *logger.Logger) *IdentityRegistry {
	return &IdentityRegistry{
		users:     users,
		approvers: approvers,
		bindings:  bindings,
		log:       log,
	}
}

// ── Users ─────────────────────────────────────────────────────────────────────

// CreateUser provisions an account on behalf of an admin.
func (r *IdentityRegistry) CreateUser(ctx context.Context, actorID int64, in NewUser) (*repository.User, error) {
	if _, err := r.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return r.ProvisionUser(ctx, in)
}

// ProvisionUser creates an account without an actor check. Used by seeding.
func (r *IdentityRegistry) ProvisionUser(ctx context.Context, in NewUser) (*repository.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Role == "" {
		in.Role = repository.RoleUser
	}
	switch {
	case in.Username == "":
		return nil, errors.InvalidInput("username", "username is required")
	case in.Email == "":
		return nil, errors.InvalidInput("email", "email is required")
	case len(in.Password) < 6:
		return nil, errors.InvalidInput("password", "password must be at least 6 characters")
	case !in.Role.Valid():
		return nil, errors.InvalidInput("role", "role must be admin, approver or user")
	}
	in.Department = strings.TrimSpace(in.Department)
	for _, c := range []struct {
		field, value string
		max          int
	}{
		{"username", in.Username, maxUsernameLen},
		{"email", in.Email, maxEmailLen},
		{"department", in.Department, maxDepartmentLen},
	} {
		if err := checkLength(c.field, c.value, c.max); err != nil {
			return nil, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to hash password")
	}

	u := &repository.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         in.Role,
		Department:   in.Department,
		IsActive:     true,
	}
	if err := r.users.CreateUser(ctx, u); err != nil {
		return nil, translate(err)
	}

	r.log.Info().
		Int64("user_id", u.ID).
		Str("username", u.Username).
		Str("role", string(u.Role)).
		Msg("User provisioned")

	if r.bindings != nil {
		if _, err := r.bindings.Refresh(ctx); err != nil {
			r.log.Warn().Err(err).Msg("Failed to refresh role bindings")
		}
	}
	return u, nil
}

// Authenticate verifies a username and password.
func (r *IdentityRegistry) Authenticate(ctx context.Context, username, password string) (*repository.User, error) {
	u, err := r.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeNotFound {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetUser returns a user by id.
func (r *IdentityRegistry) GetUser(ctx context.Context, id int64) (*repository.User, error) {
	return r.users.GetUser(ctx, id)
}

// ListUsers returns every account. Admin only.
func (r *IdentityRegistry) ListUsers(ctx context.Context, actorID int64) ([]*repository.User, error) {
	if _, err := r.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return r.users.ListUsers(ctx)
}

// ── Department approvers ──────────────────────────────────────────────────────

// AssignDepartmentApprover makes approverID the active approver of a
// department. Fails with ErrDuplicateApprover when one is already active.
func (r *IdentityRegistry) AssignDepartmentApprover(ctx context.Context, actorID int64, department string, approverID int64) (*repository.DepartmentApprover, error) {
	if _, err := r.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return r.assign(ctx, department, approverID)
}

// ProvisionDepartmentApprover assigns without an actor check. Used by seeding.
func (r *IdentityRegistry) ProvisionDepartmentApprover(ctx context.Context, department string, approverID int64) (*repository.DepartmentApprover, error) {
	return r.assign(ctx, department, approverID)
}

func (r *IdentityRegistry) assign(ctx context.Context, department string, approverID int64) (*repository.DepartmentApprover, error) {
	department = strings.TrimSpace(department)
	if department == "" {
		return nil, errors.InvalidInput("department", "department is required")
	}
	if err := checkLength("department", department, maxDepartmentLen); err != nil {
		return nil, err
	}

	approver, err := r.users.GetUser(ctx, approverID)
	if err != nil {
		return nil, err
	}
	if !approver.IsActive {
		return nil, errors.InvalidInput("approver_id", "approver account is inactive")
	}

	da := &repository.DepartmentApprover{Department: department, ApproverID: approverID}
	if err := r.approvers.CreateDepartmentApprover(ctx, da); err != nil {
		return nil, translate(err)
	}

	r.log.Info().
		Str("department", department).
		Int64("approver_id", approverID).
		Msg("Department approver assigned")
	return da, nil
}

// DeactivateDepartmentApprover soft-deletes an assignment. Admin only.
func (r *IdentityRegistry) DeactivateDepartmentApprover(ctx context.Context, actorID, id int64) error {
	if _, err := r.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	if err := r.approvers.DeactivateDepartmentApprover(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	r.log.Info().Int64("department_approver_id", id).Msg("Department approver deactivated")
	return nil
}

// ListDepartmentApprovers returns assignments. Admin only.
func (r *IdentityRegistry) ListDepartmentApprovers(ctx context.Context, actorID int64, activeOnly bool) ([]*repository.DepartmentApprover, error) {
	if _, err := r.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return r.approvers.ListDepartmentApprovers(ctx, activeOnly)
}

// FindActiveDepartmentApprover returns the active assignment of a department, or nil.
func (r *IdentityRegistry) FindActiveDepartmentApprover(ctx context.Context, department string) (*repository.DepartmentApprover, error) {
	return r.approvers.FindActiveDepartmentApprover(ctx, department)
}

func (r *IdentityRegistry) requireAdmin(ctx context.Context, actorID int64) (*repository.User, error) {
	actor, err := r.users.GetUser(ctx, actorID)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeNotFound {
			return nil, errors.Detail(ErrNotAuthorized, "unknown actor %d", actorID)
		}
		return nil, err
	}
	if actor.Role != repository.RoleAdmin || !actor.IsActive {
		return nil, errors.Detail(ErrNotAuthorized, "admin role required")
	}
	return actor, nil
}
