package service

import (
	"context"
	"sync/atomic"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

// RoleBindings names the well-known accounts the workflow routes to.
// A zero GeneralApproverID means the binding is missing.
type RoleBindings struct {
	GeneralApproverID int64
	// AdminPool is ordered by id ascending; the first entry is the admin
	// assigned to new requests and documents.
	AdminPool []int64
}

// Current lets a fixed RoleBindings value act as a BindingsSource.
func (b RoleBindings) Current() RoleBindings { return b }

// IsGeneralApprover reports whether userID is the bound general approver.
func (b RoleBindings) IsGeneralApprover(userID int64) bool {
	return b.GeneralApproverID != 0 && b.GeneralApproverID == userID
}

// PrimaryAdmin returns the first admin of the pool.
func (b RoleBindings) PrimaryAdmin() (int64, bool) {
	if len(b.AdminPool) == 0 {
		return 0, false
	}
	return b.AdminPool[0], true
}

// BindingsSource supplies the role bindings in effect.
type BindingsSource interface {
	Current() RoleBindings
}

// BindingsResolver resolves RoleBindings from the user store and keeps the
// last resolution. Refresh is called at startup and after user provisioning.
type BindingsResolver struct {
	users           UserStore
	generalUsername string
	current         atomic.Pointer[RoleBindings]
	log             *logger.Logger
}

// NewBindingsResolver creates a resolver binding the general approver by username.
func NewBindingsResolver(users UserStore, generalUsername string, log *logger.Logger) *BindingsResolver {
	r := &BindingsResolver{users: users, generalUsername: generalUsername, log: log}
	r.current.Store(&RoleBindings{})
	return r
}

// Current returns the last resolved bindings.
func (r *BindingsResolver) Current() RoleBindings {
	return *r.current.Load()
}

// Refresh re-reads the general approver and the admin pool.
func (r *BindingsResolver) Refresh(ctx context.Context) (RoleBindings, error) {
	var b RoleBindings

	general, err := r.users.GetUserByUsername(ctx, r.generalUsername)
	switch {
	case err == nil && general.IsActive:
		b.GeneralApproverID = general.ID
	case err == nil:
		r.log.Warn().Str("username", r.generalUsername).Msg("General approver account is inactive")
	case errors.CodeOf(err) == errors.ErrCodeNotFound:
		r.log.Warn().Str("username", r.generalUsername).Msg("General approver account not found")
	default:
		return RoleBindings{}, err
	}

	admins, err := r.users.ListUsersByRole(ctx, repository.RoleAdmin)
	if err != nil {
		return RoleBindings{}, err
	}
	for _, a := range admins {
		b.AdminPool = append(b.AdminPool, a.ID)
	}
	if len(b.AdminPool) == 0 {
		r.log.Warn().Msg("No admin accounts found")
	}

	r.current.Store(&b)
	r.log.Info().
		Int64("general_approver_id", b.GeneralApproverID).
		Int("admins", len(b.AdminPool)).
		Msg("Role bindings resolved")
	return b, nil
}
