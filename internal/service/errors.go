package service

import (
	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

// Workflow error taxonomy. Call sites decorate these with errors.Detail so
// errors.Is keeps matching.
var (
	// ErrNotAuthorized: the actor may not perform this action at this stage.
	ErrNotAuthorized = errors.New(errors.ErrCodeForbidden, "not authorized")

	// ErrNoApproverAssigned: the department has no active approver.
	ErrNoApproverAssigned = errors.New(errors.ErrCodeFailedPrecondition, "no approver assigned")

	// ErrConfiguration: a well-known role binding is missing.
	ErrConfiguration = errors.New(errors.ErrCodeInvalidConfig, "workflow configuration error")

	// ErrWorkflowAlreadyClosed: the targeted stage or the whole workflow is closed.
	ErrWorkflowAlreadyClosed = errors.New(errors.ErrCodeConflict, "workflow already closed")

	// ErrStaleState: lost a race on a conditional update; re-read and retry.
	ErrStaleState = errors.New(errors.ErrCodeAborted, "stale state")

	// ErrDuplicateApprover: the department already has an active approver.
	ErrDuplicateApprover = errors.New(errors.ErrCodeAlreadyExists, "duplicate department approver")

	// ErrInvalidCredentials: login failed.
	ErrInvalidCredentials = errors.New(errors.ErrCodeUnauthorized, "invalid username or password")
)

// translate maps storage conflicts onto the workflow taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrConcurrentUpdate):
		return errors.Detail(ErrStaleState, "record changed concurrently; retry")
	case errors.Is(err, repository.ErrActiveApproverExists):
		return errors.Detail(ErrDuplicateApprover, "department already has an active approver")
	case errors.Is(err, repository.ErrDuplicateUsername):
		return errors.New(errors.ErrCodeAlreadyExists, "username or email already exists")
	default:
		return err
	}
}
