package repository

import (
	stderrors "errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
)

// Storage-level conflicts. The service layer translates these into its own
// error taxonomy.
var (
	// ErrConcurrentUpdate means a conditional update matched zero rows because
	// another writer changed the row first.
	ErrConcurrentUpdate = errors.New(errors.ErrCodeAborted, "row changed concurrently")

	// ErrActiveApproverExists means the department already has an active approver.
	ErrActiveApproverExists = errors.New(errors.ErrCodeAlreadyExists, "department already has an active approver")

	// ErrDuplicateUsername means the username or email is taken.
	ErrDuplicateUsername = errors.New(errors.ErrCodeAlreadyExists, "username or email already exists")
)

const pgUniqueViolation = "23505"

// uniqueViolation reports whether err is a Postgres unique violation on the
// named constraint (any constraint when name is empty).
func uniqueViolation(err error, name string) bool {
	var pgErr *pgconn.PgError
	if !stderrors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation && (name == "" || pgErr.ConstraintName == name)
}
