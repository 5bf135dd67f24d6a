package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-request-workflow/internal/platform/database"
	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
)

const activeApproverIndex = "department_approvers_one_active"

// DepartmentApproverRepository handles department → approver assignments.
type DepartmentApproverRepository struct {
	db *database.DB
}

// NewDepartmentApproverRepository creates a new DepartmentApproverRepository.
func NewDepartmentApproverRepository(db *database.DB) *DepartmentApproverRepository {
	return &DepartmentApproverRepository{db: db}
}

// CreateDepartmentApprover inserts an active assignment. The partial unique
// index on active rows makes check-and-insert atomic; a second active row for
// the same department yields ErrActiveApproverExists.
func (r *DepartmentApproverRepository) CreateDepartmentApprover(ctx context.Context, da *DepartmentApprover) error {
	query := `
		INSERT INTO department_approvers (department, approver_id, is_active)
		VALUES ($1, $2, TRUE)
		RETURNING id, is_active, created_at
	`

	err := r.db.QueryRow(ctx, query, da.Department, da.ApproverID).
		Scan(&da.ID, &da.IsActive, &da.CreatedAt)
	if uniqueViolation(err, activeApproverIndex) {
		return ErrActiveApproverExists
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create department approver")
	}
	return nil
}

// GetDepartmentApprover retrieves an assignment by primary key.
func (r *DepartmentApproverRepository) GetDepartmentApprover(ctx context.Context, id int64) (*DepartmentApprover, error) {
	query := `
		SELECT id, department, approver_id, is_active, created_at, deactivated_at
		FROM department_approvers
		WHERE id = $1
	`

	da, err := scanDepartmentApprover(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("department_approver", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get department approver")
	}
	return da, nil
}

// FindActiveDepartmentApprover returns the active assignment for a department.
// Returns nil (no error) when none is active.
func (r *DepartmentApproverRepository) FindActiveDepartmentApprover(ctx context.Context, department string) (*DepartmentApprover, error) {
	query := `
		SELECT id, department, approver_id, is_active, created_at, deactivated_at
		FROM department_approvers
		WHERE department = $1 AND is_active
	`

	da, err := scanDepartmentApprover(r.db.QueryRow(ctx, query, department))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find department approver")
	}
	return da, nil
}

// ListDepartmentApprovers returns assignments ordered by department, optionally
// only the active ones.
func (r *DepartmentApproverRepository) ListDepartmentApprovers(ctx context.Context, activeOnly bool) ([]*DepartmentApprover, error) {
	query := `
		SELECT id, department, approver_id, is_active, created_at, deactivated_at
		FROM department_approvers
	`
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY department ASC, id ASC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list department approvers")
	}
	defer rows.Close()

	var out []*DepartmentApprover
	for rows.Next() {
		da, err := scanDepartmentApprover(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan department approver")
		}
		out = append(out, da)
	}
	return out, rows.Err()
}

// ListActiveDepartmentsForApprover returns the departments a user currently approves for.
func (r *DepartmentApproverRepository) ListActiveDepartmentsForApprover(ctx context.Context, approverID int64) ([]string, error) {
	query := `
		SELECT department
		FROM department_approvers
		WHERE approver_id = $1 AND is_active
		ORDER BY department ASC
	`

	rows, err := r.db.Query(ctx, query, approverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approver departments")
	}
	defer rows.Close()

	var departments []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan department")
		}
		departments = append(departments, d)
	}
	return departments, rows.Err()
}

// DeactivateDepartmentApprover soft-deletes an assignment. Deactivating an
// already inactive row is a no-op.
func (r *DepartmentApproverRepository) DeactivateDepartmentApprover(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE department_approvers
		SET is_active      = FALSE,
		    deactivated_at = COALESCE(deactivated_at, $2)
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to deactivate department approver")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("department_approver", id)
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func scanDepartmentApprover(row rowScanner) (*DepartmentApprover, error) {
	da := &DepartmentApprover{}
	err := row.Scan(
		&da.ID,
		&da.Department,
		&da.ApproverID,
		&da.IsActive,
		&da.CreatedAt,
		&da.DeactivatedAt,
	)
	if err != nil {
		return nil, err
	}
	return da, nil
}
