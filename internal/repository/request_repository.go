package repository

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-request-workflow/internal/platform/database"
	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
)

// RequestRepository manages requests, their approval history and the flow
// projection rows that change with them. Creation and every transition are
// done in a single transaction.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `id, title, message, department, status, priority, submitter_id,
	department_approver_id, admin_approver_id, created_at, updated_at`

const approvalColumns = `id, request_id, approver_id, approval_level, action, comments,
	acted_by, acted_at, created_at`

// CreateRequest inserts a request with its approval placeholders and flow rows
// in one transaction. Nothing is written if any insert fails.
func (r *RequestRepository) CreateRequest(ctx context.Context, req *Request, approvals []*RequestApproval, flow []*FlowStep) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		reqQuery := `
			INSERT INTO requests
			    (title, message, department, status, priority, submitter_id,
			     department_approver_id, admin_approver_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, reqQuery,
			req.Title,
			req.Message,
			req.Department,
			req.Status,
			req.Priority,
			req.SubmitterID,
			req.DepartmentApproverID,
			req.AdminApproverID,
		).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create request")
		}

		for _, a := range approvals {
			a.RequestID = req.ID
			if err := insertApproval(ctx, tx, a); err != nil {
				return err
			}
		}

		for _, step := range flow {
			step.RequestID = req.ID
			if _, err := upsertFlowStep(ctx, tx, step); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetRequest retrieves a request by its primary key.
func (r *RequestRepository) GetRequest(ctx context.Context, id int64) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get request")
	}
	return req, nil
}

// ListRequests returns requests matching filter, newest first.
func (r *RequestRepository) ListRequests(ctx context.Context, filter RequestFilter) ([]*Request, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Status != nil {
		where = append(where, "status = "+arg(*filter.Status))
	}
	if filter.SubmitterID != nil {
		where = append(where, "submitter_id = "+arg(*filter.SubmitterID))
	}
	if len(filter.Departments) > 0 || filter.DepartmentApproverID != nil {
		var or []string
		if len(filter.Departments) > 0 {
			or = append(or, "department = ANY("+arg(filter.Departments)+")")
		}
		if filter.DepartmentApproverID != nil {
			or = append(or, "department_approver_id = "+arg(*filter.DepartmentApproverID))
		}
		where = append(where, "("+strings.Join(or, " OR ")+")")
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list requests")
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request")
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ListApprovals returns the approval history of a request in insertion order.
func (r *RequestRepository) ListApprovals(ctx context.Context, requestID int64) ([]*RequestApproval, error) {
	query := `SELECT ` + approvalColumns + ` FROM request_approvals WHERE request_id = $1 ORDER BY id ASC`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approvals")
	}
	defer rows.Close()

	var out []*RequestApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppendApproval inserts a write-once approval row (comments, overrides).
func (r *RequestRepository) AppendApproval(ctx context.Context, a *RequestApproval) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)`, a.RequestID).Scan(&exists); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to check request")
		}
		if !exists {
			return errors.NotFound("request", a.RequestID)
		}
		if err := insertApproval(ctx, tx, a); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE requests SET updated_at = NOW() WHERE id = $1`, a.RequestID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to touch request")
		}
		return nil
	})
}

// ApplyTransition moves a request from t.FromStatus to t.ToStatus, closes the
// stage's approval row and patches the flow projection, all in one
// transaction. Returns ErrConcurrentUpdate when the request is no longer in
// t.FromStatus.
func (r *RequestRepository) ApplyTransition(ctx context.Context, t *Transition) (*Request, error) {
	var updated *Request

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		reqQuery := `
			UPDATE requests
			SET status                 = $3,
			    department_approver_id = COALESCE($4, department_approver_id),
			    admin_approver_id      = COALESCE($5, admin_approver_id),
			    updated_at             = $6
			WHERE id = $1 AND status = $2
			RETURNING ` + requestColumns

		req, err := scanRequest(tx.QueryRow(ctx, reqQuery,
			t.RequestID,
			t.FromStatus,
			t.ToStatus,
			t.DepartmentApproverID,
			t.AdminApproverID,
			t.At,
		))
		if err == pgx.ErrNoRows {
			return r.missingOrStale(ctx, tx, t.RequestID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update request status")
		}
		updated = req

		closeQuery := `
			UPDATE request_approvals
			SET action   = $3,
			    comments = $4,
			    acted_by = $5,
			    acted_at = $6
			WHERE id = (
				SELECT id FROM request_approvals
				WHERE request_id = $1 AND approval_level = $2 AND action = 'pending'
				ORDER BY id ASC
				LIMIT 1
			)
		`
		tag, err := tx.Exec(ctx, closeQuery, t.RequestID, t.Level, t.Action, t.Comments, t.ActorID, t.At)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to close approval")
		}
		if tag.RowsAffected() == 0 {
			actor, at := t.ActorID, t.At
			if err := insertApproval(ctx, tx, &RequestApproval{
				RequestID:     t.RequestID,
				ApproverID:    t.ActorID,
				ApprovalLevel: t.Level,
				Action:        t.Action,
				Comments:      t.Comments,
				ActedBy:       &actor,
				ActedAt:       &at,
			}); err != nil {
				return err
			}
		}

		flowQuery := `
			UPDATE workflow_flow_display
			SET status = $3, updated_at = $4
			WHERE id = (
				SELECT id FROM workflow_flow_display
				WHERE request_id = $1 AND approval_level = $2 AND status = 'pending'
				ORDER BY step_number ASC
				LIMIT 1
			)
		`
		if _, err := tx.Exec(ctx, flowQuery, t.RequestID, t.Level, t.FlowStatus, t.At); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update flow step")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRequest removes a request; approvals and flow rows cascade.
func (r *RequestRepository) DeleteRequest(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM requests WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete request")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("request", id)
	}
	return nil
}

func (r *RequestRepository) missingOrStale(ctx context.Context, tx pgx.Tx, id int64) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to check request")
	}
	if !exists {
		return errors.NotFound("request", id)
	}
	return ErrConcurrentUpdate
}

func insertApproval(ctx context.Context, tx pgx.Tx, a *RequestApproval) error {
	query := `
		INSERT INTO request_approvals
		    (request_id, approver_id, approval_level, action, comments, acted_by, acted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, query,
		a.RequestID,
		a.ApproverID,
		a.ApprovalLevel,
		a.Action,
		a.Comments,
		a.ActedBy,
		a.ActedAt,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanRequest(row rowScanner) (*Request, error) {
	req := &Request{}
	err := row.Scan(
		&req.ID,
		&req.Title,
		&req.Message,
		&req.Department,
		&req.Status,
		&req.Priority,
		&req.SubmitterID,
		&req.DepartmentApproverID,
		&req.AdminApproverID,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func scanApproval(row rowScanner) (*RequestApproval, error) {
	a := &RequestApproval{}
	err := row.Scan(
		&a.ID,
		&a.RequestID,
		&a.ApproverID,
		&a.ApprovalLevel,
		&a.Action,
		&a.Comments,
		&a.ActedBy,
		&a.ActedAt,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
