package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-request-workflow/internal/platform/database"
	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
)

// FlowRepository reads and reconciles the per-request flow projection.
// Rows created together with a request are written by RequestRepository.
type FlowRepository struct {
	db *database.DB
}

// NewFlowRepository creates a new FlowRepository.
func NewFlowRepository(db *database.DB) *FlowRepository {
	return &FlowRepository{db: db}
}

// ListFlow returns the flow rows of a request ordered by step_number.
func (r *FlowRepository) ListFlow(ctx context.Context, requestID int64) ([]*FlowStep, error) {
	query := `
		SELECT id, request_id, step_number, step_name, approval_level,
		       user_id, username, role, department, status,
		       created_at, updated_at
		FROM workflow_flow_display
		WHERE request_id = $1
		ORDER BY step_number ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list flow steps")
	}
	defer rows.Close()

	var steps []*FlowStep
	for rows.Next() {
		s, err := scanFlowStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan flow step")
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// UpsertFlowStep inserts the row keyed by (request_id, step_number) or
// reconciles its status when it already exists. Reports whether a row was
// inserted.
func (r *FlowRepository) UpsertFlowStep(ctx context.Context, step *FlowStep) (bool, error) {
	var inserted bool
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		inserted, err = upsertFlowStep(ctx, tx, step)
		return err
	})
	return inserted, err
}

func upsertFlowStep(ctx context.Context, tx pgx.Tx, step *FlowStep) (bool, error) {
	// xmax is zero only for a freshly inserted tuple.
	query := `
		INSERT INTO workflow_flow_display
		    (request_id, step_number, step_name, approval_level,
		     user_id, username, role, department, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id, step_number) DO UPDATE
		SET status     = EXCLUDED.status,
		    updated_at = CASE
		        WHEN workflow_flow_display.status = EXCLUDED.status THEN workflow_flow_display.updated_at
		        ELSE NOW()
		    END
		RETURNING id, created_at, updated_at, (xmax = 0)
	`

	var inserted bool
	err := tx.QueryRow(ctx, query,
		step.RequestID,
		step.StepNumber,
		step.StepName,
		step.Level,
		step.AssignedUserID,
		step.AssignedUsername,
		step.Role,
		step.Department,
		step.Status,
	).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt, &inserted)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert flow step")
	}
	return inserted, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func scanFlowStep(row rowScanner) (*FlowStep, error) {
	s := &FlowStep{}
	err := row.Scan(
		&s.ID,
		&s.RequestID,
		&s.StepNumber,
		&s.StepName,
		&s.Level,
		&s.AssignedUserID,
		&s.AssignedUsername,
		&s.Role,
		&s.Department,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
