package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-request-workflow/internal/platform/database"
	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
)

// DocumentApprovalRepository appends and reads the document action log.
// Rows are never updated or deleted except by document cascade.
type DocumentApprovalRepository struct {
	db *database.DB
}

// NewDocumentApprovalRepository creates a new DocumentApprovalRepository.
func NewDocumentApprovalRepository(db *database.DB) *DocumentApprovalRepository {
	return &DocumentApprovalRepository{db: db}
}

// AppendDocumentApproval inserts one log entry.
func (r *DocumentApprovalRepository) AppendDocumentApproval(ctx context.Context, a *DocumentApproval) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, a.DocumentID).Scan(&exists); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to check document")
		}
		if !exists {
			return errors.NotFound("document", a.DocumentID)
		}
		return insertDocumentApproval(ctx, tx, a)
	})
}

// ListDocumentApprovals returns the log of a document oldest-first.
func (r *DocumentApprovalRepository) ListDocumentApprovals(ctx context.Context, documentID int64) ([]*DocumentApproval, error) {
	query := `
		SELECT id, document_id, approver_id, action, comments, created_at
		FROM approvals
		WHERE document_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list document approvals")
	}
	defer rows.Close()

	var out []*DocumentApproval
	for rows.Next() {
		a := &DocumentApproval{}
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.ApproverID, &a.Action, &a.Comments, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan document approval")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func insertDocumentApproval(ctx context.Context, tx pgx.Tx, a *DocumentApproval) error {
	query := `
		INSERT INTO approvals (document_id, approver_id, action, comments)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, query, a.DocumentID, a.ApproverID, a.Action, a.Comments).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append document approval")
	}
	return nil
}
