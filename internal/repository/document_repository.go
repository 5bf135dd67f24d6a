package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-request-workflow/internal/platform/database"
	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
)

// DocumentRepository handles documents and their workflow steps.
type DocumentRepository struct {
	db *database.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *database.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, title, description, filename, category, priority, status,
	submitter_id, created_at, updated_at`

const stepColumns = `id, document_id, step_order, approver_id, status, comments, created_at, completed_at`

// CreateDocument inserts a document with its steps in one transaction.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *Document, steps []*WorkflowStep) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO documents (title, description, filename, category, priority, status, submitter_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, query,
			doc.Title,
			doc.Description,
			doc.Filename,
			doc.Category,
			doc.Priority,
			doc.Status,
			doc.SubmitterID,
		).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create document")
		}

		stepQuery := `
			INSERT INTO workflow_steps (document_id, step_order, approver_id, status)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`

		for _, step := range steps {
			step.DocumentID = doc.ID
			err := tx.QueryRow(ctx, stepQuery,
				step.DocumentID,
				step.StepOrder,
				step.ApproverID,
				step.Status,
			).Scan(&step.ID, &step.CreatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create workflow step")
			}
		}

		return nil
	})
}

// GetDocument retrieves a document by its primary key.
func (r *DocumentRepository) GetDocument(ctx context.Context, id int64) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	doc, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get document")
	}
	return doc, nil
}

// ListDocuments returns documents newest first. With filter.VisibleTo set only
// documents submitted by, or with a step assigned to, that user are returned.
func (r *DocumentRepository) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if filter.VisibleTo != nil {
		query += `
			WHERE submitter_id = $1
			   OR EXISTS (SELECT 1 FROM workflow_steps s WHERE s.document_id = documents.id AND s.approver_id = $1)`
		args = append(args, *filter.VisibleTo)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list documents")
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan document")
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// ListSteps returns the steps of a document ordered by step_order.
func (r *DocumentRepository) ListSteps(ctx context.Context, documentID int64) ([]*WorkflowStep, error) {
	return listSteps(ctx, r.db, documentID)
}

// FindPendingStep returns the lowest-ordered pending step of a document
// assigned to approverID. Returns nil (no error) when there is none.
func (r *DocumentRepository) FindPendingStep(ctx context.Context, documentID, approverID int64) (*WorkflowStep, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM workflow_steps
		WHERE document_id = $1 AND approver_id = $2 AND status = 'pending'
		ORDER BY step_order ASC
		LIMIT 1
	`

	step, err := scanStep(r.db.QueryRow(ctx, query, documentID, approverID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find pending step")
	}
	return step, nil
}

// CloseStep closes one pending step, logs the action and sets the document
// status to whatever resolve derives from the updated step list. Returns
// ErrConcurrentUpdate when the step or the document is no longer pending.
func (r *DocumentRepository) CloseStep(ctx context.Context, d *StepDecision, resolve func([]*WorkflowStep) DocumentStatus) (*Document, error) {
	var doc *Document

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		lockQuery := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 FOR UPDATE`
		current, err := scanDocument(tx.QueryRow(ctx, lockQuery, d.DocumentID))
		if err == pgx.ErrNoRows {
			return errors.NotFound("document", d.DocumentID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock document")
		}
		if current.Status != DocumentPending {
			return ErrConcurrentUpdate
		}

		stepQuery := `
			UPDATE workflow_steps
			SET status = $3, comments = $4, completed_at = $5
			WHERE id = $1 AND document_id = $2 AND status = 'pending'
		`
		tag, err := tx.Exec(ctx, stepQuery, d.StepID, d.DocumentID, d.Status, d.Comments, d.At)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to close workflow step")
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentUpdate
		}

		if err := insertDocumentApproval(ctx, tx, &DocumentApproval{
			DocumentID: d.DocumentID,
			ApproverID: d.ActorID,
			Action:     d.Action,
			Comments:   d.Comments,
		}); err != nil {
			return err
		}

		steps, err := listSteps(ctx, tx, d.DocumentID)
		if err != nil {
			return err
		}

		next := resolve(steps)
		if next != current.Status {
			current.Status = next
			current.UpdatedAt = d.At
			_, err := tx.Exec(ctx, `UPDATE documents SET status = $2, updated_at = $3 WHERE id = $1`,
				d.DocumentID, next, d.At)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to update document status")
			}
		}
		doc = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateDocumentStatus moves a document from one status to another. Returns
// ErrConcurrentUpdate when the document is no longer in from.
func (r *DocumentRepository) UpdateDocumentStatus(ctx context.Context, id int64, from, to DocumentStatus, at time.Time) (*Document, error) {
	query := `
		UPDATE documents
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING ` + documentColumns

	doc, err := scanDocument(r.db.QueryRow(ctx, query, id, from, to, at))
	if err == pgx.ErrNoRows {
		if _, getErr := r.GetDocument(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrConcurrentUpdate
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to update document status")
	}
	return doc, nil
}

// UpdateDocument rewrites the editable fields of a document: title,
// description, category and priority.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *Document, at time.Time) (*Document, error) {
	query := `
		UPDATE documents
		SET title = $2, description = $3, category = $4, priority = $5, updated_at = $6
		WHERE id = $1
		RETURNING ` + documentColumns

	updated, err := scanDocument(r.db.QueryRow(ctx, query,
		doc.ID, doc.Title, doc.Description, doc.Category, doc.Priority, at,
	))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("document", doc.ID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to update document")
	}
	return updated, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listSteps(ctx context.Context, q querier, documentID int64) ([]*WorkflowStep, error) {
	query := `SELECT ` + stepColumns + ` FROM workflow_steps WHERE document_id = $1 ORDER BY step_order ASC`

	rows, err := q.Query(ctx, query, documentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow steps")
	}
	defer rows.Close()

	var steps []*WorkflowStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow step")
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanDocument(row rowScanner) (*Document, error) {
	doc := &Document{}
	err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Description,
		&doc.Filename,
		&doc.Category,
		&doc.Priority,
		&doc.Status,
		&doc.SubmitterID,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func scanStep(row rowScanner) (*WorkflowStep, error) {
	s := &WorkflowStep{}
	err := row.Scan(
		&s.ID,
		&s.DocumentID,
		&s.StepOrder,
		&s.ApproverID,
		&s.Status,
		&s.Comments,
		&s.CreatedAt,
		&s.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
