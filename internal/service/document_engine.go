package service

import (
	"context"
	"strings"
	"time"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

// documentApprovers is how many approver-role users precede the admin step.
const documentApprovers = 2

// DocumentEngine runs the fixed two-approvers-plus-admin document workflow.
type DocumentEngine struct {
	users     UserStore
	documents DocumentStore
	bindings  BindingsSource
	notifier  Notifier
	log       *logger.Logger
}

// NewDocumentEngine creates a new DocumentEngine. notifier may be nil.
func NewDocumentEngine(users UserStore, documents DocumentStore, bindings BindingsSource, notifier Notifier, log *logger.Logger) *DocumentEngine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &DocumentEngine{
		users:     users,
		documents: documents,
		bindings:  bindings,
		notifier:  notifier,
		log:       log,
	}
}

// DocumentDetail is a document with its steps and action log.
type DocumentDetail struct {
	Document  *repository.Document
	Steps     []*repository.WorkflowStep
	Approvals []*repository.DocumentApproval
}

// SubmitDocumentInput is the input of Submit.
type SubmitDocumentInput struct {
	Title       string
	Description string
	Category    string
	Priority    repository.Priority
	Filename    string
}

// Submit creates a document routed to the two lowest-id approvers and then
// the primary admin.
func (d *DocumentEngine) Submit(ctx context.Context, submitterID int64, in SubmitDocumentInput) (*DocumentDetail, error) {
	submitter, err := d.activeUser(ctx, submitterID)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}
	category := strings.TrimSpace(in.Category)
	filename := strings.TrimSpace(in.Filename)
	if err := checkDocumentFields(title, category); err != nil {
		return nil, err
	}
	if err := checkLength("filename", filename, maxFilenameLen); err != nil {
		return nil, err
	}
	priority, err := normalizePriority(in.Priority)
	if err != nil {
		return nil, err
	}

	approvers, err := d.users.ListUsersByRole(ctx, repository.RoleApprover)
	if err != nil {
		return nil, err
	}
	if len(approvers) < documentApprovers {
		return nil, errors.Detail(ErrConfiguration,
			"document workflow needs %d approver accounts, found %d", documentApprovers, len(approvers))
	}
	adminID, ok := d.bindings.Current().PrimaryAdmin()
	if !ok {
		return nil, errors.Detail(ErrConfiguration, "no admin account is configured")
	}

	doc := &repository.Document{
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Filename:    filename,
		Category:    category,
		Priority:    priority,
		Status:      repository.DocumentPending,
		SubmitterID: submitter.ID,
	}

	steps := make([]*repository.WorkflowStep, 0, documentApprovers+1)
	for i := 0; i < documentApprovers; i++ {
		steps = append(steps, &repository.WorkflowStep{
			StepOrder:  i + 1,
			ApproverID: approvers[i].ID,
			Status:     repository.StepPending,
		})
	}
	steps = append(steps, &repository.WorkflowStep{
		StepOrder:  documentApprovers + 1,
		ApproverID: adminID,
		Status:     repository.StepPending,
	})

	if err := d.documents.CreateDocument(ctx, doc, steps); err != nil {
		return nil, err
	}

	d.log.Info().
		Int64("document_id", doc.ID).
		Int64("submitter_id", submitter.ID).
		Int("steps", len(steps)).
		Msg("Document submitted")

	recipients := make([]int64, 0, len(steps))
	for _, s := range steps {
		recipients = append(recipients, s.ApproverID)
	}
	d.notifier.Publish(ctx, WorkflowEvent{
		Type:         EventDocumentSubmitted,
		ResourceType: "document",
		ResourceID:   doc.ID,
		ActorID:      submitter.ID,
		Recipients:   recipients,
		Payload:      map[string]any{"title": doc.Title, "priority": string(doc.Priority)},
	})

	return &DocumentDetail{Document: doc, Steps: steps}, nil
}

// Approve closes the actor's pending step with approve or reject. After every
// close the document is rejected if any step is rejected and approved once no
// step is pending.
func (d *DocumentEngine) Approve(ctx context.Context, documentID, actorID int64, action repository.ApprovalAction, comments string) (*repository.Document, error) {
	var status repository.StepStatus
	switch action {
	case repository.ActionApprove:
		status = repository.StepApproved
	case repository.ActionReject:
		status = repository.StepRejected
	default:
		return nil, errors.InvalidInput("action", "action must be approve or reject")
	}

	doc, err := d.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status.Terminal() {
		return nil, errors.Detail(ErrWorkflowAlreadyClosed, "document %d is %s", doc.ID, doc.Status)
	}

	actor, err := d.activeUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	step, err := d.documents.FindPendingStep(ctx, doc.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	if step == nil {
		return nil, errors.Detail(ErrNotAuthorized, "user %d has no pending step on document %d", actor.ID, doc.ID)
	}

	updated, err := d.documents.CloseStep(ctx, &repository.StepDecision{
		DocumentID: doc.ID,
		StepID:     step.ID,
		ActorID:    actor.ID,
		Status:     status,
		Action:     action,
		Comments:   comments,
		At:         time.Now().UTC(),
	}, ResolveDocumentStatus)
	if err != nil {
		return nil, translate(err)
	}

	d.log.Info().
		Int64("document_id", doc.ID).
		Int64("actor_id", actor.ID).
		Int("step_order", step.StepOrder).
		Str("action", string(action)).
		Str("status", string(updated.Status)).
		Msg("Document step closed")

	switch updated.Status {
	case repository.DocumentApproved:
		d.publish(ctx, EventDocumentApproved, updated, actor.ID)
	case repository.DocumentRejected:
		d.publish(ctx, EventDocumentRejected, updated, actor.ID)
	}
	return updated, nil
}

// ResolveDocumentStatus derives a document's status from its steps.
func ResolveDocumentStatus(steps []*repository.WorkflowStep) repository.DocumentStatus {
	pending := 0
	for _, s := range steps {
		switch s.Status {
		case repository.StepRejected:
			return repository.DocumentRejected
		case repository.StepPending:
			pending++
		}
	}
	if pending == 0 {
		return repository.DocumentApproved
	}
	return repository.DocumentPending
}

// Comment appends a comment to the document log without closing any step.
func (d *DocumentEngine) Comment(ctx context.Context, documentID, actorID int64, comments string) (*repository.DocumentApproval, error) {
	if strings.TrimSpace(comments) == "" {
		return nil, errors.InvalidInput("comments", "comment text is required")
	}

	doc, actor, err := d.visibleDocument(ctx, documentID, actorID)
	if err != nil {
		return nil, err
	}
	if doc.Status == repository.DocumentArchived {
		return nil, errors.Detail(ErrWorkflowAlreadyClosed, "document %d is archived", doc.ID)
	}

	entry := &repository.DocumentApproval{
		DocumentID: doc.ID,
		ApproverID: actor.ID,
		Action:     repository.ActionComment,
		Comments:   comments,
	}
	if err := d.documents.AppendDocumentApproval(ctx, entry); err != nil {
		return nil, err
	}
	d.log.Info().Int64("document_id", doc.ID).Int64("actor_id", actor.ID).Msg("Document comment added")
	return entry, nil
}

// Archive moves any non-archived document to archived. Admin only.
func (d *DocumentEngine) Archive(ctx context.Context, documentID, actorID int64) (*repository.Document, error) {
	actor, err := d.activeUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != repository.RoleAdmin {
		return nil, errors.Detail(ErrNotAuthorized, "only admins may archive documents")
	}

	doc, err := d.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == repository.DocumentArchived {
		return nil, errors.Detail(ErrWorkflowAlreadyClosed, "document %d is already archived", doc.ID)
	}

	updated, err := d.documents.UpdateDocumentStatus(ctx, doc.ID, doc.Status, repository.DocumentArchived, time.Now().UTC())
	if err != nil {
		return nil, translate(err)
	}

	d.log.Info().Int64("document_id", doc.ID).Int64("actor_id", actor.ID).Msg("Document archived")
	d.publish(ctx, EventDocumentArchived, updated, actor.ID)
	return updated, nil
}

// EditDocumentInput is the input of Edit. Nil fields are left unchanged.
type EditDocumentInput struct {
	Title       *string
	Description *string
	Category    *string
	Priority    *repository.Priority
}

// Edit rewrites a document's title, description, category or priority.
// Admin only. Steps and status are untouched.
func (d *DocumentEngine) Edit(ctx context.Context, documentID, actorID int64, in EditDocumentInput) (*repository.Document, error) {
	actor, err := d.activeUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != repository.RoleAdmin {
		return nil, errors.Detail(ErrNotAuthorized, "only admins may edit documents")
	}

	doc, err := d.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if in.Title != nil {
		doc.Title = strings.TrimSpace(*in.Title)
		if doc.Title == "" {
			return nil, errors.InvalidInput("title", "title is required")
		}
	}
	if in.Description != nil {
		doc.Description = strings.TrimSpace(*in.Description)
	}
	if in.Category != nil {
		doc.Category = strings.TrimSpace(*in.Category)
	}
	if in.Priority != nil {
		if doc.Priority, err = normalizePriority(*in.Priority); err != nil {
			return nil, err
		}
	}
	if err := checkDocumentFields(doc.Title, doc.Category); err != nil {
		return nil, err
	}

	updated, err := d.documents.UpdateDocument(ctx, doc, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	d.log.Info().Int64("document_id", doc.ID).Int64("actor_id", actor.ID).Msg("Document edited")
	d.publish(ctx, EventDocumentUpdated, updated, actor.ID)
	return updated, nil
}

// Get returns a document with its steps and log. Visible to admins, the
// submitter and assigned approvers.
func (d *DocumentEngine) Get(ctx context.Context, documentID, actorID int64) (*DocumentDetail, error) {
	doc, _, err := d.visibleDocument(ctx, documentID, actorID)
	if err != nil {
		return nil, err
	}
	steps, err := d.documents.ListSteps(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	log, err := d.documents.ListDocumentApprovals(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return &DocumentDetail{Document: doc, Steps: steps, Approvals: log}, nil
}

// List returns all documents for admins, otherwise those the actor
// submitted or must approve.
func (d *DocumentEngine) List(ctx context.Context, actorID int64) ([]*repository.Document, error) {
	actor, err := d.activeUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role == repository.RoleAdmin {
		return d.documents.ListDocuments(ctx, repository.DocumentFilter{})
	}
	id := actor.ID
	return d.documents.ListDocuments(ctx, repository.DocumentFilter{VisibleTo: &id})
}

func (d *DocumentEngine) visibleDocument(ctx context.Context, documentID, actorID int64) (*repository.Document, *repository.User, error) {
	actor, err := d.activeUser(ctx, actorID)
	if err != nil {
		return nil, nil, err
	}
	doc, err := d.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	if actor.Role == repository.RoleAdmin || doc.SubmitterID == actor.ID {
		return doc, actor, nil
	}

	steps, err := d.documents.ListSteps(ctx, doc.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range steps {
		if s.ApproverID == actor.ID {
			return doc, actor, nil
		}
	}
	return nil, nil, errors.Detail(ErrNotAuthorized, "user %d may not view document %d", actor.ID, doc.ID)
}

func checkDocumentFields(title, category string) error {
	if err := checkLength("title", title, maxTitleLen); err != nil {
		return err
	}
	return checkLength("category", category, maxCategoryLen)
}

func (d *DocumentEngine) activeUser(ctx context.Context, id int64) (*repository.User, error) {
	u, err := d.users.GetUser(ctx, id)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeNotFound {
			return nil, errors.Detail(ErrNotAuthorized, "unknown user %d", id)
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, errors.Detail(ErrNotAuthorized, "user %d is inactive", id)
	}
	return u, nil
}

func (d *DocumentEngine) publish(ctx context.Context, eventType string, doc *repository.Document, actorID int64) {
	d.notifier.Publish(ctx, WorkflowEvent{
		Type:         eventType,
		ResourceType: "document",
		ResourceID:   doc.ID,
		ActorID:      actorID,
		Recipients:   []int64{doc.SubmitterID},
		Payload:      map[string]any{"status": string(doc.Status)},
	})
}
