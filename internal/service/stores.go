package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *repository.User) error
	GetUser(ctx context.Context, id int64) (*repository.User, error)
	GetUserByUsername(ctx context.Context, username string) (*repository.User, error)
	ListUsers(ctx context.Context) ([]*repository.User, error)
	ListUsersByRole(ctx context.Context, role repository.Role) ([]*repository.User, error)
}

// DepartmentApproverStore persists department → approver assignments.
// CreateDepartmentApprover must check-and-insert atomically and return
// repository.ErrActiveApproverExists on conflict.
type DepartmentApproverStore interface {
	CreateDepartmentApprover(ctx context.Context, da *repository.DepartmentApprover) error
	GetDepartmentApprover(ctx context.Context, id int64) (*repository.DepartmentApprover, error)
	FindActiveDepartmentApprover(ctx context.Context, department string) (*repository.DepartmentApprover, error)
	ListDepartmentApprovers(ctx context.Context, activeOnly bool) ([]*repository.DepartmentApprover, error)
	ListActiveDepartmentsForApprover(ctx context.Context, approverID int64) ([]string, error)
	DeactivateDepartmentApprover(ctx context.Context, id int64, at time.Time) error
}

// RequestStore persists requests and their approval history. CreateRequest
// and ApplyTransition are atomic; ApplyTransition returns
// repository.ErrConcurrentUpdate when the request left FromStatus.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *repository.Request, approvals []*repository.RequestApproval, flow []*repository.FlowStep) error
	GetRequest(ctx context.Context, id int64) (*repository.Request, error)
	ListRequests(ctx context.Context, filter repository.RequestFilter) ([]*repository.Request, error)
	ListApprovals(ctx context.Context, requestID int64) ([]*repository.RequestApproval, error)
	AppendApproval(ctx context.Context, a *repository.RequestApproval) error
	ApplyTransition(ctx context.Context, t *repository.Transition) (*repository.Request, error)
	DeleteRequest(ctx context.Context, id int64) error
}

// FlowStore reads and reconciles the flow projection.
type FlowStore interface {
	ListFlow(ctx context.Context, requestID int64) ([]*repository.FlowStep, error)
	UpsertFlowStep(ctx context.Context, step *repository.FlowStep) (bool, error)
}

// DocumentStore persists documents, their steps and their action log.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *repository.Document, steps []*repository.WorkflowStep) error
	GetDocument(ctx context.Context, id int64) (*repository.Document, error)
	ListDocuments(ctx context.Context, filter repository.DocumentFilter) ([]*repository.Document, error)
	ListSteps(ctx context.Context, documentID int64) ([]*repository.WorkflowStep, error)
	FindPendingStep(ctx context.Context, documentID, approverID int64) (*repository.WorkflowStep, error)
	CloseStep(ctx context.Context, d *repository.StepDecision, resolve func([]*repository.WorkflowStep) repository.DocumentStatus) (*repository.Document, error)
	UpdateDocumentStatus(ctx context.Context, id int64, from, to repository.DocumentStatus, at time.Time) (*repository.Document, error)
	UpdateDocument(ctx context.Context, doc *repository.Document, at time.Time) (*repository.Document, error)
	AppendDocumentApproval(ctx context.Context, a *repository.DocumentApproval) error
	ListDocumentApprovals(ctx context.Context, documentID int64) ([]*repository.DocumentApproval, error)
}

// AnalyticsStore aggregates requests for the admin dashboard.
type AnalyticsStore interface {
	CountByDepartmentStatus(ctx context.Context, filter repository.AnalyticsFilter) ([]*repository.StatusCount, error)
	TopSubmitters(ctx context.Context, filter repository.AnalyticsFilter, limit int) ([]*repository.SubmitterCount, error)
	DailyVolume(ctx context.Context, filter repository.AnalyticsFilter) ([]*repository.DailyCount, error)
}

// DepartmentSuggester proposes a department for free text. Advisory only.
type DepartmentSuggester interface {
	SuggestDepartment(ctx context.Context, text string) (string, error)
}

// Notifier publishes workflow events. Implementations must not block the
// caller on delivery failures.
type Notifier interface {
	Publish(ctx context.Context, event WorkflowEvent)
}

// Workflow event types.
const (
	EventRequestSubmitted        = "request_submitted"
	EventRequestApprovalRequired = "request_approval_required"
	EventRequestApproved         = "request_approved"
	EventRequestRejected         = "request_rejected"
	EventRequestCommented        = "request_commented"
	EventDocumentSubmitted       = "document_submitted"
	EventDocumentApproved        = "document_approved"
	EventDocumentRejected        = "document_rejected"
	EventDocumentArchived        = "document_archived"
	EventDocumentUpdated         = "document_updated"
)

// WorkflowEvent describes something that happened to a request or document.
type WorkflowEvent struct {
	Type         string
	ResourceType string
	ResourceID   int64
	ActorID      int64
	Recipients   []int64
	Payload      map[string]any
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, WorkflowEvent) {}
