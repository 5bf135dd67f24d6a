package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

const titleMessageRunes = 50

// WorkflowEngine owns requests and their three-stage approval state machine.
type WorkflowEngine struct {
	users     UserStore
	approvers DepartmentApproverStore
	requests  RequestStore
	flow      FlowStore
	bindings  BindingsSource
	suggester DepartmentSuggester
	notifier  Notifier
	log       *logger.Logger
}

// EngineOption configures optional collaborators.
type EngineOption func(*WorkflowEngine)

// WithSuggester pre-fills empty departments from the message text.
func WithSuggester(s DepartmentSuggester) EngineOption {
	return func(e *WorkflowEngine) { e.suggester = s }
}

// WithNotifier publishes workflow events.
func WithNotifier(n Notifier) EngineOption {
	return func(e *WorkflowEngine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// NewWorkflowEngine creates a new WorkflowEngine.
func NewWorkflowEngine(
	users UserStore,
	approvers DepartmentApproverStore,
	requests RequestStore,
	flow FlowStore,
	bindings BindingsSource,
	log *logger.Logger,
	opts ...EngineOption,
) *WorkflowEngine {
	e := &WorkflowEngine{
		users:     users,
		approvers: approvers,
		requests:  requests,
		flow:      flow,
		bindings:  bindings,
		notifier:  nopNotifier{},
		log:       log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RequestDetail is a request with its approval history and timeline.
type RequestDetail struct {
	Request   *repository.Request
	Approvals []*repository.RequestApproval
	Flow      []*repository.FlowStep
}

// ── Creation ──────────────────────────────────────────────────────────────────

// CreateRequestInput is the input of CreateRequest.
type CreateRequestInput struct {
	Title      string
	Message    string
	Department string
	Priority   repository.Priority
}

// CreateRequest submits a request into the fixed general → department →
// admin sequence. The request, its three pending approvals and its four flow
// rows are created atomically.
func (e *WorkflowEngine) CreateRequest(ctx context.Context, submitterID int64, in CreateRequestInput) (*RequestDetail, error) {
	submitter, err := e.activeActor(ctx, submitterID)
	if err != nil {
		return nil, err
	}

	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, errors.InvalidInput("message", "message is required")
	}
	priority, err := normalizePriority(in.Priority)
	if err != nil {
		return nil, err
	}
	department, err := e.resolveDepartment(ctx, strings.TrimSpace(in.Department), message)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = defaultTitle(message)
	}
	if err := checkLength("title", title, maxTitleLen); err != nil {
		return nil, err
	}

	da, err := e.approvers.FindActiveDepartmentApprover(ctx, department)
	if err != nil {
		return nil, err
	}
	if da == nil {
		return nil, errors.Detail(ErrNoApproverAssigned, "no active approver for department %q", department)
	}

	b := e.bindings.Current()
	adminID, hasAdmin := b.PrimaryAdmin()
	if b.GeneralApproverID == 0 {
		return nil, errors.Detail(ErrConfiguration, "general approver account is not configured")
	}
	if !hasAdmin {
		return nil, errors.Detail(ErrConfiguration, "no admin account is configured")
	}

	general, err := e.boundUser(ctx, b.GeneralApproverID, "general approver")
	if err != nil {
		return nil, err
	}
	deptApprover, err := e.boundUser(ctx, da.ApproverID, "department approver")
	if err != nil {
		return nil, err
	}
	admin, err := e.boundUser(ctx, adminID, "admin")
	if err != nil {
		return nil, err
	}

	assigned := da.ApproverID
	req := &repository.Request{
		Title:                title,
		Message:              message,
		Department:           department,
		Status:               repository.StatusPending,
		Priority:             priority,
		SubmitterID:          submitter.ID,
		DepartmentApproverID: &assigned,
	}

	approvals := []*repository.RequestApproval{
		pendingApproval(general.ID, repository.LevelGeneral, "Request submitted and routed to General Approver (Step 1)"),
		pendingApproval(deptApprover.ID, repository.LevelDepartment, fmt.Sprintf("Request routed to %s Department Approver (Step 2)", department)),
		pendingApproval(admin.ID, repository.LevelAdmin, "Request routed to Admin Approver (Step 3)"),
	}
	flow := []*repository.FlowStep{
		submitterRow(0, submitter),
		stageRow(0, stages[0], stages[0].step, general, department),
		stageRow(0, stages[1], stages[1].step, deptApprover, department),
		stageRow(0, stages[2], stages[2].step, admin, department),
	}

	if err := e.requests.CreateRequest(ctx, req, approvals, flow); err != nil {
		return nil, err
	}

	e.log.Info().
		Int64("request_id", req.ID).
		Int64("submitter_id", submitter.ID).
		Str("department", department).
		Str("priority", string(priority)).
		Msg("Request created")

	e.notifySubmitted(ctx, req, general.ID)

	return &RequestDetail{Request: req, Approvals: approvals, Flow: flow}, nil
}

// CreateWorkflowInput is the input of CreateWorkflowRequest.
type CreateWorkflowInput struct {
	Title    string
	Message  string
	Priority repository.Priority
	Steps    []CustomStep
}

// CreateWorkflowRequest submits a request with a caller-supplied step list.
// The first department step sets the request's department and must have an
// active approver. Steps whose approver cannot be resolved are skipped.
func (e *WorkflowEngine) CreateWorkflowRequest(ctx context.Context, submitterID int64, in CreateWorkflowInput) (*RequestDetail, error) {
	submitter, err := e.activeActor(ctx, submitterID)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	message := strings.TrimSpace(in.Message)
	if title == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}
	if message == "" {
		return nil, errors.InvalidInput("message", "message is required")
	}
	if err := checkLength("title", title, maxTitleLen); err != nil {
		return nil, err
	}
	priority, err := normalizePriority(in.Priority)
	if err != nil {
		return nil, err
	}

	steps, err := parseSteps(in.Steps)
	if err != nil {
		return nil, err
	}
	department, ok := primaryDepartment(steps)
	if !ok {
		return nil, errors.InvalidInput("workflow_steps", "no department specified in workflow steps")
	}
	da, err := e.approvers.FindActiveDepartmentApprover(ctx, department)
	if err != nil {
		return nil, err
	}
	if da == nil {
		return nil, errors.Detail(ErrNoApproverAssigned, "no active approver for department %q", department)
	}

	assigned := da.ApproverID
	req := &repository.Request{
		Title:                title,
		Message:              message,
		Department:           department,
		Status:               repository.StatusPending,
		Priority:             priority,
		SubmitterID:          submitter.ID,
		DepartmentApproverID: &assigned,
	}

	approvals := make([]*repository.RequestApproval, 0, len(steps))
	flow := []*repository.FlowStep{submitterRow(0, submitter)}
	for _, step := range steps {
		assignee, err := e.resolveStepAssignee(ctx, step.kind)
		if err != nil {
			return nil, err
		}
		if assignee == nil {
			e.log.Warn().
				Str("step", step.kind.String()).
				Int("step_number", step.number).
				Msg("No approver resolvable for workflow step; skipping")
			continue
		}

		s, _ := stageOf(step.kind.Level())
		approvals = append(approvals, pendingApproval(assignee.ID, s.level,
			fmt.Sprintf("Request submitted and routed to %s (Step %d)", step.kind, step.number)))

		stepDepartment := department
		if step.kind.Tag == StepDepartment {
			stepDepartment = step.kind.Department
		}
		row := stageRow(0, s, step.number, assignee, stepDepartment)
		if step.kind.Tag != StepDepartment {
			row.StepName = step.kind.String()
		}
		flow = append(flow, row)
	}

	if err := e.requests.CreateRequest(ctx, req, approvals, flow); err != nil {
		return nil, err
	}

	e.log.Info().
		Int64("request_id", req.ID).
		Int64("submitter_id", submitter.ID).
		Str("department", department).
		Int("steps", len(steps)).
		Int("resolved_steps", len(approvals)).
		Msg("Workflow request created")

	if b := e.bindings.Current(); b.GeneralApproverID != 0 {
		e.notifySubmitted(ctx, req, b.GeneralApproverID)
	}

	return &RequestDetail{Request: req, Approvals: approvals, Flow: flow}, nil
}

func (e *WorkflowEngine) resolveStepAssignee(ctx context.Context, kind StepKind) (*repository.User, error) {
	var id int64
	b := e.bindings.Current()
	switch kind.Tag {
	case StepGeneral:
		id = b.GeneralApproverID
	case StepAdmin:
		id, _ = b.PrimaryAdmin()
	case StepDepartment:
		da, err := e.approvers.FindActiveDepartmentApprover(ctx, kind.Department)
		if err != nil {
			return nil, err
		}
		if da != nil {
			id = da.ApproverID
		}
	}
	if id == 0 {
		return nil, nil
	}

	u, err := e.users.GetUser(ctx, id)
	if errors.CodeOf(err) == errors.ErrCodeNotFound {
		return nil, nil
	}
	return u, err
}

// ── Decisions ─────────────────────────────────────────────────────────────────

// DecisionInput is the input of Decide.
type DecisionInput struct {
	RequestID int64
	ActorID   int64
	Action    repository.ApprovalAction
	Comments  string
	// ExpectedStatus is the status the caller saw and names the stage it acts
	// on. Required to approve or reject; optional for comments. A mismatch
	// means that stage has already closed.
	ExpectedStatus *repository.RequestStatus
}

// Decide approves, rejects or comments on a request at its current stage.
// Unauthorized actors cause no mutation.
func (e *WorkflowEngine) Decide(ctx context.Context, in DecisionInput) (*repository.Request, error) {
	switch in.Action {
	case repository.ActionApprove, repository.ActionReject, repository.ActionComment:
	default:
		return nil, errors.InvalidInput("action", "action must be approve, reject or comment")
	}
	if in.ExpectedStatus == nil && in.Action != repository.ActionComment {
		return nil, errors.InvalidInput("expected_status", "expected_status is required to approve or reject")
	}
	if in.ExpectedStatus != nil && !in.ExpectedStatus.Valid() {
		return nil, errors.InvalidInput("expected_status", fmt.Sprintf("unknown status %q", *in.ExpectedStatus))
	}

	req, err := e.requests.GetRequest(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, errors.Detail(ErrWorkflowAlreadyClosed, "request %d is %s", req.ID, req.Status)
	}
	if in.ExpectedStatus != nil && *in.ExpectedStatus != req.Status {
		return nil, errors.Detail(ErrWorkflowAlreadyClosed,
			"request %d moved from %s to %s", req.ID, *in.ExpectedStatus, req.Status)
	}

	s, ok := stageFor(req.Status)
	if !ok {
		return nil, errors.Detail(ErrWorkflowAlreadyClosed, "request %d has no open stage", req.ID)
	}

	actor, err := e.activeActor(ctx, in.ActorID)
	if err != nil {
		return nil, err
	}
	allowed, err := e.canActAt(ctx, actor, s, req)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errors.Detail(ErrNotAuthorized,
			"user %d may not act on request %d at the %s stage", actor.ID, req.ID, s.level)
	}

	now := time.Now().UTC()

	if in.Action == repository.ActionComment {
		return e.comment(ctx, req, s, actor, in.Comments, now)
	}

	t := transitionFor(req, s, in.Action, actor.ID)
	t.Comments = in.Comments
	t.At = now

	updated, err := e.requests.ApplyTransition(ctx, t)
	if err != nil {
		return nil, translate(err)
	}

	e.log.Info().
		Int64("request_id", req.ID).
		Int64("actor_id", actor.ID).
		Str("level", string(s.level)).
		Str("action", string(in.Action)).
		Str("from", string(t.FromStatus)).
		Str("to", string(t.ToStatus)).
		Msg("Request transition applied")

	e.notifyTransition(ctx, updated, actor.ID, s, in.Action)
	return updated, nil
}

func (e *WorkflowEngine) comment(ctx context.Context, req *repository.Request, s stage, actor *repository.User, comments string, at time.Time) (*repository.Request, error) {
	if strings.TrimSpace(comments) == "" {
		return nil, errors.InvalidInput("comments", "comment text is required")
	}

	actorID := actor.ID
	row := &repository.RequestApproval{
		RequestID:     req.ID,
		ApproverID:    actor.ID,
		ApprovalLevel: s.level,
		Action:        repository.ActionComment,
		Comments:      comments,
		ActedBy:       &actorID,
		ActedAt:       &at,
	}
	if err := e.requests.AppendApproval(ctx, row); err != nil {
		return nil, err
	}

	e.log.Info().
		Int64("request_id", req.ID).
		Int64("actor_id", actor.ID).
		Str("level", string(s.level)).
		Msg("Request comment added")

	e.notifier.Publish(ctx, WorkflowEvent{
		Type:         EventRequestCommented,
		ResourceType: "request",
		ResourceID:   req.ID,
		ActorID:      actor.ID,
		Recipients:   []int64{req.SubmitterID},
		Payload:      map[string]any{"level": string(s.level)},
	})
	return e.requests.GetRequest(ctx, req.ID)
}

// canActAt reports whether actor may act at stage s. Admins may act at every stage.
func (e *WorkflowEngine) canActAt(ctx context.Context, actor *repository.User, s stage, req *repository.Request) (bool, error) {
	if actor.Role == repository.RoleAdmin {
		return true, nil
	}
	switch s.level {
	case repository.LevelGeneral:
		return e.bindings.Current().IsGeneralApprover(actor.ID), nil
	case repository.LevelDepartment:
		da, err := e.approvers.FindActiveDepartmentApprover(ctx, req.Department)
		if err != nil {
			return false, err
		}
		return da != nil && da.ApproverID == actor.ID, nil
	}
	return false, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// ListForActor returns the requests visible to an actor, newest first: all
// for admins, pending ones for the general approver, those of their
// departments for department approvers, and own submissions otherwise.
func (e *WorkflowEngine) ListForActor(ctx context.Context, actorID int64) ([]*repository.Request, error) {
	actor, err := e.activeActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	if actor.Role == repository.RoleAdmin {
		return e.requests.ListRequests(ctx, repository.RequestFilter{})
	}
	if e.bindings.Current().IsGeneralApprover(actor.ID) {
		pending := repository.StatusPending
		return e.requests.ListRequests(ctx, repository.RequestFilter{Status: &pending})
	}

	departments, err := e.approvers.ListActiveDepartmentsForApprover(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if len(departments) > 0 {
		id := actor.ID
		return e.requests.ListRequests(ctx, repository.RequestFilter{
			Departments:          departments,
			DepartmentApproverID: &id,
		})
	}

	id := actor.ID
	return e.requests.ListRequests(ctx, repository.RequestFilter{SubmitterID: &id})
}

// GetDetail returns a request with its approvals and flow when the actor may
// see it.
func (e *WorkflowEngine) GetDetail(ctx context.Context, actorID, requestID int64) (*RequestDetail, error) {
	actor, err := e.activeActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	req, err := e.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	visible, err := e.canView(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, errors.Detail(ErrNotAuthorized, "user %d may not view request %d", actor.ID, req.ID)
	}

	approvals, err := e.requests.ListApprovals(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	flow, err := e.flow.ListFlow(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &RequestDetail{Request: req, Approvals: approvals, Flow: flow}, nil
}

func (e *WorkflowEngine) canView(ctx context.Context, actor *repository.User, req *repository.Request) (bool, error) {
	if actor.Role == repository.RoleAdmin || actor.ID == req.SubmitterID {
		return true, nil
	}
	if e.bindings.Current().IsGeneralApprover(actor.ID) {
		return true, nil
	}
	da, err := e.approvers.FindActiveDepartmentApprover(ctx, req.Department)
	if err != nil {
		return false, err
	}
	return da != nil && da.ApproverID == actor.ID, nil
}

// DeleteRequest removes a request with its approvals and flow. Admin only.
func (e *WorkflowEngine) DeleteRequest(ctx context.Context, actorID, requestID int64) error {
	actor, err := e.activeActor(ctx, actorID)
	if err != nil {
		return err
	}
	if actor.Role != repository.RoleAdmin {
		return errors.Detail(ErrNotAuthorized, "only admins may delete requests")
	}
	if err := e.requests.DeleteRequest(ctx, requestID); err != nil {
		return err
	}
	e.log.Info().Int64("request_id", requestID).Int64("actor_id", actor.ID).Msg("Request deleted")
	return nil
}

// SuggestDepartment asks the advisor for a department label.
func (e *WorkflowEngine) SuggestDepartment(ctx context.Context, text string) (string, error) {
	if e.suggester == nil {
		return "", errors.Detail(ErrConfiguration, "no department advisor configured")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.InvalidInput("message", "message is required")
	}
	return e.suggester.SuggestDepartment(ctx, text)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func (e *WorkflowEngine) resolveDepartment(ctx context.Context, department, message string) (string, error) {
	if department != "" {
		if err := checkLength("department", department, maxDepartmentLen); err != nil {
			return "", err
		}
		return department, nil
	}
	if e.suggester == nil {
		return "", errors.InvalidInput("department", "department is required")
	}
	suggested, err := e.suggester.SuggestDepartment(ctx, message)
	if err != nil || suggested == "" {
		e.log.Warn().Err(err).Msg("Department advisor gave no suggestion")
		return "", errors.InvalidInput("department", "department is required")
	}
	if err := checkLength("department", suggested, maxDepartmentLen); err != nil {
		return "", err
	}
	e.log.Debug().Str("department", suggested).Msg("Department pre-filled by advisor")
	return suggested, nil
}

// activeActor loads a user who may act; unknown or inactive users are not authorized.
func (e *WorkflowEngine) activeActor(ctx context.Context, id int64) (*repository.User, error) {
	u, err := e.users.GetUser(ctx, id)
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

// boundUser loads an account referenced by a binding; a dangling reference
// is a configuration error.
func (e *WorkflowEngine) boundUser(ctx context.Context, id int64, what string) (*repository.User, error) {
	u, err := e.users.GetUser(ctx, id)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeNotFound {
			return nil, errors.Detail(ErrConfiguration, "%s account %d does not exist", what, id)
		}
		return nil, err
	}
	return u, nil
}

func (e *WorkflowEngine) notifySubmitted(ctx context.Context, req *repository.Request, generalID int64) {
	e.notifier.Publish(ctx, WorkflowEvent{
		Type:         EventRequestSubmitted,
		ResourceType: "request",
		ResourceID:   req.ID,
		ActorID:      req.SubmitterID,
		Recipients:   []int64{req.SubmitterID},
		Payload:      map[string]any{"department": req.Department, "priority": string(req.Priority)},
	})
	e.notifier.Publish(ctx, WorkflowEvent{
		Type:         EventRequestApprovalRequired,
		ResourceType: "request",
		ResourceID:   req.ID,
		ActorID:      req.SubmitterID,
		Recipients:   []int64{generalID},
		Payload:      map[string]any{"level": string(repository.LevelGeneral)},
	})
}

func (e *WorkflowEngine) notifyTransition(ctx context.Context, req *repository.Request, actorID int64, s stage, action repository.ApprovalAction) {
	event := WorkflowEvent{
		ResourceType: "request",
		ResourceID:   req.ID,
		ActorID:      actorID,
		Payload:      map[string]any{"level": string(s.level), "status": string(req.Status)},
	}

	switch {
	case action == repository.ActionReject:
		event.Type = EventRequestRejected
		event.Recipients = []int64{req.SubmitterID}
	case req.Status == repository.StatusAdminApproved:
		event.Type = EventRequestApproved
		event.Recipients = []int64{req.SubmitterID}
	default:
		event.Type = EventRequestApprovalRequired
		next, _ := stageFor(req.Status)
		event.Payload["level"] = string(next.level)
		switch next.level {
		case repository.LevelDepartment:
			if req.DepartmentApproverID != nil {
				event.Recipients = []int64{*req.DepartmentApproverID}
			}
		case repository.LevelAdmin:
			event.Recipients = e.bindings.Current().AdminPool
		}
	}
	e.notifier.Publish(ctx, event)
}

func pendingApproval(approverID int64, level repository.ApprovalLevel, comments string) *repository.RequestApproval {
	return &repository.RequestApproval{
		ApproverID:    approverID,
		ApprovalLevel: level,
		Action:        repository.ActionPending,
		Comments:      comments,
	}
}

// defaultTitle is "Request: " plus the first 50 characters of the message,
// with "..." when truncated.
func defaultTitle(message string) string {
	if utf8.RuneCountInString(message) <= titleMessageRunes {
		return "Request: " + message
	}
	runes := []rune(message)
	return "Request: " + string(runes[:titleMessageRunes]) + "..."
}

func normalizePriority(p repository.Priority) (repository.Priority, error) {
	if p == "" {
		return repository.PriorityNormal, nil
	}
	p = repository.Priority(strings.ToLower(string(p)))
	if !p.Valid() {
		return "", errors.InvalidInput("priority", "priority must be low, normal, high or urgent")
	}
	return p, nil
}
