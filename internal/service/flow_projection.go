package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

const submitterStepName = "User (Submitter)"

// FlowProjection serves and backfills the per-request approval timeline.
// Rows are written by the workflow engine in the same transaction as the
// canonical change; readers never compute them.
type FlowProjection struct {
	users     UserStore
	approvers DepartmentApproverStore
	requests  RequestStore
	flow      FlowStore
	bindings  BindingsSource
	log       *logger.Logger
}

// NewFlowProjection creates a new FlowProjection.
func NewFlowProjection(
	users UserStore,
	approvers DepartmentApproverStore,
	requests RequestStore,
	flow FlowStore,
	bindings BindingsSource,
	log *logger.Logger,
) *FlowProjection {
	return &FlowProjection{
		users:     users,
		approvers: approvers,
		requests:  requests,
		flow:      flow,
		bindings:  bindings,
		log:       log,
	}
}

// Project returns the stored timeline of a request ordered by step number.
func (p *FlowProjection) Project(ctx context.Context, requestID int64) ([]*repository.FlowStep, error) {
	if _, err := p.requests.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return p.flow.ListFlow(ctx, requestID)
}

// RebuildReport summarises a backfill run.
type RebuildReport struct {
	Requests int `json:"requests"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// RebuildAll recomputes the timeline of every request from its status and
// approval history. Missing rows are inserted and statuses reconciled;
// running it twice changes nothing the second time.
func (p *FlowProjection) RebuildAll(ctx context.Context) (*RebuildReport, error) {
	requests, err := p.requests.ListRequests(ctx, repository.RequestFilter{})
	if err != nil {
		return nil, err
	}

	report := &RebuildReport{}
	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.rebuild(ctx, req, report); err != nil {
			return report, err
		}
		report.Requests++
	}

	p.log.Info().
		Int("requests", report.Requests).
		Int("inserted", report.Inserted).
		Int("updated", report.Updated).
		Int("skipped", report.Skipped).
		Msg("Flow projection rebuilt")
	return report, nil
}

func (p *FlowProjection) rebuild(ctx context.Context, req *repository.Request, report *RebuildReport) error {
	existing, err := p.flow.ListFlow(ctx, req.ID)
	if err != nil {
		return err
	}
	history, err := p.requests.ListApprovals(ctx, req.ID)
	if err != nil {
		return err
	}

	byNumber := make(map[int]*repository.FlowStep, len(existing))
	firstOfLevel := make(map[repository.ApprovalLevel]*repository.FlowStep)
	maxNumber := 0
	for _, row := range existing {
		byNumber[row.StepNumber] = row
		if _, ok := firstOfLevel[row.Level]; !ok {
			firstOfLevel[row.Level] = row
		}
		if row.StepNumber > maxNumber {
			maxNumber = row.StepNumber
		}
	}

	// Submitter row.
	if _, ok := firstOfLevel[repository.LevelSubmitter]; !ok {
		if _, taken := byNumber[0]; !taken {
			submitter, err := p.lookupUser(ctx, req.SubmitterID)
			if err != nil {
				return err
			}
			if submitter == nil {
				report.Skipped++
			} else if err := p.upsert(ctx, submitterRow(req.ID, submitter), nil, report); err != nil {
				return err
			}
		}
	}

	rejectedAt := rejectingLevel(req, history)
	for _, s := range stages {
		want := derivedStatus(req, s, rejectedAt)

		if row, ok := firstOfLevel[s.level]; ok {
			if row.Status == want {
				continue
			}
			patched := *row
			patched.Status = want
			if err := p.upsert(ctx, &patched, row, report); err != nil {
				return err
			}
			continue
		}

		assignee, err := p.assigneeFor(ctx, req, s, history)
		if err != nil {
			return err
		}
		if assignee == nil {
			report.Skipped++
			p.log.Warn().
				Int64("request_id", req.ID).
				Str("level", string(s.level)).
				Msg("No assignee resolvable for flow step; skipping")
			continue
		}

		number := s.step
		if _, taken := byNumber[number]; taken {
			maxNumber++
			number = maxNumber
		}
		row := stageRow(req.ID, s, number, assignee, req.Department)
		row.Status = want
		byNumber[number] = row
		if err := p.upsert(ctx, row, nil, report); err != nil {
			return err
		}
	}
	return nil
}

func (p *FlowProjection) upsert(ctx context.Context, row, before *repository.FlowStep, report *RebuildReport) error {
	inserted, err := p.flow.UpsertFlowStep(ctx, row)
	if err != nil {
		return err
	}
	switch {
	case inserted:
		report.Inserted++
	case before != nil && before.Status != row.Status:
		report.Updated++
	}
	return nil
}

// assigneeFor resolves who a missing stage row should show: the recorded
// approver on the request, then the approval history, then the current
// bindings.
func (p *FlowProjection) assigneeFor(ctx context.Context, req *repository.Request, s stage, history []*repository.RequestApproval) (*repository.User, error) {
	var candidates []int64
	switch s.level {
	case repository.LevelDepartment:
		if req.DepartmentApproverID != nil {
			candidates = append(candidates, *req.DepartmentApproverID)
		}
	case repository.LevelAdmin:
		if req.AdminApproverID != nil {
			candidates = append(candidates, *req.AdminApproverID)
		}
	}
	for _, a := range history {
		if a.ApprovalLevel == s.level && a.Action != repository.ActionComment {
			candidates = append(candidates, a.ApproverID)
			break
		}
	}

	b := p.bindings.Current()
	switch s.level {
	case repository.LevelGeneral:
		if b.GeneralApproverID != 0 {
			candidates = append(candidates, b.GeneralApproverID)
		}
	case repository.LevelDepartment:
		da, err := p.approvers.FindActiveDepartmentApprover(ctx, req.Department)
		if err != nil {
			return nil, err
		}
		if da != nil {
			candidates = append(candidates, da.ApproverID)
		}
	case repository.LevelAdmin:
		if id, ok := b.PrimaryAdmin(); ok {
			candidates = append(candidates, id)
		}
	}

	for _, id := range candidates {
		u, err := p.lookupUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if u != nil {
			return u, nil
		}
	}
	return nil, nil
}

func (p *FlowProjection) lookupUser(ctx context.Context, id int64) (*repository.User, error) {
	u, err := p.users.GetUser(ctx, id)
	if errors.CodeOf(err) == errors.ErrCodeNotFound {
		return nil, nil
	}
	return u, err
}

// rejectingLevel finds the stage whose rejection closed the request.
func rejectingLevel(req *repository.Request, history []*repository.RequestApproval) repository.ApprovalLevel {
	if req.Status != repository.StatusRejected {
		return ""
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Action == repository.ActionReject {
			return history[i].ApprovalLevel
		}
	}
	return repository.LevelGeneral
}

// derivedStatus is the display status a stage row must have given the
// canonical request state. Stages after a rejection stay pending.
func derivedStatus(req *repository.Request, s stage, rejectedAt repository.ApprovalLevel) repository.FlowStatus {
	if req.Status == repository.StatusRejected {
		if s.level == rejectedAt {
			return repository.FlowRejected
		}
		rejected, _ := stageOf(rejectedAt)
		if s.step < rejected.step {
			return repository.FlowApproved
		}
		return repository.FlowPending
	}
	if rank(req.Status) >= rank(s.approved) {
		return repository.FlowApproved
	}
	return repository.FlowPending
}

// ── row builders ──────────────────────────────────────────────────────────────

func submitterRow(requestID int64, submitter *repository.User) *repository.FlowStep {
	return &repository.FlowStep{
		RequestID:        requestID,
		StepNumber:       0,
		StepName:         submitterStepName,
		Level:            repository.LevelSubmitter,
		AssignedUserID:   submitter.ID,
		AssignedUsername: submitter.Username,
		Role:             "user",
		Department:       submitter.Department,
		Status:           repository.FlowCompleted,
	}
}

func stageRow(requestID int64, s stage, number int, assignee *repository.User, department string) *repository.FlowStep {
	row := &repository.FlowStep{
		RequestID:        requestID,
		StepNumber:       number,
		StepName:         s.name,
		Level:            s.level,
		AssignedUserID:   assignee.ID,
		AssignedUsername: assignee.Username,
		Role:             s.role,
		Status:           repository.FlowPending,
	}
	switch s.level {
	case repository.LevelGeneral:
		row.Department = "General"
	case repository.LevelDepartment:
		row.StepName = fmt.Sprintf("%s Department Approver", department)
		row.Department = department
	case repository.LevelAdmin:
		row.Department = "Admin"
	}
	return row
}
