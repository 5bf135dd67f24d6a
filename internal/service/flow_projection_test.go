package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

// bareRequest stores a request with pending approvals and no flow rows, the
// shape of data written before the timeline existed.
func bareRequest(t *testing.T, f *fixture, department string, assigned *repository.User) *repository.Request {
	t.Helper()
	req := &repository.Request{
		Title:       "Legacy",
		Message:     "Legacy request",
		Department:  department,
		Status:      repository.StatusPending,
		Priority:    repository.PriorityNormal,
		SubmitterID: f.alice.ID,
	}
	approvals := []*repository.RequestApproval{
		pendingApproval(f.general.ID, repository.LevelGeneral, ""),
	}
	if assigned != nil {
		id := assigned.ID
		req.DepartmentApproverID = &id
		approvals = append(approvals, pendingApproval(assigned.ID, repository.LevelDepartment, ""))
	}
	approvals = append(approvals, pendingApproval(f.admin.ID, repository.LevelAdmin, ""))
	require.NoError(t, f.store.CreateRequest(context.Background(), req, approvals, nil))
	return req
}

func advance(t *testing.T, f *fixture, req *repository.Request, actor int64, action repository.ApprovalAction) {
	t.Helper()
	current, err := f.store.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	s, ok := stageFor(current.Status)
	require.True(t, ok)
	tr := transitionFor(current, s, action, actor)
	tr.At = time.Now().UTC()
	_, err = f.store.ApplyTransition(context.Background(), tr)
	require.NoError(t, err)
}

func flowStatuses(rows []*repository.FlowStep) []repository.FlowStatus {
	out := make([]repository.FlowStatus, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Status)
	}
	return out
}

func TestRebuildAll_InsertsMissingRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := bareRequest(t, f, "IT", f.itLead)
	advance(t, f, req, f.general.ID, repository.ActionApprove)
	advance(t, f, req, f.itLead.ID, repository.ActionApprove)

	report, err := f.flow.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, &RebuildReport{Requests: 1, Inserted: 4}, report)

	rows, err := f.flow.Project(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []repository.FlowStatus{
		repository.FlowCompleted, repository.FlowApproved, repository.FlowApproved, repository.FlowPending,
	}, flowStatuses(rows))

	assert.Equal(t, submitterStepName, rows[0].StepName)
	assert.Equal(t, "user", rows[0].Role)
	assert.Equal(t, f.general.ID, rows[1].AssignedUserID)
	assert.Equal(t, "General", rows[1].Department)
	assert.Equal(t, "IT Department Approver", rows[2].StepName)
	assert.Equal(t, f.itLead.ID, rows[2].AssignedUserID)
	assert.Equal(t, "department_approver", rows[2].Role)
	assert.Equal(t, f.admin.ID, rows[3].AssignedUserID)
	assert.Equal(t, "Admin Approver", rows[3].StepName)
}

func TestRebuildAll_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bareRequest(t, f, "IT", f.itLead)
	f.submit(t, "HR")

	first, err := f.flow.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Requests)
	assert.Equal(t, 4, first.Inserted)

	second, err := f.flow.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, &RebuildReport{Requests: 2}, second)
}

func TestRebuildAll_ReconcilesDriftedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.submit(t, "IT")
	_, err := f.decide(req.ID, f.general.ID, repository.ActionApprove)
	require.NoError(t, err)

	rows, err := f.store.ListFlow(ctx, req.ID)
	require.NoError(t, err)
	drifted := *rows[1]
	drifted.Status = repository.FlowPending
	inserted, err := f.store.UpsertFlowStep(ctx, &drifted)
	require.NoError(t, err)
	require.False(t, inserted)

	report, err := f.flow.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Zero(t, report.Inserted)

	rows, err = f.store.ListFlow(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.FlowApproved, rows[1].Status)
}

func TestRebuildAll_RejectedRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := bareRequest(t, f, "IT", f.itLead)
	advance(t, f, req, f.general.ID, repository.ActionApprove)
	advance(t, f, req, f.itLead.ID, repository.ActionReject)

	_, err := f.flow.RebuildAll(ctx)
	require.NoError(t, err)

	rows, err := f.store.ListFlow(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, []repository.FlowStatus{
		repository.FlowCompleted, repository.FlowApproved, repository.FlowRejected, repository.FlowPending,
	}, flowStatuses(rows))
}

func TestRebuildAll_SkipsUnresolvableStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := bareRequest(t, f, "Legal", nil)

	report, err := f.flow.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Inserted)
	assert.Equal(t, 1, report.Skipped)

	rows, err := f.store.ListFlow(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int{0, 1, 3}, []int{rows[0].StepNumber, rows[1].StepNumber, rows[2].StepNumber})
}

func TestProject_UnknownRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.flow.Project(context.Background(), 987654)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestDerivedStatus(t *testing.T) {
	general, _ := stageOf(repository.LevelGeneral)
	department, _ := stageOf(repository.LevelDepartment)
	admin, _ := stageOf(repository.LevelAdmin)

	cases := []struct {
		status     repository.RequestStatus
		rejectedAt repository.ApprovalLevel
		want       [3]repository.FlowStatus
	}{
		{repository.StatusPending, "", [3]repository.FlowStatus{"pending", "pending", "pending"}},
		{repository.StatusGeneralApproved, "", [3]repository.FlowStatus{"approved", "pending", "pending"}},
		{repository.StatusAdminApproved, "", [3]repository.FlowStatus{"approved", "approved", "approved"}},
		{repository.StatusRejected, repository.LevelGeneral, [3]repository.FlowStatus{"rejected", "pending", "pending"}},
		{repository.StatusRejected, repository.LevelAdmin, [3]repository.FlowStatus{"approved", "approved", "rejected"}},
	}
	for _, tc := range cases {
		req := &repository.Request{Status: tc.status}
		got := [3]repository.FlowStatus{
			derivedStatus(req, general, tc.rejectedAt),
			derivedStatus(req, department, tc.rejectedAt),
			derivedStatus(req, admin, tc.rejectedAt),
		}
		assert.Equal(t, tc.want, got, "status %s rejected at %q", tc.status, tc.rejectedAt)
	}
}
