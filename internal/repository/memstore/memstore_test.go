package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

func seedRequest(t *testing.T, s *Store) *repository.Request {
	t.Helper()
	ctx := context.Background()

	u := &repository.User{Username: "alice", Email: "alice@example.com", Role: repository.RoleUser, IsActive: true}
	require.NoError(t, s.CreateUser(ctx, u))

	req := &repository.Request{
		Title:       "Laptop",
		Message:     "Need a laptop",
		Department:  "IT",
		Status:      repository.StatusPending,
		Priority:    repository.PriorityNormal,
		SubmitterID: u.ID,
	}
	approvals := []*repository.RequestApproval{
		{ApproverID: 10, ApprovalLevel: repository.LevelGeneral, Action: repository.ActionPending},
		{ApproverID: 11, ApprovalLevel: repository.LevelDepartment, Action: repository.ActionPending},
		{ApproverID: 12, ApprovalLevel: repository.LevelAdmin, Action: repository.ActionPending},
	}
	flow := []*repository.FlowStep{
		{StepNumber: 0, Level: repository.LevelSubmitter, Status: repository.FlowCompleted},
		{StepNumber: 1, Level: repository.LevelGeneral, Status: repository.FlowPending},
		{StepNumber: 2, Level: repository.LevelDepartment, Status: repository.FlowPending},
		{StepNumber: 3, Level: repository.LevelAdmin, Status: repository.FlowPending},
	}
	require.NoError(t, s.CreateRequest(ctx, req, approvals, flow))
	return req
}

func TestStore_CreateUserRejectsDuplicates(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &repository.User{Username: "bob", Email: "bob@example.com"}))
	err := s.CreateUser(ctx, &repository.User{Username: "bob", Email: "other@example.com"})
	assert.ErrorIs(t, err, repository.ErrDuplicateUsername)
}

func TestStore_OneActiveApproverPerDepartment(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := &repository.DepartmentApprover{Department: "IT", ApproverID: 1}
	require.NoError(t, s.CreateDepartmentApprover(ctx, first))

	err := s.CreateDepartmentApprover(ctx, &repository.DepartmentApprover{Department: "IT", ApproverID: 2})
	assert.ErrorIs(t, err, repository.ErrActiveApproverExists)

	require.NoError(t, s.DeactivateDepartmentApprover(ctx, first.ID, time.Now()))
	require.NoError(t, s.CreateDepartmentApprover(ctx, &repository.DepartmentApprover{Department: "IT", ApproverID: 2}))

	active, err := s.FindActiveDepartmentApprover(ctx, "IT")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, int64(2), active.ApproverID)

	all, err := s.ListDepartmentApprovers(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_ConcurrentApproverCreation(t *testing.T) {
	s := New()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := s.CreateDepartmentApprover(ctx, &repository.DepartmentApprover{Department: "HR", ApproverID: id}); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}

func TestStore_ApplyTransitionClosesPendingRowInPlace(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := seedRequest(t, s)

	updated, err := s.ApplyTransition(ctx, &repository.Transition{
		RequestID:  req.ID,
		FromStatus: repository.StatusPending,
		ToStatus:   repository.StatusGeneralApproved,
		Level:      repository.LevelGeneral,
		Action:     repository.ActionApprove,
		ActorID:    10,
		Comments:   "ok",
		FlowStatus: repository.FlowApproved,
		At:         time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusGeneralApproved, updated.Status)

	approvals, err := s.ListApprovals(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 3)
	assert.Equal(t, repository.ActionApprove, approvals[0].Action)
	require.NotNil(t, approvals[0].ActedBy)
	assert.Equal(t, int64(10), *approvals[0].ActedBy)

	flow, err := s.ListFlow(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.FlowApproved, flow[1].Status)
	assert.Equal(t, repository.FlowPending, flow[2].Status)
}

func TestStore_ApplyTransitionStale(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := seedRequest(t, s)

	_, err := s.ApplyTransition(ctx, &repository.Transition{
		RequestID:  req.ID,
		FromStatus: repository.StatusGeneralApproved,
		ToStatus:   repository.StatusDepartmentApproved,
		Level:      repository.LevelDepartment,
		Action:     repository.ActionApprove,
		FlowStatus: repository.FlowApproved,
		At:         time.Now(),
	})
	assert.ErrorIs(t, err, repository.ErrConcurrentUpdate)

	_, err = s.ApplyTransition(ctx, &repository.Transition{RequestID: 999})
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestStore_UpsertFlowStep(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := seedRequest(t, s)

	inserted, err := s.UpsertFlowStep(ctx, &repository.FlowStep{
		RequestID: req.ID, StepNumber: 1, Level: repository.LevelGeneral, Status: repository.FlowApproved,
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	inserted, err = s.UpsertFlowStep(ctx, &repository.FlowStep{
		RequestID: req.ID, StepNumber: 4, Level: repository.LevelDepartment, Status: repository.FlowPending,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	flow, err := s.ListFlow(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, flow, 5)
	assert.Equal(t, repository.FlowApproved, flow[1].Status)
	assert.Equal(t, 4, flow[4].StepNumber)
}

func TestStore_DeleteRequestCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := seedRequest(t, s)

	require.NoError(t, s.DeleteRequest(ctx, req.ID))

	approvals, err := s.ListApprovals(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, approvals)

	flow, err := s.ListFlow(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, flow)

	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(s.DeleteRequest(ctx, req.ID)))
}

func TestStore_ListRequestsFilters(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s := New(WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))
	ctx := context.Background()

	mk := func(dept string, submitter int64) *repository.Request {
		req := &repository.Request{Department: dept, Status: repository.StatusPending, SubmitterID: submitter}
		require.NoError(t, s.CreateRequest(ctx, req, nil, nil))
		return req
	}
	it := mk("IT", 1)
	hr := mk("HR", 2)
	mk("Sales", 1)

	all, err := s.ListRequests(ctx, repository.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Sales", all[0].Department)

	submitter := int64(1)
	mine, err := s.ListRequests(ctx, repository.RequestFilter{SubmitterID: &submitter})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	approver := int64(50)
	_, err = s.ApplyTransition(ctx, &repository.Transition{
		RequestID: hr.ID, FromStatus: repository.StatusPending, ToStatus: repository.StatusGeneralApproved,
		Level: repository.LevelGeneral, Action: repository.ActionApprove, DepartmentApproverID: &approver,
		At: time.Now(),
	})
	require.NoError(t, err)

	scoped, err := s.ListRequests(ctx, repository.RequestFilter{Departments: []string{"IT"}, DepartmentApproverID: &approver})
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	ids := []int64{scoped[0].ID, scoped[1].ID}
	assert.ElementsMatch(t, []int64{it.ID, hr.ID}, ids)
}

func TestStore_CloseStepResolvesDocument(t *testing.T) {
	s := New()
	ctx := context.Background()

	doc := &repository.Document{Title: "Policy", Status: repository.DocumentPending, SubmitterID: 1}
	steps := []*repository.WorkflowStep{
		{StepOrder: 1, ApproverID: 2, Status: repository.StepPending},
		{StepOrder: 2, ApproverID: 3, Status: repository.StepPending},
	}
	require.NoError(t, s.CreateDocument(ctx, doc, steps))

	resolve := func(steps []*repository.WorkflowStep) repository.DocumentStatus {
		for _, st := range steps {
			if st.Status == repository.StepPending {
				return repository.DocumentPending
			}
		}
		return repository.DocumentApproved
	}

	pending, err := s.FindPendingStep(ctx, doc.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, pending)

	d := &repository.StepDecision{
		DocumentID: doc.ID, StepID: pending.ID, ActorID: 2,
		Status: repository.StepApproved, Action: repository.ActionApprove, At: time.Now(),
	}
	got, err := s.CloseStep(ctx, d, resolve)
	require.NoError(t, err)
	assert.Equal(t, repository.DocumentPending, got.Status)

	_, err = s.CloseStep(ctx, d, resolve)
	assert.ErrorIs(t, err, repository.ErrConcurrentUpdate)

	got, err = s.CloseStep(ctx, &repository.StepDecision{
		DocumentID: doc.ID, StepID: steps[1].ID, ActorID: 3,
		Status: repository.StepApproved, Action: repository.ActionApprove, At: time.Now(),
	}, resolve)
	require.NoError(t, err)
	assert.Equal(t, repository.DocumentApproved, got.Status)

	log, err := s.ListDocumentApprovals(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, log, 2)

	visible, err := s.ListDocuments(ctx, repository.DocumentFilter{VisibleTo: &steps[1].ApproverID})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestStore_AnalyticsAggregates(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return clock }))

	alice := &repository.User{Username: "alice", Email: "alice@example.com", IsActive: true}
	bob := &repository.User{Username: "bob", Email: "bob@example.com", IsActive: true}
	require.NoError(t, s.CreateUser(ctx, alice))
	require.NoError(t, s.CreateUser(ctx, bob))

	create := func(department string, submitter int64, at time.Time) *repository.Request {
		clock = at
		req := &repository.Request{Department: department, Status: repository.StatusPending, SubmitterID: submitter}
		require.NoError(t, s.CreateRequest(ctx, req, nil, nil))
		return req
	}
	day1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	first := create("IT", alice.ID, day1)
	create("IT", alice.ID, day1.Add(2*time.Hour))
	create("HR", bob.ID, day1.Add(26*time.Hour))
	create("HR", alice.ID, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := s.ApplyTransition(ctx, &repository.Transition{
		RequestID: first.ID, FromStatus: repository.StatusPending, ToStatus: repository.StatusGeneralApproved,
		Level: repository.LevelGeneral, Action: repository.ActionApprove, ActorID: bob.ID, At: day1.Add(3 * time.Hour),
	})
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	filter := repository.AnalyticsFilter{From: &from}

	counts, err := s.CountByDepartmentStatus(ctx, filter)
	require.NoError(t, err)
	require.Len(t, counts, 3)
	assert.Equal(t, "HR", counts[0].Department)
	assert.Equal(t, 1, counts[0].Requests)
	assert.Equal(t, "IT", counts[1].Department)
	assert.Equal(t, repository.StatusGeneralApproved, counts[1].Status)
	assert.InDelta(t, 3.0, counts[1].ElapsedHours, 1e-9)
	assert.Equal(t, repository.StatusPending, counts[2].Status)

	top, err := s.TopSubmitters(ctx, repository.AnalyticsFilter{}, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "alice", top[0].Username)
	assert.Equal(t, 3, top[0].Requests)

	daily, err := s.DailyVolume(ctx, filter)
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), daily[0].Day)
	assert.Equal(t, 2, daily[0].Requests)
	assert.Equal(t, 1, daily[1].Requests)

	end := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	daily, err = s.DailyVolume(ctx, repository.AnalyticsFilter{From: &from, To: &end})
	require.NoError(t, err)
	require.Len(t, daily, 1)
}

func TestStore_UpdateDocument(t *testing.T) {
	ctx := context.Background()
	s := New()

	doc := &repository.Document{Title: "Draft", Category: "misc", Priority: repository.PriorityNormal, Status: repository.DocumentPending}
	require.NoError(t, s.CreateDocument(ctx, doc, nil))

	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	updated, err := s.UpdateDocument(ctx, &repository.Document{
		ID: doc.ID, Title: "Final", Description: "signed", Category: "contracts", Priority: repository.PriorityHigh,
	}, at)
	require.NoError(t, err)
	assert.Equal(t, "Final", updated.Title)
	assert.Equal(t, repository.PriorityHigh, updated.Priority)
	assert.Equal(t, repository.DocumentPending, updated.Status)
	assert.Equal(t, at, updated.UpdatedAt)

	_, err = s.UpdateDocument(ctx, &repository.Document{ID: 999}, at)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}
