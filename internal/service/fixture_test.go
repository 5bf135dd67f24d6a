package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
	"github.com/pesio-ai/be-request-workflow/internal/repository/memstore"
)

// fixture is a populated in-memory deployment: one admin, the general
// approver, an IT and an HR department approver, two plain users.
type fixture struct {
	store    *memstore.Store
	bindings RoleBindings

	admin    *repository.User
	general  *repository.User
	itLead   *repository.User
	hrLead   *repository.User
	alice    *repository.User
	bob      *repository.User
	notifier *recordingNotifier

	engine    *WorkflowEngine
	flow      *FlowProjection
	documents *DocumentEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()

	mk := func(username string, role repository.Role, department string) *repository.User {
		u := &repository.User{
			Username:   username,
			Email:      username + "@example.com",
			Role:       role,
			Department: department,
			IsActive:   true,
		}
		require.NoError(t, store.CreateUser(ctx, u))
		return u
	}

	f := &fixture{store: store, notifier: &recordingNotifier{}}
	f.admin = mk("admin", repository.RoleAdmin, "Admin")
	f.general = mk("general_approver", repository.RoleApprover, "General")
	f.itLead = mk("it_lead", repository.RoleApprover, "IT")
	f.hrLead = mk("hr_lead", repository.RoleApprover, "HR")
	f.alice = mk("alice", repository.RoleUser, "Sales")
	f.bob = mk("bob", repository.RoleUser, "IT")

	require.NoError(t, store.CreateDepartmentApprover(ctx, &repository.DepartmentApprover{Department: "IT", ApproverID: f.itLead.ID}))
	require.NoError(t, store.CreateDepartmentApprover(ctx, &repository.DepartmentApprover{Department: "HR", ApproverID: f.hrLead.ID}))

	f.bindings = RoleBindings{GeneralApproverID: f.general.ID, AdminPool: []int64{f.admin.ID}}
	f.build()
	return f
}

// build (re)creates the services from the current bindings.
func (f *fixture) build(opts ...EngineOption) {
	log := logger.Nop()
	opts = append([]EngineOption{WithNotifier(f.notifier)}, opts...)
	f.engine = NewWorkflowEngine(f.store, f.store, f.store, f.store, f.bindings, log, opts...)
	f.flow = NewFlowProjection(f.store, f.store, f.store, f.store, f.bindings, log)
	f.documents = NewDocumentEngine(f.store, f.store, f.bindings, f.notifier, log)
}

func (f *fixture) submit(t *testing.T, department string) *repository.Request {
	t.Helper()
	detail, err := f.engine.CreateRequest(context.Background(), f.alice.ID, CreateRequestInput{
		Message:    "Please provision a new laptop",
		Department: department,
	})
	require.NoError(t, err)
	return detail.Request
}

// decide acts on the stage the request is at right now.
func (f *fixture) decide(id, actor int64, action repository.ApprovalAction) (*repository.Request, error) {
	ctx := context.Background()
	req, err := f.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	seen := req.Status
	return f.engine.Decide(ctx, DecisionInput{RequestID: id, ActorID: actor, Action: action, ExpectedStatus: &seen})
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []WorkflowEvent
}

func (n *recordingNotifier) Publish(_ context.Context, e WorkflowEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type staticSuggester string

func (s staticSuggester) SuggestDepartment(context.Context, string) (string, error) {
	return string(s), nil
}
