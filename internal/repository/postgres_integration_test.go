//go:build integration

// Integration tests for the Postgres repositories. They start a disposable
// Postgres container and need Docker:
//
//	go test -tags=integration ./internal/repository/...
package repository_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/pesio-ai/be-request-workflow/internal/platform/database"
	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
	"github.com/pesio-ai/be-request-workflow/internal/service"
)

type pgStores struct {
	users     *repository.UserRepository
	approvers *repository.DepartmentApproverRepository
	requests  *repository.RequestRepository
	flow      *repository.FlowRepository
	documents documentStore
	analytics *repository.AnalyticsRepository
}

type documentStore struct {
	*repository.DocumentRepository
	*repository.DocumentApprovalRepository
}

func startPostgres(t *testing.T) *pgStores {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("workflow"),
		postgres.WithUsername("workflow"),
		postgres.WithPassword("workflow"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.New(ctx, database.Config{DSN: dsn, MaxConns: 20})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, repository.Migrate(ctx, db))
	// Applying the schema twice must be harmless.
	require.NoError(t, repository.Migrate(ctx, db))

	return &pgStores{
		users:     repository.NewUserRepository(db),
		approvers: repository.NewDepartmentApproverRepository(db),
		requests:  repository.NewRequestRepository(db),
		flow:      repository.NewFlowRepository(db),
		documents: documentStore{
			DocumentRepository:         repository.NewDocumentRepository(db),
			DocumentApprovalRepository: repository.NewDocumentApprovalRepository(db),
		},
		analytics: repository.NewAnalyticsRepository(db),
	}
}

type pgFixture struct {
	stores   *pgStores
	resolver *service.BindingsResolver
	registry *service.IdentityRegistry
	engine   *service.WorkflowEngine
	flow     *service.FlowProjection
	docs     *service.DocumentEngine
	reports  *service.Analytics
	ids      map[string]int64
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()
	ctx := context.Background()
	log := logger.Nop()
	s := startPostgres(t)

	resolver := service.NewBindingsResolver(s.users, "general_approver", log)
	registry := service.NewIdentityRegistry(s.users, s.approvers, resolver, log)

	f := &pgFixture{stores: s, resolver: resolver, registry: registry, ids: map[string]int64{}}
	for _, in := range []service.NewUser{
		{Username: "admin", Email: "admin@example.com", Password: "admin123", Role: repository.RoleAdmin},
		{Username: "general_approver", Email: "ga@example.com", Password: "approver123", Role: repository.RoleApprover},
		{Username: "it_approver", Email: "it@example.com", Password: "approver123", Role: repository.RoleApprover, Department: "IT"},
		{Username: "alice", Email: "alice@example.com", Password: "alice123", Role: repository.RoleUser, Department: "Sales"},
	} {
		u, err := registry.ProvisionUser(ctx, in)
		require.NoError(t, err)
		f.ids[u.Username] = u.ID
	}
	_, err := registry.ProvisionDepartmentApprover(ctx, "IT", f.ids["it_approver"])
	require.NoError(t, err)

	f.engine = service.NewWorkflowEngine(s.users, s.approvers, s.requests, s.flow, resolver, log)
	f.flow = service.NewFlowProjection(s.users, s.approvers, s.requests, s.flow, resolver, log)
	f.docs = service.NewDocumentEngine(s.users, s.documents, resolver, nil, log)
	f.reports = service.NewAnalytics(s.users, s.analytics, log)
	return f
}

func TestPostgres_UserConstraints(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)

	err := f.stores.users.CreateUser(ctx, &repository.User{
		Username: "alice", Email: "other@example.com", PasswordHash: "x", Role: repository.RoleUser, IsActive: true,
	})
	assert.True(t, errors.Is(err, repository.ErrDuplicateUsername))

	u, err := f.stores.users.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Sales", u.Department)

	_, err = f.stores.users.GetUser(ctx, 999999)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))

	approvers, err := f.stores.users.ListUsersByRole(ctx, repository.RoleApprover)
	require.NoError(t, err)
	require.Len(t, approvers, 2)
	assert.Less(t, approvers[0].ID, approvers[1].ID)
}

func TestPostgres_OneActiveApproverPerDepartment(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)

	err := f.stores.approvers.CreateDepartmentApprover(ctx, &repository.DepartmentApprover{
		Department: "IT", ApproverID: f.ids["general_approver"],
	})
	assert.True(t, errors.Is(err, repository.ErrActiveApproverExists))

	active, err := f.stores.approvers.FindActiveDepartmentApprover(ctx, "IT")
	require.NoError(t, err)
	require.NotNil(t, active)
	require.NoError(t, f.stores.approvers.DeactivateDepartmentApprover(ctx, active.ID, time.Now().UTC()))

	none, err := f.stores.approvers.FindActiveDepartmentApprover(ctx, "IT")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, f.stores.approvers.CreateDepartmentApprover(ctx, &repository.DepartmentApprover{
		Department: "IT", ApproverID: f.ids["general_approver"],
	}))
	all, err := f.stores.approvers.ListDepartmentApprovers(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPostgres_RequestLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)

	detail, err := f.engine.CreateRequest(ctx, f.ids["alice"], service.CreateRequestInput{
		Message: "New laptop", Department: "IT",
	})
	require.NoError(t, err)
	id := detail.Request.ID
	require.Len(t, detail.Approvals, 3)
	require.Len(t, detail.Flow, 4)

	seen := repository.StatusPending
	for _, actor := range []string{"general_approver", "it_approver", "admin"} {
		updated, err := f.engine.Decide(ctx, service.DecisionInput{
			RequestID: id, ActorID: f.ids[actor], Action: repository.ActionApprove, ExpectedStatus: &seen,
		})
		require.NoError(t, err, actor)
		seen = updated.Status
	}

	req, err := f.stores.requests.GetRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusAdminApproved, req.Status)
	require.NotNil(t, req.AdminApproverID)
	assert.Equal(t, f.ids["admin"], *req.AdminApproverID)

	flow, err := f.stores.flow.ListFlow(ctx, id)
	require.NoError(t, err)
	require.Len(t, flow, 4)
	assert.Equal(t, repository.FlowCompleted, flow[0].Status)
	for _, row := range flow[1:] {
		assert.Equal(t, repository.FlowApproved, row.Status, row.StepName)
	}

	approvals, err := f.stores.requests.ListApprovals(ctx, id)
	require.NoError(t, err)
	for _, a := range approvals {
		assert.Equal(t, repository.ActionApprove, a.Action)
		assert.NotNil(t, a.ActedAt)
	}

	report, err := f.flow.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, service.RebuildReport{Requests: 1}, *report)

	require.NoError(t, f.engine.DeleteRequest(ctx, f.ids["admin"], id))
	_, err = f.stores.requests.GetRequest(ctx, id)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
	flow, err = f.stores.flow.ListFlow(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, flow)
}

func TestPostgres_ConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)

	detail, err := f.engine.CreateRequest(ctx, f.ids["alice"], service.CreateRequestInput{
		Message: "VPN access", Department: "IT",
	})
	require.NoError(t, err)

	const workers = 8
	pending := repository.StatusPending
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		actor := f.ids["general_approver"]
		if i%2 == 0 {
			actor = f.ids["admin"]
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Decide(ctx, service.DecisionInput{
				RequestID:      detail.Request.ID,
				ActorID:        actor,
				Action:         repository.ActionApprove,
				ExpectedStatus: &pending,
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.True(t,
				errors.Is(err, service.ErrStaleState) || errors.Is(err, service.ErrWorkflowAlreadyClosed),
				err.Error())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)

	req, err := f.stores.requests.GetRequest(ctx, detail.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusGeneralApproved, req.Status)
}

func TestPostgres_DocumentWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)

	detail, err := f.docs.Submit(ctx, f.ids["alice"], service.SubmitDocumentInput{Title: "NDA"})
	require.NoError(t, err)
	id := detail.Document.ID

	_, err = f.docs.Comment(ctx, id, f.ids["alice"], "please review")
	require.NoError(t, err)

	doc, err := f.docs.Approve(ctx, id, f.ids["general_approver"], repository.ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, repository.DocumentPending, doc.Status)

	doc, err = f.docs.Approve(ctx, id, f.ids["it_approver"], repository.ActionReject, "missing clause")
	require.NoError(t, err)
	assert.Equal(t, repository.DocumentRejected, doc.Status)

	_, err = f.docs.Approve(ctx, id, f.ids["admin"], repository.ActionApprove, "")
	assert.True(t, errors.Is(err, service.ErrWorkflowAlreadyClosed))

	got, err := f.docs.Get(ctx, id, f.ids["admin"])
	require.NoError(t, err)
	assert.Len(t, got.Approvals, 3)
	assert.Equal(t, repository.StepPending, got.Steps[2].Status)

	visible, err := f.stores.documents.ListDocuments(ctx, repository.DocumentFilter{VisibleTo: ptr(f.ids["it_approver"])})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestPostgres_Analytics(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)

	var ids []int64
	for _, msg := range []string{"VPN access", "New laptop", "Printer"} {
		detail, err := f.engine.CreateRequest(ctx, f.ids["alice"], service.CreateRequestInput{Message: msg, Department: "IT"})
		require.NoError(t, err)
		ids = append(ids, detail.Request.ID)
	}
	pending := repository.StatusPending
	_, err := f.engine.Decide(ctx, service.DecisionInput{
		RequestID: ids[0], ActorID: f.ids["general_approver"], Action: repository.ActionApprove, ExpectedStatus: &pending,
	})
	require.NoError(t, err)
	_, err = f.engine.Decide(ctx, service.DecisionInput{
		RequestID: ids[1], ActorID: f.ids["admin"], Action: repository.ActionReject, ExpectedStatus: &pending,
	})
	require.NoError(t, err)

	counts, err := f.stores.analytics.CountByDepartmentStatus(ctx, repository.AnalyticsFilter{})
	require.NoError(t, err)
	require.Len(t, counts, 3)
	for _, c := range counts {
		assert.Equal(t, "IT", c.Department)
		assert.Equal(t, 1, c.Requests, c.Status)
		assert.GreaterOrEqual(t, c.ElapsedHours, 0.0)
	}

	top, err := f.stores.analytics.TopSubmitters(ctx, repository.AnalyticsFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "alice", top[0].Username)
	assert.Equal(t, 3, top[0].Requests)

	future := time.Now().Add(24 * time.Hour)
	daily, err := f.stores.analytics.DailyVolume(ctx, repository.AnalyticsFilter{From: &future})
	require.NoError(t, err)
	assert.Empty(t, daily)

	today := time.Now().UTC()
	d, err := f.reports.Dashboard(ctx, f.ids["admin"], service.DateRange{From: &today, To: &today})
	require.NoError(t, err)
	assert.Equal(t, 3, d.TotalRequests)
	assert.Equal(t, 1, d.ApprovedRequests)
	assert.Equal(t, 1, d.RejectedRequests)
	require.Len(t, d.VolumeTrend, 1)
	assert.Equal(t, 3, d.VolumeTrend[0].Requests)
}

func TestPostgres_DocumentEditAndFieldLimits(t *testing.T) {
	ctx := context.Background()
	f := newPGFixture(t)

	detail, err := f.docs.Submit(ctx, f.ids["alice"], service.SubmitDocumentInput{Title: "NDA", Category: "legal"})
	require.NoError(t, err)

	title := "Mutual NDA"
	priority := repository.PriorityHigh
	doc, err := f.docs.Edit(ctx, detail.Document.ID, f.ids["admin"], service.EditDocumentInput{Title: &title, Priority: &priority})
	require.NoError(t, err)
	assert.Equal(t, "Mutual NDA", doc.Title)
	assert.Equal(t, "legal", doc.Category)
	assert.Equal(t, repository.PriorityHigh, doc.Priority)
	assert.True(t, doc.UpdatedAt.After(detail.Document.UpdatedAt) || doc.UpdatedAt.Equal(detail.Document.UpdatedAt))

	_, err = f.engine.CreateRequest(ctx, f.ids["alice"], service.CreateRequestInput{
		Title: strings.Repeat("t", 201), Message: "x", Department: "IT",
	})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	_, err = f.engine.CreateWorkflowRequest(ctx, f.ids["alice"], service.CreateWorkflowInput{
		Title: "t", Message: "x", Steps: []service.CustomStep{{Department: strings.Repeat("d", 51)}},
	})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func ptr(v int64) *int64 { return &v }
