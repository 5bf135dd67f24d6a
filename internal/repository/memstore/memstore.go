// Package memstore is an in-process implementation of every repository used
// by the service layer. A single mutex guards all tables, so every
// multi-row operation is atomic. Records are copied on the way in and out.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

// Store holds all tables in memory.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	seq int64

	users       map[int64]*repository.User
	approvers   map[int64]*repository.DepartmentApprover
	requests    map[int64]*repository.Request
	approvals   map[int64][]*repository.RequestApproval
	flow        map[int64][]*repository.FlowStep
	documents   map[int64]*repository.Document
	steps       map[int64][]*repository.WorkflowStep
	documentLog map[int64][]*repository.DocumentApproval
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		users:       make(map[int64]*repository.User),
		approvers:   make(map[int64]*repository.DepartmentApprover),
		requests:    make(map[int64]*repository.Request),
		approvals:   make(map[int64][]*repository.RequestApproval),
		flow:        make(map[int64][]*repository.FlowStep),
		documents:   make(map[int64]*repository.Document),
		steps:       make(map[int64][]*repository.WorkflowStep),
		documentLog: make(map[int64][]*repository.DocumentApproval),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// nextID must be called with mu held.
func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// ── Users ────────────────────────────────────────────────────────────────────

// CreateUser inserts an account; usernames and emails are unique.
func (s *Store) CreateUser(_ context.Context, u *repository.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username || (u.Email != "" && existing.Email == u.Email) {
			return repository.ErrDuplicateUsername
		}
	}
	u.ID = s.nextID()
	u.CreatedAt = s.now()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(_ context.Context, id int64) (*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(_ context.Context, username string) (*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, errors.NotFound("user", username)
}

// ListUsers returns every user ordered by id.
func (s *Store) ListUsers(_ context.Context) ([]*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.usersWhere(func(*repository.User) bool { return true }), nil
}

// ListUsersByRole returns active users with role, ordered by id.
func (s *Store) ListUsersByRole(_ context.Context, role repository.Role) ([]*repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.usersWhere(func(u *repository.User) bool { return u.Role == role && u.IsActive }), nil
}

func (s *Store) usersWhere(keep func(*repository.User) bool) []*repository.User {
	var out []*repository.User
	for _, u := range s.users {
		if keep(u) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ── Department approvers ─────────────────────────────────────────────────────

// CreateDepartmentApprover inserts an active assignment unless the department already has one.
func (s *Store) CreateDepartmentApprover(_ context.Context, da *repository.DepartmentApprover) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.approvers {
		if existing.IsActive && existing.Department == da.Department {
			return repository.ErrActiveApproverExists
		}
	}
	da.ID = s.nextID()
	da.IsActive = true
	da.CreatedAt = s.now()
	da.DeactivatedAt = nil
	cp := *da
	s.approvers[da.ID] = &cp
	return nil
}

// GetDepartmentApprover retrieves an assignment by id.
func (s *Store) GetDepartmentApprover(_ context.Context, id int64) (*repository.DepartmentApprover, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	da, ok := s.approvers[id]
	if !ok {
		return nil, errors.NotFound("department_approver", id)
	}
	cp := *da
	return &cp, nil
}

// FindActiveDepartmentApprover returns the active assignment of a department, or nil.
func (s *Store) FindActiveDepartmentApprover(_ context.Context, department string) (*repository.DepartmentApprover, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, da := range s.approvers {
		if da.IsActive && da.Department == department {
			cp := *da
			return &cp, nil
		}
	}
	return nil, nil
}

// ListDepartmentApprovers returns assignments ordered by department.
func (s *Store) ListDepartmentApprovers(_ context.Context, activeOnly bool) ([]*repository.DepartmentApprover, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.DepartmentApprover
	for _, da := range s.approvers {
		if activeOnly && !da.IsActive {
			continue
		}
		cp := *da
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Department != out[j].Department {
			return out[i].Department < out[j].Department
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListActiveDepartmentsForApprover returns the departments a user actively approves for.
func (s *Store) ListActiveDepartmentsForApprover(_ context.Context, approverID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, da := range s.approvers {
		if da.IsActive && da.ApproverID == approverID {
			out = append(out, da.Department)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DeactivateDepartmentApprover closes an assignment.
func (s *Store) DeactivateDepartmentApprover(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	da, ok := s.approvers[id]
	if !ok {
		return errors.NotFound("department_approver", id)
	}
	if da.IsActive {
		da.IsActive = false
		da.DeactivatedAt = &at
	}
	return nil
}

// ── Requests ─────────────────────────────────────────────────────────────────

// CreateRequest stores a request with its approval rows and flow rows.
func (s *Store) CreateRequest(_ context.Context, req *repository.Request, approvals []*repository.RequestApproval, flow []*repository.FlowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int]bool, len(flow))
	for _, step := range flow {
		if seen[step.StepNumber] {
			return errors.New(errors.ErrCodeInternal, "duplicate flow step number")
		}
		seen[step.StepNumber] = true
	}

	now := s.now()
	req.ID = s.nextID()
	req.CreatedAt, req.UpdatedAt = now, now
	cp := *req
	s.requests[req.ID] = &cp

	for _, a := range approvals {
		a.ID = s.nextID()
		a.RequestID = req.ID
		a.CreatedAt = now
		ac := *a
		s.approvals[req.ID] = append(s.approvals[req.ID], &ac)
	}
	for _, step := range flow {
		step.ID = s.nextID()
		step.RequestID = req.ID
		step.CreatedAt, step.UpdatedAt = now, now
		sc := *step
		s.flow[req.ID] = append(s.flow[req.ID], &sc)
	}
	s.sortFlow(req.ID)
	return nil
}

// GetRequest retrieves a request by id.
func (s *Store) GetRequest(_ context.Context, id int64) (*repository.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, errors.NotFound("request", id)
	}
	cp := *req
	return &cp, nil
}

// ListRequests returns the requests matching filter, newest first.
func (s *Store) ListRequests(_ context.Context, filter repository.RequestFilter) ([]*repository.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	departments := make(map[string]bool, len(filter.Departments))
	for _, d := range filter.Departments {
		departments[d] = true
	}

	var out []*repository.Request
	for _, req := range s.requests {
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		if filter.SubmitterID != nil && req.SubmitterID != *filter.SubmitterID {
			continue
		}
		if len(departments) > 0 || filter.DepartmentApproverID != nil {
			inDept := departments[req.Department]
			isApprover := filter.DepartmentApproverID != nil && req.DepartmentApproverID != nil &&
				*req.DepartmentApproverID == *filter.DepartmentApproverID
			if !inDept && !isApprover {
				continue
			}
		}
		cp := *req
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ListApprovals returns a request's approval rows in insertion order.
func (s *Store) ListApprovals(_ context.Context, requestID int64) ([]*repository.RequestApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*repository.RequestApproval, 0, len(s.approvals[requestID]))
	for _, a := range s.approvals[requestID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// AppendApproval adds a write-once approval row.
func (s *Store) AppendApproval(_ context.Context, a *repository.RequestApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[a.RequestID]
	if !ok {
		return errors.NotFound("request", a.RequestID)
	}
	now := s.now()
	a.ID = s.nextID()
	a.CreatedAt = now
	cp := *a
	s.approvals[a.RequestID] = append(s.approvals[a.RequestID], &cp)
	req.UpdatedAt = now
	return nil
}

// ApplyTransition applies t while the request is still in t.FromStatus.
func (s *Store) ApplyTransition(_ context.Context, t *repository.Transition) (*repository.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[t.RequestID]
	if !ok {
		return nil, errors.NotFound("request", t.RequestID)
	}
	if req.Status != t.FromStatus {
		return nil, repository.ErrConcurrentUpdate
	}

	req.Status = t.ToStatus
	if t.DepartmentApproverID != nil {
		id := *t.DepartmentApproverID
		req.DepartmentApproverID = &id
	}
	if t.AdminApproverID != nil {
		id := *t.AdminApproverID
		req.AdminApproverID = &id
	}
	req.UpdatedAt = t.At

	actor, at := t.ActorID, t.At
	closed := false
	for _, a := range s.approvals[t.RequestID] {
		if a.ApprovalLevel == t.Level && a.Action == repository.ActionPending {
			a.Action = t.Action
			a.Comments = t.Comments
			a.ActedBy = &actor
			a.ActedAt = &at
			closed = true
			break
		}
	}
	if !closed {
		s.approvals[t.RequestID] = append(s.approvals[t.RequestID], &repository.RequestApproval{
			ID:            s.nextID(),
			RequestID:     t.RequestID,
			ApproverID:    t.ActorID,
			ApprovalLevel: t.Level,
			Action:        t.Action,
			Comments:      t.Comments,
			ActedBy:       &actor,
			ActedAt:       &at,
			CreatedAt:     t.At,
		})
	}

	for _, step := range s.flow[t.RequestID] {
		if step.Level == t.Level && step.Status == repository.FlowPending {
			step.Status = t.FlowStatus
			step.UpdatedAt = t.At
			break
		}
	}

	cp := *req
	return &cp, nil
}

// DeleteRequest removes a request with its approvals and flow.
func (s *Store) DeleteRequest(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[id]; !ok {
		return errors.NotFound("request", id)
	}
	delete(s.requests, id)
	delete(s.approvals, id)
	delete(s.flow, id)
	return nil
}

// ── Flow projection ──────────────────────────────────────────────────────────

// ListFlow returns a request's flow rows by step number.
func (s *Store) ListFlow(_ context.Context, requestID int64) ([]*repository.FlowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*repository.FlowStep, 0, len(s.flow[requestID]))
	for _, step := range s.flow[requestID] {
		cp := *step
		out = append(out, &cp)
	}
	return out, nil
}

// UpsertFlowStep inserts or updates the flow row with the same step number
// and reports whether it inserted.
func (s *Store) UpsertFlowStep(_ context.Context, step *repository.FlowStep) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[step.RequestID]; !ok {
		return false, errors.NotFound("request", step.RequestID)
	}
	for _, existing := range s.flow[step.RequestID] {
		if existing.StepNumber == step.StepNumber {
			if existing.Status != step.Status {
				existing.Status = step.Status
				existing.UpdatedAt = s.now()
			}
			*step = *existing
			return false, nil
		}
	}

	now := s.now()
	step.ID = s.nextID()
	step.CreatedAt, step.UpdatedAt = now, now
	cp := *step
	s.flow[step.RequestID] = append(s.flow[step.RequestID], &cp)
	s.sortFlow(step.RequestID)
	return true, nil
}

func (s *Store) sortFlow(requestID int64) {
	rows := s.flow[requestID]
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].StepNumber < rows[j].StepNumber })
}

// ── Documents ────────────────────────────────────────────────────────────────

// CreateDocument stores a document with its workflow steps.
func (s *Store) CreateDocument(_ context.Context, doc *repository.Document, steps []*repository.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	doc.ID = s.nextID()
	doc.CreatedAt, doc.UpdatedAt = now, now
	cp := *doc
	s.documents[doc.ID] = &cp

	for _, step := range steps {
		step.ID = s.nextID()
		step.DocumentID = doc.ID
		step.CreatedAt = now
		sc := *step
		s.steps[doc.ID] = append(s.steps[doc.ID], &sc)
	}
	rows := s.steps[doc.ID]
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].StepOrder < rows[j].StepOrder })
	return nil
}

// GetDocument retrieves a document by id.
func (s *Store) GetDocument(_ context.Context, id int64) (*repository.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, errors.NotFound("document", id)
	}
	cp := *doc
	return &cp, nil
}

// ListDocuments returns the documents matching filter, newest first.
func (s *Store) ListDocuments(_ context.Context, filter repository.DocumentFilter) ([]*repository.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.Document
	for _, doc := range s.documents {
		if filter.VisibleTo != nil && !s.visibleTo(doc, *filter.VisibleTo) {
			continue
		}
		cp := *doc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) visibleTo(doc *repository.Document, userID int64) bool {
	if doc.SubmitterID == userID {
		return true
	}
	for _, step := range s.steps[doc.ID] {
		if step.ApproverID == userID {
			return true
		}
	}
	return false
}

// ListSteps returns the steps of a document by step order.
func (s *Store) ListSteps(_ context.Context, documentID int64) ([]*repository.WorkflowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.copySteps(documentID), nil
}

func (s *Store) copySteps(documentID int64) []*repository.WorkflowStep {
	out := make([]*repository.WorkflowStep, 0, len(s.steps[documentID]))
	for _, step := range s.steps[documentID] {
		cp := *step
		out = append(out, &cp)
	}
	return out
}

// FindPendingStep returns the approver's pending step, or nil.
func (s *Store) FindPendingStep(_ context.Context, documentID, approverID int64) (*repository.WorkflowStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, step := range s.steps[documentID] {
		if step.ApproverID == approverID && step.Status == repository.StepPending {
			cp := *step
			return &cp, nil
		}
	}
	return nil, nil
}

// CloseStep closes one pending step and re-derives the document status.
func (s *Store) CloseStep(_ context.Context, d *repository.StepDecision, resolve func([]*repository.WorkflowStep) repository.DocumentStatus) (*repository.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[d.DocumentID]
	if !ok {
		return nil, errors.NotFound("document", d.DocumentID)
	}
	if doc.Status != repository.DocumentPending {
		return nil, repository.ErrConcurrentUpdate
	}

	var target *repository.WorkflowStep
	for _, step := range s.steps[d.DocumentID] {
		if step.ID == d.StepID {
			target = step
			break
		}
	}
	if target == nil || target.Status != repository.StepPending {
		return nil, repository.ErrConcurrentUpdate
	}

	at := d.At
	target.Status = d.Status
	target.Comments = d.Comments
	target.CompletedAt = &at

	s.documentLog[d.DocumentID] = append(s.documentLog[d.DocumentID], &repository.DocumentApproval{
		ID:         s.nextID(),
		DocumentID: d.DocumentID,
		ApproverID: d.ActorID,
		Action:     d.Action,
		Comments:   d.Comments,
		CreatedAt:  d.At,
	})

	if next := resolve(s.copySteps(d.DocumentID)); next != doc.Status {
		doc.Status = next
		doc.UpdatedAt = d.At
	}
	cp := *doc
	return &cp, nil
}

// UpdateDocumentStatus moves a document from one status to another.
func (s *Store) UpdateDocumentStatus(_ context.Context, id int64, from, to repository.DocumentStatus, at time.Time) (*repository.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, errors.NotFound("document", id)
	}
	if doc.Status != from {
		return nil, repository.ErrConcurrentUpdate
	}
	doc.Status = to
	doc.UpdatedAt = at
	cp := *doc
	return &cp, nil
}

// UpdateDocument rewrites the editable fields of a document.
func (s *Store) UpdateDocument(_ context.Context, doc *repository.Document, at time.Time) (*repository.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.documents[doc.ID]
	if !ok {
		return nil, errors.NotFound("document", doc.ID)
	}
	existing.Title = doc.Title
	existing.Description = doc.Description
	existing.Category = doc.Category
	existing.Priority = doc.Priority
	existing.UpdatedAt = at
	cp := *existing
	return &cp, nil
}

// AppendDocumentApproval adds an entry to the document log.
func (s *Store) AppendDocumentApproval(_ context.Context, a *repository.DocumentApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[a.DocumentID]; !ok {
		return errors.NotFound("document", a.DocumentID)
	}
	a.ID = s.nextID()
	a.CreatedAt = s.now()
	cp := *a
	s.documentLog[a.DocumentID] = append(s.documentLog[a.DocumentID], &cp)
	return nil
}

// ListDocumentApprovals returns the document log in insertion order.
func (s *Store) ListDocumentApprovals(_ context.Context, documentID int64) ([]*repository.DocumentApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*repository.DocumentApproval, 0, len(s.documentLog[documentID]))
	for _, a := range s.documentLog[documentID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// ── Analytics ────────────────────────────────────────────────────────────────

// requestsIn must be called with mu held.
func (s *Store) requestsIn(filter repository.AnalyticsFilter) []*repository.Request {
	var out []*repository.Request
	for _, req := range s.requests {
		if filter.From != nil && req.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !req.CreatedAt.Before(*filter.To) {
			continue
		}
		out = append(out, req)
	}
	return out
}

// CountByDepartmentStatus groups requests by department and status.
func (s *Store) CountByDepartmentStatus(_ context.Context, filter repository.AnalyticsFilter) ([]*repository.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		department string
		status     repository.RequestStatus
	}
	groups := make(map[key]*repository.StatusCount)
	for _, req := range s.requestsIn(filter) {
		k := key{req.Department, req.Status}
		c, ok := groups[k]
		if !ok {
			c = &repository.StatusCount{Department: req.Department, Status: req.Status}
			groups[k] = c
		}
		c.Requests++
		c.ElapsedHours += req.UpdatedAt.Sub(req.CreatedAt).Hours()
	}

	out := make([]*repository.StatusCount, 0, len(groups))
	for _, c := range groups {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Department != out[j].Department {
			return out[i].Department < out[j].Department
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

// TopSubmitters returns the users with the most requests, busiest first.
func (s *Store) TopSubmitters(_ context.Context, filter repository.AnalyticsFilter, limit int) ([]*repository.SubmitterCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[int64]*repository.SubmitterCount)
	for _, req := range s.requestsIn(filter) {
		c, ok := counts[req.SubmitterID]
		if !ok {
			u, found := s.users[req.SubmitterID]
			if !found {
				continue
			}
			c = &repository.SubmitterCount{SubmitterID: u.ID, Username: u.Username}
			counts[req.SubmitterID] = c
		}
		c.Requests++
	}

	out := make([]*repository.SubmitterCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].SubmitterID < out[j].SubmitterID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DailyVolume counts requests per UTC day, oldest first.
func (s *Store) DailyVolume(_ context.Context, filter repository.AnalyticsFilter) ([]*repository.DailyCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	days := make(map[time.Time]*repository.DailyCount)
	for _, req := range s.requestsIn(filter) {
		day := req.CreatedAt.UTC().Truncate(24 * time.Hour)
		c, ok := days[day]
		if !ok {
			c = &repository.DailyCount{Day: day}
			days[day] = c
		}
		c.Requests++
	}

	out := make([]*repository.DailyCount, 0, len(days))
	for _, c := range days {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}
