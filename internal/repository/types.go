package repository

import "time"

// ── Identity ─────────────────────────────────────────────────────────────────

// Role is a user's authorization role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleApprover Role = "approver"
	RoleUser     Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleApprover, RoleUser:
		return true
	}
	return false
}

// User is an account that submits or approves work.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	Department   string
	IsActive     bool
	CreatedAt    time.Time
}

// DepartmentApprover maps a department to its approver. At most one row per
// department is active at any time; deactivated rows are kept for audit.
type DepartmentApprover struct {
	ID            int64
	Department    string
	ApproverID    int64
	IsActive      bool
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// ── Requests ─────────────────────────────────────────────────────────────────

// RequestStatus is the canonical workflow state of a request.
type RequestStatus string

const (
	StatusPending            RequestStatus = "pending"
	StatusGeneralApproved    RequestStatus = "general_approved"
	StatusDepartmentApproved RequestStatus = "department_approved"
	StatusAdminApproved      RequestStatus = "admin_approved"
	StatusRejected           RequestStatus = "rejected"
)

// Terminal reports whether no further transition is accepted.
func (s RequestStatus) Terminal() bool {
	return s == StatusAdminApproved || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusGeneralApproved, StatusDepartmentApproved, StatusAdminApproved, StatusRejected:
		return true
	}
	return false
}

// Priority of a request or document.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ApprovalLevel is the stage an approval row belongs to.
type ApprovalLevel string

const (
	LevelSubmitter  ApprovalLevel = "submitter" // flow rows only
	LevelGeneral    ApprovalLevel = "general"
	LevelDepartment ApprovalLevel = "department"
	LevelAdmin      ApprovalLevel = "admin"
)

// ApprovalAction is what happened at a stage.
type ApprovalAction string

const (
	ActionPending ApprovalAction = "pending"
	ActionApprove ApprovalAction = "approve"
	ActionReject  ApprovalAction = "reject"
	ActionComment ApprovalAction = "comment"
)

// Request is the canonical workflow entity.
type Request struct {
	ID                   int64
	Title                string
	Message              string
	Department           string
	Status               RequestStatus
	Priority             Priority
	SubmitterID          int64
	DepartmentApproverID *int64
	AdminApproverID      *int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// RequestApproval is one stage record. Pending rows are placeholders that
// get closed in place; every other row is write-once.
type RequestApproval struct {
	ID            int64
	RequestID     int64
	ApproverID    int64
	ApprovalLevel ApprovalLevel
	Action        ApprovalAction
	Comments      string
	ActedBy       *int64
	ActedAt       *time.Time
	CreatedAt     time.Time
}

// FlowStatus is the display status of a flow row.
type FlowStatus string

const (
	FlowPending   FlowStatus = "pending"
	FlowApproved  FlowStatus = "approved"
	FlowRejected  FlowStatus = "rejected"
	FlowCompleted FlowStatus = "completed"
)

// FlowStep is one row of the per-request approval timeline projection.
type FlowStep struct {
	ID               int64
	RequestID        int64
	StepNumber       int
	StepName         string
	Level            ApprovalLevel
	AssignedUserID   int64
	AssignedUsername string
	Role             string
	Department       string
	Status           FlowStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Transition is one atomic state change on a request. The store applies it
// only while the request is still in FromStatus.
type Transition struct {
	RequestID  int64
	FromStatus RequestStatus
	ToStatus   RequestStatus
	Level      ApprovalLevel
	Action     ApprovalAction
	ActorID    int64
	Comments   string
	FlowStatus FlowStatus

	// Set only when the stage records its approver on the request.
	DepartmentApproverID *int64
	AdminApproverID      *int64

	At time.Time
}

// RequestFilter narrows a request listing. Empty fields do not filter.
type RequestFilter struct {
	Status      *RequestStatus
	SubmitterID *int64
	// Matches requests in any of these departments or whose department
	// approver is DepartmentApproverID.
	Departments          []string
	DepartmentApproverID *int64
}

// ── Analytics ────────────────────────────────────────────────────────────────

// AnalyticsFilter restricts aggregates to requests created in [From, To).
// Nil bounds are open.
type AnalyticsFilter struct {
	From *time.Time
	To   *time.Time
}

// StatusCount aggregates the requests of one department in one status.
type StatusCount struct {
	Department string
	Status     RequestStatus
	Requests   int
	// ElapsedHours sums updated_at - created_at over those requests.
	ElapsedHours float64
}

// SubmitterCount is the number of requests one user submitted.
type SubmitterCount struct {
	SubmitterID int64
	Username    string
	Requests    int
}

// DailyCount is the number of requests created on one UTC day.
type DailyCount struct {
	Day      time.Time
	Requests int
}

// ── Documents ────────────────────────────────────────────────────────────────

// DocumentStatus is the state of an uploaded document.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentApproved DocumentStatus = "approved"
	DocumentRejected DocumentStatus = "rejected"
	DocumentArchived DocumentStatus = "archived"
)

// Terminal reports whether approvals are no longer accepted.
func (s DocumentStatus) Terminal() bool {
	return s != DocumentPending
}

// StepStatus is the state of a document workflow step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// Document is an uploaded document routed through a fixed approval list.
type Document struct {
	ID          int64
	Title       string
	Description string
	Filename    string
	Category    string
	Priority    Priority
	Status      DocumentStatus
	SubmitterID int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WorkflowStep is one per-approver gate on a document.
type WorkflowStep struct {
	ID          int64
	DocumentID  int64
	StepOrder   int
	ApproverID  int64
	Status      StepStatus
	Comments    string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// DocumentApproval is the append-only action log of a document.
type DocumentApproval struct {
	ID         int64
	DocumentID int64
	ApproverID int64
	Action     ApprovalAction
	Comments   string
	CreatedAt  time.Time
}

// StepDecision closes one pending document step.
type StepDecision struct {
	DocumentID int64
	StepID     int64
	ActorID    int64
	Status     StepStatus
	Action     ApprovalAction
	Comments   string
	At         time.Time
}

// DocumentFilter narrows a document listing. A nil VisibleTo lists all.
type DocumentFilter struct {
	// Documents submitted by, or with a step assigned to, this user.
	VisibleTo *int64
}
