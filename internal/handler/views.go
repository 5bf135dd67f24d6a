package handler

import (
	"time"

	"github.com/pesio-ai/be-request-workflow/internal/repository"
	"github.com/pesio-ai/be-request-workflow/internal/service"
)

// JSON shapes shared by the HTTP and gRPC surfaces.

type userView struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Department string    `json:"department,omitempty"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

func toUserView(u *repository.User) userView {
	return userView{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		Role:       string(u.Role),
		Department: u.Department,
		IsActive:   u.IsActive,
		CreatedAt:  u.CreatedAt,
	}
}

type departmentApproverView struct {
	ID            int64      `json:"id"`
	Department    string     `json:"department"`
	ApproverID    int64      `json:"approver_id"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

func toDepartmentApproverView(da *repository.DepartmentApprover) departmentApproverView {
	return departmentApproverView{
		ID:            da.ID,
		Department:    da.Department,
		ApproverID:    da.ApproverID,
		IsActive:      da.IsActive,
		CreatedAt:     da.CreatedAt,
		DeactivatedAt: da.DeactivatedAt,
	}
}

type requestView struct {
	ID                   int64     `json:"id"`
	Title                string    `json:"title"`
	Message              string    `json:"message"`
	Department           string    `json:"department"`
	Status               string    `json:"status"`
	Priority             string    `json:"priority"`
	SubmitterID          int64     `json:"submitter_id"`
	DepartmentApproverID *int64    `json:"department_approver_id,omitempty"`
	AdminApproverID      *int64    `json:"admin_approver_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func toRequestView(r *repository.Request) requestView {
	return requestView{
		ID:                   r.ID,
		Title:                r.Title,
		Message:              r.Message,
		Department:           r.Department,
		Status:               string(r.Status),
		Priority:             string(r.Priority),
		SubmitterID:          r.SubmitterID,
		DepartmentApproverID: r.DepartmentApproverID,
		AdminApproverID:      r.AdminApproverID,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func toRequestViews(reqs []*repository.Request) []requestView {
	out := make([]requestView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, toRequestView(r))
	}
	return out
}

type approvalView struct {
	ID            int64      `json:"id"`
	ApproverID    int64      `json:"approver_id"`
	ApprovalLevel string     `json:"approval_level"`
	Action        string     `json:"action"`
	Comments      string     `json:"comments,omitempty"`
	ActedBy       *int64     `json:"acted_by,omitempty"`
	ActedAt       *time.Time `json:"acted_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type flowStepView struct {
	StepNumber       int    `json:"step_number"`
	StepName         string `json:"step_name"`
	AssignedUserID   int64  `json:"assigned_user_id"`
	AssignedUsername string `json:"assigned_username"`
	Role             string `json:"role"`
	Department       string `json:"department"`
	Status           string `json:"status"`
}

func toFlowViews(rows []*repository.FlowStep) []flowStepView {
	out := make([]flowStepView, 0, len(rows))
	for _, f := range rows {
		out = append(out, flowStepView{
			StepNumber:       f.StepNumber,
			StepName:         f.StepName,
			AssignedUserID:   f.AssignedUserID,
			AssignedUsername: f.AssignedUsername,
			Role:             f.Role,
			Department:       f.Department,
			Status:           string(f.Status),
		})
	}
	return out
}

type requestDetailView struct {
	Request   requestView    `json:"request"`
	Approvals []approvalView `json:"approvals"`
	Flow      []flowStepView `json:"flow"`
}

func toRequestDetailView(d *service.RequestDetail) requestDetailView {
	approvals := make([]approvalView, 0, len(d.Approvals))
	for _, a := range d.Approvals {
		approvals = append(approvals, approvalView{
			ID:            a.ID,
			ApproverID:    a.ApproverID,
			ApprovalLevel: string(a.ApprovalLevel),
			Action:        string(a.Action),
			Comments:      a.Comments,
			ActedBy:       a.ActedBy,
			ActedAt:       a.ActedAt,
			CreatedAt:     a.CreatedAt,
		})
	}
	return requestDetailView{
		Request:   toRequestView(d.Request),
		Approvals: approvals,
		Flow:      toFlowViews(d.Flow),
	}
}

type documentView struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	Category    string    `json:"category,omitempty"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	SubmitterID int64     `json:"submitter_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toDocumentView(d *repository.Document) documentView {
	return documentView{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Filename:    d.Filename,
		Category:    d.Category,
		Priority:    string(d.Priority),
		Status:      string(d.Status),
		SubmitterID: d.SubmitterID,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

type documentStepView struct {
	StepOrder   int        `json:"step_order"`
	ApproverID  int64      `json:"approver_id"`
	Status      string     `json:"status"`
	Comments    string     `json:"comments,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type documentApprovalView struct {
	ID         int64     `json:"id"`
	ApproverID int64     `json:"approver_id"`
	Action     string    `json:"action"`
	Comments   string    `json:"comments,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toDocumentApprovalView(a *repository.DocumentApproval) documentApprovalView {
	return documentApprovalView{
		ID:         a.ID,
		ApproverID: a.ApproverID,
		Action:     string(a.Action),
		Comments:   a.Comments,
		CreatedAt:  a.CreatedAt,
	}
}

type documentDetailView struct {
	Document  documentView           `json:"document"`
	Steps     []documentStepView     `json:"steps"`
	Approvals []documentApprovalView `json:"approvals"`
}

func toDocumentDetailView(d *service.DocumentDetail) documentDetailView {
	steps := make([]documentStepView, 0, len(d.Steps))
	for _, s := range d.Steps {
		steps = append(steps, documentStepView{
			StepOrder:   s.StepOrder,
			ApproverID:  s.ApproverID,
			Status:      string(s.Status),
			Comments:    s.Comments,
			CompletedAt: s.CompletedAt,
		})
	}
	log := make([]documentApprovalView, 0, len(d.Approvals))
	for _, a := range d.Approvals {
		log = append(log, toDocumentApprovalView(a))
	}
	return documentDetailView{
		Document:  toDocumentView(d.Document),
		Steps:     steps,
		Approvals: log,
	}
}
