package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pesio-ai/be-request-workflow/internal/auth"
	"github.com/pesio-ai/be-request-workflow/internal/client"
	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
	"github.com/pesio-ai/be-request-workflow/internal/service"
)

// Services are the collaborators the transport layer calls into.
type Services struct {
	Workflow  *service.WorkflowEngine
	Flow      *service.FlowProjection
	Documents *service.DocumentEngine
	Identity  *service.IdentityRegistry
	Analytics *service.Analytics
	Advisor   *client.DepartmentRouter // optional
	Tokens    *auth.TokenManager
	// Ready, when set, backs the health endpoint.
	Ready func(context.Context) error
}

// HTTPHandler serves the JSON API.
type HTTPHandler struct {
	svc Services
	log *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc Services, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc: svc,
		log: log.Component("http"),
	}
}

// Routes builds the router with its middleware chain.
func (h *HTTPHandler) Routes(requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(h.log))
	r.Use(Recoverer(h.log))
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(h.svc.Tokens))

			r.Get("/me", h.Me)
			r.Get("/users", h.ListUsers)
			r.Post("/users", h.CreateUser)

			r.Get("/department-approvers", h.ListDepartmentApprovers)
			r.Post("/department-approvers", h.AssignDepartmentApprover)
			r.Delete("/department-approvers/{id}", h.DeactivateDepartmentApprover)

			r.Post("/advisor/route-message", h.RouteMessage)

			r.Get("/requests", h.ListRequests)
			r.Post("/requests", h.CreateRequest)
			r.Post("/requests/workflow", h.CreateWorkflowRequest)
			r.Get("/requests/{id}", h.GetRequest)
			r.Delete("/requests/{id}", h.DeleteRequest)
			r.Get("/requests/{id}/flow", h.GetRequestFlow)
			r.Post("/requests/{id}/decision", h.DecideRequest)

			r.Get("/documents", h.ListDocuments)
			r.Post("/documents", h.SubmitDocument)
			r.Get("/documents/{id}", h.GetDocument)
			r.Post("/documents/{id}/decision", h.DecideDocument)
			r.Post("/documents/{id}/comments", h.CommentDocument)
			r.Patch("/documents/{id}", h.EditDocument)
			r.Post("/documents/{id}/archive", h.ArchiveDocument)

			r.Get("/analytics/dashboard", h.AnalyticsDashboard)

			r.Post("/admin/flow/rebuild", h.RebuildFlow)
		})
	})
	return r
}

// Health reports liveness, and readiness when a probe is configured.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.svc.Ready != nil {
		if err := h.svc.Ready(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("Readiness probe failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ── Identity ──────────────────────────────────────────────────────────────────

// Login exchanges a username and password for a bearer token.
func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.svc.Identity.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	token, expires, err := h.svc.Tokens.Issue(user)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("User logged in")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"token_type": "Bearer",
		"expires_at": expires,
		"user":       toUserView(user),
	})
}

// Me returns the calling user.
func (h *HTTPHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Identity.GetUser(r.Context(), caller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(user))
}

// ListUsers returns every account. Admin only.
func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Identity.ListUsers(r.Context(), caller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, toUserView(u))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": out})
}

// CreateUser provisions an account. Admin only.
func (h *HTTPHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string `json:"username"`
		Email      string `json:"email"`
		Password   string `json:"password"`
		Role       string `json:"role"`
		Department string `json:"department"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.svc.Identity.CreateUser(r.Context(), caller(r).UserID, service.NewUser{
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		Role:       repository.Role(strings.ToLower(req.Role)),
		Department: req.Department,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserView(user))
}

// ListDepartmentApprovers returns assignments; ?active=true hides deactivated rows.
func (h *HTTPHandler) ListDepartmentApprovers(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	rows, err := h.svc.Identity.ListDepartmentApprovers(r.Context(), caller(r).UserID, activeOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]departmentApproverView, 0, len(rows))
	for _, da := range rows {
		out = append(out, toDepartmentApproverView(da))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"department_approvers": out})
}

// AssignDepartmentApprover creates the active assignment of a department.
func (h *HTTPHandler) AssignDepartmentApprover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Department string `json:"department"`
		ApproverID int64  `json:"approver_id"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	da, err := h.svc.Identity.AssignDepartmentApprover(r.Context(), caller(r).UserID, req.Department, req.ApproverID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDepartmentApproverView(da))
}

// DeactivateDepartmentApprover soft-deletes an assignment.
func (h *HTTPHandler) DeactivateDepartmentApprover(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Identity.DeactivateDepartmentApprover(r.Context(), caller(r).UserID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RouteMessage runs the keyword advisor over a message.
func (h *HTTPHandler) RouteMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if h.svc.Advisor == nil {
		h.fail(w, r, errors.Detail(service.ErrConfiguration, "no department advisor configured"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.fail(w, r, errors.InvalidInput("message", "message is required"))
		return
	}

	steps, route, err := h.svc.Advisor.SuggestWorkflow(r.Context(), req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"route":          route,
		"workflow_steps": steps,
	})
}

// ── Requests ──────────────────────────────────────────────────────────────────

// ListRequests returns the requests visible to the caller.
func (h *HTTPHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.Workflow.ListForActor(r.Context(), caller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": toRequestViews(reqs),
		"total":    len(reqs),
	})
}

// CreateRequest submits a request into the standard three-stage workflow.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title      string `json:"title"`
		Message    string `json:"message"`
		Department string `json:"department"`
		Priority   string `json:"priority"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	detail, err := h.svc.Workflow.CreateRequest(r.Context(), caller(r).UserID, service.CreateRequestInput{
		Title:      req.Title,
		Message:    req.Message,
		Department: req.Department,
		Priority:   repository.Priority(req.Priority),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDetailView(detail))
}

// CreateWorkflowRequest submits a request with a caller-supplied step list.
func (h *HTTPHandler) CreateWorkflowRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title         string `json:"title"`
		Message       string `json:"message"`
		Priority      string `json:"priority"`
		WorkflowSteps []struct {
			Step       int    `json:"step"`
			Department string `json:"department"`
		} `json:"workflow_steps"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	steps := make([]service.CustomStep, 0, len(req.WorkflowSteps))
	for _, s := range req.WorkflowSteps {
		steps = append(steps, service.CustomStep{Number: s.Step, Department: s.Department})
	}

	detail, err := h.svc.Workflow.CreateWorkflowRequest(r.Context(), caller(r).UserID, service.CreateWorkflowInput{
		Title:    req.Title,
		Message:  req.Message,
		Priority: repository.Priority(req.Priority),
		Steps:    steps,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDetailView(detail))
}

// GetRequest returns a request with its approvals and flow.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.Workflow.GetDetail(r.Context(), caller(r).UserID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDetailView(detail))
}

// GetRequestFlow returns only the approval timeline of a request.
func (h *HTTPHandler) GetRequestFlow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.Workflow.GetDetail(r.Context(), caller(r).UserID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": detail.Request.ID,
		"status":     string(detail.Request.Status),
		"flow":       toFlowViews(detail.Flow),
	})
}

// DeleteRequest removes a request. Admin only.
func (h *HTTPHandler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Workflow.DeleteRequest(r.Context(), caller(r).UserID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DecideRequest approves, rejects or comments at the current stage.
func (h *HTTPHandler) DecideRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Action         string `json:"action"`
		Comments       string `json:"comments"`
		ExpectedStatus string `json:"expected_status"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	in := service.DecisionInput{
		RequestID: id,
		ActorID:   caller(r).UserID,
		Action:    repository.ApprovalAction(strings.ToLower(req.Action)),
		Comments:  req.Comments,
	}
	if req.ExpectedStatus != "" {
		expected := repository.RequestStatus(req.ExpectedStatus)
		in.ExpectedStatus = &expected
	}

	updated, err := h.svc.Workflow.Decide(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestView(updated))
}

// RebuildFlow backfills the flow projection of every request. Admin only.
func (h *HTTPHandler) RebuildFlow(w http.ResponseWriter, r *http.Request) {
	actor, err := h.svc.Identity.GetUser(r.Context(), caller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if actor.Role != repository.RoleAdmin || !actor.IsActive {
		h.fail(w, r, errors.Detail(service.ErrNotAuthorized, "admin role required"))
		return
	}

	report, err := h.svc.Flow.RebuildAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ── Documents ─────────────────────────────────────────────────────────────────

// ListDocuments returns the documents visible to the caller.
func (h *HTTPHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.Documents.List(r.Context(), caller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]documentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentView(d))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": out, "total": len(out)})
}

// SubmitDocument creates a document and its approval steps.
func (h *HTTPHandler) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Category    string `json:"category"`
		Priority    string `json:"priority"`
		Filename    string `json:"filename"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	detail, err := h.svc.Documents.Submit(r.Context(), caller(r).UserID, service.SubmitDocumentInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    repository.Priority(req.Priority),
		Filename:    req.Filename,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentDetailView(detail))
}

// GetDocument returns a document with its steps and log.
func (h *HTTPHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.Documents.Get(r.Context(), id, caller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDetailView(detail))
}

// DecideDocument closes the caller's pending step.
func (h *HTTPHandler) DecideDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Action   string `json:"action"`
		Comments string `json:"comments"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	doc, err := h.svc.Documents.Approve(r.Context(), id, caller(r).UserID,
		repository.ApprovalAction(strings.ToLower(req.Action)), req.Comments)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentView(doc))
}

// CommentDocument appends a comment to the document log.
func (h *HTTPHandler) CommentDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Comments string `json:"comments"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	entry, err := h.svc.Documents.Comment(r.Context(), id, caller(r).UserID, req.Comments)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentApprovalView(entry))
}

// ArchiveDocument archives a document. Admin only.
func (h *HTTPHandler) ArchiveDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	doc, err := h.svc.Documents.Archive(r.Context(), id, caller(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentView(doc))
}

// EditDocument updates a document's title, description, category or
// priority. Admin only; omitted fields are unchanged.
func (h *HTTPHandler) EditDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Category    *string `json:"category"`
		Priority    *string `json:"priority"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	in := service.EditDocumentInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
	}
	if req.Priority != nil {
		p := repository.Priority(*req.Priority)
		in.Priority = &p
	}

	doc, err := h.svc.Documents.Edit(r.Context(), id, caller(r).UserID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentView(doc))
}

// ── Analytics ─────────────────────────────────────────────────────────────────

// AnalyticsDashboard reports request statistics. Admin only. The optional
// from and to query parameters are inclusive YYYY-MM-DD days.
func (h *HTTPHandler) AnalyticsDashboard(w http.ResponseWriter, r *http.Request) {
	if h.svc.Analytics == nil {
		h.fail(w, r, errors.New(errors.ErrCodeNotFound, "analytics are not enabled"))
		return
	}

	var rng service.DateRange
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &rng.From}, {"to", &rng.To}} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			h.fail(w, r, errors.InvalidInput(p.name, p.name+" must be a YYYY-MM-DD date"))
			return
		}
		*p.dst = &t
	}

	dashboard, err := h.svc.Analytics.Dashboard(r.Context(), caller(r).UserID, rng)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func caller(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.fail(w, r, errors.InvalidInput("body", "invalid request body"))
		return false
	}
	return true
}

func (h *HTTPHandler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(w, r, errors.InvalidInput("id", "id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.HTTPStatus(err) >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	writeError(w, err)
}

type errorBody struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	message := err.Error()
	if code == errors.ErrCodeInternal {
		message = "internal error"
	}
	writeJSON(w, errors.HTTPStatus(err), map[string]errorBody{
		"error": {Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
