package client

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-request-workflow/internal/repository"
	"github.com/pesio-ai/be-request-workflow/internal/service"
)

// DefaultDepartment is suggested when no keyword matches.
const DefaultDepartment = "HR"

type departmentRule struct {
	department string
	keywords   []string
}

// Rules are tried in order; the first department with a matching keyword wins.
var departmentRules = []departmentRule{
	{"HR", []string{"vacation", "leave", "sick", "ill", "holiday", "time off", "day off", "personal leave", "salary", "payroll", "benefits"}},
	{"IT", []string{"laptop", "computer", "hardware", "software", "system", "access", "password", "email", "network", "server", "database", "login"}},
	{"Finance", []string{"budget", "expense", "purchase", "cost", "money", "financial", "invoice", "payment", "reimbursement", "accounting"}},
	{"Facilities", []string{"facility", "building", "maintenance", "repair", "space", "office", "room", "equipment", "cleaning", "security"}},
	{"Sales", []string{"sales", "deal", "client", "contract", "proposal", "quotation", "customer", "lead", "opportunity"}},
	{"Legal", []string{"legal", "compliance", "regulation", "policy", "agreement", "terms", "liability", "risk"}},
	{"Operations", []string{"operation", "process", "procedure", "workflow", "efficiency", "productivity", "quality", "standard"}},
}

type priorityRule struct {
	priority repository.Priority
	keywords []string
}

var priorityRules = []priorityRule{
	{repository.PriorityUrgent, []string{"emergency", "broken", "down", "urgent", "asap", "immediately", "critical", "not working"}},
	{repository.PriorityHigh, []string{"important", "blocking", "priority", "need help now"}},
	{repository.PriorityLow, []string{"when possible", "no rush", "sometime", "future"}},
}

// RouteResult is the advisor's reading of a free-text message.
type RouteResult struct {
	Department string              `json:"department"`
	Priority   repository.Priority `json:"priority"`
	Matched    []string            `json:"matched_keywords"`
	Details    string              `json:"details"`
	RawMessage string              `json:"raw_message"`
	Confidence string              `json:"confidence"`
}

// SuggestedStep is one step of a suggested custom workflow.
type SuggestedStep struct {
	Step       int    `json:"step"`
	Department string `json:"department"`
	Role       string `json:"role"`
	Reason     string `json:"reason"`
}

// DepartmentRouter is a keyword advisor that maps request text onto a
// department and priority. Results are cached per normalised message.
type DepartmentRouter struct {
	cache *cache.Cache
	log   zerolog.Logger
}

// NewDepartmentRouter creates a router whose results live for ttl.
func NewDepartmentRouter(ttl time.Duration, log zerolog.Logger) *DepartmentRouter {
	return &DepartmentRouter{
		cache: cache.New(ttl, 2*ttl),
		log:   log,
	}
}

var _ service.DepartmentSuggester = (*DepartmentRouter)(nil)

// SuggestDepartment implements service.DepartmentSuggester.
func (r *DepartmentRouter) SuggestDepartment(ctx context.Context, text string) (string, error) {
	res, err := r.Route(ctx, text)
	if err != nil {
		return "", err
	}
	return res.Department, nil
}

// Route classifies a message.
func (r *DepartmentRouter) Route(ctx context.Context, message string) (*RouteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized := normalize(message)
	if cached, ok := r.cache.Get(normalized); ok {
		res := *cached.(*RouteResult)
		res.Details = strings.TrimSpace(message)
		res.RawMessage = message
		return &res, nil
	}

	res := classify(normalized)
	res.Details = strings.TrimSpace(message)
	res.RawMessage = message
	r.cache.SetDefault(normalized, res)

	r.log.Debug().
		Str("department", res.Department).
		Str("priority", string(res.Priority)).
		Strs("matched", res.Matched).
		Msg("Message routed")

	cp := *res
	return &cp, nil
}

// SuggestWorkflow proposes the standard three-step sequence for a message.
func (r *DepartmentRouter) SuggestWorkflow(ctx context.Context, message string) ([]SuggestedStep, *RouteResult, error) {
	res, err := r.Route(ctx, message)
	if err != nil {
		return nil, nil, err
	}
	steps := []SuggestedStep{
		{Step: 1, Department: "General Approver", Role: "general_approver", Reason: "Initial review and approval by general approver"},
		{Step: 2, Department: res.Department, Role: "department_approver", Reason: "Department-specific approval by " + res.Department + " department approver"},
		{Step: 3, Department: "Admin", Role: "admin", Reason: "Final administrative approval"},
	}
	return steps, res, nil
}

func classify(normalized string) *RouteResult {
	words := wordSet(normalized)

	res := &RouteResult{
		Department: DefaultDepartment,
		Priority:   repository.PriorityNormal,
		Confidence: "low",
	}
	for _, rule := range departmentRules {
		if hits := matches(normalized, words, rule.keywords); len(hits) > 0 {
			res.Department = rule.department
			res.Matched = hits
			res.Confidence = "high"
			break
		}
	}
	for _, rule := range priorityRules {
		if hits := matches(normalized, words, rule.keywords); len(hits) > 0 {
			res.Priority = rule.priority
			break
		}
	}
	return res
}

// matches returns the keywords found in text. Single words match whole words
// (a trailing plural "s" is ignored); phrases match as substrings.
func matches(normalized string, words map[string]bool, keywords []string) []string {
	var hits []string
	for _, k := range keywords {
		if strings.Contains(k, " ") {
			if strings.Contains(" "+normalized+" ", " "+k+" ") {
				hits = append(hits, k)
			}
			continue
		}
		if words[k] || words[k+"s"] {
			hits = append(hits, k)
		}
	}
	return hits
}

// normalize lowercases text and collapses everything that is not a letter or
// digit into single spaces.
func normalize(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

func wordSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(normalized) {
		set[w] = true
	}
	return set
}
