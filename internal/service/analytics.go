package service

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

const (
	defaultTrendDays  = 30
	maxTrendDays      = 366
	topSubmitterLimit = 10
	bottleneckLimit   = 5
	oneDay            = 24 * time.Hour
)

// Analytics reports request volumes and approval times to admins.
type Analytics struct {
	users UserStore
	store AnalyticsStore
	log   *logger.Logger
	now   func() time.Time
}

// NewAnalytics creates a new Analytics service.
func NewAnalytics(users UserStore, store AnalyticsStore, log *logger.Logger) *Analytics {
	return &Analytics{users: users, store: store, log: log, now: time.Now}
}

// DateRange selects requests by creation day, both ends inclusive. Nil ends
// are open; the volume trend then defaults to the last 30 days.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Dashboard is the admin analytics summary. A request counts as approved
// once any stage has approved it.
type Dashboard struct {
	From                     string              `json:"from"`
	To                       string              `json:"to"`
	TotalRequests            int                 `json:"total_requests"`
	PendingRequests          int                 `json:"pending_requests"`
	ApprovedRequests         int                 `json:"approved_requests"`
	CompletedRequests        int                 `json:"completed_requests"`
	RejectedRequests         int                 `json:"rejected_requests"`
	ApprovalRate             float64             `json:"approval_rate"`
	AvgApprovalTimeHours     float64             `json:"avg_approval_time_hours"`
	VolumeTrend              []DailyVolume       `json:"request_volume_trends"`
	DepartmentDistribution   []DepartmentCount   `json:"department_distribution"`
	ApprovalTimeByDepartment []DepartmentHours   `json:"approval_time_by_department"`
	TopSubmitters            []SubmitterVolume   `json:"top_submitters"`
	Bottlenecks              []Bottleneck        `json:"bottleneck_analysis"`
	Departments              []DepartmentMetrics `json:"department_metrics"`
}

// DailyVolume is the number of requests created on Date (YYYY-MM-DD).
type DailyVolume struct {
	Date     string `json:"date"`
	Requests int    `json:"requests"`
}

type DepartmentCount struct {
	Department string `json:"department"`
	Requests   int    `json:"requests"`
}

type DepartmentHours struct {
	Department string  `json:"department"`
	AvgHours   float64 `json:"avg_hours"`
}

type SubmitterVolume struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Requests int    `json:"requests"`
}

// Bottleneck is a department whose approved requests took longest.
type Bottleneck struct {
	Department   string  `json:"department"`
	StepName     string  `json:"step_name"`
	AvgTimeHours float64 `json:"avg_time_hours"`
	RequestCount int     `json:"request_count"`
}

// DepartmentMetrics summarises one department. PerformanceScore is 0-10:
// the mean of a time score (10 minus a point per day of average approval
// time) and the approval rate divided by ten.
type DepartmentMetrics struct {
	Name                 string  `json:"name"`
	TotalRequests        int     `json:"total_requests"`
	ApprovedRequests     int     `json:"approved_requests"`
	PendingRequests      int     `json:"pending_requests"`
	RejectedRequests     int     `json:"rejected_requests"`
	AvgApprovalTimeHours float64 `json:"avg_approval_time_hours"`
	ApprovalRate         float64 `json:"approval_rate"`
	PerformanceScore     float64 `json:"performance_score"`
}

// Dashboard aggregates the requests created in r. Admin only.
func (a *Analytics) Dashboard(ctx context.Context, actorID int64, r DateRange) (*Dashboard, error) {
	actor, err := a.users.GetUser(ctx, actorID)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeNotFound {
			return nil, errors.Detail(ErrNotAuthorized, "unknown user %d", actorID)
		}
		return nil, err
	}
	if actor.Role != repository.RoleAdmin || !actor.IsActive {
		return nil, errors.Detail(ErrNotAuthorized, "admin role required")
	}

	filter, from, to, err := a.window(r)
	if err != nil {
		return nil, err
	}

	counts, err := a.store.CountByDepartmentStatus(ctx, filter)
	if err != nil {
		return nil, err
	}
	submitters, err := a.store.TopSubmitters(ctx, filter, topSubmitterLimit)
	if err != nil {
		return nil, err
	}
	daily, err := a.store.DailyVolume(ctx, filter)
	if err != nil {
		return nil, err
	}

	d := summarize(counts)
	d.From = from.Format(time.DateOnly)
	d.To = to.Format(time.DateOnly)
	d.VolumeTrend = fillTrend(daily, from, to)
	d.TopSubmitters = make([]SubmitterVolume, 0, len(submitters))
	for _, s := range submitters {
		d.TopSubmitters = append(d.TopSubmitters, SubmitterVolume{UserID: s.SubmitterID, Username: s.Username, Requests: s.Requests})
	}

	a.log.Debug().
		Int64("actor_id", actor.ID).
		Str("from", d.From).
		Str("to", d.To).
		Int("requests", d.TotalRequests).
		Msg("Analytics dashboard computed")
	return d, nil
}

// window turns the inclusive day range into a half-open store filter and
// the first and last day of the volume trend.
func (a *Analytics) window(r DateRange) (repository.AnalyticsFilter, time.Time, time.Time, error) {
	var filter repository.AnalyticsFilter
	to := a.now().UTC().Truncate(oneDay)
	if r.To != nil {
		to = r.To.UTC().Truncate(oneDay)
		end := to.Add(oneDay)
		filter.To = &end
	}
	from := to.Add(-(defaultTrendDays - 1) * oneDay)
	if r.From != nil {
		from = r.From.UTC().Truncate(oneDay)
		filter.From = &from
	}

	if from.After(to) {
		return filter, from, to, errors.InvalidInput("from", "from must not be after to")
	}
	if to.Sub(from) >= maxTrendDays*oneDay {
		return filter, from, to, errors.InvalidInput("from", "date range must not exceed 366 days")
	}
	return filter, from, to, nil
}

func approvedStatus(s repository.RequestStatus) bool {
	switch s {
	case repository.StatusGeneralApproved, repository.StatusDepartmentApproved, repository.StatusAdminApproved:
		return true
	}
	return false
}

type departmentTotals struct {
	total, approved, pending, rejected int
	approvedHours                      float64
}

func summarize(counts []*repository.StatusCount) *Dashboard {
	d := &Dashboard{}
	byDept := make(map[string]*departmentTotals)
	var approvedHours float64

	for _, c := range counts {
		t, ok := byDept[c.Department]
		if !ok {
			t = &departmentTotals{}
			byDept[c.Department] = t
		}
		t.total += c.Requests
		d.TotalRequests += c.Requests

		switch {
		case c.Status == repository.StatusPending:
			t.pending += c.Requests
			d.PendingRequests += c.Requests
		case c.Status == repository.StatusRejected:
			t.rejected += c.Requests
			d.RejectedRequests += c.Requests
		case approvedStatus(c.Status):
			t.approved += c.Requests
			t.approvedHours += c.ElapsedHours
			d.ApprovedRequests += c.Requests
			approvedHours += c.ElapsedHours
			if c.Status == repository.StatusAdminApproved {
				d.CompletedRequests += c.Requests
			}
		}
	}

	d.ApprovalRate = percent(d.ApprovedRequests, d.TotalRequests)
	if d.ApprovedRequests > 0 {
		d.AvgApprovalTimeHours = approvedHours / float64(d.ApprovedRequests)
	}

	d.DepartmentDistribution = []DepartmentCount{}
	d.ApprovalTimeByDepartment = []DepartmentHours{}
	d.Bottlenecks = []Bottleneck{}
	d.Departments = []DepartmentMetrics{}

	for name, t := range byDept {
		d.DepartmentDistribution = append(d.DepartmentDistribution, DepartmentCount{Department: name, Requests: t.total})

		m := DepartmentMetrics{
			Name:             name,
			TotalRequests:    t.total,
			ApprovedRequests: t.approved,
			PendingRequests:  t.pending,
			RejectedRequests: t.rejected,
			ApprovalRate:     percent(t.approved, t.total),
		}
		if t.approved > 0 {
			m.AvgApprovalTimeHours = t.approvedHours / float64(t.approved)
			d.ApprovalTimeByDepartment = append(d.ApprovalTimeByDepartment, DepartmentHours{Department: name, AvgHours: m.AvgApprovalTimeHours})
			d.Bottlenecks = append(d.Bottlenecks, Bottleneck{
				Department:   name,
				StepName:     "Department Approval",
				AvgTimeHours: m.AvgApprovalTimeHours,
				RequestCount: t.approved,
			})
		}
		m.PerformanceScore = (math.Max(0, 10-m.AvgApprovalTimeHours/24) + m.ApprovalRate/10) / 2
		d.Departments = append(d.Departments, m)
	}

	sort.Slice(d.DepartmentDistribution, func(i, j int) bool {
		a, b := d.DepartmentDistribution[i], d.DepartmentDistribution[j]
		if a.Requests != b.Requests {
			return a.Requests > b.Requests
		}
		return a.Department < b.Department
	})
	sort.Slice(d.ApprovalTimeByDepartment, func(i, j int) bool {
		return d.ApprovalTimeByDepartment[i].Department < d.ApprovalTimeByDepartment[j].Department
	})
	sort.Slice(d.Bottlenecks, func(i, j int) bool {
		a, b := d.Bottlenecks[i], d.Bottlenecks[j]
		if a.AvgTimeHours != b.AvgTimeHours {
			return a.AvgTimeHours > b.AvgTimeHours
		}
		return a.Department < b.Department
	})
	if len(d.Bottlenecks) > bottleneckLimit {
		d.Bottlenecks = d.Bottlenecks[:bottleneckLimit]
	}
	sort.Slice(d.Departments, func(i, j int) bool {
		a, b := d.Departments[i], d.Departments[j]
		if a.PerformanceScore != b.PerformanceScore {
			return a.PerformanceScore > b.PerformanceScore
		}
		return a.Name < b.Name
	})
	return d
}

// fillTrend lists every day from first to last, zero when no request was
// created that day.
func fillTrend(daily []*repository.DailyCount, first, last time.Time) []DailyVolume {
	byDay := make(map[string]int, len(daily))
	for _, c := range daily {
		byDay[c.Day.UTC().Format(time.DateOnly)] = c.Requests
	}
	out := make([]DailyVolume, 0, int(last.Sub(first)/oneDay)+1)
	for d := first; !d.After(last); d = d.Add(oneDay) {
		key := d.Format(time.DateOnly)
		out = append(out, DailyVolume{Date: key, Requests: byDay[key]})
	}
	return out
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
