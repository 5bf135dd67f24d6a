package repository

import (
	"context"

	"github.com/pesio-ai/be-request-workflow/internal/platform/database"
	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
)

// AnalyticsRepository runs read-only aggregates over requests.
type AnalyticsRepository struct {
	db *database.DB
}

// NewAnalyticsRepository creates a new AnalyticsRepository.
func NewAnalyticsRepository(db *database.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// $1 and $2 are the optional bounds of AnalyticsFilter.
const analyticsWindow = `
	($1::timestamptz IS NULL OR r.created_at >= $1)
	AND ($2::timestamptz IS NULL OR r.created_at < $2)`

// CountByDepartmentStatus groups requests by department and status.
func (r *AnalyticsRepository) CountByDepartmentStatus(ctx context.Context, filter AnalyticsFilter) ([]*StatusCount, error) {
	query := `
		SELECT r.department, r.status, COUNT(*),
		       COALESCE(SUM(EXTRACT(EPOCH FROM (r.updated_at - r.created_at))), 0)::float8 / 3600.0
		FROM requests r
		WHERE ` + analyticsWindow + `
		GROUP BY r.department, r.status
		ORDER BY r.department, r.status`

	rows, err := r.db.Query(ctx, query, filter.From, filter.To)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to aggregate requests")
	}
	defer rows.Close()

	var out []*StatusCount
	for rows.Next() {
		var (
			c     StatusCount
			count int64
		)
		if err := rows.Scan(&c.Department, &c.Status, &count, &c.ElapsedHours); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan request aggregate")
		}
		c.Requests = int(count)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// TopSubmitters returns the users with the most requests, busiest first.
func (r *AnalyticsRepository) TopSubmitters(ctx context.Context, filter AnalyticsFilter, limit int) ([]*SubmitterCount, error) {
	query := `
		SELECT r.submitter_id, u.username, COUNT(*) AS requests
		FROM requests r
		JOIN users u ON u.id = r.submitter_id
		WHERE ` + analyticsWindow + `
		GROUP BY r.submitter_id, u.username
		ORDER BY requests DESC, r.submitter_id
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, filter.From, filter.To, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to rank submitters")
	}
	defer rows.Close()

	var out []*SubmitterCount
	for rows.Next() {
		var (
			c     SubmitterCount
			count int64
		)
		if err := rows.Scan(&c.SubmitterID, &c.Username, &count); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan submitter count")
		}
		c.Requests = int(count)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DailyVolume counts requests per UTC day, oldest first. Days without
// requests are omitted.
func (r *AnalyticsRepository) DailyVolume(ctx context.Context, filter AnalyticsFilter) ([]*DailyCount, error) {
	query := `
		SELECT date_trunc('day', r.created_at AT TIME ZONE 'UTC') AS day, COUNT(*)
		FROM requests r
		WHERE ` + analyticsWindow + `
		GROUP BY day
		ORDER BY day`

	rows, err := r.db.Query(ctx, query, filter.From, filter.To)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to count daily requests")
	}
	defer rows.Close()

	var out []*DailyCount
	for rows.Next() {
		var (
			c     DailyCount
			count int64
		)
		if err := rows.Scan(&c.Day, &count); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan daily count")
		}
		c.Requests = int(count)
		c.Day = c.Day.UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}
