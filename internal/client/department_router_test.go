package client

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

func TestRoute_Departments(t *testing.T) {
	r := NewDepartmentRouter(time.Minute, zerolog.Nop())
	ctx := context.Background()

	cases := []struct {
		message    string
		department string
		priority   repository.Priority
	}{
		{"My laptop is broken", "IT", repository.PriorityUrgent},
		{"I need two days of vacation next month, no rush", "HR", repository.PriorityLow},
		{"Requesting time off for a family event", "HR", repository.PriorityNormal},
		{"The office air conditioning needs repair", "Facilities", repository.PriorityNormal},
		{"Reimbursement for travel expenses", "Finance", repository.PriorityNormal},
		{"Review the new sales contract proposal, it's important", "Sales", repository.PriorityHigh},
		{"Update our data retention policy", "Legal", repository.PriorityNormal},
		{"Improve the onboarding process", "Operations", repository.PriorityNormal},
		{"Can't login, EMAIL is down!!", "IT", repository.PriorityUrgent},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			res, err := r.Route(ctx, tc.message)
			require.NoError(t, err)
			assert.Equal(t, tc.department, res.Department)
			assert.Equal(t, tc.priority, res.Priority)
			assert.Equal(t, "high", res.Confidence)
			assert.NotEmpty(t, res.Matched)
			assert.Equal(t, tc.message, res.RawMessage)
		})
	}
}

func TestRoute_DefaultsToHR(t *testing.T) {
	r := NewDepartmentRouter(time.Minute, zerolog.Nop())

	res, err := r.Route(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Equal(t, DefaultDepartment, res.Department)
	assert.Equal(t, repository.PriorityNormal, res.Priority)
	assert.Equal(t, "low", res.Confidence)
	assert.Empty(t, res.Matched)
}

func TestRoute_CachesByNormalisedMessage(t *testing.T) {
	r := NewDepartmentRouter(time.Minute, zerolog.Nop())
	ctx := context.Background()

	first, err := r.Route(ctx, "New laptop please")
	require.NoError(t, err)
	assert.Equal(t, 1, r.cache.ItemCount())

	second, err := r.Route(ctx, "  NEW   laptop, please! ")
	require.NoError(t, err)
	assert.Equal(t, 1, r.cache.ItemCount())
	assert.Equal(t, first.Department, second.Department)
	assert.Equal(t, "  NEW   laptop, please! ", second.RawMessage)

	// Callers may not mutate the cached value.
	second.Department = "Legal"
	third, err := r.Route(ctx, "new laptop please")
	require.NoError(t, err)
	assert.Equal(t, "IT", third.Department)
}

func TestRoute_CancelledContext(t *testing.T) {
	r := NewDepartmentRouter(time.Minute, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Route(ctx, "laptop")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSuggestDepartmentAndWorkflow(t *testing.T) {
	r := NewDepartmentRouter(time.Minute, zerolog.Nop())
	ctx := context.Background()

	dept, err := r.SuggestDepartment(ctx, "Payroll question about my salary")
	require.NoError(t, err)
	assert.Equal(t, "HR", dept)

	steps, res, err := r.SuggestWorkflow(ctx, "Server database migration")
	require.NoError(t, err)
	assert.Equal(t, "IT", res.Department)
	require.Len(t, steps, 3)
	assert.Equal(t, "General Approver", steps[0].Department)
	assert.Equal(t, "IT", steps[1].Department)
	assert.Equal(t, "department_approver", steps[1].Role)
	assert.Equal(t, "Admin", steps[2].Department)
}
