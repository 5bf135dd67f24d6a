package app

import (
	"context"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
	"github.com/pesio-ai/be-request-workflow/internal/service"
)

// SampleUsers are the accounts created by Seed. Passwords are for local use only.
var SampleUsers = []service.NewUser{
	{Username: "admin", Email: "admin@company.com", Password: "admin123", Role: repository.RoleAdmin, Department: "IT"},
	{Username: "general_approver", Email: "general.approver@company.com", Password: "approver123", Role: repository.RoleApprover, Department: "General"},
	{Username: "hr_approver", Email: "hr.approver@company.com", Password: "approver123", Role: repository.RoleApprover, Department: "HR"},
	{Username: "it_approver", Email: "it.approver@company.com", Password: "approver123", Role: repository.RoleApprover, Department: "IT"},
	{Username: "finance_approver", Email: "finance.approver@company.com", Password: "approver123", Role: repository.RoleApprover, Department: "Finance"},
	{Username: "facilities_approver", Email: "facilities.approver@company.com", Password: "approver123", Role: repository.RoleApprover, Department: "Facilities"},
	{Username: "sales_approver", Email: "sales.approver@company.com", Password: "approver123", Role: repository.RoleApprover, Department: "Sales"},
	{Username: "legal_approver", Email: "legal.approver@company.com", Password: "approver123", Role: repository.RoleApprover, Department: "Legal"},
	{Username: "operations_approver", Email: "operations.approver@company.com", Password: "approver123", Role: repository.RoleApprover, Department: "Operations"},
	{Username: "user1", Email: "user1@company.com", Password: "user123", Role: repository.RoleUser, Department: "Sales"},
}

// SampleDepartmentApprovers maps each department to the username approving it.
var SampleDepartmentApprovers = []struct {
	Department string
	Username   string
}{
	{"HR", "hr_approver"},
	{"IT", "it_approver"},
	{"Finance", "finance_approver"},
	{"Facilities", "facilities_approver"},
	{"Sales", "sales_approver"},
	{"Legal", "legal_approver"},
	{"Operations", "operations_approver"},
}

// SeedReport counts what a Seed run changed.
type SeedReport struct {
	UsersCreated      int `json:"users_created"`
	UsersSkipped      int `json:"users_skipped"`
	ApproversAssigned int `json:"approvers_assigned"`
	ApproversSkipped  int `json:"approvers_skipped"`
}

// Seed creates the sample users and department approvers. Existing users and
// departments that already have an active approver are left alone, so
// running it again is a no-op.
func Seed(ctx context.Context, users service.UserStore, registry *service.IdentityRegistry, log *logger.Logger) (*SeedReport, error) {
	report := &SeedReport{}
	byName := make(map[string]int64, len(SampleUsers))

	for _, in := range SampleUsers {
		existing, err := users.GetUserByUsername(ctx, in.Username)
		switch {
		case err == nil:
			byName[in.Username] = existing.ID
			report.UsersSkipped++
			log.Debug().Str("username", in.Username).Msg("User exists, skipping")
			continue
		case errors.CodeOf(err) != errors.ErrCodeNotFound:
			return report, err
		}

		u, err := registry.ProvisionUser(ctx, in)
		if err != nil {
			return report, err
		}
		byName[u.Username] = u.ID
		report.UsersCreated++
	}

	for _, m := range SampleDepartmentApprovers {
		active, err := registry.FindActiveDepartmentApprover(ctx, m.Department)
		if err != nil {
			return report, err
		}
		if active != nil {
			report.ApproversSkipped++
			continue
		}
		if _, err := registry.ProvisionDepartmentApprover(ctx, m.Department, byName[m.Username]); err != nil {
			return report, err
		}
		report.ApproversAssigned++
	}

	log.Info().
		Int("users_created", report.UsersCreated).
		Int("users_skipped", report.UsersSkipped).
		Int("approvers_assigned", report.ApproversAssigned).
		Int("approvers_skipped", report.ApproversSkipped).
		Msg("Sample data seeded")
	return report, nil
}
