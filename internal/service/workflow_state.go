package service

import (
	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

// stage is one position in the fixed approval sequence.
type stage struct {
	level    repository.ApprovalLevel
	from     repository.RequestStatus
	approved repository.RequestStatus
	step     int // flow step number in the standard layout
	name     string
	role     string
}

var stages = []stage{
	{
		level:    repository.LevelGeneral,
		from:     repository.StatusPending,
		approved: repository.StatusGeneralApproved,
		step:     1,
		name:     "General Approver",
		role:     "general_approver",
	},
	{
		level:    repository.LevelDepartment,
		from:     repository.StatusGeneralApproved,
		approved: repository.StatusDepartmentApproved,
		step:     2,
		name:     "Department Approver",
		role:     "department_approver",
	},
	{
		level:    repository.LevelAdmin,
		from:     repository.StatusDepartmentApproved,
		approved: repository.StatusAdminApproved,
		step:     3,
		name:     "Admin Approver",
		role:     "admin",
	},
}

// stageFor returns the stage open while a request is in status. Terminal
// statuses have no open stage.
func stageFor(status repository.RequestStatus) (stage, bool) {
	for _, s := range stages {
		if s.from == status {
			return s, true
		}
	}
	return stage{}, false
}

// stageOf returns the stage of an approval level.
func stageOf(level repository.ApprovalLevel) (stage, bool) {
	for _, s := range stages {
		if s.level == level {
			return s, true
		}
	}
	return stage{}, false
}

// rank orders statuses along the state machine. Rejected has no rank.
func rank(status repository.RequestStatus) int {
	switch status {
	case repository.StatusPending:
		return 0
	case repository.StatusGeneralApproved:
		return 1
	case repository.StatusDepartmentApproved:
		return 2
	case repository.StatusAdminApproved:
		return 3
	}
	return -1
}

// transitionFor builds the transition an action causes at stage s.
func transitionFor(req *repository.Request, s stage, action repository.ApprovalAction, actorID int64) *repository.Transition {
	t := &repository.Transition{
		RequestID:  req.ID,
		FromStatus: req.Status,
		Level:      s.level,
		Action:     action,
		ActorID:    actorID,
	}

	switch action {
	case repository.ActionApprove:
		t.ToStatus = s.approved
		t.FlowStatus = repository.FlowApproved
		actor := actorID
		switch s.level {
		case repository.LevelDepartment:
			t.DepartmentApproverID = &actor
		case repository.LevelAdmin:
			t.AdminApproverID = &actor
		}
	case repository.ActionReject:
		t.ToStatus = repository.StatusRejected
		t.FlowStatus = repository.FlowRejected
	}
	return t
}
