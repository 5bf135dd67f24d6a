package service

import (
	"fmt"
	"strings"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
)

// StepTag discriminates StepKind.
type StepTag int

const (
	StepGeneral StepTag = iota + 1
	StepAdmin
	StepDepartment
)

// StepKind is a parsed custom workflow step: the general approver, an admin,
// or the approver of a named department.
type StepKind struct {
	Tag        StepTag
	Department string // set only for StepDepartment
}

// Level returns the approval level the step is recorded at.
func (k StepKind) Level() repository.ApprovalLevel {
	switch k.Tag {
	case StepGeneral:
		return repository.LevelGeneral
	case StepAdmin:
		return repository.LevelAdmin
	default:
		return repository.LevelDepartment
	}
}

func (k StepKind) String() string {
	switch k.Tag {
	case StepGeneral:
		return "General Approver"
	case StepAdmin:
		return "Admin"
	default:
		return k.Department
	}
}

// ParseStepKind parses a step label. "General Approver" and "Admin" (any case,
// "general" and "administrator" accepted) name the well-known roles; any other
// non-empty label is a department.
func ParseStepKind(label string) (StepKind, error) {
	label = strings.TrimSpace(label)
	switch strings.ToLower(label) {
	case "":
		return StepKind{}, errors.InvalidInput("department", "workflow step must name a department or role")
	case "general approver", "general":
		return StepKind{Tag: StepGeneral}, nil
	case "admin", "administrator":
		return StepKind{Tag: StepAdmin}, nil
	}
	if err := checkLength("department", label, maxDepartmentLen); err != nil {
		return StepKind{}, err
	}
	return StepKind{Tag: StepDepartment, Department: label}, nil
}

// CustomStep is one caller-supplied step of a custom workflow.
type CustomStep struct {
	// Number is the display step number; zero means the step's position.
	Number     int
	Department string
}

type parsedStep struct {
	kind   StepKind
	number int
}

// parseSteps resolves every label once and assigns display numbers.
func parseSteps(steps []CustomStep) ([]parsedStep, error) {
	if len(steps) == 0 {
		return nil, errors.InvalidInput("workflow_steps", "at least one workflow step is required")
	}

	out := make([]parsedStep, 0, len(steps))
	seen := make(map[int]bool, len(steps))
	for i, s := range steps {
		kind, err := ParseStepKind(s.Department)
		if err != nil {
			return nil, err
		}
		number := s.Number
		if number == 0 {
			number = i + 1
		}
		if number < 1 {
			return nil, errors.InvalidInput("workflow_steps", fmt.Sprintf("step number %d must be positive", number))
		}
		if seen[number] {
			return nil, errors.InvalidInput("workflow_steps", fmt.Sprintf("duplicate step number %d", number))
		}
		seen[number] = true
		out = append(out, parsedStep{kind: kind, number: number})
	}
	return out, nil
}

// primaryDepartment returns the first department step.
func primaryDepartment(steps []parsedStep) (string, bool) {
	for _, s := range steps {
		if s.kind.Tag == StepDepartment {
			return s.kind.Department, true
		}
	}
	return "", false
}
