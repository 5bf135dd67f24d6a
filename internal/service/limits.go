package service

import (
	"fmt"
	"unicode/utf8"

	"github.com/pesio-ai/be-request-workflow/internal/platform/errors"
)

// Column widths of the relational schema, counted in characters.
const (
	maxTitleLen      = 200
	maxDepartmentLen = 50
	maxCategoryLen   = 50
	maxFilenameLen   = 255
	maxUsernameLen   = 80
	maxEmailLen      = 120
)

// checkLength rejects values longer than max characters.
func checkLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return errors.InvalidInput(field, fmt.Sprintf("%s must be at most %d characters", field, max))
	}
	return nil
}

