package exceptions

import (
	"errors"
	"strings"

	"github.com/sagernet/sing-reactor/common"
)

type multiError struct {
	errors []error
}

func (e *multiError) Error() string {
	return "multi error: (" + strings.Join(common.Map(e.errors, error.Error), " | ") + ")"
}

func (e *multiError) Is(target error) bool {
	for _, err := range e.errors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Errors drops nil entries and collapses the rest into a single error.
func Errors(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	switch len(filtered) {
	case 0:
		return nil
	case 1:
		return filtered[0]
	}
	return &multiError{filtered}
}
