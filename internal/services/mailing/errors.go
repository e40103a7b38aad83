package mailing

import (
	"errors"
	"fmt"
)

// Validation errors raised by workflow transitions. They are recovered at
// the UI layer by prompting the operator; none of them ever reaches the
// executor.
var (
	ErrNoTemplates      = errors.New("mailing: no templates exist")
	ErrNoGroups         = errors.New("mailing: no group has destinations")
	ErrTemplateNotFound = errors.New("mailing: template not found")
	ErrEmptySelection   = errors.New("mailing: no groups selected")
)

// InvalidTransitionError reports an operation called while the operator's
// session is not in the step that operation requires. This is a hard
// contract: a desynchronized UI gets a typed error, never a silent success.
type InvalidTransitionError struct {
	Op   string
	Step Step
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("mailing: %s not allowed in step %s", e.Op, e.Step)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}
