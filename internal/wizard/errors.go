package wizard

import (
	"errors"
	"fmt"
)

// ValidationError is an unmet precondition of a user action. Views are
// expected to disable the control instead of showing it.
type ValidationError struct {
	Action  Action
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// ErrBusy is returned when an action starts while another is still awaiting
// the server.
var ErrBusy = errors.New("another action is in progress")

func invalid(action Action, msg string) error {
	return &ValidationError{Action: action, Message: msg}
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
