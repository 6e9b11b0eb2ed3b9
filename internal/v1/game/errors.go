package game

import (
	"errors"
	"fmt"
)

// ValidationError marks failures caused by bad caller input. The HTTP layer
// maps these to 400 and the dispatcher echoes them back as error frames;
// anything else is treated as an internal failure.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err originated from input validation.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
