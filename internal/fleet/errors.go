package fleet

import (
	"errors"
	"fmt"
)

// Sentinel domain errors. The HTTP layer maps these to error kinds and
// status codes; everything else is treated as internal.
var (
	ErrUnknownDevice  = errors.New("unknown device")
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadState       = errors.New("command not in required status")
	ErrConflict       = errors.New("command already in flight")
	ErrNotFound       = errors.New("not found")
)

// ValidationError marks a wire payload that fails schema validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Validationf builds a ValidationError for field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Descent gate rejection reasons, stored on the DescentCheck row and
// returned to the vehicle.
const (
	ReasonUnknownCommand = "UNKNOWN_COMMAND"
	ReasonBadState       = "BAD_STATE"
	ReasonPlanMismatch   = "PLAN_MISMATCH"
	ReasonStale          = "STALE"
)
