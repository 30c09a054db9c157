package workflow

import (
	"errors"
	"fmt"

	"github.com/CodeDript/codedript-backend/models"
)

// ErrConfirmationPending reports that a transaction reached the chain
// but its receipt did not show up within the confirmation budget. The
// on-chain effect succeeded; callers must treat this as a degraded
// success, not a failure.
var ErrConfirmationPending = errors.New("transaction submitted but not yet confirmed; recording deferred")

// ValidationError blocks a transition until the user fixes the input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ForbiddenError marks a role or ownership violation.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

func Forbiddenf(format string, args ...interface{}) *ForbiddenError {
	return &ForbiddenError{Message: fmt.Sprintf(format, args...)}
}

// TransitionError reports an edge missing from the lifecycle graph.
type TransitionError struct {
	From models.AgreementStatus
	To   models.AgreementStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("agreement cannot move from %q to %q", e.From, e.To)
}
