package brain

import (
	"errors"
	"fmt"
)

// Completion-service failure classes. Callers react differently to each:
// quota and availability problems are retryable later, validation
// failures are not.
var (
	ErrQuotaExceeded      = errors.New("brain: completion quota exceeded")
	ErrServiceUnavailable = errors.New("brain: completion service unavailable")
)

// ValidationError reports a completion response that did not match the
// expected result shape. It is kept distinct from upstream failures so
// the pipeline can abort instead of retrying.
type ValidationError struct {
	Shape  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("brain: %s response failed validation: %s", e.Shape, e.Reason)
}
