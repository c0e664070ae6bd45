package composite

import (
	"fmt"
	"strings"
)

// SlotErrors is the error a composite reports through its own task
// completion when at least one sub-task failed. Errs is index-aligned with
// the sub-tasks; nil entries succeeded.
type SlotErrors struct {
	Errs []error
}

// newSlotErrors returns nil when errs holds no error.
func newSlotErrors(errs []error) *SlotErrors {
	for _, err := range errs {
		if err != nil {
			return &SlotErrors{Errs: errs}
		}
	}
	return nil
}

// Failed returns the indices of the failed sub-tasks.
func (e *SlotErrors) Failed() []int {
	var idx []int
	for i, err := range e.Errs {
		if err != nil {
			idx = append(idx, i)
		}
	}
	return idx
}

func (e *SlotErrors) Error() string {
	failed := e.Failed()
	parts := make([]string, 0, len(failed))
	for _, i := range failed {
		parts = append(parts, fmt.Sprintf("[%d] %v", i, e.Errs[i]))
	}
	return fmt.Sprintf("%d of %d sub-tasks failed: %s", len(failed), len(e.Errs), strings.Join(parts, "; "))
}

// Unwrap exposes the non-nil slot errors to errors.Is and errors.As.
func (e *SlotErrors) Unwrap() []error {
	var errs []error
	for _, err := range e.Errs {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
