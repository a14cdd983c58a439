// Package errutil provides a small multi-error accumulator, used where a
// batch operation (the CubeStore's persistence replay) must keep going
// after a per-item failure but still report that something failed.
package errutil

import (
	"errors"
	"strings"
	"sync"
)

// Errs accumulates zero or more errors under a mutex so it is safe to share
// across goroutines processing independent items of the same batch.
type Errs struct {
	mu   sync.Mutex
	errs []error
}

// Add records err, ignoring nil.
func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

// Errored reports whether any error has been recorded.
func (e *Errs) Errored() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs) > 0
}

// Err collapses the accumulated errors into a single error, or nil if none
// were recorded.
func (e *Errs) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch len(e.errs) {
	case 0:
		return nil
	case 1:
		return e.errs[0]
	default:
		msgs := make([]string, len(e.errs))
		for i, err := range e.errs {
			msgs[i] = err.Error()
		}
		return errors.New(strings.Join(msgs, "; "))
	}
}

// Count returns the number of errors recorded so far.
func (e *Errs) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}
