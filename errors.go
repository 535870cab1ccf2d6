package shopsync

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStorageFull is wrapped by Set when the provider rejected the write.
var ErrStorageFull = errors.New("shopsync: storage full")

// WriteError reports a failed Set or Remove.
type WriteError struct {
	Op  string // "set" or "remove"
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("shopsync: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ClearError collects the keys Clear could not delete.
type ClearError struct {
	Namespace string
	Keys      []string
	Errs      []error
}

func (e *ClearError) Error() string {
	switch len(e.Keys) {
	case 0:
		return fmt.Sprintf("clear %q: unknown error", e.Namespace)
	case 1:
		return fmt.Sprintf("clear %q: delete %q failed: %v", e.Namespace, e.Keys[0], e.Errs[0])
	default:
		return fmt.Sprintf("clear %q: %d deletes failed: %s", e.Namespace, len(e.Keys), strings.Join(e.Keys, ", "))
	}
}

func (e *ClearError) Unwrap() []error { return e.Errs }
