package branchflow

import (
	"fmt"

	"github.com/c360/flowcanvas/errors"
)

// ErrorKind classifies a BranchFlowError
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not-found"
	KindDuplicate        ErrorKind = "duplicate"
	KindOverLimit        ErrorKind = "over-limit"
	KindValidationFailed ErrorKind = "validation-failed"
)

// BranchFlowError is returned by Manager operations that reject a request
type BranchFlowError struct {
	Kind     ErrorKind
	BranchID string
	Message  string
	Err      error
}

func (e *BranchFlowError) Error() string {
	if e.BranchID != "" {
		return fmt.Sprintf("branch %s: %s", e.BranchID, e.Message)
	}
	return e.Message
}

// Unwrap returns the matching canvas sentinel so callers can use errors.Is
func (e *BranchFlowError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	switch e.Kind {
	case KindNotFound:
		return errors.ErrNotFound
	case KindDuplicate:
		return errors.ErrConflict
	case KindOverLimit:
		return errors.ErrLimitExceeded
	case KindValidationFailed:
		return errors.ErrValidationFailed
	}
	return nil
}

func notFound(id string) error {
	return &BranchFlowError{Kind: KindNotFound, BranchID: id, Message: "branch does not exist"}
}
