package tasks

import (
	"fmt"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/storage"
)

// ErrInvalidTransition matches every rejected status change.
var ErrInvalidTransition = apperr.New(apperr.Validation, "invalid status transition")

// TransitionError describes a rejected status change. It matches
// ErrInvalidTransition under errors.Is and classifies as a validation error.
type TransitionError struct {
	From storage.TaskStatus
	To   storage.TaskStatus
	msg  string
}

func (e *TransitionError) Error() string { return e.msg }

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func (e *TransitionError) Unwrap() error { return apperr.New(apperr.Validation, e.msg) }

func errNotPending(from storage.TaskStatus) error {
	return &TransitionError{From: from, To: storage.TaskInProgress, msg: "task must be in pending status to start"}
}

func errAlreadyCompleted() error {
	return &TransitionError{From: storage.TaskCompleted, To: storage.TaskCompleted, msg: "task is already completed"}
}

func errTransition(from, to storage.TaskStatus) error {
	return &TransitionError{From: from, To: to, msg: fmt.Sprintf("cannot change status from %s to %s", from, to)}
}

// CanStart reports whether a task in status s may be started.
func CanStart(s storage.TaskStatus) bool {
	return s == storage.TaskPending
}

// CanComplete reports whether a task in status s may be completed. Every
// status but completed qualifies, including pending and cancelled.
func CanComplete(s storage.TaskStatus) bool {
	return s != storage.TaskCompleted
}

// CanTransition reports whether an update may move a task from one status to
// another. Completed and cancelled are terminal and nothing returns to pending.
func CanTransition(from, to storage.TaskStatus) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case storage.TaskPending:
		return to != storage.TaskPending
	case storage.TaskInProgress:
		return to == storage.TaskCompleted || to == storage.TaskCancelled
	}
	return false
}

// PriorityRank orders priorities for listings: urgent is 1, low is 4.
func PriorityRank(p storage.TaskPriority) int {
	switch p {
	case storage.PriorityUrgent:
		return 1
	case storage.PriorityHigh:
		return 2
	case storage.PriorityMedium:
		return 3
	case storage.PriorityLow:
		return 4
	}
	return 5
}
