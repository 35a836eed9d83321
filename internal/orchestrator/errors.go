package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnavailable is returned by StartJob when the engine probe fails.
	ErrEngineUnavailable = errors.New("workflow engine unavailable")
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("not found")
)

// NotFoundError names the missing resource: "workflow", "workspace" or "job".
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
