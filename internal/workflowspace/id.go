package workflowspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrInvalidID is returned when an id cannot name a directory under a root.
var ErrInvalidID = errors.New("invalid id")

// ValidateID reports whether id is usable as a single path element. It is
// shared with the execution space allocator, which nests job ids the same way.
func ValidateID(id string) error {
	trimmed := strings.TrimSpace(id)
	switch {
	case trimmed == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case trimmed != id:
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidID, id)
	case trimmed == "." || trimmed == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(trimmed, `/\`):
		return fmt.Errorf("%w: %q must not contain path separators", ErrInvalidID, id)
	case strings.HasPrefix(trimmed, "."):
		return fmt.Errorf("%w: %q must not start with a dot", ErrInvalidID, id)
	case filepath.Clean(trimmed) != trimmed:
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
