// Package workspace resolves data workspaces that jobs run against. Workspaces
// are owned by another service; nfgate only reads them.
package workspace

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no workspace exists for an id.
var ErrNotFound = errors.New("workspace not found")

// Workspace describes a data workspace on local disk.
type Workspace struct {
	ID  string
	Dir string
	// MetsName is the METS file name relative to Dir.
	MetsName string
}

// Resolver maps a workspace id to its directory.
type Resolver interface {
	Resolve(ctx context.Context, id string) (Workspace, error)
}
