package workspace

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/nfgate/internal/workflowspace"
)

const (
	bagInfoFile = "bag-info.txt"
	metsKey     = "Ocrd-Mets"
)

// FSResolver resolves workspaces stored as directories under a root.
type FSResolver struct {
	root            string
	defaultMetsName string
}

var _ Resolver = (*FSResolver)(nil)

// NewFSResolver creates a resolver rooted at root. defaultMetsName is used when
// a workspace does not declare its own METS file.
func NewFSResolver(root, defaultMetsName string) (*FSResolver, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace root is empty")
	}
	if defaultMetsName == "" {
		defaultMetsName = "mets.xml"
	}
	return &FSResolver{root: filepath.Clean(trimmed), defaultMetsName: defaultMetsName}, nil
}

// Resolve returns the workspace for id.
func (r *FSResolver) Resolve(ctx context.Context, id string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}
	if err := workflowspace.ValidateID(id); err != nil {
		return Workspace{}, fmt.Errorf("%w: %s", ErrNotFound, err)
	}

	dir := filepath.Join(r.root, id)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return Workspace{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Workspace{}, fmt.Errorf("stat workspace %q: %w", id, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("%w: %s is not a directory", ErrNotFound, id)
	}

	mets, err := readMetsName(filepath.Join(dir, bagInfoFile))
	if err != nil {
		return Workspace{}, fmt.Errorf("workspace %q: %w", id, err)
	}
	if mets == "" {
		mets = r.defaultMetsName
	}
	return Workspace{ID: id, Dir: dir, MetsName: mets}, nil
}

// readMetsName returns the Ocrd-Mets value of a bag-info file, or "" when the
// file or key is absent.
func readMetsName(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open %s: %w", bagInfoFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), metsKey) {
			continue
		}
		value = strings.TrimSpace(value)
		if filepath.IsAbs(value) || strings.Contains(value, "..") {
			return "", fmt.Errorf("%s: %s %q escapes the workspace", bagInfoFile, metsKey, value)
		}
		return value, nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", bagInfoFile, err)
	}
	return "", nil
}
