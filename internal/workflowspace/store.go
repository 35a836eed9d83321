// Package workflowspace stores uploaded workflow definitions, one directory
// per workflow, under a common root.
package workflowspace

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

const (
	copyBufferSize = 32 * 1024
	stagingPrefix  = ".staging-"
)

var (
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("workflow space already exists")
	// ErrNotFound is returned when a space or its definition is missing.
	ErrNotFound = errors.New("workflow space not found")
)

// Space describes a stored workflow.
type Space struct {
	ID             string
	Dir            string
	DefinitionName string
	DefinitionPath string
	// Digest is the BLAKE3 hex digest of the definition. Empty in List results.
	Digest string
}

// Store manages workflow spaces on local disk.
type Store struct {
	root  string
	now   func() time.Time
	newID func() string
}

// NewStore creates a store rooted at root. The directory is created lazily.
func NewStore(root string) (*Store, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("workflow space root is empty")
	}
	return &Store{
		root:  filepath.Clean(trimmed),
		now:   time.Now,
		newID: uuid.NewString,
	}, nil
}

// Root returns the directory holding all workflow spaces.
func (s *Store) Root() string { return s.root }

// Create stores the definition read from r under a new workflow space. An empty
// id gets a fresh UUID. The space directory only appears once the definition
// has been fully written.
func (s *Store) Create(ctx context.Context, name string, r io.Reader, id string) (Space, error) {
	if err := ctx.Err(); err != nil {
		return Space{}, err
	}
	if err := validateDefinitionName(name); err != nil {
		return Space{}, err
	}
	if id == "" {
		id = s.newID()
	} else if err := ValidateID(id); err != nil {
		return Space{}, err
	}

	dir := filepath.Join(s.root, id)
	if _, err := os.Lstat(dir); err == nil {
		return Space{}, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	} else if !os.IsNotExist(err) {
		return Space{}, fmt.Errorf("stat workflow space %q: %w", id, err)
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return Space{}, fmt.Errorf("create workflow space root: %w", err)
	}

	staging := filepath.Join(s.root, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return Space{}, fmt.Errorf("create staging directory: %w", err)
	}

	digest, err := writeDefinition(filepath.Join(staging, name), r)
	if err != nil {
		_ = os.RemoveAll(staging)
		return Space{}, fmt.Errorf("write definition for %q: %w", id, err)
	}

	if err := os.Rename(staging, dir); err != nil {
		_ = os.RemoveAll(staging)
		if _, statErr := os.Lstat(dir); statErr == nil {
			return Space{}, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
		}
		return Space{}, fmt.Errorf("publish workflow space %q: %w", id, err)
	}

	return Space{
		ID:             id,
		Dir:            dir,
		DefinitionName: name,
		DefinitionPath: filepath.Join(dir, name),
		Digest:         digest,
	}, nil
}

// Update replaces the definition of workflow id. The old directory, including
// any job directories in it, is removed before the new one is created; a
// failure in between leaves no space under id. Bad ids and definition names
// are rejected before anything is removed.
func (s *Store) Update(ctx context.Context, name string, r io.Reader, id string) (Space, error) {
	if err := ctx.Err(); err != nil {
		return Space{}, err
	}
	if err := ValidateID(id); err != nil {
		return Space{}, err
	}
	if err := validateDefinitionName(name); err != nil {
		return Space{}, err
	}
	if err := os.RemoveAll(filepath.Join(s.root, id)); err != nil {
		return Space{}, fmt.Errorf("remove workflow space %q: %w", id, err)
	}
	return s.Create(ctx, name, r, id)
}

// List returns every workflow space sorted by id.
func (s *Store) List(ctx context.Context) ([]Space, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return []Space{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workflow space root: %w", err)
	}

	spaces := make([]Space, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		sp := Space{ID: entry.Name(), Dir: filepath.Join(s.root, entry.Name())}
		if name, err := definitionName(sp.Dir); err == nil {
			sp.DefinitionName = name
			sp.DefinitionPath = filepath.Join(sp.Dir, name)
		}
		spaces = append(spaces, sp)
	}
	sort.Slice(spaces, func(i, j int) bool { return spaces[i].ID < spaces[j].ID })
	return spaces, nil
}

// DefinitionPath returns the path of the definition stored for id.
func (s *Store) DefinitionPath(ctx context.Context, id string) (string, error) {
	sp, err := s.describe(ctx, id)
	if err != nil {
		return "", err
	}
	return sp.DefinitionPath, nil
}

// Get returns the descriptor for id including the definition digest.
func (s *Store) Get(ctx context.Context, id string) (Space, error) {
	sp, err := s.describe(ctx, id)
	if err != nil {
		return Space{}, err
	}
	digest, err := digestFile(sp.DefinitionPath)
	if err != nil {
		return Space{}, fmt.Errorf("digest definition for %q: %w", id, err)
	}
	sp.Digest = digest
	return sp, nil
}

// PruneStaging removes staging directories abandoned by interrupted creates
// that are older than olderThan.
func (s *Store) PruneStaging(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read workflow space root: %w", err)
	}

	cutoff := s.now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return removed, fmt.Errorf("read staging entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return removed, fmt.Errorf("remove staging directory %q: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) describe(ctx context.Context, id string) (Space, error) {
	if err := ctx.Err(); err != nil {
		return Space{}, err
	}
	if err := ValidateID(id); err != nil {
		return Space{}, fmt.Errorf("%w: %s", ErrNotFound, err)
	}

	dir := filepath.Join(s.root, id)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return Space{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Space{}, fmt.Errorf("stat workflow space %q: %w", id, err)
	}
	if !info.IsDir() {
		return Space{}, fmt.Errorf("%w: %s is not a directory", ErrNotFound, id)
	}

	name, err := definitionName(dir)
	if err != nil {
		return Space{}, fmt.Errorf("workflow %q: %w", id, err)
	}
	return Space{
		ID:             id,
		Dir:            dir,
		DefinitionName: name,
		DefinitionPath: filepath.Join(dir, name),
	}, nil
}

// definitionName finds the single regular file at the top of a space. Job
// directories sit next to it and are skipped.
func definitionName(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read workflow space: %w", err)
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() && !strings.HasPrefix(entry.Name(), ".") {
			return entry.Name(), nil
		}
	}
	return "", fmt.Errorf("%w: no definition file", ErrNotFound)
}

func validateDefinitionName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("definition file name %q is invalid", name)
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("definition file name %q is invalid", name)
	}
	return nil
}

func writeDefinition(path string, r io.Reader) (string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}

	h := blake3.New()
	buf := make([]byte, copyBufferSize)
	// Hide WriterTo so the copy always goes through buf.
	if _, err := io.CopyBuffer(io.MultiWriter(f, h), struct{ io.Reader }{r}, buf); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.CopyBuffer(h, struct{ io.Reader }{f}, make([]byte, copyBufferSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
