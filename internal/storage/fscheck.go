package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// fsDetector reports the filesystem type name for an existing path.
type fsDetector func(path string) (string, error)

// checkLocalFilesystem refuses job databases on network mounts, where SQLite
// locking (and therefore the conditional state update) is unreliable.
func checkLocalFilesystem(dbPath string, detect fsDetector) error {
	if dbPath == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	probe, err := nearestExistingPath(dbPath)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", dbPath, err)
	}

	fsType, err := detect(probe)
	if err != nil {
		// Unknown platforms cannot tell; do not block startup on that.
		return nil
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"job database %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. Point state.path at local disk",
			dbPath,
			fsType,
		)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	_, found := networkFilesystems[strings.TrimSpace(strings.ToLower(fsType))]
	return found
}
