// Package engine builds, launches and probes the external workflow engine.
package engine

import (
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultMetsName is passed to the engine when a workspace names no METS file.
const DefaultMetsName = "mets.xml"

// Command is a program invocation. It carries no working directory; the
// launcher supplies that.
type Command struct {
	Path string
	Args []string
}

// BuildCommand returns the background run invocation of engineBin for a
// workflow script against a workspace directory.
func BuildCommand(engineBin, scriptPath, workspacePath, metsName string) Command {
	if metsName == "" {
		metsName = DefaultMetsName
	}
	ws := strings.TrimRight(workspacePath, "/")
	return Command{
		Path: engineBin,
		Args: []string{
			"-bg",
			"run", scriptPath,
			"--workspace", ws + "/",
			"--mets", ws + "/" + metsName,
			"-with-report",
		},
	}
}

// Name is the base name of the engine binary, as it prints itself in version
// output.
func (c Command) Name() string {
	return filepath.Base(c.Path)
}

// String renders the command line, quoting arguments that contain whitespace.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, p := range append([]string{c.Path}, c.Args...) {
		if p == "" || strings.ContainsAny(p, " \t\n\"'") {
			p = strconv.Quote(p)
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}
