package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildCommand(t *testing.T) {
	cmd := BuildCommand("nextflow", "/data/workflows/wf-1/main.nf", "/data/workspaces/ws-1", "")

	assert.Equal(t, "nextflow", cmd.Path)
	assert.Equal(t, []string{
		"-bg",
		"run", "/data/workflows/wf-1/main.nf",
		"--workspace", "/data/workspaces/ws-1/",
		"--mets", "/data/workspaces/ws-1/mets.xml",
		"-with-report",
	}, cmd.Args)
	assert.Equal(t,
		"nextflow -bg run /data/workflows/wf-1/main.nf --workspace /data/workspaces/ws-1/ --mets /data/workspaces/ws-1/mets.xml -with-report",
		cmd.String())
}

func TestBuildCommandIsDeterministic(t *testing.T) {
	a := BuildCommand("/opt/nf/nextflow", "s.nf", "/ws/", "data/mets.xml")
	b := BuildCommand("/opt/nf/nextflow", "s.nf", "/ws/", "data/mets.xml")

	assert.Equal(t, a, b)
	assert.Equal(t, "/ws/", a.Args[4])
	assert.Equal(t, "/ws/data/mets.xml", a.Args[6])
	assert.Equal(t, "nextflow", a.Name())
}

func TestCommandStringQuotes(t *testing.T) {
	cmd := Command{Path: "nextflow", Args: []string{"run", "my script.nf", ""}}
	assert.Equal(t, `nextflow run "my script.nf" ""`, cmd.String())
}
