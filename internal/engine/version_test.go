package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	out  string
	err  error
	cmds []Command
}

func (f *fakeRunner) Output(ctx context.Context, cmd Command) ([]byte, error) {
	f.cmds = append(f.cmds, cmd)
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("probe without deadline")
	}
	return []byte(f.out), f.err
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name   string
		engine string
		output string
		want   string
		ok     bool
	}{
		{"plain", "nextflow", "nextflow version 22.10.0.5826", "22.10.0.5826", true},
		{"banner", "nextflow", "\n      N E X T F L O W\n      nextflow version 23.04.1 build 5866\n", "23.04.1", true},
		{"no space before number", "nextflow", "nextflow version23.1", "23.1", true},
		{"other engine", "nextflow", "snakemake version 7.0", "", false},
		{"no number", "nextflow", "nextflow version unknown", "", false},
		{"empty", "nextflow", "", "", false},
		{"regexp metachars in name", "nf.x", "nfax version 1.0", "", false},
		{"regexp metachars literal", "nf.x", "nf.x version 1.0", "1.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseVersion(tt.engine, tt.output)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectVersion(t *testing.T) {
	runner := &fakeRunner{out: "nextflow version 22.10.0.5826\n"}
	p := &Prober{Binary: "/usr/local/bin/nextflow", Timeout: time.Second, Runner: runner}

	v, err := p.DetectVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "22.10.0.5826", v)

	_, err = p.DetectVersion(context.Background())
	require.NoError(t, err)
	require.Len(t, runner.cmds, 2, "version must not be cached")
	assert.Equal(t, Command{Path: "/usr/local/bin/nextflow", Args: []string{"-v"}}, runner.cmds[0])
}

func TestDetectVersionUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
	}{
		{"spawn failure", &fakeRunner{err: errors.New("exec: not found")}},
		{"unparsable output", &fakeRunner{out: "command not understood"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Prober{Binary: "nextflow", Runner: tt.runner}
			_, err := p.DetectVersion(context.Background())
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestDetectVersionMissingBinary(t *testing.T) {
	p := NewProber("/nonexistent/nextflow", time.Second)
	_, err := p.DetectVersion(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
