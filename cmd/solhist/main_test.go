package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestApp_CommandTreeIsValid(t *testing.T) {
	tests := [][]string{
		{"solhist", "--help"},
		{"solhist", "help"},
		{"solhist", "h"},
		{"solhist", "history", "--help"},
		{"solhist", "hist", "--help"},
		{"solhist", "db", "--help"},
		{"solhist", "schedules", "--help"},
		{"solhist", "nats", "--help"},
		{"solhist", "track", "--help"},
		{"solhist", "server", "version"},
	}

	for _, args := range tests {
		t.Run(strings.Join(args[1:], " "), func(t *testing.T) {
			app := newApp()
			app.Writer = io.Discard
			require.NoError(t, app.Run(args))
		})
	}
}

func TestApp_NoDuplicateCommandNames(t *testing.T) {
	var walk func(path string, commands []*cli.Command)
	walk = func(path string, commands []*cli.Command) {
		// urfave/cli adds a help command named "help" with alias "h" at every level.
		seen := map[string]string{"help": "help", "h": "help"}
		for _, cmd := range commands {
			for _, name := range cmd.Names() {
				prev, dup := seen[name]
				assert.False(t, dup, "%s: %q is used by both %s and %s", path, name, prev, cmd.Name)
				seen[name] = cmd.Name
			}
			walk(path+" "+cmd.Name, cmd.Subcommands)
		}
	}
	walk("solhist", newApp().Commands)
}

// captureOutput runs fn with os.Stdout and os.Stderr redirected to pipes and
// returns what was written to each.
func captureOutput(t *testing.T, fn func() error) (stdout, stderr string, err error) {
	t.Helper()

	drain := func() (*os.File, <-chan string) {
		r, w, err := os.Pipe()
		require.NoError(t, err)
		done := make(chan string)
		go func() {
			var buf bytes.Buffer
			io.Copy(&buf, r)
			r.Close()
			done <- buf.String()
		}()
		return w, done
	}
	outW, outDone := drain()
	errW, errDone := drain()

	oldStdout, oldStderr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = outW, errW
	defer func() {
		os.Stdout, os.Stderr = oldStdout, oldStderr
	}()

	err = fn()
	outW.Close()
	errW.Close()
	return <-outDone, <-errDone, err
}
