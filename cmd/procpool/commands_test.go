package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/procpool/internal/report"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunPrintsEachCompletion(t *testing.T) {
	requireUnix(t)
	out, err := execute(t, "run", "--log-level", "error", "sleep 0.2", `echo "hello world"`)
	require.NoError(t, err)
	assert.Contains(t, out, "hello world\n")
	// echo finishes first
	assert.Less(t, strings.Index(out, "=== echo"), strings.Index(out, "=== sleep"))
}

func TestRunJSON(t *testing.T) {
	requireUnix(t)
	out, err := execute(t, "run", "--json", "--log-level", "error", "echo one")
	require.NoError(t, err)
	var c report.Completion
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &c))
	assert.Equal(t, "echo", c.Program)
	assert.Equal(t, "one\n", c.Output)
}

func TestRunSpawnFailureExitsNonZero(t *testing.T) {
	requireUnix(t)
	out, err := execute(t, "run", "--log-level", "error", "no-such-binary-procpool", "echo ok")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errSpawnFailures))
	assert.Contains(t, out, "failed to start")
	assert.Contains(t, out, "ok\n")
}

func TestRunCommandsFromConfig(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "procpool.toml")
	content := `
commands = ["echo from-config", "ls"]
workdir = "` + dir + `"

[pool]
capacity = 4
quote_policy = "retain"

[log]
level = "error"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	out, err := execute(t, "run", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "from-config\n")
	assert.Contains(t, out, "procpool.toml\n")
}

func TestRunHistorySQLite(t *testing.T) {
	requireUnix(t)
	dbPath := filepath.Join(t.TempDir(), "history.db")
	_, err := execute(t, "run", "--log-level", "error", "--history", "sqlite://"+dbPath, "echo stored")
	require.NoError(t, err)
	st, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Greater(t, st.Size(), int64(0))
}

func TestRunNoCommands(t *testing.T) {
	_, err := execute(t, "run", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no commands")
}

func TestRunRejectsBadQuotePolicy(t *testing.T) {
	_, err := execute(t, "run", "--quote-policy", "double", "echo x")
	require.Error(t, err)
}

func TestParseCommand(t *testing.T) {
	out, err := execute(t, "parse", `ls -al "/tmp dir"`)
	require.NoError(t, err)
	assert.Equal(t, "program: \"ls\"\narg[0]: \"-al\"\narg[1]: \"/tmp dir\"\n", out)

	out, err = execute(t, "parse", "--quote-policy", "retain", `echo "x"`)
	require.NoError(t, err)
	assert.Contains(t, out, `arg[0]: "\"x\""`)

	_, err = execute(t, "parse", `echo "open`)
	require.Error(t, err)
}

func TestFormatCompletion(t *testing.T) {
	now := time.Now()
	got := formatCompletion(report.Completion{Name: "echo", PID: 7, Output: "hi", StartedAt: now, FinishedAt: now.Add(5 * time.Millisecond)})
	assert.Equal(t, "=== echo (pid 7) exit=0 in 5ms\nhi\n", got)

	got = formatCompletion(report.Completion{Name: "x", SpawnErr: "boom"})
	assert.Equal(t, "=== x: failed to start: boom\n", got)
}
