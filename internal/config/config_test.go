package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/procpool/internal/command"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "procpool.toml")
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return file
}

func TestLoad_Minimal(t *testing.T) {
	file := writeTOML(t, `commands = ["sleep 1", "echo Hello", "echo World"]`)
	c, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Commands) != 3 || c.Commands[1] != "echo Hello" {
		t.Fatalf("unexpected commands: %#v", c.Commands)
	}
	if c.Pool.Capacity != 10 || c.Pool.SweepInterval != 10*time.Millisecond || c.Pool.QuotePolicy != "strip" {
		t.Fatalf("defaults not applied: %+v", c.Pool)
	}
	if c.Log.Level != "info" || c.Server.BasePath != "/api" {
		t.Fatalf("defaults not applied: log=%+v server=%+v", c.Log, c.Server)
	}
}

func TestLoad_Full(t *testing.T) {
	file := writeTOML(t, `
commands = ['echo "a b"']
workdir = "/tmp"
env = ["A=1"]

[pool]
capacity = 2
strict_capacity = true
sweep_interval = "250ms"
sample_interval = "1s"
quote_policy = "retain"
quotes = "\"'"

[log]
level = "debug"
format = "json"
[log.file]
path = "/tmp/procpool.log"
max_backups = 5

[history]
dsn = "sqlite:///tmp/h.db"

[server]
listen = ":9090"
base_path = "/v1"

[metrics]
enabled = true
`)
	c, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.Pool.StrictCapacity || c.Pool.Capacity != 2 || c.Pool.SweepInterval != 250*time.Millisecond || c.Pool.SampleInterval != time.Second {
		t.Fatalf("pool: %+v", c.Pool)
	}
	if c.Log.Format != "json" || c.Log.File.Path != "/tmp/procpool.log" || c.Log.File.MaxBackups != 5 {
		t.Fatalf("log: %+v", c.Log)
	}
	if c.History.DSN != "sqlite:///tmp/h.db" || c.Server.Listen != ":9090" || c.Server.BasePath != "/v1" || !c.Metrics.Enabled {
		t.Fatalf("history/server/metrics: %+v %+v %+v", c.History, c.Server, c.Metrics)
	}
	p := c.Parser()
	if p.Policy != command.RetainQuotes || p.Quotes != `"'` {
		t.Fatalf("parser: %+v", p)
	}
	_, args, err := p.Parse(c.Commands[0])
	if err != nil || len(args) != 1 || args[0] != `"a b"` {
		t.Fatalf("retained parse: %#v %v", args, err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PROCPOOL_POOL_CAPACITY", "42")
	c, err := Load(writeTOML(t, `commands = ["true"]`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Pool.Capacity != 42 {
		t.Fatalf("env override not applied: %d", c.Pool.Capacity)
	}
}

func TestLoad_EnvOverrideKeysWithoutFileValue(t *testing.T) {
	t.Setenv("PROCPOOL_POOL_STRICT_CAPACITY", "true")
	t.Setenv("PROCPOOL_POOL_SAMPLE_INTERVAL", "1s")
	t.Setenv("PROCPOOL_HISTORY_DSN", "sqlite://runs.db")
	t.Setenv("PROCPOOL_SERVER_LISTEN", ":9090")
	t.Setenv("PROCPOOL_WORKDIR", "/tmp")
	t.Setenv("PROCPOOL_METRICS_ENABLED", "true")
	t.Setenv("PROCPOOL_LOG_FILE_PATH", "/tmp/procpool.log")
	c, err := Load(writeTOML(t, `commands = ["true"]`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.Pool.StrictCapacity || c.Pool.SampleInterval != time.Second {
		t.Fatalf("pool overrides not applied: %+v", c.Pool)
	}
	if c.History.DSN != "sqlite://runs.db" || c.Server.Listen != ":9090" || c.WorkDir != "/tmp" {
		t.Fatalf("overrides not applied: history=%q listen=%q workdir=%q", c.History.DSN, c.Server.Listen, c.WorkDir)
	}
	if !c.Metrics.Enabled || c.Log.File.Path != "/tmp/procpool.log" {
		t.Fatalf("overrides not applied: metrics=%v log=%q", c.Metrics.Enabled, c.Log.File.Path)
	}
	if len(c.Commands) != 1 || c.Pool.Capacity != 10 {
		t.Fatalf("file values and defaults lost: %+v", c)
	}
}

func TestLoad_NoFile(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Commands) != 0 || c.Pool.Capacity != 10 {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"bad policy":   "[pool]\nquote_policy = \"double\"\n",
		"neg capacity": "[pool]\ncapacity = -1\n",
		"empty cmd":    "commands = [\"  \"]\n",
		"bad level":    "[log]\nlevel = \"loud\"\n",
		"bad toml":     "commands = [\n",
	}
	for name, data := range cases {
		if _, err := Load(writeTOML(t, data)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestProcessEnv(t *testing.T) {
	c := Default()
	got, err := c.ProcessEnv()
	if err != nil || got != nil {
		t.Fatalf("expected inherited env, got %v %v", got, err)
	}

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("FROM_FILE=1\nOVERRIDE=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c.EnvFiles = []string{envFile}
	c.Env = []string{"OVERRIDE=top", "DERIVED=${FROM_FILE}-x"}
	got, err = c.ProcessEnv()
	if err != nil {
		t.Fatalf("ProcessEnv: %v", err)
	}
	joined := strings.Join(got, ",")
	if joined != "DERIVED=1-x,FROM_FILE=1,OVERRIDE=top" {
		t.Fatalf("unexpected env %q", joined)
	}

	c.EnvFiles = []string{filepath.Join(dir, "missing")}
	if _, err := c.ProcessEnv(); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
