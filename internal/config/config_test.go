package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadRunConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	runtimeDir := filepath.Join(projectDir, ProjectDirName)
	if err := os.MkdirAll(runtimeDir, 0755); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, RuntimeDir: runtimeDir, Run: defaultRunConfig()}
	if err := c.loadRunConfig(); err != nil {
		t.Fatalf("loadRunConfig returned error: %v", err)
	}
	if c.Run.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Run.Version)
	}
	if c.DefaultWorkflow() != defaultWorkflowFile {
		t.Fatalf("expected default workflow %q, got %q", defaultWorkflowFile, c.DefaultWorkflow())
	}
	budget := c.Budget()
	if budget.ConcurrentNodes != 5 || budget.BrowserContexts != 3 {
		t.Fatalf("unexpected default budget: %+v", budget)
	}
}

func TestLoadRunConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	runtimeDir := filepath.Join(projectDir, ProjectDirName)
	if err := os.MkdirAll(runtimeDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
budget:
  browser_contexts: 2
  concurrent_nodes: 8
  memory_limit_mb: 1024
  timeout_limit_ms: 60000
fan_in:
  tick_interval_ms: 50
  quorum_timeout_ms: 5000
bridge:
  enabled: true
  host: 0.0.0.0
  port: 9900
  history_limit: 64
workflows:
  default: research.yaml
  available:
    - research.yaml
    - summarize.yaml
`)
	if err := os.WriteFile(filepath.Join(runtimeDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, RuntimeDir: runtimeDir, Run: defaultRunConfig()}
	if err := c.loadRunConfig(); err != nil {
		t.Fatalf("loadRunConfig returned error: %v", err)
	}
	if c.Budget().ConcurrentNodes != 8 {
		t.Fatalf("unexpected budget: %+v", c.Budget())
	}
	if c.Run.FanIn.TickInterval() != 50*time.Millisecond {
		t.Fatalf("unexpected tick interval: %s", c.Run.FanIn.TickInterval())
	}
	if c.Run.FanIn.QuorumTimeout() != 5*time.Second {
		t.Fatalf("unexpected quorum timeout: %s", c.Run.FanIn.QuorumTimeout())
	}
	if !c.Run.Bridge.Enabled || c.Run.Bridge.Settings().Port != 9900 {
		t.Fatalf("unexpected bridge settings: %+v", c.Run.Bridge)
	}
	if c.DefaultWorkflow() != "research.yaml" {
		t.Fatalf("wrong default workflow: %s", c.DefaultWorkflow())
	}
}

func TestLoadRunConfigValidation(t *testing.T) {
	projectDir := t.TempDir()
	runtimeDir := filepath.Join(projectDir, ProjectDirName)
	if err := os.MkdirAll(runtimeDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
budget:
  concurrent_nodes: -2
`)
	if err := os.WriteFile(filepath.Join(runtimeDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, RuntimeDir: runtimeDir, Run: defaultRunConfig()}
	if err := c.loadRunConfig(); err == nil {
		t.Fatalf("expected validation error but got none")
	}
}

func TestInitRuntimeDirWritesDefaultConfig(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitRuntimeDir(projectDir); err != nil {
		t.Fatalf("init runtime dir: %v", err)
	}
	for _, sub := range []string{"logs", "artifacts", "plugins"} {
		if _, err := os.Stat(filepath.Join(projectDir, ProjectDirName, sub)); err != nil {
			t.Fatalf("expected %s directory: %v", sub, err)
		}
	}
	data, err := os.ReadFile(filepath.Join(projectDir, ProjectDirName, "config.yaml"))
	if err != nil {
		t.Fatalf("read default config: %v", err)
	}
	if !strings.Contains(string(data), "browser_contexts") {
		t.Fatal("default config should declare a budget")
	}
}

func TestSetDefaultWorkflowPersists(t *testing.T) {
	projectDir := t.TempDir()
	c, err := New(projectDir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if err := c.SetDefaultWorkflow("nightly.yaml"); err != nil {
		t.Fatalf("set default workflow: %v", err)
	}
	reloaded, err := New(projectDir)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if reloaded.DefaultWorkflow() != "nightly.yaml" {
		t.Fatalf("default workflow not persisted: %s", reloaded.DefaultWorkflow())
	}
}
