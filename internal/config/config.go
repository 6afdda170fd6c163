// Package config handles runtime configuration and the .datakiln directory
// structure. Every project that runs workflows gets a .datakiln/ folder
// created in its root.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aaaronmiller/datakiln/internal/engine"
	"github.com/aaaronmiller/datakiln/internal/events"
)

const (
	// ProjectDirName is the directory created in each project root.
	ProjectDirName = ".datakiln"

	defaultWorkflowFile = "workflow.yaml"
)

const defaultRunConfigYAML = `# datakiln run configuration
version: 1

# Resource ceiling one run may consume.
budget:
  browser_contexts: 3
  concurrent_nodes: 5
  memory_limit_mb: 512
  timeout_limit_ms: 300000

# Fan-in defaults. Individual merge nodes may override these.
fan_in:
  tick_interval_ms: 100
  quorum_timeout_ms: 30000

# Event bridge; leave disabled unless another process tails the run.
bridge:
  enabled: false
  host: 127.0.0.1
  port: 8787
  history_limit: 512

workflows:
  default: workflow.yaml
`

// BudgetConfig models the budget block of .datakiln/config.yaml.
type BudgetConfig struct {
	BrowserContexts int `yaml:"browser_contexts"`
	ConcurrentNodes int `yaml:"concurrent_nodes"`
	MemoryLimitMB   int `yaml:"memory_limit_mb"`
	TimeoutLimitMS  int `yaml:"timeout_limit_ms"`
}

// FanInDefaults carries run-wide fan-in settings, declared in milliseconds.
type FanInDefaults struct {
	TickIntervalMS  int `yaml:"tick_interval_ms"`
	QuorumTimeoutMS int `yaml:"quorum_timeout_ms"`
}

// TickInterval converts the poll cadence to a duration.
func (f FanInDefaults) TickInterval() time.Duration {
	return time.Duration(f.TickIntervalMS) * time.Millisecond
}

// QuorumTimeout converts the quorum wait ceiling to a duration.
func (f FanInDefaults) QuorumTimeout() time.Duration {
	return time.Duration(f.QuorumTimeoutMS) * time.Millisecond
}

// BridgeConfig models the bridge block.
type BridgeConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	HistoryLimit int    `yaml:"history_limit"`
}

// Settings converts the block into bridge server settings.
func (b BridgeConfig) Settings() events.Settings {
	return events.Settings{Host: b.Host, Port: b.Port, HistoryLimit: b.HistoryLimit}
}

// WorkflowConfig captures workflow file preferences.
type WorkflowConfig struct {
	Default   string   `yaml:"default"`
	Available []string `yaml:"available,omitempty"`
}

// RunConfig models .datakiln/config.yaml.
type RunConfig struct {
	Version   int            `yaml:"version"`
	Budget    BudgetConfig   `yaml:"budget"`
	FanIn     FanInDefaults  `yaml:"fan_in"`
	Bridge    BridgeConfig   `yaml:"bridge"`
	Workflows WorkflowConfig `yaml:"workflows"`
}

// Config holds the runtime configuration for one project.
type Config struct {
	// ProjectDir is the directory the CLI was launched from.
	ProjectDir string

	// RuntimeDir is ProjectDir/.datakiln.
	RuntimeDir string

	Run RunConfig
}

// InitRuntimeDir creates the .datakiln directory structure in the given
// project directory.
//
// Structure created:
// .datakiln/
// ├── logs/       <- run logs
// ├── artifacts/  <- exported artifact dumps
// └── plugins/    <- interpreted aggregator plugins
func InitRuntimeDir(projectDir string) error {
	runtimeDir := filepath.Join(projectDir, ProjectDirName)
	dirs := []string{
		filepath.Join(runtimeDir, "logs"),
		filepath.Join(runtimeDir, "artifacts"),
		filepath.Join(runtimeDir, "plugins"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return ensureRunConfig(filepath.Join(runtimeDir, "config.yaml"))
}

// New creates a Config populated from the project's config.yaml, falling
// back to defaults when the file is absent.
func New(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		RuntimeDir: filepath.Join(projectDir, ProjectDirName),
		Run:        defaultRunConfig(),
	}
	if err := cfg.loadRunConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.RuntimeDir, "logs")
}

// ArtifactsDir returns the path where artifact dumps are written.
func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.RuntimeDir, "artifacts")
}

// PluginsDir returns the directory scanned for aggregator plugins.
func (c *Config) PluginsDir() string {
	return filepath.Join(c.RuntimeDir, "plugins")
}

// RunConfigPath returns the on-disk location of the run config file.
func (c *Config) RunConfigPath() string {
	return filepath.Join(c.RuntimeDir, "config.yaml")
}

// Budget converts the configured ceiling into an engine capability budget.
func (c *Config) Budget() engine.CapabilityBudget {
	return engine.CapabilityBudget{
		BrowserContexts: c.Run.Budget.BrowserContexts,
		ConcurrentNodes: c.Run.Budget.ConcurrentNodes,
		MemoryLimitMB:   c.Run.Budget.MemoryLimitMB,
		TimeoutLimitMS:  c.Run.Budget.TimeoutLimitMS,
	}
}

// DefaultWorkflow returns the configured default workflow file.
func (c *Config) DefaultWorkflow() string {
	return c.Run.Workflows.Default
}

// SetDefaultWorkflow updates the default workflow file and persists the value
// back to .datakiln/config.yaml.
func (c *Config) SetDefaultWorkflow(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("config: workflow path is required")
	}
	c.Run.Workflows.Default = path
	if !contains(c.Run.Workflows.Available, path) {
		c.Run.Workflows.Available = append(c.Run.Workflows.Available, path)
	}
	return c.saveRunConfig()
}

func (c *Config) loadRunConfig() error {
	path := c.RunConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed RunConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	parsed.applyDefaults()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Run = parsed
	return nil
}

func defaultRunConfig() RunConfig {
	return RunConfig{
		Version: 1,
		Budget: BudgetConfig{
			BrowserContexts: 3,
			ConcurrentNodes: 5,
			MemoryLimitMB:   512,
			TimeoutLimitMS:  300000,
		},
		FanIn: FanInDefaults{
			TickIntervalMS:  100,
			QuorumTimeoutMS: 30000,
		},
		Bridge: BridgeConfig{
			Host:         "127.0.0.1",
			Port:         8787,
			HistoryLimit: 512,
		},
		Workflows: WorkflowConfig{Default: defaultWorkflowFile},
	}
}

func (rc *RunConfig) applyDefaults() {
	defaults := defaultRunConfig()
	if rc.Version == 0 {
		rc.Version = defaults.Version
	}
	if rc.Budget.BrowserContexts == 0 {
		rc.Budget.BrowserContexts = defaults.Budget.BrowserContexts
	}
	if rc.Budget.ConcurrentNodes == 0 {
		rc.Budget.ConcurrentNodes = defaults.Budget.ConcurrentNodes
	}
	if rc.Budget.MemoryLimitMB == 0 {
		rc.Budget.MemoryLimitMB = defaults.Budget.MemoryLimitMB
	}
	if rc.Budget.TimeoutLimitMS == 0 {
		rc.Budget.TimeoutLimitMS = defaults.Budget.TimeoutLimitMS
	}
	if rc.FanIn.TickIntervalMS == 0 {
		rc.FanIn.TickIntervalMS = defaults.FanIn.TickIntervalMS
	}
	if rc.FanIn.QuorumTimeoutMS == 0 {
		rc.FanIn.QuorumTimeoutMS = defaults.FanIn.QuorumTimeoutMS
	}
	if rc.Bridge.Host == "" {
		rc.Bridge.Host = defaults.Bridge.Host
	}
	if rc.Bridge.Port == 0 {
		rc.Bridge.Port = defaults.Bridge.Port
	}
	if rc.Bridge.HistoryLimit == 0 {
		rc.Bridge.HistoryLimit = defaults.Bridge.HistoryLimit
	}
	rc.Workflows.Default = strings.TrimSpace(rc.Workflows.Default)
	if rc.Workflows.Default == "" {
		rc.Workflows.Default = defaults.Workflows.Default
	}
	if len(rc.Workflows.Available) > 0 && !contains(rc.Workflows.Available, rc.Workflows.Default) {
		rc.Workflows.Available = append(rc.Workflows.Available, rc.Workflows.Default)
	}
}

func (rc *RunConfig) validate() error {
	if rc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	budget := engine.CapabilityBudget{
		BrowserContexts: rc.Budget.BrowserContexts,
		ConcurrentNodes: rc.Budget.ConcurrentNodes,
		MemoryLimitMB:   rc.Budget.MemoryLimitMB,
		TimeoutLimitMS:  rc.Budget.TimeoutLimitMS,
	}
	if err := budget.Validate(); err != nil {
		return err
	}
	if rc.FanIn.TickIntervalMS < 0 {
		return fmt.Errorf("fan_in.tick_interval_ms must not be negative")
	}
	if rc.FanIn.QuorumTimeoutMS < 0 {
		return fmt.Errorf("fan_in.quorum_timeout_ms must not be negative")
	}
	if rc.Bridge.Port < 0 || rc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port %d is out of range", rc.Bridge.Port)
	}
	if strings.TrimSpace(rc.Workflows.Default) == "" {
		return fmt.Errorf("workflows.default is required")
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func ensureRunConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultRunConfigYAML), 0644)
}

func (c *Config) saveRunConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Run.applyDefaults()
	if err := c.Run.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.RuntimeDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure runtime dir: %w", err)
	}
	data, err := yaml.Marshal(c.Run)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.RunConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("config: write run config: %w", err)
	}
	return nil
}
