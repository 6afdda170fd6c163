// Command datakiln executes a workflow definition against the local project.
// It wires the execution engine, the parallel executor, and the builtin node
// executors together, streams run events through the in-process bus, and can
// optionally render a live monitor or expose the event bridge over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aaaronmiller/datakiln/internal/artifact"
	"github.com/aaaronmiller/datakiln/internal/config"
	"github.com/aaaronmiller/datakiln/internal/engine"
	"github.com/aaaronmiller/datakiln/internal/events"
	"github.com/aaaronmiller/datakiln/internal/logging"
	"github.com/aaaronmiller/datakiln/internal/parallel"
	"github.com/aaaronmiller/datakiln/internal/registry"
	"github.com/aaaronmiller/datakiln/internal/runner"
	"github.com/aaaronmiller/datakiln/internal/tui"
	"github.com/aaaronmiller/datakiln/internal/workflow"
	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"
)

func main() {
	workflowPath := flag.String("workflow", "", "path to the workflow YAML (defaults to the configured workflow)")
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	monitor := flag.Bool("monitor", false, "render a live run monitor in the terminal")
	bridge := flag.Bool("bridge", false, "serve run events over the HTTP bridge")
	globalsFile := flag.String("globals-file", "", "path to YAML file with global input values")
	sets := keyValueFlag{}
	flag.Var(&sets, "set", "global input override (key=value, repeatable)")
	flag.Parse()

	project := *projectDir
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
	}
	absoluteProject, err := filepath.Abs(project)
	if err != nil {
		die("resolve project dir: %v", err)
	}
	if err := config.InitRuntimeDir(absoluteProject); err != nil {
		die("init %s: %v", config.ProjectDirName, err)
	}
	cfg, err := config.New(absoluteProject)
	if err != nil {
		die("load config: %v", err)
	}
	log, err := logging.New(absoluteProject)
	if err != nil {
		die("open log: %v", err)
	}
	defer log.Close()

	path := strings.TrimSpace(*workflowPath)
	if path == "" {
		path = cfg.DefaultWorkflow()
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(absoluteProject, path)
	}
	def, err := workflow.LoadDefinitionFile(path)
	if err != nil {
		die("load workflow: %v", err)
	}
	globals, err := buildGlobals(*globalsFile, sets)
	if err != nil {
		die("load globals: %v", err)
	}

	bus := events.NewBus(events.BusWithLogger(log))
	audit := events.NewAuditSink(log)
	sink := events.SinkFunc(func(ev events.Event) error {
		bus.Publish(ev)
		return audit.HandleEvent(ev)
	})

	aggregators := parallel.NewAggregatorRegistry()
	if err := aggregators.LoadDir(cfg.PluginsDir()); err != nil {
		die("load aggregator plugins: %v", err)
	}
	par := parallel.New(passthroughBatch,
		parallel.WithAggregators(aggregators),
		parallel.WithTickInterval(cfg.Run.FanIn.TickInterval()),
		parallel.WithLogger(log),
	)
	reg := registry.New()
	runner.RegisterBuiltins(reg, par)
	r := runner.New(engine.New(engine.WithSink(sink), engine.WithLogger(log)), reg, runner.WithLogger(log))

	ctx := context.Background()
	if *bridge {
		server := events.NewBridgeServer(cfg.Run.Bridge.Settings(), bus, events.BridgeWithLogger(log))
		if err := server.Start(ctx); err != nil {
			die("start bridge: %v", err)
		}
		fmt.Printf("Event bridge listening on %s\n", server.Addr())
		defer server.Shutdown(ctx)
	}

	store := artifact.NewMemoryStore()
	if *monitor {
		runWithMonitor(ctx, r, bus, def, globals, cfg.Budget(), store)
		return
	}
	state, err := r.Execute(ctx, def, globals, cfg.Budget(), store)
	if err != nil {
		die("run workflow: %v", err)
	}
	fmt.Printf("Run status: %s\n", state.Status())
}

// runWithMonitor drives the run in the background while the terminal shows
// the live monitor. The run outcome is reported after the monitor exits.
func runWithMonitor(ctx context.Context, r *runner.Runner, bus *events.Bus, def workflow.Definition, globals map[string]any, budget engine.CapabilityBudget, store artifact.Store) {
	sub := bus.Subscribe("")
	defer sub.Close()

	type outcome struct {
		state *engine.State
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		state, err := r.Execute(ctx, def, globals, budget, store)
		done <- outcome{state: state, err: err}
	}()

	program := tea.NewProgram(tui.NewMonitor(def, sub.Events), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		die("run monitor: %v", err)
	}
	result := <-done
	if result.err != nil {
		die("run workflow: %v", result.err)
	}
	fmt.Printf("Run status: %s\n", result.state.Status())
}

// passthroughBatch forwards fan-out batch values unchanged. Downstream nodes
// receive the partitioned inputs and do their own work per item.
func passthroughBatch(ctx context.Context, nodeID string, batch []any) ([]any, error) {
	return batch, nil
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	var pairs []string
	for key, value := range *kv {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return fmt.Errorf("global key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = parts[1]
	return nil
}

func buildGlobals(globalsFile string, overrides keyValueFlag) (map[string]any, error) {
	var globals map[string]any
	if path := strings.TrimSpace(globalsFile); path != "" {
		fromFile, err := readGlobalsFile(path)
		if err != nil {
			return nil, err
		}
		globals = fromFile
	}
	if len(overrides) > 0 {
		if globals == nil {
			globals = map[string]any{}
		}
		for key, value := range overrides {
			globals[key] = value
		}
	}
	return globals, nil
}

func readGlobalsFile(path string) (map[string]any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open globals file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, expected a file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read globals file %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("globals file %s is empty", path)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse globals file %s: %w", path, err)
	}
	return raw, nil
}
