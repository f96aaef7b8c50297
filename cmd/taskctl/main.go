// Command taskctl is a thin demo entrypoint wiring config -> dependency
// graph -> execution engine, so the core engine (internal/engine,
// internal/taskcontext, internal/taskevent, internal/taskstep,
// internal/taskgraph) can be exercised end to end.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/docker/docker/client"
	"github.com/spf13/cobra"

	"github.com/cube-orchestrator/taskrunner/internal/config"
	"github.com/cube-orchestrator/taskrunner/internal/engine"
	"github.com/cube-orchestrator/taskrunner/internal/multierr"
	"github.com/cube-orchestrator/taskrunner/internal/runtime"
	"github.com/cube-orchestrator/taskrunner/internal/taskcontext"
	"github.com/cube-orchestrator/taskrunner/internal/taskevent"
	"github.com/cube-orchestrator/taskrunner/internal/taskgraph"
	"github.com/cube-orchestrator/taskrunner/internal/uilog"
)

var (
	configPath       string
	uiMode           string
	dontCleanup      bool
	propagateProxy   bool
	debugLogging     bool
)

func main() {
	root := &cobra.Command{
		Use:   "taskctl",
		Short: "Run developer workflows inside ephemeral container environments",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "taskrunner.toml", "path to the project config file")
	root.PersistentFlags().StringVar(&uiMode, "ui", "auto", "event logger mode: auto, simple, fancy, quiet")
	root.PersistentFlags().BoolVar(&dontCleanup, "no-cleanup", false, "leave containers and networks behind on failure")
	root.PersistentFlags().BoolVar(&propagateProxy, "propagate-proxy-env", false, "propagate HTTP(S)_PROXY/NO_PROXY into containers")
	root.PersistentFlags().BoolVar(&debugLogging, "debug", false, "enable structured debug logging")

	run := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a named task from the project config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}
	root.AddCommand(run)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(engine.ExitOrchestrationFailure)
	}
}

func runTask(ctx context.Context, taskName string) (int, error) {
	log := uilog.NewDebugLogger(debugLogging, "")

	project, err := config.Load(configPath)
	if err != nil {
		return engine.ExitOrchestrationFailure, err
	}

	containers, err := project.ResolveContainers()
	if err != nil {
		return engine.ExitOrchestrationFailure, err
	}

	taskSpec, ok := project.Tasks[taskName]
	if !ok {
		return engine.ExitOrchestrationFailure, fmt.Errorf("no task named %q", taskName)
	}
	taskContainer, ok := containers[taskSpec.Container]
	if !ok {
		return engine.ExitOrchestrationFailure, fmt.Errorf("task %q references unknown container %q", taskName, taskSpec.Container)
	}
	if len(taskSpec.Command) > 0 {
		taskContainer.Command = taskSpec.Command
	}

	graph, err := taskgraph.Resolve(containers, taskSpec.Container)
	if err != nil {
		switch err.(type) {
		case *taskgraph.CyclicDependencyError:
			return engine.ExitCyclicDependency, err
		default:
			return engine.ExitUnknownDependency, err
		}
	}

	behaviour := taskevent.Cleanup
	if dontCleanup {
		behaviour = taskevent.DontCleanup
	}
	tctx := taskcontext.New(
		graph,
		taskcontext.WithBehaviourAfterFailure(behaviour),
		taskcontext.WithProxyEnvironmentPropagation(propagateProxy),
	)

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return engine.ExitOrchestrationFailure, err
	}
	adapter := runtime.NewDockerAdapter(cli, log)
	runner := &engine.StepRunner{Adapter: adapter, ProjectName: "taskrunner", Log: log}

	cleanupFailures := &multierr.Collector{}
	logger := uilog.NewLogger(parseUIMode(uiMode), os.Stdout, log)
	defer logger.Close()

	d := engine.New(tctx, runner)
	d.OnStepStart = logger.StepStarting
	d.OnEvent = func(e taskevent.Event) {
		logger.Event(e)
		recordCleanupFailure(cleanupFailures, e)
	}

	d.Run(ctx)

	code := engine.ExitCode(tctx, graph)
	if err := cleanupFailures.ErrorOrNil(); err != nil {
		fmt.Fprintf(os.Stderr, "task %s finished with cleanup warnings: %v\n", taskName, err)
	}
	if code != 0 {
		fmt.Fprintf(os.Stderr, "The task %s failed. See above for details.\n", taskName)
	}
	return code, nil
}

func recordCleanupFailure(c *multierr.Collector, e taskevent.Event) {
	switch ev := e.(type) {
	case taskevent.ContainerStopFailed:
		c.Add(fmt.Errorf("stopping %s: %s", ev.Container, ev.Message))
	case taskevent.ContainerRemovalFailed:
		c.Add(fmt.Errorf("removing %s: %s", ev.Container, ev.Message))
	case taskevent.TaskNetworkDeletionFailed:
		c.Add(fmt.Errorf("deleting network: %s", ev.Message))
	case taskevent.TemporaryFileDeletionFailed:
		c.Add(fmt.Errorf("deleting temp file %s: %s", ev.Path, ev.Message))
	}
}

func parseUIMode(s string) uilog.Mode {
	switch s {
	case "simple":
		return uilog.ModeSimple
	case "fancy":
		return uilog.ModeFancy
	case "quiet":
		return uilog.ModeQuiet
	default:
		return uilog.ModeAuto
	}
}
