package engine

import (
	"github.com/cube-orchestrator/taskrunner/internal/taskcontext"
	"github.com/cube-orchestrator/taskrunner/internal/taskgraph"
)

// Orchestration failure codes, used when the task container never ran
// (spec §6's "non-zero engine-defined codes for configuration errors,
// orchestration failures, and abort-during-startup").
const (
	ExitOrchestrationFailure = 1
	ExitCyclicDependency     = 2
	ExitUnknownDependency    = 3
)

// ExitCode computes the run's final exit code per spec §6: the task
// container's own exit code takes precedence over any cleanup failures
// that happened after it ran successfully; if the task container never
// ran, an orchestration-failure code is returned instead.
func ExitCode(ctx *taskcontext.Context, graph *taskgraph.Graph) int {
	if code, ok := ctx.ExitCodeFor(graph.TaskContainerName()); ok {
		return code
	}
	return ExitOrchestrationFailure
}
