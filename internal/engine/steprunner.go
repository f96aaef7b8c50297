// Package engine implements the Step Runner (spec §4.4) and Dispatcher
// (spec §4.5): the only two pieces of the system that are allowed to touch
// the runtime adapter or wall-clock time. Everything else is data and pure
// reducer logic in internal/taskevent.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cube-orchestrator/taskrunner/internal/runtime"
	"github.com/cube-orchestrator/taskrunner/internal/taskevent"
	"github.com/cube-orchestrator/taskrunner/internal/taskstep"
)

// StepRunner is stateless: for each step variant it invokes the runtime
// adapter and translates the outcome into one or more events (spec §4.4).
type StepRunner struct {
	Adapter     runtime.Adapter
	ProjectName string
	Log         *logrus.Entry
}

// Run executes one step and returns the events it produced, in the order
// the step runner produced them (spec §5's per-step ordering guarantee).
func (r *StepRunner) Run(ctx context.Context, step taskstep.Step) []taskevent.Event {
	switch s := step.(type) {
	case taskstep.BeginTask:
		return []taskevent.Event{taskevent.TaskStarted{}}

	case taskstep.BuildImage:
		return r.runBuildImage(ctx, s)

	case taskstep.PullImage:
		return r.runPullImage(ctx, s)

	case taskstep.CreateTaskNetwork:
		return r.runCreateTaskNetwork(ctx)

	case taskstep.CreateContainer:
		return r.runCreateContainer(ctx, s)

	case taskstep.RunContainer:
		return r.runRunContainer(ctx, s)

	case taskstep.StartContainer:
		return r.runStartContainer(ctx, s)

	case taskstep.WaitForHealth:
		return r.runWaitForHealth(ctx, s)

	case taskstep.StopContainer:
		return r.runStopContainer(ctx, s)

	case taskstep.RemoveContainer:
		return r.runRemoveContainer(ctx, s, false)

	case taskstep.CleanUpContainer:
		return r.runRemoveContainer(ctx, taskstep.RemoveContainer(s), true)

	case taskstep.DeleteTaskNetwork:
		return r.runDeleteTaskNetwork(ctx, s)

	case taskstep.DeleteTemporaryFile:
		return r.runDeleteTemporaryFile(s)

	case taskstep.DisplayTaskFailure:
		r.Log.Warn(s.Message)
		return nil

	case taskstep.FinishTask:
		return nil

	default:
		panic(fmt.Sprintf("engine: step runner received unknown step type %T", step))
	}
}

func (r *StepRunner) runBuildImage(ctx context.Context, s taskstep.BuildImage) []taskevent.Event {
	img, err := r.Adapter.Build(ctx, r.ProjectName, s.Container, func(step, total int, label string) {
		r.Log.Debugf("build progress for %s: step %d/%d: %s", s.Container.Name, step, total, label)
	})
	if err != nil {
		return []taskevent.Event{taskevent.ImageBuildFailed{Container: s.Container.Name, Message: err.Error()}}
	}
	return []taskevent.Event{taskevent.ImageBuilt{Container: s.Container.Name, Image: img}}
}

func (r *StepRunner) runPullImage(ctx context.Context, s taskstep.PullImage) []taskevent.Event {
	img, err := r.Adapter.PullIfMissing(ctx, s.Ref)
	if err != nil {
		return []taskevent.Event{taskevent.ImagePullFailed{Container: s.Container.Name, Message: err.Error()}}
	}
	return []taskevent.Event{taskevent.ImagePulled{Container: s.Container.Name, Image: img}}
}

func (r *StepRunner) runCreateTaskNetwork(ctx context.Context) []taskevent.Event {
	n, err := r.Adapter.CreateNetwork(ctx)
	if err != nil {
		return []taskevent.Event{taskevent.TaskNetworkCreationFailed{Message: err.Error()}}
	}
	return []taskevent.Event{taskevent.TaskNetworkCreated{Network: n}}
}

func (r *StepRunner) runCreateContainer(ctx context.Context, s taskstep.CreateContainer) []taskevent.Event {
	rc, tempFiles, err := r.Adapter.Create(ctx, runtime.CreateRequest{
		Container: s.Container,
		Image:     s.Image,
		Network:   s.Network,
		Command:   s.Command,
		Env:       s.Env,
	})

	// Temp files are reported before ContainerCreated so cleanup is
	// guaranteed even on creation failure (spec §4.4).
	events := make([]taskevent.Event, 0, len(tempFiles)+1)
	for _, tf := range tempFiles {
		events = append(events, taskevent.TemporaryFileCreated{Container: s.Container.Name, Path: tf.Path})
	}
	if err != nil {
		return append(events, taskevent.ContainerCreationFailed{Container: s.Container.Name, Message: err.Error()})
	}
	return append(events, taskevent.ContainerCreated{Container: s.Container.Name, RuntimeContainer: rc})
}

// runRunContainer is run-and-wait, not start-then-healthcheck: the task
// container never gets a WaitForHealth step, so no ContainerStarted is
// emitted here (spec §8 scenario 1: ContainerCreated -> RunningContainerExited).
func (r *StepRunner) runRunContainer(ctx context.Context, s taskstep.RunContainer) []taskevent.Event {
	code, err := r.Adapter.Run(ctx, s.RuntimeContainer)
	if err != nil {
		return []taskevent.Event{taskevent.ContainerStartFailed{Container: s.Container.Name, Message: err.Error()}}
	}
	return []taskevent.Event{taskevent.RunningContainerExited{Container: s.Container.Name, ExitCode: code}}
}

func (r *StepRunner) runStartContainer(ctx context.Context, s taskstep.StartContainer) []taskevent.Event {
	if err := r.Adapter.Start(ctx, s.RuntimeContainer); err != nil {
		return []taskevent.Event{taskevent.ContainerStartFailed{Container: s.Container.Name, Message: err.Error()}}
	}
	return []taskevent.Event{taskevent.ContainerStarted{Container: s.Container.Name}}
}

func (r *StepRunner) runWaitForHealth(ctx context.Context, s taskstep.WaitForHealth) []taskevent.Event {
	hasCheck, err := r.Adapter.InspectHealthcheckPresence(ctx, s.RuntimeContainer)
	if err != nil {
		return []taskevent.Event{taskevent.ContainerDidNotBecomeHealthy{
			Container: s.Container.Name,
			Message:   "failed to inspect health check configuration: " + err.Error(),
		}}
	}
	if !hasCheck {
		return []taskevent.Event{taskevent.ContainerBecameHealthy{Container: s.Container.Name}}
	}

	if timeout := s.Container.Health.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var result taskevent.Event
	sawDie := false
	err = r.Adapter.StreamEvents(ctx, s.RuntimeContainer, func(status string) {
		if result != nil {
			return
		}
		switch status {
		case "health_status: healthy":
			result = taskevent.ContainerBecameHealthy{Container: s.Container.Name}
		case "health_status: unhealthy":
			exitCode, output, inspectErr := r.Adapter.LastHealthCheckResult(ctx, s.RuntimeContainer)
			msg := "The configured health check did not report the container as healthy."
			if inspectErr == nil {
				msg = fmt.Sprintf("The last health check exited with code %d and output: %s", exitCode, output)
			}
			result = taskevent.ContainerDidNotBecomeHealthy{Container: s.Container.Name, Message: msg}
		case "die":
			sawDie = true
		}
	})

	if result != nil {
		return []taskevent.Event{result}
	}
	if sawDie {
		return []taskevent.Event{taskevent.ContainerDidNotBecomeHealthy{
			Container: s.Container.Name,
			Message:   "The container exited before becoming healthy.",
		}}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return []taskevent.Event{taskevent.ContainerDidNotBecomeHealthy{
			Container: s.Container.Name,
			Message:   fmt.Sprintf("The container did not report healthy within %s.", s.Container.Health.Timeout()),
		}}
	}
	if err != nil {
		return []taskevent.Event{taskevent.ContainerDidNotBecomeHealthy{
			Container: s.Container.Name,
			Message:   "The container's event stream ended unexpectedly: " + err.Error(),
		}}
	}
	return []taskevent.Event{taskevent.ContainerDidNotBecomeHealthy{
		Container: s.Container.Name,
		Message:   "The container's event stream ended before reporting a health status.",
	}}
}

func (r *StepRunner) runStopContainer(ctx context.Context, s taskstep.StopContainer) []taskevent.Event {
	if err := r.Adapter.Stop(ctx, s.RuntimeContainer); err != nil {
		return []taskevent.Event{taskevent.ContainerStopFailed{Container: s.Container.Name, Message: err.Error()}}
	}
	return []taskevent.Event{taskevent.ContainerStopped{Container: s.Container.Name}}
}

func (r *StepRunner) runRemoveContainer(ctx context.Context, s taskstep.RemoveContainer, force bool) []taskevent.Event {
	_, err := r.Adapter.Remove(ctx, s.RuntimeContainer, force)
	if err != nil {
		return []taskevent.Event{taskevent.ContainerRemovalFailed{Container: s.Container.Name, Message: err.Error()}}
	}
	// "does not exist" is folded into a successful ContainerRemoved by the
	// adapter itself (spec §4.4's idempotence rule).
	return []taskevent.Event{taskevent.ContainerRemoved{Container: s.Container.Name}}
}

func (r *StepRunner) runDeleteTaskNetwork(ctx context.Context, s taskstep.DeleteTaskNetwork) []taskevent.Event {
	if err := r.Adapter.DeleteNetwork(ctx, s.Network); err != nil {
		return []taskevent.Event{taskevent.TaskNetworkDeletionFailed{Message: err.Error()}}
	}
	return []taskevent.Event{taskevent.TaskNetworkDeleted{}}
}

func (r *StepRunner) runDeleteTemporaryFile(s taskstep.DeleteTemporaryFile) []taskevent.Event {
	if err := deleteFile(s.Path); err != nil {
		return []taskevent.Event{taskevent.TemporaryFileDeletionFailed{Path: s.Path, Message: err.Error()}}
	}
	return []taskevent.Event{taskevent.TemporaryFileDeleted{Path: s.Path}}
}
