// Package taskstep defines the TaskStep tagged union: the concrete units of
// work the dispatcher hands to the Step Runner (spec §3, §4.4).
package taskstep

import "github.com/cube-orchestrator/taskrunner/internal/task"

// Kind discriminates TaskStep variants so the context's step index and its
// duplicate suppression can key off a stable tag instead of a
// type switch at every call site.
type Kind string

const (
	KindBeginTask            Kind = "BeginTask"
	KindBuildImage           Kind = "BuildImage"
	KindPullImage            Kind = "PullImage"
	KindCreateTaskNetwork    Kind = "CreateTaskNetwork"
	KindCreateContainer      Kind = "CreateContainer"
	KindRunContainer         Kind = "RunContainer"
	KindStartContainer       Kind = "StartContainer"
	KindWaitForHealth        Kind = "WaitForHealth"
	KindStopContainer        Kind = "StopContainer"
	KindRemoveContainer      Kind = "RemoveContainer"
	KindCleanUpContainer     Kind = "CleanUpContainer"
	KindDeleteTaskNetwork    Kind = "DeleteTaskNetwork"
	KindDeleteTemporaryFile  Kind = "DeleteTemporaryFile"
	KindDisplayTaskFailure   Kind = "DisplayTaskFailure"
	KindFinishTask           Kind = "FinishTask"
)

// Step is one unit of dispatchable work. Key is the de-duplication key
// within a Kind: the context's ready queue suppresses a second QueueStep
// call for the same (Kind, Key) pair, per spec §4.2.
type Step interface {
	Kind() Kind
	Key() string
}

// BeginTask is the first step enqueued for any run; it exists so the
// dispatcher has something to pull before TaskStarted is observed.
type BeginTask struct{}

func (BeginTask) Kind() Kind  { return KindBeginTask }
func (BeginTask) Key() string { return "" }

// BuildImage builds the image for Container from its BuildDir.
type BuildImage struct {
	Container task.Container
}

func (BuildImage) Kind() Kind          { return KindBuildImage }
func (s BuildImage) Key() string       { return s.Container.Name }

// PullImage pulls Ref if it is not already present locally.
type PullImage struct {
	Container task.Container
	Ref       string
}

func (PullImage) Kind() Kind    { return KindPullImage }
func (s PullImage) Key() string { return s.Container.Name }

// CreateTaskNetwork creates the per-run isolated bridge network. Enqueued
// at most once per run.
type CreateTaskNetwork struct{}

func (CreateTaskNetwork) Kind() Kind  { return KindCreateTaskNetwork }
func (CreateTaskNetwork) Key() string { return "" }

// CreateContainer creates (but does not start) the container for Container,
// attaching it to Network with the resolved image, command and env.
type CreateContainer struct {
	Container task.Container
	Image     task.RuntimeImage
	Network   task.RuntimeNetwork
	Command   []string
	Env       map[string]string
}

func (CreateContainer) Kind() Kind    { return KindCreateContainer }
func (s CreateContainer) Key() string { return s.Container.Name }

// RunContainer starts the task container and streams its stdout/stderr,
// blocking until it exits. Stdin is not attached.
type RunContainer struct {
	Container        task.Container
	RuntimeContainer task.RuntimeContainer
}

func (RunContainer) Kind() Kind    { return KindRunContainer }
func (s RunContainer) Key() string { return s.Container.Name }

// StartContainer starts a dependency container in the background.
type StartContainer struct {
	Container        task.Container
	RuntimeContainer task.RuntimeContainer
}

func (StartContainer) Kind() Kind    { return KindStartContainer }
func (s StartContainer) Key() string { return s.Container.Name }

// WaitForHealth blocks until Container reports healthy, unhealthy, or exits.
type WaitForHealth struct {
	Container        task.Container
	RuntimeContainer task.RuntimeContainer
}

func (WaitForHealth) Kind() Kind    { return KindWaitForHealth }
func (s WaitForHealth) Key() string { return s.Container.Name }

// StopContainer stops a running container gracefully.
type StopContainer struct {
	Container        task.Container
	RuntimeContainer task.RuntimeContainer
}

func (StopContainer) Kind() Kind    { return KindStopContainer }
func (s StopContainer) Key() string { return s.Container.Name }

// RemoveContainer removes a stopped container.
type RemoveContainer struct {
	Container        task.Container
	RuntimeContainer task.RuntimeContainer
}

func (RemoveContainer) Kind() Kind    { return KindRemoveContainer }
func (s RemoveContainer) Key() string { return s.Container.Name }

// CleanUpContainer force-removes a container regardless of its state; used
// on the abort path where the container's lifecycle may not have reached
// ContainerStarted.
type CleanUpContainer struct {
	Container        task.Container
	RuntimeContainer task.RuntimeContainer
}

func (CleanUpContainer) Kind() Kind    { return KindCleanUpContainer }
func (s CleanUpContainer) Key() string { return s.Container.Name }

// DeleteTaskNetwork deletes the per-run network once every container has
// reached a terminal state.
type DeleteTaskNetwork struct {
	Network task.RuntimeNetwork
}

func (DeleteTaskNetwork) Kind() Kind  { return KindDeleteTaskNetwork }
func (DeleteTaskNetwork) Key() string { return "" }

// DeleteTemporaryFile deletes a file generated to support RunAsCurrentUser.
type DeleteTemporaryFile struct {
	Path string
}

func (DeleteTemporaryFile) Kind() Kind    { return KindDeleteTemporaryFile }
func (s DeleteTemporaryFile) Key() string { return s.Path }

// DisplayTaskFailure asks the Event Logger to render a failure message.
type DisplayTaskFailure struct {
	Message string
}

func (DisplayTaskFailure) Kind() Kind    { return KindDisplayTaskFailure }
func (s DisplayTaskFailure) Key() string { return s.Message }

// FinishTask is the terminal step: once observed, the dispatcher drains and
// the run's exit code is final.
type FinishTask struct{}

func (FinishTask) Kind() Kind  { return KindFinishTask }
func (FinishTask) Key() string { return "" }
