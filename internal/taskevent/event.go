// Package taskevent defines the TaskEvent tagged union and the reducer
// logic that lives in each event's Apply method (spec §3, §4.3). The
// reducer is pure with respect to enqueuing: Apply only calls methods on
// the Context it is given, never touches the runtime directly.
package taskevent

import (
	"github.com/cube-orchestrator/taskrunner/internal/task"
	"github.com/cube-orchestrator/taskrunner/internal/taskstep"
)

// Kind discriminates Event variants for the context's typed indexes.
type Kind string

const (
	KindTaskStarted                  Kind = "TaskStarted"
	KindImageBuildProgress           Kind = "ImageBuildProgress"
	KindImageBuilt                   Kind = "ImageBuilt"
	KindImagePulled                  Kind = "ImagePulled"
	KindTaskNetworkCreated           Kind = "TaskNetworkCreated"
	KindContainerCreated             Kind = "ContainerCreated"
	KindContainerStarted             Kind = "ContainerStarted"
	KindContainerBecameHealthy       Kind = "ContainerBecameHealthy"
	KindRunningContainerExited       Kind = "RunningContainerExited"
	KindContainerStopped             Kind = "ContainerStopped"
	KindContainerRemoved             Kind = "ContainerRemoved"
	KindTaskNetworkDeleted           Kind = "TaskNetworkDeleted"
	KindTemporaryFileCreated         Kind = "TemporaryFileCreated"
	KindTemporaryFileDeleted         Kind = "TemporaryFileDeleted"
	KindImageBuildFailed             Kind = "ImageBuildFailed"
	KindImagePullFailed              Kind = "ImagePullFailed"
	KindTaskNetworkCreationFailed    Kind = "TaskNetworkCreationFailed"
	KindContainerCreationFailed      Kind = "ContainerCreationFailed"
	KindContainerStartFailed         Kind = "ContainerStartFailed"
	KindContainerDidNotBecomeHealthy Kind = "ContainerDidNotBecomeHealthy"
	KindContainerStopFailed          Kind = "ContainerStopFailed"
	KindContainerRemovalFailed       Kind = "ContainerRemovalFailed"
	KindTaskNetworkDeletionFailed    Kind = "TaskNetworkDeletionFailed"
	KindTemporaryFileDeletionFailed  Kind = "TemporaryFileDeletionFailed"
)

// BehaviourAfterFailure selects what the reducer does with already-created
// containers once a run starts aborting.
type BehaviourAfterFailure int

const (
	// Cleanup force-removes everything the run created.
	Cleanup BehaviourAfterFailure = iota
	// DontCleanup leaves created resources in place and reports how to
	// remove them manually.
	DontCleanup
)

// Event is one entry in the append-only event log. Kind lets the context
// maintain typed indexes; Apply is the reducer logic for this event.
type Event interface {
	Kind() Kind
	// AbortsTask reports whether this event should set the run's abort
	// flag when it is posted. Only failure-family events return true, and
	// only pre-run failures (spec §7) return true among those.
	AbortsTask() bool
	Apply(ctx Context)
}

// Context is the subset of the Task Event Context (spec §4.2) that event
// Apply methods are allowed to touch. It is implemented by
// internal/taskcontext.Context; defining it here (rather than importing
// that package) keeps the dependency one-directional and avoids a cycle.
type Context interface {
	QueueStep(s taskstep.Step)

	ContainerNames() []string
	Container(name string) (task.Container, bool)
	IsTaskContainer(name string) bool
	DependenciesOf(name string) []string
	ContainersThatDependOn(name string) []string

	SetImageReady(container string, img task.RuntimeImage)
	ImageReady(container string) (task.RuntimeImage, bool)

	SetNetwork(n task.RuntimeNetwork)
	Network() (task.RuntimeNetwork, bool)

	HasQueuedCreateContainer(name string) bool
	CancelPendingCreateContainer(name string)

	SetContainerCreated(name string, rc task.RuntimeContainer)
	RuntimeContainerFor(name string) (task.RuntimeContainer, bool)
	CreatedContainerNames() []string

	MarkContainerStarted(name string)
	IsHealthy(name string) bool
	MarkHealthy(name string)

	MarkContainerStopped(name string)
	IsStarted(name string) bool

	SetExitCode(name string, code int)

	MarkContainerRemoved(name string)
	MarkContainerCreationFailed(name string)
	AllCreatedContainersTerminal() bool

	AddTempFile(container, path string)
	TempFilesFor(container string) []string

	IsAborting() bool
	SetAborting()
	BehaviourAfterFailure() BehaviourAfterFailure
	PropagateProxyEnvironmentVariables() bool
}
