package taskevent

import "github.com/cube-orchestrator/taskrunner/internal/task"
import "github.com/cube-orchestrator/taskrunner/internal/taskstep"

// enqueueReadyContainers is shared by ImageBuilt/ImagePulled/TaskNetworkCreated:
// once a container's image is ready AND the network exists, its
// CreateContainer step can be enqueued (spec §4.3, "ImageBuilt"/"TaskNetworkCreated").
func enqueueReadyContainers(ctx Context) {
	network, ok := ctx.Network()
	if !ok {
		return
	}
	for _, name := range ctx.ContainerNames() {
		if ctx.HasQueuedCreateContainer(name) {
			continue
		}
		img, ok := ctx.ImageReady(name)
		if !ok {
			continue
		}
		c, _ := ctx.Container(name)
		ctx.QueueStep(taskstep.CreateContainer{
			Container: c,
			Image:     img,
			Network:   network,
			Command:   c.Command,
			Env:       resolvedEnv(ctx, c),
		})
	}
}

func resolvedEnv(ctx Context, c task.Container) map[string]string {
	env := make(map[string]string, len(c.Environment))
	for k, v := range c.Environment {
		env[k] = v
	}
	if ctx.PropagateProxyEnvironmentVariables() {
		for _, key := range []string{"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "no_proxy"} {
			if _, set := env[key]; set {
				continue
			}
			if v, ok := hostEnv(key); ok {
				env[key] = v
			}
		}
	}
	return env
}

// maybeStartOrRun enqueues RunContainer/StartContainer for name once its
// ContainerCreated event is in the log and every dependency is healthy
// (spec §4.3, ContainerCreated / ContainerBecameHealthy transitions).
func maybeStartOrRun(ctx Context, name string) {
	rc, ok := ctx.RuntimeContainerFor(name)
	if !ok {
		return
	}
	for _, dep := range ctx.DependenciesOf(name) {
		if !ctx.IsHealthy(dep) {
			return
		}
	}
	c, _ := ctx.Container(name)
	if ctx.IsTaskContainer(name) {
		ctx.QueueStep(taskstep.RunContainer{Container: c, RuntimeContainer: rc})
	} else {
		ctx.QueueStep(taskstep.StartContainer{Container: c, RuntimeContainer: rc})
	}
}

// enqueueCleanupOrDiagnostic implements the shared abort-handling rule from
// spec §4.3 ("Any failure event with abortsTask=true") for one container
// that has already been created.
func enqueueCleanupOrDiagnostic(ctx Context, name string) {
	c, ok := ctx.Container(name)
	if !ok {
		return
	}
	rc, ok := ctx.RuntimeContainerFor(name)
	if !ok {
		return
	}
	if ctx.BehaviourAfterFailure() == DontCleanup {
		ctx.QueueStep(taskstep.DisplayTaskFailure{
			Message: "run `docker rm -f " + rc.ID + "` to remove container " + c.Name + " left behind by the failed task",
		})
		return
	}
	ctx.QueueStep(taskstep.CleanUpContainer{Container: c, RuntimeContainer: rc})
}

func maybeDeleteNetwork(ctx Context) {
	if !ctx.AllCreatedContainersTerminal() {
		return
	}
	network, ok := ctx.Network()
	if !ok {
		ctx.QueueStep(taskstep.FinishTask{})
		return
	}
	ctx.QueueStep(taskstep.DeleteTaskNetwork{Network: network})
}

// --- TaskStarted ---

type TaskStarted struct{}

func (TaskStarted) Kind() Kind       { return KindTaskStarted }
func (TaskStarted) AbortsTask() bool { return false }

func (TaskStarted) Apply(ctx Context) {
	for _, name := range ctx.ContainerNames() {
		c, _ := ctx.Container(name)
		if len(c.DependsOn) == 0 {
			if c.Image.IsBuild() {
				ctx.QueueStep(taskstep.BuildImage{Container: c})
			} else {
				ctx.QueueStep(taskstep.PullImage{Container: c, Ref: c.Image.PullRef})
			}
		}
	}
	ctx.QueueStep(taskstep.CreateTaskNetwork{})
}

// --- ImageBuildProgress ---

type ImageBuildProgress struct {
	Container string
	Step      int
	Total     int
	Label     string
}

func (ImageBuildProgress) Kind() Kind       { return KindImageBuildProgress }
func (ImageBuildProgress) AbortsTask() bool { return false }
func (ImageBuildProgress) Apply(Context)    {}

// --- ImageBuilt ---

type ImageBuilt struct {
	Container string
	Image     task.RuntimeImage
}

func (ImageBuilt) Kind() Kind       { return KindImageBuilt }
func (ImageBuilt) AbortsTask() bool { return false }

func (e ImageBuilt) Apply(ctx Context) {
	ctx.SetImageReady(e.Container, e.Image)
	enqueueReadyContainers(ctx)
}

// --- ImagePulled ---

type ImagePulled struct {
	Container string
	Image     task.RuntimeImage
}

func (ImagePulled) Kind() Kind       { return KindImagePulled }
func (ImagePulled) AbortsTask() bool { return false }

func (e ImagePulled) Apply(ctx Context) {
	ctx.SetImageReady(e.Container, e.Image)
	enqueueReadyContainers(ctx)
}

// --- TaskNetworkCreated ---

type TaskNetworkCreated struct {
	Network task.RuntimeNetwork
}

func (TaskNetworkCreated) Kind() Kind       { return KindTaskNetworkCreated }
func (TaskNetworkCreated) AbortsTask() bool { return false }

func (e TaskNetworkCreated) Apply(ctx Context) {
	ctx.SetNetwork(e.Network)
	enqueueReadyContainers(ctx)
}

// --- ContainerCreated ---

type ContainerCreated struct {
	Container        string
	RuntimeContainer task.RuntimeContainer
}

func (ContainerCreated) Kind() Kind       { return KindContainerCreated }
func (ContainerCreated) AbortsTask() bool { return false }

func (e ContainerCreated) Apply(ctx Context) {
	ctx.SetContainerCreated(e.Container, e.RuntimeContainer)
	if ctx.IsAborting() {
		enqueueCleanupOrDiagnostic(ctx, e.Container)
		return
	}
	maybeStartOrRun(ctx, e.Container)
}

// --- ContainerStarted ---

type ContainerStarted struct {
	Container string
}

func (ContainerStarted) Kind() Kind       { return KindContainerStarted }
func (ContainerStarted) AbortsTask() bool { return false }

func (e ContainerStarted) Apply(ctx Context) {
	ctx.MarkContainerStarted(e.Container)
	rc, ok := ctx.RuntimeContainerFor(e.Container)
	if !ok {
		return
	}
	c, _ := ctx.Container(e.Container)
	ctx.QueueStep(taskstep.WaitForHealth{Container: c, RuntimeContainer: rc})
}

// --- ContainerBecameHealthy ---

type ContainerBecameHealthy struct {
	Container string
}

func (ContainerBecameHealthy) Kind() Kind       { return KindContainerBecameHealthy }
func (ContainerBecameHealthy) AbortsTask() bool { return false }

func (e ContainerBecameHealthy) Apply(ctx Context) {
	if ctx.IsHealthy(e.Container) {
		return
	}
	ctx.MarkHealthy(e.Container)
	for _, dependent := range ctx.ContainersThatDependOn(e.Container) {
		maybeStartOrRun(ctx, dependent)
	}
}

// --- RunningContainerExited ---

type RunningContainerExited struct {
	Container string
	ExitCode  int
}

func (RunningContainerExited) Kind() Kind       { return KindRunningContainerExited }
func (RunningContainerExited) AbortsTask() bool { return false }

func (e RunningContainerExited) Apply(ctx Context) {
	ctx.SetExitCode(e.Container, e.ExitCode)
	for _, dep := range ctx.DependenciesOf(e.Container) {
		if !ctx.IsStarted(dep) {
			continue
		}
		rc, ok := ctx.RuntimeContainerFor(dep)
		if !ok {
			continue
		}
		c, _ := ctx.Container(dep)
		ctx.QueueStep(taskstep.StopContainer{Container: c, RuntimeContainer: rc})
	}
	if rc, ok := ctx.RuntimeContainerFor(e.Container); ok {
		c, _ := ctx.Container(e.Container)
		ctx.QueueStep(taskstep.RemoveContainer{Container: c, RuntimeContainer: rc})
	}
}

// --- ContainerStopped ---

type ContainerStopped struct {
	Container string
}

func (ContainerStopped) Kind() Kind       { return KindContainerStopped }
func (ContainerStopped) AbortsTask() bool { return false }

func (e ContainerStopped) Apply(ctx Context) {
	ctx.MarkContainerStopped(e.Container)
	rc, ok := ctx.RuntimeContainerFor(e.Container)
	if !ok {
		return
	}
	c, _ := ctx.Container(e.Container)
	ctx.QueueStep(taskstep.RemoveContainer{Container: c, RuntimeContainer: rc})
}

// --- ContainerRemoved ---

type ContainerRemoved struct {
	Container string
}

func (ContainerRemoved) Kind() Kind       { return KindContainerRemoved }
func (ContainerRemoved) AbortsTask() bool { return false }

func (e ContainerRemoved) Apply(ctx Context) {
	ctx.MarkContainerRemoved(e.Container)
	for _, path := range ctx.TempFilesFor(e.Container) {
		ctx.QueueStep(taskstep.DeleteTemporaryFile{Path: path})
	}
	maybeDeleteNetwork(ctx)
}

// --- TaskNetworkDeleted ---

type TaskNetworkDeleted struct{}

func (TaskNetworkDeleted) Kind() Kind       { return KindTaskNetworkDeleted }
func (TaskNetworkDeleted) AbortsTask() bool { return false }

func (TaskNetworkDeleted) Apply(ctx Context) {
	ctx.QueueStep(taskstep.FinishTask{})
}

// --- TemporaryFileCreated ---

type TemporaryFileCreated struct {
	Container string
	Path      string
}

func (TemporaryFileCreated) Kind() Kind       { return KindTemporaryFileCreated }
func (TemporaryFileCreated) AbortsTask() bool { return false }

func (e TemporaryFileCreated) Apply(ctx Context) {
	ctx.AddTempFile(e.Container, e.Path)
}

// --- TemporaryFileDeleted ---

type TemporaryFileDeleted struct {
	Path string
}

func (TemporaryFileDeleted) Kind() Kind       { return KindTemporaryFileDeleted }
func (TemporaryFileDeleted) AbortsTask() bool { return false }
func (TemporaryFileDeleted) Apply(Context)    {}

// --- Failure family ---
// Pre-run failures abort the task (spec §7); post-run failures are
// reported but do not prevent cleanup of other resources from continuing.

type ImageBuildFailed struct {
	Container string
	Message   string
}

func (ImageBuildFailed) Kind() Kind       { return KindImageBuildFailed }
func (ImageBuildFailed) AbortsTask() bool { return true }

func (e ImageBuildFailed) Apply(ctx Context) {
	applyPreRunFailure(ctx)
}

type ImagePullFailed struct {
	Container string
	Message   string
}

func (ImagePullFailed) Kind() Kind       { return KindImagePullFailed }
func (ImagePullFailed) AbortsTask() bool { return true }
func (e ImagePullFailed) Apply(ctx Context) {
	applyPreRunFailure(ctx)
}

type TaskNetworkCreationFailed struct {
	Message string
}

func (TaskNetworkCreationFailed) Kind() Kind       { return KindTaskNetworkCreationFailed }
func (TaskNetworkCreationFailed) AbortsTask() bool { return true }
func (e TaskNetworkCreationFailed) Apply(ctx Context) {
	applyPreRunFailure(ctx)
}

type ContainerCreationFailed struct {
	Container string
	Message   string
}

func (ContainerCreationFailed) Kind() Kind       { return KindContainerCreationFailed }
func (ContainerCreationFailed) AbortsTask() bool { return true }
func (e ContainerCreationFailed) Apply(ctx Context) {
	ctx.MarkContainerCreationFailed(e.Container)
	applyPreRunFailure(ctx)
}

type ContainerStartFailed struct {
	Container string
	Message   string
}

func (ContainerStartFailed) Kind() Kind       { return KindContainerStartFailed }
func (ContainerStartFailed) AbortsTask() bool { return true }
func (e ContainerStartFailed) Apply(ctx Context) {
	applyPreRunFailure(ctx)
}

type ContainerDidNotBecomeHealthy struct {
	Container string
	Message   string
}

func (ContainerDidNotBecomeHealthy) Kind() Kind       { return KindContainerDidNotBecomeHealthy }
func (ContainerDidNotBecomeHealthy) AbortsTask() bool { return true }
func (e ContainerDidNotBecomeHealthy) Apply(ctx Context) {
	applyPreRunFailure(ctx)
}

// applyPreRunFailure implements the shared "any failure event with
// abortsTask=true" transition from spec §4.3: sets the abort flag, enqueues
// cleanup/diagnostic for every already-created container, cancels
// not-yet-created containers' pending CreateContainer steps, and
// short-circuits straight to FinishTask if no network was ever created.
func applyPreRunFailure(ctx Context) {
	ctx.SetAborting()
	for _, name := range ctx.CreatedContainerNames() {
		enqueueCleanupOrDiagnostic(ctx, name)
	}
	for _, name := range ctx.ContainerNames() {
		if _, created := ctx.RuntimeContainerFor(name); created {
			continue
		}
		if ctx.HasQueuedCreateContainer(name) {
			ctx.CancelPendingCreateContainer(name)
		}
	}
	if len(ctx.CreatedContainerNames()) == 0 {
		maybeDeleteNetwork(ctx)
	}
}

// Post-run failures: reported, but cleanup of other resources continues.

type ContainerStopFailed struct {
	Container string
	Message   string
}

func (ContainerStopFailed) Kind() Kind       { return KindContainerStopFailed }
func (ContainerStopFailed) AbortsTask() bool { return false }

func (e ContainerStopFailed) Apply(ctx Context) {
	// Stop failed: still attempt removal so cleanup converges (spec §7:
	// post-run failures don't block cleanup of other resources).
	rc, ok := ctx.RuntimeContainerFor(e.Container)
	if !ok {
		return
	}
	c, _ := ctx.Container(e.Container)
	ctx.QueueStep(taskstep.RemoveContainer{Container: c, RuntimeContainer: rc})
}

type ContainerRemovalFailed struct {
	Container string
	Message   string
}

func (ContainerRemovalFailed) Kind() Kind       { return KindContainerRemovalFailed }
func (ContainerRemovalFailed) AbortsTask() bool { return false }

func (e ContainerRemovalFailed) Apply(ctx Context) {
	ctx.MarkContainerRemoved(e.Container) // terminal regardless of outcome
	for _, path := range ctx.TempFilesFor(e.Container) {
		ctx.QueueStep(taskstep.DeleteTemporaryFile{Path: path})
	}
	maybeDeleteNetwork(ctx)
}

type TaskNetworkDeletionFailed struct {
	Message string
}

func (TaskNetworkDeletionFailed) Kind() Kind       { return KindTaskNetworkDeletionFailed }
func (TaskNetworkDeletionFailed) AbortsTask() bool { return false }

func (TaskNetworkDeletionFailed) Apply(ctx Context) {
	ctx.QueueStep(taskstep.FinishTask{})
}

type TemporaryFileDeletionFailed struct {
	Path    string
	Message string
}

func (TemporaryFileDeletionFailed) Kind() Kind       { return KindTemporaryFileDeletionFailed }
func (TemporaryFileDeletionFailed) AbortsTask() bool { return false }
func (TemporaryFileDeletionFailed) Apply(Context)    {}
