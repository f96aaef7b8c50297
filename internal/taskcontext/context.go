// Package taskcontext implements the Task Event Context from spec §4.2: a
// per-run facade over the append-only event log and the ready-step queue,
// safe to call from concurrent event handlers because every mutation is
// serialized through a single mutex (the "single writer" of spec §4.3/§5).
package taskcontext

import (
	"sync"

	"github.com/golang-collections/collections/queue"

	"github.com/cube-orchestrator/taskrunner/internal/task"
	"github.com/cube-orchestrator/taskrunner/internal/taskevent"
	"github.com/cube-orchestrator/taskrunner/internal/taskgraph"
	"github.com/cube-orchestrator/taskrunner/internal/taskstep"
)

type stepKey struct {
	kind taskstep.Kind
	key  string
}

// Context is the run-scoped event log + step index. One Context exists per
// task run; the dispatcher and every event handler share the same instance.
type Context struct {
	mu sync.Mutex

	graph *taskgraph.Graph

	behaviourAfterFailure taskevent.BehaviourAfterFailure
	propagateProxyEnv     bool

	events       []taskevent.Event
	eventsByKind map[taskevent.Kind][]taskevent.Event

	ready    *queue.Queue
	queued   map[stepKey]bool // enqueued at least once (cancellation is recorded in cancelled)
	popped   map[stepKey]bool // dequeued by the dispatcher (pending or processed)
	cancelled map[stepKey]bool

	aborting bool

	images    map[string]task.RuntimeImage
	network   *task.RuntimeNetwork
	created   map[string]task.RuntimeContainer
	started   map[string]bool
	healthy   map[string]bool
	stopped   map[string]bool
	removed   map[string]bool
	creationFailed map[string]bool
	exitCodes map[string]int
	tempFiles map[string][]string
}

// Option configures a new Context.
type Option func(*Context)

// WithBehaviourAfterFailure sets what happens to already-created resources
// when the run aborts.
func WithBehaviourAfterFailure(b taskevent.BehaviourAfterFailure) Option {
	return func(c *Context) { c.behaviourAfterFailure = b }
}

// WithProxyEnvironmentPropagation toggles spec_full §10's proxy
// environment variable propagation feature.
func WithProxyEnvironmentPropagation(enabled bool) Option {
	return func(c *Context) { c.propagateProxyEnv = enabled }
}

// New builds a Context for a freshly resolved dependency graph.
func New(graph *taskgraph.Graph, opts ...Option) *Context {
	c := &Context{
		graph:          graph,
		eventsByKind:   make(map[taskevent.Kind][]taskevent.Event),
		ready:          queue.New(),
		queued:         make(map[stepKey]bool),
		popped:         make(map[stepKey]bool),
		cancelled:      make(map[stepKey]bool),
		images:         make(map[string]task.RuntimeImage),
		created:        make(map[string]task.RuntimeContainer),
		started:        make(map[string]bool),
		healthy:        make(map[string]bool),
		stopped:        make(map[string]bool),
		removed:        make(map[string]bool),
		creationFailed: make(map[string]bool),
		exitCodes:      make(map[string]int),
		tempFiles:      make(map[string][]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PostEvent appends e to the log and runs its reducer. It is idempotent
// with respect to the predicates event handlers check (e.g. "container c
// is healthy") because those predicates are tracked as monotonic booleans
// (spec §4.2: "handlers must be re-entrancy safe").
func (c *Context) PostEvent(e taskevent.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	c.eventsByKind[e.Kind()] = append(c.eventsByKind[e.Kind()], e)
	if e.AbortsTask() {
		c.aborting = true
	}
	e.Apply(c)
}

// Events returns a snapshot of the full append-only log in posting order.
func (c *Context) Events() []taskevent.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]taskevent.Event, len(c.events))
	copy(out, c.events)
	return out
}

// EventsOfKind returns every past event of the given kind, in posting order.
func (c *Context) EventsOfKind(k taskevent.Kind) []taskevent.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]taskevent.Event, len(c.eventsByKind[k]))
	copy(out, c.eventsByKind[k])
	return out
}

// SingleEventOfKind returns the one expected event of kind k, if any has
// been posted. ok is false if none has.
func (c *Context) SingleEventOfKind(k taskevent.Kind) (taskevent.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := c.eventsByKind[k]
	if len(events) == 0 {
		return nil, false
	}
	return events[0], true
}

// --- taskevent.Context implementation ---
// These do not lock: they are called from within PostEvent/Apply, which
// already holds c.mu (Dispatcher.Run also calls QueueStep once, before any
// worker starts). ExitCodeFor, defined among them, does lock. A second,
// locking set of dispatcher-facing methods follows below.

// QueueStep appends a step to the ready queue, deduplicating on
// (Kind, Key) per spec §4.2.
func (c *Context) QueueStep(s taskstep.Step) {
	k := stepKey{kind: s.Kind(), key: s.Key()}
	if c.queued[k] {
		return
	}
	c.queued[k] = true
	c.ready.Enqueue(s)
}

func (c *Context) ContainerNames() []string {
	return c.graph.Names()
}

func (c *Context) Container(name string) (task.Container, bool) {
	ct, ok := c.graph.Container(name)
	if !ok {
		return task.Container{}, false
	}
	return *ct, true
}

func (c *Context) IsTaskContainer(name string) bool {
	return c.graph.TaskContainerName() == name
}

func (c *Context) DependenciesOf(name string) []string {
	return c.graph.DependenciesOf(name)
}

func (c *Context) ContainersThatDependOn(name string) []string {
	return c.graph.ContainersThatDependOn(name)
}

func (c *Context) SetImageReady(container string, img task.RuntimeImage) {
	c.images[container] = img
}

func (c *Context) ImageReady(container string) (task.RuntimeImage, bool) {
	img, ok := c.images[container]
	return img, ok
}

func (c *Context) SetNetwork(n task.RuntimeNetwork) {
	c.network = &n
}

func (c *Context) Network() (task.RuntimeNetwork, bool) {
	if c.network == nil {
		return task.RuntimeNetwork{}, false
	}
	return *c.network, true
}

func (c *Context) HasQueuedCreateContainer(name string) bool {
	k := stepKey{kind: taskstep.KindCreateContainer, key: name}
	return c.queued[k] && !c.cancelled[k]
}

func (c *Context) CancelPendingCreateContainer(name string) {
	k := stepKey{kind: taskstep.KindCreateContainer, key: name}
	if c.popped[k] {
		// Already handed to a worker; too late to cancel.
		return
	}
	c.cancelled[k] = true
}

func (c *Context) SetContainerCreated(name string, rc task.RuntimeContainer) {
	c.created[name] = rc
}

func (c *Context) RuntimeContainerFor(name string) (task.RuntimeContainer, bool) {
	rc, ok := c.created[name]
	return rc, ok
}

func (c *Context) CreatedContainerNames() []string {
	names := make([]string, 0, len(c.created))
	for name := range c.created {
		if c.removed[name] {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (c *Context) MarkContainerStarted(name string) {
	c.started[name] = true
}

func (c *Context) IsHealthy(name string) bool {
	return c.healthy[name]
}

func (c *Context) MarkHealthy(name string) {
	c.healthy[name] = true
}

func (c *Context) MarkContainerStopped(name string) {
	c.stopped[name] = true
	c.started[name] = false
}

func (c *Context) IsStarted(name string) bool {
	return c.started[name]
}

func (c *Context) SetExitCode(name string, code int) {
	c.exitCodes[name] = code
}

// ExitCodeFor returns the recorded exit code for name, if its
// RunningContainerExited event has been observed.
func (c *Context) ExitCodeFor(name string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code, ok := c.exitCodes[name]
	return code, ok
}

func (c *Context) MarkContainerRemoved(name string) {
	c.removed[name] = true
}

func (c *Context) MarkContainerCreationFailed(name string) {
	c.creationFailed[name] = true
}

// AllCreatedContainersTerminal reports whether every container with a
// pending-or-processed CreateContainer step is now removed or
// creation-failed (spec §4.3, ContainerRemoved transition).
func (c *Context) AllCreatedContainersTerminal() bool {
	for key := range c.queued {
		if key.kind != taskstep.KindCreateContainer {
			continue
		}
		if c.cancelled[key] {
			continue
		}
		name := key.key
		if c.removed[name] || c.creationFailed[name] {
			continue
		}
		return false
	}
	return true
}

func (c *Context) AddTempFile(container, path string) {
	c.tempFiles[container] = append(c.tempFiles[container], path)
}

func (c *Context) TempFilesFor(container string) []string {
	return append([]string(nil), c.tempFiles[container]...)
}

func (c *Context) IsAborting() bool {
	return c.aborting
}

func (c *Context) SetAborting() {
	c.aborting = true
}

func (c *Context) BehaviourAfterFailure() taskevent.BehaviourAfterFailure {
	return c.behaviourAfterFailure
}

func (c *Context) PropagateProxyEnvironmentVariables() bool {
	return c.propagateProxyEnv
}

// --- Dispatcher-facing API (locking) ---

// NextStep blocks-free pop of the next ready step, skipping any that were
// cancelled after being queued. ok is false if the queue is currently
// empty; callers should retry after the next PostEvent.
func (c *Context) NextStep() (taskstep.Step, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.ready.Len() > 0 {
		v := c.ready.Dequeue()
		s := v.(taskstep.Step)
		k := stepKey{kind: s.Kind(), key: s.Key()}
		c.popped[k] = true
		if c.cancelled[k] {
			continue
		}
		return s, true
	}
	return nil, false
}

// PendingStepCount reports how many steps are queued but not yet popped.
func (c *Context) PendingStepCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready.Len()
}
