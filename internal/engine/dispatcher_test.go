package engine_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube-orchestrator/taskrunner/internal/engine"
	"github.com/cube-orchestrator/taskrunner/internal/runtime"
	"github.com/cube-orchestrator/taskrunner/internal/task"
	"github.com/cube-orchestrator/taskrunner/internal/taskcontext"
	"github.com/cube-orchestrator/taskrunner/internal/taskevent"
	"github.com/cube-orchestrator/taskrunner/internal/taskgraph"
)

// fakeAdapter is an in-memory runtime.Adapter so the dispatcher and step
// runner can be exercised end to end without a Docker daemon.
type fakeAdapter struct {
	mu        sync.Mutex
	exitCode  int
	hasHealth bool
}

func (f *fakeAdapter) Build(ctx context.Context, projectName string, c task.Container, onProgress func(step, total int, label string)) (task.RuntimeImage, error) {
	return task.RuntimeImage{Ref: c.Name + ":built"}, nil
}

func (f *fakeAdapter) PullIfMissing(ctx context.Context, ref string) (task.RuntimeImage, error) {
	return task.RuntimeImage{Ref: ref}, nil
}

func (f *fakeAdapter) Create(ctx context.Context, req runtime.CreateRequest) (task.RuntimeContainer, []runtime.TempFile, error) {
	return task.RuntimeContainer{ID: req.Container.Name + "-rc"}, nil, nil
}

func (f *fakeAdapter) Run(ctx context.Context, rc task.RuntimeContainer) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitCode, nil
}

func (f *fakeAdapter) Start(ctx context.Context, rc task.RuntimeContainer) error {
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context, rc task.RuntimeContainer) error {
	return nil
}

func (f *fakeAdapter) Remove(ctx context.Context, rc task.RuntimeContainer, force bool) (bool, error) {
	return true, nil
}

func (f *fakeAdapter) InspectHealthcheckPresence(ctx context.Context, rc task.RuntimeContainer) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasHealth, nil
}

func (f *fakeAdapter) StreamEvents(ctx context.Context, rc task.RuntimeContainer, onLine func(status string)) error {
	onLine("health_status: healthy")
	return nil
}

func (f *fakeAdapter) LastHealthCheckResult(ctx context.Context, rc task.RuntimeContainer) (int, string, error) {
	return 0, "", nil
}

func (f *fakeAdapter) CreateNetwork(ctx context.Context) (task.RuntimeNetwork, error) {
	return task.RuntimeNetwork{ID: "net1"}, nil
}

func (f *fakeAdapter) DeleteNetwork(ctx context.Context, n task.RuntimeNetwork) error {
	return nil
}

func discardLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log.WithField("test", true)
}

func TestDispatcher_SingleContainerRunsToCompletion(t *testing.T) {
	containers := map[string]*task.Container{
		"app": {Name: "app", Image: task.ImageSource{PullRef: "app:1"}},
	}
	graph, err := taskgraph.Resolve(containers, "app")
	require.NoError(t, err)

	tctx := taskcontext.New(graph)
	adapter := &fakeAdapter{exitCode: 0}
	runner := &engine.StepRunner{Adapter: adapter, ProjectName: "test", Log: discardLog()}

	d := engine.New(tctx, runner)
	d.Concurrency = 2

	var events []taskevent.Event
	var mu sync.Mutex
	d.OnEvent = func(e taskevent.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Run(ctx)

	mu.Lock()
	defer mu.Unlock()

	var kinds []taskevent.Kind
	for _, e := range events {
		kinds = append(kinds, e.Kind())
	}
	assert.Contains(t, kinds, taskevent.KindTaskStarted)
	assert.Contains(t, kinds, taskevent.KindImagePulled)
	assert.Contains(t, kinds, taskevent.KindTaskNetworkCreated)
	assert.Contains(t, kinds, taskevent.KindContainerCreated)
	assert.Contains(t, kinds, taskevent.KindRunningContainerExited)
	assert.Contains(t, kinds, taskevent.KindContainerRemoved)
	assert.Contains(t, kinds, taskevent.KindTaskNetworkDeleted)

	assert.Equal(t, engine.ExitCode(tctx, graph), 0)
}

func TestDispatcher_TaskContainerFailureExitCode(t *testing.T) {
	containers := map[string]*task.Container{
		"app": {Name: "app", Image: task.ImageSource{PullRef: "app:1"}},
	}
	graph, err := taskgraph.Resolve(containers, "app")
	require.NoError(t, err)

	tctx := taskcontext.New(graph)
	adapter := &fakeAdapter{exitCode: 7}
	runner := &engine.StepRunner{Adapter: adapter, ProjectName: "test", Log: discardLog()}

	d := engine.New(tctx, runner)
	d.Concurrency = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Run(ctx)

	assert.Equal(t, 7, engine.ExitCode(tctx, graph))
}
