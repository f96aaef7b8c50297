package taskevent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube-orchestrator/taskrunner/internal/task"
	"github.com/cube-orchestrator/taskrunner/internal/taskcontext"
	"github.com/cube-orchestrator/taskrunner/internal/taskevent"
	"github.com/cube-orchestrator/taskrunner/internal/taskgraph"
	"github.com/cube-orchestrator/taskrunner/internal/taskstep"
)

func popAllKinds(t *testing.T, ctx *taskcontext.Context) []taskstep.Kind {
	t.Helper()
	var kinds []taskstep.Kind
	for {
		s, ok := ctx.NextStep()
		if !ok {
			return kinds
		}
		kinds = append(kinds, s.Kind())
	}
}

// Scenario 1 from spec §8: single task container, no deps, healthcheck
// absent.
func TestReducer_Scenario1_SingleContainerNoDeps(t *testing.T) {
	containers := map[string]*task.Container{
		"app": {Name: "app", Image: task.ImageSource{PullRef: "app:1"}, Command: []string{"echo", "hi"}},
	}
	graph, err := taskgraph.Resolve(containers, "app")
	require.NoError(t, err)

	ctx := taskcontext.New(graph)

	ctx.PostEvent(taskevent.TaskStarted{})
	assert.ElementsMatch(t, []taskstep.Kind{taskstep.KindPullImage, taskstep.KindCreateTaskNetwork}, popAllKinds(t, ctx))

	ctx.PostEvent(taskevent.ImagePulled{Container: "app", Image: task.RuntimeImage{Ref: "app:1"}})
	assert.Empty(t, popAllKinds(t, ctx), "CreateContainer must wait for the network")

	ctx.PostEvent(taskevent.TaskNetworkCreated{Network: task.RuntimeNetwork{ID: "net1"}})
	assert.Equal(t, []taskstep.Kind{taskstep.KindCreateContainer}, popAllKinds(t, ctx))

	ctx.PostEvent(taskevent.ContainerCreated{Container: "app", RuntimeContainer: task.RuntimeContainer{ID: "c1"}})
	assert.Equal(t, []taskstep.Kind{taskstep.KindRunContainer}, popAllKinds(t, ctx), "task container with no deps runs immediately")

	ctx.PostEvent(taskevent.RunningContainerExited{Container: "app", ExitCode: 0})
	assert.Equal(t, []taskstep.Kind{taskstep.KindRemoveContainer}, popAllKinds(t, ctx), "no dependencies to stop")

	ctx.PostEvent(taskevent.ContainerRemoved{Container: "app"})
	assert.Equal(t, []taskstep.Kind{taskstep.KindDeleteTaskNetwork}, popAllKinds(t, ctx))

	ctx.PostEvent(taskevent.TaskNetworkDeleted{})
	assert.Equal(t, []taskstep.Kind{taskstep.KindFinishTask}, popAllKinds(t, ctx))

	code, ok := ctx.ExitCodeFor("app")
	require.True(t, ok)
	assert.Equal(t, 0, code)
}

// Scenario 2 from spec §8: task with one healthy dependency.
func TestReducer_Scenario2_HealthyDependency(t *testing.T) {
	containers := map[string]*task.Container{
		"app": {Name: "app", Image: task.ImageSource{PullRef: "app:1"}, DependsOn: []string{"db"}},
		"db":  {Name: "db", Image: task.ImageSource{PullRef: "db:1"}},
	}
	graph, err := taskgraph.Resolve(containers, "app")
	require.NoError(t, err)

	ctx := taskcontext.New(graph)

	ctx.PostEvent(taskevent.TaskStarted{})
	// only db has no dependencies, so only db's image is pulled at start
	started := popAllKinds(t, ctx)
	assert.Contains(t, started, taskstep.KindPullImage)
	assert.Contains(t, started, taskstep.KindCreateTaskNetwork)

	ctx.PostEvent(taskevent.ImagePulled{Container: "db", Image: task.RuntimeImage{Ref: "db:1"}})
	ctx.PostEvent(taskevent.TaskNetworkCreated{Network: task.RuntimeNetwork{ID: "net1"}})
	assert.Equal(t, []taskstep.Kind{taskstep.KindCreateContainer}, popAllKinds(t, ctx), "only db is ready to be created")

	ctx.PostEvent(taskevent.ContainerCreated{Container: "db", RuntimeContainer: task.RuntimeContainer{ID: "db-rc"}})
	assert.Equal(t, []taskstep.Kind{taskstep.KindStartContainer}, popAllKinds(t, ctx), "db is a dependency, not the task container")

	ctx.PostEvent(taskevent.ContainerStarted{Container: "db"})
	assert.Equal(t, []taskstep.Kind{taskstep.KindWaitForHealth}, popAllKinds(t, ctx))

	// app's image only becomes ready now; app can be created, but it must
	// not be run until db is healthy.
	ctx.PostEvent(taskevent.ImagePulled{Container: "app", Image: task.RuntimeImage{Ref: "app:1"}})
	assert.Equal(t, []taskstep.Kind{taskstep.KindCreateContainer}, popAllKinds(t, ctx), "app's CreateContainer is now queued")

	ctx.PostEvent(taskevent.ContainerBecameHealthy{Container: "db"})
	assert.Empty(t, popAllKinds(t, ctx), "app isn't created yet, so nothing can start")

	ctx.PostEvent(taskevent.ContainerCreated{Container: "app", RuntimeContainer: task.RuntimeContainer{ID: "app-rc"}})
	assert.Equal(t, []taskstep.Kind{taskstep.KindRunContainer}, popAllKinds(t, ctx), "db is healthy, so app can run")

	ctx.PostEvent(taskevent.RunningContainerExited{Container: "app", ExitCode: 0})
	assert.ElementsMatch(t, []taskstep.Kind{taskstep.KindStopContainer, taskstep.KindRemoveContainer}, popAllKinds(t, ctx),
		"db (started dependency) must be stopped, and app (the exited container) removed")

	ctx.PostEvent(taskevent.ContainerStopped{Container: "db"})
	assert.Equal(t, []taskstep.Kind{taskstep.KindRemoveContainer}, popAllKinds(t, ctx))

	// app's own RemoveContainer was already queued by RunningContainerExited
	ctx.PostEvent(taskevent.ContainerRemoved{Container: "app"})
	assert.Empty(t, popAllKinds(t, ctx), "db has not been removed yet")

	ctx.PostEvent(taskevent.ContainerRemoved{Container: "db"})
	assert.Equal(t, []taskstep.Kind{taskstep.KindDeleteTaskNetwork}, popAllKinds(t, ctx))
}

// Scenario 3 from spec §8: dependency unhealthy.
func TestReducer_Scenario3_DependencyUnhealthy(t *testing.T) {
	containers := map[string]*task.Container{
		"app": {Name: "app", Image: task.ImageSource{PullRef: "app:1"}, DependsOn: []string{"db"}},
		"db":  {Name: "db", Image: task.ImageSource{PullRef: "db:1"}},
	}
	graph, err := taskgraph.Resolve(containers, "app")
	require.NoError(t, err)

	ctx := taskcontext.New(graph)
	ctx.PostEvent(taskevent.TaskStarted{})
	popAllKinds(t, ctx)

	ctx.PostEvent(taskevent.ImagePulled{Container: "db", Image: task.RuntimeImage{Ref: "db:1"}})
	ctx.PostEvent(taskevent.TaskNetworkCreated{Network: task.RuntimeNetwork{ID: "net1"}})
	popAllKinds(t, ctx) // CreateContainer(db)

	ctx.PostEvent(taskevent.ContainerCreated{Container: "db", RuntimeContainer: task.RuntimeContainer{ID: "db-rc"}})
	popAllKinds(t, ctx) // StartContainer(db)
	ctx.PostEvent(taskevent.ContainerStarted{Container: "db"})
	popAllKinds(t, ctx) // WaitForHealth(db)

	ctx.PostEvent(taskevent.ContainerDidNotBecomeHealthy{Container: "db", Message: "db failed its health check"})
	assert.True(t, ctx.IsAborting())
	assert.Equal(t, []taskstep.Kind{taskstep.KindCleanUpContainer}, popAllKinds(t, ctx))

	ctx.PostEvent(taskevent.ContainerRemoved{Container: "db"})
	assert.Equal(t, []taskstep.Kind{taskstep.KindDeleteTaskNetwork}, popAllKinds(t, ctx))

	ctx.PostEvent(taskevent.TaskNetworkDeleted{})
	assert.Equal(t, []taskstep.Kind{taskstep.KindFinishTask}, popAllKinds(t, ctx))

	_, ok := ctx.RuntimeContainerFor("app")
	assert.False(t, ok, "app must never be created")
}

// Scenario 4 from spec §8: image build failure with DontCleanup.
func TestReducer_Scenario4_BuildFailureDontCleanup(t *testing.T) {
	containers := map[string]*task.Container{
		"app": {Name: "app", Image: task.ImageSource{BuildDir: "."}},
	}
	graph, err := taskgraph.Resolve(containers, "app")
	require.NoError(t, err)

	ctx := taskcontext.New(graph, taskcontext.WithBehaviourAfterFailure(taskevent.DontCleanup))
	ctx.PostEvent(taskevent.TaskStarted{})
	popAllKinds(t, ctx) // BuildImage(app), CreateTaskNetwork

	ctx.PostEvent(taskevent.TaskNetworkCreated{Network: task.RuntimeNetwork{ID: "net1"}})
	popAllKinds(t, ctx)

	ctx.PostEvent(taskevent.ImageBuildFailed{Container: "app", Message: "boom"})
	assert.True(t, ctx.IsAborting())
	// no container was ever created, so cleanup goes straight to the network
	assert.Equal(t, []taskstep.Kind{taskstep.KindDeleteTaskNetwork}, popAllKinds(t, ctx))

	ctx.PostEvent(taskevent.TaskNetworkDeleted{})
	assert.Equal(t, []taskstep.Kind{taskstep.KindFinishTask}, popAllKinds(t, ctx))
}

// Scenario 5 from spec §8: container created after abort.
func TestReducer_Scenario5_ContainerCreatedAfterAbort(t *testing.T) {
	containers := map[string]*task.Container{
		"app": {Name: "app", Image: task.ImageSource{PullRef: "app:1"}, DependsOn: []string{"db"}},
		"db":  {Name: "db", Image: task.ImageSource{PullRef: "db:1"}},
	}
	graph, err := taskgraph.Resolve(containers, "app")
	require.NoError(t, err)

	ctx := taskcontext.New(graph)
	ctx.PostEvent(taskevent.TaskStarted{})
	popAllKinds(t, ctx) // PullImage(db), CreateTaskNetwork
	ctx.PostEvent(taskevent.ImagePulled{Container: "db", Image: task.RuntimeImage{Ref: "db:1"}})
	ctx.PostEvent(taskevent.ImagePulled{Container: "app", Image: task.RuntimeImage{Ref: "app:1"}})
	ctx.PostEvent(taskevent.TaskNetworkCreated{Network: task.RuntimeNetwork{ID: "net1"}})
	// both containers' CreateContainer steps are now "in flight" (dispatched
	// but not yet observed as ContainerCreated).
	assert.ElementsMatch(t, []taskstep.Kind{taskstep.KindCreateContainer, taskstep.KindCreateContainer}, popAllKinds(t, ctx))

	// abort happens while app's creation is still in flight
	ctx.PostEvent(taskevent.ContainerDidNotBecomeHealthy{Container: "db", Message: "unhealthy"})
	assert.True(t, ctx.IsAborting())

	ctx.PostEvent(taskevent.ContainerCreated{Container: "app", RuntimeContainer: task.RuntimeContainer{ID: "app-rc"}})
	assert.Equal(t, []taskstep.Kind{taskstep.KindCleanUpContainer}, popAllKinds(t, ctx))

	ctx.PostEvent(taskevent.ContainerRemoved{Container: "app"})
}

func TestReducer_PostingHealthyTwiceIsIdempotent(t *testing.T) {
	containers := map[string]*task.Container{
		"app": {Name: "app", Image: task.ImageSource{PullRef: "app:1"}, DependsOn: []string{"db"}},
		"db":  {Name: "db", Image: task.ImageSource{PullRef: "db:1"}},
	}
	graph, err := taskgraph.Resolve(containers, "app")
	require.NoError(t, err)

	ctx := taskcontext.New(graph)
	ctx.PostEvent(taskevent.TaskStarted{})
	ctx.PostEvent(taskevent.ImagePulled{Container: "db", Image: task.RuntimeImage{Ref: "db:1"}})
	ctx.PostEvent(taskevent.ImagePulled{Container: "app", Image: task.RuntimeImage{Ref: "app:1"}})
	ctx.PostEvent(taskevent.TaskNetworkCreated{Network: task.RuntimeNetwork{ID: "net1"}})
	popAllKinds(t, ctx)

	ctx.PostEvent(taskevent.ContainerCreated{Container: "db", RuntimeContainer: task.RuntimeContainer{ID: "db-rc"}})
	popAllKinds(t, ctx)
	ctx.PostEvent(taskevent.ContainerStarted{Container: "db"})
	popAllKinds(t, ctx)

	ctx.PostEvent(taskevent.ContainerCreated{Container: "app", RuntimeContainer: task.RuntimeContainer{ID: "app-rc"}})
	assert.Empty(t, popAllKinds(t, ctx), "app still waiting on db to become healthy")

	ctx.PostEvent(taskevent.ContainerBecameHealthy{Container: "db"})
	assert.Equal(t, []taskstep.Kind{taskstep.KindRunContainer}, popAllKinds(t, ctx))

	ctx.PostEvent(taskevent.ContainerBecameHealthy{Container: "db"})
	assert.Empty(t, popAllKinds(t, ctx), "posting the same ContainerBecameHealthy twice must not re-run the task container")
}
