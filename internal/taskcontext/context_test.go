package taskcontext_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube-orchestrator/taskrunner/internal/task"
	"github.com/cube-orchestrator/taskrunner/internal/taskcontext"
	"github.com/cube-orchestrator/taskrunner/internal/taskgraph"
	"github.com/cube-orchestrator/taskrunner/internal/taskstep"
)

func newSingleContainerContext(t *testing.T) *taskcontext.Context {
	t.Helper()
	containers := map[string]*task.Container{
		"app": {Name: "app", Image: task.ImageSource{PullRef: "app:1"}},
	}
	graph, err := taskgraph.Resolve(containers, "app")
	require.NoError(t, err)
	return taskcontext.New(graph)
}

func TestContext_QueueStepDeduplicatesByKindAndKey(t *testing.T) {
	ctx := newSingleContainerContext(t)

	ctx.QueueStep(taskstep.PullImage{Container: task.Container{Name: "app"}, Ref: "app:1"})
	ctx.QueueStep(taskstep.PullImage{Container: task.Container{Name: "app"}, Ref: "app:1"})

	_, ok := ctx.NextStep()
	require.True(t, ok)
	_, ok = ctx.NextStep()
	assert.False(t, ok, "a second identical PullImage step must be suppressed")
}

func TestContext_NextStepIsEmptyWhenNothingQueued(t *testing.T) {
	ctx := newSingleContainerContext(t)
	_, ok := ctx.NextStep()
	assert.False(t, ok)
}

func TestContext_CreatedContainerNamesExcludesRemoved(t *testing.T) {
	ctx := newSingleContainerContext(t)
	ctx.SetContainerCreated("app", task.RuntimeContainer{ID: "c1"})
	assert.Equal(t, []string{"app"}, ctx.CreatedContainerNames())

	ctx.MarkContainerRemoved("app")
	assert.Empty(t, ctx.CreatedContainerNames())
}

func TestContext_AbortFlagIsMonotonic(t *testing.T) {
	ctx := newSingleContainerContext(t)
	assert.False(t, ctx.IsAborting())
	ctx.SetAborting()
	assert.True(t, ctx.IsAborting())
	// no operation ever clears it; calling SetAborting again is a no-op
	ctx.SetAborting()
	assert.True(t, ctx.IsAborting())
}
