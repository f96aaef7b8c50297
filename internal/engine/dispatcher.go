package engine

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/cube-orchestrator/taskrunner/internal/taskcontext"
	"github.com/cube-orchestrator/taskrunner/internal/taskevent"
	"github.com/cube-orchestrator/taskrunner/internal/taskstep"
)

// StepStartListener is notified immediately before a worker hands a step
// to the Step Runner, so the Event Logger can render "Building X…" before
// the (potentially long) blocking call returns (spec §4.6).
type StepStartListener func(taskstep.Step)

// EventListener is notified of every event as it is posted, in posting
// order (spec §4.6).
type EventListener func(taskevent.Event)

// Dispatcher is the bounded worker pool from spec §4.5: it pulls ready
// steps from the Context, calls the Step Runner, and feeds resulting
// events back into the Context until a FinishTask event is observed.
type Dispatcher struct {
	Context     *taskcontext.Context
	Runner      *StepRunner
	Concurrency int

	OnStepStart StepStartListener
	OnEvent     EventListener

	// pollInterval is how often an idle worker re-checks the queue when it
	// found nothing ready. New sets it to 10ms; it is unexported and has no
	// setter.
	pollInterval time.Duration
}

// New builds a Dispatcher with a default concurrency of NumCPU, per
// spec §4.5.
func New(ctx *taskcontext.Context, runner *StepRunner) *Dispatcher {
	return &Dispatcher{
		Context:      ctx,
		Runner:       runner,
		Concurrency:  runtime.NumCPU(),
		pollInterval: 10 * time.Millisecond,
	}
}

// Run drains the dispatcher: it enqueues BeginTask, spins up the worker
// pool, and blocks until a FinishTask event is observed (spec §4.5).
func (d *Dispatcher) Run(ctx context.Context) {
	concurrency := d.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.Context.QueueStep(taskstep.BeginTask{})

	finished := make(chan struct{})
	var once sync.Once
	signalFinished := func() { once.Do(func() { close(finished) }) }

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.workerLoop(workerCtx, finished, signalFinished)
		}()
	}

	<-finished
	cancel()
	wg.Wait()
}

func (d *Dispatcher) workerLoop(ctx context.Context, finished <-chan struct{}, signalFinished func()) {
	for {
		select {
		case <-finished:
			return
		case <-ctx.Done():
			return
		default:
		}

		step, ok := d.Context.NextStep()
		if !ok {
			select {
			case <-finished:
				return
			case <-ctx.Done():
				return
			case <-time.After(d.pollInterval):
				continue
			}
		}

		if d.OnStepStart != nil {
			d.OnStepStart(step)
		}

		if _, isFinish := step.(taskstep.FinishTask); isFinish {
			signalFinished()
			return
		}

		events := d.Runner.Run(ctx, step)
		for _, e := range events {
			d.postEvent(e)
		}
	}
}

func (d *Dispatcher) postEvent(e taskevent.Event) {
	d.Context.PostEvent(e)
	if d.OnEvent != nil {
		d.OnEvent(e)
	}
}
