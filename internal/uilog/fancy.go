package uilog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jesseduffield/gocui"
	"github.com/sirupsen/logrus"

	"github.com/cube-orchestrator/taskrunner/internal/taskevent"
	"github.com/cube-orchestrator/taskrunner/internal/taskstep"
)

// fancyLogger maintains a multi-line live region, one line per dependency,
// redrawn on every update (spec §4.6). Grounded on lazydocker's gocui
// usage (NewGui/SetManager/MainLoop/Update) for cursor-addressed panels,
// simplified here to a single scrolling view instead of a full multi-panel
// TUI since the engine only needs progress, not interaction.
type fancyLogger struct {
	mu    sync.Mutex
	log   *logrus.Entry
	g     *gocui.Gui
	phase map[string]string
	order []string

	cleanupMode bool
	done        chan struct{}
}

const progressViewName = "progress"

func newFancyLogger(log *logrus.Entry) (*fancyLogger, error) {
	g, err := gocui.NewGui(gocui.OutputNormal, false, gocui.NORMAL, false, map[rune]string{})
	if err != nil {
		return nil, err
	}

	l := &fancyLogger{
		log:   log,
		g:     g,
		phase: make(map[string]string),
		done:  make(chan struct{}),
	}

	g.SetManagerFunc(l.layout)

	go func() {
		if err := g.MainLoop(); err != nil && err != gocui.ErrQuit {
			l.log.WithError(err).Debug("fancy logger main loop exited")
		}
	}()

	return l, nil
}

func (l *fancyLogger) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	v, err := g.SetView(progressViewName, 0, 0, maxX-1, maxY-1, 0)
	if err != nil && err != gocui.ErrUnknownView {
		return err
	}
	if v != nil {
		v.Clear()
		v.Frame = false
		l.render(v)
	}
	return nil
}

func (l *fancyLogger) render(v *gocui.View) {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := append([]string(nil), l.order...)
	sort.Strings(names)

	if l.cleanupMode {
		fmt.Fprintln(v, "Cleaning up:")
	}
	for _, name := range names {
		fmt.Fprintf(v, "%s: %s\n", name, l.phase[name])
	}
}

func (l *fancyLogger) setPhase(name, phase string) {
	l.mu.Lock()
	if _, ok := l.phase[name]; !ok {
		l.order = append(l.order, name)
	}
	l.phase[name] = phase
	l.mu.Unlock()

	l.g.Update(func(g *gocui.Gui) error { return nil })
}

func (l *fancyLogger) StepStarting(step taskstep.Step) {
	l.log.Debugf("step starting: %s/%s", step.Kind(), step.Key())

	switch s := step.(type) {
	case taskstep.BuildImage:
		l.setPhase(s.Container.Name, "building")
	case taskstep.PullImage:
		l.setPhase(s.Container.Name, "pulling")
	case taskstep.StartContainer:
		l.setPhase(s.Container.Name, "starting")
	case taskstep.RunContainer:
		l.setPhase(s.Container.Name, "starting")
	case taskstep.WaitForHealth:
		l.setPhase(s.Container.Name, "waiting for healthcheck")
	case taskstep.CleanUpContainer:
		l.mu.Lock()
		l.cleanupMode = true
		l.mu.Unlock()
		l.setPhase(s.Container.Name, "removing")
	case taskstep.StopContainer:
		l.mu.Lock()
		l.cleanupMode = true
		l.mu.Unlock()
		l.setPhase(s.Container.Name, "stopping")
	case taskstep.RemoveContainer:
		l.setPhase(s.Container.Name, "removing")
	}
}

func (l *fancyLogger) Event(e taskevent.Event) {
	l.log.Debugf("event: %s", e.Kind())

	switch ev := e.(type) {
	case taskevent.ImageBuildProgress:
		l.setPhase(ev.Container, fmt.Sprintf("building (%d/%d)", ev.Step, ev.Total))
	case taskevent.ContainerBecameHealthy:
		l.setPhase(ev.Container, "healthy")
	case taskevent.ContainerStarted:
		l.setPhase(ev.Container, "started")
	case taskevent.ImageBuildFailed:
		l.setPhase(ev.Container, "failed")
	case taskevent.ImagePullFailed:
		l.setPhase(ev.Container, "failed")
	case taskevent.ContainerCreationFailed:
		l.setPhase(ev.Container, "failed")
	case taskevent.ContainerStartFailed:
		l.setPhase(ev.Container, "failed")
	case taskevent.ContainerDidNotBecomeHealthy:
		l.setPhase(ev.Container, "failed")
	case taskevent.RunningContainerExited:
		l.mu.Lock()
		l.cleanupMode = true
		l.mu.Unlock()
	}
}

func (l *fancyLogger) Close() {
	l.g.Close()
	close(l.done)
}
