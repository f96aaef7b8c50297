package uilog

import (
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/cube-orchestrator/taskrunner/internal/taskevent"
	"github.com/cube-orchestrator/taskrunner/internal/taskstep"
)

// simpleLogger writes one append-only line per salient event (spec §4.6).
// No cursor movement; safe for piped output and CI logs.
type simpleLogger struct {
	mu            sync.Mutex
	out           io.Writer
	log           *logrus.Entry
	bold          *color.Color
	red           *color.Color
	cleanupPrinted bool
}

func newSimpleLogger(out io.Writer, log *logrus.Entry) *simpleLogger {
	return &simpleLogger{
		out:  out,
		log:  log,
		bold: color.New(color.Bold),
		red:  color.New(color.FgRed),
	}
}

func (l *simpleLogger) StepStarting(step taskstep.Step) {
	l.log.Debugf("step starting: %s/%s", step.Kind(), step.Key())

	if _, isCleanup := step.(taskstep.CleanUpContainer); isCleanup {
		l.mu.Lock()
		already := l.cleanupPrinted
		l.cleanupPrinted = true
		l.mu.Unlock()
		if already {
			return
		}
	}

	if df, ok := step.(taskstep.DisplayTaskFailure); ok {
		l.printFailure(df.Message)
		return
	}

	label, ok := stepStartLabel(step)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bold.Fprintln(l.out, label)
}

func (l *simpleLogger) Event(e taskevent.Event) {
	l.log.Debugf("event: %s", e.Kind())

	switch ev := e.(type) {
	case taskevent.ImageBuildFailed:
		l.printFailure(ev.Message)
	case taskevent.ImagePullFailed:
		l.printFailure(ev.Message)
	case taskevent.TaskNetworkCreationFailed:
		l.printFailure(ev.Message)
	case taskevent.ContainerCreationFailed:
		l.printFailure(ev.Message)
	case taskevent.ContainerStartFailed:
		l.printFailure(ev.Message)
	case taskevent.ContainerDidNotBecomeHealthy:
		l.printFailure(ev.Message)
	}
}

func (l *simpleLogger) printFailure(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.red.Fprintln(l.out, message)
}

func (l *simpleLogger) Close() {}

// quietLogger only renders failures (spec §4.6's "quiet-forced -> quiet
// logger (errors only)").
type quietLogger struct {
	simpleLogger
}

func newQuietLogger(log *logrus.Entry) *quietLogger {
	return &quietLogger{simpleLogger: simpleLogger{
		out:  os.Stderr,
		log:  log,
		bold: color.New(color.Bold),
		red:  color.New(color.FgRed),
	}}
}

func (l *quietLogger) StepStarting(taskstep.Step) {}
