// Package uilog implements the Event Logger (spec §4.6): two renderers
// sharing one interface, selected by terminal capability. Both also emit a
// parallel logrus debug trail (spec_full §2's ambient structured logging
// layer), grounded on lazydocker's pkg/log dev/prod logger split.
package uilog

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/cube-orchestrator/taskrunner/internal/taskevent"
	"github.com/cube-orchestrator/taskrunner/internal/taskstep"
)

// Logger is the interface the Dispatcher drives: one call per step about
// to start, one call per event posted.
type Logger interface {
	StepStarting(step taskstep.Step)
	Event(e taskevent.Event)
	Close()
}

// Mode selects which Event Logger NewLogger builds.
type Mode int

const (
	// ModeAuto picks fancy when the terminal supports cursor addressing,
	// simple otherwise (spec §4.6's selection rule).
	ModeAuto Mode = iota
	ModeSimple
	ModeFancy
	ModeQuiet
)

// NewLogger is the selection entrypoint described in spec §4.6: "quiet
// forced -> quiet logger; simple-forced -> simple; else fancy if the
// terminal supports cursor addressing, simple otherwise".
func NewLogger(mode Mode, out io.Writer, log *logrus.Entry) Logger {
	switch mode {
	case ModeQuiet:
		return newQuietLogger(log)
	case ModeSimple:
		return newSimpleLogger(out, log)
	case ModeFancy:
		if l, err := newFancyLogger(log); err == nil {
			return l
		}
		return newSimpleLogger(out, log)
	default:
		if supportsCursorAddressing() {
			if l, err := newFancyLogger(log); err == nil {
				return l
			}
		}
		return newSimpleLogger(out, log)
	}
}

// NewDebugLogger builds the ambient structured logger (spec_full §2),
// independent of which user-facing renderer is selected, following
// lazydocker's pkg/log dev/prod split: debug level in development (written
// to logDir/taskrunner.log when logDir is set, to stderr otherwise), a
// discarding error-only logger otherwise.
func NewDebugLogger(debug bool, logDir string) *logrus.Entry {
	l := logrus.New()
	l.Formatter = &logrus.JSONFormatter{}

	if debug || os.Getenv("DEBUG") == "TRUE" {
		l.SetLevel(logrus.DebugLevel)
		if logDir != "" {
			if f, err := os.OpenFile(logDir+"/taskrunner.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				l.SetOutput(f)
			}
		}
	} else {
		l.SetOutput(io.Discard)
		l.SetLevel(logrus.ErrorLevel)
	}

	return l.WithFields(logrus.Fields{"component": "taskrunner"})
}

func supportsCursorAddressing() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// stepStartLabel renders the "Building X…" family of labels from spec
// §4.6 for both the simple and fancy renderers.
func stepStartLabel(step taskstep.Step) (string, bool) {
	switch s := step.(type) {
	case taskstep.BuildImage:
		return fmt.Sprintf("Building %s…", s.Container.Name), true
	case taskstep.PullImage:
		return fmt.Sprintf("Pulling %s…", s.Ref), true
	case taskstep.StartContainer:
		return fmt.Sprintf("Starting dependency %s…", s.Container.Name), true
	case taskstep.RunContainer:
		return fmt.Sprintf("Running %v in %s…", s.Container.Command, s.Container.Name), true
	case taskstep.CleanUpContainer:
		return "Cleaning up…", true
	}
	return "", false
}
