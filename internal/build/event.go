package build

import (
	"fmt"

	"github.com/fslongjin/flutterbox/pkg/model"
)

// Phase identifies which step of a build run produced an event.
type Phase string

const (
	PhaseFetch Phase = "fetch"
	PhaseBuild Phase = "build"
	PhaseDone  Phase = "done"
)

// Event is one unit of a build log stream: either a single output line or the
// terminal exit marker.
type Event struct {
	Phase    Phase
	Line     string
	Exit     bool
	ExitCode int
}

// Payload is the text carried by the event on the wire.
func (e Event) Payload() string {
	if e.Exit {
		return fmt.Sprintf("%s %d", model.ExitMarker, e.ExitCode)
	}
	return e.Line
}

// Sink receives the events of one build run in order. An error from Send means
// the consumer is gone and the run is cancelled.
type Sink interface {
	Send(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Send(ev Event) error { return f(ev) }
