// Package eventbus carries named trigger events between voices, the
// sequencer and other processes.
//
// Delivery is at-most-once and unbuffered: a WaitFor only sees events
// published after it subscribed.
package eventbus

import (
	"context"
	"errors"
	"strings"
)

// ErrEventBus is returned when the bus cannot be reached.
var ErrEventBus = errors.New("event bus error")

// Bus publishes and waits for named events.
type Bus interface {
	Publish(ctx context.Context, name string) error
	// WaitFor blocks until an event called name arrives or ctx is done.
	WaitFor(ctx context.Context, name string) error
}

// normalize turns a received frame into an event name. Events travel as
// JSON strings, so surrounding and embedded quotes are dropped.
func normalize(frame string) string {
	return strings.ReplaceAll(frame, `"`, "")
}
