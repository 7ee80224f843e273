package midi

import (
	"context"
	"strings"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"
)

// DeviceEvent is emitted when controllers connect/disconnect
type DeviceEvent struct {
	Type       DeviceEventType
	Controller Controller
	ID         string
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

// DeviceManager handles hot-plug detection of MIDI controllers: any
// Launchpad, plus the keyboards it was told about.
type DeviceManager struct {
	controllers map[string]Controller
	mu          sync.RWMutex
	events      chan DeviceEvent
	pollRate    time.Duration
	keyboards   map[string]int // lowercased port name -> channel
	log         *zap.Logger
	ports       func() ([]drivers.In, []drivers.Out)
}

type ManagerOption func(*DeviceManager)

func WithPollRate(d time.Duration) ManagerOption {
	return func(dm *DeviceManager) { dm.pollRate = d }
}

// WithKeyboard watches for an input port whose name contains port and
// treats it as a note keyboard on channel (0 = any).
func WithKeyboard(port string, channel int) ManagerOption {
	return func(dm *DeviceManager) { dm.keyboards[strings.ToLower(port)] = channel }
}

func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(dm *DeviceManager) {
		if l != nil {
			dm.log = l
		}
	}
}

// NewDeviceManager creates a new device manager
func NewDeviceManager(opts ...ManagerOption) *DeviceManager {
	dm := &DeviceManager{
		controllers: make(map[string]Controller),
		events:      make(chan DeviceEvent, 16),
		pollRate:    time.Second,
		keyboards:   make(map[string]int),
		log:         zap.NewNop(),
		ports: func() ([]drivers.In, []drivers.Out) {
			return gomidi.GetInPorts(), gomidi.GetOutPorts()
		},
	}
	for _, opt := range opts {
		opt(dm)
	}
	return dm
}

// Events returns a channel of device connect/disconnect events
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// Controllers returns a snapshot of connected controllers
func (dm *DeviceManager) Controllers() map[string]Controller {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	out := make(map[string]Controller, len(dm.controllers))
	for k, v := range dm.controllers {
		out[k] = v
	}
	return out
}

// GetLaunchpad returns the first connected Launchpad (or nil)
func (dm *DeviceManager) GetLaunchpad() Controller {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	for _, c := range dm.controllers {
		if c.Type() == ControllerLaunchpad {
			return c
		}
	}
	return nil
}

// Run starts the polling loop (blocking - run in goroutine)
func (dm *DeviceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()

	dm.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			dm.closeAll()
			close(dm.events)
			return
		case <-ticker.C:
			dm.scan(ctx)
		}
	}
}

func (dm *DeviceManager) emit(ctx context.Context, ev DeviceEvent) {
	select {
	case dm.events <- ev:
	case <-ctx.Done():
	}
}

func (dm *DeviceManager) scan(ctx context.Context) {
	type portsResult struct {
		ins  []drivers.In
		outs []drivers.Out
	}

	// Port enumeration can hang inside the driver.
	ch := make(chan portsResult, 1)
	go func() {
		ins, outs := dm.ports()
		ch <- portsResult{ins, outs}
	}()

	var ins []drivers.In
	var outs []drivers.Out
	select {
	case r := <-ch:
		ins, outs = r.ins, r.outs
	case <-time.After(3 * time.Second):
		dm.log.Warn("midi port scan timed out")
		return
	case <-ctx.Done():
		return
	}

	seen := make(map[string]bool)
	for _, in := range ins {
		id := in.String()
		name := strings.ToLower(id)

		var open func() (Controller, error)
		switch {
		case isLaunchpad(name):
			out := findOut(outs, name)
			open = func() (Controller, error) { return NewLaunchpadController(id, in, out, dm.log) }
		default:
			ch, ok := dm.keyboardChannel(name)
			if !ok {
				continue
			}
			open = func() (Controller, error) { return NewKeyboardController(id, in, ch) }
		}
		seen[id] = true

		dm.mu.RLock()
		_, exists := dm.controllers[id]
		dm.mu.RUnlock()
		if exists {
			continue
		}

		c, err := open()
		if err != nil {
			dm.log.Warn("controller open failed", zap.String("port", id), zap.Error(err))
			continue
		}
		dm.mu.Lock()
		dm.controllers[id] = c
		dm.mu.Unlock()
		dm.log.Info("controller connected", zap.String("port", id), zap.Stringer("type", c.Type()))
		dm.emit(ctx, DeviceEvent{Type: DeviceConnected, Controller: c, ID: id})
	}

	dm.mu.Lock()
	var gone []string
	for id, c := range dm.controllers {
		if !seen[id] {
			c.Close()
			delete(dm.controllers, id)
			gone = append(gone, id)
		}
	}
	dm.mu.Unlock()

	for _, id := range gone {
		dm.log.Info("controller disconnected", zap.String("port", id))
		dm.emit(ctx, DeviceEvent{Type: DeviceDisconnected, ID: id})
	}
}

func (dm *DeviceManager) keyboardChannel(name string) (int, bool) {
	for port, ch := range dm.keyboards {
		if strings.Contains(name, port) {
			return ch, true
		}
	}
	return 0, false
}

func findOut(outs []drivers.Out, name string) drivers.Out {
	for _, op := range outs {
		if strings.ToLower(op.String()) == name {
			return op
		}
	}
	return nil
}

func (dm *DeviceManager) closeAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, c := range dm.controllers {
		c.Close()
	}
	dm.controllers = make(map[string]Controller)
}

func isLaunchpad(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "launchpad") && strings.Contains(name, "midi")
}
