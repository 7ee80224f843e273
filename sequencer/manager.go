package sequencer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"midi-daw/eventbus"
	"midi-daw/midi"
	"midi-daw/musictime"
	"midi-daw/note"
	"midi-daw/resolve"
)

var (
	ErrUnknownSequence = errors.New("unknown sequence")
	ErrSequenceExists  = errors.New("sequence already exists")
	ErrStepRange       = errors.New("step out of range")
)

// Sender delivers one message. *dispatch.Dispatcher satisfies it.
type Sender interface {
	Send(ctx context.Context, target midi.Target, msg midi.Msg, blocking bool) error
}

// Resolver maps a requested device name onto a backend port.
type Resolver interface {
	Resolve(ctx context.Context, name string, ch midi.Channel) (midi.Target, error)
}

// Status is where a sequence is in its play cycle.
type Status int

const (
	Stopped Status = iota
	Queued         // starts on the next bar
	Playing
	Stopping // stops when it next wraps
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "queued"
	case Playing:
		return "playing"
	case Stopping:
		return "stopping"
	}
	return "stopped"
}

// Manager owns the sequences and plays them from a pulse clock. One step
// lasts ppq/4 pulses; queued sequences join on bar boundaries.
type Manager struct {
	mu       sync.RWMutex
	seqs     map[string]*Sequence
	playing  []string
	queued   []string
	stopping []string
	counter  int
	step     atomic.Int64

	send     Sender
	resolver Resolver
	bus      eventbus.Bus
	tempo    func() float64
	ppq      int
	steps    int
	dir      string
	log      *zap.Logger
	pubs     sync.WaitGroup
	lastPub  chan struct{} // closed once the previous downbeat is out

	leds ledState

	// Notify TUI of updates
	UpdateChan chan struct{}
}

type Option func(*Manager)

func WithResolver(r Resolver) Option {
	return func(m *Manager) { m.resolver = r }
}

// WithBus publishes the downbeats "1".."4" while anything plays.
func WithBus(b eventbus.Bus) Option {
	return func(m *Manager) { m.bus = b }
}

func WithTempo(fn func() float64) Option {
	return func(m *Manager) {
		if fn != nil {
			m.tempo = fn
		}
	}
}

func WithPPQ(ppq int) Option {
	return func(m *Manager) {
		if ppq >= 4 {
			m.ppq = ppq
		}
	}
}

// WithSteps sets the length of new sequences.
func WithSteps(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.steps = n
		}
	}
}

// WithDir sets where sequences and projects are saved.
func WithDir(dir string) Option {
	return func(m *Manager) { m.dir = dir }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager creates a sequencer that sends its steps through send.
func NewManager(send Sender, opts ...Option) *Manager {
	m := &Manager{
		seqs:       make(map[string]*Sequence),
		send:       send,
		tempo:      func() float64 { return musictime.DefaultTempo },
		ppq:        musictime.DefaultPPQ,
		steps:      NumSteps,
		log:        zap.NewNop(),
		UpdateChan: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.leds.init()
	return m
}

// Tempo is the tempo the clock currently runs at.
func (m *Manager) Tempo() float64 {
	return m.tempo()
}

func (m *Manager) lookup(name string) (*Sequence, error) {
	seq, ok := m.seqs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSequence, name)
	}
	return seq, nil
}

func (m *Manager) stepRange(seq *Sequence, i int) error {
	if i < 0 || i >= len(seq.Steps) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrStepRange, i, len(seq.Steps))
	}
	return nil
}

// SeqNames lists every sequence with its device, sorted by name.
func (m *Manager) SeqNames() []SeqName {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SeqName, 0, len(m.seqs))
	for name, seq := range m.seqs {
		out = append(out, SeqName{Name: name, Device: seq.Target.Device})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Sequence returns a copy of the named sequence.
func (m *Manager) Sequence(name string) (*Sequence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return seq.clone(), nil
}

// Seq renders a sequence for the grid: a name header, a target header and
// one row per step.
func (m *Manager) Seq(name string) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	rows := seq.header()
	for _, st := range seq.Steps {
		rows = append(rows, st.Row())
	}
	return rows, nil
}

// SeqRow renders step i of a sequence.
func (m *Manager) SeqRow(name string, i int) (Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, err := m.lookup(name)
	if err != nil {
		return Row{}, err
	}
	if err := m.stepRange(seq, i); err != nil {
		return Row{}, err
	}
	return seq.Steps[i].Row(), nil
}

// SetNote edits step i. A pitch with no velocity uses DefaultVelocity; a
// velocity alone re-voices a step that is already set; neither clears it.
func (m *Manager) SetNote(name string, i int, pitch, vel *uint8) error {
	if pitch != nil && *pitch > 127 {
		return fmt.Errorf("%w: %d", note.ErrInvalidPitch, *pitch)
	}
	if vel != nil && *vel > 127 {
		return fmt.Errorf("%w: velocity %d outside [0,127]", midi.ErrInvalidMsg, *vel)
	}

	m.mu.Lock()
	seq, err := m.lookup(name)
	if err == nil {
		err = m.stepRange(seq, i)
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}
	st := &seq.Steps[i]
	switch {
	case pitch != nil && vel != nil:
		*st = Step{On: true, Note: *pitch, Velocity: *vel}
	case pitch != nil:
		*st = Step{On: true, Note: *pitch, Velocity: DefaultVelocity}
	case vel != nil:
		if st.On {
			st.Velocity = *vel
		}
	default:
		*st = Step{}
	}
	m.mu.Unlock()

	m.notifyUpdate()
	return nil
}

// ToggleStep clears step i if it is set, otherwise sets it to pitch.
// It reports whether the step is now on.
func (m *Manager) ToggleStep(name string, i int, pitch uint8) (bool, error) {
	if pitch > 127 {
		return false, fmt.Errorf("%w: %d", note.ErrInvalidPitch, pitch)
	}
	m.mu.Lock()
	seq, err := m.lookup(name)
	if err == nil {
		err = m.stepRange(seq, i)
	}
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	st := &seq.Steps[i]
	if st.On {
		*st = Step{}
	} else {
		*st = Step{On: true, Note: pitch, Velocity: DefaultVelocity}
	}
	on := st.On
	m.mu.Unlock()

	m.notifyUpdate()
	return on, nil
}

// StepN is the step the clock last played, in [0, NumSteps).
func (m *Manager) StepN() int {
	return int(m.step.Load() % NumSteps)
}

// Status reports where name is in its play cycle.
func (m *Manager) Status(name string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status(name)
}

func (m *Manager) status(name string) Status {
	switch {
	case slices.Contains(m.stopping, name):
		return Stopping
	case slices.Contains(m.playing, name):
		return Playing
	case slices.Contains(m.queued, name):
		return Queued
	}
	return Stopped
}

// Playing lists the sequences currently sounding, in start order.
func (m *Manager) Playing() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.playing)
}

// PlaySeq toggles a sequence: a stopped one is queued for the next bar,
// a playing or queued one stops at once. It reports whether the sequence
// is now queued.
func (m *Manager) PlaySeq(name string) (bool, error) {
	m.mu.Lock()
	if _, err := m.lookup(name); err != nil {
		m.mu.Unlock()
		return false, err
	}
	var queued bool
	if slices.Contains(m.playing, name) || slices.Contains(m.queued, name) {
		m.removeLocked(name)
	} else {
		m.stopping = without(m.stopping, name)
		m.queued = append(m.queued, name)
		queued = true
	}
	m.mu.Unlock()

	m.log.Debug("play toggled", zap.String("seq", name), zap.Bool("queued", queued))
	m.notifyUpdate()
	return queued, nil
}

// Play queues sequences for the next bar. Unknown names are skipped and
// reported.
func (m *Manager) Play(names ...string) error {
	var errs []error
	m.mu.Lock()
	for _, name := range names {
		if _, err := m.lookup(name); err != nil {
			errs = append(errs, err)
			continue
		}
		m.stopping = without(m.stopping, name)
		if !slices.Contains(m.playing, name) && !slices.Contains(m.queued, name) {
			m.queued = append(m.queued, name)
		}
	}
	m.mu.Unlock()
	m.notifyUpdate()
	return errors.Join(errs...)
}

// PlayAll queues every sequence that is not already playing.
func (m *Manager) PlayAll() {
	names := m.SeqNames()
	all := make([]string, len(names))
	for i, n := range names {
		all[i] = n.Name
	}
	m.Play(all...)
}

// Stop silences sequences immediately.
func (m *Manager) Stop(names ...string) {
	m.mu.Lock()
	for _, name := range names {
		m.removeLocked(name)
	}
	m.mu.Unlock()
	m.notifyUpdate()
}

// StopAll silences everything and rewinds the clock.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.playing, m.queued, m.stopping = nil, nil, nil
	m.counter = 0
	m.mu.Unlock()
	m.notifyUpdate()
}

// QueueStop lets sequences finish their pattern before stopping.
func (m *Manager) QueueStop(names ...string) {
	m.mu.Lock()
	for _, name := range names {
		if slices.Contains(m.playing, name) && !slices.Contains(m.stopping, name) {
			m.stopping = append(m.stopping, name)
		}
	}
	m.mu.Unlock()
	m.notifyUpdate()
}

// removeLocked drops name from every play list.
func (m *Manager) removeLocked(name string) {
	m.playing = without(m.playing, name)
	m.queued = without(m.queued, name)
	m.stopping = without(m.stopping, name)
	if len(m.playing) == 0 && len(m.queued) == 0 {
		m.counter = 0
	}
}

// NewSeq adds an empty sequence. An empty name picks "seq-N".
func (m *Manager) NewSeq(name string, target midi.Target) (string, error) {
	m.mu.Lock()
	if name == "" {
		for i := len(m.seqs) + 1; ; i++ {
			name = "seq-" + strconv.Itoa(i)
			if _, taken := m.seqs[name]; !taken {
				break
			}
		}
	}
	if _, taken := m.seqs[name]; taken {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrSequenceExists, name)
	}
	m.seqs[name] = NewSequence(name, target, m.steps)
	m.mu.Unlock()

	m.log.Info("sequence created", zap.String("seq", name), zap.Stringer("target", target))
	m.notifyUpdate()
	return name, nil
}

// Put stores seq, replacing any sequence of the same name.
func (m *Manager) Put(seq *Sequence) {
	if seq == nil || seq.Name == "" {
		return
	}
	c := seq.clone()
	if len(c.Steps) == 0 {
		c.Steps = make([]Step, m.steps)
	}
	m.mu.Lock()
	m.seqs[c.Name] = c
	m.mu.Unlock()
	m.notifyUpdate()
}

func (m *Manager) RemoveSeq(name string) error {
	m.mu.Lock()
	if _, err := m.lookup(name); err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.seqs, name)
	m.removeLocked(name)
	m.mu.Unlock()
	m.notifyUpdate()
	return nil
}

// RenameSeq renames a sequence, carrying over its play state.
func (m *Manager) RenameSeq(oldName, newName string) error {
	m.mu.Lock()
	seq, err := m.lookup(oldName)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if _, taken := m.seqs[newName]; taken || newName == "" {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrSequenceExists, newName)
	}
	delete(m.seqs, oldName)
	seq.Name = newName
	m.seqs[newName] = seq
	for _, list := range [][]string{m.playing, m.queued, m.stopping} {
		if i := slices.Index(list, oldName); i >= 0 {
			list[i] = newName
		}
	}
	m.mu.Unlock()
	m.notifyUpdate()
	return nil
}

func (m *Manager) SetChannel(name string, ch midi.Channel) error {
	m.mu.Lock()
	seq, err := m.lookup(name)
	if err == nil {
		seq.Target.Channel = ch
	}
	m.mu.Unlock()
	m.notifyUpdate()
	return err
}

// ChangeSequenceDev points a sequence at another device, resolving dev
// against the backend's ports. An unresolvable name is kept literally.
func (m *Manager) ChangeSequenceDev(ctx context.Context, name, dev string) error {
	m.mu.RLock()
	seq, err := m.lookup(name)
	var ch midi.Channel
	if err == nil {
		ch = seq.Target.Channel
	}
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	device := dev
	if m.resolver != nil {
		t, err := m.resolver.Resolve(ctx, dev, ch)
		switch {
		case err == nil:
			device = t.Device
		case errors.Is(err, resolve.ErrDeviceNotFound):
			m.log.Warn("device not found, using name as given", zap.String("device", dev))
		default:
			m.log.Warn("device lookup failed", zap.String("device", dev), zap.Error(err))
		}
	}

	m.mu.Lock()
	seq, err = m.lookup(name)
	if err == nil {
		seq.Target.Device = device
	}
	m.mu.Unlock()
	m.notifyUpdate()
	return err
}

// ChangeLen grows or shrinks a sequence by amt steps. A sequence keeps at
// least one step.
func (m *Manager) ChangeLen(name string, amt int) error {
	m.mu.Lock()
	seq, err := m.lookup(name)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	switch n := len(seq.Steps) + amt; {
	case amt > 0:
		seq.Steps = append(seq.Steps, make([]Step, amt)...)
	case amt < 0 && n > 0:
		seq.Steps = seq.Steps[:n]
	}
	m.mu.Unlock()
	m.notifyUpdate()
	return nil
}

type stepNote struct {
	target midi.Target
	msg    midi.PlayNote
}

// Pulse advances the clock by one pulse. On step boundaries it starts
// queued sequences (on the bar, or at once if nothing plays), drops
// sequences whose stop was queued once they wrap, and sends the notes of
// the current step of every playing sequence.
func (m *Manager) Pulse(ctx context.Context) {
	var (
		notes   []stepNote
		beat    string
		stepped bool
		prevPub chan struct{}
		pubDone chan struct{}
	)

	m.mu.Lock()
	perStep := m.ppq / 4
	if m.counter%perStep == 0 {
		stepped = true
		i := m.counter / perStep
		if i%NumSteps == 0 || len(m.playing) == 0 {
			m.playing = append(m.playing, m.queued...)
			m.queued = nil
		}

		kept := m.playing[:0:0]
		for _, name := range m.playing {
			seq := m.seqs[name]
			if seq != nil && i%len(seq.Steps) == 0 && slices.Contains(m.stopping, name) {
				continue
			}
			kept = append(kept, name)
		}
		m.playing = kept
		m.stopping = slices.DeleteFunc(m.stopping, func(n string) bool {
			return !slices.Contains(m.playing, n)
		})

		for _, name := range m.playing {
			seq := m.seqs[name]
			if seq == nil {
				continue
			}
			st := seq.Steps[i%len(seq.Steps)]
			if !st.On {
				continue
			}
			notes = append(notes, stepNote{
				target: seq.Target,
				msg:    midi.PlayNote{Pitch: st.Note, Velocity: st.Velocity, Length: musictime.Sn(1)},
			})
		}

		if len(m.playing) > 0 {
			m.step.Store(int64(i))
			if i%4 == 0 && m.bus != nil {
				beat = strconv.Itoa(i/4%4 + 1)
				prevPub, pubDone = m.lastPub, make(chan struct{})
				m.lastPub = pubDone
			}
		}
	}
	if len(m.playing) > 0 || len(m.queued) > 0 {
		m.counter++
	} else {
		m.counter = 0
	}
	m.mu.Unlock()

	if m.send != nil {
		for _, n := range notes {
			m.send.Send(ctx, n.target, n.msg, false)
		}
	}
	if beat != "" {
		// Each publish waits for the one before it so beats arrive in order.
		m.pubs.Add(1)
		go func() {
			defer m.pubs.Done()
			defer close(pubDone)
			if prevPub != nil {
				<-prevPub
			}
			if err := m.bus.Publish(context.WithoutCancel(ctx), beat); err != nil {
				m.log.Debug("downbeat not published", zap.String("beat", beat), zap.Error(err))
			}
		}()
	}
	if stepped {
		m.markLEDsDirty()
		m.notifyUpdate()
	}
}

// Run drives Pulse from the wall clock until ctx is done. Pulses are
// scheduled against an absolute deadline so timer jitter does not
// accumulate; after a stall the clock resyncs instead of bursting.
func (m *Manager) Run(ctx context.Context) error {
	next := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		m.Pulse(ctx)

		next = next.Add(musictime.PulseDuration(m.tempo(), m.ppq))
		wait := time.Until(next)
		if wait < -100*time.Millisecond {
			m.log.Debug("clock resync", zap.Duration("behind", -wait))
			next = time.Now()
			wait = 0
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			m.pubs.Wait()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// notifyUpdate nudges the TUI without blocking.
func (m *Manager) notifyUpdate() {
	select {
	case m.UpdateChan <- struct{}{}:
	default:
	}
}

func without(list []string, name string) []string {
	return slices.DeleteFunc(list, func(n string) bool { return n == name })
}
