// Package resolve maps loosely typed device names onto the output devices
// the backend actually has.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"midi-daw/midi"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"go.uber.org/zap"
)

// ErrDeviceNotFound is returned when no device resembles the requested
// name. The returned Target still carries the literal name.
var ErrDeviceNotFound = errors.New("device not found")

const (
	DefaultMaxDistance = 3
	DefaultCacheTTL    = 2 * time.Second
)

// Lister provides the current device names. backend.Transport satisfies it.
type Lister interface {
	Devices(ctx context.Context) ([]string, error)
}

type snapshot struct {
	devices []string
	fetched time.Time
}

// Resolver resolves names against a cached device list. The list is only
// ever replaced as a whole, so readers share it without locking.
type Resolver struct {
	src         Lister
	ttl         time.Duration
	maxDistance int
	log         *zap.Logger

	cur     atomic.Pointer[snapshot]
	fetchMu sync.Mutex
}

type Option func(*Resolver)

func WithCacheTTL(d time.Duration) Option {
	return func(r *Resolver) { r.ttl = d }
}

// WithMaxDistance bounds the edit distance accepted by the typo fallback.
func WithMaxDistance(n int) Option {
	return func(r *Resolver) { r.maxDistance = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

func New(src Lister, opts ...Option) *Resolver {
	r := &Resolver{
		src:         src,
		ttl:         DefaultCacheTTL,
		maxDistance: DefaultMaxDistance,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Devices returns the cached list, fetching it when stale.
func (r *Resolver) Devices(ctx context.Context) ([]string, error) {
	if s := r.cur.Load(); s != nil && time.Since(s.fetched) < r.ttl {
		return s.devices, nil
	}
	return r.Refresh(ctx)
}

// Refresh refetches the device list regardless of the cache.
func (r *Resolver) Refresh(ctx context.Context) ([]string, error) {
	r.fetchMu.Lock()
	defer r.fetchMu.Unlock()

	devs, err := r.src.Devices(ctx)
	if err != nil {
		return nil, err
	}
	r.cur.Store(&snapshot{devices: devs, fetched: time.Now()})
	return devs, nil
}

// Resolve finds the device best matching name. On ErrDeviceNotFound (or a
// failed device listing) the returned target uses name as given.
func (r *Resolver) Resolve(ctx context.Context, name string, ch midi.Channel) (midi.Target, error) {
	literal := midi.Target{Device: name, Channel: ch}
	devs, err := r.Devices(ctx)
	if err != nil {
		return literal, fmt.Errorf("%w: listing devices: %v", ErrDeviceNotFound, err)
	}
	match, ok := Match(name, devs, r.maxDistance)
	if !ok {
		return literal, fmt.Errorf("%w: %q (have %d devices)", ErrDeviceNotFound, name, len(devs))
	}
	if match != name {
		r.log.Debug("device name resolved", zap.String("requested", name), zap.String("device", match))
	}
	return midi.Target{Device: match, Channel: ch}, nil
}

// Match picks the device for name out of devs: an exact match, then the
// closest device containing name as a fuzzy subsequence, then the closest
// device within maxDistance edits.
func Match(name string, devs []string, maxDistance int) (string, bool) {
	if name == "" || len(devs) == 0 {
		return "", false
	}
	for _, d := range devs {
		if d == name {
			return d, true
		}
	}

	if ranks := fuzzy.RankFindNormalizedFold(name, devs); len(ranks) > 0 {
		best := ranks[0]
		for _, rk := range ranks[1:] {
			if rk.Distance < best.Distance ||
				(rk.Distance == best.Distance && rk.OriginalIndex < best.OriginalIndex) {
				best = rk
			}
		}
		return best.Target, true
	}

	best, bestDist := "", maxDistance+1
	lower := strings.ToLower(name)
	for _, d := range devs {
		// compare against the port name proper, ignoring ":client:port" tails
		base := strings.ToLower(d)
		if i := strings.IndexByte(base, ':'); i > 0 {
			base = base[:i]
		}
		if dist := fuzzy.LevenshteinDistance(lower, base); dist < bestDist {
			best, bestDist = d, dist
		}
	}
	return best, best != ""
}
