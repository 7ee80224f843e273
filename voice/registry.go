package voice

import (
	"slices"
	"sync"
)

// Registry maps voice names to their latest run so a voice can be
// stopped by name. Finished runs are pruned as the registry is used.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

func (g *Registry) prune() {
	for name, r := range g.runs {
		if !r.Alive() {
			delete(g.runs, name)
		}
	}
}

// Add records r as the latest run of name.
func (g *Registry) Add(name string, r *Run) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune()
	g.runs[name] = r
}

// Get returns the latest live run of name.
func (g *Registry) Get(name string) (*Run, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune()
	r, ok := g.runs[name]
	return r, ok
}

// Stop stops every live run of the named voice. It reports whether the
// name had a live run.
func (g *Registry) Stop(name string) bool {
	r, ok := g.Get(name)
	if !ok {
		return false
	}
	g.mu.Lock()
	delete(g.runs, name)
	g.mu.Unlock()
	r.Voice().Stop()
	return true
}

// StopAll stops every registered voice.
func (g *Registry) StopAll() int {
	g.mu.Lock()
	runs := g.runs
	g.runs = make(map[string]*Run)
	g.mu.Unlock()

	for _, r := range runs {
		r.Voice().Stop()
	}
	return len(runs)
}

// Names lists the voices with a live run, sorted.
func (g *Registry) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune()
	names := make([]string, 0, len(g.runs))
	for name := range g.runs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
