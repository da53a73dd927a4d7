package engine

import (
	"sync"
	"time"
)

// Engine wires the station registry, snapshot store, flow deriver and
// aggregator over a single Storage backend. Writes touching one station are
// serialized behind a per-station lock; distinct stations proceed in
// parallel. Reads take no locks.
type Engine struct {
	store  Storage
	maxGap time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an engine over store. maxGap is the interval above which derived
// flow edges are marked low confidence; zero or negative disables the flag.
func New(store Storage, maxGap time.Duration) *Engine {
	return &Engine{
		store:  store,
		maxGap: maxGap,
		locks:  make(map[string]*sync.Mutex),
	}
}

// MaxGap reports the configured low-confidence threshold.
func (e *Engine) MaxGap() time.Duration { return e.maxGap }

// stationLock returns the write lock for a station, creating it on first use.
// The map only ever grows, bounded by the number of distinct stations seen.
func (e *Engine) stationLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}
