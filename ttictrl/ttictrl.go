// Package ttictrl drives the carrier scheduler at TTI cadence. It is the
// simulation-side stand-in for the radio frame timing source: every tick it
// advances the TTI counter and notifies registered listeners.
package ttictrl

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/macsched/sched"
)

// Mode describes how the TTITicker advances.
type Mode int

const (
	// RealTime advances one TTI per tick interval of wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as fast as the listeners can keep up.
	Accelerated
)

// TTITicker advances a wrapping TTI counter and invokes listeners on every
// tick. Listeners run on the ticker goroutine, in registration order.
type TTITicker struct {
	mu       sync.RWMutex
	StartTTI uint32
	Tick     time.Duration
	Mode     Mode

	current   uint32
	listeners []func(tti uint32)
}

// New constructs a ticker starting at the given TTI.
func New(start uint32, tick time.Duration, mode Mode) *TTITicker {
	return &TTITicker{
		StartTTI: start % sched.NofTTIs,
		Tick:     tick,
		Mode:     mode,
		current:  start % sched.NofTTIs,
	}
}

// Current returns the TTI the ticker last advanced to.
func (t *TTITicker) Current() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// AddListener registers a callback invoked on every tick. Must be called
// before Run.
func (t *TTITicker) AddListener(fn func(tti uint32)) {
	t.listeners = append(t.listeners, fn)
}

// Run advances the ticker for n TTIs or until the context is cancelled,
// whichever comes first. It returns the number of TTIs that elapsed.
func (t *TTITicker) Run(ctx context.Context, n uint32) uint32 {
	var ticker *time.Ticker
	if t.Mode == RealTime {
		ticker = time.NewTicker(t.Tick)
		defer ticker.Stop()
	}

	tti := t.StartTTI
	for elapsed := uint32(0); elapsed < n; elapsed++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return elapsed
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return elapsed
		}

		tti = sched.TTIAdd(tti, 1)

		t.mu.Lock()
		t.current = tti
		t.mu.Unlock()

		for _, fn := range t.listeners {
			fn(tti)
		}
	}
	return n
}

// Start runs the ticker in a separate goroutine and returns a channel that is
// closed when it finishes.
func (t *TTITicker) Start(ctx context.Context, n uint32) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.Run(ctx, n)
	}()
	return done
}
