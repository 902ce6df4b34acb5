package timectrl

import (
	"context"
	"sync"
	"time"
)

// Mode describes how the Pacer spaces coordinator rounds.
type Mode int

const (
	// RealTime waits Interval of wall-clock time between rounds, which makes
	// a run observable through live metrics.
	RealTime Mode = iota
	// Accelerated runs rounds back to back.
	Accelerated
)

func (m Mode) String() string {
	if m == RealTime {
		return "real-time"
	}
	return "accelerated"
}

// Pacer counts coordinator rounds and notifies registered listeners. There
// are no simulated timers: a round is one completed coordinator cycle.
type Pacer struct {
	mu       sync.RWMutex
	Interval time.Duration
	Mode     Mode

	round     uint64
	ticker    *time.Ticker
	listeners []func(uint64)
}

// NewPacer constructs a pacer. RealTime with a non-positive interval behaves
// like Accelerated.
func NewPacer(interval time.Duration, mode Mode) *Pacer {
	return &Pacer{
		Interval: interval,
		Mode:     mode,
	}
}

// Round returns the number of completed rounds.
func (p *Pacer) Round() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.round
}

// AddListener registers a callback invoked after every round.
func (p *Pacer) AddListener(fn func(uint64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Advance completes a round: listeners are notified, then in RealTime mode
// the call blocks until the next tick or until ctx is done.
func (p *Pacer) Advance(ctx context.Context) error {
	p.mu.Lock()
	p.round++
	round := p.round
	listeners := append([]func(uint64){}, p.listeners...)
	if p.Mode == RealTime && p.Interval > 0 && p.ticker == nil {
		p.ticker = time.NewTicker(p.Interval)
	}
	ticker := p.ticker
	p.mu.Unlock()

	// Notify listeners outside the lock to avoid deadlocks.
	for _, fn := range listeners {
		fn(round)
	}

	if ticker == nil {
		return ctx.Err()
	}
	select {
	case <-ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the ticker, if any.
func (p *Pacer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
	}
}
