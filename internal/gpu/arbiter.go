package gpu

import (
	"context"
	"sync"
)

// Class identifies who is asking for the GPU.
type Class int

const (
	// ClassLive is the realtime dubbing path (OCR + on-demand synthesis).
	ClassLive Class = iota
	// ClassBackground covers episode pre-rendering and voice training jobs.
	ClassBackground
)

func (c Class) String() string {
	if c == ClassLive {
		return "live"
	}
	return "background"
}

// State is a read-only snapshot of the arbiter for UI warnings.
type State struct {
	Enabled bool `json:"semaphore"`
	AtRisk  bool `json:"at_risk"`
}

type waiter struct {
	class Class
	ready chan struct{}
}

// Arbiter gates GPU use between live dubbing and background work.
//
// With the semaphore enabled a single lease exists: whoever acquired first
// keeps the GPU and later requests queue FIFO. With it disabled every Acquire
// returns immediately and the arbiter only tracks a standing contention-risk
// flag (both classes holding at once). Flipping the semaphore never revokes a
// held lease; it only changes how new requests are treated.
type Arbiter struct {
	mu      sync.Mutex
	enabled bool
	holders map[Class]int
	waiters []*waiter
	atRisk  bool
	notify  func(State)
}

func NewArbiter(enabled bool) *Arbiter {
	return &Arbiter{
		enabled: enabled,
		holders: make(map[Class]int),
	}
}

// SetNotify registers a callback invoked (outside the lock) whenever the
// snapshot state changes.
func (a *Arbiter) SetNotify(fn func(State)) {
	a.mu.Lock()
	a.notify = fn
	a.mu.Unlock()
}

// Acquire obtains a GPU lease for the class, waiting in FIFO order while the
// semaphore is enabled and the GPU is held. The returned release function is
// idempotent.
func (a *Arbiter) Acquire(ctx context.Context, class Class) (func(), error) {
	a.mu.Lock()
	if !a.enabled || (a.totalHoldersLocked() == 0 && len(a.waiters) == 0) {
		a.holders[class]++
		notify := a.refreshRiskLocked()
		a.mu.Unlock()
		notify()
		return a.releaseFunc(class), nil
	}

	w := &waiter{class: class, ready: make(chan struct{})}
	a.waiters = append(a.waiters, w)
	a.mu.Unlock()

	select {
	case <-ctx.Done():
		a.mu.Lock()
		// The grant may have raced the cancellation.
		select {
		case <-w.ready:
			notify := a.refreshRiskLocked()
			a.mu.Unlock()
			notify()
			return a.releaseFunc(class), nil
		default:
		}
		for i, queued := range a.waiters {
			if queued == w {
				a.waiters = append(a.waiters[:i], a.waiters[i+1:]...)
				break
			}
		}
		a.mu.Unlock()
		return nil, ctx.Err()
	case <-w.ready:
		a.mu.Lock()
		notify := a.refreshRiskLocked()
		a.mu.Unlock()
		notify()
		return a.releaseFunc(class), nil
	}
}

// TryAcquire is Acquire without waiting; ok is false when the GPU is busy.
func (a *Arbiter) TryAcquire(class Class) (func(), bool) {
	a.mu.Lock()
	if a.enabled && (a.totalHoldersLocked() > 0 || len(a.waiters) > 0) {
		a.mu.Unlock()
		return nil, false
	}
	a.holders[class]++
	notify := a.refreshRiskLocked()
	a.mu.Unlock()
	notify()
	return a.releaseFunc(class), true
}

// Enabled reports the semaphore flag.
func (a *Arbiter) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// SetEnabled flips the semaphore. Disabling releases all queued waiters;
// enabling leaves held leases untouched and only gates new acquisitions.
func (a *Arbiter) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	if !enabled {
		for _, w := range a.waiters {
			a.holders[w.class]++
			close(w.ready)
		}
		a.waiters = nil
	}
	notify := a.refreshRiskLocked()
	a.mu.Unlock()
	notify()
}

// Snapshot returns the current state for warnings and the settings API.
func (a *Arbiter) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{Enabled: a.enabled, AtRisk: a.atRisk}
}

func (a *Arbiter) releaseFunc(class Class) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			if a.holders[class] > 0 {
				a.holders[class]--
			}
			if a.enabled && a.totalHoldersLocked() == 0 && len(a.waiters) > 0 {
				next := a.waiters[0]
				a.waiters = a.waiters[1:]
				a.holders[next.class]++
				close(next.ready)
			}
			notify := a.refreshRiskLocked()
			a.mu.Unlock()
			notify()
		})
	}
}

func (a *Arbiter) totalHoldersLocked() int {
	total := 0
	for _, n := range a.holders {
		total += n
	}
	return total
}

// refreshRiskLocked recomputes the contention-risk flag and returns the
// notification to run after unlocking (a no-op when nothing changed).
func (a *Arbiter) refreshRiskLocked() func() {
	risk := a.holders[ClassLive] > 0 && a.holders[ClassBackground] > 0
	if risk == a.atRisk {
		return func() {}
	}
	a.atRisk = risk
	fn := a.notify
	state := State{Enabled: a.enabled, AtRisk: a.atRisk}
	if fn == nil {
		return func() {}
	}
	return func() { fn(state) }
}
