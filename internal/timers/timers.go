// Package timers provides the deadline and dispose timers a connection
// arms: the deadline at start-of-attempt, bounding the whole attempt, and
// the dispose timer once a terminal state is reached, bounding how long
// the completed connection stays in that state before expiring. Both are
// made test-controllable with benbjohnson/clock rather than time.AfterFunc
// directly.
package timers

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Pair bundles the two independent timers a single connection attempt
// arms: Deadline bounds the request's overall Timeout, and Dispose fires
// StoreTimeout after a terminal state was reached; the connection uses it
// to move into its Expired state.
type Pair struct {
	clock clock.Clock
	mu    sync.Mutex

	deadline *clock.Timer
	dispose  *clock.Timer
}

// New returns a Pair driven by c. Passing clock.New() gets real wall-clock
// behavior; tests pass clock.NewMock() and advance it manually.
func New(c clock.Clock) *Pair {
	if c == nil {
		c = clock.New()
	}

	return &Pair{clock: c}
}

// ArmDeadline (re)arms the deadline timer to fire fn after d. Any
// previously armed deadline timer is stopped first. A non-positive d fires
// fn immediately, synchronously, before ArmDeadline returns -- a zero or
// already-expired deadline must trigger before any I/O is attempted, not
// silently skip arming.
func (p *Pair) ArmDeadline(d time.Duration, fn func()) {
	p.mu.Lock()

	if p.deadline != nil {
		p.deadline.Stop()
		p.deadline = nil
	}

	if d <= 0 {
		p.mu.Unlock()
		fn()
		return
	}

	p.deadline = p.clock.AfterFunc(d, fn)
	p.mu.Unlock()
}

// ArmDispose (re)arms the dispose timer, mirroring ArmDeadline.
func (p *Pair) ArmDispose(d time.Duration, fn func()) {
	p.mu.Lock()

	if p.dispose != nil {
		p.dispose.Stop()
		p.dispose = nil
	}

	if d <= 0 {
		p.mu.Unlock()
		fn()
		return
	}

	p.dispose = p.clock.AfterFunc(d, fn)
	p.mu.Unlock()
}

// CancelDeadline stops the deadline timer, if armed. A connection cancels
// it as soon as it reaches any terminal state.
func (p *Pair) CancelDeadline() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deadline != nil {
		p.deadline.Stop()
	}
}

// CancelDispose stops the dispose timer, if armed, for when a kept-alive
// connection gets reused before it fires.
func (p *Pair) CancelDispose() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dispose != nil {
		p.dispose.Stop()
	}
}

// CancelAll stops both timers.
func (p *Pair) CancelAll() {
	p.CancelDeadline()
	p.CancelDispose()
}

// Now returns the pair's clock's current time, a mockable notion of "now"
// the connection uses to measure request duration.
func (p *Pair) Now() time.Time {
	return p.clock.Now()
}
