// Package runloop implements a thread-affine, blocking event-processing
// loop in the style of the Core Foundation run loop. A RunLoop executes
// work items submitted via Perform on the goroutine that called Run, fires
// observers at defined activity points, and blocks idle between bursts of
// work until Stop is called.
//
// # Thread affinity
//
// The goroutine that calls Run owns the loop for its entire lifetime and
// should pin its OS thread with runtime.LockOSThread before running, so
// that callbacks scheduled onto the loop always execute on the same
// thread. Other goroutines may only interact with the loop through the
// addressable operations Perform, Stop, IsWaiting, AddObserver, and
// RemoveObserver; they must never assume they can run the loop themselves.
//
// # Observers
//
// Observers registered for the BeforeWaiting activity fire every time the
// loop has drained its pending work and is about to block. This is the
// only point at which the loop is guaranteed to be quiescent, and is the
// safe point for an external party to request a stop.
package runloop

import "sync"

// Activity identifies a phase of the run loop that observers can watch.
type Activity uint32

const (
	// Entry fires once when Run begins processing.
	Entry Activity = 1 << 0
	// BeforeWaiting fires when the loop has no pending work and is about
	// to block waiting for more.
	BeforeWaiting Activity = 1 << 5
	// AfterWaiting fires when the loop wakes up after blocking.
	AfterWaiting Activity = 1 << 6
	// Exit fires once when Run returns.
	Exit Activity = 1 << 7
)

// ObserverFunc is invoked on the loop goroutine when a watched activity
// occurs. It must not block and must not call back into AddObserver or
// RemoveObserver for the same loop.
type ObserverFunc func(activity Activity)

// workQueueSize bounds the number of not-yet-executed Perform items. A
// producer that outruns the loop blocks in Perform rather than growing an
// unbounded queue.
const workQueueSize = 64

type observer struct {
	activities Activity
	fn         ObserverFunc
}

// RunLoop is a single-owner blocking event loop. Construct one with New on
// the goroutine that will call Run. All exported methods other than Run
// are safe for concurrent use from any goroutine.
type RunLoop struct {
	work chan func()

	stopOnce sync.Once
	stopped  chan struct{}

	mu        sync.Mutex
	waiting   bool
	observers map[uint64]*observer
	nextObsID uint64
}

// New constructs a RunLoop. The caller is expected to invoke Run from the
// goroutine that owns the loop; handing the loop to other goroutines is
// only useful for the addressable operations (Perform, Stop, observers).
func New() *RunLoop {
	return &RunLoop{
		work:      make(chan func(), workQueueSize),
		stopped:   make(chan struct{}),
		observers: make(map[uint64]*observer),
	}
}

// Run processes work items until Stop is called. It blocks the calling
// goroutine for the lifetime of the loop. Run must be called at most once.
func (rl *RunLoop) Run() {
	rl.notify(Entry)
	defer rl.notify(Exit)

	for {
		// Drain work that is already pending before declaring the loop
		// idle.
		select {
		case <-rl.stopped:
			return
		case f := <-rl.work:
			f()
			continue
		default:
		}

		// No pending work: flip to the waiting state and fire
		// BeforeWaiting observers. The state change and the observer
		// snapshot happen under one critical section so that an observer
		// added while the loop is mid-dispatch either makes this
		// snapshot or sees IsWaiting() == true, never neither.
		rl.mu.Lock()
		rl.waiting = true
		pending := rl.snapshotLocked(BeforeWaiting)
		rl.mu.Unlock()
		for _, fn := range pending {
			fn(BeforeWaiting)
		}

		select {
		case <-rl.stopped:
			rl.setWaiting(false)
			return
		case f := <-rl.work:
			rl.setWaiting(false)
			rl.notify(AfterWaiting)
			f()
		}
	}
}

// Stop terminates the loop. It may be called from any goroutine, and is
// idempotent. Run returns once the loop notices the stop request, which is
// immediate when the loop is waiting.
func (rl *RunLoop) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopped)
	})
}

// Perform submits f for execution on the loop goroutine. It blocks while
// the work queue is full. If the loop has been stopped the item is
// silently discarded; a stopped loop never runs new work.
func (rl *RunLoop) Perform(f func()) {
	select {
	case <-rl.stopped:
	case rl.work <- f:
	}
}

// IsWaiting reports whether the loop is currently blocked idle, i.e. it
// has fired its BeforeWaiting observers and is waiting for work or a stop
// request.
func (rl *RunLoop) IsWaiting() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.waiting
}

// AddObserver registers fn to be called whenever any of the activities in
// the mask occur, and returns an identifier for later removal.
func (rl *RunLoop) AddObserver(activities Activity, fn ObserverFunc) uint64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.nextObsID++
	id := rl.nextObsID
	rl.observers[id] = &observer{activities: activities, fn: fn}
	return id
}

// RemoveObserver unregisters the observer with the given identifier.
// Removing an unknown identifier is a no-op.
func (rl *RunLoop) RemoveObserver(id uint64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.observers, id)
}

func (rl *RunLoop) setWaiting(v bool) {
	rl.mu.Lock()
	rl.waiting = v
	rl.mu.Unlock()
}

// snapshotLocked returns the observer functions registered for activity.
// Callers must hold rl.mu.
func (rl *RunLoop) snapshotLocked(activity Activity) []ObserverFunc {
	var fns []ObserverFunc
	for _, o := range rl.observers {
		if o.activities&activity != 0 {
			fns = append(fns, o.fn)
		}
	}
	return fns
}

func (rl *RunLoop) notify(activity Activity) {
	rl.mu.Lock()
	pending := rl.snapshotLocked(activity)
	rl.mu.Unlock()
	for _, fn := range pending {
		fn(activity)
	}
}
