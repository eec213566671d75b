package fsbridge

import (
	"sync"

	"github.com/fsbridge/fsbridge/runloop"
)

// session is the triple a Handle owns at most once: the loop handle
// published by the host goroutine, the join channel closed when that
// goroutine exits, and the abort controller for the consumer sequence.
type session struct {
	loop     *runloop.RunLoop
	hostDone <-chan struct{}
	abort    func()
}

// Handle is the capability to end a watch session. It owns its session
// triple at most once: the first Abort consumes it and later calls are
// no-ops.
//
// Discarding a Handle without calling Abort detaches the session: the run
// loop and its host goroutine keep running with no way left to stop them.
// There is no implicit cleanup on garbage collection.
type Handle struct {
	mu      sync.Mutex
	session *session
}

// Abort synchronously stops the native loop, reclaims the host goroutine,
// and terminates the paired [RawEventStream]. It blocks the calling
// goroutine; it is not a cooperative operation.
//
// The shutdown sequence: wait (via a one-shot BeforeWaiting observer)
// for the loop to reach its quiescent point so it is never stopped
// mid-dispatch, stop the loop, join the host goroutine (which runs the
// native stream's own stop/invalidate teardown before exiting), then
// fire the abort controller so every subsequent poll of the stream
// reports closure.
//
// Abort is idempotent. A shutdown that cannot complete (the loop never
// reaches quiescence, the host goroutine never exits) is a violated
// invariant of this package, not a recoverable condition; Abort blocks
// rather than returning an error for it.
func (h *Handle) Abort() {
	h.mu.Lock()
	s := h.session
	h.session = nil
	h.mu.Unlock()
	if s == nil {
		return
	}

	// One-shot quiescence wait. The signal channel is buffered so the
	// loop goroutine never blocks publishing it, and repeated fires
	// collapse into one.
	sig := make(chan struct{}, 1)
	obs := s.loop.AddObserver(runloop.BeforeWaiting, func(runloop.Activity) {
		select {
		case sig <- struct{}{}:
		default:
		}
	})

	if !s.loop.IsWaiting() {
		// The loop is mid-dispatch. Wait for it to announce it is about
		// to go idle before asking it to stop.
		<-sig
	}

	s.loop.RemoveObserver(obs)
	s.loop.Stop()

	// Join the host goroutine. It finishes stopping and invalidating the
	// native stream after Run returns, so once this unblocks no callback
	// can run and the event channel has been closed by the release hook.
	<-s.hostDone

	s.abort()
}
