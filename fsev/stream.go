package fsev

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"github.com/fsbridge/fsbridge/runloop"
)

// requiredFlags must be present in every stream's creation flags: the
// callback payload format this package produces only exists with both set.
const requiredFlags = UseCFTypes | UseExtendedData

// Stream is the native watch-stream object: the set of paths under
// observation, bound to a callback and a context. Its lifecycle is
// NewStream → Schedule → Start → Stop → Invalidate. Stop and Invalidate
// are idempotent; Invalidate implies Stop.
type Stream struct {
	cb      Callback
	ctx     *Context
	latency time.Duration
	noDefer bool
	logger  *slog.Logger

	watcher *fsnotify.Watcher

	mu        sync.Mutex
	loop      *runloop.RunLoop
	started   bool
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	invalOnce sync.Once
}

// NewStream creates a watch-stream object for the given paths. Every path
// is registered with the underlying watcher up front; an unwatchable path
// (nonexistent, unreadable) fails the whole construction and releases
// everything already acquired, so no partial state survives an error.
//
// sinceWhen is a resume cursor: event identifiers issued to this stream
// are guaranteed to be greater than it. This backend keeps no history, so
// a cursor in the past does not replay missed events; it only anchors the
// identifier sequence. Use SinceNow when no cursor is held.
//
// createFlags must include UseCFTypes and UseExtendedData; the callback
// payload produced by this package depends on both.
func NewStream(cb Callback, ctx *Context, paths []string, sinceWhen EventID, latency time.Duration, createFlags CreateFlags) (*Stream, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("fsev: no paths to watch")
	}
	if createFlags&requiredFlags != requiredFlags {
		return nil, fmt.Errorf("fsev: creation flags 0x%x lack UseCFTypes|UseExtendedData", uint32(createFlags))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsev: create watcher: %w", err)
	}
	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("fsev: watch %q: %w", p, err)
		}
	}

	if sinceWhen != SinceNow {
		advanceIDFloor(sinceWhen)
	}

	return &Stream{
		cb:      cb,
		ctx:     ctx,
		latency: latency,
		noDefer: createFlags&NoDefer != 0,
		logger:  slog.Default(),
		watcher: watcher,
		done:    make(chan struct{}),
	}, nil
}

// Schedule attaches the stream to loop. Callbacks are performed on the
// goroutine running that loop. Schedule must be called before Start, from
// the loop's owning goroutine.
func (s *Stream) Schedule(loop *runloop.RunLoop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = loop
}

// Start begins event delivery. It panics if the stream has not been
// scheduled onto a run loop; calling Start twice is a no-op.
func (s *Stream) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop == nil {
		panic("fsev: Start called before Schedule")
	}
	if s.started {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.collect(s.loop)
}

// Stop halts event delivery and waits for the internal collector to exit.
// Coalesced events that have not yet been delivered are discarded. Stop
// is idempotent and never fails.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

// Invalidate stops the stream, releases the underlying watcher, and fires
// the context's release hook exactly once. The stream is unusable
// afterwards. Invalidate is idempotent.
func (s *Stream) Invalidate() {
	s.invalOnce.Do(func() {
		s.Stop()
		if err := s.watcher.Close(); err != nil {
			s.logger.Warn("fsev: close watcher", slog.Any("error", err))
		}
		if s.ctx != nil && s.ctx.Release != nil {
			s.ctx.Release(s.ctx.Info)
		}
	})
}

// collect reads raw watcher events, coalesces them for the latency
// window, and performs each finished batch as a callback invocation on
// the scheduled loop. It runs on its own goroutine until Stop.
func (s *Stream) collect(loop *runloop.RunLoop) {
	defer s.wg.Done()

	var (
		batch  []entry
		timer  *time.Timer
		timerC <-chan time.Time
	)
	arm := func(d time.Duration) {
		timer = time.NewTimer(d)
		timerC = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			batch = append(batch, s.makeEntry(ev))
			if timerC == nil {
				if s.noDefer {
					arm(0)
				} else {
					arm(s.latency)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("fsev: watcher error", slog.Any("error", err))
		case <-timerC:
			timerC = nil
			s.deliver(loop, batch)
			batch = nil
		}
	}
}

// entry is one decoded raw event awaiting batch delivery.
type entry struct {
	ext ExtendedData
	raw EventFlags
	id  EventID
}

// makeEntry converts a single watcher event into the native callback
// shape: extended-data record, raw flag word, and a fresh event ID.
func (s *Stream) makeEntry(ev fsnotify.Event) entry {
	path := ev.Name
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	raw := opFlags(ev.Op)

	// The file identifier and object-type bits come from the inode. A
	// failed Lstat (the object is already gone) leaves the identifier
	// zero and the type bits unset.
	var inode int64
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err == nil {
		inode = int64(st.Ino)
		switch st.Mode & unix.S_IFMT {
		case unix.S_IFDIR:
			raw |= EventFlagItemIsDir
		case unix.S_IFLNK:
			raw |= EventFlagItemIsSymlink
		case unix.S_IFREG:
			raw |= EventFlagItemIsFile
		}
	}

	return entry{
		ext: ExtendedData{DataPathKey: path, FileIDKey: inode},
		raw: raw,
		id:  nextEventID(),
	}
}

// deliver performs one callback invocation for the batch on the loop
// goroutine. If the loop has already been stopped the batch is discarded,
// matching the contract that a stopped stream delivers nothing.
func (s *Stream) deliver(loop *runloop.RunLoop, batch []entry) {
	if len(batch) == 0 {
		return
	}
	n := len(batch)
	extended := make([]ExtendedData, n)
	eventFlags := make([]EventFlags, n)
	eventIDs := make([]EventID, n)
	for i, e := range batch {
		extended[i] = e.ext
		eventFlags[i] = e.raw
		eventIDs[i] = e.id
	}

	var info any
	if s.ctx != nil {
		info = s.ctx.Info
	}
	cb := s.cb
	loop.Perform(func() {
		cb(info, n, extended, eventFlags, eventIDs)
	})
}

// opFlags maps watcher operation bits onto the native flag vocabulary.
func opFlags(op fsnotify.Op) EventFlags {
	var raw EventFlags
	if op.Has(fsnotify.Create) {
		raw |= EventFlagItemCreated
	}
	if op.Has(fsnotify.Write) {
		raw |= EventFlagItemModified
	}
	if op.Has(fsnotify.Remove) {
		raw |= EventFlagItemRemoved
	}
	if op.Has(fsnotify.Rename) {
		raw |= EventFlagItemRenamed
	}
	if op.Has(fsnotify.Chmod) {
		raw |= EventFlagItemChangeOwner
	}
	return raw
}
