// Package fsbridge turns the callback-driven file change notification
// service in package fsev into a cancellable, asynchronously consumable
// sequence of typed events.
//
// Three execution models meet here: the native event source only delivers
// notifications by invoking a callback on the goroutine running its event
// loop; the consumer wants a pollable stream of values; and cancellation
// must tear down the loop and its dedicated host goroutine
// deterministically. NewRawEventStream wires them together: it spawns a
// host goroutine that owns a run loop for the lifetime of the watch,
// bridges callback batches into a bounded channel, and returns the
// receiving [RawEventStream] together with a [Handle] whose Abort method
// executes the synchronized shutdown protocol.
//
// Delivery is lossy by contract. The callback never blocks the loop
// goroutine: when the channel is full the event is dropped, logged, and
// counted. Consumers that need to survive a restart should track
// [RawEvent.ID] as a resume cursor (the journal package persists one).
package fsbridge

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsbridge/fsbridge/flags"
	"github.com/fsbridge/fsbridge/fsev"
	"github.com/fsbridge/fsbridge/runloop"
)

// eventChanCap is the capacity of the bounded channel between the
// run-loop goroutine and the consumer. Events beyond this backlog are
// dropped, never queued unboundedly.
const eventChanCap = 1024

// RawEvent is one decoded file change notification. Values are immutable
// once constructed and cheap to copy; they own no OS resources.
type RawEvent struct {
	// Path is the absolute path the notification concerns.
	Path string
	// Inode is the file identifier of the changed object, for
	// disambiguating renamed or recreated paths.
	Inode int64
	// Flags is the decoded semantic change-kind bitset.
	Flags flags.StreamFlags
	// RawFlags preserves the undecoded native bit pattern for
	// diagnostics and forward compatibility.
	RawFlags fsev.EventFlags
	// ID is the monotonically increasing native event identifier, usable
	// as a resume cursor for a later stream.
	ID fsev.EventID
}

// Option configures NewRawEventStream.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *Metrics
}

// WithLogger sets the logger used for decode, delivery, and panic
// diagnostics. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the counter set updated by the bridge, so several
// streams can share one or a caller can expose it over HTTP. Defaults to
// a fresh private [Metrics].
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// liveHosts counts host goroutines currently parked in a run loop. It
// exists so tests can observe the leak-on-discard contract.
var liveHosts atomic.Int64

func liveHostCount() int64 {
	return liveHosts.Load()
}

// streamContext is the state handed to the native stream as opaque user
// data. It owns the sending half of the event channel; the native
// teardown hook (releaseContext) closes the channel, which is the only
// way the consumer-facing sequence learns that no more events can come.
type streamContext struct {
	events  chan RawEvent
	logger  *slog.Logger
	metrics *Metrics
}

// releaseContext is the release hook fired exactly once by the native
// stream's Invalidate. It runs on the host goroutine after the loop has
// stopped, so no callback can race the close.
func releaseContext(info any) {
	c := info.(*streamContext)
	close(c.events)
}

// NewRawEventStream creates a connected (stream, handle) pair watching
// paths.
//
// sinceWhen is a resume cursor (see [fsev.SinceNow]), latency the
// coalescing window the native layer waits to batch changes, and
// createFlags the stream creation flags; UseCFTypes and UseExtendedData
// are always forced on because the bridge's decoding depends on them.
//
// On success, exactly one host goroutine has been spawned and is parked
// inside the run loop. The caller owns both halves of the pair: events
// are read from the stream, and the watch is ended by calling
// [Handle.Abort]. Discarding the handle without calling Abort leaves the
// loop and its goroutine running; teardown is an explicit obligation,
// not a finalizer.
//
// An unwatchable path fails construction synchronously with a wrapped
// error; no goroutine is spawned in that case.
func NewRawEventStream(paths []string, sinceWhen fsev.EventID, latency time.Duration, createFlags fsev.CreateFlags, opts ...Option) (*RawEventStream, *Handle, error) {
	o := options{
		logger:  slog.Default(),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	events := make(chan RawEvent, eventChanCap)

	// The context is owned by the native stream from here on: it is
	// released by the stream's teardown hook, not by scope exit. If the
	// host goroutine never runs Invalidate (the handle is discarded
	// without Abort), the context leaks with it.
	c := &streamContext{events: events, logger: o.logger, metrics: o.metrics}
	sctx := &fsev.Context{Info: c, Release: releaseContext}

	stream, err := fsev.NewStream(bridgeCallback, sctx, paths, sinceWhen, latency,
		createFlags|fsev.UseCFTypes|fsev.UseExtendedData)
	if err != nil {
		return nil, nil, fmt.Errorf("fsbridge: create stream: %w", err)
	}

	// One-shot hand-off: the loop handle is created on the host
	// goroutine (the loop is thread-affine) and published back exactly
	// once. It is the only cross-goroutine state needed to stop the loop
	// later.
	loopCh := make(chan *runloop.RunLoop, 1)
	hostDone := make(chan struct{})

	liveHosts.Add(1)
	go func() {
		defer close(hostDone)
		defer liveHosts.Add(-1)

		// Pin the OS thread: everything scheduled onto this loop runs on
		// one thread for the lifetime of the watch.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		loop := runloop.New()
		stream.Schedule(loop)
		stream.Start()
		loopCh <- loop

		// Blocks until Handle.Abort issues the loop stop.
		loop.Run()

		stream.Stop()
		stream.Invalidate()
	}()

	loop := <-loopCh

	aborted := make(chan struct{})
	var abortOnce sync.Once
	abortFn := func() {
		abortOnce.Do(func() { close(aborted) })
	}

	raw := &RawEventStream{events: events, aborted: aborted}
	handle := &Handle{session: &session{
		loop:     loop,
		hostDone: hostDone,
		abort:    abortFn,
	}}
	return raw, handle, nil
}

// bridgeCallback has the fixed native callback signature. The entire body
// runs behind a recover firewall: a defect while decoding must never
// unwind into the loop's dispatch machinery, so a panicking invocation is
// logged, counted, and abandoned.
func bridgeCallback(info any, numEvents int, extended []fsev.ExtendedData, eventFlags []fsev.EventFlags, eventIDs []fsev.EventID) {
	c, _ := info.(*streamContext)
	defer func() {
		if r := recover(); r != nil {
			if c != nil {
				c.metrics.CallbackPanics.Add(1)
				c.logger.Error("fsbridge: callback panic contained", slog.Any("panic", r))
			}
		}
	}()
	bridgeEvents(c, numEvents, extended, eventFlags, eventIDs)
}

func bridgeEvents(c *streamContext, numEvents int, extended []fsev.ExtendedData, eventFlags []fsev.EventFlags, eventIDs []fsev.EventID) {
	c.logger.Debug("fsbridge: received events", slog.Int("count", numEvents))

	for i := 0; i < numEvents; i++ {
		// A record without a path violates the extended-data contract;
		// the resulting panic is contained by the firewall above.
		path := extended[i][fsev.DataPathKey].(string)

		inode, ok := toI64(extended[i][fsev.FileIDKey])
		if !ok {
			c.metrics.DecodeErrors.Add(1)
			c.logger.Error("fsbridge: cannot convert file identifier to int64",
				slog.String("path", path))
			continue
		}

		decoded, err := flags.Parse(uint32(eventFlags[i]))
		if err != nil {
			c.metrics.DecodeErrors.Add(1)
			c.logger.Error("fsbridge: cannot parse event flags",
				slog.String("path", path),
				slog.Any("error", err))
			continue
		}

		ev := RawEvent{
			Path:     path,
			Inode:    inode,
			Flags:    decoded,
			RawFlags: eventFlags[i],
			ID:       eventIDs[i],
		}

		// Never block the loop goroutine on a full channel: stalling
		// here would stall native dispatch and grow the native backlog
		// unboundedly. Overflow is dropped, logged, and counted.
		select {
		case c.events <- ev:
			c.metrics.EventsDelivered.Add(1)
		default:
			c.metrics.EventsDropped.Add(1)
			c.logger.Warn("fsbridge: event channel full, dropping event",
				slog.String("path", path),
				slog.Uint64("id", uint64(ev.ID)))
		}
	}
}

// toI64 converts the loosely typed file identifier from an extended-data
// record into an int64.
func toI64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
