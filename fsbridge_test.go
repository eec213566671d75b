package fsbridge

import (
	"log/slog"
	"os"
	"testing"

	"github.com/fsbridge/fsbridge/flags"
	"github.com/fsbridge/fsbridge/fsev"
)

// noopLogger returns a logger that suppresses all output.
func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError + 10,
	}))
}

// newTestContext builds a streamContext with the given channel capacity.
func newTestContext(capacity int) *streamContext {
	return &streamContext{
		events:  make(chan RawEvent, capacity),
		logger:  noopLogger(),
		metrics: NewMetrics(),
	}
}

// makeBatch builds the parallel callback arrays for n well-formed events
// with identifiers firstID, firstID+1, ...
func makeBatch(firstID fsev.EventID, n int) ([]fsev.ExtendedData, []fsev.EventFlags, []fsev.EventID) {
	extended := make([]fsev.ExtendedData, n)
	eventFlags := make([]fsev.EventFlags, n)
	eventIDs := make([]fsev.EventID, n)
	for i := 0; i < n; i++ {
		extended[i] = fsev.ExtendedData{
			fsev.DataPathKey: "/watched/file",
			fsev.FileIDKey:   int64(100 + i),
		}
		eventFlags[i] = fsev.EventFlags(flags.ItemModified | flags.ItemIsFile)
		eventIDs[i] = firstID + fsev.EventID(i)
	}
	return extended, eventFlags, eventIDs
}

// drain reads every buffered event from the context channel.
func drain(c *streamContext) []RawEvent {
	var out []RawEvent
	for {
		select {
		case ev := <-c.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// TestBridge_Ordering verifies that events pushed through the callback in
// batches arrive in the same relative order with non-decreasing IDs.
func TestBridge_Ordering(t *testing.T) {
	c := newTestContext(64)

	ext1, fl1, ids1 := makeBatch(10, 3)
	bridgeCallback(c, 3, ext1, fl1, ids1)
	ext2, fl2, ids2 := makeBatch(20, 4)
	bridgeCallback(c, 4, ext2, fl2, ids2)

	events := drain(c)
	if len(events) != 7 {
		t.Fatalf("delivered %d events, want 7", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].ID < events[i-1].ID {
			t.Fatalf("IDs not non-decreasing: %d before %d", events[i-1].ID, events[i].ID)
		}
	}
	if got := c.metrics.EventsDelivered.Load(); got != 7 {
		t.Errorf("EventsDelivered = %d, want 7", got)
	}
}

// TestBridge_DecodeRobustness verifies that a malformed per-event record
// is skipped while its well-formed siblings in the same batch are still
// delivered.
func TestBridge_DecodeRobustness(t *testing.T) {
	c := newTestContext(64)

	extended := []fsev.ExtendedData{
		{fsev.DataPathKey: "/a", fsev.FileIDKey: int64(1)},
		{fsev.DataPathKey: "/bad-inode", fsev.FileIDKey: "not a number"},
		{fsev.DataPathKey: "/bad-flags", fsev.FileIDKey: int64(3)},
		{fsev.DataPathKey: "/b", fsev.FileIDKey: int64(4)},
	}
	eventFlags := []fsev.EventFlags{
		fsev.EventFlags(flags.ItemCreated),
		fsev.EventFlags(flags.ItemCreated),
		0x80000000, // unknown bit: flags.Parse must fail
		fsev.EventFlags(flags.ItemRemoved),
	}
	eventIDs := []fsev.EventID{1, 2, 3, 4}

	bridgeCallback(c, 4, extended, eventFlags, eventIDs)

	events := drain(c)
	if len(events) != 2 {
		t.Fatalf("delivered %d events, want 2", len(events))
	}
	if events[0].Path != "/a" || events[1].Path != "/b" {
		t.Errorf("delivered paths %q, %q; want /a, /b", events[0].Path, events[1].Path)
	}
	if got := c.metrics.DecodeErrors.Load(); got != 2 {
		t.Errorf("DecodeErrors = %d, want 2", got)
	}

	// Later batches must still flow.
	ext, fl, ids := makeBatch(10, 1)
	bridgeCallback(c, 1, ext, fl, ids)
	if got := len(drain(c)); got != 1 {
		t.Errorf("follow-up batch delivered %d events, want 1", got)
	}
}

// TestBridge_PanicContained verifies that a record violating the
// extended-data contract (no path) is contained by the firewall instead
// of unwinding into the caller.
func TestBridge_PanicContained(t *testing.T) {
	c := newTestContext(64)

	extended := []fsev.ExtendedData{{fsev.FileIDKey: int64(1)}} // no path key
	eventFlags := []fsev.EventFlags{fsev.EventFlags(flags.ItemCreated)}
	eventIDs := []fsev.EventID{1}

	bridgeCallback(c, 1, extended, eventFlags, eventIDs) // must not panic

	if got := c.metrics.CallbackPanics.Load(); got != 1 {
		t.Errorf("CallbackPanics = %d, want 1", got)
	}

	// The bridge survives for subsequent invocations.
	ext, fl, ids := makeBatch(10, 2)
	bridgeCallback(c, 2, ext, fl, ids)
	if got := len(drain(c)); got != 2 {
		t.Errorf("delivered %d events after contained panic, want 2", got)
	}
}

// TestBridge_Backpressure verifies the lossy overflow policy: with a full
// channel the producer never blocks, the consumer still sees an in-order
// prefix, and the excess is counted as dropped.
func TestBridge_Backpressure(t *testing.T) {
	c := newTestContext(4)

	ext, fl, ids := makeBatch(1, 10)
	bridgeCallback(c, 10, ext, fl, ids) // must return without blocking

	events := drain(c)
	if len(events) != 4 {
		t.Fatalf("delivered %d events, want the 4-slot prefix", len(events))
	}
	for i, ev := range events {
		if ev.ID != fsev.EventID(1+i) {
			t.Errorf("event %d has ID %d, want %d (in-order prefix)", i, ev.ID, 1+i)
		}
	}
	if got := c.metrics.EventsDropped.Load(); got != 6 {
		t.Errorf("EventsDropped = %d, want 6", got)
	}
	if got := c.metrics.EventsDelivered.Load(); got != 4 {
		t.Errorf("EventsDelivered = %d, want 4", got)
	}
}

// TestBridge_FileIDConversions verifies the accepted numeric encodings of
// the file identifier.
func TestBridge_FileIDConversions(t *testing.T) {
	cases := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int64(42), 42, true},
		{int(7), 7, true},
		{uint64(9), 9, true},
		{float64(3), 3, true},
		{"nope", 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		got, ok := toI64(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("toI64(%v) = (%d, %v), want (%d, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

// TestReleaseContext verifies that the native release hook closes the
// event channel, ending the consumer-facing sequence.
func TestReleaseContext(t *testing.T) {
	c := newTestContext(4)
	releaseContext(c)
	if _, ok := <-c.events; ok {
		t.Error("event channel still open after release hook")
	}
}
