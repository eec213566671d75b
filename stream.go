package fsbridge

import (
	"context"
	"errors"
)

// ErrClosed is returned by [RawEventStream.Next] once the stream has been
// aborted, or once the native side has been invalidated and every
// buffered event drained. It marks ordinary end-of-sequence, not a fault.
var ErrClosed = errors.New("fsbridge: stream closed")

// RawEventStream is the consumer-facing half of a watch session: a lazy,
// single-consumer sequence of events, finite once aborted. It wraps the
// receiving end of the bridge channel with an abort check.
//
// A stream cannot be restarted. Once Next has returned ErrClosed it
// returns ErrClosed forever.
type RawEventStream struct {
	events  <-chan RawEvent
	aborted <-chan struct{}
}

// Next returns the next event in the sequence. It blocks cooperatively
// until an event is available, the stream ends, or ctx is done.
//
// After [Handle.Abort] has returned, every call reports ErrClosed, even
// while undrained events remain buffered: abort terminates the sequence,
// it does not flush it. When the caller's ctx ends first, Next returns
// ctx.Err() and the stream remains usable.
func (s *RawEventStream) Next(ctx context.Context) (RawEvent, error) {
	// Abort wins over buffered data, checked first so a poll issued
	// after Abort returned can never observe another event.
	select {
	case <-s.aborted:
		return RawEvent{}, ErrClosed
	default:
	}

	select {
	case <-s.aborted:
		return RawEvent{}, ErrClosed
	case <-ctx.Done():
		return RawEvent{}, ctx.Err()
	case ev, ok := <-s.events:
		if !ok {
			return RawEvent{}, ErrClosed
		}
		return ev, nil
	}
}
