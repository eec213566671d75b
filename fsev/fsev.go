// Package fsev provides the native-style file system event source consumed
// by the stream bridge: a watch-stream object that is scheduled onto a run
// loop, started, and then delivers batches of coalesced change
// notifications by invoking a fixed-signature callback on the loop's
// goroutine.
//
// The surface deliberately mirrors the FSEvents stream lifecycle
// (create → schedule → start → stop → invalidate) and its callback
// contract: parallel per-event arrays of extended-data records, raw flag
// words, and monotonically increasing event identifiers. The backing
// implementation pumps events from an fsnotify watcher, so the package
// works on any platform fsnotify supports.
package fsev

import "sync/atomic"

// EventID is a per-process monotonically increasing event identifier.
// All streams draw identifiers from a single global source, so an ID
// observed on one stream is a valid resume cursor for a later stream.
type EventID uint64

// SinceNow is the sentinel resume cursor meaning "only events that occur
// after the stream is created".
const SinceNow EventID = 1<<64 - 1

// EventFlags is the raw, undecoded native flag word attached to a single
// event. The bit values match the semantic vocabulary decoded by the
// flags package.
type EventFlags uint32

const (
	// EventFlagMustScanSubDirs is set when coalescing overflowed and the
	// subtree must be rescanned.
	EventFlagMustScanSubDirs EventFlags = 0x00000001
	// EventFlagItemCreated is set when an object was created.
	EventFlagItemCreated EventFlags = 0x00000100
	// EventFlagItemRemoved is set when an object was removed.
	EventFlagItemRemoved EventFlags = 0x00000200
	// EventFlagItemInodeMetaMod is set when inode metadata changed.
	EventFlagItemInodeMetaMod EventFlags = 0x00000400
	// EventFlagItemRenamed is set when an object was renamed.
	EventFlagItemRenamed EventFlags = 0x00000800
	// EventFlagItemModified is set when file data changed.
	EventFlagItemModified EventFlags = 0x00001000
	// EventFlagItemChangeOwner is set when ownership or mode changed.
	EventFlagItemChangeOwner EventFlags = 0x00004000
	// EventFlagItemIsFile marks the object as a regular file.
	EventFlagItemIsFile EventFlags = 0x00010000
	// EventFlagItemIsDir marks the object as a directory.
	EventFlagItemIsDir EventFlags = 0x00020000
	// EventFlagItemIsSymlink marks the object as a symbolic link.
	EventFlagItemIsSymlink EventFlags = 0x00040000
)

// CreateFlags modify how a stream is created and what its callback
// receives.
type CreateFlags uint32

const (
	// UseCFTypes requests bridge-friendly object types in the callback's
	// per-event payload. The stream bridge depends on it and forces it on.
	UseCFTypes CreateFlags = 0x00000001
	// NoDefer delivers the first event in a burst immediately instead of
	// waiting out the full latency window.
	NoDefer CreateFlags = 0x00000002
	// WatchRoot also reports changes along the path to each watched root.
	WatchRoot CreateFlags = 0x00000004
	// IgnoreSelf suppresses events triggered by the current process.
	IgnoreSelf CreateFlags = 0x00000008
	// FileEvents reports per-file events rather than per-directory ones.
	FileEvents CreateFlags = 0x00000010
	// UseExtendedData attaches the extended per-event metadata record
	// (path and file identifier) to each event. The stream bridge depends
	// on it and forces it on.
	UseExtendedData CreateFlags = 0x00000040
)

// Extended-data record keys. Present only on streams created with
// UseExtendedData.
const (
	// DataPathKey indexes the absolute path of the changed item (string).
	DataPathKey = "path"
	// FileIDKey indexes the file identifier of the changed item. The
	// value is numeric on well-formed events but is typed loosely, so
	// consumers must convert defensively.
	FileIDKey = "fileID"
)

// ExtendedData is the per-event metadata dictionary delivered to the
// callback when UseExtendedData is set.
type ExtendedData map[string]any

// Callback is the fixed signature invoked once per batch of coalesced
// events, on the goroutine running the loop the stream is scheduled on.
// The three slices are parallel arrays of length numEvents. info is the
// opaque user data carried by the stream's Context.
type Callback func(info any, numEvents int, extended []ExtendedData, eventFlags []EventFlags, eventIDs []EventID)

// Context carries opaque user data into the callback and a release hook
// fired exactly once when the stream is invalidated. The hook, not scope
// exit, ends the lifetime of Info: a stream that is never invalidated
// leaks its context rather than freeing it early.
type Context struct {
	// Info is handed to every callback invocation unchanged.
	Info any
	// Release is invoked with Info exactly once, from Invalidate. May be
	// nil.
	Release func(info any)
}

// eventIDSource is the process-wide event identifier counter shared by
// all streams.
var eventIDSource atomic.Uint64

// LatestEventID returns the most recently issued event identifier,
// process-wide. A stream created with this value as its resume cursor
// observes only events that happen afterwards.
func LatestEventID() EventID {
	return EventID(eventIDSource.Load())
}

func nextEventID() EventID {
	return EventID(eventIDSource.Add(1))
}

// advanceIDFloor raises the global identifier source to at least floor so
// that events on a resumed stream always carry IDs above the caller's
// cursor.
func advanceIDFloor(floor EventID) {
	for {
		cur := eventIDSource.Load()
		if cur >= uint64(floor) || eventIDSource.CompareAndSwap(cur, uint64(floor)) {
			return
		}
	}
}
