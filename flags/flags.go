// Package flags defines the semantic change-kind bitset attached to file
// system events and the decoder that converts the raw native bit pattern
// into it. The vocabulary and bit values follow the FSEvents event-flag
// constants so that raw flags recorded from a native stream decode
// losslessly.
package flags

import (
	"fmt"
	"strings"
)

// StreamFlags is a bitset describing what happened to a watched item.
type StreamFlags uint32

const (
	// None means the event carried no flag bits.
	None StreamFlags = 0
	// MustScanSubDirs indicates the subtree below the path must be
	// rescanned because events were coalesced or dropped upstream.
	MustScanSubDirs StreamFlags = 1 << 0
	// UserDropped indicates the client could not keep up and events were
	// discarded before delivery.
	UserDropped StreamFlags = 1 << 1
	// KernelDropped indicates the kernel discarded events before the
	// notification service saw them.
	KernelDropped StreamFlags = 1 << 2
	// IDsWrapped indicates the 64-bit event identifier counter wrapped.
	IDsWrapped StreamFlags = 1 << 3
	// HistoryDone marks the sentinel event that ends historical replay.
	HistoryDone StreamFlags = 1 << 4
	// RootChanged indicates a change along the path to a watched root.
	RootChanged StreamFlags = 1 << 5
	// Mount indicates a volume was mounted below a watched path.
	Mount StreamFlags = 1 << 6
	// Unmount indicates a volume was unmounted below a watched path.
	Unmount StreamFlags = 1 << 7
	// ItemCreated indicates a file system object was created.
	ItemCreated StreamFlags = 1 << 8
	// ItemRemoved indicates a file system object was removed.
	ItemRemoved StreamFlags = 1 << 9
	// ItemInodeMetaMod indicates inode metadata was modified.
	ItemInodeMetaMod StreamFlags = 1 << 10
	// ItemRenamed indicates a file system object was renamed.
	ItemRenamed StreamFlags = 1 << 11
	// ItemModified indicates a file's data was modified.
	ItemModified StreamFlags = 1 << 12
	// ItemFinderInfoMod indicates Finder information was modified.
	ItemFinderInfoMod StreamFlags = 1 << 13
	// ItemChangeOwner indicates ownership or permissions changed.
	ItemChangeOwner StreamFlags = 1 << 14
	// ItemXattrMod indicates extended attributes were modified.
	ItemXattrMod StreamFlags = 1 << 15
	// ItemIsFile indicates the object is a regular file.
	ItemIsFile StreamFlags = 1 << 16
	// ItemIsDir indicates the object is a directory.
	ItemIsDir StreamFlags = 1 << 17
	// ItemIsSymlink indicates the object is a symbolic link.
	ItemIsSymlink StreamFlags = 1 << 18
	// OwnEvent indicates the change was made by the current process.
	OwnEvent StreamFlags = 1 << 19
	// ItemIsHardlink indicates the object is a hard link.
	ItemIsHardlink StreamFlags = 1 << 20
	// ItemIsLastHardlink indicates the object is the last hard link.
	ItemIsLastHardlink StreamFlags = 1 << 21
	// ItemCloned indicates the object was cloned.
	ItemCloned StreamFlags = 1 << 22
)

// knownMask covers every defined flag bit. Parse rejects raw values with
// bits outside this mask.
const knownMask = ItemCloned<<1 - 1

var flagNames = []struct {
	bit  StreamFlags
	name string
}{
	{MustScanSubDirs, "MustScanSubDirs"},
	{UserDropped, "UserDropped"},
	{KernelDropped, "KernelDropped"},
	{IDsWrapped, "IDsWrapped"},
	{HistoryDone, "HistoryDone"},
	{RootChanged, "RootChanged"},
	{Mount, "Mount"},
	{Unmount, "Unmount"},
	{ItemCreated, "ItemCreated"},
	{ItemRemoved, "ItemRemoved"},
	{ItemInodeMetaMod, "ItemInodeMetaMod"},
	{ItemRenamed, "ItemRenamed"},
	{ItemModified, "ItemModified"},
	{ItemFinderInfoMod, "ItemFinderInfoMod"},
	{ItemChangeOwner, "ItemChangeOwner"},
	{ItemXattrMod, "ItemXattrMod"},
	{ItemIsFile, "ItemIsFile"},
	{ItemIsDir, "ItemIsDir"},
	{ItemIsSymlink, "ItemIsSymlink"},
	{OwnEvent, "OwnEvent"},
	{ItemIsHardlink, "ItemIsHardlink"},
	{ItemIsLastHardlink, "ItemIsLastHardlink"},
	{ItemCloned, "ItemCloned"},
}

// Parse decodes a raw native bit pattern into StreamFlags. It returns an
// error if raw contains bits outside the known flag vocabulary, so that a
// caller can preserve the raw value for diagnostics while refusing to
// mislabel an unknown change kind.
func Parse(raw uint32) (StreamFlags, error) {
	if StreamFlags(raw)&^knownMask != 0 {
		return 0, fmt.Errorf("flags: unknown bits 0x%x in raw flags 0x%x", uint32(StreamFlags(raw)&^knownMask), raw)
	}
	return StreamFlags(raw), nil
}

// Has reports whether every bit in mask is set.
func (f StreamFlags) Has(mask StreamFlags) bool {
	return f&mask == mask
}

// String returns a pipe-separated list of the set flag names, or "None".
func (f StreamFlags) String() string {
	if f == None {
		return "None"
	}
	var names []string
	for _, fn := range flagNames {
		if f&fn.bit != 0 {
			names = append(names, fn.name)
		}
	}
	if rest := f &^ knownMask; rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(names, "|")
}
