// Package cursor implements the monotone {count, wrap} cursor arithmetic
// and credit-pool bookkeeping shared by the queue and CDC connection
// state machines.
package cursor

import "sync/atomic"

// Cursor is a ring position: count is the offset within the current
// wrap, wrap counts how many times the ring has rolled over. Both fields
// are transmitted in network byte order on the wire (see internal/wire);
// this type only carries the decoded values.
type Cursor struct {
	Count uint32
	Wrap  uint16
}

// pack/unpack let a Cursor travel through a single atomic word, mirroring
// the kernel-side cursor union that overlays the two fields on a u64 for
// lock-free reads.
func pack(c Cursor) uint64 {
	return uint64(c.Count) | uint64(c.Wrap)<<32
}

func unpack(w uint64) Cursor {
	return Cursor{Count: uint32(w), Wrap: uint16(w >> 32)}
}

// Add advances a cursor by delta within a ring of the given size,
// incrementing Wrap on rollover.
func Add(size uint32, c Cursor, delta uint32) Cursor {
	if size == 0 {
		return c
	}
	count := c.Count + delta
	wrap := c.Wrap
	for count >= size {
		count -= size
		wrap++
	}
	return Cursor{Count: count, Wrap: wrap}
}

// Diff returns the forward distance from old to new, clamped to [0, size].
// Within the same wrap, a new that is behind old clamps to 0 rather than
// going negative. A new whose Wrap is behind old's is read, as in
// DiffLarge, as lying ahead by the modulo-2^16 wrap difference, so it
// clamps to size. Callers use Diff when only a non-negative "how much was
// produced/consumed" count makes sense.
func Diff(size uint32, old, new Cursor) uint32 {
	d := DiffLarge(size, old, new)
	if d > size {
		return size
	}
	return d
}

// DiffLarge returns the unclamped forward distance from old to new,
// including multiple full wraps, handling wrap-counter rollover
// (0xffff -> 0x0000) by comparing wrap distance modulo 2^16.
func DiffLarge(size uint32, old, new Cursor) uint32 {
	wrapDelta := uint16(new.Wrap - old.Wrap) // wraps around at 2^16 by design
	if wrapDelta == 0 {
		if new.Count >= old.Count {
			return new.Count - old.Count
		}
		return 0
	}
	// new has wrapped at least once relative to old.
	return uint32(wrapDelta-1)*size + (size - old.Count) + new.Count
}

// Comp returns the signed distance from a to b as if laid out on an
// infinite line: positive if b is ahead of a, negative if b is behind a,
// 0 if equal.
// Like DiffLarge, the wrap counters are compared modulo 2^16 rather than
// as plain integers, so a pair straddling the 0xffff -> 0x0000 rollover
// (e.g. a={Wrap:0xffff}, b={Wrap:0x0000} one step later) still reports b
// ahead of a instead of spuriously behind.
func Comp(size uint32, a, b Cursor) int64 {
	wrapDelta := int64(int16(b.Wrap - a.Wrap))
	countDelta := int64(b.Count) - int64(a.Count)
	return wrapDelta*int64(size) + countDelta
}

// Atomic is a lock-free cursor cell, read and written as one packed
// 64-bit word so concurrent producers/consumers never observe a torn
// {count, wrap} pair.
type Atomic struct {
	word atomic.Uint64
}

func (a *Atomic) Load() Cursor        { return unpack(a.word.Load()) }
func (a *Atomic) Store(c Cursor)      { a.word.Store(pack(c)) }
func (a *Atomic) Swap(c Cursor) Cursor { return unpack(a.word.Swap(pack(c))) }

// CompareAndSwap performs a CAS on the packed cursor word.
func (a *Atomic) CompareAndSwap(old, new Cursor) bool {
	return a.word.CompareAndSwap(pack(old), pack(new))
}
