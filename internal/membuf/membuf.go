// Package membuf implements the buffer and segment manager: page-aligned
// ring allocation backing a queue's work-request array, and a sharded
// in-memory segment registry standing in for a provider's registered
// memory region (mem_handle) during local/loopback testing.
package membuf

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/urpc/internal/logging"
)

// MemHandle is the opaque token returned by a provider when a memory
// region is registered for RDMA-style access. It carries no meaning to
// callers beyond identity and must be passed back unchanged on release.
type MemHandle uint64

// Buffer describes one allocated, possibly registered, region.
type Buffer struct {
	CPUAddr   uintptr
	Len       uint32
	IsVM      bool
	Pages     int
	MemHandle MemHandle
	mem       []byte // the backing Go slice keeping the mmap reachable
}

// Bytes returns the buffer's backing slice.
func (b *Buffer) Bytes() []byte { return b.mem }

func roundupPow2(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}

func alignPow2(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// QueueBuf holds a queue's work-request descriptor ring plus an optional
// work-request-ID side table, allocated as one page-aligned anonymous
// mapping so the whole thing can be registered with a provider in one
// call.
type QueueBuf struct {
	Mem        []byte
	EntrySize  uint32
	EntryMask  uint32
	EntryCount uint32
	WridOffset uint32 // 0 if no wrid table present
}

// AllocQueueBuf allocates a queue descriptor ring of maxEntryCnt entries
// of baseEntrySize bytes each, rounding the entry count up to a power of
// two (so index masking replaces modulo) and the total region up to
// pageSize. When withWrid is set, a parallel uint64 work-request-ID slot
// is appended per entry.
func AllocQueueBuf(maxEntryCnt uint32, baseEntrySize uint32, pageSize uint32, withWrid bool) (*QueueBuf, error) {
	entryCount := roundupPow2(maxEntryCnt)
	entrySize := baseEntrySize
	wridOffset := uint32(0)
	if withWrid {
		wridOffset = entryCount * entrySize
		entrySize += 8 // reserved per-entry, but wrid table is laid out contiguously after the ring below
	}

	total := entryCount * baseEntrySize
	if withWrid {
		total += entryCount * 8
	}
	total = alignPow2(total, pageSize)

	mem, err := unix.Mmap(-1, 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("membuf: mmap queue buf: %w", err)
	}
	if err := unix.Madvise(mem, unix.MADV_DONTFORK); err != nil {
		logging.Default().Debug("madvise dontfork failed, continuing", "error", err)
	}

	return &QueueBuf{
		Mem:        mem,
		EntrySize:  baseEntrySize,
		EntryMask:  entryCount - 1,
		EntryCount: entryCount,
		WridOffset: wridOffset,
	}, nil
}

// Release unmaps the queue buffer.
func (q *QueueBuf) Release() error {
	if q.Mem == nil {
		return nil
	}
	err := unix.Munmap(q.Mem)
	q.Mem = nil
	return err
}

// Entry returns the byte slice for descriptor index i (masked into range).
func (q *QueueBuf) Entry(i uint32) []byte {
	idx := i & q.EntryMask
	off := idx * q.EntrySize
	return q.Mem[off : off+q.EntrySize]
}

// IncPtrWrap advances a ring pointer by delta bytes within [base, base+bufSize),
// wrapping back to base on overflow. Used for the byte-granular send/recv
// buffer cursors that sit alongside the {count,wrap} entry cursors.
func IncPtrWrap(base, old uintptr, delta uintptr, bufSize uintptr) uintptr {
	off := old - base
	off = (off + delta) % bufSize
	return base + off
}

// AllocAnonPages allocates raw anonymous pages for an SGE-backed buffer
// (TX/RX payload, not the descriptor ring), with MADV_DONTFORK applied so
// a forked child never inherits (and potentially corrupts) an in-flight
// DMA target, matching the teacher's queue-mmap hardening.
func AllocAnonPages(size uint32, pageSize uint32) (*Buffer, error) {
	total := alignPow2(size, pageSize)
	mem, err := unix.Mmap(-1, 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("membuf: mmap buffer: %w", err)
	}
	if err := unix.Madvise(mem, unix.MADV_DONTFORK); err != nil {
		logging.Default().Debug("madvise dontfork failed, continuing", "error", err)
	}
	return &Buffer{
		CPUAddr: uintptr(unsafe.Pointer(&mem[0])),
		Len:     uint32(len(mem)),
		IsVM:    true,
		Pages:   int(total / pageSize),
		mem:     mem,
	}, nil
}

// Release unmaps a Buffer's pages. Callers must deregister any provider
// MemHandle before calling Release.
func (b *Buffer) Release() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}
