package membuf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocQueueBufRoundsEntryCountUpToPow2(t *testing.T) {
	qb, err := AllocQueueBuf(100, 16, 4096, false)
	require.NoError(t, err)
	defer qb.Release()

	require.Equal(t, uint32(128), qb.EntryCount)
	require.Equal(t, uint32(127), qb.EntryMask)
}

func TestQueueBufEntryMasksIndex(t *testing.T) {
	qb, err := AllocQueueBuf(4, 8, 4096, false)
	require.NoError(t, err)
	defer qb.Release()

	e0 := qb.Entry(0)
	e4 := qb.Entry(4) // wraps to index 0 since entry count rounds to 4
	require.Equal(t, len(e0), len(e4))
}

func TestAllocAnonPagesRoundTrip(t *testing.T) {
	buf, err := AllocAnonPages(100, 4096)
	require.NoError(t, err)
	defer buf.Release()

	require.Equal(t, uint32(4096), buf.Len)
	require.True(t, buf.IsVM)
	buf.Bytes()[0] = 0xAB
	require.Equal(t, byte(0xAB), buf.Bytes()[0])
}

func TestSegmentRegistryReadWrite(t *testing.T) {
	reg := NewSegmentRegistry()
	data := make([]byte, 256*1024)
	h := reg.Register(data)

	n, err := reg.WriteAt(h, []byte("hello"), 10)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	out := make([]byte, 5)
	n, err = reg.ReadAt(h, out, 10)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(out))

	require.NoError(t, reg.Deregister(h))
	_, err = reg.ReadAt(h, out, 10)
	require.Error(t, err)
}

func TestIncPtrWrapWrapsAtBufSize(t *testing.T) {
	base := uintptr(0x1000)
	bufSize := uintptr(64)
	old := base + 60
	got := IncPtrWrap(base, old, 10, bufSize)
	require.Equal(t, base+6, got)
}
