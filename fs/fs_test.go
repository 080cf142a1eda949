package fs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/Lunatic0123/blockfs/blockdev"
	blockfs "github.com/Lunatic0123/blockfs/fs"
	"github.com/Lunatic0123/blockfs/superblock"
)

const testBlockSize = 4096

func newHandlers(t *testing.T, totalBlocks int, inodeCount uint32) *blockfs.Handlers {
	t.Helper()
	backing := make([]byte, totalBlocks*testBlockSize)
	stream := bytesextra.NewReadWriteSeeker(backing)
	dev := blockdev.New(stream, testBlockSize, uint32(totalBlocks))

	fsys, err := superblock.Format(dev, inodeCount)
	require.NoError(t, err)

	tick := uint32(1000)
	clock := func() uint32 {
		tick++
		return tick
	}
	return blockfs.New(fsys, clock)
}

func TestBasicCreateWriteReadScenario(t *testing.T) {
	h := newHandlers(t, 64, 32)

	require.NoError(t, h.Mkdir("/a", 0755))
	require.NoError(t, h.Mkdir("/a/b", 0755))
	require.NoError(t, h.Mknod("/a/b/c", 0644))

	n, err := h.Write("/a/b/c", []byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = h.Read("/a/b/c", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))

	stat, err := h.Getattr("/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stat.Size)
}

func TestWriteSpanningTwoDirectBlocks(t *testing.T) {
	h := newHandlers(t, 64, 32)
	require.NoError(t, h.Mknod("/f", 0644))

	payload := make([]byte, 4100)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	n, err := h.Write("/f", payload, 0)
	require.NoError(t, err)
	assert.Equal(t, 4100, n)

	buf := make([]byte, 10)
	n, err = h.Read("/f", buf, 4090)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, payload[4090:4100], buf)
}

func TestWriteAtFirstIndirectOffset(t *testing.T) {
	h := newHandlers(t, 2048, 32)
	require.NoError(t, h.Mknod("/f", 0644))

	offset := uint64(12 * testBlockSize)
	n, err := h.Write("/f", []byte{0xAB}, offset)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	buf := make([]byte, 1)
	_, err = h.Read("/f", buf, offset)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), buf[0])
}

func TestDirectoryGrowsWithinSingleBlockForThirteenEntries(t *testing.T) {
	h := newHandlers(t, 64, 64)

	for i := 0; i < 13; i++ {
		name := string(rune('a' + i))
		require.NoError(t, h.Mknod("/"+name, 0644))
	}

	stat, err := h.Getattr("/")
	require.NoError(t, err)
	assert.Equal(t, uint64(13*30), stat.Size)

	names := map[string]bool{}
	err = h.Readdir("/", func(e blockfs.DirEntry) bool {
		names[e.Name] = true
		return false
	})
	require.NoError(t, err)
	assert.True(t, names["."])
	assert.True(t, names[".."])
	assert.Len(t, names, 15)
}

func TestUnlinkFreesBlocksAndInode(t *testing.T) {
	h := newHandlers(t, 64, 32)
	require.NoError(t, h.Mknod("/f", 0644))
	_, err := h.Write("/f", make([]byte, 100), 0)
	require.NoError(t, err)

	statBefore, err := h.Statfs()
	require.NoError(t, err)

	require.NoError(t, h.Unlink("/f"))

	statAfter, err := h.Statfs()
	require.NoError(t, err)
	assert.Equal(t, statBefore.FreeInodes+1, statAfter.FreeInodes)
	assert.Equal(t, statBefore.FreeBlocks+1, statAfter.FreeBlocks)

	_, err = h.Getattr("/f")
	assert.Error(t, err)
}

func TestTruncateGrowAndShrink(t *testing.T) {
	h := newHandlers(t, 64, 32)
	require.NoError(t, h.Mknod("/f", 0644))

	require.NoError(t, h.Truncate("/f", 10))
	stat, err := h.Getattr("/f")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), stat.Size)

	_, err = h.Write("/f", []byte("0123456789"), 0)
	require.NoError(t, err)

	require.NoError(t, h.Truncate("/f", 3))
	stat, err = h.Getattr("/f")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stat.Size)

	buf := make([]byte, 3)
	n, err := h.Read("/f", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "012", string(buf))
}

func TestRenameOntoExistingEmptyDirSucceeds(t *testing.T) {
	h := newHandlers(t, 64, 32)
	require.NoError(t, h.Mkdir("/src", 0755))
	require.NoError(t, h.Mkdir("/dst", 0755))

	require.NoError(t, h.Rename("/src", "/dst"))

	_, err := h.Getattr("/src")
	assert.Error(t, err)
	stat, err := h.Getattr("/dst")
	require.NoError(t, err)
	assert.True(t, stat.Mode != 0)
}

func TestRenameOntoNonEmptyDirFails(t *testing.T) {
	h := newHandlers(t, 64, 32)
	require.NoError(t, h.Mkdir("/src", 0755))
	require.NoError(t, h.Mkdir("/dst", 0755))
	require.NoError(t, h.Mknod("/dst/child", 0644))

	err := h.Rename("/src", "/dst")
	assert.Error(t, err)
}

func TestReadPastEOFReturnsZero(t *testing.T) {
	h := newHandlers(t, 64, 32)
	require.NoError(t, h.Mknod("/f", 0644))
	_, err := h.Write("/f", []byte("hi"), 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := h.Read("/f", buf, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWriteBeyondMaxFileSizeFails(t *testing.T) {
	h := newHandlers(t, 64, 32)
	require.NoError(t, h.Mknod("/f", 0644))

	huge := uint64(1) << 40
	_, err := h.Write("/f", []byte{1}, huge)
	assert.Error(t, err)
}

func TestMknodDuplicateNameFails(t *testing.T) {
	h := newHandlers(t, 64, 32)
	require.NoError(t, h.Mknod("/f", 0644))
	err := h.Mknod("/f", 0644)
	assert.Error(t, err)
}

func TestRmdirNonEmptyFails(t *testing.T) {
	h := newHandlers(t, 64, 32)
	require.NoError(t, h.Mkdir("/a", 0755))
	require.NoError(t, h.Mknod("/a/child", 0644))

	err := h.Rmdir("/a")
	assert.Error(t, err)
}
