package superblock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/Lunatic0123/blockfs/blockdev"
	"github.com/Lunatic0123/blockfs/superblock"
)

const testBlockSize = 4096

func newDevice(t *testing.T, blocks int) blockdev.Device {
	t.Helper()
	backing := make([]byte, blocks*testBlockSize)
	stream := bytesextra.NewReadWriteSeeker(backing)
	return blockdev.New(stream, testBlockSize, uint32(blocks))
}

func TestFormatInitializesRootDirectory(t *testing.T) {
	dev := newDevice(t, 64)
	fsys, err := superblock.Format(dev, 32)
	require.NoError(t, err)

	root, err := fsys.Inodes.Read(superblock.RootInode)
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.Zero(t, root.FileSize)
	assert.True(t, fsys.InodeBmp.IsSet(superblock.RootInode))
}

func TestFormatThenMountSeesSameLayout(t *testing.T) {
	dev := newDevice(t, 64)
	formatted, err := superblock.Format(dev, 32)
	require.NoError(t, err)

	mounted, err := superblock.Mount(dev)
	require.NoError(t, err)

	assert.Equal(t, formatted.Super, mounted.Super)
	root, err := mounted.Inodes.Read(superblock.RootInode)
	require.NoError(t, err)
	assert.True(t, root.IsDir())
}

func TestMountUnformattedDeviceFails(t *testing.T) {
	dev := newDevice(t, 8)
	_, err := superblock.Mount(dev)
	assert.Error(t, err)
}

func TestFormatRejectsTooFewBlocksForInodeCount(t *testing.T) {
	dev := newDevice(t, 4)
	_, err := superblock.Format(dev, 1<<20)
	assert.Error(t, err)
}

func TestFormattedPointerResolverUsesFirstDataBlock(t *testing.T) {
	dev := newDevice(t, 64)
	fsys, err := superblock.Format(dev, 32)
	require.NoError(t, err)

	root, err := fsys.Inodes.Read(superblock.RootInode)
	require.NoError(t, err)

	block, err := fsys.Pointers.Resolve(superblock.RootInode, &root, 0, true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, block, fsys.Super.FirstDataBlock)
}
