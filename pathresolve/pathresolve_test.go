package pathresolve_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/Lunatic0123/blockfs/blockdev"
	"github.com/Lunatic0123/blockfs/directory"
	"github.com/Lunatic0123/blockfs/inode"
	"github.com/Lunatic0123/blockfs/pathresolve"
	"github.com/Lunatic0123/blockfs/superblock"
)

const testBlockSize = 4096

type fixture struct {
	resolver *pathresolve.Resolver
	dirs     *directory.Store
	inodes   *inode.Table
	fsys     *superblock.Filesystem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backing := make([]byte, 128*testBlockSize)
	stream := bytesextra.NewReadWriteSeeker(backing)
	dev := blockdev.New(stream, testBlockSize, 128)

	fsys, err := superblock.Format(dev, 32)
	require.NoError(t, err)

	dirs := directory.New(dev, fsys.Pointers)
	resolver := pathresolve.New(fsys.Inodes, dirs)
	return &fixture{resolver: resolver, dirs: dirs, inodes: fsys.Inodes, fsys: fsys}
}

// mkdir creates a child directory named name under parent, returning its
// inode number. It mirrors just enough of the fs package's mkdir handler
// to exercise path resolution in isolation.
func (f *fixture) mkdir(t *testing.T, parent uint32, name string) uint32 {
	t.Helper()
	slot, err := f.fsys.InodeBmp.Allocate()
	require.NoError(t, err)

	child := inode.RawInode{Mode: inode.ModeDir}
	require.NoError(t, f.inodes.Write(slot, child))

	parentRec, err := f.inodes.Read(parent)
	require.NoError(t, err)
	require.NoError(t, f.dirs.Insert(parent, &parentRec, name, slot))
	require.NoError(t, f.inodes.Write(parent, parentRec))
	return slot
}

func TestResolveRootPath(t *testing.T) {
	f := newFixture(t)
	got, err := f.resolver.Resolve("/")
	require.NoError(t, err)
	assert.Equal(t, uint32(superblock.RootInode), got)
}

func TestResolveMultiComponentPath(t *testing.T) {
	f := newFixture(t)
	a := f.mkdir(t, superblock.RootInode, "a")
	b := f.mkdir(t, a, "b")

	got, err := f.resolver.Resolve("/a/b")
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestResolveMissingComponentIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Resolve("/nope")
	assert.Error(t, err)
}

func TestResolveThroughNonDirectoryIsNotFound(t *testing.T) {
	f := newFixture(t)
	root, err := f.inodes.Read(superblock.RootInode)
	require.NoError(t, err)

	slot, err := f.fsys.InodeBmp.Allocate()
	require.NoError(t, err)
	require.NoError(t, f.inodes.Write(slot, inode.RawInode{Mode: inode.ModeRegular}))
	require.NoError(t, f.dirs.Insert(superblock.RootInode, &root, "file", slot))
	require.NoError(t, f.inodes.Write(superblock.RootInode, root))

	_, err = f.resolver.Resolve("/file/impossible")
	assert.Error(t, err)
}

func TestResolveRejectsRelativePath(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Resolve("relative")
	assert.Error(t, err)
}

func TestResolveParentSplitsBasename(t *testing.T) {
	f := newFixture(t)
	a := f.mkdir(t, superblock.RootInode, "a")

	parent, basename, err := f.resolver.ResolveParent("/a/newfile")
	require.NoError(t, err)
	assert.Equal(t, a, parent)
	assert.Equal(t, "newfile", basename)
}

func TestResolveParentAtRoot(t *testing.T) {
	f := newFixture(t)
	parent, basename, err := f.resolver.ResolveParent("/newfile")
	require.NoError(t, err)
	assert.Equal(t, uint32(superblock.RootInode), parent)
	assert.Equal(t, "newfile", basename)
}
