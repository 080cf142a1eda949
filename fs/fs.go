// Package fs implements the operation handlers that a userspace-filesystem
// bridge dispatches into: attribute queries, directory listing, create,
// delete, rename, read, write, truncate, timestamp updates, and statfs.
// Each handler composes the blockdev/bitmap/inode/directory/pathresolve
// layers and returns an *fserrors.Error on failure.
//
// Grounded on dargueta/disko/file_systems/unixv1's ReadingDriver (the
// subset of handlers it implements: mount, getattr, readdir, path lookup,
// inode allocation) and FormattingDriver, generalized to the full handler
// set that source leaves as stubs (mknod, mkdir, unlink, rmdir, rename,
// read, write, truncate are new code built from the on-disk layout's own
// allocation and traversal invariants).
package fs

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Lunatic0123/blockfs/directory"
	"github.com/Lunatic0123/blockfs/fserrors"
	"github.com/Lunatic0123/blockfs/inode"
	"github.com/Lunatic0123/blockfs/pathresolve"
	"github.com/Lunatic0123/blockfs/superblock"
)

// Clock returns the current time as whole seconds since the epoch. Tests
// substitute a deterministic clock; production wires time.Now.
type Clock func() uint32

func RealClock() uint32 {
	return uint32(time.Now().Unix())
}

// Handlers holds everything one mounted image's operation table needs. It
// is passed explicitly instead of hiding behind package-level globals, so a
// test harness can mount more than one image at a time.
type Handlers struct {
	fsys     *superblock.Filesystem
	dirs     *directory.Store
	resolver *pathresolve.Resolver
	now      Clock
}

// New builds a handler set over an already-mounted (or freshly formatted)
// filesystem.
func New(fsys *superblock.Filesystem, now Clock) *Handlers {
	if now == nil {
		now = RealClock
	}
	dirs := directory.New(fsys.Device, fsys.Pointers)
	resolver := pathresolve.New(fsys.Inodes, dirs)
	return &Handlers{fsys: fsys, dirs: dirs, resolver: resolver, now: now}
}

func (h *Handlers) blockSize() uint32 {
	return h.fsys.Device.BlockSize()
}

// Getattr resolves path and fills a stat-shaped result.
func (h *Handlers) Getattr(path string) (Stat, error) {
	inodeNum, err := h.resolver.Resolve(path)
	if err != nil {
		return Stat{}, err
	}
	rec, err := h.fsys.Inodes.Read(inodeNum)
	if err != nil {
		return Stat{}, err
	}
	return statFromInode(rec, h.blockSize()), nil
}

// Readdir resolves to a directory inode and emits "." and "..", then every
// in-use entry via visit. visit returning true stops the walk early (the
// bridge's filler reported its buffer full); this is still reported as
// success.
func (h *Handlers) Readdir(path string, visit func(DirEntry) (stop bool)) error {
	dirInode, err := h.resolver.Resolve(path)
	if err != nil {
		return err
	}
	rec, err := h.fsys.Inodes.Read(dirInode)
	if err != nil {
		return err
	}
	if !rec.IsDir() {
		return fserrors.New(fserrors.NotFound).WithMessage("%q is not a directory", path)
	}

	if visit(DirEntry{Name: ".", InodeNum: dirInode, IsDir: true}) {
		return h.bumpAtime(dirInode, rec)
	}
	parent, _, parentErr := h.resolver.ResolveParent(path)
	if parentErr != nil {
		parent = dirInode // root has no parent; ".." loops to itself
	}
	if visit(DirEntry{Name: "..", InodeNum: parent, IsDir: true}) {
		return h.bumpAtime(dirInode, rec)
	}

	err = h.dirs.Scan(dirInode, &rec, func(e directory.Entry) bool {
		child, readErr := h.fsys.Inodes.Read(e.InodeNum)
		isDir := readErr == nil && child.IsDir()
		return visit(DirEntry{Name: e.Name, InodeNum: e.InodeNum, IsDir: isDir})
	})
	if err != nil {
		return err
	}
	return h.bumpAtime(dirInode, rec)
}

func (h *Handlers) bumpAtime(inodeNum uint32, rec inode.RawInode) error {
	rec.Atime = h.now()
	return h.fsys.Inodes.Write(inodeNum, rec)
}

// create is shared by Mknod and Mkdir: split path, confirm the name is
// free, allocate and initialize a new inode, link it into the parent, and
// roll back the inode allocation if linking fails.
func (h *Handlers) create(path string, mode uint32, isDir bool) (uint32, error) {
	parentNum, basename, err := h.resolver.ResolveParent(path)
	if err != nil {
		return 0, err
	}
	parentRec, err := h.fsys.Inodes.Read(parentNum)
	if err != nil {
		return 0, err
	}
	if !parentRec.IsDir() {
		return 0, fserrors.New(fserrors.NotFound).WithMessage("parent of %q is not a directory", path)
	}

	if _, err := h.dirs.Lookup(parentNum, &parentRec, basename); err == nil {
		return 0, fserrors.New(fserrors.AlreadyExists).WithMessage("%q already exists", path)
	}

	slot, err := h.fsys.InodeBmp.Allocate()
	if err != nil {
		return 0, err
	}

	now := h.now()
	typeBits := inode.ModeRegular
	if isDir {
		typeBits = inode.ModeDir
	}
	rec := inode.RawInode{
		Mode:  typeBits | (mode & inode.ModePermMask),
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	if err := h.fsys.Inodes.Write(slot, rec); err != nil {
		_ = h.fsys.InodeBmp.Free(slot)
		return 0, err
	}

	if err := h.dirs.Insert(parentNum, &parentRec, basename, slot); err != nil {
		// Roll back the inode allocation: a failed entry insert after a
		// successful inode allocation must free the inode.
		if freeErr := h.fsys.InodeBmp.Free(slot); freeErr != nil {
			return 0, multierror.Append(err, freeErr)
		}
		return 0, err
	}

	parentRec.Mtime = now
	parentRec.Ctime = now
	if err := h.fsys.Inodes.Write(parentNum, parentRec); err != nil {
		return 0, err
	}
	return slot, nil
}

// Mknod creates a new regular file.
func (h *Handlers) Mknod(path string, mode uint32) error {
	_, err := h.create(path, mode, false)
	return err
}

// Mkdir creates a new, empty directory.
func (h *Handlers) Mkdir(path string, mode uint32) error {
	_, err := h.create(path, mode, true)
	return err
}

// freeAllDataBlocks releases every data block (direct, indirect, and the
// indirect blocks themselves) referenced by an inode; this is a stub in the
// teacher's source (free_all_data_blocks), implemented here in full. Errors
// from individual frees are aggregated rather than abandoning the sweep
// partway.
func (h *Handlers) freeAllDataBlocks(rec inode.RawInode) error {
	var errs error
	for _, block := range rec.Direct {
		if block == 0 {
			continue
		}
		if err := h.fsys.Pointers.FreeBlock(block); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, indirectBlock := range rec.Indirect {
		if indirectBlock == 0 {
			continue
		}
		entries, err := h.fsys.Pointers.IndirectBlockEntries(indirectBlock)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		for _, block := range entries {
			if block == 0 {
				continue
			}
			if err := h.fsys.Pointers.FreeBlock(block); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		if err := h.fsys.Pointers.FreeBlock(indirectBlock); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

// remove is shared by Unlink and Rmdir: unlink the entry from the parent
// first, then free the child's content blocks, then its inode -- the
// reverse of create order, so a crash mid-way leaks allocation rather than
// leaving a reachable entry pointing at freed space.
func (h *Handlers) remove(path string, requireDir bool, requireEmpty bool) error {
	parentNum, basename, err := h.resolver.ResolveParent(path)
	if err != nil {
		return err
	}
	parentRec, err := h.fsys.Inodes.Read(parentNum)
	if err != nil {
		return err
	}

	childNum, err := h.dirs.Lookup(parentNum, &parentRec, basename)
	if err != nil {
		return err
	}
	childRec, err := h.fsys.Inodes.Read(childNum)
	if err != nil {
		return err
	}
	if requireDir && !childRec.IsDir() {
		return fserrors.New(fserrors.NotFound).WithMessage("%q is not a directory", path)
	}
	if !requireDir && childRec.IsDir() {
		return fserrors.New(fserrors.NotFound).WithMessage("%q is a directory", path)
	}
	if requireEmpty {
		empty := true
		if err := h.dirs.Scan(childNum, &childRec, func(directory.Entry) bool {
			empty = false
			return true
		}); err != nil {
			return err
		}
		if !empty {
			return fserrors.New(fserrors.NotEmpty).WithMessage("%q is not empty", path)
		}
	}

	if err := h.dirs.Remove(parentNum, &parentRec, basename); err != nil {
		return err
	}
	if err := h.freeAllDataBlocks(childRec); err != nil {
		return err
	}
	if err := h.fsys.InodeBmp.Free(childNum); err != nil {
		return err
	}

	now := h.now()
	parentRec.Mtime = now
	parentRec.Ctime = now
	return h.fsys.Inodes.Write(parentNum, parentRec)
}

// Unlink removes a regular file. The bridge guarantees the target is not a
// directory.
func (h *Handlers) Unlink(path string) error {
	return h.remove(path, false, false)
}

// Rmdir removes an empty directory. The bridge guarantees it is empty; the
// root is never passed here.
func (h *Handlers) Rmdir(path string) error {
	return h.remove(path, true, true)
}

// Rename moves oldPath to newPath, overwriting an existing target (a regular
// file or an empty directory) and failing on a non-empty directory target.
func (h *Handlers) Rename(oldPath, newPath string) error {
	oldParent, oldName, err := h.resolver.ResolveParent(oldPath)
	if err != nil {
		return err
	}
	newParent, newName, err := h.resolver.ResolveParent(newPath)
	if err != nil {
		return err
	}
	if oldParent == newParent && oldName == newName {
		return nil
	}

	oldParentRec, err := h.fsys.Inodes.Read(oldParent)
	if err != nil {
		return err
	}
	childNum, err := h.dirs.Lookup(oldParent, &oldParentRec, oldName)
	if err != nil {
		return err
	}

	newParentRec, err := h.fsys.Inodes.Read(newParent)
	if err != nil {
		return err
	}
	if existing, err := h.dirs.Lookup(newParent, &newParentRec, newName); err == nil {
		existingRec, err := h.fsys.Inodes.Read(existing)
		if err != nil {
			return err
		}
		if existingRec.IsDir() {
			empty := true
			if err := h.dirs.Scan(existing, &existingRec, func(directory.Entry) bool {
				empty = false
				return true
			}); err != nil {
				return err
			}
			if !empty {
				return fserrors.New(fserrors.NotEmpty).WithMessage("%q is not empty", newPath)
			}
		}
		if err := h.dirs.Remove(newParent, &newParentRec, newName); err != nil {
			return err
		}
		if err := h.freeAllDataBlocks(existingRec); err != nil {
			return err
		}
		if err := h.fsys.InodeBmp.Free(existing); err != nil {
			return err
		}
	}

	if err := h.dirs.Remove(oldParent, &oldParentRec, oldName); err != nil {
		return err
	}
	if err := h.dirs.Insert(newParent, &newParentRec, newName, childNum); err != nil {
		return err
	}

	now := h.now()
	oldParentRec.Mtime, oldParentRec.Ctime = now, now
	if err := h.fsys.Inodes.Write(oldParent, oldParentRec); err != nil {
		return err
	}
	newParentRec.Mtime, newParentRec.Ctime = now, now
	return h.fsys.Inodes.Write(newParent, newParentRec)
}

// Read resolves path, clamps the read window to the inode's size, and
// copies each file-relative block's overlapping window into buf. A hole
// (unallocated block) reads as zero bytes. Returns the number of bytes
// copied.
func (h *Handlers) Read(path string, buf []byte, offset uint64) (int, error) {
	inodeNum, err := h.resolver.Resolve(path)
	if err != nil {
		return 0, err
	}
	rec, err := h.fsys.Inodes.Read(inodeNum)
	if err != nil {
		return 0, err
	}

	size := uint64(rec.FileSize)
	if offset >= size {
		return 0, nil
	}
	end := offset + uint64(len(buf))
	if end > size {
		end = size
	}

	blockSize := uint64(h.blockSize())
	total := 0
	blockBuf := make([]byte, blockSize)
	for pos := offset; pos < end; {
		blockIndex := uint32(pos / blockSize)
		blockOffset := pos % blockSize
		chunk := blockSize - blockOffset
		if remaining := end - pos; chunk > remaining {
			chunk = remaining
		}

		absolute, err := h.fsys.Pointers.Resolve(inodeNum, &rec, blockIndex, false)
		if err != nil {
			return total, err
		}
		if absolute == 0 {
			for i := uint64(0); i < chunk; i++ {
				buf[total] = 0
				total++
			}
		} else {
			if err := h.fsys.Device.ReadBlock(absolute, blockBuf); err != nil {
				return total, err
			}
			copy(buf[total:total+int(chunk)], blockBuf[blockOffset:blockOffset+chunk])
			total += int(chunk)
		}
		pos += chunk
	}

	rec.Atime = h.now()
	if err := h.fsys.Inodes.Write(inodeNum, rec); err != nil {
		return total, err
	}
	return total, nil
}

// Write resolves path, ensures every block in range is allocated, performs
// read-modify-write on boundary blocks and whole writes on interior ones,
// and raises the inode size to max(old, end). A failure after allocation
// begins rolls back every block freshly allocated during this call
// (including new indirect blocks), clears the pointers to them, and restores
// the original size; errors from the rollback itself are discarded.
func (h *Handlers) Write(path string, buf []byte, offset uint64) (int, error) {
	inodeNum, err := h.resolver.Resolve(path)
	if err != nil {
		return 0, err
	}
	rec, err := h.fsys.Inodes.Read(inodeNum)
	if err != nil {
		return 0, err
	}

	end := offset + uint64(len(buf))
	if end > h.fsys.Pointers.MaxFileSize() {
		return 0, fserrors.New(fserrors.FileTooLarge).WithMessage(
			"write to offset %d of %d bytes exceeds maximum file size", offset, len(buf))
	}
	if len(buf) == 0 {
		return 0, nil
	}

	blockSize := uint64(h.blockSize())
	blockBuf := make([]byte, blockSize)
	var freshlyAllocated []uint32 // file-relative indices allocated by this call
	indirectBefore := rec.Indirect
	oldSize := rec.FileSize

	rollback := func() {
		for _, j := range freshlyAllocated {
			if absolute, _ := h.fsys.Pointers.Resolve(inodeNum, &rec, j, false); absolute != 0 {
				_ = h.fsys.Pointers.FreeBlock(absolute)
				_ = h.clearPointer(inodeNum, &rec, j)
			}
		}
		for group, before := range indirectBefore {
			if before == 0 && rec.Indirect[group] != 0 {
				_ = h.fsys.Pointers.FreeBlock(rec.Indirect[group])
				rec.Indirect[group] = 0
			}
		}
		rec.FileSize = oldSize
		_ = h.fsys.Inodes.Write(inodeNum, rec)
	}

	total := 0
	for pos := offset; pos < end; {
		blockIndex := uint32(pos / blockSize)
		blockOffset := pos % blockSize
		chunk := blockSize - blockOffset
		if remaining := end - pos; chunk > remaining {
			chunk = remaining
		}

		wasUnallocated := false
		if existing, _ := h.fsys.Pointers.Resolve(inodeNum, &rec, blockIndex, false); existing == 0 {
			wasUnallocated = true
		}

		absolute, err := h.fsys.Pointers.Resolve(inodeNum, &rec, blockIndex, true)
		if err != nil {
			rollback()
			return total, err
		}
		if wasUnallocated {
			freshlyAllocated = append(freshlyAllocated, blockIndex)
		}

		if chunk < blockSize {
			if err := h.fsys.Device.ReadBlock(absolute, blockBuf); err != nil {
				rollback()
				return total, err
			}
		}
		copy(blockBuf[blockOffset:blockOffset+chunk], buf[total:total+int(chunk)])
		if err := h.fsys.Device.WriteBlock(absolute, blockBuf[:blockSize]); err != nil {
			rollback()
			return total, err
		}

		total += int(chunk)
		pos += chunk
	}

	now := h.now()
	if end > uint64(rec.FileSize) {
		rec.FileSize = uint32(end)
	}
	rec.Mtime = now
	rec.Ctime = now
	if err := h.fsys.Inodes.Write(inodeNum, rec); err != nil {
		rollback()
		return total, err
	}
	return total, nil
}

// Truncate grows or shrinks a file to size, zero-filling freshly allocated
// blocks on growth and freeing every block strictly beyond the new size on
// shrink.
func (h *Handlers) Truncate(path string, size uint64) error {
	inodeNum, err := h.resolver.Resolve(path)
	if err != nil {
		return err
	}
	rec, err := h.fsys.Inodes.Read(inodeNum)
	if err != nil {
		return err
	}

	if size > uint64(rec.FileSize) {
		if size > h.fsys.Pointers.MaxFileSize() {
			return fserrors.New(fserrors.FileTooLarge).WithMessage(
				"truncate to %d exceeds maximum file size", size)
		}
		blockSize := uint64(h.blockSize())
		firstNew := rec.FileSize / uint32(blockSize)
		lastNew := uint32((size - 1) / blockSize)
		for j := firstNew; j <= lastNew; j++ {
			if _, err := h.fsys.Pointers.Resolve(inodeNum, &rec, j, true); err != nil {
				return err
			}
		}
	} else if size < uint64(rec.FileSize) {
		blockSize := uint32(h.blockSize())
		lastKept := uint32(0)
		if size > 0 {
			lastKept = uint32((size - 1) / uint64(blockSize))
		}
		oldLast := (rec.FileSize - 1) / blockSize
		start := lastKept + 1
		if size == 0 {
			start = 0
		}
		for j := start; j <= oldLast; j++ {
			absolute, err := h.fsys.Pointers.Resolve(inodeNum, &rec, j, false)
			if err != nil {
				return err
			}
			if absolute != 0 {
				if err := h.fsys.Pointers.FreeBlock(absolute); err != nil {
					return err
				}
				if err := h.clearPointer(inodeNum, &rec, j); err != nil {
					return err
				}
			}
		}

		// An indirect block whose entire group now falls beyond lastKept has
		// no live children left (size == 0 keeps nothing at all); free the
		// indirect block itself too, the same way freeAllDataBlocks does for
		// a full unlink.
		ptrsPerBlock := blockSize / 4
		for group := uint32(0); group < inode.NumIndirect; group++ {
			groupStart := inode.NumDirect + group*ptrsPerBlock
			if size > 0 && groupStart <= lastKept {
				continue
			}
			if rec.Indirect[group] == 0 {
				continue
			}
			if err := h.fsys.Pointers.FreeBlock(rec.Indirect[group]); err != nil {
				return err
			}
			rec.Indirect[group] = 0
		}
	}

	rec.FileSize = uint32(size)
	rec.Ctime = h.now()
	return h.fsys.Inodes.Write(inodeNum, rec)
}

// clearPointer zeroes the pointer slot for file-relative block j after its
// target has been freed, so a subsequent Resolve sees a hole rather than a
// dangling reference.
func (h *Handlers) clearPointer(inodeNum uint32, rec *inode.RawInode, j uint32) error {
	if j < inode.NumDirect {
		rec.Direct[j] = 0
		return h.fsys.Inodes.Write(inodeNum, *rec)
	}
	ptrsPerBlock := h.blockSize() / 4
	jPrime := j - inode.NumDirect
	group := jPrime / ptrsPerBlock
	slot := jPrime % ptrsPerBlock
	indirectBlock := rec.Indirect[group]
	if indirectBlock == 0 {
		return nil
	}
	return h.fsys.Pointers.ClearIndirectEntry(indirectBlock, slot)
}

// Utimens sets the access and modification times from caller-supplied
// values and bumps metadata-change time.
func (h *Handlers) Utimens(path string, atime, mtime uint32) error {
	inodeNum, err := h.resolver.Resolve(path)
	if err != nil {
		return err
	}
	rec, err := h.fsys.Inodes.Read(inodeNum)
	if err != nil {
		return err
	}
	rec.Atime = atime
	rec.Mtime = mtime
	rec.Ctime = h.now()
	return h.fsys.Inodes.Write(inodeNum, rec)
}

// Statfs fills bytes-per-block, total/free data-block and inode counts,
// and the filename length limit.
func (h *Handlers) Statfs() (StatfsResult, error) {
	return StatfsResult{
		BlockSize:   h.blockSize(),
		TotalBlocks: h.fsys.Super.DataBlockCount,
		FreeBlocks:  h.fsys.DataBmp.FreeCount(),
		TotalInodes: h.fsys.Super.InodeCount,
		FreeInodes:  h.fsys.InodeBmp.FreeCount(),
		MaxNameLen:  directory.MaxNameLen,
	}, nil
}

// Open, Release, Opendir, and Releasedir keep no persistent state: this
// design re-resolves the path on every operation instead of maintaining an
// open-file table, so these are no-ops.
func (h *Handlers) Open(path string) error       { return nil }
func (h *Handlers) Release(path string) error    { return nil }
func (h *Handlers) Opendir(path string) error    { return nil }
func (h *Handlers) Releasedir(path string) error { return nil }
