// Package directory scans, inserts into, and removes from the packed array
// of fixed-size name/inode-number entries that make up a directory's data.
//
// Grounded on dargueta/disko/drivers/unixv1.RawDirent and
// file_systems/unixv1.DirectoryEntry, widened from an 8-byte name field to
// a 26-byte field, and extended with insertion and removal, which
// dargueta/disko leaves as unimplemented stubs (add_dir_entry is a stub in
// that source).
package directory

import (
	"bytes"
	"encoding/binary"

	"github.com/Lunatic0123/blockfs/blockdev"
	"github.com/Lunatic0123/blockfs/fserrors"
	"github.com/Lunatic0123/blockfs/inode"
)

const (
	// NameFieldSize is F, the width in bytes of the null-padded name field.
	NameFieldSize = 26
	// MaxNameLen is the user-visible filename length limit: F-2, leaving
	// room for a null terminator plus one reserved byte.
	MaxNameLen = 24
	// EntrySize is the packed size of one directory entry: name[26] + inode
	// number (4) = 30 bytes.
	EntrySize = NameFieldSize + 4
)

// Entry is one name/inode-number pair. InodeNum == 0 marks a free slot.
type Entry struct {
	Name     string
	InodeNum uint32
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, EntrySize)
	copy(buf[:NameFieldSize], e.Name)
	binary.LittleEndian.PutUint32(buf[NameFieldSize:], e.InodeNum)
	return buf
}

func decodeEntry(data []byte) Entry {
	nul := bytes.IndexByte(data[:NameFieldSize], 0)
	if nul < 0 {
		nul = NameFieldSize
	}
	return Entry{
		Name:     string(data[:nul]),
		InodeNum: binary.LittleEndian.Uint32(data[NameFieldSize:]),
	}
}

// Store provides directory content operations on top of the inode/block
// layer. It holds no per-directory state; every call is given the
// directory's inode number and current record explicitly, so callers can
// batch multiple operations against the same in-memory record before
// writing it back once.
type Store struct {
	device   blockdev.Device
	resolver *inode.PointerResolver
}

func New(device blockdev.Device, resolver *inode.PointerResolver) *Store {
	return &Store{device: device, resolver: resolver}
}

func (s *Store) entriesPerBlock() uint32 {
	return s.device.BlockSize() / EntrySize
}

// blockCountForSize returns the number of directory data blocks that host
// size's worth of entry slots. size is the monotonic count of slots that
// have ever been used, times EntrySize; since EntrySize does not evenly
// divide the block size, blocks are addressed by whole entry slots rather
// than by raw byte offset, so this divides by entries-per-block rather
// than by block size directly.
func (s *Store) blockCountForSize(size uint32) uint32 {
	slots := size / EntrySize
	perBlock := s.entriesPerBlock()
	return (slots + perBlock - 1) / perBlock
}

// Scan visits every in-use entry (nonzero inode number) across the
// directory's data blocks, in storage order. A directory block that
// resolves to index 0 (never allocated) is treated as entirely free,
// supporting sparse growth. visit returning true stops the scan early.
func (s *Store) Scan(inodeNum uint32, rec *inode.RawInode, visit func(Entry) (stop bool)) error {
	numBlocks := s.blockCountForSize(rec.FileSize)
	perBlock := s.entriesPerBlock()
	buf := make([]byte, s.device.BlockSize())

	for b := uint32(0); b < numBlocks; b++ {
		absolute, err := s.resolver.Resolve(inodeNum, rec, b, false)
		if err != nil {
			return err
		}
		if absolute == 0 {
			continue
		}
		if err := s.device.ReadBlock(absolute, buf); err != nil {
			return err
		}
		for i := uint32(0); i < perBlock; i++ {
			entry := decodeEntry(buf[i*EntrySize : (i+1)*EntrySize])
			if entry.InodeNum == 0 {
				continue
			}
			if visit(entry) {
				return nil
			}
		}
	}
	return nil
}

// Lookup returns the inode number of the entry named name, or
// fserrors.NotFound if no such entry exists.
func (s *Store) Lookup(inodeNum uint32, rec *inode.RawInode, name string) (uint32, error) {
	var found uint32
	err := s.Scan(inodeNum, rec, func(e Entry) bool {
		if e.Name == name {
			found = e.InodeNum
			return true
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, fserrors.New(fserrors.NotFound).WithMessage("no entry named %q", name)
	}
	return found, nil
}

// Insert adds (name, child) to the directory. It first looks for a free
// slot among existing blocks; failing that, it allocates a new block and
// writes the entry at slot 0. Either way rec.FileSize is raised to the
// high-water mark of used slots (it never shrinks); the caller persists rec.
func (s *Store) Insert(inodeNum uint32, rec *inode.RawInode, name string, child uint32) error {
	if len(name) == 0 || len(name) > MaxNameLen {
		return fserrors.New(fserrors.NameTooLong).WithMessage(
			"name %q exceeds %d bytes", name, MaxNameLen)
	}

	exists := false
	_ = s.Scan(inodeNum, rec, func(e Entry) bool {
		if e.Name == name {
			exists = true
			return true
		}
		return false
	})
	if exists {
		return fserrors.New(fserrors.AlreadyExists).WithMessage("entry %q already exists", name)
	}

	numBlocks := s.blockCountForSize(rec.FileSize)
	perBlock := s.entriesPerBlock()
	buf := make([]byte, s.device.BlockSize())

	for b := uint32(0); b < numBlocks; b++ {
		absolute, err := s.resolver.Resolve(inodeNum, rec, b, false)
		if err != nil {
			return err
		}
		if absolute == 0 {
			continue
		}
		if err := s.device.ReadBlock(absolute, buf); err != nil {
			return err
		}
		for i := uint32(0); i < perBlock; i++ {
			entry := decodeEntry(buf[i*EntrySize : (i+1)*EntrySize])
			if entry.InodeNum != 0 {
				continue
			}
			copy(buf[i*EntrySize:(i+1)*EntrySize], encodeEntry(Entry{Name: name, InodeNum: child}))
			if err := s.device.WriteBlock(absolute, buf); err != nil {
				return err
			}
			// Keep size at the high-water mark of slots ever used.
			if highWater := (b*perBlock + i + 1) * EntrySize; highWater > rec.FileSize {
				rec.FileSize = highWater
			}
			return nil
		}
	}

	// No free slot in any existing block: grow the directory by one block.
	absolute, err := s.resolver.Resolve(inodeNum, rec, numBlocks, true)
	if err != nil {
		return err
	}
	if err := s.device.ReadBlock(absolute, buf); err != nil {
		return err
	}
	copy(buf[:EntrySize], encodeEntry(Entry{Name: name, InodeNum: child}))
	if err := s.device.WriteBlock(absolute, buf); err != nil {
		return err
	}

	// The new entry occupies slot 0 of the block at relative index numBlocks,
	// so the high-water slot count is (numBlocks*perBlock)+1, not the old
	// size plus one entry: blockCountForSize addresses whole entries-per-
	// block groups, and a size that merely adds EntrySize can land inside
	// an already-counted block once slack from a prior growth accumulates,
	// hiding the entry just written.
	rec.FileSize = (numBlocks*perBlock + 1) * EntrySize
	return nil
}

// Remove zeroes the inode number of the entry named name, freeing the slot
// for reuse. It does not shrink rec.FileSize; directory compaction is not
// required.
func (s *Store) Remove(inodeNum uint32, rec *inode.RawInode, name string) error {
	numBlocks := s.blockCountForSize(rec.FileSize)
	perBlock := s.entriesPerBlock()
	buf := make([]byte, s.device.BlockSize())

	for b := uint32(0); b < numBlocks; b++ {
		absolute, err := s.resolver.Resolve(inodeNum, rec, b, false)
		if err != nil {
			return err
		}
		if absolute == 0 {
			continue
		}
		if err := s.device.ReadBlock(absolute, buf); err != nil {
			return err
		}
		for i := uint32(0); i < perBlock; i++ {
			entry := decodeEntry(buf[i*EntrySize : (i+1)*EntrySize])
			if entry.InodeNum == 0 || entry.Name != name {
				continue
			}
			binary.LittleEndian.PutUint32(buf[i*EntrySize+NameFieldSize:], 0)
			return s.device.WriteBlock(absolute, buf)
		}
	}
	return fserrors.New(fserrors.NotFound).WithMessage("no entry named %q", name)
}
