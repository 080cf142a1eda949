// Package inode implements the fixed-size inode record, the inode table
// that stores an array of them in a contiguous block range, and the block
// pointer traversal (direct + singly-indirect) that maps a file-relative
// block index to an absolute data-block index.
//
// Grounded on dargueta/disko/file_systems/unixv1.RawInode /
// BytesToInode / InodeToRawInode, extended with the two indirect pointers
// the Unix v1 format never had (this layout adds Unix-v6-style single
// indirection on top of Unix v1's simpler direct-only layout).
package inode

import (
	"bytes"
	"encoding/binary"

	"github.com/Lunatic0123/blockfs/blockdev"
	"github.com/Lunatic0123/blockfs/fserrors"
)

const (
	// NumDirect is D, the number of direct block pointers per inode.
	NumDirect = 12
	// NumIndirect is K, the number of singly-indirect block pointers per
	// inode.
	NumIndirect = 2
	// Size is the packed on-disk size of a RawInode, in bytes. The sum of
	// its named fields is 76 bytes; 4 bytes of reserved padding bring the
	// record to the 80-byte width fixed by the on-disk format.
	Size = 80

	ModeDir      uint32 = 0x4000
	ModeRegular  uint32 = 0x8000
	ModeTypeMask uint32 = 0xF000
	ModePermMask uint32 = 0x0FFF
)

// RawInode is the packed, little-endian, fixed-size on-disk inode record.
type RawInode struct {
	FileSize uint32
	Atime    uint32
	Mtime    uint32
	Ctime    uint32
	Mode     uint32
	Direct   [NumDirect]uint32
	Indirect [NumIndirect]uint32
	_        uint32 // reserved, always zero
}

// IsDir reports whether the inode's mode marks it as a directory.
func (r *RawInode) IsDir() bool {
	return r.Mode&ModeTypeMask == ModeDir
}

// IsRegular reports whether the inode's mode marks it as a regular file.
func (r *RawInode) IsRegular() bool {
	return r.Mode&ModeTypeMask == ModeRegular
}

// Encode serializes the inode to its 80-byte on-disk representation.
func (r *RawInode) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, Size))
	_ = binary.Write(buf, binary.LittleEndian, r)
	return buf.Bytes()
}

// Decode parses an 80-byte on-disk record into a RawInode.
func Decode(data []byte) (RawInode, error) {
	if len(data) != Size {
		return RawInode{}, fserrors.New(fserrors.IO).WithMessage(
			"inode record must be %d bytes, got %d", Size, len(data))
	}
	var r RawInode
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &r); err != nil {
		return RawInode{}, fserrors.New(fserrors.IO).WithMessage("decoding inode: %s", err)
	}
	return r, nil
}

// Table gives random access to the array of fixed-size inode records
// persisted in a contiguous block range, grounded on
// dargueta/disko/file_systems/unixv1's "read inode(n): compute block =
// inode_table_start + n/(B/S)" algorithm.
type Table struct {
	device         blockdev.Device
	startBlock     uint32
	inodesPerBlock uint32
	count          uint32
}

// NewTable describes an inode table of count inodes starting at startBlock.
func NewTable(device blockdev.Device, startBlock, count uint32) *Table {
	return &Table{
		device:         device,
		startBlock:     startBlock,
		inodesPerBlock: device.BlockSize() / Size,
		count:          count,
	}
}

// Count returns the total number of inodes in the table.
func (t *Table) Count() uint32 {
	return t.count
}

func (t *Table) locate(n uint32) (block uint32, offset uint32) {
	block = t.startBlock + n/t.inodesPerBlock
	offset = (n % t.inodesPerBlock) * Size
	return
}

// Read loads inode n. It fails if n is out of range.
func (t *Table) Read(n uint32) (RawInode, error) {
	if n >= t.count {
		return RawInode{}, fserrors.New(fserrors.InvalidArgument).WithMessage(
			"inode %d out of range [0, %d)", n, t.count)
	}
	block, offset := t.locate(n)
	buf := make([]byte, t.device.BlockSize())
	if err := t.device.ReadBlock(block, buf); err != nil {
		return RawInode{}, err
	}
	return Decode(buf[offset : offset+Size])
}

// Write performs a read-modify-write of the inode's hosting block to store
// rec as inode n.
func (t *Table) Write(n uint32, rec RawInode) error {
	if n >= t.count {
		return fserrors.New(fserrors.InvalidArgument).WithMessage(
			"inode %d out of range [0, %d)", n, t.count)
	}
	block, offset := t.locate(n)
	buf := make([]byte, t.device.BlockSize())
	if err := t.device.ReadBlock(block, buf); err != nil {
		return err
	}
	copy(buf[offset:offset+Size], rec.Encode())
	return t.device.WriteBlock(block, buf)
}

// BlocksPerTable returns the number of device blocks required to hold count
// inodes, rounding up.
func BlocksPerTable(count, blockSize uint32) uint32 {
	perBlock := blockSize / Size
	return (count + perBlock - 1) / perBlock
}
