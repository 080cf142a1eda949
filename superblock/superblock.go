// Package superblock reads, writes, and formats the fixed block-0 record
// that describes a blockfs image's layout, and wires together the bitmap,
// inode table, and pointer resolver that every other package depends on.
//
// Grounded on dargueta/disko/file_systems/unixv1.Superblock and
// formattingdriver.go's Format()/FormatImage() sequence: zero the
// bookkeeping regions, then hand-initialize inode 0 as the root directory.
package superblock

import (
	"encoding/binary"

	"github.com/noxer/bytewriter"

	"github.com/Lunatic0123/blockfs/bitmap"
	"github.com/Lunatic0123/blockfs/blockdev"
	"github.com/Lunatic0123/blockfs/fserrors"
	"github.com/Lunatic0123/blockfs/inode"
)

// Fixed layout: block 0 is the superblock, block 1 is the inode bitmap,
// blocks 2-3 are the data-block bitmap, and the inode table starts at
// block 4.
const (
	BlockSuperblock  = 0
	BlockInodeBitmap = 1
	BlockDataBitmap  = 2
	dataBitmapBlocks = 2
	BlockInodeTable  = 4
	// RootInode is the inode number of the filesystem root, always present
	// and always a directory after mount.
	RootInode = 0
)

// Superblock is the process-wide, read-mostly description of an image's
// layout. It is fixed at format time and never mutated after mount; callers
// are expected to pass it through explicitly rather than reach for a
// package-level global.
type Superblock struct {
	InodeCount       uint32
	DataBlockCount   uint32
	InodeTableBlocks uint32
	DataBitmapBlocks uint32
	FirstDataBlock   uint32
}

// Encode packs the superblock's fields into one little-endian, zero-padded
// block, writing each field in sequence through a bytewriter the same way
// dargueta/disko/file_systems/unixv1/format.go streams its on-disk records.
func (s Superblock) Encode(blockSize uint32) []byte {
	buf := make([]byte, blockSize)
	writer := bytewriter.New(buf)
	binary.Write(writer, binary.LittleEndian, s.InodeCount)
	binary.Write(writer, binary.LittleEndian, s.DataBlockCount)
	binary.Write(writer, binary.LittleEndian, s.InodeTableBlocks)
	binary.Write(writer, binary.LittleEndian, s.DataBitmapBlocks)
	binary.Write(writer, binary.LittleEndian, s.FirstDataBlock)
	return buf
}

func decodeSuperblock(data []byte) Superblock {
	return Superblock{
		InodeCount:       binary.LittleEndian.Uint32(data[0:4]),
		DataBlockCount:   binary.LittleEndian.Uint32(data[4:8]),
		InodeTableBlocks: binary.LittleEndian.Uint32(data[8:12]),
		DataBitmapBlocks: binary.LittleEndian.Uint32(data[12:16]),
		FirstDataBlock:   binary.LittleEndian.Uint32(data[16:20]),
	}
}

// Filesystem bundles a mounted superblock with the allocators and tables
// derived from it, ready for the operation handlers to use.
type Filesystem struct {
	Device   blockdev.Device
	Super    Superblock
	InodeBmp *bitmap.Allocator
	DataBmp  *bitmap.Allocator
	Inodes   *inode.Table
	Pointers *inode.PointerResolver
}

// Mount reads the superblock from block 0 and reloads the two bitmaps, the
// inode table, and the pointer resolver built on top of them.
func Mount(device blockdev.Device) (*Filesystem, error) {
	buf := make([]byte, device.BlockSize())
	if err := device.ReadBlock(BlockSuperblock, buf); err != nil {
		return nil, err
	}
	super := decodeSuperblock(buf)
	if super.InodeCount == 0 {
		return nil, fserrors.New(fserrors.IO).WithMessage("superblock is not formatted (zero inode count)")
	}

	inodeBmp, err := bitmap.Load(device, BlockInodeBitmap, BlockDataBitmap-BlockInodeBitmap, super.InodeCount)
	if err != nil {
		return nil, err
	}
	dataBmp, err := bitmap.Load(device, BlockDataBitmap, super.DataBitmapBlocks, super.DataBlockCount)
	if err != nil {
		return nil, err
	}
	inodes := inode.NewTable(device, BlockInodeTable, super.InodeCount)
	pointers := inode.NewPointerResolver(device, dataBmp, inodes, super.FirstDataBlock)

	return &Filesystem{
		Device:   device,
		Super:    super,
		InodeBmp: inodeBmp,
		DataBmp:  dataBmp,
		Inodes:   inodes,
		Pointers: pointers,
	}, nil
}

// Format computes a fresh superblock for a device of inodeCount inodes,
// zeroes the inode bitmap, data bitmap, and inode-table blocks, writes the
// superblock, allocates inode 0, and initializes it as an empty root
// directory.
func Format(device blockdev.Device, inodeCount uint32) (*Filesystem, error) {
	blockSize := device.BlockSize()
	inodeTableBlocks := inode.BlocksPerTable(inodeCount, blockSize)
	firstDataBlock := BlockInodeTable + inodeTableBlocks
	if firstDataBlock >= device.BlockCount() {
		return nil, fserrors.New(fserrors.InvalidArgument).WithMessage(
			"inode count %d leaves no room for data blocks on a %d-block device", inodeCount, device.BlockCount())
	}
	dataBlockCount := device.BlockCount() - firstDataBlock

	super := Superblock{
		InodeCount:       inodeCount,
		DataBlockCount:   dataBlockCount,
		InodeTableBlocks: inodeTableBlocks,
		DataBitmapBlocks: dataBitmapBlocks,
		FirstDataBlock:   firstDataBlock,
	}

	if err := device.WriteBlock(BlockSuperblock, super.Encode(blockSize)); err != nil {
		return nil, err
	}

	inodeBmp, err := bitmap.Format(device, BlockInodeBitmap, BlockDataBitmap-BlockInodeBitmap, inodeCount)
	if err != nil {
		return nil, err
	}
	dataBmp, err := bitmap.Format(device, BlockDataBitmap, dataBitmapBlocks, dataBlockCount)
	if err != nil {
		return nil, err
	}

	zero := make([]byte, blockSize)
	for b := uint32(0); b < inodeTableBlocks; b++ {
		if err := device.WriteBlock(BlockInodeTable+b, zero); err != nil {
			return nil, err
		}
	}

	inodes := inode.NewTable(device, BlockInodeTable, inodeCount)
	pointers := inode.NewPointerResolver(device, dataBmp, inodes, firstDataBlock)

	rootSlot, err := inodeBmp.Allocate()
	if err != nil {
		return nil, err
	}
	if rootSlot != RootInode {
		return nil, fserrors.New(fserrors.IO).WithMessage(
			"expected inode 0 to be the first allocation, got %d", rootSlot)
	}
	root := inode.RawInode{Mode: inode.ModeDir | 0755}
	if err := inodes.Write(RootInode, root); err != nil {
		return nil, err
	}

	return &Filesystem{
		Device:   device,
		Super:    super,
		InodeBmp: inodeBmp,
		DataBmp:  dataBmp,
		Inodes:   inodes,
		Pointers: pointers,
	}, nil
}
