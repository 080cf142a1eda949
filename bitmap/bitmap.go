// Package bitmap implements the allocate-first-free / release-by-index
// bookkeeping that backs both the inode bitmap and the data-block bitmap.
//
// Grounded on dargueta/disko/drivers/common.BlockManager, which wraps a
// github.com/boljen/go-bitmap.Bitmap over a block range and does a linear
// scan for the first clear bit. blockfs generalizes it to persist only the
// block(s) of the bitmap's on-disk range that actually changed, since here
// (unlike BlockManager's single in-memory bitmap) the bitmap is itself
// striped across one or more device blocks that must be written back.
package bitmap

import (
	"github.com/boljen/go-bitmap"

	"github.com/Lunatic0123/blockfs/blockdev"
	"github.com/Lunatic0123/blockfs/fserrors"
)

// Allocator tracks which of nBits numbered slots (inode numbers or
// data-block indices) are in use, backed by blockCount device blocks
// starting at startBlock.
type Allocator struct {
	device     blockdev.Device
	startBlock uint32
	blockCount uint32
	nBits      uint32
	bits       bitmap.Bitmap
}

// Load reads an existing bitmap from the device.
func Load(device blockdev.Device, startBlock, blockCount, nBits uint32) (*Allocator, error) {
	buf := make([]byte, blockCount*device.BlockSize())
	for i := uint32(0); i < blockCount; i++ {
		if err := device.ReadBlock(startBlock+i, buf[i*device.BlockSize():(i+1)*device.BlockSize()]); err != nil {
			return nil, err
		}
	}
	return &Allocator{
		device:     device,
		startBlock: startBlock,
		blockCount: blockCount,
		nBits:      nBits,
		bits:       bitmap.Bitmap(buf),
	}, nil
}

// Format zeroes out a fresh bitmap region and persists it, for use at format
// time before any bits are marked in use.
func Format(device blockdev.Device, startBlock, blockCount, nBits uint32) (*Allocator, error) {
	a := &Allocator{
		device:     device,
		startBlock: startBlock,
		blockCount: blockCount,
		nBits:      nBits,
		bits:       bitmap.New(int(blockCount * device.BlockSize() * 8)),
	}
	if err := a.persistAll(); err != nil {
		return nil, err
	}
	return a, nil
}

// persistBlockOf writes back just the device block that bit i lives in.
func (a *Allocator) persistBlockOf(i uint32) error {
	bitsPerBlock := a.device.BlockSize() * 8
	blockIdx := i / bitsPerBlock
	data := a.bits.Data(false)
	start := blockIdx * a.device.BlockSize()
	end := start + a.device.BlockSize()
	return a.device.WriteBlock(a.startBlock+blockIdx, data[start:end])
}

func (a *Allocator) persistAll() error {
	data := a.bits.Data(false)
	bs := a.device.BlockSize()
	for i := uint32(0); i < a.blockCount; i++ {
		if err := a.device.WriteBlock(a.startBlock+i, data[i*bs:(i+1)*bs]); err != nil {
			return err
		}
	}
	return nil
}

// Allocate scans the bitmap linearly, returning the index of the first
// clear bit, setting it, and persisting only the block it lives in. It
// returns fserrors.NoSpace when every bit is set.
func (a *Allocator) Allocate() (uint32, error) {
	for i := uint32(0); i < a.nBits; i++ {
		if !a.bits.Get(int(i)) {
			a.bits.Set(int(i), true)
			if err := a.persistBlockOf(i); err != nil {
				a.bits.Set(int(i), false)
				return 0, err
			}
			return i, nil
		}
	}
	return 0, fserrors.New(fserrors.NoSpace)
}

// Free clears the bit at index i and persists the change. Freeing an
// already-clear bit is a caller bug (reported as an error) but never
// corrupts any other bit.
func (a *Allocator) Free(i uint32) error {
	if i >= a.nBits {
		return fserrors.New(fserrors.InvalidArgument).WithMessage(
			"index %d out of range [0, %d)", i, a.nBits)
	}
	if !a.bits.Get(int(i)) {
		return fserrors.New(fserrors.InvalidArgument).WithMessage(
			"index %d is already free", i)
	}
	a.bits.Set(int(i), false)
	return a.persistBlockOf(i)
}

// IsSet reports whether bit i is currently marked in use.
func (a *Allocator) IsSet(i uint32) bool {
	return a.bits.Get(int(i))
}

// FreeCount returns the number of clear bits among the first nBits slots.
func (a *Allocator) FreeCount() uint32 {
	free := uint32(0)
	for i := uint32(0); i < a.nBits; i++ {
		if !a.bits.Get(int(i)) {
			free++
		}
	}
	return free
}

// Capacity returns the total number of bits (inodes or data blocks) this
// allocator tracks.
func (a *Allocator) Capacity() uint32 {
	return a.nBits
}
