// Package blockdev is a thin accessor around a flat array of fixed-size
// blocks. Every higher layer of blockfs reads and writes whole blocks by
// index through this package; nothing above it ever touches a byte offset
// directly.
//
// Grounded on dargueta/disko/drivers/common.BlockStream: a single
// io.ReadWriteSeeker wrapped with a fixed block size and block count, with
// Read/Write expressed in terms of Seek plus a single Read/Write call.
package blockdev

import (
	"io"

	"github.com/Lunatic0123/blockfs/fserrors"
)

// Device is the block I/O contract every filesystem layer is built on top
// of: read(block_index, buffer) and write(block_index, buffer), both
// returning success or a generic I/O failure.
type Device interface {
	ReadBlock(index uint32, buf []byte) error
	WriteBlock(index uint32, buf []byte) error
	BlockSize() uint32
	BlockCount() uint32
}

// FileDevice is a Device backed by any seekable stream sized in exact
// multiples of blockSize. Both *os.File and an in-memory
// github.com/xaionaro-go/bytesextra.ReadWriteSeeker satisfy the
// io.ReadWriteSeeker it wraps, so the same type serves production mounts and
// tests alike.
type FileDevice struct {
	backing    io.ReadWriteSeeker
	blockSize  uint32
	blockCount uint32
}

// New wraps backing as a Device of blockCount blocks of blockSize bytes
// each. It does not itself verify the backing store's length; callers that
// can determine it (e.g. from an *os.File) should do so before mounting.
func New(backing io.ReadWriteSeeker, blockSize, blockCount uint32) *FileDevice {
	return &FileDevice{backing: backing, blockSize: blockSize, blockCount: blockCount}
}

func (d *FileDevice) BlockSize() uint32  { return d.blockSize }
func (d *FileDevice) BlockCount() uint32 { return d.blockCount }

func (d *FileDevice) checkBounds(index uint32, bufLen int) error {
	if index >= d.blockCount {
		return fserrors.New(fserrors.IO).WithMessage(
			"block %d out of range [0, %d)", index, d.blockCount)
	}
	if uint32(bufLen) != d.blockSize {
		return fserrors.New(fserrors.IO).WithMessage(
			"buffer length %d does not match block size %d", bufLen, d.blockSize)
	}
	return nil
}

func (d *FileDevice) seekToBlock(index uint32) error {
	offset := int64(index) * int64(d.blockSize)
	_, err := d.backing.Seek(offset, io.SeekStart)
	if err != nil {
		return fserrors.New(fserrors.IO).WithMessage("seeking to block %d: %s", index, err)
	}
	return nil
}

// ReadBlock reads exactly one block into buf, which must be BlockSize()
// bytes long.
func (d *FileDevice) ReadBlock(index uint32, buf []byte) error {
	if err := d.checkBounds(index, len(buf)); err != nil {
		return err
	}
	if err := d.seekToBlock(index); err != nil {
		return err
	}
	n, err := io.ReadFull(d.backing, buf)
	if err != nil {
		return fserrors.New(fserrors.IO).WithMessage(
			"reading block %d: got %d of %d bytes: %s", index, n, len(buf), err)
	}
	return nil
}

// WriteBlock writes buf, which must be BlockSize() bytes long, as block
// index.
func (d *FileDevice) WriteBlock(index uint32, buf []byte) error {
	if err := d.checkBounds(index, len(buf)); err != nil {
		return err
	}
	if err := d.seekToBlock(index); err != nil {
		return err
	}
	n, err := d.backing.Write(buf)
	if err != nil {
		return fserrors.New(fserrors.IO).WithMessage("writing block %d: %s", index, err)
	}
	if n != len(buf) {
		return fserrors.New(fserrors.IO).WithMessage(
			"short write on block %d: wrote %d of %d bytes", index, n, len(buf))
	}
	return nil
}

// DetermineBlockCount gives the total number of whole blocks that fit in a
// file of the given byte size, rounding down, mirroring
// dargueta/disko/drivers/common.DetermineBlockCount.
func DetermineBlockCount(sizeBytes int64, blockSize uint32) uint32 {
	return uint32(sizeBytes / int64(blockSize))
}
