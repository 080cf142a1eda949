package fs

import "github.com/Lunatic0123/blockfs/inode"

// Stat is the stat-shaped result filled by Getattr, mirroring the fields a
// FUSE-style bridge's GetAttr callback is expected to populate.
type Stat struct {
	Mode      uint32
	NumLinks  uint32
	UID       uint32
	GID       uint32
	Size      uint64
	Atime     uint32
	Mtime     uint32
	Ctime     uint32
	BlockSize uint32
	NumBlocks uint64 // 512-byte units
}

func statFromInode(rec inode.RawInode, blockSize uint32) Stat {
	indirectBlocks := uint64(0)
	for _, block := range rec.Indirect {
		if block != 0 {
			indirectBlocks++
		}
	}
	unitsPerBlock := uint64(blockSize) / 512
	dataUnits := (uint64(rec.FileSize) + 511) / 512
	return Stat{
		Mode:      rec.Mode,
		NumLinks:  1,
		Size:      uint64(rec.FileSize),
		Atime:     rec.Atime,
		Mtime:     rec.Mtime,
		Ctime:     rec.Ctime,
		BlockSize: blockSize,
		NumBlocks: dataUnits + indirectBlocks*unitsPerBlock,
	}
}

// DirEntry is one name yielded by Readdir.
type DirEntry struct {
	Name     string
	InodeNum uint32
	IsDir    bool
}

// StatfsResult is filled by Statfs.
type StatfsResult struct {
	BlockSize   uint32
	TotalBlocks uint32
	FreeBlocks  uint32
	TotalInodes uint32
	FreeInodes  uint32
	MaxNameLen  uint32
}
