// Command blockfsmount formats (optionally) and mounts a blockfs image,
// wiring together the superblock/inode/directory layers that implement the
// on-disk filesystem core. Mounting the result into the host's namespace
// and dispatching operating-system requests into the handlers built here
// is the userspace-filesystem bridge's job, an external collaborator
// outside this repo's scope.
//
// Grounded on dargueta/disko/cmd/main.go's single-Action cli.App shape,
// generalized from its empty formatImage stub into a real format-then-open
// flow, and on the gcsfuse command's registerSIGINTHandler pattern for
// clean shutdown on interrupt.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/xaionaro-go/bytesextra"
	"golang.org/x/sys/unix"

	"github.com/Lunatic0123/blockfs/blockdev"
	"github.com/Lunatic0123/blockfs/fs"
	"github.com/Lunatic0123/blockfs/superblock"
)

const defaultBlockSize = 4096

func main() {
	app := &cli.App{
		Name:  "blockfsmount",
		Usage: "format (optionally) and mount a blockfs image",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "init",
				Usage: "format the image before mounting instead of mounting an existing one",
			},
			&cli.UintFlag{
				Name:  "inodes",
				Usage: "inode count to format with (only used with -init)",
				Value: 32768,
			},
			&cli.BoolFlag{
				Name:  "memory",
				Usage: "back the image with an in-memory buffer instead of a file (development only)",
			},
		},
		ArgsUsage: "IMAGE_PATH",
		Action:    runMount,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func runMount(c *cli.Context) error {
	imagePath := c.Args().First()
	if imagePath == "" && !c.Bool("memory") {
		return cli.Exit("IMAGE_PATH is required unless -memory is given", 1)
	}

	device, err := openDevice(imagePath, c.Bool("memory"))
	if err != nil {
		return err
	}

	var fsys *superblock.Filesystem
	if c.Bool("init") {
		log.Printf("formatting %s with %d inodes", describeImage(imagePath, c.Bool("memory")), c.Uint("inodes"))
		fsys, err = superblock.Format(device, uint32(c.Uint("inodes")))
	} else {
		log.Printf("mounting %s", describeImage(imagePath, c.Bool("memory")))
		fsys, err = superblock.Mount(device)
	}
	if err != nil {
		return err
	}

	handlers := fs.New(fsys, fs.RealClock)
	log.Printf("mounted: %d inodes (uid=%d gid=%d), %d data blocks, %d free",
		fsys.Super.InodeCount, unix.Getuid(), unix.Getgid(),
		fsys.Super.DataBlockCount, fsys.DataBmp.FreeCount())

	waitForShutdown(handlers)
	return nil
}

// openDevice opens the backing store: a real file by default, or an
// in-memory buffer when -memory is set for quick local development without
// touching the filesystem.
func openDevice(path string, inMemory bool) (blockdev.Device, error) {
	if inMemory {
		const devBlocks = 4096
		backing := make([]byte, devBlocks*defaultBlockSize)
		return blockdev.New(bytesextra.NewReadWriteSeeker(backing), defaultBlockSize, devBlocks), nil
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	blocks := blockdev.DetermineBlockCount(info.Size(), defaultBlockSize)
	return blockdev.New(file, defaultBlockSize, blocks), nil
}

func describeImage(path string, inMemory bool) string {
	if inMemory {
		return "an in-memory image"
	}
	return path
}

// waitForShutdown blocks until SIGINT or SIGTERM, then returns. There is no
// explicit flush step: every handler persists its changes immediately, so
// unmount needs no special teardown.
func waitForShutdown(_ *fs.Handlers) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	received := <-sig
	log.Printf("received %s, unmounting", received)
}
