// Package pathresolve walks an absolute path from the root inode through
// directory lookups to produce the inode number a handler should operate
// on.
//
// Grounded on dargueta/disko/file_systems/unixv1.ReadingDriver's path-walk
// in GetFileInode/Stat (load current inode, consult directory contents for
// the next component), generalized to the multi-component case the
// teacher's flat Unix v1 image never required.
package pathresolve

import (
	"strings"

	"github.com/Lunatic0123/blockfs/directory"
	"github.com/Lunatic0123/blockfs/fserrors"
	"github.com/Lunatic0123/blockfs/inode"
	"github.com/Lunatic0123/blockfs/superblock"
)

// Resolver resolves paths against a mounted filesystem's inode table and
// directory store.
type Resolver struct {
	inodes *inode.Table
	dirs   *directory.Store
}

func New(inodes *inode.Table, dirs *directory.Store) *Resolver {
	return &Resolver{inodes: inodes, dirs: dirs}
}

func splitComponents(path string) ([]string, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, fserrors.New(fserrors.InvalidArgument).WithMessage(
			"path %q must be absolute", path)
	}
	var components []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			components = append(components, part)
		}
	}
	return components, nil
}

// Resolve walks path from the root inode and returns the inode number it
// names. "/" alone resolves to the root inode.
func (r *Resolver) Resolve(path string) (uint32, error) {
	components, err := splitComponents(path)
	if err != nil {
		return 0, err
	}

	current := uint32(superblock.RootInode)
	for _, name := range components {
		rec, err := r.inodes.Read(current)
		if err != nil {
			return 0, err
		}
		if !rec.IsDir() {
			return 0, fserrors.New(fserrors.NotFound).WithMessage(
				"%q is not a directory", name)
		}
		next, err := r.dirs.Lookup(current, &rec, name)
		if err != nil {
			return 0, err
		}
		current = next
	}
	return current, nil
}

// ResolveParent splits path at its last "/" and resolves everything before
// it, returning (parent inode number, basename). Used by create, delete,
// and rename handlers that need to mutate the parent directory's entries.
func (r *Resolver) ResolveParent(path string) (uint32, string, error) {
	components, err := splitComponents(path)
	if err != nil {
		return 0, "", err
	}
	if len(components) == 0 {
		return 0, "", fserrors.New(fserrors.InvalidArgument).WithMessage(
			"path %q has no basename", path)
	}

	basename := components[len(components)-1]
	parentPath := "/" + strings.Join(components[:len(components)-1], "/")
	parent, err := r.Resolve(parentPath)
	if err != nil {
		return 0, "", err
	}
	return parent, basename, nil
}
