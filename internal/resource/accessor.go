package resource

import (
	"io"
	"time"
)

// Handle is a resolved file or directory in the resource tree.
type Handle interface {
	Path() Path
	Name() string
	IsFile() bool
	IsDirectory() bool
	// Exists re-checks the underlying resource; handles may outlive it.
	Exists() bool
	LastModified() time.Time
	Size() int64
	Open() (io.ReadSeekCloser, error)
}

// LocalFile is implemented by handles backed by a file on the local disk.
// Tools that need a real file name (ffprobe) type-assert for it.
type LocalFile interface {
	LocalPath() string
}

// Accessor resolves serialized paths and lists directory contents.
type Accessor interface {
	Resolve(p Path) (Handle, error)
	Files(dir Handle) ([]Handle, error)
	ChildDirectories(dir Handle) ([]Handle, error)
}
