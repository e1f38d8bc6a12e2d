package resource

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LocalAccessor exposes the host file system. Resource paths map onto
// Root joined with the slash path; Root defaults to the file system root.
type LocalAccessor struct {
	Root string
}

// NewLocalAccessor creates an accessor for the host file system.
func NewLocalAccessor() *LocalAccessor {
	return &LocalAccessor{}
}

func (a *LocalAccessor) localPath(p Path) string {
	return filepath.Join(a.Root, filepath.FromSlash(string(p)))
}

func (a *LocalAccessor) Resolve(p Path) (Handle, error) {
	local := a.localPath(p)
	info, err := os.Stat(local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return &localHandle{path: p, local: local, info: info}, nil
}

func (a *LocalAccessor) Files(dir Handle) ([]Handle, error) {
	return a.list(dir, func(info fs.FileInfo) bool { return info.Mode().IsRegular() })
}

func (a *LocalAccessor) ChildDirectories(dir Handle) ([]Handle, error) {
	return a.list(dir, func(info fs.FileInfo) bool { return info.IsDir() })
}

// list classifies entries by what they point at, so symlinked files and
// directories are listed like the real thing. A symlinked directory that
// leads back to the listed directory or one of its ancestors is skipped.
func (a *LocalAccessor) list(dir Handle, keep func(fs.FileInfo) bool) ([]Handle, error) {
	if !dir.IsDirectory() {
		return nil, fmt.Errorf("%s is not a directory", dir.Path())
	}
	local := a.localPath(dir.Path())
	entries, err := os.ReadDir(local)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir.Path(), err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	handles := make([]Handle, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		child := filepath.Join(local, entry.Name())
		info, err := os.Stat(child)
		if err != nil {
			// Vanished since ReadDir, or a dangling symlink.
			continue
		}
		if !keep(info) {
			continue
		}
		if entry.Type()&fs.ModeSymlink != 0 && info.IsDir() && linksToAncestor(local, child) {
			continue
		}
		handles = append(handles, &localHandle{
			path:  dir.Path().Join(entry.Name()),
			local: child,
			info:  info,
		})
	}
	return handles, nil
}

func linksToAncestor(dir, link string) bool {
	target, err := filepath.EvalSymlinks(link)
	if err != nil {
		return true
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return true
	}
	rel, err := filepath.Rel(target, resolved)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

type localHandle struct {
	path  Path
	local string
	info  fs.FileInfo
}

func (h *localHandle) Path() Path              { return h.path }
func (h *localHandle) Name() string            { return h.path.Name() }
func (h *localHandle) IsFile() bool            { return h.info.Mode().IsRegular() }
func (h *localHandle) IsDirectory() bool       { return h.info.IsDir() }
func (h *localHandle) LastModified() time.Time { return h.info.ModTime() }
func (h *localHandle) Size() int64             { return h.info.Size() }
func (h *localHandle) LocalPath() string       { return h.local }

func (h *localHandle) Exists() bool {
	_, err := os.Stat(h.local)
	return err == nil
}

func (h *localHandle) Open() (io.ReadSeekCloser, error) {
	if !h.IsFile() {
		return nil, fmt.Errorf("%s is not a file", h.path)
	}
	return os.Open(h.local)
}
