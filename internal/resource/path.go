// Package resource models the media resource tree the importer walks:
// serialized resource paths, file and directory handles and the accessor
// that resolves and lists them.
package resource

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned when a path does not resolve to an existing resource.
var ErrNotFound = errors.New("resource not found")

// Path is the serialized, slash separated form of a resource location.
// Paths are always absolute and cleaned.
type Path string

// ParsePath validates and normalizes a serialized resource path.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty resource path")
	}
	s = strings.ReplaceAll(s, "\\", "/")
	if !strings.HasPrefix(s, "/") {
		return "", fmt.Errorf("resource path %q is not absolute", s)
	}
	return Path(path.Clean(s)), nil
}

// MustParsePath is like ParsePath but panics on invalid input.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string {
	return string(p)
}

// Name returns the last element of the path.
func (p Path) Name() string {
	return path.Base(string(p))
}

// Parent returns the containing directory. The root is its own parent.
func (p Path) Parent() Path {
	return Path(path.Dir(string(p)))
}

// Join appends a child name.
func (p Path) Join(name string) Path {
	return Path(path.Join(string(p), name))
}

// IsSameOrParentOf reports whether other equals p or lies anywhere below it.
func (p Path) IsSameOrParentOf(other Path) bool {
	return p == other || p.IsParentOf(other)
}

// IsParentOf reports whether other lies strictly below p.
func (p Path) IsParentOf(other Path) bool {
	if p == other {
		return false
	}
	if p == "/" {
		return strings.HasPrefix(string(other), "/")
	}
	return strings.HasPrefix(string(other), string(p)+"/")
}
