package metadata

import (
	"io"
	"time"

	"github.com/mantonx/viewra-importer/internal/resource"
)

type stubHandle struct {
	path resource.Path
}

func (s *stubHandle) Path() resource.Path              { return s.path }
func (s *stubHandle) Name() string                     { return s.path.Name() }
func (s *stubHandle) IsFile() bool                     { return true }
func (s *stubHandle) IsDirectory() bool                { return false }
func (s *stubHandle) Exists() bool                     { return true }
func (s *stubHandle) LastModified() time.Time          { return time.Time{} }
func (s *stubHandle) Size() int64                      { return 0 }
func (s *stubHandle) Open() (io.ReadSeekCloser, error) { return nil, io.EOF }
