package importer

import "errors"

var (
	// errImportSuspended aborts processing because the engine is suspending.
	// The job keeps its state and frontier so it can resume later.
	errImportSuspended = errors.New("import suspended")
	// errImportAborted aborts processing of a cancelled job.
	errImportAborted = errors.New("import aborted")
	// errNotActive means the engine has no collaborators bound.
	errNotActive = errors.New("importer not active")
)

// isAbort reports whether err stops the current job without marking it
// erroneous.
func isAbort(err error) bool {
	return errors.Is(err, errImportSuspended) || errors.Is(err, errImportAborted)
}
