package reader

import (
	"context"
	"errors"
	"io/fs"
)

// IsTransient reports whether a failed read is worth repeating. Missing
// files, permission problems and paths that are not regular files are
// definitive. Lock contention and anything unrecognised are retried.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case isLocked(err):
		return true
	case isDefinitive(err):
		return false
	}
	return true
}
