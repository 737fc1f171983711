//go:build windows

package reader

import (
	"errors"

	"golang.org/x/sys/windows"
)

func isLocked(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) ||
		errors.Is(err, windows.ERROR_LOCK_VIOLATION)
}

func isDefinitive(err error) bool {
	return errors.Is(err, windows.ERROR_DIRECTORY) ||
		errors.Is(err, windows.ERROR_INVALID_NAME)
}
