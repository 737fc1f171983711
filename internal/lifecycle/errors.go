package lifecycle

import "errors"

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrAlreadyRunning = errors.New("watch is not stopped")
	ErrStartAborted   = errors.New("watch was stopped while starting")
	ErrTargetDeleted  = errors.New("watched file was deleted")
	ErrObservation    = errors.New("watched file can no longer be observed")
)
