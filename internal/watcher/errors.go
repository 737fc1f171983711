package watcher

import "errors"

var (
	ErrEmptyPath         = errors.New("watch path is empty")
	ErrInvalidPath       = errors.New("invalid path")
	ErrTargetNotFound    = errors.New("target file does not exist")
	ErrTargetIsDir       = errors.New("target is a directory")
	ErrInitialRead       = errors.New("initial read failed")
	ErrNotifyUnavailable = errors.New("filesystem notifications unavailable")
	ErrUnknownStrategy   = errors.New("unknown detection strategy")
	ErrUnknownPolicy     = errors.New("unknown read error policy")
	ErrAlreadyStarted    = errors.New("detector already started")
	ErrDetectorStopped   = errors.New("detector is stopped")
)
