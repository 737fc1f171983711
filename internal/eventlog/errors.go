package eventlog

import "errors"

var (
	ErrBucketNotFound = errors.New("bucket not found")
	ErrClosed         = errors.New("event log is closed")
	ErrReadOnly       = errors.New("event log is opened read-only")
	ErrEmptyPath      = errors.New("event log path is empty")
)
