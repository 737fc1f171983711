package reader

import "time"

const (
	DefaultAttempts = 3
	DefaultDelay    = 100 * time.Millisecond
)
