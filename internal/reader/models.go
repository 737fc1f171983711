package reader

import "time"

// Config holds the retry settings of a RetryingReader.
type Config struct {
	// Attempts is the total number of reads, the first one included.
	Attempts int
	// Delay is the fixed pause between two attempts.
	Delay time.Duration
}
