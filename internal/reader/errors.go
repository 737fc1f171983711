package reader

import "fmt"

// IoFailure is returned by ReadFile once a read can no longer succeed:
// either the retries were exhausted or the cause is not worth retrying.
type IoFailure struct {
	Path     string
	Attempts int
	// Transient reports that every attempt failed with a retryable cause.
	Transient bool
	Err       error
}

func (f *IoFailure) Error() string {
	if f.Transient {
		return fmt.Sprintf("read %s: gave up after %d attempts: %v", f.Path, f.Attempts, f.Err)
	}
	return fmt.Sprintf("read %s: %v", f.Path, f.Err)
}

func (f *IoFailure) Unwrap() error {
	return f.Err
}
