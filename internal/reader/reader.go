// Package reader reads whole files while riding out short-lived failures
// such as another process holding a lock on the file.
package reader

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/spf13/afero"
)

type RetryingReader struct {
	fs       afero.Fs
	attempts uint
	delay    time.Duration
}

func New(fs afero.Fs, config Config) *RetryingReader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if config.Attempts <= 0 {
		config.Attempts = DefaultAttempts
	}
	if config.Delay <= 0 {
		config.Delay = DefaultDelay
	}

	return &RetryingReader{
		fs:       fs,
		attempts: uint(config.Attempts),
		delay:    config.Delay,
	}
}

// ReadFile returns the full content of path. Failures classified as
// transient are retried with a fixed delay; everything else, and the last
// error once attempts run out, comes back as *IoFailure. A cancelled ctx
// interrupts the wait between attempts and its error is returned unwrapped.
func (r *RetryingReader) ReadFile(ctx context.Context, path string) ([]byte, error) {
	var (
		content  []byte
		attempts int
	)

	err := retry.Do(
		func() error {
			attempts++
			data, err := afero.ReadFile(r.fs, path)
			if err != nil {
				return err
			}
			content = data
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return content, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return nil, err
	}

	return nil, &IoFailure{
		Path:      path,
		Attempts:  attempts,
		Transient: IsTransient(err),
		Err:       err,
	}
}
