// Package objectstore holds the bucket adapters the pipeline fetches
// sources from and writes thumbnails to.
package objectstore

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrNotFound     = errors.New("object not found")
	ErrAccessDenied = errors.New("access denied")
	ErrTooLarge     = errors.New("object too large")
	// ErrTransient marks failures worth redelivering: network faults,
	// throttling, 5xx and anything we could not classify.
	ErrTransient = errors.New("transient storage error")
)

func wrap(op, bucket, key string, kind, err error) error {
	return fmt.Errorf("%s %s/%s: %w: %w", op, bucket, key, kind, err)
}

// IsRetryable reports whether err came from a storage fault that might go
// away on its own.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// readLimited reads r to the end, failing with ErrTooLarge once more than
// limit bytes arrive. A limit of zero or less reads everything.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}
