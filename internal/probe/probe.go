package probe

import (
	"context"
	"fmt"
	"time"
)

// Result holds the diagnostic detail of one successful attempt.
//
// Fields:
//   - StatusCode: HTTP status when available; 0 for database probes.
//   - Connect, TLSHandshake, ServerProcessing: HTTP phase timings; zero when the
//     phase did not happen (e.g., a reused connection has no Connect).
type Result struct {
	StatusCode       int
	Latency          time.Duration
	Connect          time.Duration
	TLSHandshake     time.Duration
	ServerProcessing time.Duration
}

// Probe performs one connectivity check per call. A Probe is owned by a
// single worker and is never called concurrently.
type Probe interface {
	Attempt(ctx context.Context) (Result, error)
	Close() error
}

// Error is a failed attempt. It is never fatal: the worker logs it and waits
// for its next tick.
type Error struct {
	Op      string // "http_get", "db_connect", "db_ping", "db_acquire"
	Latency time.Duration
	Err     error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func fail(op string, start time.Time, err error) error {
	return &Error{Op: op, Latency: time.Since(start), Err: err}
}
