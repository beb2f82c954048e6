package pool

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPoolClosed is returned once Close has been called. Terminal.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrPoolExhausted is returned when every connection is leased and the
	// wait queue is already at capacity. Retryable.
	ErrPoolExhausted = errors.New("pool: all connections in use and wait queue is full")

	// ErrReleaseOfUnknownLease is returned for a lease the pool did not issue
	// or that has already been returned. This is a caller bug: swallowing it
	// would corrupt the pool's accounting.
	ErrReleaseOfUnknownLease = errors.New("pool: release of unknown or already released lease")
)

// AcquireTimeoutError is returned when a queued caller's wait exceeded its
// deadline before a connection became free. Retryable.
type AcquireTimeoutError struct {
	Waited time.Duration
}

func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("pool: acquire timed out after %s waiting for a connection", e.Waited)
}

// FairnessLimitError is returned when a single client already holds its
// maximum share of the pool, counting both outstanding leases and queued
// waiters. Fail-fast: the caller is not queued behind its own prior calls.
type FairnessLimitError struct {
	ClientID string
	Held     int
	Queued   int
	Limit    int
}

func (e *FairnessLimitError) Error() string {
	if e.Queued > 0 {
		return fmt.Sprintf("pool: client %q already holds %d connections and has %d queued of %d allowed", e.ClientID, e.Held, e.Queued, e.Limit)
	}
	return fmt.Sprintf("pool: client %q already holds %d of %d allowed connections", e.ClientID, e.Held, e.Limit)
}

// BackendUnavailableError wraps a connection-construction failure. The pool
// never retries construction on the caller's behalf beyond the single
// health-check replacement inside Acquire.
type BackendUnavailableError struct {
	Err error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("pool: backend unavailable: %v", e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }
