// Package clockid provides the monotonic clock and id generation used
// throughout the stream supervisor.
package clockid

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock time so tests can inject a fake.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// IDGenerator produces opaque, unique identifiers for streams and requests.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator generates identifiers using google/uuid, matching the
// 36-char opaque id shape spec.md requires for stream ids.
type UUIDGenerator struct{}

// NewID returns a freshly generated UUID string.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}
