package observe

import (
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Handle identifies a registered listener or close handler.
// Handles are ULIDs: 48 bits of millisecond time followed by 80 bits of
// entropy, so they stay unique when exposed to clients or merged across
// processes.
type Handle ulid.ULID

// String returns the canonical 26 character encoding.
func (h Handle) String() string {
	return ulid.ULID(h).String()
}

// IsZero reports whether h is the zero handle, which is never issued.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// ParseHandle parses the string form produced by Handle.String.
func ParseHandle(s string) (Handle, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return Handle{}, err
	}
	return Handle(id), nil
}

// HandleSource issues handles. Implementations must be safe for concurrent use.
type HandleSource interface {
	NewHandle() Handle
}

// HandleSourceFunc adapts a function into a HandleSource.
type HandleSourceFunc func() Handle

// NewHandle calls f.
func (f HandleSourceFunc) NewHandle() Handle {
	return f()
}

// cryptoHandles draws from ulid's process-wide monotonic crypto/rand entropy.
type cryptoHandles struct{}

func (cryptoHandles) NewHandle() Handle {
	return Handle(ulid.Make())
}

// entropyHandles draws from an injected entropy reader and clock.
type entropyHandles struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewHandleSource returns a HandleSource reading entropy from r and time
// from now. Passing a seeded math/rand reader and a fixed clock gives a
// reproducible handle sequence for tests. If now is nil, time.Now is used.
func NewHandleSource(r io.Reader, now func() time.Time) HandleSource {
	if now == nil {
		now = time.Now
	}
	return &entropyHandles{
		entropy: ulid.Monotonic(r, 0),
		now:     now,
	}
}

func (s *entropyHandles) NewHandle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Handle(ulid.MustNew(ulid.Timestamp(s.now()), s.entropy))
}
