package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Snapshot is the serializable state of a session: the encoded value of
// every writable key. Read-only keys are derived and are rebuilt by the
// binder, so they are not stored.
type Snapshot struct {
	// ID is the session the snapshot was taken from.
	ID string `json:"id"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// TakenAt is when the snapshot was taken.
	TakenAt time.Time `json:"taken_at"`

	// Values maps writable keys to their JSON values.
	Values map[string]jsoniter.RawMessage `json:"values,omitempty"`

	// Version is the serialization format version.
	Version int `json:"version"`
}

// CurrentSnapshotVersion is the current version of the snapshot format.
// Increment when making breaking changes to the format.
const CurrentSnapshotVersion = 1

// EncodeSnapshot converts a Snapshot to bytes.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	snap.Version = CurrentSnapshotVersion
	return json.Marshal(snap)
}

// DecodeSnapshot converts bytes back to a Snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.Version > CurrentSnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported version %d", snap.Version, CurrentSnapshotVersion)
	}
	return &snap, nil
}

// Snapshot captures the current value of every writable key.
func (s *Session) Snapshot() (*Snapshot, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrSessionClosed
	}
	writable := make(map[string]binding, len(s.bindings))
	for key, e := range s.bindings {
		if e.b.writable() {
			writable[key] = e.b
		}
	}
	s.mu.RUnlock()

	snap := &Snapshot{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		TakenAt:   time.Now(),
		Values:    make(map[string]jsoniter.RawMessage, len(writable)),
	}
	for key, b := range writable {
		raw, err := b.read()
		if err != nil {
			return nil, &KeyError{Key: key, Err: err}
		}
		snap.Values[key] = raw
	}
	return snap, nil
}

// Restore writes every value in snap whose key is bound and writable.
// Unknown and read-only keys are skipped, so a snapshot taken by an older
// binder can be restored into a newer one. Errors for individual keys are
// joined.
func (s *Session) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	var errs []error
	for key, raw := range snap.Values {
		if !s.Writable(key) {
			continue
		}
		if err := s.Write(ctx, key, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
