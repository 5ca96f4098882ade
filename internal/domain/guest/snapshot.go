package guest

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/paperhub/guest-hub/internal/domain/shared"
)

// DefaultNamespace is the fixed key prefix guest snapshots are stored under.
const DefaultNamespace = "guest-storage"

// SnapshotVersion is the version written into every snapshot envelope.
const SnapshotVersion = 1

type envelope struct {
	State   json.RawMessage `json:"state"`
	Version int             `json:"version"`
}

// EncodeSnapshot serializes a state into the versioned snapshot format.
func EncodeSnapshot(s State) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, shared.WrapError("guest", "Encode", shared.ErrInvalidFormat, "failed to encode state", err)
	}
	return json.Marshal(envelope{State: raw, Version: SnapshotVersion})
}

// DecodeSnapshot parses a snapshot and repairs it so tracker invariants hold.
// Returns shared.ErrSnapshotMalformed for anything that is not a snapshot of
// a known version.
func DecodeSnapshot(data []byte, defaultLimit int) (State, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return State{}, shared.WrapError("guest", "Decode", shared.ErrInvalidFormat, "guest snapshot is malformed", err)
	}
	if env.Version > SnapshotVersion || len(env.State) == 0 || string(env.State) == "null" {
		return State{}, shared.ErrSnapshotMalformed
	}

	var s State
	if err := json.Unmarshal(env.State, &s); err != nil {
		return State{}, shared.WrapError("guest", "Decode", shared.ErrInvalidFormat, "guest snapshot is malformed", err)
	}
	return s.normalize(defaultLimit), nil
}

// SnapshotStore persists one guest's state as a snapshot in a KVStore under
// "<namespace>:<guest id>".
type SnapshotStore struct {
	kv           KVStore
	key          string
	defaultLimit int
}

// NewSnapshotStore creates a SnapshotStore for the given guest.
// An empty namespace uses DefaultNamespace.
func NewSnapshotStore(kv KVStore, namespace string, id GuestID, defaultLimit int) *SnapshotStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &SnapshotStore{
		kv:           kv,
		key:          SnapshotKey(namespace, id),
		defaultLimit: defaultLimit,
	}
}

// SnapshotKey returns the KV key for a guest snapshot.
func SnapshotKey(namespace string, id GuestID) string {
	return namespace + ":" + id.String()
}

// Key returns the KV key this store reads and writes.
func (s *SnapshotStore) Key() string {
	return s.key
}

// Load reads the snapshot. A missing snapshot yields a fresh state and
// shared.ErrSnapshotNotFound; a malformed one yields a fresh state and the
// decode error. Callers may ignore the error and use the returned state.
func (s *SnapshotStore) Load(ctx context.Context) (State, error) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return NewState(s.defaultLimit), err
	}
	state, err := DecodeSnapshot(data, s.defaultLimit)
	if err != nil {
		return NewState(s.defaultLimit), err
	}
	return state, nil
}

// Save writes the snapshot.
func (s *SnapshotStore) Save(ctx context.Context, state State) error {
	data, err := EncodeSnapshot(state)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key, data)
}

// Delete removes the snapshot entirely.
func (s *SnapshotStore) Delete(ctx context.Context) error {
	err := s.kv.Delete(ctx, s.key)
	if errors.Is(err, shared.ErrSnapshotNotFound) {
		return nil
	}
	return err
}
