package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSStore persists sessions in a JetStream key-value bucket, reusing
// the same connection the chat transport rides on. This is the durable
// production backend.
type NATSStore struct {
	kv nats.KeyValue
}

// NewNATSStore binds to bucket, creating it when absent.
func NewNATSStore(js nats.JetStreamContext, bucket string) (*NATSStore, error) {
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "scenario session state",
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("bind session bucket %q: %w", bucket, err)
	}
	return &NATSStore{kv: kv}, nil
}

func (s *NATSStore) Get(_ context.Context, key Key) (*State, error) {
	entry, err := s.kv.Get(key.storageKey())
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", key, err)
	}
	var st State
	if err := json.Unmarshal(entry.Value(), &st); err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", key, err)
	}
	return &st, nil
}

func (s *NATSStore) Put(_ context.Context, key Key, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", key, err)
	}
	if _, err := s.kv.Put(key.storageKey(), data); err != nil {
		return fmt.Errorf("write session %s: %w", key, err)
	}
	return nil
}

func (s *NATSStore) Delete(_ context.Context, key Key) error {
	err := s.kv.Purge(key.storageKey())
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}
