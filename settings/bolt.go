package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var settingsBucket = []byte("settings")

// BoltStore keeps settings in a bbolt database, one key per dotted path with
// JSON-encoded values. Every Set is committed, so Persist is a no-op kept for
// interface compatibility.
type BoltStore struct {
	db  *bolt.DB
	log *slog.Logger
}

// NewBoltStore opens or creates a bbolt-backed settings store at path.
func NewBoltStore(path string, log *slog.Logger) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(settingsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create settings bucket: %w", err)
	}

	return &BoltStore{db: db, log: log}, nil
}

// Get returns the value at the dotted key, or def when absent or unreadable.
func (s *BoltStore) Get(key string, def any) any {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(settingsBucket).Get([]byte(key)); v != nil {
			raw = append(raw, v...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return def
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		s.log.Debug("Unreadable settings value", slog.String("key", key), "err", err)
		return def
	}
	return value
}

// Set stores a value at the dotted key. The write is committed immediately.
func (s *BoltStore) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal settings value: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(settingsBucket).Put([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("failed to store settings value: %w", err)
	}
	return nil
}

// Persist is a no-op; bbolt commits on every Set.
func (s *BoltStore) Persist() error {
	return nil
}

// Close releases the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Name returns a unique identifier for this store backend.
func (s *BoltStore) Name() string {
	return fmt.Sprintf("bolt-%s", filepath.Base(s.db.Path()))
}
