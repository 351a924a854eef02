package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kioskops/provisioning-agent/api"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned when no record exists for a fingerprint.
var ErrNotFound = errors.New("enrollment record not found")

// Record is one device's enrollment request and its decision state.
type Record struct {
	Fingerprint string               `json:"fingerprint"`
	Status      api.EnrollmentStatus `json:"status"`
	Credential  string               `json:"credential,omitempty"`
	Reason      string               `json:"reason,omitempty"`

	Hostname string            `json:"hostname,omitempty"`
	Platform string            `json:"platform,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	DecidedAt time.Time `json:"decided_at,omitzero"`
}

// Response converts the record to its wire representation, honoring the
// credential-travels-with-approved contract.
func (r *Record) Response() *api.EnrollmentResponse {
	resp := &api.EnrollmentResponse{
		Fingerprint: r.Fingerprint,
		Status:      r.Status,
	}
	switch r.Status {
	case api.EnrollmentApproved:
		resp.Credential = r.Credential
	case api.EnrollmentRejected:
		resp.Reason = r.Reason
	}
	return resp
}

// Store persists enrollment records keyed by fingerprint.
type Store interface {
	// Put inserts or replaces a record.
	Put(rec *Record) error

	// Get returns the record for a fingerprint, or ErrNotFound.
	Get(fingerprint string) (*Record, error)

	// List returns all records, ordered by creation time.
	List() ([]*Record, error)
}

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Put inserts or replaces a record.
func (s *MemoryStore) Put(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.Fingerprint] = &cp
	return nil
}

// Get returns the record for a fingerprint, or ErrNotFound.
func (s *MemoryStore) Get(fingerprint string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// List returns all records ordered by creation time.
func (s *MemoryStore) List() ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var enrollmentsBucket = []byte("enrollments")

// BoltStore persists enrollment records in a bbolt database so decisions
// survive approval-service restarts.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a bbolt-backed record store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open enrollment database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(enrollmentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create enrollments bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Put inserts or replaces a record.
func (s *BoltStore) Put(rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal enrollment record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(enrollmentsBucket).Put([]byte(rec.Fingerprint), raw)
	})
}

// Get returns the record for a fingerprint, or ErrNotFound.
func (s *BoltStore) Get(fingerprint string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(enrollmentsBucket).Get([]byte(fingerprint))
		if raw == nil {
			return ErrNotFound
		}
		rec = new(Record)
		return json.Unmarshal(raw, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns all records ordered by creation time.
func (s *BoltStore) List() ([]*Record, error) {
	var out []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(enrollmentsBucket).ForEach(func(_, raw []byte) error {
			rec := new(Record)
			if err := json.Unmarshal(raw, rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close releases the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
