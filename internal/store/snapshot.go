package store

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Snapshot is the persistence port for the conversation store: one
// serialized blob under a single well-known slot. Implementations must
// return (nil, nil) from Load when the slot has never been written.
type Snapshot interface {
	Load() ([]byte, error)
	Save(data []byte) error
	Close() error
}

var (
	snapshotBucket = []byte("state")
	snapshotKey    = []byte("conversations")
)

// BoltSnapshot stores the blob in a bbolt file, one bucket, one key.
type BoltSnapshot struct {
	db *bolt.DB
}

// OpenBoltSnapshot opens (or creates) the bolt file at path.
func OpenBoltSnapshot(path string) (*BoltSnapshot, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	return &BoltSnapshot{db: db}, nil
}

func (s *BoltSnapshot) Load() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotBucket)
		if b == nil {
			return nil
		}
		if v := b.Get(snapshotKey); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *BoltSnapshot) Save(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(snapshotBucket)
		if err != nil {
			return err
		}
		return b.Put(snapshotKey, data)
	})
}

func (s *BoltSnapshot) Close() error {
	return s.db.Close()
}

// MemorySnapshot keeps the blob in memory (tests, ephemeral sessions).
type MemorySnapshot struct {
	mu   sync.Mutex
	data []byte
}

func NewMemorySnapshot() *MemorySnapshot { return &MemorySnapshot{} }

func (s *MemorySnapshot) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	return append([]byte(nil), s.data...), nil
}

func (s *MemorySnapshot) Save(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *MemorySnapshot) Close() error { return nil }
