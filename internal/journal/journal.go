// Package journal persists the per-document operation history to a local
// bbolt database. The journal is append-only and purely an audit aid; the
// in-memory history remains the working copy.
package journal

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Journal is an append-only store of acknowledged operation records, one
// bucket per document.
type Journal struct {
	db     *bolt.DB
	logger *zap.Logger
}

// Open opens (or creates) the journal database at path.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	return &Journal{db: db, logger: logger}, nil
}

// Append stores one encoded operation record under the document's bucket.
// Records are keyed by a monotonically increasing sequence number.
func (j *Journal) Append(documentID string, record []byte) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(documentID))
		if err != nil {
			return fmt.Errorf("creating bucket for %s: %w", documentID, err)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bucket.Put(key, record)
	})
}

// List returns all records for a document in append order.
func (j *Journal) List(documentID string) ([][]byte, error) {
	var records [][]byte
	err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(documentID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, v []byte) error {
			record := make([]byte, len(v))
			copy(record, v)
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Len returns the number of records stored for a document.
func (j *Journal) Len(documentID string) (int, error) {
	count := 0
	err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(documentID))
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
