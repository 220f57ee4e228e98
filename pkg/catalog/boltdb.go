package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/fdfs/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned by Get for unknown file ids
var ErrNotFound = errors.New("catalog record not found")

var bucketFiles = []byte("files")

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// Open opens or creates the catalog database at path
func Open(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketFiles); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketFiles, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put inserts or replaces the record keyed by its file id
func (s *BoltStore) Put(rec *FileRecord) error {
	if _, _, err := types.SplitFileID(rec.FileID); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.FileID), data)
	})
}

func (s *BoltStore) Get(fileID string) (*FileRecord, error) {
	var rec FileRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(fileID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns every record ordered by file id
func (s *BoltStore) List() ([]*FileRecord, error) {
	return s.list(func(*FileRecord) bool { return true })
}

func (s *BoltStore) ListByGroup(group string) ([]*FileRecord, error) {
	return s.list(func(r *FileRecord) bool { return r.Group == group })
}

func (s *BoltStore) list(keep func(*FileRecord) bool) ([]*FileRecord, error) {
	var recs []*FileRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
			var rec FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", k, err)
			}
			if keep(&rec) {
				recs = append(recs, &rec)
			}
			return nil
		})
	})
	return recs, err
}

// Delete removes a record. Deleting an unknown id is not an error.
func (s *BoltStore) Delete(fileID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).Delete([]byte(fileID))
	})
}
