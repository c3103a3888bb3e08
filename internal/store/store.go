// Package store persists conversation continuation metadata in a bolt
// database so a new process can resume a conversation where the last one left
// off. Values are the identifier triples keyed by account and model.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const metaBucket = "account_meta"

// Store is a bolt-backed metadata store. The database is opened per operation
// so multiple short-lived processes can share the file.
type Store struct {
	path string
}

// New creates a store at the given database path, creating parent directories
// as needed.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

// metaKey builds the bucket key for an (account, model) pair.
func metaKey(account, model string) []byte {
	return []byte(fmt.Sprintf("account-meta|%s|%s", account, model))
}

// PutMetadata stores the identifier triple for an (account, model) pair.
func (s *Store) PutMetadata(account, model string, metadata []string) error {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.Update(func(tx *bolt.Tx) error {
		b, errBucket := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if errBucket != nil {
			return errBucket
		}
		enc, errMarshal := json.Marshal(metadata)
		if errMarshal != nil {
			return errMarshal
		}
		return b.Put(metaKey(account, model), enc)
	})
}

// GetMetadata loads the identifier triple for an (account, model) pair. The
// bool result reports whether an entry existed.
func (s *Store) GetMetadata(account, model string) ([]string, bool, error) {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = db.Close() }()
	var out []string
	found := false
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(metaBucket))
		if b == nil {
			return nil
		}
		v := b.Get(metaKey(account, model))
		if len(v) == 0 {
			return nil
		}
		if errUnmarshal := json.Unmarshal(v, &out); errUnmarshal != nil {
			// Skip malformed entries instead of failing the lookup.
			return nil
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, found, nil
}

// DeleteMetadata removes the entry for an (account, model) pair, e.g. after
// an explicit conversation reset.
func (s *Store) DeleteMetadata(account, model string) error {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(metaBucket))
		if b == nil {
			return nil
		}
		return b.Delete(metaKey(account, model))
	})
}
