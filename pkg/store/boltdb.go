package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/wharfd/wharf/pkg/types"
)

var (
	// Bucket names
	bucketInstances = []byte("instances")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the bookkeeping database in
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "wharf.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketInstances); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketInstances, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) GetRecord(service string) (*InstanceRecord, error) {
	var record *InstanceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		data := b.Get([]byte(service))
		if data == nil {
			return nil
		}
		record = &InstanceRecord{}
		return json.Unmarshal(data, record)
	})
	return record, err
}

func (s *BoltStore) PutRecord(record *InstanceRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.Service), data)
	})
}

func (s *BoltStore) DeleteRecord(service string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		return b.Delete([]byte(service))
	})
}

func (s *BoltStore) ListRecords() ([]*InstanceRecord, error) {
	var records []*InstanceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		return b.ForEach(func(k, v []byte) error {
			var record InstanceRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) ReferencedIdentities(specs []*types.ServiceSpec) (map[string]bool, error) {
	identities := make(map[string]bool)
	for _, spec := range specs {
		if spec.Identity != "" {
			identities[spec.Identity] = true
		}
	}
	records, err := s.ListRecords()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.Identity != "" {
			identities[record.Identity] = true
		}
	}
	return identities, nil
}

func (s *BoltStore) KnownInstances() (map[string]bool, error) {
	names := make(map[string]bool)
	records, err := s.ListRecords()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.Current != "" {
			names[record.Current] = true
		}
		if record.Previous != "" {
			names[record.Previous] = true
		}
	}
	return names, nil
}
