package metering

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"
)

const usageBucketName = "usage"

// BoltCounterStore implements CounterStore on a bbolt bucket. bbolt runs
// Update transactions serially, which makes IncrementBelow atomic: two
// concurrent requests at the quota boundary cannot both pass the check.
type BoltCounterStore struct {
	db *bbolt.DB
}

// NewBoltCounterStore creates the usage bucket if needed.
func NewBoltCounterStore(db *bbolt.DB) (*BoltCounterStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(usageBucketName))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating usage bucket: %w", err)
	}
	return &BoltCounterStore{db: db}, nil
}

func decodeCount(data []byte) int {
	if len(data) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(data))
}

func encodeCount(count int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(count))
	return buf
}

// Count returns the counter for key, 0 when absent.
func (s *BoltCounterStore) Count(key string) (int, error) {
	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = decodeCount(tx.Bucket([]byte(usageBucketName)).Get([]byte(key)))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// IncrementBelow increments the counter for key inside a single write
// transaction, refusing without mutation when it is already at the limit.
func (s *BoltCounterStore) IncrementBelow(key string, limit int) (int, bool, error) {
	var (
		count int
		ok    bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(usageBucketName))
		count = decodeCount(bucket.Get([]byte(key)))

		if limit != Unlimited && count >= limit {
			ok = false
			return nil
		}

		count++
		ok = true
		return bucket.Put([]byte(key), encodeCount(count))
	})
	if err != nil {
		return 0, false, err
	}
	return count, ok, nil
}
