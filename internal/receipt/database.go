package receipt

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

const receiptBucketName = "receipts"

// DB defines the interface for receipt persistence.
type DB interface {
	// SaveReceipt saves a receipt.
	SaveReceipt(record *Receipt) error

	// GetReceipt retrieves a receipt by ID.
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts belonging to a user.
	ListReceipts(userID string) ([]*Receipt, error)

	// DeleteReceipt removes a receipt.
	DeleteReceipt(id string) error
}

// BoltDB implements the DB interface on a shared bbolt database. The same
// database file also carries the usage counters and plan buckets.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates the receipts bucket if needed.
func NewBoltDB(db *bbolt.DB) (*BoltDB, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(receiptBucketName))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating receipts bucket: %w", err)
	}
	return &BoltDB{db: db}, nil
}

// SaveReceipt saves a receipt.
func (b *BoltDB) SaveReceipt(record *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// GetReceipt retrieves a receipt by ID.
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var record *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(receiptBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt not found: %s", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListReceipts returns all receipts belonging to a user.
func (b *BoltDB) ListReceipts(userID string) ([]*Receipt, error) {
	records := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptBucketName)).ForEach(func(k, v []byte) error {
			var record Receipt
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			if record.UserID == userID {
				records = append(records, &record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteReceipt removes a receipt.
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(receiptBucketName)).Delete([]byte(id))
	})
}
