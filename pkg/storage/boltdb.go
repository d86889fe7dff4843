package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cuemby/squares/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketMeta        = []byte("meta")
	bucketReactions   = []byte("reactions")
	bucketMessages    = []byte("messages")
	bucketSquareboard = []byte("squareboard")
)

// Schema versions, one per aggregate
const (
	ReactionsVersion   = 1
	MessagesVersion    = 1
	SquareboardVersion = 1
)

var schemaVersions = map[string]int{
	string(bucketReactions):   ReactionsVersion,
	string(bucketMessages):    MessagesVersion,
	string(bucketSquareboard): SquareboardVersion,
}

// DBFile is the database file name inside the data directory
const DBFile = "squares.db"

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store. The file lock held by
// bbolt keeps a second instance from opening the same data directory.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, DBFile)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketMeta, err)
		}

		for name, want := range schemaVersions {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
			if err := checkVersion(meta, name, want); err != nil {
				return err
			}
		}

		reactions := tx.Bucket(bucketReactions)
		for _, c := range types.Colors {
			if _, err := reactions.CreateBucketIfNotExists([]byte(c.String())); err != nil {
				return fmt.Errorf("failed to create bucket %s/%s: %w", bucketReactions, c, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func checkVersion(meta *bolt.Bucket, name string, want int) error {
	raw := meta.Get([]byte(name))
	if raw == nil {
		return meta.Put([]byte(name), []byte(strconv.Itoa(want)))
	}
	got, err := strconv.Atoi(string(raw))
	if err != nil {
		return fmt.Errorf("invalid schema version for %s: %q", name, raw)
	}
	if got > want {
		return fmt.Errorf("%w: %s is at version %d, this build supports %d", ErrUnsupportedVersion, name, got, want)
	}
	return nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is open and readable
func (s *BoltStore) Ping() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketMeta) == nil {
			return fmt.Errorf("bucket %s missing", bucketMeta)
		}
		return nil
	})
}

// Version returns the stored schema version of an aggregate
func (s *BoltStore) Version(aggregate string) (int, error) {
	var v int
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get([]byte(aggregate))
		if raw == nil {
			return fmt.Errorf("no version recorded for %s", aggregate)
		}
		var err error
		v, err = strconv.Atoi(string(raw))
		return err
	})
	return v, err
}

func reactionKey(r types.Reaction) []byte {
	return []byte(r.MessageID + "/" + r.TargetID + "/" + r.SourceID)
}

// Reaction operations
func (s *BoltStore) LoadReactions() ([]types.Change, error) {
	var records []types.Change
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketReactions)
		for _, c := range types.Colors {
			b := root.Bucket([]byte(c.String()))
			if b == nil {
				continue
			}
			color := c
			err := b.ForEach(func(k, v []byte) error {
				var r types.Reaction
				if err := json.Unmarshal(v, &r); err != nil {
					return fmt.Errorf("decode %s reaction %s: %w", color, k, err)
				}
				records = append(records, types.Change{Color: color, Reaction: r})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return records, err
}

// ApplyTransaction writes every add and remove in one bolt transaction
func (s *BoltStore) ApplyTransaction(txn *types.Transaction) error {
	if txn.Empty() {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketReactions)
		for _, ch := range txn.Adds {
			b := root.Bucket([]byte(ch.Color.String()))
			if b == nil {
				return fmt.Errorf("no bucket for color %s", ch.Color)
			}
			data, err := json.Marshal(ch.Reaction)
			if err != nil {
				return err
			}
			if err := b.Put(reactionKey(ch.Reaction), data); err != nil {
				return err
			}
		}
		for _, ch := range txn.Removes {
			b := root.Bucket([]byte(ch.Color.String()))
			if b == nil {
				return fmt.Errorf("no bucket for color %s", ch.Color)
			}
			if err := b.Delete(reactionKey(ch.Reaction)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveReactions replaces every stored reaction with records
func (s *BoltStore) SaveReactions(records []types.Change) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketReactions); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		root, err := tx.CreateBucket(bucketReactions)
		if err != nil {
			return err
		}
		for _, c := range types.Colors {
			if _, err := root.CreateBucket([]byte(c.String())); err != nil {
				return err
			}
		}
		for _, rec := range records {
			data, err := json.Marshal(rec.Reaction)
			if err != nil {
				return err
			}
			if err := root.Bucket([]byte(rec.Color.String())).Put(reactionKey(rec.Reaction), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Message cache operations
func (s *BoltStore) LoadMessages() (map[string]*types.CachedMessage, error) {
	msgs := make(map[string]*types.CachedMessage)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		return b.ForEach(func(k, v []byte) error {
			var msg types.CachedMessage
			if err := json.Unmarshal(v, &msg); err != nil {
				return err
			}
			msgs[string(k)] = &msg
			return nil
		})
	})
	return msgs, err
}

func (s *BoltStore) PutMessage(msg *types.CachedMessage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return b.Put([]byte(msg.ID), data)
	})
}

func (s *BoltStore) DeleteMessage(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) SaveMessages(msgs map[string]*types.CachedMessage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := recreate(tx, bucketMessages)
		if err != nil {
			return err
		}
		for id, msg := range msgs {
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Squareboard operations
func (s *BoltStore) LoadSquareboard() (map[string]*types.SquareboardEntry, error) {
	entries := make(map[string]*types.SquareboardEntry)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSquareboard)
		return b.ForEach(func(k, v []byte) error {
			var entry types.SquareboardEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries[string(k)] = &entry
			return nil
		})
	})
	return entries, err
}

func (s *BoltStore) PutSquareboardEntry(messageID string, entry *types.SquareboardEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSquareboard)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(messageID), data)
	})
}

func (s *BoltStore) DeleteSquareboardEntry(messageID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSquareboard)
		return b.Delete([]byte(messageID))
	})
}

func (s *BoltStore) SaveSquareboard(entries map[string]*types.SquareboardEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := recreate(tx, bucketSquareboard)
		if err != nil {
			return err
		}
		for id, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func recreate(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to reset bucket %s: %w", name, err)
	}
	return tx.CreateBucket(name)
}
