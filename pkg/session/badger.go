package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	keyPrefix          = "session:"
	maxTxnRetries      = 5
	inMemoryBadgerPath = ""
)

type badgerRecord struct {
	Sender   string `json:"sender"`
	StoredAt int64  `json:"stored_at"`
}

// BadgerStore persists session entries in badger using native key TTLs.
type BadgerStore struct {
	db       *badger.DB
	capacity int
	ttl      time.Duration
}

// OpenBadgerStore opens (or creates) a store at path; an empty path keeps data in memory.
func OpenBadgerStore(path string, capacity int, ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if strings.TrimSpace(path) == inMemoryBadgerPath {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	return &BadgerStore{db: db, capacity: capacity, ttl: ttl}, nil
}

func (s *BadgerStore) Put(_ context.Context, token string, sender string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("session token is required")
	}

	value, err := json.Marshal(badgerRecord{Sender: sender, StoredAt: time.Now().UnixNano()})
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	return s.update(func(txn *badger.Txn) error {
		key := sessionKey(token)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			if err := s.evictForInsert(txn); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		entry := badger.NewEntry(key, value)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *BadgerStore) Take(_ context.Context, token string) (string, bool, error) {
	var sender string
	var found bool

	err := s.update(func(txn *badger.Txn) error {
		sender, found = "", false

		key := sessionKey(strings.TrimSpace(token))
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var record badgerRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		}); err != nil {
			return fmt.Errorf("decode session record: %w", err)
		}

		sender, found = record.Sender, true
		return txn.Delete(key)
	})
	if err != nil {
		return "", false, fmt.Errorf("take session %s: %w", token, err)
	}

	return sender, found, nil
}

func (s *BadgerStore) Len(_ context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}

	return count, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// evictForInsert deletes the oldest entries until one more fits.
func (s *BadgerStore) evictForInsert(txn *badger.Txn) error {
	if s.capacity <= 0 {
		return nil
	}

	type stored struct {
		key      []byte
		storedAt int64
	}

	var live []stored
	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	prefix := []byte(keyPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var record badgerRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		}); err != nil {
			it.Close()
			return fmt.Errorf("decode session record: %w", err)
		}
		live = append(live, stored{key: item.KeyCopy(nil), storedAt: record.StoredAt})
	}
	it.Close()

	for len(live) >= s.capacity {
		oldest := 0
		for i := range live {
			if live[i].storedAt < live[oldest].storedAt {
				oldest = i
			}
		}
		if err := txn.Delete(live[oldest].key); err != nil {
			return err
		}
		live = append(live[:oldest], live[oldest+1:]...)
	}

	return nil
}

func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxTxnRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}

	return err
}

func sessionKey(token string) []byte {
	return []byte(keyPrefix + token)
}
