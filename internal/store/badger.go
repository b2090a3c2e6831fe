package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var badgerPrefix = []byte("msg:")

// BadgerStore keeps the message log in an embedded BadgerDB. Keys are
// "msg:{timestamp_padded}:{uuid}": the 19-digit zero padding makes
// lexicographic key order match chronological order, and the UUID suffix
// keeps two messages landing on the same nanosecond from colliding.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens the database directory at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger database %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Append(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg = stampTime(msg)
	key := fmt.Sprintf("msg:%019d:%s", msg.At.UnixNano(), uuid.New())
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	return nil
}

func (s *BadgerStore) RecentHistory(ctx context.Context, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var msgs []Message
	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the largest padded timestamp, then walk newest to oldest.
		seekKey := append(append([]byte(nil), badgerPrefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(badgerPrefix); it.Next() {
			if limit > 0 && len(msgs) == limit {
				break
			}
			var msg Message
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &msg)
			})
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	return lo.Reverse(msgs), nil
}

func (s *BadgerStore) PurgeAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.DropPrefix(badgerPrefix); err != nil {
		return fmt.Errorf("purge messages: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
