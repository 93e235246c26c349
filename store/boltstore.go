package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var kvBucket = []byte("kv")

// BoltStore is a bbolt-backed Store. A single bucket holds every namespace;
// bbolt's ordered cursors give the listing contract directly.
type BoltStore struct {
	*bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens or creates the database file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(kvBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{DB: db}, nil
}

func (s *BoltStore) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(kvBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *BoltStore) GetMulti(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	err := s.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(kvBucket)
		for _, k := range keys {
			if v := b.Get([]byte(k)); v != nil {
				out[k] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Put(_ context.Context, key string, value []byte) error {
	return s.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), value)
	})
}

func (s *BoltStore) PutMulti(_ context.Context, entries map[string][]byte) error {
	return s.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(kvBucket)
		for k, v := range entries {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Delete(_ context.Context, keys ...string) error {
	return s.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(kvBucket)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) List(_ context.Context, opts ListOptions) ([]Entry, error) {
	var out []Entry
	prefix := []byte(opts.Prefix)
	err := s.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(kvBucket).Cursor()
		if !opts.Reverse {
			for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
				if opts.End != "" && string(k) >= opts.End {
					break
				}
				out = append(out, Entry{Key: string(k), Value: append([]byte(nil), v...)})
				if opts.Limit > 0 && len(out) == opts.Limit {
					break
				}
			}
			return nil
		}

		// Reverse: position the cursor on the largest key below the upper
		// bound, then walk backwards while the prefix holds.
		bound := prefixEnd(prefix)
		if opts.End != "" && (bound == nil || opts.End < string(bound)) {
			bound = []byte(opts.End)
		}
		var k, v []byte
		if bound == nil {
			k, v = c.Last()
		} else {
			k, v = c.Seek(bound)
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			out = append(out, Entry{Key: string(k), Value: append([]byte(nil), v...)})
			if opts.Limit > 0 && len(out) == opts.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Close() error { return s.DB.Close() }
