// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache persists driver results so that a run over a graph the
// driver has already seen can be replayed instead of searched.
//
// Entries are JSON records in BadgerDB under the "opfuse/match/" prefix.
// The key is chosen by the caller; the driver derives it from the graph
// fingerprint, the registered pattern set and the visit order. A record
// written by a different format version reads as a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/opfuse/services/fusion/storage/badger"
)

const (
	keyPrefix     = "opfuse/match/"
	recordVersion = 1
)

// Entry is one match of a cached run.
type Entry struct {
	Pattern string `json:"pattern"`
	Seed    int    `json:"seed"`
	Ops     []int  `json:"ops"`
}

type record struct {
	Version int       `json:"version"`
	Created time.Time `json:"created"`
	Entries []Entry   `json:"entries"`
}

// Option configures a Store.
type Option func(*Store)

// WithTTL expires entries after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store is a match cache backed by BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badgerstore.DB
	owned  bool
	ttl    time.Duration
	logger *slog.Logger
	closed atomic.Bool
}

// New wraps an open database. The caller keeps ownership of db.
func New(db *badgerstore.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Open opens a database with cfg and wraps it. Close closes the database.
func Open(cfg badgerstore.Config, opts ...Option) (*Store, error) {
	db, err := badgerstore.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open match cache: %w", err)
	}
	s, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// OpenInMemory opens a cache on a fresh in-memory database.
func OpenInMemory(opts ...Option) (*Store, error) {
	return Open(badgerstore.InMemoryConfig(), opts...)
}

// Get returns the entries stored under key.
//
// Outputs:
//
//	[]Entry - The cached matches, in run order.
//	bool    - False on a miss, including expired and old-format records.
//	error   - ErrCorruptEntry for undecodable records, or a storage error.
func (s *Store) Get(ctx context.Context, key string) ([]Entry, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	var raw []byte
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		recordLookup(ctx, false, "absent")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		recordLookup(ctx, false, "corrupt")
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCorruptEntry, key, err)
	}
	if rec.Version != recordVersion {
		recordLookup(ctx, false, "version")
		s.logger.Debug("cache entry has old format",
			slog.String("key", key),
			slog.Int("version", rec.Version),
		)
		return nil, false, nil
	}
	recordLookup(ctx, true, "")
	return rec.Entries, true, nil
}

// Put stores entries under key, replacing any previous record.
func (s *Store) Put(ctx context.Context, key string, entries []Entry) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyKey
	}
	if entries == nil {
		entries = []Entry{}
	}
	raw, err := json.Marshal(record{Version: recordVersion, Created: time.Now().UTC(), Entries: entries})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	err = s.db.Update(ctx, func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+key), raw)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	recordWrite(ctx, len(raw))
	return nil
}

// Delete removes the record under key. Deleting a missing key is not an
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyKey
	}
	return s.db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
}

// Purge removes every match record.
func (s *Store) Purge(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.DropPrefix([]byte(keyPrefix))
}

// Keys returns the stored keys without the prefix, in key order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var keys []string
	err := s.db.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	return keys, err
}

// Close releases the store. The database is closed only if Open created it.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.owned {
		return s.db.Close()
	}
	return nil
}
