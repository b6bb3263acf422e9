// Package blobcache caches binary resources from the secondary remote
// store on local disk, keyed by logical path and validated against the
// upstream revision fingerprint. A cached entry is only replaced once a
// full fetch has succeeded; blob and fingerprint are written in a single
// transaction, so a partially-written entry is never observable.
package blobcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketBlobs = []byte("blobs")
	bucketMeta  = []byte("meta")
)

// ErrClosed is returned when the cache is used after Close.
var ErrClosed = errors.New("blobcache: cache is closed")

// Source fetches resources and their fingerprints from the upstream store.
type Source interface {
	// Download fetches the resource bytes at the given path.
	Download(ctx context.Context, path string) ([]byte, error)

	// Fingerprint returns the upstream revision fingerprint for the path.
	Fingerprint(ctx context.Context, path string) (string, error)
}

// entryMeta is the persisted metadata for a cached blob.
type entryMeta struct {
	Fingerprint string    `json:"fingerprint"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Cache is a path-addressed blob cache backed by a single bbolt file.
type Cache struct {
	db     *bolt.DB
	source Source
	logger *slog.Logger
}

// Open opens (or creates) the cache file and its buckets.
func Open(path string, source Source, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("blobcache: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBlobs); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blobcache: init buckets: %w", err)
	}

	return &Cache{db: db, source: source, logger: logger}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the resource at the given path, serving the cached copy when
// the upstream fingerprint is unchanged, and fetching (then persisting)
// otherwise. A failed metadata query counts as a fingerprint mismatch: the
// cache falls back to a full fetch rather than serving possibly-stale bytes.
func (c *Cache) Get(ctx context.Context, path string) ([]byte, error) {
	cached, meta := c.lookup(path)

	if cached != nil {
		fp, err := c.source.Fingerprint(ctx, path)
		if err == nil && fp != "" && fp == meta.Fingerprint {
			return cached, nil
		}
		if err != nil {
			c.logger.Warn("blobcache fingerprint check failed, refetching",
				"path", path, "error", err)
		}
	}

	data, err := c.source.Download(ctx, path)
	if err != nil {
		return nil, err
	}

	fp, err := c.source.Fingerprint(ctx, path)
	if err != nil {
		// Still serve the fresh bytes; an empty fingerprint just forces a
		// re-download next time.
		c.logger.Warn("blobcache fingerprint fetch failed", "path", path, "error", err)
		fp = ""
	}

	if err := c.put(path, data, fp); err != nil {
		c.logger.Warn("blobcache persist failed", "path", path, "error", err)
	}
	return data, nil
}

// lookup returns the cached blob and its metadata, or (nil, zero) on miss.
func (c *Cache) lookup(path string) ([]byte, entryMeta) {
	var data []byte
	var meta entryMeta

	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlobs).Get([]byte(path))
		if raw == nil {
			return nil
		}
		data = append([]byte(nil), raw...)

		if m := tx.Bucket(bucketMeta).Get([]byte(path)); m != nil {
			// A malformed meta record degrades to a miss.
			if err := json.Unmarshal(m, &meta); err != nil {
				data = nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, entryMeta{}
	}
	return data, meta
}

// put persists blob and fingerprint together in one transaction.
func (c *Cache) put(path string, data []byte, fingerprint string) error {
	metaJSON, err := json.Marshal(entryMeta{
		Fingerprint: fingerprint,
		FetchedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlobs).Put([]byte(path), data); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(path), metaJSON)
	})
}
