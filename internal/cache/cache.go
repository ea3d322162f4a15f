// Package cache implements the on-disk synthesis cache. Entries are keyed
// by a stable fingerprint of (provider, voice, markup, text, target
// encoding) and hold the canonical converted audio, zstd-compressed. Only
// providers that declare deterministic output participate; for them a cache
// hit is byte-identical to re-synthesis.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Key is a stable fingerprint identifying one synthesized clip.
type Key string

// Fingerprint derives the cache key. Every input that changes the canonical
// output bytes participates, including the normalize flag: a normalized and
// a non-normalized build of the same phrase are distinct entries. Field
// order and separators are part of the on-disk format; changing them
// invalidates existing caches.
func Fingerprint(providerID, voiceID, markup, text string, sampleRate, channels, bitDepth int, normalize bool) Key {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|%d|%d|%t",
		providerID, voiceID, markup, text, sampleRate, channels, bitDepth, normalize)
	return Key(hex.EncodeToString(h.Sum(nil)))
}

// Stats tracks cache effectiveness for the CLI summary.
type Stats struct {
	Hits   int64
	Misses int64
	Puts   int64
	Errors int64
}

// Cache is a disk-backed blob store. Safe for concurrent use.
type Cache struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu    sync.Mutex
	stats Stats
}

// New opens (creating if needed) a cache rooted at dir.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create cache directory: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("unable to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("unable to create zstd decoder: %w", err)
	}
	return &Cache{dir: dir, encoder: enc, decoder: dec}, nil
}

// path maps a key to its blob file.
func (c *Cache) path(key Key) string {
	return filepath.Join(c.dir, string(key)+".zst")
}

// Get returns the cached blob for key, or (nil, false) on a miss. Corrupt
// entries count as misses and are removed.
func (c *Cache) Get(key Key) ([]byte, bool) {
	compressed, err := os.ReadFile(c.path(key))
	if err != nil {
		c.bump(func(s *Stats) { s.Misses++ })
		return nil, false
	}
	data, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		_ = os.Remove(c.path(key))
		c.bump(func(s *Stats) { s.Misses++; s.Errors++ })
		return nil, false
	}
	c.bump(func(s *Stats) { s.Hits++ })
	return data, true
}

// Put stores a blob under key. Writes go through a temp file and rename so
// a crashed build never leaves a truncated entry behind.
func (c *Cache) Put(key Key, data []byte) error {
	compressed := c.encoder.EncodeAll(data, nil)

	tmp, err := os.CreateTemp(c.dir, "put-*")
	if err != nil {
		c.bump(func(s *Stats) { s.Errors++ })
		return fmt.Errorf("unable to create cache temp file: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		c.bump(func(s *Stats) { s.Errors++ })
		return fmt.Errorf("unable to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		c.bump(func(s *Stats) { s.Errors++ })
		return fmt.Errorf("unable to close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		c.bump(func(s *Stats) { s.Errors++ })
		return fmt.Errorf("unable to commit cache entry: %w", err)
	}
	c.bump(func(s *Stats) { s.Puts++ })
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close releases the compressor resources.
func (c *Cache) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

func (c *Cache) bump(f func(*Stats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}
