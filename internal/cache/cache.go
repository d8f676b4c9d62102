// Package cache persists an elaborated package graph to disk and
// restores it, replacing the pickle-based cache the core used to rely
// on with an explicit, versioned binary format: a flattened graph of
// nodes addressed by package id, compressed, with a leading format
// version byte so an incompatible on-disk layout is a cache miss
// rather than a decode panic.
package cache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/forgehq/foundry/internal/core"
	"github.com/forgehq/foundry/internal/paths"
)

// formatVersion is bumped whenever Entry's shape changes. decode treats
// any other value as a miss so an upgrade never fails a build.
const formatVersion byte = 1

// Entry is one persisted elaboration result: the cache key it was
// computed under and the flattened graph it maps to.
type Entry struct {
	Key      string
	Snapshot core.Snapshot
}

// encode produces the on-disk representation of entry: a format
// version byte followed by a zstd-compressed gob stream.
func encode(entry Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(formatVersion)

	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("cache: zstd writer: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(entry); err != nil {
		zw.Close()
		return nil, fmt.Errorf("cache: encode: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("cache: zstd close: %w", err)
	}
	return buf.Bytes(), nil
}

// decode reverses encode. A truncated payload, an unreadable zstd
// stream, or an unrecognized format version are all reported as a
// miss (nil, nil) rather than an error — a corrupt or stale cache
// entry must never fail the caller, only an I/O error does.
func decode(data []byte) (*Entry, error) {
	if len(data) == 0 || data[0] != formatVersion {
		return nil, nil
	}

	zr, err := zstd.NewReader(bytes.NewReader(data[1:]))
	if err != nil {
		return nil, nil
	}
	defer zr.Close()

	var e Entry
	if err := gob.NewDecoder(zr).Decode(&e); err != nil {
		return nil, nil
	}
	return &e, nil
}

// LoadFile reads and decodes the entry stored at path. A missing file
// is a miss (nil, nil); any other read failure is an error.
func LoadFile(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: read: %w", err)
	}
	return decode(data)
}

// SaveFile encodes entry and writes it to path, creating path's parent
// directory if needed. The write lands via a temp file plus rename so
// a crash mid-write never leaves behind a file LoadFile would
// half-decode.
func SaveFile(path string, entry Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), paths.DefaultDirMode); err != nil {
		return fmt.Errorf("cache: mkdir: %w", err)
	}

	data, err := encode(entry)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, paths.DefaultFileMode); err != nil {
		return fmt.Errorf("cache: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("cache: rename: %w", err)
	}
	return nil
}

// Load reads the cache file for the given sandbox-enabled state from
// the project's standard cache directory (internal/paths.CacheFile).
func Load(sandboxEnabled bool) (*Entry, error) {
	return LoadFile(paths.CacheFile(sandboxEnabled))
}

// Save writes entry to the cache file for the given sandbox-enabled
// state, under the project's standard cache directory.
func Save(sandboxEnabled bool, entry Entry) error {
	return SaveFile(paths.CacheFile(sandboxEnabled), entry)
}

// Lookup loads the cache for sandboxEnabled and returns its snapshot
// only if its key matches want; any other outcome — miss, stale key,
// corrupt file — is reported as (zero value, false, nil error), since
// none of those warrant failing the caller's elaboration.
func Lookup(sandboxEnabled bool, want string) (core.Snapshot, bool, error) {
	e, err := Load(sandboxEnabled)
	if err != nil {
		return core.Snapshot{}, false, err
	}
	if e == nil || e.Key != want {
		return core.Snapshot{}, false, nil
	}
	return e.Snapshot, true, nil
}
