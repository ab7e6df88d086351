package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrClosed = errors.New("store closed")

// Mapping is one named durable key-value set, as raw JSON values.
type Mapping = map[string]json.RawMessage

// Config configures storage.
//
// Driver values:
//   - "file" (default): one JSON document per mapping under Path
//   - "sqlite": SQLite database file (build with -tags sqlite)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store persists named mappings.
//
// Load returns an empty mapping (not an error) when the backing data is
// missing; malformed content is logged and replaced by an empty mapping
// so a corrupted file cannot take the bot down. Save is a full
// overwrite. Update runs fn under the store's write serialization, so
// concurrent read-modify-write cycles on the same mapping cannot lose
// updates; mutating callers should prefer it over Load+Save.
type Store interface {
	Load(ctx context.Context, name string) (Mapping, error)
	Save(ctx context.Context, name string, m Mapping) error
	Update(ctx context.Context, name string, fn func(m Mapping) error) error
	Close() error
}
