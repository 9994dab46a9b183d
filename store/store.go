// Package store persists snapshots between the request that paused an
// application and the one that resumes it.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"

	"github.com/chazu/resumable/manifest"
	"github.com/chazu/resumable/wire"
)

var log = commonlog.GetLogger("resumable.store")

// ErrNotFound indicates the requested snapshot doesn't exist.
var ErrNotFound = errors.New("store: snapshot not found")

// Store keeps snapshots by id.
type Store interface {
	Put(ctx context.Context, s *wire.Snapshot) error
	Get(ctx context.Context, id string) (*wire.Snapshot, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Open returns the store selected by the manifest's [store] table.
func Open(ctx context.Context, m *manifest.Manifest) (Store, error) {
	switch m.Store.Driver {
	case "", "sqlite":
		path := m.StorePath()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("store: creating %s: %w", filepath.Dir(path), err)
		}
		return OpenSQLite(ctx, path)
	case "redis":
		ttl, err := m.Store.TTLDuration()
		if err != nil {
			return nil, fmt.Errorf("store: ttl: %w", err)
		}
		return DialRedis(ctx, m.Store.Addr, m.Store.Password, m.Store.DB,
			WithPrefix(m.Store.Prefix), WithTTL(ttl))
	default:
		return nil, fmt.Errorf("store: unknown driver %q", m.Store.Driver)
	}
}

// decode unmarshals and verifies a stored envelope.
func decode(id string, data []byte) (*wire.Snapshot, error) {
	s, err := wire.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if s.ID != id {
		return nil, fmt.Errorf("store: snapshot %s stored under %s", s.ID, id)
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return s, nil
}
