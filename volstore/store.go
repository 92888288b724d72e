// Package volstore is the durable volume mapping shared by every tab.
//
// The whole mapping lives in one SQLite row (namespace "volumes") as a JSON
// object. Writes are read-modify-write merges run inside a single write
// transaction, so two writers touching different keys do not clobber each
// other. Every successful write bumps a version column; subscribers receive
// the new mapping once per version, whether the write came from this process
// (immediately) or from another process sharing the file (via Watch).
package volstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Store is the volume store handle.
type Store struct {
	db     *sql.DB
	cfg    openConfig
	logger *slog.Logger
	bc     *broadcaster

	// notified is the last version broadcast to subscribers.
	notified atomic.Int64
	// sendMu keeps broadcasts in version order.
	sendMu sync.Mutex
}

// Open opens (or creates) the store at path.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := openDefaults()
	for _, o := range opts {
		o(&cfg)
	}
	db, err := openDB(path, cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: cfg.logger,
	}
	s.bc = newBroadcaster(s.logger)

	if _, ver, err := s.read(context.Background(), db); err == nil {
		s.notified.Store(ver)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the full mapping. A namespace that was never written yields
// an empty mapping, not an error.
func (s *Store) Get(ctx context.Context) (Volumes, error) {
	v, _, err := s.read(ctx, s.db)
	return v, err
}

// Version returns the current version of the namespace (0 if never written).
func (s *Store) Version(ctx context.Context) (int64, error) {
	var ver int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM storage WHERE namespace = ?`, Namespace).Scan(&ver)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("volstore: version: %w", err)
	}
	return ver, nil
}

// Set merges one key into the mapping.
func (s *Store) Set(ctx context.Context, key string, vol float64) error {
	return s.SetMany(ctx, []string{key}, vol)
}

// SetMany writes vol under every key in one merge. Other keys are preserved.
func (s *Store) SetMany(ctx context.Context, keys []string, vol float64) error {
	if len(keys) == 0 {
		return nil
	}
	vol, err := Clamp(vol)
	if err != nil {
		return err
	}

	var (
		merged Volumes
		ver    int64
	)
	err = runTx(ctx, s.db, func(tx *sql.Tx) error {
		cur, curVer, err := s.read(ctx, tx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			cur[k] = vol
		}
		data, err := json.Marshal(cur)
		if err != nil {
			return fmt.Errorf("volstore: marshal: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO storage (namespace, value, version, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(namespace) DO UPDATE SET
				value = excluded.value,
				version = excluded.version,
				updated_at = excluded.updated_at`,
			Namespace, string(data), curVer+1, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("volstore: write: %w", err)
		}
		merged, ver = cur, curVer+1
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("volstore: set", "keys", keys, "volume", vol, "version", ver)
	s.publish(merged, ver)
	return nil
}

// Subscribe registers fn for every future change. Listeners run on the
// writer's goroutine and must not write to the store synchronously.
// The returned function unsubscribes.
func (s *Store) Subscribe(fn Listener) func() {
	return s.bc.subscribe(fn)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) read(ctx context.Context, q querier) (Volumes, int64, error) {
	var (
		raw string
		ver int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT value, version FROM storage WHERE namespace = ?`, Namespace).Scan(&raw, &ver)
	if errors.Is(err, sql.ErrNoRows) {
		return Volumes{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("volstore: read: %w", err)
	}

	v := Volumes{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, 0, fmt.Errorf("volstore: decode %s: %w", Namespace, err)
		}
	}
	return v, ver, nil
}

// publish broadcasts v unless version ver (or a later one) was already sent.
func (s *Store) publish(v Volumes, ver int64) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if ver <= s.notified.Load() {
		return
	}
	s.notified.Store(ver)
	s.bc.send(v)
}
