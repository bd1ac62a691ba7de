// Package probecache memoizes probe results in SQLite. Keyframe scans read
// every packet of the video stream, so repeated cuts from one source skip
// them when the file is unchanged.
package probecache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/forPelevin/splicecut/internal/logging"
	"github.com/forPelevin/splicecut/internal/ports"
	"github.com/forPelevin/splicecut/internal/types"
)

const (
	schemaVersion = 2

	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Cache decorates a Prober. Cache failures are logged and fall through to
// the wrapped prober.
type Cache struct {
	db    *sql.DB
	inner ports.Prober
	log   *slog.Logger
}

var _ ports.Prober = (*Cache)(nil)

// Open creates or opens the cache database at path.
func Open(path string, inner ports.Prober, log *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS probe_cache (
            key        TEXT PRIMARY KEY,
            path       TEXT NOT NULL,
            version    INTEGER NOT NULL,
            media_json TEXT NOT NULL,
            created_at TEXT NOT NULL
        )`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", strings.Fields(stmt)[0], err)
		}
	}
	return &Cache{db: db, inner: inner, log: logging.NewComponentLogger(log, "probecache")}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) Probe(ctx context.Context, path string) (types.MediaInfo, error) {
	key, err := Key(path)
	if err != nil {
		// Unstattable inputs are the prober's problem to report.
		return c.inner.Probe(ctx, path)
	}

	if m, ok := c.lookup(ctx, key); ok {
		c.log.Debug("probe cache hit", slog.String("path", path))
		m.Path = path
		return m, nil
	}

	m, err := c.inner.Probe(ctx, path)
	if err != nil {
		return types.MediaInfo{}, err
	}
	if err := c.store(ctx, key, path, m); err != nil {
		c.log.Warn("probe cache store failed",
			slog.String(logging.FieldEventType, "probecache_store_failed"),
			slog.String("path", path),
			logging.Error(err))
	}
	return m, nil
}

func (c *Cache) lookup(ctx context.Context, key string) (types.MediaInfo, bool) {
	var raw string
	err := retryOnBusy(ctx, func() error {
		return c.db.QueryRowContext(ctx,
			`SELECT media_json FROM probe_cache WHERE key = ? AND version = ?`, key, schemaVersion,
		).Scan(&raw)
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.log.Warn("probe cache lookup failed", logging.Error(err))
		}
		return types.MediaInfo{}, false
	}
	var m types.MediaInfo
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		c.log.Warn("probe cache entry unreadable", logging.Error(err))
		return types.MediaInfo{}, false
	}
	return m, true
}

func (c *Cache) store(ctx context.Context, key, path string, m types.MediaInfo) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal media info: %w", err)
	}
	return retryOnBusy(ctx, func() error {
		_, err := c.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO probe_cache (key, path, version, media_json, created_at) VALUES (?, ?, ?, ?, ?)`,
			key, path, schemaVersion, string(b), time.Now().UTC().Format(time.RFC3339Nano),
		)
		return err
	})
}

// Prune drops entries older than maxAge.
func (c *Cache) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339Nano)
	res, err := c.db.ExecContext(ctx, `DELETE FROM probe_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune probe cache: %w", err)
	}
	return res.RowsAffected()
}

// Key identifies a file by absolute path, size and modification time.
func Key(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(abs + "\x00" + strconv.FormatInt(st.Size(), 10) + "\x00" + strconv.FormatInt(st.ModTime().UnixNano(), 10)))
	return hex.EncodeToString(sum[:]), nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
