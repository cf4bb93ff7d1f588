package templating

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// CacheFileName is the name of the SQLite database kept inside the cache directory.
const CacheFileName = "render.db"

// SetupCacheSchema creates the render cache table in the provided database.
// It is idempotent and safe to call on an already-initialized database.
func SetupCacheSchema(db *sql.DB) error {
	const (
		schemaEntries = `
CREATE TABLE IF NOT EXISTS render_cache (
    cache_key TEXT PRIMARY KEY,
    template_name TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
`
		indexFingerprint = `CREATE INDEX IF NOT EXISTS idx_render_cache_fingerprint ON render_cache (fingerprint);`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaEntries); err != nil {
		return fmt.Errorf("could not create schema: %w", err)
	}
	if _, err = tx.Exec(indexFingerprint); err != nil {
		return fmt.Errorf("could not create index: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// RenderCache stores rendered pages keyed by template name, template set
// fingerprint, and render context. A changed template set produces new keys, so
// stale entries are never served; PruneStale removes them from disk.
// All methods are concurrent-safe.
type RenderCache struct {
	db         *sql.DB
	stmtGet    *sql.Stmt
	stmtPut    *sql.Stmt
	stmtPrune  *sql.Stmt
	stmtCount  *sql.Stmt
	stmtDelete *sql.Stmt
}

// NewRenderCache prepares the statements used by the cache. SetupCacheSchema
// must have been called on db first.
func NewRenderCache(db *sql.DB) (*RenderCache, error) {
	rc := &RenderCache{db: db}

	var err error
	if rc.stmtGet, err = db.Prepare(`SELECT content FROM render_cache WHERE cache_key = ?`); err != nil {
		return nil, fmt.Errorf("failed to prepare get statement: %w", err)
	}
	if rc.stmtPut, err = db.Prepare(`INSERT OR REPLACE INTO render_cache (cache_key, template_name, fingerprint, content, created_at) VALUES (?, ?, ?, ?, ?)`); err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to prepare put statement: %w", err)
	}
	if rc.stmtPrune, err = db.Prepare(`DELETE FROM render_cache WHERE fingerprint != ?`); err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to prepare prune statement: %w", err)
	}
	if rc.stmtCount, err = db.Prepare(`SELECT COUNT(*) FROM render_cache`); err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to prepare count statement: %w", err)
	}
	if rc.stmtDelete, err = db.Prepare(`DELETE FROM render_cache`); err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	return rc, nil
}

// Close releases the prepared statements. It does not close the database.
func (rc *RenderCache) Close() {
	for _, stmt := range []*sql.Stmt{rc.stmtGet, rc.stmtPut, rc.stmtPrune, rc.stmtCount, rc.stmtDelete} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// Get returns the cached content for key. The boolean is false on a miss.
func (rc *RenderCache) Get(ctx context.Context, key string) (string, bool, error) {
	var content string
	err := rc.stmtGet.QueryRowContext(ctx, key).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return content, true, nil
}

// Put stores content under key, replacing any previous entry.
func (rc *RenderCache) Put(ctx context.Context, key, name, fingerprint, content string) error {
	if _, err := rc.stmtPut.ExecContext(ctx, key, name, fingerprint, content, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// PruneStale deletes every entry rendered from a template set other than fingerprint.
func (rc *RenderCache) PruneStale(ctx context.Context, fingerprint string) (int64, error) {
	res, err := rc.stmtPrune.ExecContext(ctx, fingerprint)
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Clear deletes every entry.
func (rc *RenderCache) Clear(ctx context.Context) error {
	if _, err := rc.stmtDelete.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Len returns the number of cached entries.
func (rc *RenderCache) Len(ctx context.Context) (int, error) {
	var n int
	if err := rc.stmtCount.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return n, nil
}

// cacheKey derives the key for a render. Every value in data is hashed
// together with its Go type, so values that print alike but render differently
// (template.HTML and string, []byte and string) get separate entries. The
// boolean is false when data holds a value whose rendering cannot be derived
// from its contents (structs, pointers, funcs, types with methods); such
// renders bypass the cache.
func cacheKey(name, fingerprint string, data any) (string, bool) {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	if !writeKeyValue(h, reflect.ValueOf(data)) {
		return "", false
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

func writeKeyValue(w io.Writer, v reflect.Value) bool {
	if !v.IsValid() {
		_, _ = io.WriteString(w, "nil;")
		return true
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			_, _ = io.WriteString(w, "nil;")
			return true
		}
		return writeKeyValue(w, v.Elem())
	}

	t := v.Type()
	if t.NumMethod() > 0 {
		return false
	}
	_, _ = fmt.Fprintf(w, "%s|%s(", t.PkgPath(), t.String())

	switch v.Kind() {
	case reflect.String:
		_, _ = io.WriteString(w, strconv.Quote(v.String()))
	case reflect.Bool:
		_, _ = io.WriteString(w, strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		_, _ = io.WriteString(w, strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		_, _ = io.WriteString(w, strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		_, _ = io.WriteString(w, strconv.FormatFloat(v.Float(), 'g', -1, 64))
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			_, _ = io.WriteString(w, "nil")
			break
		}
		_, _ = fmt.Fprintf(w, "%d:", v.Len())
		for i := 0; i < v.Len(); i++ {
			if !writeKeyValue(w, v.Index(i)) {
				return false
			}
		}
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return false
		}
		if v.IsNil() {
			_, _ = io.WriteString(w, "nil")
			break
		}
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		_, _ = fmt.Fprintf(w, "%d:", len(keys))
		for _, k := range keys {
			if !writeKeyValue(w, k) || !writeKeyValue(w, v.MapIndex(k)) {
				return false
			}
		}
	default:
		return false
	}

	_, _ = io.WriteString(w, ");")
	return true
}
