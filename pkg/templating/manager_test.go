package templating

import (
	"bytes"
	"context"
	"database/sql"
	"html/template"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexTemplate = `<h1>{{.title}}</h1>{{template "footer.part.html" .}}`

// writeTemplate writes a template file into dir, failing the test on error.
func writeTemplate(tb testing.TB, dir, name, content string) {
	tb.Helper()
	require.NoError(tb, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644), "failed to write template %s", name)
}

// setupTestCache opens a render cache backed by a SQLite file in a temp dir.
func setupTestCache(tb testing.TB) *RenderCache {
	tb.Helper()

	dbFile := filepath.Join(tb.TempDir(), CacheFileName)
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_busy_timeout=5000")
	require.NoError(tb, err, "failed to open cache database")
	tb.Cleanup(func() { _ = db.Close() })

	require.NoError(tb, SetupCacheSchema(db))
	rc, err := NewRenderCache(db)
	require.NoError(tb, err)
	tb.Cleanup(rc.Close)
	return rc
}

// setupTestManager creates a TemplateManager over a temp template dir holding
// one page and one partial. cache may be nil.
func setupTestManager(tb testing.TB, config *TemplateConfig, cache *RenderCache) *TemplateManager {
	tb.Helper()

	if config == nil {
		config = DefaultConfig()
	}
	config.TemplateDir = tb.TempDir()
	writeTemplate(tb, config.TemplateDir, "index.tmpl.html", indexTemplate)
	writeTemplate(tb, config.TemplateDir, "footer.part.html", `<footer>{{.message}}</footer>`)

	tm, err := NewTemplateManager(discardLogger(), config, cache)
	require.NoError(tb, err)
	return tm
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContext() map[string]any {
	return map[string]any{"title": "Resume Generator", "message": "Welcome to the Resume Generator"}
}

func TestNewTemplateManager(t *testing.T) {
	tm := setupTestManager(t, nil, nil)

	assert.Equal(t, []string{"index.tmpl.html"}, tm.TemplateNames(), "only page templates are listed")
	assert.Len(t, tm.Fingerprint(), 64, "expected a sha256 hex fingerprint")
}

func TestNewTemplateManager_EmptyDir(t *testing.T) {
	config := DefaultConfig()
	config.TemplateDir = t.TempDir()
	tm, err := NewTemplateManager(discardLogger(), config, nil)
	require.NoError(t, err, "an empty template dir should not be an error")
	assert.Empty(t, tm.TemplateNames())
}

func TestNewTemplateManager_ParseError(t *testing.T) {
	config := DefaultConfig()
	config.TemplateDir = t.TempDir()
	writeTemplate(t, config.TemplateDir, "broken.tmpl.html", `{{if}}`)
	_, err := NewTemplateManager(discardLogger(), config, nil)
	assert.Error(t, err)
}

func TestManager_Refresh(t *testing.T) {
	tm := setupTestManager(t, nil, nil)
	initialCount := len(tm.TemplateNames())

	writeTemplate(t, tm.GetTemplateDir(), "new.tmpl.html", `New Content`)
	require.NoError(t, tm.Refresh())

	assert.Len(t, tm.TemplateNames(), initialCount+1)
}

func TestManager_Execute(t *testing.T) {
	tm := setupTestManager(t, nil, nil)
	var buf bytes.Buffer
	require.NoError(t, tm.Execute(&buf, "index.tmpl.html", testContext()))
	assert.Equal(t, "<h1>Resume Generator</h1><footer>Welcome to the Resume Generator</footer>", buf.String())

	err := tm.Execute(&buf, "nonexistent.tmpl.html", nil)
	assert.ErrorContains(t, err, `html/template: "nonexistent.tmpl.html" is undefined`)

	assert.Error(t, tm.Execute(&buf, "", nil))
}

func TestManager_Render_NoCache(t *testing.T) {
	tm := setupTestManager(t, nil, nil)
	out, err := tm.Render(context.Background(), "index.tmpl.html", testContext())
	require.NoError(t, err)
	assert.Contains(t, out, "Resume Generator")
	assert.Contains(t, out, "Welcome to the Resume Generator")
}

func TestManager_Render_ErrorDetail(t *testing.T) {
	config := DefaultConfig()
	config.Debug = true
	tm := setupTestManager(t, config, nil)
	_, err := tm.Render(context.Background(), "missing.tmpl.html", testContext())
	assert.ErrorContains(t, err, "Welcome to the Resume Generator", "debug errors include the render context")

	config = DefaultConfig()
	config.Debug = false
	tm = setupTestManager(t, config, nil)
	_, err = tm.Render(context.Background(), "missing.tmpl.html", testContext())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "Welcome to the Resume Generator")
}

func TestManager_Render_CacheHit(t *testing.T) {
	rc := setupTestCache(t)
	tm := setupTestManager(t, nil, rc)
	ctx := context.Background()

	// Seed the entry the next render will look up; a hit must return it verbatim.
	key, ok := cacheKey("index.tmpl.html", tm.Fingerprint(), testContext())
	require.True(t, ok)
	require.NoError(t, rc.Put(ctx, key, "index.tmpl.html", tm.Fingerprint(), "from cache"))

	out, err := tm.Render(ctx, "index.tmpl.html", testContext())
	require.NoError(t, err)
	assert.Equal(t, "from cache", out)
}

func TestManager_Render_CacheFill(t *testing.T) {
	rc := setupTestCache(t)
	tm := setupTestManager(t, nil, rc)
	ctx := context.Background()

	first, err := tm.Render(ctx, "index.tmpl.html", testContext())
	require.NoError(t, err)
	n, err := rc.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "one cache entry after the first render")

	second, err := tm.Render(ctx, "index.tmpl.html", testContext())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	n, err = rc.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "a repeated render should not add entries")
}

func TestManager_Render_CacheKeepsTypes(t *testing.T) {
	rc := setupTestCache(t)
	tm := setupTestManager(t, nil, rc)
	writeTemplate(t, tm.GetTemplateDir(), "msg.tmpl.html", `<p>{{.message}}</p>`)
	require.NoError(t, tm.Refresh())
	ctx := context.Background()

	trusted, err := tm.Render(ctx, "msg.tmpl.html", map[string]any{"message": template.HTML("<script>x()</script>")})
	require.NoError(t, err)
	assert.Equal(t, "<p><script>x()</script></p>", trusted)

	plain, err := tm.Render(ctx, "msg.tmpl.html", map[string]any{"message": "<script>x()</script>"})
	require.NoError(t, err)
	assert.Equal(t, "<p>&lt;script&gt;x()&lt;/script&gt;</p>", plain,
		"a plain string must be escaped even after an HTML value was cached")

	n, err := rc.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "separate entries per value type")
}

func TestManager_Render_StructBypassesCache(t *testing.T) {
	rc := setupTestCache(t)
	tm := setupTestManager(t, nil, rc)
	writeTemplate(t, tm.GetTemplateDir(), "struct.tmpl.html", `{{.Title}}|{{.Message}}`)
	require.NoError(t, tm.Refresh())
	ctx := context.Background()

	data := struct {
		Title   string `json:"-"`
		Message string
	}{Title: "hidden", Message: "shown"}

	out, err := tm.Render(ctx, "struct.tmpl.html", data)
	require.NoError(t, err)
	assert.Equal(t, "hidden|shown", out)

	n, err := rc.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "struct contexts render live")
}

func TestManager_Render_ConcurrentRefresh(t *testing.T) {
	rc := setupTestCache(t)
	config := DefaultConfig()
	config.AutoReload = false
	tm := setupTestManager(t, config, rc)
	dir := tm.GetTemplateDir()
	ctx := context.Background()
	versions := []string{`<p>A {{.title}}</p>`, `<p>B {{.title}}</p>`}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = tm.Render(ctx, "index.tmpl.html", testContext())
			}
		}()
	}
	for i := 0; i < 50; i++ {
		writeTemplate(t, dir, "index.tmpl.html", versions[i%2])
		require.NoError(t, tm.Refresh())
	}
	close(stop)
	wg.Wait()

	// Every entry left behind must match the template set its key names.
	for _, version := range versions {
		writeTemplate(t, dir, "index.tmpl.html", version)
		require.NoError(t, tm.Refresh())

		var live bytes.Buffer
		require.NoError(t, tm.Execute(&live, "index.tmpl.html", testContext()))
		for i := 0; i < 2; i++ {
			out, err := tm.Render(ctx, "index.tmpl.html", testContext())
			require.NoError(t, err)
			assert.Equal(t, live.String(), out, "render %d", i)
		}
	}
}

func TestManager_AutoReload(t *testing.T) {
	rc := setupTestCache(t)
	config := DefaultConfig()
	config.AutoReload = true
	tm := setupTestManager(t, config, rc)
	ctx := context.Background()

	_, err := tm.Render(ctx, "index.tmpl.html", testContext())
	require.NoError(t, err)
	oldFingerprint := tm.Fingerprint()

	// Different length so the change is visible even on coarse mtime clocks.
	writeTemplate(t, tm.GetTemplateDir(), "index.tmpl.html", `<h2>{{.title}} (updated)</h2>`)
	future := time.Now().Add(2 * time.Second)
	_ = os.Chtimes(filepath.Join(tm.GetTemplateDir(), "index.tmpl.html"), future, future)

	out, err := tm.Render(ctx, "index.tmpl.html", testContext())
	require.NoError(t, err)
	assert.Equal(t, "<h2>Resume Generator (updated)</h2>", out)
	assert.NotEqual(t, oldFingerprint, tm.Fingerprint(), "fingerprint follows template content")

	n, err := rc.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "stale entries are pruned on reload")
}

func TestManager_NoAutoReload(t *testing.T) {
	config := DefaultConfig()
	config.AutoReload = false
	tm := setupTestManager(t, config, nil)

	writeTemplate(t, tm.GetTemplateDir(), "index.tmpl.html", `changed on disk`)
	out, err := tm.Render(context.Background(), "index.tmpl.html", testContext())
	require.NoError(t, err)
	assert.NotEqual(t, "changed on disk", out)
}

func BenchmarkRender_Live(b *testing.B) {
	config := DefaultConfig()
	config.AutoReload = false
	tm := setupTestManager(b, config, nil)
	ctx := context.Background()
	data := testContext()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = tm.Render(ctx, "index.tmpl.html", data)
	}
}

func BenchmarkRender_Cached(b *testing.B) {
	config := DefaultConfig()
	config.AutoReload = false
	tm := setupTestManager(b, config, setupTestCache(b))
	ctx := context.Background()
	data := testContext()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = tm.Render(ctx, "index.tmpl.html", data)
	}
}
