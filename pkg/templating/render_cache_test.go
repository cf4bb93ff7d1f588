package templating

import (
	"context"
	"html/template"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCache_GetPut(t *testing.T) {
	rc := setupTestCache(t)
	ctx := context.Background()

	_, hit, err := rc.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, rc.Put(ctx, "k1", "index.tmpl.html", "fp1", "<p>one</p>"))
	content, hit, err := rc.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "<p>one</p>", content)

	// Put replaces.
	require.NoError(t, rc.Put(ctx, "k1", "index.tmpl.html", "fp1", "<p>two</p>"))
	content, _, _ = rc.Get(ctx, "k1")
	assert.Equal(t, "<p>two</p>", content)
}

func TestRenderCache_PruneAndClear(t *testing.T) {
	rc := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, rc.Put(ctx, "a", "index.tmpl.html", "old", "a"))
	require.NoError(t, rc.Put(ctx, "b", "index.tmpl.html", "old", "b"))
	require.NoError(t, rc.Put(ctx, "c", "index.tmpl.html", "new", "c"))

	pruned, err := rc.PruneStale(ctx, "new")
	require.NoError(t, err)
	assert.EqualValues(t, 2, pruned)
	n, err := rc.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, rc.Clear(ctx))
	n, err = rc.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetupCacheSchema_Idempotent(t *testing.T) {
	rc := setupTestCache(t)
	assert.NoError(t, SetupCacheSchema(rc.db))
}

func TestCacheKey(t *testing.T) {
	data := map[string]any{"title": "a", "message": "b"}
	k1, ok := cacheKey("index.tmpl.html", "fp", data)
	require.True(t, ok, "cacheKey rejected a plain map")

	k2, _ := cacheKey("index.tmpl.html", "fp", map[string]any{"message": "b", "title": "a"})
	assert.Equal(t, k1, k2, "map key order must not change the cache key")
	k3, _ := cacheKey("index.tmpl.html", "fp2", data)
	assert.NotEqual(t, k1, k3, "a different fingerprint must change the cache key")
	k4, _ := cacheKey("other.tmpl.html", "fp", data)
	assert.NotEqual(t, k1, k4, "a different template must change the cache key")

	_, ok = cacheKey("index.tmpl.html", "fp", map[string]any{"f": func() {}})
	assert.False(t, ok, "funcs must bypass the cache")
	_, ok = cacheKey("index.tmpl.html", "fp", struct{ Title string }{"a"})
	assert.False(t, ok, "struct contexts must bypass the cache")
	_, ok = cacheKey("index.tmpl.html", "fp", &data)
	assert.False(t, ok, "pointers must bypass the cache")
}

func TestCacheKey_Types(t *testing.T) {
	key := func(data any) string {
		t.Helper()
		k, ok := cacheKey("index.tmpl.html", "fp", data)
		require.True(t, ok, "cacheKey rejected %#v", data)
		return k
	}

	assert.NotEqual(t, key(map[string]any{"m": "<b>"}), key(map[string]any{"m": template.HTML("<b>")}),
		"template.HTML and string must not share a key")
	assert.NotEqual(t, key(map[string]any{"m": []byte("hi")}), key(map[string]any{"m": "aGk="}),
		"[]byte and its base64 string must not share a key")
	assert.NotEqual(t, key(map[string]any{"n": 1}), key(map[string]any{"n": 1.0}),
		"int and float64 must not share a key")
	assert.NotEqual(t, key(map[string]any{"m": "a"}), key(map[string]string{"m": "a"}),
		"different map types must not share a key")
	assert.NotEqual(t, key(map[string]any{"a": "b", "c": ""}), key(map[string]any{"a": `b"c":`}),
		"string values must be delimited")
	assert.Equal(t, key(nil), key(nil))
}
