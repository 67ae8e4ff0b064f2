package assetcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/providers/providerhttp"
	"github.com/wujiajunhahah/dreamvision/pkg/usdz"
)

type assetServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newAssetServer(t *testing.T, usdzBody []byte) *assetServer {
	t.Helper()
	s := &assetServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/m.usdz", func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		_, _ = w.Write(usdzBody)
	})
	mux.HandleFunc("/noext", func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(usdzBody)
	})
	mux.HandleFunc("/m.glb", func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		_, _ = w.Write([]byte("glTF\x02\x00\x00\x00"))
	})
	mux.HandleFunc("/typed", func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		w.Header().Set("Content-Type", "model/gltf-binary")
		_, _ = w.Write([]byte("glTF\x02\x00\x00\x00"))
	})
	mux.HandleFunc("/m.obj", func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		_, _ = w.Write([]byte("v 0 0 0\n"))
	})
	mux.HandleFunc("/empty.usdz", func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
	})
	mux.HandleFunc("/slow.usdz", func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write(usdzBody)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func validUSDZ(t *testing.T) []byte {
	t.Helper()
	data, err := usdz.Pack([]usdz.Asset{{Filename: "scene.usdc", Data: []byte("PXR-USDC\x00")}})
	require.NoError(t, err)
	return data
}

func openCache(t *testing.T, dir string) *Cache {
	t.Helper()
	c, err := Open(Options{
		Dir:             dir,
		PreferredFormat: "usdz",
		RejectedFormats: []string{"glb"},
		Retry:           &providerhttp.RetryPolicy{MaxRetries: 0},
	})
	require.NoError(t, err)
	return c
}

func TestFetchCachesAcrossCallsAndRestarts(t *testing.T) {
	srv := newAssetServer(t, validUSDZ(t))
	dir := t.TempDir()
	cache := openCache(t, dir)

	first, err := cache.Fetch(context.Background(), srv.URL+"/m.usdz?sig=abc")
	require.NoError(t, err)
	assert.Equal(t, "usdz", first.Format)
	assert.FileExists(t, first.Path)
	assert.Equal(t, ".usdz", filepath.Ext(first.Path))

	second, err := cache.Fetch(context.Background(), srv.URL+"/m.usdz?sig=abc")
	require.NoError(t, err)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, int32(1), srv.hits.Load())

	reopened := openCache(t, dir)
	third, err := reopened.Fetch(context.Background(), srv.URL+"/m.usdz?sig=abc")
	require.NoError(t, err)
	assert.Equal(t, first.Path, third.Path)
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestFetchRejectsGLBWithoutLeavingState(t *testing.T) {
	srv := newAssetServer(t, validUSDZ(t))
	dir := t.TempDir()
	cache := openCache(t, dir)

	for _, path := range []string{"/m.glb", "/typed"} {
		_, err := cache.Fetch(context.Background(), srv.URL+path)
		require.ErrorIs(t, err, domain.ErrUnsupportedAssetFormat)
		var unsupported *domain.UnsupportedFormatError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, "glb", unsupported.Format)
		_, ok := cache.Lookup(srv.URL + path)
		assert.False(t, ok)
	}
	assert.Empty(t, cache.Entries())

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, f := range files {
		assert.Equal(t, indexFile, f.Name(), "unexpected leftover file")
	}
}

func TestFetchUnknownTypeDefaultsToPreferred(t *testing.T) {
	srv := newAssetServer(t, validUSDZ(t))
	cache := openCache(t, t.TempDir())

	entry, err := cache.Fetch(context.Background(), srv.URL+"/noext")
	require.NoError(t, err)
	assert.Equal(t, "usdz", entry.Format)
}

func TestFetchUnloadableFormatIsInvalidAsset(t *testing.T) {
	srv := newAssetServer(t, validUSDZ(t))
	cache := openCache(t, t.TempDir())

	_, err := cache.Fetch(context.Background(), srv.URL+"/m.obj")
	require.ErrorIs(t, err, domain.ErrInvalidAsset)
	assert.NotErrorIs(t, err, domain.ErrUnsupportedAssetFormat)

	_, err = cache.Fetch(context.Background(), srv.URL+"/empty.usdz")
	require.ErrorIs(t, err, domain.ErrInvalidAsset)
	assert.Empty(t, cache.Entries())
}

func TestMissingFileTriggersRedownload(t *testing.T) {
	srv := newAssetServer(t, validUSDZ(t))
	cache := openCache(t, t.TempDir())

	entry, err := cache.Fetch(context.Background(), srv.URL+"/m.usdz")
	require.NoError(t, err)
	require.NoError(t, os.Remove(entry.Path))

	_, ok := cache.Lookup(srv.URL + "/m.usdz")
	assert.False(t, ok)

	again, err := cache.Fetch(context.Background(), srv.URL+"/m.usdz")
	require.NoError(t, err)
	assert.FileExists(t, again.Path)
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestCorruptIndexStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFile), []byte("{not json"), 0o644))

	cache := openCache(t, dir)
	assert.Empty(t, cache.Entries())

	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": 1`)
}

func TestConcurrentFetchesShareOneDownload(t *testing.T) {
	srv := newAssetServer(t, validUSDZ(t))
	cache := openCache(t, t.TempDir())

	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := cache.Fetch(context.Background(), srv.URL+"/slow.usdz")
			assert.NoError(t, err)
			paths[i] = entry.Path
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), srv.hits.Load())
	for _, p := range paths {
		assert.Equal(t, paths[0], p)
	}
}

func TestCancelledFetchDoesNotFailSharedDownload(t *testing.T) {
	srv := newAssetServer(t, validUSDZ(t))
	cache := openCache(t, t.TempDir())
	url := srv.URL + "/slow.usdz"

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := cache.Fetch(ctxA, url)
		errA <- err
	}()
	require.Eventually(t, func() bool { return srv.hits.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		entry Entry
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		entry, err := cache.Fetch(context.Background(), url)
		resB <- result{entry, err}
	}()
	time.Sleep(5 * time.Millisecond)
	cancelA()

	assert.ErrorIs(t, <-errA, context.Canceled)
	b := <-resB
	require.NoError(t, b.err)
	assert.FileExists(t, b.entry.Path)
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestEvictRemovesFileAndRow(t *testing.T) {
	srv := newAssetServer(t, validUSDZ(t))
	cache := openCache(t, t.TempDir())

	entry, err := cache.Fetch(context.Background(), srv.URL+"/m.usdz")
	require.NoError(t, err)
	require.NoError(t, cache.Evict(srv.URL+"/m.usdz"))
	assert.NoFileExists(t, entry.Path)
	assert.Empty(t, cache.Entries())
	require.NoError(t, cache.Evict(srv.URL+"/m.usdz"))
}

func TestOpenRejectsPreferredOnRejectList(t *testing.T) {
	_, err := Open(Options{Dir: t.TempDir(), PreferredFormat: "glb", RejectedFormats: []string{"GLB"}})
	require.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, "usdz", DetectFormat("https://cdn/x/model.USDZ?token=1.glb", "", "usdz"))
	assert.Equal(t, "glb", DetectFormat("https://cdn/x/model.glb#frag", "model/vnd.usdz+zip", "usdz"))
	assert.Equal(t, "usdz", DetectFormat("https://cdn/x/download", "model/vnd.usdz+zip; charset=binary", "glb"))
	assert.Equal(t, "usdz", DetectFormat("https://cdn/x/file.bin", "application/octet-stream", "usdz"))
}

func TestUSDLoader(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}
	loader := USDLoader{}
	assert.NoError(t, loader.Load(write("a.usda", []byte("#usda 1.0\n")), "usda"))
	assert.NoError(t, loader.Load(write("a.usdc", []byte("PXR-USDC....")), "usdc"))
	assert.NoError(t, loader.Load(write("a.usdz", validUSDZ(t)), "usdz"))
	assert.Error(t, loader.Load(write("b.usdz", []byte("not a zip")), "usdz"))
	assert.Error(t, loader.Load(write("a.glb", []byte("glTF")), "glb"))
	assert.Error(t, loader.Load(write("c.usda", []byte("hello")), "usda"))
}
