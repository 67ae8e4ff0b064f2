// Package assetcache downloads generated assets once, keeps them on local
// disk keyed by source URL, and refuses formats the renderer cannot open.
package assetcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wujiajunhahah/dreamvision/internal/domain"
	"github.com/wujiajunhahah/dreamvision/internal/infra"
	"github.com/wujiajunhahah/dreamvision/internal/providers/providerhttp"
	"github.com/wujiajunhahah/dreamvision/internal/storage"
)

const (
	indexFile       = "index.json"
	indexVersion    = 1
	defaultMaxBytes = 256 << 20
	defaultTimeout  = 2 * time.Minute
)

// Entry describes one cached asset. Path is absolute.
type Entry struct {
	SourceURL string    `json:"sourceUrl"`
	File      string    `json:"file"`
	Path      string    `json:"-"`
	Format    string    `json:"format"`
	Size      int64     `json:"size"`
	StoredAt  time.Time `json:"storedAt"`
}

type indexDocument struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

type Options struct {
	Dir             string
	PreferredFormat string
	RejectedFormats []string
	Loader          Loader
	HTTPClient      *http.Client
	Timeout         time.Duration
	MaxBytes        int64
	Retry           *providerhttp.RetryPolicy
	Logger          *infra.Logger
}

// Cache maps source URLs to validated local files. Reads use an immutable
// snapshot; mutations are serialized and persisted before they are published.
type Cache struct {
	files     *storage.FileStore
	preferred string
	rejected  map[string]struct{}
	loader    Loader
	caller    *providerhttp.Caller
	maxBytes  int64
	timeout   time.Duration
	logger    *infra.Logger

	snapshot atomic.Pointer[map[string]Entry]
	writeMu  sync.Mutex
	flights  singleflight.Group
}

// Open loads the index under opts.Dir. An unreadable index is discarded and
// the cache starts empty.
func Open(opts Options) (*Cache, error) {
	files, err := storage.NewFileStore(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("assetcache: %w", err)
	}
	preferred := strings.ToLower(strings.TrimSpace(opts.PreferredFormat))
	if preferred == "" {
		preferred = "usdz"
	}
	rejected := make(map[string]struct{}, len(opts.RejectedFormats))
	for _, f := range opts.RejectedFormats {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			rejected[f] = struct{}{}
		}
	}
	if _, ok := rejected[preferred]; ok {
		return nil, fmt.Errorf("assetcache: preferred format %q is on the reject list", preferred)
	}
	loader := opts.Loader
	if loader == nil {
		loader = USDLoader{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	retry := providerhttp.DefaultRetry
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	logger := infra.OrDiscard(opts.Logger)

	c := &Cache{
		files:     files,
		preferred: preferred,
		rejected:  rejected,
		loader:    loader,
		caller:    &providerhttp.Caller{Provider: "asset-download", Client: client, Retry: retry, Logger: logger},
		maxBytes:  maxBytes,
		timeout:   timeout,
		logger:    logger,
	}
	entries := c.loadIndex()
	c.snapshot.Store(&entries)
	return c, nil
}

func (c *Cache) loadIndex() map[string]Entry {
	empty := map[string]Entry{}
	data, err := c.files.Read(indexFile)
	if errors.Is(err, os.ErrNotExist) {
		return empty
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("assetcache: read index")
		return empty
	}
	var doc indexDocument
	if err := json.Unmarshal(data, &doc); err != nil || doc.Version != indexVersion {
		if err == nil {
			err = fmt.Errorf("unsupported index version %d", doc.Version)
		}
		c.logger.Warn().
			Err(fmt.Errorf("%w: %v", domain.ErrStorageCorruption, err)).
			Msg("assetcache: discarding unreadable index")
		if werr := c.persist(empty); werr != nil {
			c.logger.Error().Err(werr).Msg("assetcache: reset index")
		}
		return empty
	}
	entries := make(map[string]Entry, len(doc.Entries))
	for url, entry := range doc.Entries {
		path, err := c.files.Path(entry.File)
		if err != nil {
			continue
		}
		entry.SourceURL = url
		entry.Path = path
		entries[url] = entry
	}
	return entries
}

// Fetch returns the cached file for sourceURL, downloading and validating it
// on a miss. Concurrent fetches of one URL share a single download, which is
// bounded by the cache timeout rather than by any one caller's context.
func (c *Cache) Fetch(ctx context.Context, sourceURL string) (Entry, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return Entry{}, domain.PreconditionError("asset url is empty")
	}
	if entry, ok := c.Lookup(sourceURL); ok {
		return entry, nil
	}
	ch := c.flights.DoChan(sourceURL, func() (any, error) {
		if entry, ok := c.Lookup(sourceURL); ok {
			return entry, nil
		}
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.download(dctx, sourceURL)
	})
	select {
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	}
}

// Lookup returns the entry for sourceURL when its file is still present.
// A row whose file disappeared is evicted.
func (c *Cache) Lookup(sourceURL string) (Entry, bool) {
	entry, ok := (*c.snapshot.Load())[sourceURL]
	if !ok {
		return Entry{}, false
	}
	if c.files.Exists(entry.File) {
		return entry, true
	}
	c.logger.Warn().Str("url", sourceURL).Str("file", entry.File).Msg("assetcache: cached file missing, evicting")
	if err := c.Evict(sourceURL); err != nil {
		c.logger.Error().Err(err).Msg("assetcache: evict missing file")
	}
	return Entry{}, false
}

// Evict drops the file and index row for sourceURL.
func (c *Cache) Evict(sourceURL string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	current := *c.snapshot.Load()
	entry, ok := current[sourceURL]
	if !ok {
		return nil
	}
	if err := c.files.Remove(entry.File); err != nil {
		return err
	}
	next := cloneEntries(current)
	delete(next, sourceURL)
	return c.publish(next)
}

// Entries lists cached assets, oldest first.
func (c *Cache) Entries() []Entry {
	current := *c.snapshot.Load()
	out := make([]Entry, 0, len(current))
	for _, e := range current {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StoredAt.Equal(out[j].StoredAt) {
			return out[i].SourceURL < out[j].SourceURL
		}
		return out[i].StoredAt.Before(out[j].StoredAt)
	})
	return out
}

func (c *Cache) download(ctx context.Context, sourceURL string) (Entry, error) {
	start := time.Now()
	resp, err := c.caller.Do(ctx, providerhttp.Request{
		Method:   http.MethodGet,
		URL:      sourceURL,
		MaxBytes: c.maxBytes,
	})
	if err != nil {
		return Entry{}, err
	}
	if len(resp.Body) == 0 {
		return Entry{}, fmt.Errorf("%w: downloaded body is empty", domain.ErrInvalidAsset)
	}

	format := DetectFormat(sourceURL, resp.Header.Get("Content-Type"), c.preferred)
	key := fileKey(sourceURL, format)
	path, err := c.files.Write(ctx, key, resp.Body)
	if err != nil {
		return Entry{}, fmt.Errorf("assetcache: store asset: %w", err)
	}

	if err := c.loader.Load(path, format); err != nil {
		c.discard(sourceURL, key)
		if _, rejected := c.rejected[format]; rejected {
			c.logger.Warn().Err(err).Str("url", sourceURL).Str("format", format).Msg("assetcache: rejected format")
			return Entry{}, &domain.UnsupportedFormatError{Format: format, Cause: err}
		}
		c.logger.Warn().Err(err).Str("url", sourceURL).Str("format", format).Msg("assetcache: asset failed to load")
		return Entry{}, fmt.Errorf("%w: %s: %v", domain.ErrInvalidAsset, format, err)
	}

	entry := Entry{
		SourceURL: sourceURL,
		File:      key,
		Path:      path,
		Format:    format,
		Size:      int64(len(resp.Body)),
		StoredAt:  time.Now().UTC(),
	}
	if err := c.put(entry); err != nil {
		_ = c.files.Remove(key)
		return Entry{}, err
	}
	c.logger.Info().
		Str("url", sourceURL).
		Str("format", format).
		Int64("bytes", entry.Size).
		Dur("took", time.Since(start)).
		Msg("assetcache: stored asset")
	return entry, nil
}

func (c *Cache) put(entry Entry) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	next := cloneEntries(*c.snapshot.Load())
	next[entry.SourceURL] = entry
	return c.publish(next)
}

// discard removes a file that failed validation along with any stale row.
func (c *Cache) discard(sourceURL, key string) {
	if err := c.files.Remove(key); err != nil {
		c.logger.Error().Err(err).Str("file", key).Msg("assetcache: remove invalid asset")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	current := *c.snapshot.Load()
	if _, ok := current[sourceURL]; !ok {
		return
	}
	next := cloneEntries(current)
	delete(next, sourceURL)
	if err := c.publish(next); err != nil {
		c.logger.Error().Err(err).Msg("assetcache: drop invalid row")
	}
}

// publish persists entries and then makes them visible. Callers hold writeMu.
func (c *Cache) publish(entries map[string]Entry) error {
	if err := c.persist(entries); err != nil {
		return err
	}
	c.snapshot.Store(&entries)
	return nil
}

func (c *Cache) persist(entries map[string]Entry) error {
	data, err := json.MarshalIndent(indexDocument{Version: indexVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("assetcache: encode index: %w", err)
	}
	if _, err := c.files.Write(context.Background(), indexFile, data); err != nil {
		return fmt.Errorf("assetcache: write index: %w", err)
	}
	return nil
}

func fileKey(sourceURL, format string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	name := hex.EncodeToString(sum[:])
	if format != "" {
		name += "." + format
	}
	return name
}

func cloneEntries(in map[string]Entry) map[string]Entry {
	out := make(map[string]Entry, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
