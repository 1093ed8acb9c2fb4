package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/diskcache"
)

// Concurrency defaults per upstream kind. MetadataProvider is the reserved
// provider id used for metadata-authority calls.
const (
	MetadataProvider = "tmdb"

	DefaultXtreamConcurrency   = 4
	DefaultM3UConcurrency      = 10
	DefaultMetadataConcurrency = 40

	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second

	hotTTL   = 5 * time.Minute
	hotSweep = 10 * time.Minute
)

// Options tunes a single Fetch call.
type Options struct {
	// CachePath binds the call to a disk-cache entry (relative to the cache
	// root). Empty disables caching for the call.
	CachePath string
	// CacheTTL is the freshness window for a cache hit; 0 means any present
	// entry is a hit.
	CacheTTL time.Duration
	// Timeout bounds the whole call including retries. 0 means no limit
	// beyond the caller's context.
	Timeout time.Duration

	Header http.Header
}

// Body is a fetched response with its content type preserved so callers can
// pick JSON decoding or raw text.
type Body struct {
	raw         []byte
	contentType string
	fromCache   bool
}

func (b *Body) Bytes() []byte   { return b.raw }
func (b *Body) Text() string    { return string(b.raw) }
func (b *Body) FromCache() bool { return b.fromCache }

func (b *Body) IsJSON() bool {
	if strings.Contains(b.contentType, "json") {
		return true
	}
	trimmed := strings.TrimLeft(string(b.raw), " \t\r\n")
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

func (b *Body) JSON(v any) error {
	return json.Unmarshal(b.raw, v)
}

// Client is the single valve between the ingestion core and the network:
// per-provider bounded concurrency, retries with exponential backoff, and
// content caching (in-memory hot layer over the disk cache).
type Client struct {
	http *http.Client
	// streamHTTP has no client-level timeout; long EPG downloads are bounded
	// by the caller's context instead.
	streamHTTP *http.Client
	disk       *diskcache.Cache
	hot        *gocache.Cache
	log        *logrus.Logger

	mu     sync.Mutex
	limits map[string]int
	slots  map[string]chan struct{}
}

// NewClient builds a fetcher over the shared disk cache. disk may be nil in
// tests; calls with a CachePath then always miss.
func NewClient(disk *diskcache.Cache, log *logrus.Logger) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 90 * time.Second},
		streamHTTP: &http.Client{},
		disk:       disk,
		hot:  gocache.New(hotTTL, hotSweep),
		log:  log,
		limits: map[string]int{
			MetadataProvider: DefaultMetadataConcurrency,
		},
		slots: make(map[string]chan struct{}),
	}
	return c
}

// SetLimit configures the in-flight bound for a provider. Takes effect for
// acquisitions after the call.
func (c *Client) SetLimit(providerID string, n int) {
	if n <= 0 {
		n = DefaultXtreamConcurrency
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits[providerID] = n
	delete(c.slots, providerID) // rebuilt at next acquire
}

func (c *Client) semaphore(providerID string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sem, ok := c.slots[providerID]; ok {
		return sem
	}
	n, ok := c.limits[providerID]
	if !ok {
		n = DefaultXtreamConcurrency
	}
	sem := make(chan struct{}, n)
	c.slots[providerID] = sem
	return sem
}

// Fetch issues one request on behalf of providerID. On a cache hit within
// CacheTTL no request is made. Excess concurrent callers for the same
// provider wait.
func (c *Client) Fetch(ctx context.Context, providerID, method, url string, opts Options) (*Body, error) {
	if body := c.cached(opts); body != nil {
		return body, nil
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	sem := c.semaphore(providerID)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, c.ctxError(ctx, url)
	}
	defer func() { <-sem }()

	body, err := c.doWithRetry(ctx, method, url, opts)
	if err != nil {
		return nil, err
	}
	c.persist(opts, body)
	return body, nil
}

func (c *Client) cached(opts Options) *Body {
	if opts.CachePath == "" {
		return nil
	}
	if v, ok := c.hot.Get(opts.CachePath); ok {
		if b, ok := v.(*Body); ok {
			hit := *b
			hit.fromCache = true
			return &hit
		}
	}
	if c.disk == nil {
		return nil
	}
	if !c.disk.Fresh(opts.CachePath, opts.CacheTTL) {
		return nil
	}
	data, ok := c.disk.Read(opts.CachePath)
	if !ok {
		return nil
	}
	return &Body{raw: data, fromCache: true}
}

func (c *Client) persist(opts Options, body *Body) {
	if opts.CachePath == "" {
		return
	}
	c.hot.SetDefault(opts.CachePath, body)
	if c.disk == nil {
		return
	}
	if err := c.disk.Write(opts.CachePath, body.raw); err != nil {
		c.log.WithError(err).WithField("path", opts.CachePath).Warn("Fetch: cache write failed")
	}
}

func (c *Client) doWithRetry(ctx context.Context, method, url string, opts Options) (*Body, error) {
	var body *Body
	attempt := 0

	op := func() error {
		attempt++
		b, err := c.doOnce(ctx, method, url, opts)
		if err == nil {
			body = b
			return nil
		}
		var fe *Error
		if errors.As(err, &fe) {
			switch {
			case fe.Kind == KindTimeout:
				return backoff.Permanent(err)
			case fe.Kind == KindStatus && fe.Status >= 400 && fe.Status < 500 && fe.Status != http.StatusTooManyRequests:
				// Client errors are surfaced immediately.
				return backoff.Permanent(err)
			}
		}
		if attempt < maxAttempts {
			c.log.WithError(err).WithFields(logrus.Fields{"url": url, "attempt": attempt}).Debug("Fetch: retrying")
		}
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = initialBackoff
	expo.MaxInterval = maxBackoff

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(expo, maxAttempts-1), ctx))
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			if fe.Status == http.StatusTooManyRequests {
				return nil, &Error{Kind: KindRateLimited, Status: fe.Status, URL: url, Err: fe.Err}
			}
			return nil, fe
		}
		if ctx.Err() != nil {
			return nil, c.ctxError(ctx, url)
		}
		return nil, &Error{Kind: KindTransport, URL: url, Err: err}
	}
	return body, nil
}

func (c *Client) doOnce(ctx context.Context, method, url string, opts Options) (*Body, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: url, Err: err}
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "StreamArc/1.0")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.ctxError(ctx, url)
		}
		return nil, &Error{Kind: KindTransport, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{Kind: KindStatus, Status: resp.StatusCode, URL: url}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.ctxError(ctx, url)
		}
		return nil, &Error{Kind: KindTransport, URL: url, Err: err}
	}
	return &Body{raw: raw, contentType: resp.Header.Get("Content-Type")}, nil
}

func (c *Client) ctxError(ctx context.Context, url string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, URL: url, Err: ctx.Err()}
	}
	return ctx.Err()
}

// FetchStream issues a request and hands back the raw body reader, for
// payloads too large to buffer (EPG guides). The provider's concurrency slot
// is held until the reader is closed. Streams bypass the cache.
func (c *Client) FetchStream(ctx context.Context, providerID, method, url string, opts Options) (io.ReadCloser, error) {
	sem := c.semaphore(providerID)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, c.ctxError(ctx, url)
	}

	release := func() { <-sem }

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		release()
		return nil, &Error{Kind: KindTransport, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", "StreamArc/1.0")
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		release()
		if ctx.Err() != nil {
			return nil, c.ctxError(ctx, url)
		}
		return nil, &Error{Kind: KindTransport, URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		release()
		return nil, &Error{Kind: KindStatus, Status: resp.StatusCode, URL: url}
	}
	return &releasingReader{rc: resp.Body, release: release}, nil
}

type releasingReader struct {
	rc      io.ReadCloser
	release func()
	once    sync.Once
}

func (r *releasingReader) Read(p []byte) (int, error) { return r.rc.Read(p) }

func (r *releasingReader) Close() error {
	err := r.rc.Close()
	r.once.Do(r.release)
	return err
}
