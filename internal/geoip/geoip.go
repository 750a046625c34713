// Package geoip resolves client addresses to 2-letter country codes through
// external lookup services. Lookups are cacheable and fallible: every failure
// path degrades to the sentinel code instead of blocking ingestion.
package geoip

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/score-server/internal/metrics"
)

// Unknown is the sentinel country code used when no service can place the
// address.
const Unknown = "xx"

const (
	defaultTimeout   = 2 * time.Second
	defaultCacheSize = 4096
	defaultCacheTTL  = 30 * 24 * time.Hour
)

type cacheEntry struct {
	code    string
	expires time.Time
}

// Resolver queries a list of lookup services in order, caching results
type Resolver struct {
	services []string // URL templates with one %s for the address
	client   *http.Client
	cache    *lru.Cache
	ttl      time.Duration
	log      *slog.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithTimeout bounds each service call
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.client.Timeout = d }
}

// WithCacheTTL sets how long resolved codes are kept
func WithCacheTTL(d time.Duration) Option {
	return func(r *Resolver) { r.ttl = d }
}

// NewResolver creates a resolver over the given service URL templates
func NewResolver(services []string, cacheSize int, log *slog.Logger, opts ...Option) *Resolver {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if log == nil {
		log = slog.Default()
	}
	// size > 0, so the only constructor error is unreachable
	cache, _ := lru.New(cacheSize)
	r := &Resolver{
		services: services,
		client:   &http.Client{Timeout: defaultTimeout},
		cache:    cache,
		ttl:      defaultCacheTTL,
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Country resolves addr to a lowercase 2-letter country code. It never
// fails and never blocks past the configured timeout per service; a full
// degradation returns Unknown.
func (r *Resolver) Country(ctx context.Context, addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	if host == "" {
		return Unknown
	}

	if v, ok := r.cache.Get(host); ok {
		entry := v.(cacheEntry)
		if time.Now().Before(entry.expires) {
			return entry.code
		}
		r.cache.Remove(host)
	}

	code := r.lookup(ctx, host)
	if code == "" {
		code = Unknown
		metrics.GeoLookupFailures.Inc()
	}

	r.cache.Add(host, cacheEntry{code: code, expires: time.Now().Add(r.ttl)})
	return code
}

func (r *Resolver) lookup(ctx context.Context, host string) string {
	for _, service := range r.services {
		url := strings.Replace(service, "%s", host, 1)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := r.client.Do(req)
		if err != nil {
			r.log.Debug("geoip service failed",
				slog.String("service", service),
				slog.Any("error", err))
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}

		code := strings.ToLower(strings.TrimSpace(string(body)))
		if code == "" || code == "none" || strings.HasPrefix(code, "(null)") {
			continue
		}
		return code
	}
	return ""
}
