// Package blocklist keeps the set of blocked domains of sdnsfwd.
package blocklist

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/miekg/dns"
	"github.com/semihalev/sdnsfwd/dnsutil"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/errgroup"
)

// ErrSourceFetch is returned when a source could not be read or downloaded.
var ErrSourceFetch = errors.New("blocklist source fetch failed")

// WallClock is the clock new blocklists are created with.
var WallClock = clockwork.NewRealClock()

// Options configures a BlockList.
type Options struct {
	// Sources are http(s) urls or local hosts files.
	Sources []string
	// Dir holds the downloaded copy of every remote source.
	Dir string
	// TTL is how long a downloaded copy stays valid.
	TTL time.Duration

	// Blocked entries are merged into every refresh.
	Blocked []string
	// Whitelist entries and their subdomains are never blocked.
	Whitelist []string

	Client *http.Client
}

// BlockList type
type BlockList struct {
	mu sync.RWMutex

	m         map[string]struct{}
	w         map[string]struct{}
	refreshed map[string]time.Time
	last      time.Time

	// serializes refreshes, never held together with mu
	refreshMu sync.Mutex

	opts    Options
	sources []source
	trigger chan struct{}

	clock clockwork.Clock
}

// New returns a new, empty BlockList. Call Refresh to load the sources.
func New(opts Options) *BlockList {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}

	if opts.Dir == "" {
		opts.Dir = "."
	}

	b := &BlockList{
		m:         make(map[string]struct{}),
		w:         make(map[string]struct{}),
		refreshed: make(map[string]time.Time),
		opts:      opts,
		trigger:   make(chan struct{}, 1),
		clock:     WallClock,
	}

	for _, entry := range opts.Whitelist {
		if name := dnsutil.Normalize(strings.TrimSpace(entry)); name != "" {
			b.w[name] = struct{}{}
		}
	}

	seen := make(map[string]bool)
	for _, location := range opts.Sources {
		location = strings.TrimSpace(location)
		if location == "" || seen[location] {
			continue
		}
		seen[location] = true

		b.sources = append(b.sources, newSource(location))
	}

	return b
}

// Refresh rebuilds the blocked set from every source and replaces the live
// set in one step. A failing source contributes nothing; the refresh itself
// always completes. It returns the number of blocked domains.
func (b *BlockList) Refresh(ctx context.Context) int {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	sets := make([]map[string]struct{}, len(b.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range b.sources {
		g.Go(func() error {
			set, err := b.load(gctx, src)
			if err != nil {
				zlog.Error("Blocklist source failed", "source", src.location, "error", err.Error())
				return nil
			}

			sets[i] = set
			return nil
		})
	}
	_ = g.Wait()

	m := make(map[string]struct{})
	for _, set := range sets {
		for name := range set {
			m[name] = struct{}{}
		}
	}

	for _, entry := range b.opts.Blocked {
		if name := dnsutil.Normalize(strings.TrimSpace(entry)); name != "" {
			m[name] = struct{}{}
		}
	}

	now := b.clock.Now()

	b.mu.Lock()
	b.m = m
	b.last = now
	for i, src := range b.sources {
		if sets[i] != nil {
			b.refreshed[src.location] = now
		}
	}
	b.mu.Unlock()

	zlog.Info("Blocklist refreshed", "sources", len(b.sources), "total", len(m))

	return len(m)
}

// IsBlocked reports whether domain or any of its parent domains is in the
// blocked set. A whitelisted name or parent is never blocked.
func (b *BlockList) IsBlocked(domain string) bool {
	name := dnsutil.Normalize(domain)
	if name == "" {
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	blocked := false
	for {
		if _, ok := b.w[name]; ok {
			return false
		}

		if _, ok := b.m[name]; ok {
			blocked = true
		}

		i := strings.IndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[i+1:]
	}

	return blocked
}

// Exists returns whether the exact domain is in the blocked set.
func (b *BlockList) Exists(domain string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.m[dnsutil.Normalize(domain)]

	return ok
}

// Length returns the number of blocked domains.
func (b *BlockList) Length() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.m)
}

// LastRefresh returns when the live set was last replaced.
func (b *BlockList) LastRefresh() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.last
}

// Refreshed returns the last successful load time per source.
func (b *BlockList) Refreshed() map[string]time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]time.Time, len(b.refreshed))
	for k, v := range b.refreshed {
		out[k] = v
	}

	return out
}

// BlockedResponse returns the negative answer for a blocked query: the
// query's transaction id, NXDOMAIN and no answer records.
func BlockedResponse(req *dns.Msg) *dns.Msg {
	return dnsutil.SetRcode(req, dns.RcodeNameError)
}
