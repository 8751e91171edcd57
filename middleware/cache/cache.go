package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/sdnsfwd/cache"
	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/sdnsfwd/dnsutil"
	"github.com/semihalev/sdnsfwd/forwarder"
	"github.com/semihalev/sdnsfwd/middleware"
	"github.com/semihalev/zlog/v2"
)

// Cache answers queries from the answer cache and fills it from the
// replies relayed by the handlers after it.
type Cache struct {
	*cache.Cache

	store cache.Store
	sweep time.Duration
}

// New return cache
func New(cfg *config.Config) *Cache {
	c := &Cache{
		Cache: cache.New(cfg.CacheSize),
		sweep: cfg.CacheSweep.Duration,
	}

	if cfg.Snapshot != "" {
		store, err := cache.NewStore(cfg.Snapshot)
		if err != nil {
			zlog.Error("Cache snapshot disabled", "snapshot", cfg.Snapshot, "error", err.Error())
		} else {
			c.store = store
		}
	}

	instance.Store(c.Cache)

	return c
}

// Name return middleware name
func (c *Cache) Name() string { return name }

// ServeDNS implements the Handle interface.
func (c *Cache) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request
	q := req.Question[0]

	key := cache.NewKey(q.Name, q.Qtype)

	if records, err := c.Get(key); err == nil {
		msg, err := Answer(req, records)
		if err != nil {
			zlog.Error("Cache answer build failed", "key", key.String(), "error", err.Error())
			ch.Cancel()
			return
		}

		zlog.Debug("Cache hit", "query", dnsutil.FormatQuestion(q), "records", len(records))

		_ = w.WriteMsg(msg)
		ch.Cancel()
		return
	}

	ch.Next(ctx)

	if !w.Written() {
		return
	}

	records, ttl, ok := forwarder.ParseResponse(w.Raw(), q.Qtype)
	if !ok || ttl == 0 {
		return
	}

	if err := c.Set(key, records, time.Duration(ttl)*time.Second); err != nil {
		zlog.Debug("Cache set failed", "key", key.String(), "error", err.Error())
		return
	}

	zlog.Debug("Cache set", "key", key.String(), "records", len(records), "ttl", ttl)
}

// Start loads the snapshot. A missing or unreadable snapshot leaves the
// cache empty.
func (c *Cache) Start(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	n, err := c.Load(ctx, c.store)
	switch {
	case errors.Is(err, cache.ErrSnapshotNotFound):
		zlog.Info("Cache snapshot not found, starting empty", "snapshot", c.store.String())
	case err != nil:
		zlog.Warn("Cache snapshot load failed, starting empty", "snapshot", c.store.String(), "error", err.Error())
	default:
		zlog.Info("Cache snapshot loaded", "snapshot", c.store.String(), "entries", n)
	}

	return nil
}

// Run sweeps expired entries until ctx is done, then saves the snapshot.
func (c *Cache) Run(ctx context.Context) {
	c.Sweep(ctx, c.sweep)
	<-ctx.Done()

	if c.store == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := c.Save(saveCtx, c.store)
	if err != nil {
		zlog.Error("Cache snapshot save failed", "snapshot", c.store.String(), "error", err.Error())
		return
	}

	zlog.Info("Cache snapshot saved", "snapshot", c.store.String(), "entries", n)
}

// Answer builds the reply to req carrying records. Every record is owned by
// the question name so the reply stands without the CNAME chain upstream
// may have answered through.
func Answer(req *dns.Msg, records []cache.Record) (*dns.Msg, error) {
	rrs, err := ToRR(records)
	if err != nil {
		return nil, err
	}

	owner := req.Question[0].Name
	for _, rr := range rrs {
		rr.Header().Name = owner
	}

	msg := new(dns.Msg)
	msg.SetReply(req)
	msg.RecursionAvailable = true
	msg.Answer = rrs

	return msg, nil
}

// ToRR converts cached records back to resource records.
func ToRR(records []cache.Record) ([]dns.RR, error) {
	rrs := make([]dns.RR, 0, len(records))

	for _, r := range records {
		rr, err := dns.NewRR(fmt.Sprintf("%s\t%d\tIN\t%s\t%s", r.Name, r.TTL, dnsutil.TypeToString(r.Type), r.Data))
		if err != nil {
			return nil, err
		}

		if rr == nil {
			continue
		}

		rrs = append(rrs, rr)
	}

	return rrs, nil
}

const name = "cache"
