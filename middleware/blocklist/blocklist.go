package blocklist

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/sdnsfwd/blocklist"
	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/sdnsfwd/dnsutil"
	"github.com/semihalev/sdnsfwd/middleware"
	"github.com/semihalev/zlog/v2"
)

var domains atomic.Pointer[blocklist.BlockList]

var (
	blocked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dns_blocked_queries_total",
		Help: "Total number of queries answered by the blocklist",
	})

	blocklistSize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dns_blocklist_domains",
		Help: "Current number of blocked domains",
	}, func() float64 {
		if b := domains.Load(); b != nil {
			return float64(b.Length())
		}
		return 0
	})
)

func init() {
	prometheus.MustRegister(blocked)
	prometheus.MustRegister(blocklistSize)
}

// BlockList answers queries for blocked domains with NXDOMAIN.
type BlockList struct {
	*blocklist.BlockList

	interval time.Duration
}

// New returns a new BlockList
func New(cfg *config.Config) *BlockList {
	b := &BlockList{
		BlockList: blocklist.New(blocklist.Options{
			Sources:   cfg.BlockLists,
			Dir:       cfg.BlockListDir,
			TTL:       cfg.BlockListTTL.Duration,
			Blocked:   cfg.Blocklist,
			Whitelist: cfg.Whitelist,
		}),
		interval: cfg.BlockListRefresh.Duration,
	}

	domains.Store(b.BlockList)

	return b
}

// Name return middleware name
func (b *BlockList) Name() string { return name }

// ServeDNS implements the Handle interface.
func (b *BlockList) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request
	q := req.Question[0]

	if !b.IsBlocked(q.Name) {
		ch.Next(ctx)
		return
	}

	zlog.Debug("Query blocked", "query", dnsutil.FormatQuestion(q), "client", w.RemoteIP())

	if !w.Internal() {
		blocked.Inc()
	}

	_ = w.WriteMsg(blocklist.BlockedResponse(req))

	ch.Cancel()
}

// Start runs the first refresh, queries are served after it completes.
func (b *BlockList) Start(ctx context.Context) error {
	b.Refresh(ctx)

	return nil
}

// Run keeps the blocklist fresh until ctx is done.
func (b *BlockList) Run(ctx context.Context) {
	b.BlockList.Run(ctx, b.interval)
}

const name = "blocklist"
