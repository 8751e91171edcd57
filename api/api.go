// Package api serves the http introspection endpoints of sdnsfwd.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/sdnsfwd/blocklist"
	"github.com/semihalev/sdnsfwd/cache"
	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/sdnsfwd/dnsutil"
	"github.com/semihalev/sdnsfwd/middleware"
	mwblocklist "github.com/semihalev/sdnsfwd/middleware/blocklist"
	mwcache "github.com/semihalev/sdnsfwd/middleware/cache"
	"github.com/semihalev/zlog/v2"
)

// Resolver runs a query through the pipeline as an internal query.
type Resolver interface {
	Resolve(req *dns.Msg) (*dns.Msg, string)
}

// API type
type API struct {
	addr   string
	router *gin.Engine

	cache     *cache.Cache
	blocklist *blocklist.BlockList
	resolver  Resolver
}

// Record is the json form of a resource record.
type Record struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
	TTL  uint32 `json:"ttl"`
}

// Entry is the json form of a cache entry.
type Entry struct {
	Key     string   `json:"key"`
	TTL     int64    `json:"ttl"`
	Size    int      `json:"size"`
	Records []Record `json:"records"`
}

// New return new api
func New(cfg *config.Config, resolver Resolver) *API {
	gin.SetMode(gin.ReleaseMode)

	a := &API{
		addr:     cfg.API,
		router:   gin.New(),
		resolver: resolver,
	}

	if c, ok := middleware.Get("cache").(*mwcache.Cache); ok {
		a.cache = c.Cache
	}

	if b, ok := middleware.Get("blocklist").(*mwblocklist.BlockList); ok {
		a.blocklist = b.BlockList
	}

	a.router.Use(gin.Recovery())
	a.routes()

	return a
}

func (a *API) routes() {
	v1 := a.router.Group("/api/v1")
	{
		v1.GET("/stats", a.stats)

		if a.cache != nil {
			v1.GET("/cache", a.listCache)
			v1.GET("/purge/:qname/:qtype", a.purge)
		}

		if a.blocklist != nil {
			block := v1.Group("/blocklist")
			{
				block.GET("/exists/:domain", a.existsBlock)
				block.POST("/refresh", a.refreshBlock)
			}
		}

		if a.resolver != nil {
			v1.GET("/query/:domain/:qtype", a.query)
		}
	}

	a.router.GET("/metrics", a.metrics)
}

func (a *API) stats(ctx *gin.Context) {
	out := gin.H{}

	if a.cache != nil {
		out["cache"] = a.cache.Stats()
	}

	if a.blocklist != nil {
		out["blocklist"] = gin.H{
			"domains":      a.blocklist.Length(),
			"last_refresh": a.blocklist.LastRefresh(),
			"sources":      a.blocklist.Refreshed(),
		}
	}

	ctx.JSON(http.StatusOK, out)
}

func (a *API) listCache(ctx *gin.Context) {
	now := time.Now()
	items := a.cache.Items()

	// most recently used first
	entries := make([]Entry, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]

		records := make([]Record, 0, len(it.Records))
		for _, r := range it.Records {
			records = append(records, Record{Name: r.Name, Type: dnsutil.TypeToString(r.Type), Data: r.Data, TTL: r.TTL})
		}

		entries = append(entries, Entry{
			Key:     it.Key.String(),
			TTL:     int64(it.TTL(now).Round(time.Second) / time.Second),
			Size:    it.Size,
			Records: records,
		})
	}

	ctx.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

func (a *API) purge(ctx *gin.Context) {
	qtype, ok := dnsutil.StringToType(ctx.Param("qtype"))
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "unknown query type " + ctx.Param("qtype")})
		return
	}

	key := cache.NewKey(ctx.Param("qname"), qtype)
	err := a.cache.Remove(key)

	ctx.JSON(http.StatusOK, gin.H{"success": err == nil, "key": key.String()})
}

func (a *API) existsBlock(ctx *gin.Context) {
	domain := ctx.Param("domain")

	ctx.JSON(http.StatusOK, gin.H{
		"exists":  a.blocklist.Exists(domain),
		"blocked": a.blocklist.IsBlocked(domain),
	})
}

func (a *API) refreshBlock(ctx *gin.Context) {
	total := a.blocklist.Refresh(ctx.Request.Context())

	ctx.JSON(http.StatusOK, gin.H{"total": total, "last_refresh": a.blocklist.LastRefresh()})
}

func (a *API) query(ctx *gin.Context) {
	domain := ctx.Param("domain")

	qtype, ok := dnsutil.StringToType(ctx.Param("qtype"))
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "unknown query type " + ctx.Param("qtype")})
		return
	}

	if _, ok := dns.IsDomainName(domain); !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid domain " + domain})
		return
	}

	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(domain), qtype)

	start := time.Now()
	msg, by := a.resolver.Resolve(req)
	elapsed := time.Since(start)

	if msg == nil {
		ctx.JSON(http.StatusGatewayTimeout, gin.H{
			"domain":     dnsutil.Normalize(domain),
			"type":       dnsutil.TypeToString(qtype),
			"error":      "no reply from upstream",
			"elapsed_ms": elapsed.Milliseconds(),
		})
		return
	}

	records := make([]Record, 0, len(msg.Answer))
	for _, rr := range msg.Answer {
		hdr := rr.Header()
		records = append(records, Record{
			Name: hdr.Name,
			Type: dnsutil.TypeToString(hdr.Rrtype),
			Data: dnsutil.RecordData(rr),
			TTL:  hdr.Ttl,
		})
	}

	ctx.JSON(http.StatusOK, gin.H{
		"domain":     dnsutil.Normalize(domain),
		"type":       dnsutil.TypeToString(qtype),
		"source":     sources[by],
		"rcode":      dns.RcodeToString[msg.Rcode],
		"records":    records,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

func (a *API) metrics(ctx *gin.Context) {
	promhttp.Handler().ServeHTTP(ctx.Writer, ctx.Request)
}

// Run binds the api address and serves until ctx is done. A bind failure
// is returned, an empty address disables the api.
func (a *API) Run(ctx context.Context) error {
	if a.addr == "" {
		return nil
	}

	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	zlog.Info("API server listening...", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	zlog.Info("API server stopping...", "addr", a.addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Shutdown API server failed", "error", err.Error())
	}

	return nil
}

var sources = map[string]string{
	"blocklist": "blocked",
	"cache":     "cache",
	"forwarder": "upstream",
}
