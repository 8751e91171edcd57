package main

import (
	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/sdnsfwd/middleware"
	"github.com/semihalev/sdnsfwd/middleware/accesslist"
	"github.com/semihalev/sdnsfwd/middleware/accesslog"
	"github.com/semihalev/sdnsfwd/middleware/blocklist"
	"github.com/semihalev/sdnsfwd/middleware/cache"
	"github.com/semihalev/sdnsfwd/middleware/forwarder"
	"github.com/semihalev/sdnsfwd/middleware/metrics"
	"github.com/semihalev/sdnsfwd/middleware/ratelimit"
	"github.com/semihalev/sdnsfwd/middleware/recovery"
)

// The order is important, every query passes the handlers in this order.
func init() {
	middleware.Register("recovery", func(cfg *config.Config) middleware.Handler { return recovery.New(cfg) })
	middleware.Register("metrics", func(cfg *config.Config) middleware.Handler { return metrics.New(cfg) })
	middleware.Register("accesslist", func(cfg *config.Config) middleware.Handler { return accesslist.New(cfg) })
	middleware.Register("ratelimit", func(cfg *config.Config) middleware.Handler { return ratelimit.New(cfg) })
	middleware.Register("accesslog", func(cfg *config.Config) middleware.Handler { return accesslog.New(cfg) })
	middleware.Register("blocklist", func(cfg *config.Config) middleware.Handler { return blocklist.New(cfg) })
	middleware.Register("cache", func(cfg *config.Config) middleware.Handler { return cache.New(cfg) })
	middleware.Register("forwarder", func(cfg *config.Config) middleware.Handler { return forwarder.New(cfg) })
}
