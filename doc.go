/*
Package main implements sdnsfwd - a caching, filtering DNS forwarder.

sdnsfwd answers UDP DNS queries from a byte-bounded LRU answer cache,
refuses blocklisted domains with NXDOMAIN and forwards everything else to a
single upstream recursive resolver, relaying the upstream reply verbatim.

Architecture:

Every query passes a chain of middlewares in this order:

 1. Recovery - Panic recovery, SERVFAIL if nothing was written yet
 2. Metrics - Prometheus query counters and latency by answering step
 3. AccessList - IP-based access control
 4. RateLimit - Query rate limiting per client
 5. AccessLog - Query logging
 6. BlockList - Hierarchical domain blocking with whitelist
 7. Cache - Answer cache lookup and cache-fill from upstream replies
 8. Forwarder - Upstream exchange with single-flight deduplication

Blocklists are hosts files fetched over http(s) or read from disk. Remote
lists are kept on disk and reused while fresh; all lists are refreshed
periodically, on SIGUSR1, on API request and when a local list changes.

The cache can be persisted on shutdown to a file or a redis key and is
restored on startup.

Configuration:

sdnsfwd uses a TOML configuration file (default: sdnsfwd.conf), generated
with commented defaults when missing.

Usage:

	sdnsfwd [flags]
	sdnsfwd [command]

Available Commands:

	help        Help about any command
	version     Print version information

Flags:

	-c, --config string   Location of config file (default "sdnsfwd.conf")
	-h, --help            Help for sdnsfwd

Example:

	# Start with custom config
	sdnsfwd -c /etc/sdnsfwd/sdnsfwd.conf

	# Refresh the blocklists
	kill -USR1 $(pidof sdnsfwd)
*/
package main // import "github.com/semihalev/sdnsfwd"
