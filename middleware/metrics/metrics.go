package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/sdnsfwd/dnsutil"
	"github.com/semihalev/sdnsfwd/middleware"
)

// Metrics type
type Metrics struct {
	queries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New return new metrics
func New(cfg *config.Config) *Metrics {
	m := &Metrics{
		queries: register(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dns_queries_total",
				Help: "How many DNS queries processed",
			},
			[]string{"qtype", "rcode"},
		)),
		duration: register(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dns_query_duration_seconds",
				Help:    "Time spent answering DNS queries by answering step",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"source"},
		)),
	}

	return m
}

// register returns c, or the collector already registered under the same name.
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}

	return c
}

// Name return middleware name
func (m *Metrics) Name() string { return name }

// ServeDNS implements the Handle interface.
func (m *Metrics) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	start := time.Now()

	ch.Next(ctx)

	if ch.Writer.Internal() {
		return
	}

	qtype := dnsutil.TypeToString(ch.Request.Question[0].Qtype)

	if !ch.Writer.Written() {
		m.queries.With(prometheus.Labels{"qtype": qtype, "rcode": noReply}).Inc()
		return
	}

	m.queries.With(
		prometheus.Labels{
			"qtype": qtype,
			"rcode": dns.RcodeToString[ch.Writer.Rcode()],
		}).Inc()

	m.duration.With(prometheus.Labels{"source": ch.WrittenBy()}).Observe(time.Since(start).Seconds())
}

const (
	name    = "metrics"
	noReply = "NOREPLY"
)
