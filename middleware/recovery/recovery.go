package recovery

import (
	"context"
	"runtime/debug"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/sdnsfwd/dnsutil"
	"github.com/semihalev/sdnsfwd/middleware"
	"github.com/semihalev/zlog/v2"
)

var panics = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "dns_recovered_panics_total",
	Help: "Total number of handler panics recovered while serving a query",
})

func init() {
	prometheus.MustRegister(panics)
}

// Recovery keeps a panicking handler from taking the query goroutine down.
// The client gets SERVFAIL unless a reply already went out.
type Recovery struct{}

// New return recovery.
func New(cfg *config.Config) *Recovery {
	return &Recovery{}
}

// Name return middleware name.
func (r *Recovery) Name() string { return name }

// ServeDNS implements the Handle interface.
func (r *Recovery) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}

		panics.Inc()

		replied := ch.Writer.Written()
		if !replied {
			ch.CancelWithRcode(dns.RcodeServerFailure)
		}
		ch.Cancel()

		query := "-"
		if req := ch.Request; req != nil && len(req.Question) > 0 {
			query = dnsutil.FormatQuestion(req.Question[0])
		}

		zlog.Error("Recovered in ServeDNS", "recover", rec, "query", query,
			"client", ch.Writer.RemoteIP(), "replied", replied, "stack", string(debug.Stack()))
	}()

	ch.Next(ctx)
}

const name = "recovery"
