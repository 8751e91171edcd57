package forwarder

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/sdnsfwd/dnsutil"
	"github.com/semihalev/sdnsfwd/forwarder"
	"github.com/semihalev/sdnsfwd/middleware"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/singleflight"
)

var failures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "dns_forward_failures_total",
	Help: "Total number of failed upstream exchanges",
}, []string{"reason"})

func init() {
	prometheus.MustRegister(failures)
}

// Forwarder relays queries to the upstream resolver. Concurrent queries
// for the same name, spelled the same way, and type share one upstream
// exchange.
type Forwarder struct {
	*forwarder.Forwarder

	group singleflight.Group
}

// New return forwarder
func New(cfg *config.Config) *Forwarder {
	return &Forwarder{Forwarder: forwarder.New(cfg.Upstream, cfg.Timeout.Duration)}
}

// Name return middleware name
func (f *Forwarder) Name() string { return name }

// ServeDNS implements the Handle interface. On failure nothing is written
// and the client is left to retry.
func (f *Forwarder) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request
	q := req.Question[0]

	key := flightKey(q)

	v, err, shared := f.group.Do(key, func() (any, error) {
		// the exchange outlives a cancelled leader so followers still get the reply
		return f.Forward(context.WithoutCancel(ctx), q.Name, q.Qtype, req.Id)
	})
	if err != nil {
		reason := "upstream"
		if errors.Is(err, forwarder.ErrTimeout) {
			reason = "timeout"
		}
		failures.WithLabelValues(reason).Inc()

		zlog.Debug("Forward failed", "query", dnsutil.FormatQuestion(q), "upstream", f.Addr(), "error", err.Error())
		ch.Cancel()
		return
	}

	resp := v.([]byte)
	if shared {
		resp = withID(resp, req.Id)
	}

	if _, err := w.Write(resp); err != nil {
		zlog.Debug("Relay failed", "query", dnsutil.FormatQuestion(q), "error", err.Error())
	}

	ch.Cancel()
}

// flightKey keeps the exact question name, replies shared by a flight then
// echo the name each waiter asked with.
func flightKey(q dns.Question) string {
	return q.Name + "|" + dnsutil.TypeToString(q.Qtype)
}

// withID returns a copy of msg carrying transaction id.
func withID(msg []byte, id uint16) []byte {
	out := make([]byte, len(msg))
	copy(out, msg)
	binary.BigEndian.PutUint16(out, id)

	return out
}

const name = "forwarder"
