package mock

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// Upstream is an in process udp resolver answering with a handler.
type Upstream struct {
	Addr string

	server  *dns.Server
	queries atomic.Int32
}

// NewUpstream starts a resolver on a random loopback port. Every query is
// counted and passed to handler.
func NewUpstream(handler dns.HandlerFunc) (*Upstream, error) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	u := &Upstream{Addr: pc.LocalAddr().String()}

	u.server = &dns.Server{
		PacketConn:   pc,
		ReadTimeout:  time.Hour,
		WriteTimeout: time.Hour,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			u.queries.Add(1)
			handler(w, r)
		}),
	}

	waitLock := sync.Mutex{}
	waitLock.Lock()
	u.server.NotifyStartedFunc = waitLock.Unlock

	go func() {
		_ = u.server.ActivateAndServe()
		pc.Close()
	}()

	waitLock.Lock()

	return u, nil
}

// Queries returns how many queries the upstream received.
func (u *Upstream) Queries() int { return int(u.queries.Load()) }

// Close stops the upstream.
func (u *Upstream) Close() error { return u.server.Shutdown() }

// AnswerA returns a handler replying to every query with one A record.
func AnswerA(ip string, ttl uint32) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		m.RecursionAvailable = true

		if r.Question[0].Qtype == dns.TypeA {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
				A:   net.ParseIP(ip),
			})
		}

		_ = w.WriteMsg(m)
	}
}
