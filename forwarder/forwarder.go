// Package forwarder exchanges queries with the upstream resolver.
package forwarder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/sdnsfwd/cache"
	"github.com/semihalev/sdnsfwd/dnsutil"
)

var (
	// ErrTimeout is returned when no reply arrived before the deadline.
	ErrTimeout = errors.New("upstream timeout")
	// ErrUpstream is returned for any other transport failure.
	ErrUpstream = errors.New("upstream transport error")
)

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, dnsutil.DefaultMsgSize)
		return &b
	},
}

// Forwarder sends queries to a single upstream over udp.
type Forwarder struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

// New returns a forwarder for the upstream host:port. A non positive
// timeout falls back to five seconds.
func New(addr string, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Forwarder{addr: addr, timeout: timeout}
}

// Addr returns the upstream address.
func (f *Forwarder) Addr() string { return f.addr }

// Forward asks the upstream for domain and qtype using transaction id, so
// the reply can be relayed unmodified to the client that sent id. It waits
// for one reply carrying the same id until the timeout and never retries.
func (f *Forwarder) Forward(ctx context.Context, domain string, qtype uint16, id uint16) ([]byte, error) {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(domain), qtype)
	req.Id = id
	req.RecursionDesired = true

	query, err := req.Pack()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	conn, err := f.dialer.DialContext(ctx, "udp", f.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(query); err != nil {
		return nil, f.wrap(ctx, err)
	}

	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)
	buf := *bufp

	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, f.wrap(ctx, err)
		}

		// stray or late datagrams for another exchange
		if n < 12 || binary.BigEndian.Uint16(buf[:2]) != id {
			continue
		}

		resp := make([]byte, n)
		copy(resp, buf[:n])

		return resp, nil
	}
}

func (f *Forwarder) wrap(ctx context.Context, err error) error {
	var ne net.Error
	if ctx.Err() != nil || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s after %s", ErrTimeout, f.addr, f.timeout)
	}

	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

// ParseResponse decodes raw and returns the answer records of type qtype
// together with the TTL of the first of them. Records of other types are
// dropped. A reply that does not decode or has no matching record yields
// ok == false.
func ParseResponse(raw []byte, qtype uint16) (records []cache.Record, ttl uint32, ok bool) {
	msg := new(dns.Msg)
	if err := msg.Unpack(raw); err != nil {
		return nil, 0, false
	}

	for _, rr := range msg.Answer {
		hdr := rr.Header()
		if hdr.Rrtype != qtype {
			continue
		}

		if len(records) == 0 {
			ttl = hdr.Ttl
		}

		records = append(records, cache.Record{
			Name: hdr.Name,
			Type: hdr.Rrtype,
			Data: dnsutil.RecordData(rr),
			TTL:  hdr.Ttl,
		})
	}

	if len(records) == 0 {
		return nil, 0, false
	}

	return records, ttl, true
}
