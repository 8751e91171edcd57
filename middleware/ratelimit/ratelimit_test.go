package ratelimit

import (
	"context"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/sdnsfwd/middleware"
	"github.com/semihalev/sdnsfwd/mock"
	"github.com/stretchr/testify/assert"
)

type answer struct{}

func (a *answer) Name() string { return "answer" }
func (a *answer) ServeDNS(_ context.Context, ch *middleware.Chain) {
	ch.CancelWithRcode(dns.RcodeSuccess)
}

func query(r *RateLimit, addr string) bool {
	req := new(dns.Msg)
	req.SetQuestion("test.com.", dns.TypeA)

	mw := mock.NewWriter("udp", addr)
	ch := middleware.NewChain([]middleware.Handler{r, &answer{}})
	ch.Reset(mw, req)
	ch.Next(context.Background())

	return mw.Written()
}

func Test_RateLimit(t *testing.T) {
	middleware.Register("ratelimit", func(cfg *config.Config) middleware.Handler { return New(cfg) })
	_ = middleware.Setup(&config.Config{ClientRateLimit: 2})

	r := middleware.Get("ratelimit").(*RateLimit)
	assert.Equal(t, "ratelimit", r.Name())

	assert.True(t, query(r, "192.0.2.1:53"))
	assert.True(t, query(r, "192.0.2.1:53"))
	assert.False(t, query(r, "192.0.2.1:53"))

	// other clients have their own bucket
	assert.True(t, query(r, "192.0.2.2:53"))

	// loopback and internal queries are never limited
	for i := 0; i < 5; i++ {
		assert.True(t, query(r, "127.0.0.1:53"))
		assert.True(t, query(r, "127.0.0.255:0"))
	}
}

func Test_RateLimitDisabled(t *testing.T) {
	r := New(&config.Config{})

	for i := 0; i < 10; i++ {
		assert.True(t, query(r, "192.0.2.1:53"))
	}
}

func Test_LimiterStore(t *testing.T) {
	s := NewLimiterStore(2, 10)

	a := s.Get(key(net.ParseIP("192.0.2.1")))
	assert.Same(t, a, s.Get(key(net.ParseIP("192.0.2.1"))))
	assert.Equal(t, key(net.ParseIP("192.0.2.1")), key(net.ParseIP("192.0.2.1").To4()))

	s.Get(key(net.ParseIP("192.0.2.2")))
	s.Get(key(net.ParseIP("192.0.2.3")))
	assert.Equal(t, 2, s.Len())
}
