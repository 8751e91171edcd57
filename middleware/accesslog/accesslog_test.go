package accesslog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/sdnsfwd/middleware"
	"github.com/semihalev/sdnsfwd/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type servfail struct{}

func (s *servfail) Name() string { return "servfail" }
func (s *servfail) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ch.CancelWithRcode(dns.RcodeServerFailure)
}

func Test_AccessLog(t *testing.T) {
	cfg := &config.Config{
		AccessLog: filepath.Join(t.TempDir(), "access.log"),
	}

	a := New(cfg)
	assert.Equal(t, "accesslog", a.Name())
	require.NotNil(t, a.logFile)

	ch := middleware.NewChain([]middleware.Handler{a, &servfail{}})

	mw := mock.NewWriter("udp", "10.0.0.1:0")
	req := new(dns.Msg)
	req.SetQuestion("Test.com.", dns.TypeA)

	ch.Reset(mw, req)
	ch.Next(context.Background())

	assert.Equal(t, dns.RcodeServerFailure, mw.Rcode())

	ch.Reset(mock.NewWriter("udp", middleware.InternalAddr.String()), req)
	ch.Next(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)

	data, err := os.ReadFile(cfg.AccessLog)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "10.0.0.1 - ["))
	assert.Contains(t, lines[0], "\"test.com. IN A\" udp servfail SERVFAIL")
}

func Test_AccessLogDisabled(t *testing.T) {
	a := New(&config.Config{})
	assert.Nil(t, a.logFile)

	ch := middleware.NewChain([]middleware.Handler{a, &servfail{}})
	req := new(dns.Msg)
	req.SetQuestion("test.com.", dns.TypeA)

	mw := mock.NewWriter("udp", "10.0.0.1:0")
	ch.Reset(mw, req)
	ch.Next(context.Background())

	assert.True(t, mw.Written())
	a.Run(context.Background())
}
