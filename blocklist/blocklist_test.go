package blocklist

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hostsFile = `# test hosts
127.0.0.1 localhost
127.0.0.1 localhost.localdomain
0.0.0.0 0.0.0.0

0.0.0.0 ads.example.com
0.0.0.0 Tracker.Example.NET. # inline comment
0.0.0.0 one.test two.test
`

func newHostsServer(t *testing.T, body *atomic.Value, hits *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = fmt.Fprint(w, body.Load().(string))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func Test_BlockListHierarchy(t *testing.T) {
	b := New(Options{Blocked: []string{"ads.example.com"}})
	b.Refresh(context.Background())

	assert.True(t, b.IsBlocked("ads.example.com"))
	assert.True(t, b.IsBlocked("ads.example.com."))
	assert.True(t, b.IsBlocked("x.ads.example.com"))
	assert.True(t, b.IsBlocked("y.x.ads.example.com."))
	assert.True(t, b.IsBlocked("ADS.Example.com"))

	assert.False(t, b.IsBlocked("example.com"))
	assert.False(t, b.IsBlocked("adsexample.com"))
	assert.False(t, b.IsBlocked("xads.example.com"))
	assert.False(t, b.IsBlocked("com"))
	assert.False(t, b.IsBlocked(""))
	assert.False(t, b.IsBlocked("."))

	assert.True(t, b.Exists("ads.example.com."))
	assert.False(t, b.Exists("x.ads.example.com"))
	assert.Equal(t, 1, b.Length())
}

func Test_BlockListWhitelist(t *testing.T) {
	b := New(Options{
		Blocked:   []string{"example.com", "tracker.net"},
		Whitelist: []string{"good.example.com."},
	})
	b.Refresh(context.Background())

	assert.True(t, b.IsBlocked("example.com"))
	assert.True(t, b.IsBlocked("bad.example.com"))
	assert.False(t, b.IsBlocked("good.example.com"))
	assert.False(t, b.IsBlocked("cdn.good.example.com"))
	assert.True(t, b.IsBlocked("tracker.net"))
}

func Test_ParseHosts(t *testing.T) {
	set, err := ParseHosts(strings.NewReader(hostsFile + "plain.example.org\n"))
	require.NoError(t, err)

	expected := []string{"ads.example.com", "tracker.example.net", "one.test", "two.test"}
	assert.Len(t, set, len(expected))
	for _, name := range expected {
		assert.Contains(t, set, name)
	}

	assert.NotContains(t, set, "plain.example.org")

	assert.NotContains(t, set, "localhost")
	assert.NotContains(t, set, "localhost.localdomain")
	assert.NotContains(t, set, "0.0.0.0")
}

func Test_BlockListRemoteSnapshot(t *testing.T) {
	var body atomic.Value
	var hits atomic.Int32
	body.Store(hostsFile)

	srv := newHostsServer(t, &body, &hits)

	clock := clockwork.NewFakeClockAt(time.Now())

	b := New(Options{
		Sources: []string{srv.URL + "/hosts"},
		Dir:     filepath.Join(t.TempDir(), "bl"),
		TTL:     time.Hour,
	})
	b.clock = clock

	assert.Equal(t, 4, b.Refresh(context.Background()))
	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, b.IsBlocked("sub.ads.example.com"))

	path := b.snapshotPath(b.sources[0])
	_, err := os.Stat(path)
	require.NoError(t, err)

	// fresh copy on disk, no download
	body.Store("0.0.0.0 new.example.com\n")
	assert.Equal(t, 4, b.Refresh(context.Background()))
	assert.Equal(t, int32(1), hits.Load())

	clock.Advance(2 * time.Hour)

	assert.Equal(t, 1, b.Refresh(context.Background()))
	assert.Equal(t, int32(2), hits.Load())
	assert.True(t, b.IsBlocked("new.example.com"))
	assert.False(t, b.IsBlocked("ads.example.com"))

	assert.Contains(t, b.Refreshed(), srv.URL+"/hosts")
	assert.Equal(t, clock.Now(), b.LastRefresh())
}

func Test_BlockListFailedSource(t *testing.T) {
	var body atomic.Value
	var hits atomic.Int32
	body.Store(hostsFile)

	good := newHostsServer(t, &body, &hits)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	b := New(Options{
		Sources: []string{good.URL + "/a", bad.URL + "/b", filepath.Join(t.TempDir(), "missing.txt")},
		Dir:     t.TempDir(),
		TTL:     time.Hour,
		Blocked: []string{"manual.example.com"},
	})

	assert.Equal(t, 5, b.Refresh(context.Background()))
	assert.True(t, b.IsBlocked("ads.example.com"))
	assert.True(t, b.IsBlocked("manual.example.com"))

	refreshed := b.Refreshed()
	assert.Contains(t, refreshed, good.URL+"/a")
	assert.NotContains(t, refreshed, bad.URL+"/b")
}

func Test_BlockListOversizedSource(t *testing.T) {
	defer func(n int64) { maxSourceSize = n }(maxSourceSize)
	maxSourceSize = int64(len(hostsFile))

	var body atomic.Value
	var hits atomic.Int32
	body.Store(hostsFile)

	srv := newHostsServer(t, &body, &hits)

	b := New(Options{Sources: []string{srv.URL}, Dir: t.TempDir(), TTL: time.Hour})
	assert.Equal(t, 4, b.Refresh(context.Background()))

	body.Store(hostsFile + "0.0.0.0 more.example.com\n")

	b = New(Options{Sources: []string{srv.URL}, Dir: t.TempDir(), TTL: time.Hour})
	assert.Zero(t, b.Refresh(context.Background()))
	assert.False(t, b.IsBlocked("ads.example.com"))
	assert.Equal(t, int32(2), hits.Load())
}

func Test_BlockListStaleCopy(t *testing.T) {
	var body atomic.Value
	var hits atomic.Int32
	body.Store(hostsFile)

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = fmt.Fprint(w, body.Load().(string))
	}))
	t.Cleanup(srv.Close)

	clock := clockwork.NewFakeClockAt(time.Now())

	b := New(Options{Sources: []string{srv.URL}, Dir: t.TempDir(), TTL: time.Minute})
	b.clock = clock

	assert.Equal(t, 4, b.Refresh(context.Background()))

	fail.Store(true)
	clock.Advance(time.Hour)

	assert.Equal(t, 4, b.Refresh(context.Background()))
	assert.Equal(t, int32(2), hits.Load())
}

func Test_BlockListLocalSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	require.NoError(t, os.WriteFile(path, []byte(hostsFile), 0o600))

	b := New(Options{Sources: []string{path, path}})

	assert.Equal(t, 4, b.Refresh(context.Background()))
	assert.Len(t, b.sources, 1)

	require.NoError(t, os.WriteFile(path, []byte("0.0.0.0 other.test\n"), 0o600))
	assert.Equal(t, 1, b.Refresh(context.Background()))
	assert.True(t, b.IsBlocked("other.test"))
}

func Test_BlockListRefreshAtomic(t *testing.T) {
	oldSet := make([]string, 0, 200)
	newSet := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		oldSet = append(oldSet, fmt.Sprintf("old%d.test", i))
		newSet = append(newSet, fmt.Sprintf("new%d.test", i))
	}

	b := New(Options{Blocked: oldSet})
	b.Refresh(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var mixed atomic.Bool

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for ctx.Err() == nil {
				o, n := 0, 0
				b.mu.RLock()
				for _, name := range oldSet {
					if _, ok := b.m[name]; ok {
						o++
					}
				}
				for _, name := range newSet {
					if _, ok := b.m[name]; ok {
						n++
					}
				}
				b.mu.RUnlock()

				if (o != 0 && o != len(oldSet)) || (n != 0 && n != len(newSet)) || (o == 0) == (n == 0) {
					mixed.Store(true)
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			b.opts.Blocked = newSet
		} else {
			b.opts.Blocked = oldSet
		}
		b.Refresh(context.Background())
	}

	cancel()
	wg.Wait()

	assert.False(t, mixed.Load())
}

func Test_BlockListRunTrigger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	require.NoError(t, os.WriteFile(path, []byte("0.0.0.0 first.test\n"), 0o600))

	b := New(Options{Sources: []string{path}})
	b.Refresh(context.Background())
	require.True(t, b.IsBlocked("first.test"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, 0)
		close(done)
	}()

	require.NoError(t, os.WriteFile(path, []byte("0.0.0.0 second.test\n"), 0o600))
	b.Trigger()

	assert.Eventually(t, func() bool { return b.IsBlocked("second.test") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func Test_BlockedResponse(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("ads.example.com.", dns.TypeA)
	req.Id = 31337

	resp := BlockedResponse(req)
	assert.Equal(t, uint16(31337), resp.Id)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	assert.True(t, resp.Response)
	assert.Empty(t, resp.Answer)
	require.Len(t, resp.Question, 1)
	assert.Equal(t, "ads.example.com.", resp.Question[0].Name)

	_, err := resp.Pack()
	assert.NoError(t, err)
}
