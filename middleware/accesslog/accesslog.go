package accesslog

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/sdnsfwd/dnsutil"
	"github.com/semihalev/sdnsfwd/middleware"
	"github.com/semihalev/zlog/v2"
)

// AccessLog type
type AccessLog struct {
	mu      sync.Mutex
	logFile *os.File
}

// New returns a new AccessLog
func New(cfg *config.Config) *AccessLog {
	a := &AccessLog{}

	if cfg.AccessLog != "" {
		logFile, err := os.OpenFile(cfg.AccessLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			zlog.Error("Access log file open failed", "path", cfg.AccessLog, "error", strings.TrimSpace(err.Error()))
		}
		a.logFile = logFile
	}

	return a
}

// Name return middleware name
func (a *AccessLog) Name() string { return name }

// ServeDNS implements the Handle interface.
func (a *AccessLog) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ch.Next(ctx)

	w := ch.Writer
	if a.logFile == nil || !w.Written() || w.Internal() {
		return
	}


	by := ch.WrittenBy()
	if by == "" {
		by = "-"
	}

	record := []string{
		w.RemoteIP().String() + " -",
		"[" + time.Now().Format("02/Jan/2006:15:04:05 -0700") + "]",
		"\"" + dnsutil.FormatQuestion(ch.Request.Question[0]) + "\"",
		w.Proto(),
		by,
		dns.RcodeToString[w.Rcode()],
		strconv.Itoa(len(w.Raw())),
	}

	a.mu.Lock()
	_, err := a.logFile.WriteString(strings.Join(record, " ") + "\n")
	a.mu.Unlock()

	if err != nil {
		zlog.Error("Access log write failed", "error", strings.TrimSpace(err.Error()))
	}
}

// Run closes the log file when ctx is done.
func (a *AccessLog) Run(ctx context.Context) {
	if a.logFile == nil {
		return
	}

	<-ctx.Done()

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.logFile.Close(); err != nil {
		zlog.Warn("Access log close failed", "error", err.Error())
	}
}

const name = "accesslog"
