//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/semihalev/sdnsfwd/middleware"
	"github.com/semihalev/sdnsfwd/middleware/blocklist"
	"github.com/semihalev/zlog/v2"
)

// notifyRefresh triggers a blocklist refresh on SIGUSR1 until ctx is done.
func notifyRefresh(ctx context.Context) {
	b, ok := middleware.Get("blocklist").(*blocklist.BlockList)
	if !ok {
		return
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			zlog.Info("Blocklist refresh requested", "signal", "SIGUSR1")
			b.Trigger()
		}
	}
}
