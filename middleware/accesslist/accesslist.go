package accesslist

import (
	"context"
	"net"

	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/sdnsfwd/middleware"
	"github.com/semihalev/zlog/v2"
	"github.com/yl2chen/cidranger"
)

// AccessList type
type AccessList struct {
	ranger cidranger.Ranger
}

// New return accesslist
func New(cfg *config.Config) *AccessList {
	a := new(AccessList)
	a.ranger = cidranger.NewPCTrieRanger()
	for _, cidr := range cfg.AccessList {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			zlog.Error("Access list parse cidr failed", "cidr", cidr, "error", err.Error())
			continue
		}

		_ = a.ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet))
	}

	return a
}

// Name return middleware name
func (a *AccessList) Name() string { return name }

// Allowed reports whether ip may query the server.
func (a *AccessList) Allowed(ip net.IP) bool {
	if ip == nil {
		return false
	}

	allowed, _ := a.ranger.Contains(ip)

	return allowed
}

// ServeDNS implements the Handle interface.
func (a *AccessList) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	if ch.Writer.Internal() {
		ch.Next(ctx)
		return
	}

	if !a.Allowed(ch.Writer.RemoteIP()) {
		zlog.Debug("Client refused by access list", "client", ch.Writer.RemoteIP())
		//no reply to client
		ch.Cancel()
		return
	}

	ch.Next(ctx)
}

const name = "accesslist"
