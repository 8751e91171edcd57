package middleware

import (
	"context"

	"github.com/miekg/dns"
	"github.com/semihalev/sdnsfwd/dnsutil"
)

// Chain type.
type Chain struct {
	Writer  ResponseWriter
	Request *dns.Msg

	handlers []Handler

	head      int
	count     int
	writtenBy string
}

// NewChain return new fresh chain.
func NewChain(handlers []Handler) *Chain {
	return &Chain{
		Writer:   &responseWriter{size: -1},
		handlers: handlers,
		count:    len(handlers),
	}
}

// (*Chain).Next next call next dns handler in the chain.
func (ch *Chain) Next(ctx context.Context) {
	if ch.count == 0 {
		return
	}

	handler := ch.handlers[ch.head]
	ch.head = (ch.head + 1) % len(ch.handlers)
	ch.count--

	handler.ServeDNS(ctx, ch)

	if ch.writtenBy == "" && ch.Writer.Written() {
		ch.writtenBy = handler.Name()
	}
}

// (*Chain).Cancel cancel next calls.
func (ch *Chain) Cancel() {
	ch.count = 0
}

// (*Chain).CancelWithRcode write an empty reply with rcode and cancel next calls.
func (ch *Chain) CancelWithRcode(rcode int) {
	_ = ch.Writer.WriteMsg(dnsutil.SetRcode(ch.Request, rcode))

	ch.count = 0
}

// (*Chain).WrittenBy returns the name of the handler that wrote the reply.
func (ch *Chain) WrittenBy() string {
	return ch.writtenBy
}

// (*Chain).Reset reset the chain variables.
func (ch *Chain) Reset(w PacketWriter, r *dns.Msg) {
	ch.Writer.Reset(w)
	ch.Request = r
	ch.count = len(ch.handlers)
	ch.head = 0
	ch.writtenBy = ""
}
