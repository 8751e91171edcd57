// Package mock provides in memory stand-ins for the network side of sdnsfwd.
package mock

import (
	"net"
	"sync"

	"github.com/miekg/dns"
)

// Writer type
type Writer struct {
	mu sync.Mutex

	msg *dns.Msg
	raw []byte

	proto string

	localAddr  net.Addr
	remoteAddr net.Addr

	remoteip net.IP
}

// NewWriter return writer
func NewWriter(proto, addr string) *Writer {
	w := &Writer{}

	switch proto {
	case "tcp":
		w.localAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
		w.remoteAddr, _ = net.ResolveTCPAddr("tcp", addr)
		w.remoteip = w.remoteAddr.(*net.TCPAddr).IP
		w.proto = "tcp"

	default:
		w.localAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
		w.remoteAddr, _ = net.ResolveUDPAddr("udp", addr)
		w.remoteip = w.remoteAddr.(*net.UDPAddr).IP
		w.proto = "udp"
	}

	return w
}

// Rcode return message response code
func (w *Writer) Rcode() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.msg != nil:
		return w.msg.Rcode
	case w.raw != nil:
		return int(w.raw[3] & 0x0f)
	}

	return dns.RcodeServerFailure
}

// Msg return current dns message
func (w *Writer) Msg() *dns.Msg {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.msg
}

// Raw return the written bytes
func (w *Writer) Raw() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.raw
}

// Write records b. Msg stays nil when b does not decode.
func (w *Writer) Write(b []byte) (int, error) {
	if len(b) < 12 {
		return 0, dns.ErrShortRead
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.raw = append([]byte(nil), b...)
	w.msg = nil

	msg := new(dns.Msg)
	if err := msg.Unpack(b); err == nil {
		w.msg = msg
	}

	return len(b), nil
}

// Written func
func (w *Writer) Written() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.raw != nil
}

// RemoteIP func
func (w *Writer) RemoteIP() net.IP { return w.remoteip }

// Proto func
func (w *Writer) Proto() string { return w.proto }

// LocalAddr func
func (w *Writer) LocalAddr() net.Addr { return w.localAddr }

// RemoteAddr func
func (w *Writer) RemoteAddr() net.Addr { return w.remoteAddr }
