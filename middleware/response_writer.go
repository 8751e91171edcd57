package middleware

import (
	"errors"
	"net"

	"github.com/miekg/dns"
)

// PacketWriter sends a reply datagram to the client of one query.
type PacketWriter interface {
	Write([]byte) (int, error)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// ResponseWriter records the reply written for a query.
type ResponseWriter interface {
	PacketWriter
	WriteMsg(*dns.Msg) error
	Msg() *dns.Msg
	Raw() []byte
	Rcode() int
	Written() bool
	Reset(PacketWriter)
	Proto() string
	RemoteIP() net.IP
	Internal() bool
}

type responseWriter struct {
	PacketWriter
	msg      *dns.Msg
	raw      []byte
	size     int
	rcode    int
	proto    string
	remoteip net.IP
	internal bool
}

var _ ResponseWriter = &responseWriter{}

var errAlreadyWritten = errors.New("msg already written")

const headerSize = 12

// InternalAddr is the client address of queries made by sdnsfwd itself.
var InternalAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 255), Port: 0}

func (w *responseWriter) Msg() *dns.Msg {
	return w.msg
}

// Raw returns the bytes sent to the client.
func (w *responseWriter) Raw() []byte {
	return w.raw
}

func (w *responseWriter) Reset(pw PacketWriter) {
	w.PacketWriter = pw
	w.size = -1
	w.msg = nil
	w.raw = nil
	w.rcode = dns.RcodeSuccess
	w.proto = ""
	w.remoteip = nil

	switch addr := pw.RemoteAddr().(type) {
	case *net.UDPAddr:
		w.proto = "udp"
		w.remoteip = addr.IP
	case *net.TCPAddr:
		w.proto = "tcp"
		w.remoteip = addr.IP
	}

	w.internal = pw.RemoteAddr().String() == InternalAddr.String()
}

func (w *responseWriter) RemoteIP() net.IP {
	return w.remoteip
}

func (w *responseWriter) Proto() string {
	return w.proto
}

func (w *responseWriter) Rcode() int {
	return w.rcode
}

func (w *responseWriter) Written() bool {
	return w.size != -1
}

// Write relays m to the client unmodified. Msg is recorded only when m
// decodes; the rcode is taken from the header either way.
func (w *responseWriter) Write(m []byte) (int, error) {
	if w.Written() {
		return 0, errAlreadyWritten
	}

	if len(m) < headerSize {
		return 0, dns.ErrShortRead
	}

	n, err := w.PacketWriter.Write(m)
	w.size = n
	w.raw = m
	w.rcode = int(m[3] & 0x0f)

	msg := new(dns.Msg)
	if uerr := msg.Unpack(m); uerr == nil {
		w.msg = msg
		w.rcode = msg.Rcode
	}

	return n, err
}

func (w *responseWriter) WriteMsg(m *dns.Msg) error {
	if w.Written() {
		return errAlreadyWritten
	}

	data, err := m.Pack()
	if err != nil {
		return err
	}

	w.msg = m
	w.raw = data
	w.rcode = m.Rcode

	n, err := w.PacketWriter.Write(data)
	w.size = n

	return err
}

// (*responseWriter).Internal reports whether the query came from sdnsfwd itself.
func (w *responseWriter) Internal() bool { return w.internal }
