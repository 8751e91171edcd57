package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/sdnsfwd/dnsutil"
	"github.com/semihalev/sdnsfwd/middleware"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/semaphore"
)

var dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "dns_dropped_packets_total",
	Help: "Total number of received datagrams dropped without a reply",
}, []string{"reason"})

func init() {
	prometheus.MustRegister(dropped)
}

// Server type
type Server struct {
	addr        string
	maxInflight int64

	mu   sync.Mutex
	conn net.PacketConn

	sem       *semaphore.Weighted
	chainPool sync.Pool
}

// New return new server running every datagram through handlers.
func New(cfg *config.Config, handlers []middleware.Handler) *Server {
	maxInflight := int64(cfg.MaxInflight)
	if maxInflight <= 0 {
		maxInflight = defaultMaxInflight
	}

	s := &Server{
		addr:        cfg.Bind,
		maxInflight: maxInflight,
		sem:         semaphore.NewWeighted(maxInflight),
	}

	s.chainPool.New = func() any {
		return middleware.NewChain(handlers)
	}

	return s
}

// Listen binds the udp socket. Errors here are fatal to the process.
func (s *Server) Listen() error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	zlog.Info("DNS server listening...", "net", "udp", "addr", conn.LocalAddr().String())

	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	return s.conn.LocalAddr()
}

// ListenAndServe binds the socket and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve(ctx)
}

// Serve receives datagrams until ctx is done. Every datagram is handled on
// its own goroutine; when maxinflight handlers are busy new datagrams are
// dropped. Serve returns after the in-flight handlers finished.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return errors.New("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	buf := make([]byte, maxPacketSize)

	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}

			zlog.Warn("DNS server read failed", "error", err.Error())
			continue
		}

		if !s.sem.TryAcquire(1) {
			dropped.WithLabelValues("busy").Inc()
			zlog.Debug("Too many queries in flight, datagram dropped", "client", addr.String())
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		go func() {
			defer s.sem.Release(1)
			s.HandlePacket(data, &packetWriter{conn: conn, addr: addr})
		}()
	}

	// wait for in-flight handlers
	_ = s.sem.Acquire(context.Background(), s.maxInflight)
	s.sem.Release(s.maxInflight)

	zlog.Info("DNS server stopped", "addr", conn.LocalAddr().String())

	return nil
}

// HandlePacket decodes one query datagram and runs it through the
// handlers, replies are sent on w. Undecodable datagrams get no reply.
func (s *Server) HandlePacket(data []byte, w middleware.PacketWriter) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error("Recovered in HandlePacket", "recover", r, "client", w.RemoteAddr().String())
		}
	}()

	req := new(dns.Msg)
	if err := req.Unpack(data); err != nil {
		dropped.WithLabelValues("decode").Inc()
		zlog.Debug("Query decode failed", "client", w.RemoteAddr().String(), "error", err.Error())
		return
	}

	if req.Response || len(req.Question) != 1 {
		dropped.WithLabelValues("decode").Inc()
		zlog.Debug("Query dropped", "client", w.RemoteAddr().String(), "questions", len(req.Question))
		return
	}

	s.serve(req, w)
}

func (s *Server) serve(req *dns.Msg, w middleware.PacketWriter) string {
	ch := s.chainPool.Get().(*middleware.Chain)
	defer s.chainPool.Put(ch)

	ch.Reset(w, req)
	ch.Next(context.Background())

	return ch.WrittenBy()
}

// Resolve runs req through the handlers as an internal query and returns
// the reply, or nil when no reply was written, together with the name of
// the handler that answered.
func (s *Server) Resolve(req *dns.Msg) (*dns.Msg, string) {
	w := &internalWriter{}

	by := s.serve(req, w)
	if w.msg == nil {
		return nil, ""
	}

	return w.msg, by
}

type packetWriter struct {
	conn net.PacketConn
	addr net.Addr
}

func (w *packetWriter) Write(b []byte) (int, error) { return w.conn.WriteTo(b, w.addr) }
func (w *packetWriter) LocalAddr() net.Addr         { return w.conn.LocalAddr() }
func (w *packetWriter) RemoteAddr() net.Addr        { return w.addr }

type internalWriter struct {
	msg *dns.Msg
}

func (w *internalWriter) Write(b []byte) (int, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(b); err != nil {
		return 0, err
	}
	w.msg = msg

	return len(b), nil
}

func (w *internalWriter) LocalAddr() net.Addr  { return middleware.InternalAddr }
func (w *internalWriter) RemoteAddr() net.Addr { return middleware.InternalAddr }

const (
	defaultMaxInflight = 1024
	maxPacketSize      = dnsutil.DefaultMsgSize * 16
)
