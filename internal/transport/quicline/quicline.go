// Package quicline carries the line protocol over QUIC streams.
//
// Each stream is presented as a net.Conn, so the TCP accept loop and
// handler serve QUIC clients unchanged: one stream, one request line, one
// response line.
package quicline

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
)

// NextProto is the ALPN protocol both ends negotiate.
const NextProto = "line-greeting"

// Listener accepts QUIC streams as net.Conn values.
//
// Close stops new streams but leaves established connections open so
// in-flight handlers can finish; Shutdown tears the transport down.
type Listener struct {
	udp     net.PacketConn
	tr      *quic.Transport
	ln      *quic.Listener
	ctx     context.Context
	cancel  context.CancelFunc
	streams chan net.Conn

	once    sync.Once
	closed  chan struct{}
	mu      sync.Mutex
	failure error
}

var _ net.Listener = (*Listener)(nil)

// Listen starts a QUIC listener on the UDP address addr.
func Listen(addr string, tlsConf *tls.Config) (*Listener, error) {
	udp, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	tr := &quic.Transport{Conn: udp}
	ln, err := tr.Listen(withProto(tlsConf), nil)
	if err != nil {
		udp.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		udp:     udp,
		tr:      tr,
		ln:      ln,
		ctx:     ctx,
		cancel:  cancel,
		streams: make(chan net.Conn),
		closed:  make(chan struct{}),
	}
	go l.acceptConns()
	return l, nil
}

func (l *Listener) acceptConns() {
	for {
		conn, err := l.ln.Accept(l.ctx)
		if err != nil {
			l.fail(err)
			return
		}
		go l.acceptStreams(conn)
	}
}

// acceptStreams forwards every stream the peer opens until the connection
// or the listener goes away.
func (l *Listener) acceptStreams(conn quic.Connection) {
	for {
		stream, err := conn.AcceptStream(l.ctx)
		if err != nil {
			return
		}
		select {
		case l.streams <- &streamConn{Stream: stream, conn: conn}:
		case <-l.closed:
			stream.CancelRead(0)
			stream.CancelWrite(0)
			return
		}
	}
}

// Accept returns the next stream. After Close it returns an error wrapping
// net.ErrClosed.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.streams:
		return c, nil
	case <-l.closed:
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.failure != nil {
			return nil, fmt.Errorf("%w: %w", net.ErrClosed, l.failure)
		}
		return nil, net.ErrClosed
	}
}

func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.ln.Close()
		close(l.closed)
	})
	return err
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Shutdown closes the listener, every connection on it and the UDP socket.
func (l *Listener) Shutdown() error {
	l.Close()
	err := l.tr.Close()
	if uerr := l.udp.Close(); err == nil && !errors.Is(uerr, net.ErrClosed) {
		err = uerr
	}
	return err
}

// fail records an accept failure that did not come from Close.
func (l *Listener) fail(err error) {
	select {
	case <-l.closed:
		return
	default:
	}
	l.mu.Lock()
	l.failure = err
	l.mu.Unlock()
	l.Close()
}

// Dial opens a QUIC connection to addr and one stream on it. Closing the
// returned conn closes the stream and the connection.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (net.Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, withProto(tlsConf), nil)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream failed")
		return nil, err
	}
	return &streamConn{Stream: stream, conn: conn, ownsConn: true}, nil
}

// streamConn adapts a stream to net.Conn using its connection's addresses.
type streamConn struct {
	quic.Stream
	conn     quic.Connection
	ownsConn bool
}

func (c *streamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *streamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close finishes the send side and abandons anything left unread.
func (c *streamConn) Close() error {
	err := c.Stream.Close()
	c.Stream.CancelRead(0)
	if c.ownsConn {
		if cerr := c.conn.CloseWithError(0, "bye"); err == nil {
			err = cerr
		}
	}
	return err
}

func withProto(conf *tls.Config) *tls.Config {
	conf = conf.Clone()
	if len(conf.NextProtos) == 0 {
		conf.NextProtos = []string{NextProto}
	}
	return conf
}
