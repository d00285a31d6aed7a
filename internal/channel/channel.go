// Package channel implements the bridge's secure channel over QUIC.
//
// A channel is one QUIC connection between two peers. Sub-streams are QUIC
// unidirectional streams carrying length-prefixed messages, so datagram
// boundaries survive the byte-stream transport. Channel establishment policy
// (who dials whom, certificate provisioning) belongs to the caller; this
// package only provides the transport.
package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/orbitalsys/telebridge/internal/bridge"
)

// ALPNProtocol identifies the bridge protocol during the TLS handshake.
const ALPNProtocol = "telebridge/1"

// Default QUIC configuration values.
const (
	DefaultMaxIdleTimeout  = 60 * time.Second
	DefaultKeepAlivePeriod = 30 * time.Second

	// maxIncomingUniStreams bounds how many sub-streams the remote peer can
	// initiate. The bridge only ever consumes one, but the limit leaves
	// headroom for the remote side racing a reconnect.
	maxIncomingUniStreams = 8
)

// DialOptions configures an outbound channel connection.
type DialOptions struct {
	// TLSConfig for the connection. Required unless InsecureSkipVerify is
	// set, in which case a development-only config is generated.
	TLSConfig *tls.Config

	// Timeout bounds the connection attempt. Zero means no timeout.
	Timeout time.Duration

	// InsecureSkipVerify disables certificate verification (dev only).
	InsecureSkipVerify bool
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        DefaultMaxIdleTimeout,
		KeepAlivePeriod:       DefaultKeepAlivePeriod,
		MaxIncomingStreams:    -1, // bidirectional streams are not used
		MaxIncomingUniStreams: maxIncomingUniStreams,
	}
}

// Dial establishes a channel to a listening peer.
func Dial(ctx context.Context, addr string, opts DialOptions) (*QUICChannel, error) {
	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		if !opts.InsecureSkipVerify {
			return nil, fmt.Errorf("TLS config required; set InsecureSkipVerify=true for development only")
		}
		tlsConfig = &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{ALPNProtocol},
			MinVersion:         tls.VersionTLS13,
		}
	} else if len(tlsConfig.NextProtos) == 0 {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.NextProtos = []string{ALPNProtocol}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("QUIC dial failed: %w", err)
	}

	return &QUICChannel{conn: conn}, nil
}

// Listener accepts inbound channel connections. It is built on an explicit
// quic.Transport so that Close only stops accepting: a channel accepted
// before Close stays usable, and takes over the transport's lifetime.
type Listener struct {
	udpConn   *net.UDPConn
	transport *quic.Transport
	listener  *quic.Listener

	mu            sync.Mutex
	closed        bool
	handedOff     bool
	transportOnce sync.Once
}

// Listen creates a channel listener.
func Listen(addr string, tlsConfig *tls.Config) (*Listener, error) {
	if tlsConfig == nil {
		return nil, fmt.Errorf("TLS config required for channel listener")
	}
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.NextProtos = []string{ALPNProtocol}
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	transport := &quic.Transport{Conn: udpConn}
	listener, err := transport.Listen(tlsConfig, quicConfig())
	if err != nil {
		transport.Close()
		udpConn.Close()
		return nil, fmt.Errorf("QUIC listen failed: %w", err)
	}

	return &Listener{
		udpConn:   udpConn,
		transport: transport,
		listener:  listener,
	}, nil
}

// Accept waits for and returns the next channel connection. The returned
// channel owns the listener's transport from here on; closing the listener
// no longer affects it, and closing the channel releases the UDP socket.
func (l *Listener) Accept(ctx context.Context) (*QUICChannel, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.handedOff = true
	l.mu.Unlock()

	return &QUICChannel{conn: conn, cleanup: l.closeTransport}, nil
}

// Addr returns the listener's address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// closeTransport releases the transport and its UDP socket.
func (l *Listener) closeTransport() {
	l.transportOnce.Do(func() {
		l.transport.Close()
		l.udpConn.Close()
	})
}

// Close stops accepting new connections. If a channel has already been
// accepted, the transport stays open until that channel closes.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	err := l.listener.Close()
	if !l.handedOff {
		l.closeTransport()
	}
	return err
}

// QUICChannel implements bridge.Channel over one QUIC connection.
type QUICChannel struct {
	conn quic.Connection

	// cleanup releases the transport inherited from a Listener. Nil for
	// dialed channels, whose transport quic-go manages internally.
	cleanup func()
}

// CreateSendStream opens a new unidirectional send sub-stream.
func (c *QUICChannel) CreateSendStream(ctx context.Context) (bridge.SendStream, error) {
	stream, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open send sub-stream: %w", err)
	}

	return &sendStream{stream: stream}, nil
}

// AcceptStream waits for an incoming sub-stream from the remote peer.
func (c *QUICChannel) AcceptStream(ctx context.Context) (bridge.Stream, error) {
	stream, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}

	return &receiveStream{stream: stream}, nil
}

// Close terminates the channel and all its sub-streams.
func (c *QUICChannel) Close() error {
	err := c.conn.CloseWithError(0, "channel closed")
	if c.cleanup != nil {
		c.cleanup()
	}
	return err
}

// LocalAddr returns the local address.
func (c *QUICChannel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote peer's address.
func (c *QUICChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// sendStream wraps a QUIC send stream with message framing.
type sendStream struct {
	stream quic.SendStream
}

func (s *sendStream) WriteMessage(payload []byte) error {
	return WriteMessage(s.stream, payload)
}

// Close sends a FIN, signalling clean end-of-stream to the receiver.
func (s *sendStream) Close() error {
	return s.stream.Close()
}

// receiveStream wraps a QUIC receive stream with message framing.
type receiveStream struct {
	stream quic.ReceiveStream
}

func (s *receiveStream) ReadMessage() ([]byte, error) {
	return ReadMessage(s.stream)
}

// Close abandons the stream; any undelivered messages are discarded.
func (s *receiveStream) Close() error {
	s.stream.CancelRead(0)
	return nil
}

// Compile-time interface verification
var (
	_ bridge.Channel       = (*QUICChannel)(nil)
	_ bridge.SendStream    = (*sendStream)(nil)
	_ bridge.ReceiveStream = (*receiveStream)(nil)
)
