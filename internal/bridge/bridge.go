package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/orbitalsys/telebridge/internal/logging"
	"github.com/orbitalsys/telebridge/internal/metrics"
)

// Config contains bridge configuration.
type Config struct {
	// Role this side of the bridge runs as.
	Role Role

	// ListenAddr is the local UDP address to receive datagrams on.
	ListenAddr string

	// ForwardAddr is the fixed UDP address datagrams from the channel are
	// delivered to.
	ForwardAddr string

	// Logger for logging. Defaults to a no-op logger.
	Logger *slog.Logger

	// Metrics sink. Defaults to the process-wide instance.
	Metrics *metrics.Metrics
}

// Stats is a point-in-time snapshot of bridge counters.
type Stats struct {
	Role         string `json:"role"`
	ListenAddr   string `json:"listen_addr"`
	ForwardAddr  string `json:"forward_addr"`
	Running      bool   `json:"running"`
	DatagramsOut uint64 `json:"datagrams_out"`
	DatagramsIn  uint64 `json:"datagrams_in"`
	BytesOut     uint64 `json:"bytes_out"`
	BytesIn      uint64 `json:"bytes_in"`
}

// Bridge is one running forwarding session: one listen endpoint, one fixed
// forward address, one secure channel, in one role.
type Bridge struct {
	cfg         Config
	channel     Channel
	listen      *Endpoint
	forwardAddr *net.UDPAddr
	logger      *slog.Logger
	metrics     *metrics.Metrics

	running      atomic.Bool
	datagramsOut atomic.Uint64
	datagramsIn  atomic.Uint64
	bytesOut     atomic.Uint64
	bytesIn      atomic.Uint64
}

// New creates a bridge over an already-established channel. It binds the
// listen socket immediately so bind failures surface before Run.
func New(cfg Config, ch Channel) (*Bridge, error) {
	if ch == nil {
		return nil, fmt.Errorf("channel is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.With(
		slog.String(logging.KeyComponent, "bridge"),
		slog.String(logging.KeyRole, cfg.Role.String()))

	m := cfg.Metrics
	if m == nil {
		m = metrics.Default()
	}

	forwardAddr, err := net.ResolveUDPAddr("udp", cfg.ForwardAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve forward address %s: %w", cfg.ForwardAddr, err)
	}

	listen, err := Bind(cfg.ListenAddr)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		cfg:         cfg,
		channel:     ch,
		listen:      listen,
		forwardAddr: forwardAddr,
		logger:      logger,
		metrics:     m,
	}, nil
}

// Role returns the bridge's role.
func (b *Bridge) Role() Role {
	return b.cfg.Role
}

// ListenAddr returns the bound listen address.
func (b *Bridge) ListenAddr() *net.UDPAddr {
	return b.listen.LocalAddr()
}

// IsRunning reports whether the pumps are active.
func (b *Bridge) IsRunning() bool {
	return b.running.Load()
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Role:         b.cfg.Role.String(),
		ListenAddr:   b.listen.LocalAddr().String(),
		ForwardAddr:  b.forwardAddr.String(),
		Running:      b.running.Load(),
		DatagramsOut: b.datagramsOut.Load(),
		DatagramsIn:  b.datagramsIn.Load(),
		BytesOut:     b.bytesOut.Load(),
		BytesIn:      b.bytesIn.Load(),
	}
}

// Run creates the persistent send sub-stream, launches both pumps, and
// blocks until both have terminated. It returns an error only for setup
// failures; pump-level I/O errors end the affected pump silently.
//
// Cancelling ctx is the cooperative shutdown signal: the sockets and the
// channel are closed so both pumps unblock and exit. The channel is closed
// when Run returns; forwarding cannot be resumed on the same Bridge.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.channel.Close()
	defer b.listen.Close()

	// Created once, before either pump starts. Fatal if this fails.
	send, err := b.channel.CreateSendStream(ctx)
	if err != nil {
		return fmt.Errorf("create send sub-stream: %w", err)
	}
	b.metrics.RecordSendStreamCreated()

	target, err := BindEphemeral(OriginIP(b.forwardAddr))
	if err != nil {
		send.Close()
		return err
	}
	defer target.Close()

	b.logger.Info("bridge running",
		logging.KeyListenAddr, b.listen.LocalAddr().String(),
		logging.KeyForwardAddr, b.forwardAddr.String())

	b.running.Store(true)
	b.metrics.SetBridgeUp(true)
	defer func() {
		b.running.Store(false)
		b.metrics.SetBridgeUp(false)
	}()

	g, ctx := errgroup.WithContext(ctx)

	// Shutdown watcher: closing the sockets and the channel is what
	// actually unblocks the pumps' blocking reads.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			b.listen.Close()
			send.Close()
			b.channel.Close()
		case <-done:
		}
	}()

	g.Go(func() error {
		b.runOutboundPump(ctx, send)
		return nil
	})
	g.Go(func() error {
		b.runInboundPump(ctx, target)
		return nil
	})

	// Pumps terminate on their own error paths and never fail the group;
	// one direction finishing early does not cancel the other.
	if err := g.Wait(); err != nil {
		return err
	}

	b.logger.Info("bridge closed",
		"datagrams_out", b.datagramsOut.Load(),
		"datagrams_in", b.datagramsIn.Load())
	return nil
}
