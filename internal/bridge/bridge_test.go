package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/orbitalsys/telebridge/internal/logging"
	"github.com/orbitalsys/telebridge/internal/metrics"
)

// memoryStream is an in-memory message pipe implementing both SendStream and
// ReceiveStream, used to wire two mock channels back to back.
type memoryStream struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func newMemoryStream() *memoryStream {
	return &memoryStream{ch: make(chan []byte, 256)}
}

func (s *memoryStream) WriteMessage(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("stream closed")
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.ch <- buf
	return nil
}

func (s *memoryStream) ReadMessage() ([]byte, error) {
	msg, ok := <-s.ch
	if !ok {
		return nil, io.EOF
	}
	return msg, nil
}

func (s *memoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// sendOnlyStream is a sub-stream without receive capability, used to
// exercise the protocol-shape error path.
type sendOnlyStream struct {
	mu     sync.Mutex
	closed bool
}

func (s *sendOnlyStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *sendOnlyStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// mockChannel is a scriptable Channel implementation.
type mockChannel struct {
	mu          sync.Mutex
	createCalls int
	createErr   error
	send        *memoryStream
	accepts     chan Stream
	closed      chan struct{}
	closeOnce   sync.Once
}

func newMockChannel() *mockChannel {
	return &mockChannel{
		send:    newMemoryStream(),
		accepts: make(chan Stream, 4),
		closed:  make(chan struct{}),
	}
}

func (c *mockChannel) CreateSendStream(ctx context.Context) (SendStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.createCalls++
	if c.createErr != nil {
		return nil, c.createErr
	}
	return c.send, nil
}

func (c *mockChannel) AcceptStream(ctx context.Context) (Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrChannelClosed
	case s := <-c.accepts:
		return s, nil
	}
}

func (c *mockChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *mockChannel) createCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createCalls
}

// newMockChannelPair wires two mock channels back to back: everything one
// side sends arrives as the other side's accepted receive stream.
func newMockChannelPair() (*mockChannel, *mockChannel) {
	a := newMockChannel()
	b := newMockChannel()
	a.accepts <- b.send
	b.accepts <- a.send
	return a, b
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
}

func newTestBridge(t *testing.T, role Role, listenAddr, forwardAddr string, ch Channel) *Bridge {
	t.Helper()

	b, err := New(Config{
		Role:        role,
		ListenAddr:  listenAddr,
		ForwardAddr: forwardAddr,
		Logger:      logging.NopLogger(),
		Metrics:     testMetrics(),
	}, ch)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	return b
}

// waitRunning polls until the bridge pumps are active.
func waitRunning(t *testing.T, b *Bridge) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.IsRunning() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("bridge did not start")
}

// readMessageTimeout reads one message from a memory stream with a deadline.
func readMessageTimeout(t *testing.T, s *memoryStream) []byte {
	t.Helper()

	type result struct {
		msg []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := s.ReadMessage()
		ch <- result{msg, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("ReadMessage error = %v", r.err)
		}
		return r.msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestNew_NilChannel(t *testing.T) {
	_, err := New(Config{ListenAddr: "127.0.0.1:0", ForwardAddr: "127.0.0.1:9"}, nil)
	if err == nil {
		t.Error("New should fail without a channel")
	}
}

func TestNew_BindError(t *testing.T) {
	// Occupy a port, then ask the bridge to bind the same one.
	taken, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("setup listen: %v", err)
	}
	defer taken.Close()

	_, err = New(Config{
		Role:        RoleInitiator,
		ListenAddr:  taken.LocalAddr().String(),
		ForwardAddr: "127.0.0.1:9",
		Logger:      logging.NopLogger(),
		Metrics:     testMetrics(),
	}, newMockChannel())
	if err == nil {
		t.Error("New should fail when the listen address is in use")
	}
}

func TestNew_InvalidForwardAddr(t *testing.T) {
	_, err := New(Config{
		Role:        RoleInitiator,
		ListenAddr:  "127.0.0.1:0",
		ForwardAddr: "not-an-address",
		Logger:      logging.NopLogger(),
		Metrics:     testMetrics(),
	}, newMockChannel())
	if err == nil {
		t.Error("New should fail for an unresolvable forward address")
	}
}

func TestRun_SendStreamCreateFailure(t *testing.T) {
	ch := newMockChannel()
	ch.createErr = errors.New("channel refused")

	b := newTestBridge(t, RoleInitiator, "127.0.0.1:0", "127.0.0.1:9", ch)

	err := b.Run(context.Background())
	if err == nil {
		t.Fatal("Run should surface sub-stream creation failure as fatal")
	}
	if !errors.Is(err, ch.createErr) {
		t.Errorf("Run error = %v, want wrapped %v", err, ch.createErr)
	}
}

func TestRun_SingleSendStreamUnderTraffic(t *testing.T) {
	ch := newMockChannel()
	b := newTestBridge(t, RoleInitiator, "127.0.0.1:0", "127.0.0.1:9", ch)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- b.Run(ctx) }()
	waitRunning(t, b)

	client, err := net.DialUDP("udp", nil, b.ListenAddr())
	if err != nil {
		t.Fatalf("dial listen addr: %v", err)
	}
	defer client.Close()

	// Sustained traffic: every datagram must ride the same sub-stream.
	payloads := [][]byte{}
	for i := 0; i < 50; i++ {
		p := []byte{byte(i), byte(i >> 4), 0xAA}
		payloads = append(payloads, p)
		if _, err := client.Write(p); err != nil {
			t.Fatalf("send datagram %d: %v", i, err)
		}
	}

	for i, want := range payloads {
		got := readMessageTimeout(t, ch.send)
		if !bytes.Equal(got, want) {
			t.Fatalf("message %d = %x, want %x", i, got, want)
		}
	}

	if n := ch.createCount(); n != 1 {
		t.Errorf("CreateSendStream calls = %d, want 1", n)
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Errorf("Run error after shutdown = %v", err)
	}
}

func TestRun_InboundForwarding(t *testing.T) {
	// Test listener plays the fixed forward target.
	sink, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("setup sink: %v", err)
	}
	defer sink.Close()

	ch := newMockChannel()
	recv := newMemoryStream()
	ch.accepts <- recv

	b := newTestBridge(t, RoleResponder, "127.0.0.1:0", sink.LocalAddr().String(), ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- b.Run(ctx) }()
	waitRunning(t, b)

	payloads := [][]byte{
		{0x01},
		{0x02, 0x03},
		bytes.Repeat([]byte{0x42}, 1200),
	}
	for _, p := range payloads {
		if err := recv.WriteMessage(p); err != nil {
			t.Fatalf("write message: %v", err)
		}
	}

	buf := make([]byte, 65536)
	for i, want := range payloads {
		sink.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := sink.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("read datagram %d: %v", i, err)
		}
		if !bytes.Equal(buf[:n], want) {
			t.Fatalf("datagram %d = %x, want %x", i, buf[:n], want)
		}
	}

	// Clean shutdown: closing the stream is a normal termination.
	recv.Close()
	cancel()
	if err := <-runDone; err != nil {
		t.Errorf("Run error = %v", err)
	}

	stats := b.Stats()
	if stats.DatagramsIn != uint64(len(payloads)) {
		t.Errorf("DatagramsIn = %d, want %d", stats.DatagramsIn, len(payloads))
	}
}

func TestRun_WrongStreamVariant(t *testing.T) {
	ch := newMockChannel()
	wrong := &sendOnlyStream{}
	ch.accepts <- wrong

	b := newTestBridge(t, RoleResponder, "127.0.0.1:0", "127.0.0.1:9", ch)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- b.Run(ctx) }()
	waitRunning(t, b)

	// The wrong-variant stream must be dropped (closed), and the outbound
	// pump must keep forwarding regardless.
	deadline := time.Now().Add(2 * time.Second)
	for !wrong.isClosed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !wrong.isClosed() {
		t.Error("wrong-variant stream was not closed")
	}

	client, err := net.DialUDP("udp", nil, b.ListenAddr())
	if err != nil {
		t.Fatalf("dial listen addr: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte{0x99}); err != nil {
		t.Fatalf("send datagram: %v", err)
	}
	got := readMessageTimeout(t, ch.send)
	if !bytes.Equal(got, []byte{0x99}) {
		t.Errorf("outbound message = %x, want 99", got)
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Errorf("Run error = %v", err)
	}
}

func TestRun_IndependentDirections(t *testing.T) {
	ch := newMockChannel()
	recv := newMemoryStream()
	ch.accepts <- recv

	b := newTestBridge(t, RoleInitiator, "127.0.0.1:0", "127.0.0.1:9", ch)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- b.Run(ctx) }()
	waitRunning(t, b)

	// Stop the inbound direction.
	recv.Close()

	// Outbound must still forward after the sibling pump has terminated.
	client, err := net.DialUDP("udp", nil, b.ListenAddr())
	if err != nil {
		t.Fatalf("dial listen addr: %v", err)
	}
	defer client.Close()

	for i := 0; i < 5; i++ {
		p := []byte{0x10, byte(i)}
		if _, err := client.Write(p); err != nil {
			t.Fatalf("send datagram %d: %v", i, err)
		}
		got := readMessageTimeout(t, ch.send)
		if !bytes.Equal(got, p) {
			t.Fatalf("message %d = %x, want %x", i, got, p)
		}
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Errorf("Run error = %v", err)
	}
}

// TestRun_EndToEndScenario wires an initiator and a responder to the same
// mock channel pair: a datagram sent to the initiator's listen port must
// arrive unaltered at the responder's forward target before anything else.
func TestRun_EndToEndScenario(t *testing.T) {
	sink, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9200})
	if err != nil {
		t.Skipf("port 9200 unavailable: %v", err)
	}
	defer sink.Close()

	chA, chB := newMockChannelPair()

	initiator, err := New(Config{
		Role:        RoleInitiator,
		ListenAddr:  "127.0.0.1:9100",
		ForwardAddr: "127.0.0.1:9300",
		Logger:      logging.NopLogger(),
		Metrics:     testMetrics(),
	}, chA)
	if err != nil {
		t.Skipf("port 9100 unavailable: %v", err)
	}

	responder := newTestBridge(t, RoleResponder, "127.0.0.1:0", sink.LocalAddr().String(), chB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initDone := make(chan error, 1)
	respDone := make(chan error, 1)
	go func() { initDone <- initiator.Run(ctx) }()
	go func() { respDone <- responder.Run(ctx) }()
	waitRunning(t, initiator)
	waitRunning(t, responder)

	client, err := net.DialUDP("udp", nil, initiator.ListenAddr())
	if err != nil {
		t.Fatalf("dial initiator: %v", err)
	}
	defer client.Close()

	want := []byte{0x01, 0x02, 0x03}
	if _, err := client.Write(want); err != nil {
		t.Fatalf("send datagram: %v", err)
	}

	buf := make([]byte, 65536)
	sink.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := sink.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read at forward target: %v", err)
	}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("delivered payload = %x, want %x", buf[:n], want)
	}

	cancel()
	if err := <-initDone; err != nil {
		t.Errorf("initiator Run error = %v", err)
	}
	if err := <-respDone; err != nil {
		t.Errorf("responder Run error = %v", err)
	}
}

func TestStats(t *testing.T) {
	ch := newMockChannel()
	b := newTestBridge(t, RoleResponder, "127.0.0.1:0", "127.0.0.1:9", ch)

	stats := b.Stats()
	if stats.Role != "responder" {
		t.Errorf("Role = %s, want responder", stats.Role)
	}
	if stats.Running {
		t.Error("bridge should not be running before Run")
	}
	if stats.ForwardAddr != "127.0.0.1:9" {
		t.Errorf("ForwardAddr = %s, want 127.0.0.1:9", stats.ForwardAddr)
	}
}
