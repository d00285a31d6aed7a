package bridge

import (
	"fmt"
	"net"
)

// Endpoint owns one bound local UDP socket. Each endpoint belongs to exactly
// one pump; no locking is needed because endpoints are never shared.
type Endpoint struct {
	conn *net.UDPConn
}

// Bind binds a UDP socket to localAddr ("host:port").
func Bind(localAddr string) (*Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", localAddr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", localAddr, err)
	}

	return &Endpoint{conn: conn}, nil
}

// BindEphemeral binds a UDP socket on ip with a kernel-assigned ephemeral
// port. Used by the inbound pump, which originates datagrams toward the
// forward target rather than replying on the listen socket.
func BindEphemeral(ip net.IP) (*Endpoint, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("bind ephemeral: %w", err)
	}

	return &Endpoint{conn: conn}, nil
}

// OriginIP picks the local bind address for a socket that originates
// datagrams toward addr. Loopback targets get a loopback socket so the
// sender is never reachable from other interfaces.
func OriginIP(addr *net.UDPAddr) net.IP {
	if addr.IP.IsLoopback() {
		if addr.IP.To4() != nil {
			return net.IPv4(127, 0, 0, 1)
		}
		return net.IPv6loopback
	}
	if addr.IP.To4() != nil {
		return net.IPv4zero
	}
	return net.IPv6unspecified
}

// Receive blocks until one datagram arrives and copies its payload into buf,
// returning the payload length. Datagrams larger than buf are truncated, so
// callers should size buf at MaxDatagramSize+1 or larger.
func (e *Endpoint) Receive(buf []byte) (int, error) {
	n, _, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SendTo sends payload as one UDP datagram to destAddr. Best effort: there
// is no delivery confirmation.
func (e *Endpoint) SendTo(payload []byte, destAddr *net.UDPAddr) error {
	_, err := e.conn.WriteToUDP(payload, destAddr)
	return err
}

// LocalAddr returns the bound local address.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Close closes the socket, unblocking any pending Receive.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}
