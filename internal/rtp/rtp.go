// Package rtp allocates and configures the media endpoints a phone call
// binds to. It owns port allocation, QoS marking and peer tracking; it
// does not touch payloads beyond relaying them.
package rtp

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"golang.org/x/net/ipv4"

	"github.com/coppervoice/skinnyd/internal/sccp"
)

var (
	// ErrNoPorts is returned when the configured port range is exhausted.
	ErrNoPorts = errors.New("rtp: port range exhausted")

	// ErrClosed is returned from operations on a closed endpoint.
	ErrClosed = errors.New("rtp: endpoint closed")
)

// Endpoint is one allocated media port.
type Endpoint interface {
	// LocalAddr is the bound address to advertise to the remote party.
	LocalAddr() netip.AddrPort

	// SetPeer points the endpoint at the far end. With NAT enabled the
	// peer is relearned from the first inbound packet's source instead.
	SetPeer(netip.AddrPort)
	Peer() netip.AddrPort

	// SetTOS applies the IP TOS byte to outbound media.
	SetTOS(tos int) error

	SetNAT(enabled bool)
	SetCodec(c sccp.Codec)
	Codec() sccp.Codec

	Close() error
}

// Allocator hands out endpoints.
type Allocator interface {
	Allocate() (Endpoint, error)
}

// UDPAllocator allocates UDP endpoints from a port range on one
// interface. RTP convention wants even ports; odd ports stay free for
// the matching RTCP socket.
type UDPAllocator struct {
	BindAddr netip.Addr
	PortMin  uint16
	PortMax  uint16

	mu   sync.Mutex
	next uint16
}

// NewUDPAllocator returns an allocator over [portMin, portMax].
func NewUDPAllocator(bind netip.Addr, portMin, portMax uint16) *UDPAllocator {
	if portMin == 0 {
		portMin = 10000
	}
	if portMax < portMin {
		portMax = portMin + 1000
	}
	if portMin%2 != 0 {
		portMin++
	}
	return &UDPAllocator{BindAddr: bind, PortMin: portMin, PortMax: portMax, next: portMin}
}

// Allocate binds the next free even port in the range.
func (a *UDPAllocator) Allocate() (Endpoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	span := int(a.PortMax-a.PortMin)/2 + 1
	for i := 0; i < span; i++ {
		port := a.next
		a.next += 2
		if a.next > a.PortMax {
			a.next = a.PortMin
		}

		conn, err := net.ListenUDP("udp4", &net.UDPAddr{
			IP:   a.BindAddr.AsSlice(),
			Port: int(port),
		})
		if err != nil {
			continue
		}
		return &udpEndpoint{conn: conn, local: netip.AddrPortFrom(a.BindAddr, port)}, nil
	}
	return nil, fmt.Errorf("%w: %d-%d", ErrNoPorts, a.PortMin, a.PortMax)
}

type udpEndpoint struct {
	conn  *net.UDPConn
	local netip.AddrPort

	mu     sync.Mutex
	peer   netip.AddrPort
	nat    bool
	codec  sccp.Codec
	closed bool
}

func (e *udpEndpoint) LocalAddr() netip.AddrPort { return e.local }

func (e *udpEndpoint) SetPeer(p netip.AddrPort) {
	e.mu.Lock()
	e.peer = p
	e.mu.Unlock()
}

func (e *udpEndpoint) Peer() netip.AddrPort {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}

func (e *udpEndpoint) SetTOS(tos int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if tos == 0 {
		return nil
	}
	return ipv4.NewPacketConn(e.conn).SetTOS(tos)
}

func (e *udpEndpoint) SetNAT(enabled bool) {
	e.mu.Lock()
	e.nat = enabled
	e.mu.Unlock()
}

func (e *udpEndpoint) SetCodec(c sccp.Codec) {
	e.mu.Lock()
	e.codec = c
	e.mu.Unlock()
}

func (e *udpEndpoint) Codec() sccp.Codec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.codec
}

func (e *udpEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	return e.conn.Close()
}

// Forward starts pushing every packet arriving on e to its peer until
// the endpoint closes. In the partial bridge each side advertises its
// own controller port, so the traffic arriving here is the far party's
// media and the peer is the local phone.
func Forward(e Endpoint) {
	ue, ok := e.(*udpEndpoint)
	if !ok {
		return
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			n, _, err := ue.conn.ReadFromUDPAddrPort(buf)
			if err != nil {
				return
			}
			peer := ue.Peer()
			if !peer.IsValid() {
				continue
			}
			if _, err := ue.conn.WriteToUDPAddrPort(buf[:n], peer); err != nil {
				return
			}
		}
	}()
}

// Relay copies media between two endpoints until either closes. With NAT
// set on an endpoint the peer address is relearned from inbound traffic,
// which handles phones behind port-rewriting gateways.
func Relay(a, b Endpoint) {
	ea, okA := a.(*udpEndpoint)
	eb, okB := b.(*udpEndpoint)
	if !okA || !okB {
		return
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); pump(ea, eb) }()
	go func() { defer wg.Done(); pump(eb, ea) }()
	wg.Wait()
}

func pump(src, dst *udpEndpoint) {
	buf := make([]byte, 1500)
	for {
		n, from, err := src.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return
		}
		src.mu.Lock()
		if src.nat && from != src.peer {
			src.peer = from
		}
		src.mu.Unlock()

		peer := dst.Peer()
		if !peer.IsValid() {
			continue
		}
		if _, err := dst.conn.WriteToUDPAddrPort(buf[:n], peer); err != nil {
			return
		}
	}
}
