// Package session drives one phone connection from accept to teardown.
//
// Each session owns a single TCP connection and the registered device
// bound through it. A read goroutine decodes frames and dispatches them
// under the session lock; far-side call events and timer callbacks are
// posted onto a job queue drained by a worker goroutine, so the fabric
// never blocks on another session's lock.
package session

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"github.com/coppervoice/skinnyd/internal/callctl"
	"github.com/coppervoice/skinnyd/internal/cdr"
	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/dialplan"
	"github.com/coppervoice/skinnyd/internal/events"
	"github.com/coppervoice/skinnyd/internal/infrastructure/logging"
	"github.com/coppervoice/skinnyd/internal/rtp"
	"github.com/coppervoice/skinnyd/internal/sccp"
	"github.com/coppervoice/skinnyd/internal/skinnyconf"
	"github.com/coppervoice/skinnyd/internal/telemetry"
)

const (
	// registerTimeout bounds the wait for REGISTER after accept.
	registerTimeout = 10 * time.Second

	// mediaAckTimeout bounds the wait for OPEN_RECEIVE_CHANNEL_ACK.
	mediaAckTimeout = 5 * time.Second

	// writeRetries is how many times a transiently failed frame write is
	// reattempted before the session is declared broken.
	writeRetries = 3

	// jobQueueDepth buffers far-side event callbacks. A full queue drops
	// the session rather than deadlocking the fabric.
	jobQueueDepth = 64
)

// Options carries the shared controller state a session operates on.
type Options struct {
	General   skinnyconf.General
	Registry  *device.Registry
	Fabric    callctl.Fabric
	Plan      dialplan.Plan
	RTP       rtp.Allocator
	Events    *events.Publisher
	Telemetry *telemetry.Writer
	CDR       *cdr.Store
	Logger    *logging.Logger
}

// Session is one live phone connection. It implements device.Transport.
type Session struct {
	opts Options
	conn net.Conn
	log  *logging.Logger

	// writeMu serialises outbound frames so they never interleave.
	writeMu sync.Mutex

	// mu guards the device and everything hanging off it: lines,
	// subchannels, collectors, pending media acks.
	mu         sync.Mutex
	dev        *device.Device
	collectors map[uint32]*collector
	pendingACK map[uint32]chan sccp.OpenReceiveChannelAckMessage
	mediaUp    map[uint32]bool
	lastDialed map[string]string // line name -> last outbound number
	lastCaller map[string]string // line name -> last inbound number
	closed     bool

	jobs     chan func()
	done     chan struct{}
	doneOnce sync.Once
}

// New wraps an accepted connection. Run must be called to start the
// session.
func New(conn net.Conn, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Session{
		opts:       opts,
		conn:       conn,
		log:        opts.Logger.With("remote", conn.RemoteAddr().String()),
		collectors: make(map[uint32]*collector),
		pendingACK: make(map[uint32]chan sccp.OpenReceiveChannelAckMessage),
		mediaUp:    make(map[uint32]bool),
		lastDialed: make(map[string]string),
		lastCaller: make(map[string]string),
		jobs:       make(chan func(), jobQueueDepth),
		done:       make(chan struct{}),
	}
}

// Send writes one message to the phone. Transient socket errors are
// retried a fixed number of times; anything else is final.
func (s *Session) Send(m sccp.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		if err = sccp.WriteMessage(s.conn, m); err == nil || !isTransient(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}

func isTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR)
}

// RemoteAddr returns the phone's address, or the zero AddrPort for
// transports without one.
func (s *Session) RemoteAddr() netip.AddrPort {
	if ta, ok := s.conn.RemoteAddr().(*net.TCPAddr); ok {
		return ta.AddrPort()
	}
	if ap, err := netip.ParseAddrPort(s.conn.RemoteAddr().String()); err == nil {
		return ap
	}
	return netip.AddrPort{}
}

// localAddr is the controller-side address of this connection.
func (s *Session) localAddr() netip.AddrPort {
	if ta, ok := s.conn.LocalAddr().(*net.TCPAddr); ok {
		return ta.AddrPort()
	}
	return netip.AddrPort{}
}

// Close tears the session down from outside the read loop: unregister
// requests, reloads and controller shutdown come through here.
func (s *Session) Close() error {
	s.teardown("reset")
	return nil
}

// post queues fn for the worker goroutine. Events arriving after
// teardown are dropped.
func (s *Session) post(fn func()) {
	select {
	case s.jobs <- fn:
	case <-s.done:
	}
}

// Run services the connection until it dies. It blocks; the server
// starts one goroutine per accepted connection.
func (s *Session) Run() {
	go s.worker()

	// The phone has registerTimeout to present itself.
	s.conn.SetReadDeadline(time.Now().Add(registerTimeout))

	reason := "transport_error"
	for {
		m, err := sccp.ReadMessage(s.conn)
		if err != nil {
			reason = s.classifyReadError(err)
			break
		}

		if done, r := s.handleMessage(m); done {
			reason = r
			break
		}

		s.mu.Lock()
		registered := s.dev != nil
		keepAlive := s.opts.General.KeepAlive
		s.mu.Unlock()
		if registered {
			// Watchdog: a phone that stops sending anything, keepalives
			// included, is declared dead after keepalive plus grace.
			s.conn.SetReadDeadline(time.Now().Add(keepAlive + keepAlive/10))
		}
	}
	s.teardown(reason)
}

func (s *Session) classifyReadError(err error) string {
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		s.mu.Lock()
		registered := s.dev != nil
		s.mu.Unlock()
		if !registered {
			s.log.Warn("registration timeout")
			return "transport_error"
		}
		s.log.Warn("keepalive timeout")
		return "keepalive_timeout"
	case errors.Is(err, sccp.ErrClosed):
		s.log.Info("connection closed by phone")
		return "transport_error"
	case errors.Is(err, sccp.ErrProtocol), errors.Is(err, sccp.ErrFrameTooLarge):
		s.log.Error("protocol error", "error", err)
		return "transport_error"
	default:
		s.log.Error("read failed", "error", err)
		return "transport_error"
	}
}

func (s *Session) worker() {
	for {
		select {
		case fn := <-s.jobs:
			fn()
		case <-s.done:
			return
		}
	}
}

// teardown releases everything the session holds. Safe to call more
// than once; only the first call does work.
func (s *Session) teardown(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	d := s.dev
	s.dev = nil

	for id, c := range s.collectors {
		c.stop()
		delete(s.collectors, id)
	}

	var subs []*device.Subchannel
	if d != nil {
		for _, l := range d.Lines {
			subs = append(subs, l.Subs...)
		}
	}
	s.mu.Unlock()

	// Hang up outside the lock; hangup signalling runs far-side
	// callbacks synchronously.
	for _, sub := range subs {
		if sub.Leg != nil && !sub.Alreadygone {
			sub.Leg.Hangup(callctl.CauseNormal)
		}
		if sub.RTP != nil {
			sub.RTP.Close()
		}
		s.writeCDR(d, sub, callctl.CauseNormal, time.Now())
	}

	if d != nil {
		for _, l := range d.Lines {
			s.opts.Fabric.Unbind(l.Context, l.Name)
			if l.CidNum != "" && l.CidNum != l.Name {
				s.opts.Fabric.Unbind(l.Context, l.CidNum)
			}
			s.opts.Events.LineState(d.ID, l.Name, string(sccp.StateUnavailable))
		}
		d.Unbind()
		s.opts.Telemetry.SessionClosed(d.ID, reason)
		s.log.Info("session closed", "device", d.ID, "reason", reason)
	}

	s.doneOnce.Do(func() { close(s.done) })
	s.conn.Close()
}

// Migrate repoints the session at a reloaded device model. The
// successor adopts the live registration and subchannel state; the
// caller follows up with a soft reset so the phone re-registers.
func (s *Session) Migrate(next *device.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil || s.closed {
		return
	}
	device.Adopt(s.dev, next)
	next.Session = s
	s.dev = next
}

// Device returns the bound device, or nil before registration.
func (s *Session) Device() *device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev
}

// publishLineState pushes a line's retained state to the broker.
// Called with s.mu held.
func (s *Session) publishLineState(l *device.Line) {
	if s.dev == nil {
		return
	}
	s.opts.Events.LineState(s.dev.ID, l.Name, string(l.State()))
}
