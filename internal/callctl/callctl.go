// Package callctl is the call fabric between endpoint legs. Lines bind
// themselves to {context, extension} targets; Originate pairs a caller
// leg with the bound handler's leg and relays signalling between the two.
// Media never flows through here, only addresses and codec choices.
package callctl

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/coppervoice/skinnyd/internal/sccp"
)

var (
	// ErrNoRoute means no handler is bound for the dialed target.
	ErrNoRoute = errors.New("callctl: no route to extension")

	// ErrBusy is returned by handlers that cannot take the call (DND set,
	// all subchannels in use with callwaiting off).
	ErrBusy = errors.New("callctl: destination busy")

	// ErrHungup is returned from operations on a dead leg.
	ErrHungup = errors.New("callctl: leg hung up")

	// ErrForwardLoop aborts originate chains longer than maxForwardHops.
	ErrForwardLoop = errors.New("callctl: forward loop")
)

// maxForwardHops caps CFWD chains (A forwards to B forwards to C ...).
const maxForwardHops = 5

// Cause classifies why a leg ended.
type Cause int

const (
	CauseNormal Cause = iota
	CauseBusy
	CauseCongestion
	CauseNoAnswer
	CauseRejected
)

func (c Cause) String() string {
	switch c {
	case CauseNormal:
		return "normal"
	case CauseBusy:
		return "busy"
	case CauseCongestion:
		return "congestion"
	case CauseNoAnswer:
		return "no-answer"
	case CauseRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// CallerID identifies the party on one side of a call.
type CallerID struct {
	Name   string
	Num    string
	Hidden bool
}

// Request describes an originate attempt.
type Request struct {
	Context string
	Exten   string
	Caller  CallerID
	Codecs  sccp.CodecMask
}

// MediaInfo is one side's RTP receive address and chosen codec.
type MediaInfo struct {
	Addr  netip.AddrPort
	Codec sccp.Codec
}

// Events are the callbacks a leg owner receives about the far side.
// Nil members are skipped. Callbacks run on the goroutine driving the
// far leg; owners must not call back into the fabric while holding their
// own locks.
type Events struct {
	OnRinging  func()
	OnAnswered func()
	OnHangup   func(Cause)
	OnHold     func(held bool)
	OnMedia    func(MediaInfo)

	// OnRepoint fires after a masquerade re-pairs this leg with a new
	// far side; owners re-run their media exchange.
	OnRepoint func()
}

// Leg is one side of a bridged call.
type Leg interface {
	ID() uint32
	Request() Request

	// SetEvents installs the owner's callbacks. Must be called before
	// the leg is driven; the incoming handler does it first thing.
	SetEvents(Events)

	// Ring reports alerting to the far side (callee legs only).
	Ring() error

	// Answer reports the call accepted.
	Answer() error

	// Hangup ends the leg and tells the far side why.
	Hangup(cause Cause) error

	// Hold and Unhold toggle the far side's hold indication.
	Hold() error
	Unhold() error

	// SetMedia advertises this side's RTP address and codec to the far
	// side.
	SetMedia(MediaInfo) error

	// PeerMedia returns the last media advertised by the far side.
	PeerMedia() (MediaInfo, bool)

	// Up reports whether both sides have answered.
	Up() bool
}

// ForwardError is returned by a handler to divert the call instead of
// taking it.
type ForwardError struct {
	Context string
	Exten   string
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("callctl: forwarded to %s@%s", e.Exten, e.Context)
}

// Handler answers an incoming leg. It installs events and starts
// ringing, returning quickly; ErrBusy and *ForwardError divert the call.
type Handler func(incoming Leg) error

// Fabric routes originates to bound handlers.
type Fabric interface {
	Bind(context, exten string, h Handler)
	Unbind(context, exten string)

	// Originate places a call. The returned leg is the caller's side;
	// events must be installed via SetEvents before signalling arrives,
	// so they are passed in.
	Originate(req Request, ev Events) (Leg, error)

	// Masquerade splices the far side of held onto the far side of
	// replacement, then silently kills both given legs. Attended
	// transfer commits through this.
	Masquerade(held, replacement Leg) error
}

// LocalFabric is the in-process Fabric implementation.
type LocalFabric struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	nextID   atomic.Uint32
}

// NewLocalFabric returns an empty fabric.
func NewLocalFabric() *LocalFabric {
	return &LocalFabric{handlers: make(map[string]Handler)}
}

func targetKey(context, exten string) string { return context + "/" + exten }

// Bind implements Fabric. A later bind for the same target replaces the
// earlier one.
func (f *LocalFabric) Bind(context, exten string, h Handler) {
	f.mu.Lock()
	f.handlers[targetKey(context, exten)] = h
	f.mu.Unlock()
}

// Unbind implements Fabric.
func (f *LocalFabric) Unbind(context, exten string) {
	f.mu.Lock()
	delete(f.handlers, targetKey(context, exten))
	f.mu.Unlock()
}

// Originate implements Fabric.
func (f *LocalFabric) Originate(req Request, ev Events) (Leg, error) {
	return f.originate(req, ev, 0)
}

func (f *LocalFabric) originate(req Request, ev Events, hops int) (Leg, error) {
	if hops > maxForwardHops {
		return nil, ErrForwardLoop
	}

	f.mu.RLock()
	h, ok := f.handlers[targetKey(req.Context, req.Exten)]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s@%s", ErrNoRoute, req.Exten, req.Context)
	}

	caller := &leg{fabric: f, id: f.nextID.Add(1), req: req, ev: ev}
	callee := &leg{fabric: f, id: f.nextID.Add(1), req: req}
	caller.peer = callee
	callee.peer = caller

	if err := h(callee); err != nil {
		var fwd *ForwardError
		if errors.As(err, &fwd) {
			next := req
			next.Context = fwd.Context
			next.Exten = fwd.Exten
			return f.originate(next, ev, hops+1)
		}
		return nil, err
	}
	return caller, nil
}

// Masquerade implements Fabric.
func (f *LocalFabric) Masquerade(held, replacement Leg) error {
	a, okA := held.(*leg)
	b, okB := replacement.(*leg)
	if !okA || !okB {
		return fmt.Errorf("callctl: masquerade needs local legs")
	}

	// Lock in id order; both pairs share the fabric's leg type.
	x := a.farSide()
	y := b.farSide()
	if x == nil || y == nil {
		return ErrHungup
	}

	// Detach the dying legs without signalling hangup to x and y, then
	// splice x and y together.
	a.detach()
	b.detach()

	x.mu.Lock()
	x.peer = y
	x.held = false
	x.mu.Unlock()

	y.mu.Lock()
	y.peer = x
	y.mu.Unlock()

	x.notify(func(ev Events) {
		if ev.OnRepoint != nil {
			ev.OnRepoint()
		}
	})
	y.notify(func(ev Events) {
		if ev.OnRepoint != nil {
			ev.OnRepoint()
		}
	})
	return nil
}

// leg is one side of a local call pair.
type leg struct {
	fabric *LocalFabric
	id     uint32
	req    Request

	mu       sync.Mutex
	ev       Events
	peer     *leg
	media    MediaInfo
	hasMedia bool
	answered bool
	held     bool
	dead     bool
}

func (l *leg) ID() uint32       { return l.id }
func (l *leg) Request() Request { return l.req }

func (l *leg) SetEvents(ev Events) {
	l.mu.Lock()
	l.ev = ev
	l.mu.Unlock()
}

func (l *leg) farSide() *leg {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peer
}

// detach severs the pair link without firing hangup events.
func (l *leg) detach() {
	l.mu.Lock()
	l.peer = nil
	l.dead = true
	l.mu.Unlock()
}

// notify runs fn with the leg's events outside its lock.
func (l *leg) notify(fn func(Events)) {
	l.mu.Lock()
	ev := l.ev
	dead := l.dead
	l.mu.Unlock()
	if !dead {
		fn(ev)
	}
}

func (l *leg) signalPeer(fn func(*leg, Events)) error {
	p := l.farSide()
	if p == nil {
		return ErrHungup
	}
	p.mu.Lock()
	ev := p.ev
	dead := p.dead
	p.mu.Unlock()
	if dead {
		return ErrHungup
	}
	fn(p, ev)
	return nil
}

func (l *leg) Ring() error {
	return l.signalPeer(func(_ *leg, ev Events) {
		if ev.OnRinging != nil {
			ev.OnRinging()
		}
	})
}

func (l *leg) Answer() error {
	l.mu.Lock()
	if l.dead {
		l.mu.Unlock()
		return ErrHungup
	}
	l.answered = true
	l.mu.Unlock()

	return l.signalPeer(func(p *leg, ev Events) {
		p.mu.Lock()
		p.answered = true
		p.mu.Unlock()
		if ev.OnAnswered != nil {
			ev.OnAnswered()
		}
	})
}

func (l *leg) Hangup(cause Cause) error {
	l.mu.Lock()
	if l.dead {
		l.mu.Unlock()
		return nil
	}
	l.dead = true
	p := l.peer
	l.peer = nil
	l.mu.Unlock()

	if p == nil {
		return nil
	}
	p.mu.Lock()
	alreadyDead := p.dead
	p.dead = true
	p.peer = nil
	ev := p.ev
	p.mu.Unlock()

	if !alreadyDead && ev.OnHangup != nil {
		ev.OnHangup(cause)
	}
	return nil
}

func (l *leg) Hold() error   { return l.setHold(true) }
func (l *leg) Unhold() error { return l.setHold(false) }

func (l *leg) setHold(held bool) error {
	l.mu.Lock()
	l.held = held
	l.mu.Unlock()
	return l.signalPeer(func(_ *leg, ev Events) {
		if ev.OnHold != nil {
			ev.OnHold(held)
		}
	})
}

func (l *leg) SetMedia(m MediaInfo) error {
	l.mu.Lock()
	l.media = m
	l.hasMedia = true
	l.mu.Unlock()
	return l.signalPeer(func(_ *leg, ev Events) {
		if ev.OnMedia != nil {
			ev.OnMedia(m)
		}
	})
}

func (l *leg) PeerMedia() (MediaInfo, bool) {
	p := l.farSide()
	if p == nil {
		return MediaInfo{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.media, p.hasMedia
}

func (l *leg) Up() bool {
	l.mu.Lock()
	mine := l.answered
	p := l.peer
	l.mu.Unlock()
	if p == nil {
		return false
	}
	p.mu.Lock()
	theirs := p.answered
	p.mu.Unlock()
	return mine && theirs
}
