package device

import (
	"strings"
	"time"

	"github.com/coppervoice/skinnyd/internal/callctl"
	"github.com/coppervoice/skinnyd/internal/rtp"
	"github.com/coppervoice/skinnyd/internal/sccp"
)

// MaxSubs is the subchannel limit per line: one active call plus one
// held or waiting call.
const MaxSubs = 2

// HookState is a line's physical hook.
type HookState int

const (
	OnHook HookState = iota
	OffHook
)

func (h HookState) String() string {
	if h == OffHook {
		return "offhook"
	}
	return "onhook"
}

// CxMode is a subchannel's media direction.
type CxMode int

const (
	CXInactive CxMode = iota
	CXRecvOnly
	CXSendOnly
	CXSendRecv
	CXConf
	CXMute
)

func (m CxMode) String() string {
	switch m {
	case CXRecvOnly:
		return "recvonly"
	case CXSendOnly:
		return "sendonly"
	case CXSendRecv:
		return "sendrecv"
	case CXConf:
		return "conf"
	case CXMute:
		return "mute"
	default:
		return "inactive"
	}
}

// Forward is a line's CFWD triple. Empty targets mean disabled.
type Forward struct {
	All      string
	Busy     string
	NoAnswer string
}

// Active reports whether any forward target is set.
func (f Forward) Active() bool {
	return f.All != "" || f.Busy != "" || f.NoAnswer != ""
}

// Line is one directory number. Configuration fields are fixed at load;
// runtime fields are guarded by the owning session's lock (or the reload
// coordinator while migrating).
type Line struct {
	// Configuration.
	Name        string
	Context     string
	CidName     string
	CidNum      string
	Language    string
	Accountcode string
	Mailbox     string // "box" or "box@context"
	CallGroup   uint32
	PickupGroup uint32
	CallWaiting bool
	Transfer    bool
	ThreeWay    bool
	DND         bool
	HideCID     bool
	DirectMedia bool
	NAT         bool
	MWIBlink    bool
	Caps        sccp.CodecMask
	Prefs       []sccp.Codec

	// Runtime.
	Instance  uint32 // button instance on the bound device, 0 if unbound
	Hook      HookState
	CFwd      Forward
	MWIActive bool
	Device    *Device // reverse pointer; at most one device per line
	Subs      []*Subchannel
	prune     bool
}

// MailboxKey splits Mailbox into box and context, defaulting the context
// to the line's own.
func (l *Line) MailboxKey() (box, context string) {
	if l.Mailbox == "" {
		return "", ""
	}
	if i := strings.IndexByte(l.Mailbox, '@'); i >= 0 {
		return l.Mailbox[:i], l.Mailbox[i+1:]
	}
	return l.Mailbox, l.Context
}

// NewSub attaches a subchannel with the given call id.
func (l *Line) NewSub(id uint32, outgoing bool) (*Subchannel, error) {
	if len(l.Subs) >= MaxSubs {
		return nil, ErrSubLimit
	}
	sub := &Subchannel{ID: id, Line: l, Outgoing: outgoing, CxMode: CXInactive}
	l.Subs = append(l.Subs, sub)
	return sub, nil
}

// SubByID returns the subchannel with the given call id, or nil.
func (l *Line) SubByID(id uint32) *Subchannel {
	for _, s := range l.Subs {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ActiveSub returns the first subchannel not on hold, or nil.
func (l *Line) ActiveSub() *Subchannel {
	for _, s := range l.Subs {
		if !s.Onhold {
			return s
		}
	}
	return nil
}

// RingingSub returns the first inbound ringing subchannel, or nil.
func (l *Line) RingingSub() *Subchannel {
	for _, s := range l.Subs {
		if s.Ringing && !s.Outgoing {
			return s
		}
	}
	return nil
}

// RemoveSub detaches a subchannel and clears its related pairing.
func (l *Line) RemoveSub(id uint32) {
	for i, s := range l.Subs {
		if s.ID != id {
			continue
		}
		if s.Related != 0 {
			if rel := l.SubByID(s.Related); rel != nil && rel.Related == id {
				rel.Related = 0
			}
		}
		l.Subs = append(l.Subs[:i], l.Subs[i+1:]...)
		return
	}
}

// State reports the line's aggregate device state.
func (l *Line) State() sccp.DeviceState {
	if l.Device == nil || l.Device.Session == nil {
		return sccp.StateUnavailable
	}
	var held bool
	for _, s := range l.Subs {
		if s.Onhold {
			held = true
			continue
		}
		return sccp.StateInUse
	}
	if held {
		return sccp.StateOnHold
	}
	if l.DND || l.Device.DND {
		return sccp.StateBusy
	}
	return sccp.StateNotInUse
}

// Subchannel is one call leg on a line. Runtime fields share the line's
// locking discipline. Related holds the call id of the paired transfer
// leg; the pairing is symmetric while both legs live.
type Subchannel struct {
	ID   uint32
	Line *Line

	Leg callctl.Leg
	RTP rtp.Endpoint

	Outgoing    bool
	Onhold      bool
	Alreadygone bool
	Ringing     bool
	Progress    bool
	Blindxfer   bool
	Xferor      bool
	CxMode      CxMode
	Related     uint32

	Dialed     string
	PeerName   string
	PeerNum    string
	HidCID     bool
	NoCallWait bool // *70 for this call only

	Start    time.Time
	Answered time.Time
}

// Pair links two subchannels as transfer legs.
func Pair(a, b *Subchannel) {
	a.Related = b.ID
	b.Related = a.ID
}

// Up reports whether the subchannel has a live answered leg.
func (s *Subchannel) Up() bool {
	return s.Leg != nil && s.Leg.Up()
}
