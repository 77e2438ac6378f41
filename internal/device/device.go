package device

import (
	"net/netip"
	"strings"

	"github.com/coppervoice/skinnyd/internal/sccp"
)

// RegState is the registration lifecycle of a device.
type RegState int

const (
	// Unbound: configured but no live session.
	Unbound RegState = iota

	// Bound: REGISTER accepted, handshake in progress.
	Bound

	// Registered: capabilities and softkey exchange complete.
	Registered
)

func (s RegState) String() string {
	switch s {
	case Bound:
		return "bound"
	case Registered:
		return "registered"
	default:
		return "unbound"
	}
}

// Transport is the session-side interface a bound device sends through.
// The session package implements it; keeping it consumer-side here avoids
// a dependency cycle.
type Transport interface {
	Send(m sccp.Message) error
	RemoteAddr() netip.AddrPort
	Close() error
}

// Speeddial is one configured speeddial slot. Hints render as line keys
// and track the target's state.
type Speeddial struct {
	Label    string
	Context  string
	Exten    string
	Instance uint32
	IsHint   bool
}

// Addon is a sidecar button module.
type Addon struct {
	Model string
}

// Device is one configured phone. Configuration fields are fixed at
// load; runtime fields follow the owning session's locking discipline.
type Device struct {
	// Configuration.
	ID          string // "SEP...." identity from REGISTER
	Name        string // human label
	ACL         ACL
	EarlyRTP    bool
	Transfer    bool
	CallWaiting bool
	MWIBlink    bool
	Prefs       []sccp.Codec
	Allowed     sccp.CodecMask // configured codec mask; zero leaves capabilities unrestricted
	Lines       []*Line
	Speeddials  []*Speeddial
	Addons      []Addon

	// Runtime.
	State      RegState
	DND        bool
	TypeCode   uint32 // numeric model from REGISTER
	Caps       sccp.CodecMask
	MaxStreams uint32
	RTPPort    uint32 // from IP_PORT
	Session    Transport
	prune      bool
}

// LineByInstance returns the line bound at a button instance, or nil.
// Instance 0 is canonicalised to 1: older firmwares send 0 to mean the
// first line.
func (d *Device) LineByInstance(instance uint32) *Line {
	if instance == 0 {
		instance = 1
	}
	for _, l := range d.Lines {
		if l.Instance == instance {
			return l
		}
	}
	return nil
}

// SpeeddialByInstance returns the speeddial at an instance, or nil.
// Hints share the line-key instance space, plain speeddials have their
// own, so the caller states which it is resolving.
func (d *Device) SpeeddialByInstance(instance uint32, hint bool) *Speeddial {
	for _, s := range d.Speeddials {
		if s.IsHint == hint && s.Instance == instance {
			return s
		}
	}
	return nil
}

// CodecMask is the negotiable set: the device's advertised capabilities
// intersected with its own configured mask and the line's.
func (d *Device) CodecMask(l *Line) sccp.CodecMask {
	caps := d.Caps
	if caps.Empty() {
		// No CAPABILITIES_RES yet; assume the basics every model speaks.
		caps = sccp.CodecMask(0).With(sccp.CodecUlaw).With(sccp.CodecAlaw)
	}
	if !d.Allowed.Empty() {
		caps = caps.Intersect(d.Allowed)
	}
	if l != nil && !l.Caps.Empty() {
		caps = caps.Intersect(l.Caps)
	}
	return caps
}

// PreferredCodec picks the codec for a new media stream on l.
func (d *Device) PreferredCodec(l *Line) sccp.Codec {
	prefs := d.Prefs
	if l != nil && len(l.Prefs) > 0 {
		prefs = l.Prefs
	}
	return sccp.BestCodec(d.CodecMask(l), prefs)
}

// MWILit reports whether any line's mailbox has new messages; the
// device-level voicemail lamp is the OR across lines.
func (d *Device) MWILit() bool {
	for _, l := range d.Lines {
		if l.MWIActive {
			return true
		}
	}
	return false
}

// Adopt carries live registration and call state from a pruned device
// onto its reloaded successor. Lines pair by name; their subchannels
// move across and are repointed at the successor line. The old device
// is left unbound.
func Adopt(old, next *Device) {
	next.Session = old.Session
	next.State = old.State
	next.DND = old.DND
	next.TypeCode = old.TypeCode
	next.Caps = old.Caps
	next.MaxStreams = old.MaxStreams
	next.RTPPort = old.RTPPort

	for _, nl := range next.Lines {
		ol := old.lineByName(nl.Name)
		if ol == nil {
			continue
		}
		if ol.Instance != 0 {
			// The phone's buttons keep the old numbering until it
			// re-registers.
			nl.Instance = ol.Instance
		}
		nl.Hook = ol.Hook
		nl.Subs = ol.Subs
		ol.Subs = nil
		for _, sub := range nl.Subs {
			sub.Line = nl
		}
	}
	old.Session = nil
}

func (d *Device) lineByName(name string) *Line {
	for _, l := range d.Lines {
		if strings.EqualFold(l.Name, name) {
			return l
		}
	}
	return nil
}

// Unbind clears session state when the transport goes away. Lines stay
// configured; their hook and subchannel state resets.
func (d *Device) Unbind() {
	d.Session = nil
	d.State = Unbound
	d.Caps = 0
	for _, l := range d.Lines {
		l.Hook = OnHook
		l.Subs = nil
	}
}
