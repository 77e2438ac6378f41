package device

import (
	"errors"
	"testing"

	"github.com/coppervoice/skinnyd/internal/sccp"
)

func TestSubchannelLimit(t *testing.T) {
	l := &Line{Name: "reception"}

	a, err := l.NewSub(1, true)
	if err != nil {
		t.Fatalf("first NewSub: %v", err)
	}
	if _, err := l.NewSub(2, false); err != nil {
		t.Fatalf("second NewSub: %v", err)
	}
	if _, err := l.NewSub(3, false); !errors.Is(err, ErrSubLimit) {
		t.Errorf("third NewSub err = %v, want ErrSubLimit", err)
	}

	l.RemoveSub(a.ID)
	if _, err := l.NewSub(4, true); err != nil {
		t.Errorf("NewSub after removal: %v", err)
	}
}

func TestRelatedPairingSymmetric(t *testing.T) {
	l := &Line{Name: "reception"}
	a, _ := l.NewSub(10, true)
	b, _ := l.NewSub(11, true)

	Pair(a, b)
	if a.Related != b.ID || b.Related != a.ID {
		t.Fatalf("pairing not symmetric: %d/%d", a.Related, b.Related)
	}

	// Removing one side clears the survivor's back-reference.
	l.RemoveSub(a.ID)
	if b.Related != 0 {
		t.Errorf("survivor Related = %d, want 0", b.Related)
	}
}

func TestActiveAndRingingSub(t *testing.T) {
	l := &Line{Name: "reception"}
	held, _ := l.NewSub(1, true)
	held.Onhold = true
	ringing, _ := l.NewSub(2, false)
	ringing.Ringing = true

	if got := l.ActiveSub(); got != ringing {
		t.Errorf("ActiveSub = %v, want the non-held sub", got)
	}
	if got := l.RingingSub(); got != ringing {
		t.Errorf("RingingSub = %v", got)
	}
}

func TestLineState(t *testing.T) {
	d := &Device{ID: "SEP001122334455", Session: fakeTransport{}}
	l := &Line{Name: "reception", Device: d}

	if got := l.State(); got != sccp.StateNotInUse {
		t.Errorf("idle state = %s, want NOT_INUSE", got)
	}

	sub, _ := l.NewSub(1, true)
	if got := l.State(); got != sccp.StateInUse {
		t.Errorf("active state = %s, want INUSE", got)
	}

	sub.Onhold = true
	if got := l.State(); got != sccp.StateOnHold {
		t.Errorf("held state = %s, want ONHOLD", got)
	}

	l.Subs = nil
	d.DND = true
	if got := l.State(); got != sccp.StateBusy {
		t.Errorf("dnd state = %s, want BUSY", got)
	}

	l.Device = nil
	if got := l.State(); got != sccp.StateUnavailable {
		t.Errorf("unbound state = %s, want UNAVAILABLE", got)
	}
}

func TestMailboxKey(t *testing.T) {
	tests := []struct {
		name        string
		mailbox     string
		context     string
		wantBox     string
		wantContext string
	}{
		{name: "explicit context", mailbox: "501@voicemail", context: "internal", wantBox: "501", wantContext: "voicemail"},
		{name: "default context", mailbox: "501", context: "internal", wantBox: "501", wantContext: "internal"},
		{name: "empty", mailbox: "", context: "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Line{Mailbox: tt.mailbox, Context: tt.context}
			box, ctx := l.MailboxKey()
			if box != tt.wantBox || ctx != tt.wantContext {
				t.Errorf("MailboxKey = (%q, %q), want (%q, %q)", box, ctx, tt.wantBox, tt.wantContext)
			}
		})
	}
}

func TestACL(t *testing.T) {
	var acl ACL
	if !acl.Allows(mustAddr("10.1.2.3")) {
		t.Error("empty ACL should permit")
	}

	if err := acl.AddDeny("0.0.0.0/0"); err != nil {
		t.Fatalf("AddDeny: %v", err)
	}
	if err := acl.AddPermit("192.168.1.0/24"); err != nil {
		t.Fatalf("AddPermit: %v", err)
	}
	if err := acl.AddDeny("192.168.1.99"); err != nil {
		t.Fatalf("AddDeny host: %v", err)
	}

	tests := []struct {
		addr string
		want bool
	}{
		{"192.168.1.20", true},
		{"192.168.1.99", false},
		{"10.0.0.5", false},
	}
	for _, tt := range tests {
		if got := acl.Allows(mustAddr(tt.addr)); got != tt.want {
			t.Errorf("Allows(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}

	if err := acl.AddPermit("not-an-address"); err == nil {
		t.Error("bad entry should fail")
	}
}

func TestCodecNegotiation(t *testing.T) {
	d := &Device{
		ID:    "SEP001122334455",
		Caps:  sccp.CodecMask(0).With(sccp.CodecUlaw).With(sccp.CodecAlaw).With(sccp.CodecG729A),
		Prefs: []sccp.Codec{sccp.CodecAlaw},
	}
	l := &Line{
		Name:  "reception",
		Caps:  sccp.CodecMask(0).With(sccp.CodecUlaw).With(sccp.CodecG729A),
		Prefs: []sccp.Codec{sccp.CodecG729A, sccp.CodecUlaw},
	}

	mask := d.CodecMask(l)
	if mask.Has(sccp.CodecAlaw) {
		t.Error("alaw should be excluded by the line mask")
	}
	if got := d.PreferredCodec(l); got != sccp.CodecG729A {
		t.Errorf("PreferredCodec = %v, want g729", got)
	}

	// Without advertised capabilities the baseline kicks in.
	d.Caps = 0
	if got := d.PreferredCodec(nil); got != sccp.CodecAlaw {
		t.Errorf("baseline PreferredCodec = %v, want alaw (device preference)", got)
	}

	// A configured device mask narrows what the phone advertises.
	d.Caps = sccp.CodecMask(0).With(sccp.CodecUlaw).With(sccp.CodecAlaw).With(sccp.CodecG729A)
	d.Allowed = sccp.CodecMask(0).With(sccp.CodecUlaw)
	if mask := d.CodecMask(nil); mask.Has(sccp.CodecAlaw) || mask.Has(sccp.CodecG729A) {
		t.Errorf("configured mask not applied: %s", mask)
	}
	if got := d.PreferredCodec(l); got != sccp.CodecUlaw {
		t.Errorf("restricted PreferredCodec = %v, want ulaw", got)
	}
}
