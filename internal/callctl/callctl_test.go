package callctl

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/coppervoice/skinnyd/internal/sccp"
)

// recorder captures far-side events for one leg.
type recorder struct {
	ringing  int
	answered int
	hangups  []Cause
	holds    []bool
	media    []MediaInfo
	repoints int
}

func (r *recorder) events() Events {
	return Events{
		OnRinging:  func() { r.ringing++ },
		OnAnswered: func() { r.answered++ },
		OnHangup:   func(c Cause) { r.hangups = append(r.hangups, c) },
		OnHold:     func(h bool) { r.holds = append(r.holds, h) },
		OnMedia:    func(m MediaInfo) { r.media = append(r.media, m) },
		OnRepoint:  func() { r.repoints++ },
	}
}

func TestOriginateAnswerHangup(t *testing.T) {
	f := NewLocalFabric()

	var calleeLeg Leg
	var calleeRec recorder
	f.Bind("internal", "1002", func(in Leg) error {
		in.SetEvents(calleeRec.events())
		calleeLeg = in
		return in.Ring()
	})

	var callerRec recorder
	caller, err := f.Originate(Request{
		Context: "internal",
		Exten:   "1002",
		Caller:  CallerID{Name: "Front Desk", Num: "1001"},
	}, callerRec.events())
	if err != nil {
		t.Fatalf("Originate: %v", err)
	}

	if callerRec.ringing != 1 {
		t.Errorf("caller ringing events = %d, want 1", callerRec.ringing)
	}
	if got := calleeLeg.Request().Caller.Num; got != "1001" {
		t.Errorf("callee sees caller %q, want 1001", got)
	}

	if err := calleeLeg.Answer(); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if callerRec.answered != 1 {
		t.Errorf("caller answered events = %d, want 1", callerRec.answered)
	}
	if !caller.Up() || !calleeLeg.Up() {
		t.Error("both legs should report Up after answer")
	}

	if err := caller.Hangup(CauseNormal); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if len(calleeRec.hangups) != 1 || calleeRec.hangups[0] != CauseNormal {
		t.Errorf("callee hangups = %v, want [normal]", calleeRec.hangups)
	}
	// Signalling a dead leg fails cleanly.
	if err := calleeLeg.Ring(); !errors.Is(err, ErrHungup) {
		t.Errorf("Ring on dead leg = %v, want ErrHungup", err)
	}
}

func TestOriginateNoRoute(t *testing.T) {
	f := NewLocalFabric()
	_, err := f.Originate(Request{Context: "internal", Exten: "9999"}, Events{})
	if !errors.Is(err, ErrNoRoute) {
		t.Errorf("err = %v, want ErrNoRoute", err)
	}
}

func TestOriginateBusy(t *testing.T) {
	f := NewLocalFabric()
	f.Bind("internal", "1002", func(in Leg) error { return ErrBusy })

	_, err := f.Originate(Request{Context: "internal", Exten: "1002"}, Events{})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
}

func TestForwardChain(t *testing.T) {
	f := NewLocalFabric()
	f.Bind("internal", "1002", func(in Leg) error {
		return &ForwardError{Context: "internal", Exten: "1003"}
	})

	var answered Leg
	f.Bind("internal", "1003", func(in Leg) error {
		answered = in
		return in.Ring()
	})

	leg, err := f.Originate(Request{Context: "internal", Exten: "1002"}, Events{})
	if err != nil {
		t.Fatalf("Originate: %v", err)
	}
	if answered == nil {
		t.Fatal("forward target never received the call")
	}
	if got := answered.Request().Exten; got != "1003" {
		t.Errorf("delivered exten = %q, want 1003", got)
	}
	leg.Hangup(CauseNormal)
}

func TestForwardLoop(t *testing.T) {
	f := NewLocalFabric()
	f.Bind("internal", "1002", func(in Leg) error {
		return &ForwardError{Context: "internal", Exten: "1002"}
	})

	_, err := f.Originate(Request{Context: "internal", Exten: "1002"}, Events{})
	if !errors.Is(err, ErrForwardLoop) {
		t.Errorf("err = %v, want ErrForwardLoop", err)
	}
}

func TestMediaExchange(t *testing.T) {
	f := NewLocalFabric()

	var callee Leg
	var calleeRec recorder
	f.Bind("internal", "1002", func(in Leg) error {
		in.SetEvents(calleeRec.events())
		callee = in
		return nil
	})

	var callerRec recorder
	caller, err := f.Originate(Request{Context: "internal", Exten: "1002"}, callerRec.events())
	if err != nil {
		t.Fatalf("Originate: %v", err)
	}

	m := MediaInfo{Addr: netip.MustParseAddrPort("10.0.0.5:22000"), Codec: sccp.CodecUlaw}
	if err := caller.SetMedia(m); err != nil {
		t.Fatalf("SetMedia: %v", err)
	}
	if len(calleeRec.media) != 1 || calleeRec.media[0] != m {
		t.Errorf("callee media events = %v, want [%v]", calleeRec.media, m)
	}
	got, ok := callee.PeerMedia()
	if !ok || got != m {
		t.Errorf("PeerMedia = %v %v, want %v true", got, ok, m)
	}
}

func TestHoldSignalling(t *testing.T) {
	f := NewLocalFabric()

	var calleeRec recorder
	f.Bind("internal", "1002", func(in Leg) error {
		in.SetEvents(calleeRec.events())
		return nil
	})

	caller, err := f.Originate(Request{Context: "internal", Exten: "1002"}, Events{})
	if err != nil {
		t.Fatalf("Originate: %v", err)
	}
	caller.Hold()
	caller.Unhold()
	want := []bool{true, false}
	if len(calleeRec.holds) != 2 || calleeRec.holds[0] != want[0] || calleeRec.holds[1] != want[1] {
		t.Errorf("holds = %v, want %v", calleeRec.holds, want)
	}
}

func TestMasquerade(t *testing.T) {
	// X is bridged to A (held), Y is bridged to B. Committing the
	// transfer splices X onto Y and silently drops A and B.
	f := NewLocalFabric()

	var xRec, yRec recorder
	var xLeg, yLeg Leg
	_ = yLeg
	f.Bind("internal", "100", func(in Leg) error {
		in.SetEvents(xRec.events())
		xLeg = in
		return nil
	})
	f.Bind("internal", "200", func(in Leg) error {
		in.SetEvents(yRec.events())
		yLeg = in
		return nil
	})

	a, err := f.Originate(Request{Context: "internal", Exten: "100"}, Events{})
	if err != nil {
		t.Fatalf("Originate A: %v", err)
	}
	b, err := f.Originate(Request{Context: "internal", Exten: "200"}, Events{})
	if err != nil {
		t.Fatalf("Originate B: %v", err)
	}

	if err := f.Masquerade(a, b); err != nil {
		t.Fatalf("Masquerade: %v", err)
	}

	if xRec.repoints != 1 || yRec.repoints != 1 {
		t.Errorf("repoints = (%d, %d), want (1, 1)", xRec.repoints, yRec.repoints)
	}
	if len(xRec.hangups) != 0 || len(yRec.hangups) != 0 {
		t.Errorf("spliced legs saw hangups: %v %v", xRec.hangups, yRec.hangups)
	}

	// X and Y are now each other's peers.
	m := MediaInfo{Addr: netip.MustParseAddrPort("10.0.0.9:18000"), Codec: sccp.CodecAlaw}
	if err := xLeg.SetMedia(m); err != nil {
		t.Fatalf("SetMedia after splice: %v", err)
	}
	if len(yRec.media) != 1 || yRec.media[0] != m {
		t.Errorf("Y media = %v, want [%v]", yRec.media, m)
	}
	// X hanging up now ends Y, not the dead transfer legs.
	xLeg.Hangup(CauseNormal)
	if len(yRec.hangups) != 1 {
		t.Errorf("Y hangups after splice = %v, want one", yRec.hangups)
	}
}
