package session

import (
	"github.com/coppervoice/skinnyd/internal/callctl"
	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/sccp"
)

// transferKeyLocked drives attended transfer. The first press parks the
// live call and opens a consult bubble paired with it; the second press
// commits. Pressed once the target is in ringback it hands the held
// party over immediately; pressed before ringback it arms a blind
// transfer that completes on the target's ringback, and pressed again
// before that, it disarms.
func (s *Session) transferKeyLocked(ref uint32) {
	if s.dev == nil || !s.dev.Transfer {
		return
	}
	l, sub := s.subByRef(ref)
	if sub == nil || !l.Transfer {
		return
	}

	if sub.Xferor && sub.Related != 0 {
		s.transferSecondPressLocked(l, sub)
		return
	}

	// First press needs an answered call to park.
	if sub.Answered.IsZero() || sub.Onhold {
		return
	}
	s.holdSubLocked(l, sub)

	consult := s.newOutgoingSubLocked(l)
	if consult == nil {
		s.resumeSubLocked(l, sub)
		return
	}
	device.Pair(sub, consult)
	consult.Xferor = true

	l.Hook = device.OffHook
	s.Send(sccp.SetRingerMessage{Mode: sccp.RingOff})
	s.callState(l, consult.ID, sccp.CallStateOffhook)
	s.prompt(l, consult.ID, "Transfer to")
	s.selectKeys(l, consult.ID, sccp.KeySetOffHookWithFeat)
	s.Send(sccp.ActivateCallPlaneMessage{Instance: l.Instance})
	s.Send(sccp.StartToneMessage{Tone: sccp.ToneDial})
	s.startCollector(l, consult, modeDial)
}

func (s *Session) transferSecondPressLocked(l *device.Line, consult *device.Subchannel) {
	held := l.SubByID(consult.Related)
	if held == nil {
		s.Send(sccp.DisplayNotifyMessage{Timeout: 10, Text: "Neither side bridgeable"})
		return
	}

	switch {
	case !consult.Answered.IsZero():
		s.commitTransferLocked(l, consult)
	case consult.Progress:
		// Target already in ringback: hand the held party over now.
		s.commitTransferLocked(l, consult)
	case consult.Leg != nil:
		// No ringback from the target yet: toggle the blind arm on both
		// legs.
		armed := !consult.Blindxfer
		consult.Blindxfer = armed
		held.Blindxfer = armed
		if armed {
			s.Send(sccp.DisplayNotifyMessage{Timeout: 10, Text: "Transfer on answer"})
		} else {
			s.Send(sccp.ClearNotifyMessage{})
		}
	default:
		// Still collecting digits; nothing to bridge yet.
	}
}

// commitTransferLocked splices the two far parties together and drops
// both local bubbles. When the fabric cannot bridge them, both calls
// stay up so nobody is stranded.
func (s *Session) commitTransferLocked(l *device.Line, consult *device.Subchannel) {
	held := l.SubByID(consult.Related)
	if held == nil || held.Leg == nil || consult.Leg == nil {
		s.Send(sccp.DisplayNotifyMessage{Timeout: 10, Text: "Neither side bridgeable"})
		return
	}

	if err := s.opts.Fabric.Masquerade(held.Leg, consult.Leg); err != nil {
		s.log.Warn("transfer failed", "held", held.ID, "consult", consult.ID, "error", err)
		s.Send(sccp.DisplayNotifyMessage{Timeout: 10, Text: "Neither side bridgeable"})
		return
	}
	s.log.Info("transfer committed",
		"line", l.Name,
		"held", held.ID,
		"target", consult.Dialed)

	// Masquerade detached both local legs without hangup signalling;
	// clear the bubbles without signalling either.
	held.Alreadygone = true
	consult.Alreadygone = true
	s.clearSubLocked(l, consult, callctl.CauseNormal)
	s.clearSubLocked(l, held, callctl.CauseNormal)
	l.Hook = device.OnHook
}
