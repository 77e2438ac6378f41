package session

import (
	"context"
	"errors"
	"time"

	"github.com/coppervoice/skinnyd/internal/callctl"
	"github.com/coppervoice/skinnyd/internal/cdr"
	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/sccp"
)

// --- lookup helpers (s.mu held) -----------------------------------------

func (s *Session) lineByInstance(instance uint32) *device.Line {
	if s.dev == nil {
		return nil
	}
	return s.dev.LineByInstance(instance)
}

// subByRef resolves a call reference from the phone. Reference 0 means
// "whatever is active": old firmwares omit it on hook events.
func (s *Session) subByRef(ref uint32) (*device.Line, *device.Subchannel) {
	if s.dev == nil {
		return nil, nil
	}
	for _, l := range s.dev.Lines {
		if ref == 0 {
			if sub := l.ActiveSub(); sub != nil {
				return l, sub
			}
			continue
		}
		if sub := l.SubByID(ref); sub != nil {
			return l, sub
		}
	}
	return nil, nil
}

func (s *Session) ringingSub() (*device.Line, *device.Subchannel) {
	if s.dev == nil {
		return nil, nil
	}
	for _, l := range s.dev.Lines {
		if sub := l.RingingSub(); sub != nil {
			return l, sub
		}
	}
	return nil, nil
}

// --- UI primitives ------------------------------------------------------

func (s *Session) callState(l *device.Line, ref, state uint32) {
	s.Send(sccp.CallStateMessage{State: state, Instance: l.Instance, CallRef: ref})
}

func (s *Session) selectKeys(l *device.Line, ref, set uint32) {
	s.Send(sccp.SelectSoftKeysMessage{Instance: l.Instance, CallRef: ref, KeySet: set, ValidKey: allKeysValid})
}

func (s *Session) prompt(l *device.Line, ref uint32, text string) {
	s.Send(sccp.DisplayPromptStatusMessage{Prompt: text, Instance: l.Instance, CallRef: ref})
}

func (s *Session) lamp(l *device.Line, mode uint32) {
	s.Send(sccp.SetLampMessage{Stimulus: sccp.StimulusLine, Instance: l.Instance, Mode: mode})
}

func (s *Session) sendCallInfo(l *device.Line, sub *device.Subchannel) {
	info := sccp.CallInfoMessage{Instance: l.Instance, CallRef: sub.ID}
	if sub.Outgoing {
		info.CallType = 2
		info.CallingName = l.CidName
		info.CallingNum = l.CidNum
		info.CalledName = sub.PeerName
		info.CalledNum = sub.Dialed
	} else {
		info.CallType = 1
		info.CallingName = sub.PeerName
		info.CallingNum = sub.PeerNum
		info.CalledName = l.CidName
		info.CalledNum = l.CidNum
	}
	s.Send(info)
}

// --- hook events --------------------------------------------------------

func (s *Session) onOffhook(instance uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Lifting the handset answers a ringing call anywhere on the device.
	if l, sub := s.ringingSub(); sub != nil {
		s.answerLocked(l, sub)
		return
	}

	l := s.lineByInstance(instance)
	if l == nil {
		return
	}
	l.Hook = device.OffHook
	if l.ActiveSub() != nil {
		return
	}
	s.startOutgoingLocked(l, modeDial)
}

func (s *Session) onOnhook(instance, ref uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, sub := s.subByRef(ref)
	if sub == nil {
		if l = s.lineByInstance(instance); l != nil {
			l.Hook = device.OnHook
		}
		s.Send(sccp.SetSpeakerMessage{Mode: sccp.SpeakerOff})
		return
	}
	l.Hook = device.OnHook
	s.clearSubLocked(l, sub, callctl.CauseNormal)
}

func (s *Session) onKeypad(m sccp.KeypadButtonMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, sub := s.subByRef(m.CallRef)
	if sub == nil {
		return
	}
	if c, ok := s.collectors[sub.ID]; ok {
		c.push(m.Digit())
	}
}

// onEnbloc handles a pre-collected dial string: the collector is
// bypassed and the number routed as-is.
func (s *Session) onEnbloc(number string) {
	if number == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, sub := s.subByRef(0)
	if sub != nil {
		if c, ok := s.collectors[sub.ID]; ok {
			c.stop()
			delete(s.collectors, sub.ID)
		}
	} else {
		if s.dev == nil || len(s.dev.Lines) == 0 {
			return
		}
		l = s.dev.Lines[0]
		sub = s.newOutgoingSubLocked(l)
		if sub == nil {
			return
		}
		s.offhookUI(l, sub)
	}
	s.placeCallLocked(l, sub, number)
}

// --- stimulus and softkey dispatch --------------------------------------

func (s *Session) onStimulus(m sccp.StimulusMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m.Stimulus {
	case sccp.StimulusLine:
		s.lineKeyLocked(m.Instance)
	case sccp.StimulusSpeedDial:
		if s.dev == nil {
			return
		}
		if sd := s.dev.SpeeddialByInstance(m.Instance, false); sd != nil {
			s.dialTargetLocked(sd.Exten, sd.Context)
		}
	case sccp.StimulusVoicemail:
		if vm := s.opts.General.VMExten; vm != "" {
			s.dialTargetLocked(vm, "")
		}
	case sccp.StimulusHold:
		if l, sub := s.subByRef(m.CallRef); sub != nil {
			s.holdSubLocked(l, sub)
		} else if l, held := s.heldSubLocked(); held != nil {
			s.resumeSubLocked(l, held)
		}
	case sccp.StimulusTransfer:
		s.transferKeyLocked(m.CallRef)
	case sccp.StimulusRedial:
		s.redialLocked()
	case sccp.StimulusForwardAll:
		s.cfwdKeyLocked(m.CallRef, modeCfwdAll)
	case sccp.StimulusDND:
		s.toggleDNDLocked()
	default:
		s.log.Debug("unhandled stimulus", "stimulus", m.Stimulus, "instance", m.Instance)
	}
}

func (s *Session) onSoftKey(m sccp.SoftKeyEventMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m.Event {
	case sccp.SoftKeyRedial:
		s.redialLocked()
	case sccp.SoftKeyNewCall:
		if l := s.lineByInstance(m.Instance); l != nil && l.ActiveSub() == nil {
			s.startOutgoingLocked(l, modeDial)
		}
	case sccp.SoftKeyHold:
		if l, sub := s.subByRef(m.CallRef); sub != nil {
			s.holdSubLocked(l, sub)
		}
	case sccp.SoftKeyResume:
		if l, held := s.heldSubLocked(); held != nil {
			s.resumeSubLocked(l, held)
		}
	case sccp.SoftKeyAnswer:
		if l, sub := s.ringingSub(); sub != nil {
			s.answerLocked(l, sub)
		}
	case sccp.SoftKeyEndCall:
		if l, sub := s.subByRef(m.CallRef); sub != nil {
			s.clearSubLocked(l, sub, callctl.CauseNormal)
		}
	case sccp.SoftKeyTransfer:
		s.transferKeyLocked(m.CallRef)
	case sccp.SoftKeyCfwdAll:
		s.cfwdKeyLocked(m.CallRef, modeCfwdAll)
	case sccp.SoftKeyCfwdBusy:
		s.cfwdKeyLocked(m.CallRef, modeCfwdBusy)
	case sccp.SoftKeyCfwdNoAn:
		s.cfwdKeyLocked(m.CallRef, modeCfwdNoAn)
	case sccp.SoftKeyDND:
		s.toggleDNDLocked()
	case sccp.SoftKeyBkspc:
		if _, sub := s.subByRef(m.CallRef); sub != nil {
			if c, ok := s.collectors[sub.ID]; ok {
				c.push(backspaceKey)
			}
		}
	default:
		s.log.Debug("unhandled softkey", "event", m.Event)
	}
}

// lineKeyLocked implements the line-button priorities: answer a ringing
// call, resume a held one, otherwise open a fresh call on that line.
func (s *Session) lineKeyLocked(instance uint32) {
	l := s.lineByInstance(instance)
	if l == nil {
		return
	}
	if sub := l.RingingSub(); sub != nil {
		s.answerLocked(l, sub)
		return
	}
	for _, sub := range l.Subs {
		if sub.Onhold {
			s.resumeSubLocked(l, sub)
			return
		}
	}
	if l.ActiveSub() == nil {
		s.startOutgoingLocked(l, modeDial)
	}
}

func (s *Session) heldSubLocked() (*device.Line, *device.Subchannel) {
	if s.dev == nil {
		return nil, nil
	}
	for _, l := range s.dev.Lines {
		for _, sub := range l.Subs {
			if sub.Onhold {
				return l, sub
			}
		}
	}
	return nil, nil
}

// --- outbound call setup ------------------------------------------------

func (s *Session) newOutgoingSubLocked(l *device.Line) *device.Subchannel {
	sub, err := l.NewSub(s.opts.Registry.NextCallID(), true)
	if err != nil {
		s.log.Warn("no free subchannel", "line", l.Name)
		return nil
	}
	sub.Start = time.Now()
	sub.HidCID = l.HideCID
	// Outbound audio before the answer is ringback and early media only.
	sub.CxMode = device.CXRecvOnly
	return sub
}

// offhookUI plays the dial-ready burst for a new outbound bubble.
func (s *Session) offhookUI(l *device.Line, sub *device.Subchannel) {
	l.Hook = device.OffHook
	s.Send(sccp.SetRingerMessage{Mode: sccp.RingOff})
	s.Send(sccp.SetSpeakerMessage{Mode: sccp.SpeakerOn})
	s.lamp(l, sccp.LampOn)
	s.callState(l, sub.ID, sccp.CallStateOffhook)
	s.prompt(l, sub.ID, "Enter number")
	s.selectKeys(l, sub.ID, sccp.KeySetOffHook)
	s.Send(sccp.ActivateCallPlaneMessage{Instance: l.Instance})
	s.Send(sccp.StartToneMessage{Tone: sccp.ToneDial})
}

func (s *Session) startOutgoingLocked(l *device.Line, mode collectMode) *device.Subchannel {
	sub := s.newOutgoingSubLocked(l)
	if sub == nil {
		return nil
	}
	s.offhookUI(l, sub)
	s.startCollector(l, sub, mode)
	s.publishLineState(l)
	return sub
}

// dialTargetLocked dials a known number on the first line with a free
// subchannel: speeddials, voicemail and last-call-return come through
// here.
func (s *Session) dialTargetLocked(number, context string) {
	if s.dev == nil {
		return
	}
	for _, l := range s.dev.Lines {
		if l.ActiveSub() != nil || len(l.Subs) >= device.MaxSubs {
			continue
		}
		sub := s.newOutgoingSubLocked(l)
		if sub == nil {
			return
		}
		s.offhookUI(l, sub)
		s.Send(sccp.StopToneMessage{})
		s.placeCallContextLocked(l, sub, number, context)
		return
	}
}

func (s *Session) redialLocked() {
	if s.dev == nil {
		return
	}
	for _, l := range s.dev.Lines {
		if last := s.lastDialed[l.Name]; last != "" {
			if l.ActiveSub() == nil && len(l.Subs) < device.MaxSubs {
				sub := s.newOutgoingSubLocked(l)
				if sub == nil {
					return
				}
				s.offhookUI(l, sub)
				s.Send(sccp.StopToneMessage{})
				s.placeCallLocked(l, sub, last)
			}
			return
		}
	}
}

func (s *Session) placeCallLocked(l *device.Line, sub *device.Subchannel, number string) {
	s.placeCallContextLocked(l, sub, number, "")
}

// placeCallContextLocked routes a collected number through the fabric.
// Called with s.mu held; the far handler posts to its own session, so
// holding our lock across Originate is safe.
func (s *Session) placeCallContextLocked(l *device.Line, sub *device.Subchannel, number, context string) {
	if context == "" {
		context = l.Context
	}
	sub.Dialed = number
	s.lastDialed[l.Name] = number

	s.Send(sccp.StopToneMessage{})
	s.Send(sccp.DialedNumberMessage{Number: number, Instance: l.Instance, CallRef: sub.ID})
	s.sendCallInfo(l, sub)
	s.callState(l, sub.ID, sccp.CallStateProceed)
	s.selectKeys(l, sub.ID, sccp.KeySetRingOut)

	req := callctl.Request{
		Context: context,
		Exten:   number,
		Caller: callctl.CallerID{
			Name:   l.CidName,
			Num:    l.CidNum,
			Hidden: sub.HidCID,
		},
		Codecs: s.dev.CodecMask(l),
	}
	leg, err := s.opts.Fabric.Originate(req, s.legEvents(sub.ID))
	if err != nil {
		s.originateFailed(l, sub, err)
		return
	}
	sub.Leg = leg
	s.opts.Telemetry.CallPlaced(l.Name)
	s.publishLineState(l)

	if s.dev.EarlyRTP {
		s.openMediaLocked(l, sub)
	}
}

func (s *Session) originateFailed(l *device.Line, sub *device.Subchannel, err error) {
	s.opts.Telemetry.CallFailed(l.Name)
	sub.Alreadygone = true

	tone := sccp.ToneReorder
	state := sccp.CallStateCongestion
	text := "Congestion"
	switch {
	case errors.Is(err, callctl.ErrBusy):
		tone = sccp.ToneBusy
		state = sccp.CallStateBusy
		text = "Busy"
	case errors.Is(err, callctl.ErrNoRoute):
		state = sccp.CallStateInvalidNumber
		text = "Invalid number"
	}
	s.log.Info("originate failed", "line", l.Name, "number", sub.Dialed, "error", err)
	s.callState(l, sub.ID, state)
	s.prompt(l, sub.ID, text)
	s.Send(sccp.StartToneMessage{Tone: tone})
}

// --- answer and connect -------------------------------------------------

func (s *Session) answerLocked(l *device.Line, sub *device.Subchannel) {
	// Answering with another call up parks the old one first (call
	// waiting pickup).
	if active := l.ActiveSub(); active != nil && active != sub {
		s.parkForWaitingLocked(l, active)
	}

	sub.Ringing = false
	sub.Answered = time.Now()
	l.Hook = device.OffHook

	s.Send(sccp.SetRingerMessage{Mode: sccp.RingOff})
	s.Send(sccp.SetSpeakerMessage{Mode: sccp.SpeakerOn})
	s.Send(sccp.StopToneMessage{})
	s.lamp(l, sccp.LampOn)

	if sub.Leg != nil {
		sub.Leg.Answer()
	}
	s.connectUI(l, sub)
	s.openMediaLocked(l, sub)
	s.publishLineState(l)
}

// connectUI plays the connected burst. CALL_INFO precedes CALL_STATE so
// the bubble is labelled before it changes state; media setup follows.
func (s *Session) connectUI(l *device.Line, sub *device.Subchannel) {
	s.sendCallInfo(l, sub)
	s.callState(l, sub.ID, sccp.CallStateConnected)
	s.selectKeys(l, sub.ID, sccp.KeySetConnected)
	s.Send(sccp.ActivateCallPlaneMessage{Instance: l.Instance})
}

// ringUI alerts the phone about an inbound call. With another call up
// the alert is the call-waiting beep instead of the ringer.
func (s *Session) ringUI(l *device.Line, sub *device.Subchannel, waiting bool) {
	s.sendCallInfo(l, sub)
	if waiting {
		s.callState(l, sub.ID, sccp.CallStateCallWait)
		s.Send(sccp.StartToneMessage{Tone: sccp.ToneCallWait})
	} else {
		s.Send(sccp.SetRingerMessage{Mode: sccp.RingInside})
		s.callState(l, sub.ID, sccp.CallStateRingIn)
	}
	s.lamp(l, sccp.LampBlink)
	from := sub.PeerNum
	if sub.PeerName != "" {
		from = sub.PeerName
	}
	s.prompt(l, sub.ID, "From "+from)
	s.selectKeys(l, sub.ID, sccp.KeySetRingIn)
}

// --- hold / resume ------------------------------------------------------

func (s *Session) holdSubLocked(l *device.Line, sub *device.Subchannel) {
	if sub.Onhold {
		return
	}
	sub.Onhold = true
	sub.CxMode = device.CXInactive
	s.teardownMediaLocked(sub)
	if sub.Leg != nil {
		sub.Leg.Hold()
	}
	s.callState(l, sub.ID, sccp.CallStateHold)
	s.selectKeys(l, sub.ID, sccp.KeySetOnHold)
	s.publishLineState(l)
}

// parkForWaitingLocked sidelines the active call while a waiting one is
// answered. Unlike a full hold, the receive channel stays open at
// recvonly so switching back is a transmission restart, not a fresh
// media negotiation.
func (s *Session) parkForWaitingLocked(l *device.Line, sub *device.Subchannel) {
	if sub.Onhold {
		return
	}
	sub.Onhold = true
	sub.CxMode = device.CXRecvOnly
	if s.mediaUp[sub.ID] {
		s.Send(sccp.StopMediaTransmissionMessage{ConferenceID: sub.ID, PassThruID: sub.ID})
		delete(s.mediaUp, sub.ID)
	}
	if sub.Leg != nil {
		sub.Leg.Hold()
	}
	s.callState(l, sub.ID, sccp.CallStateHold)
	s.selectKeys(l, sub.ID, sccp.KeySetOnHold)
	s.publishLineState(l)
}

func (s *Session) resumeSubLocked(l *device.Line, sub *device.Subchannel) {
	if active := l.ActiveSub(); active != nil && active != sub {
		s.holdSubLocked(l, active)
	}
	sub.Onhold = false
	if sub.Leg != nil {
		sub.Leg.Unhold()
	}
	s.connectUI(l, sub)
	if sub.RTP != nil {
		// The receiver survived a call-waiting park; resume only has to
		// restart sending.
		sub.CxMode = device.CXSendRecv
		s.maybeStartTransmissionLocked(l, sub)
	} else {
		s.openMediaLocked(l, sub)
	}
	s.publishLineState(l)
}

// --- far-side events ----------------------------------------------------

// legEvents builds the callbacks installed on a leg. Each one posts to
// the job queue; nothing here runs on the far session's goroutine beyond
// the enqueue.
func (s *Session) legEvents(subID uint32) callctl.Events {
	return callctl.Events{
		OnRinging:  func() { s.post(func() { s.peerRinging(subID) }) },
		OnAnswered: func() { s.post(func() { s.peerAnswered(subID) }) },
		OnHangup:   func(c callctl.Cause) { s.post(func() { s.peerHangup(subID, c) }) },
		OnHold:     func(held bool) { s.post(func() { s.peerHold(subID, held) }) },
		OnMedia:    func(callctl.MediaInfo) { s.post(func() { s.peerMediaChanged(subID) }) },
		OnRepoint:  func() { s.post(func() { s.peerRepoint(subID) }) },
	}
}

func (s *Session) peerRinging(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, sub := s.subByRef(id)
	if sub == nil || !sub.Outgoing {
		return
	}
	sub.Progress = true

	// A pending blind transfer completes on ringback of the target.
	if sub.Blindxfer {
		s.commitTransferLocked(l, sub)
		return
	}
	s.callState(l, sub.ID, sccp.CallStateRingOut)
	s.prompt(l, sub.ID, "Ring Out")
}

func (s *Session) peerAnswered(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, sub := s.subByRef(id)
	if sub == nil {
		return
	}
	sub.Progress = false
	sub.Answered = time.Now()

	// The usual commit point for a blind transfer is the target's
	// ringback; a transfer still armed here answered without one.
	if sub.Blindxfer {
		s.commitTransferLocked(l, sub)
		return
	}

	s.Send(sccp.StopToneMessage{})
	s.connectUI(l, sub)
	s.openMediaLocked(l, sub)
	s.publishLineState(l)
}

func (s *Session) peerHangup(id uint32, cause callctl.Cause) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, sub := s.subByRef(id)
	if sub == nil {
		return
	}
	sub.Alreadygone = true

	if sub.Answered.IsZero() && sub.Outgoing && cause != callctl.CauseNormal {
		// Failed setup: hold the bubble with the failure tone until the
		// user hangs up.
		s.opts.Telemetry.CallFailed(l.Name)
		s.teardownMediaLocked(sub)
		tone := sccp.ToneReorder
		state := sccp.CallStateCongestion
		if cause == callctl.CauseBusy {
			tone = sccp.ToneBusy
			state = sccp.CallStateBusy
		}
		s.callState(l, sub.ID, state)
		s.prompt(l, sub.ID, cause.String())
		s.Send(sccp.StartToneMessage{Tone: tone})
		return
	}
	s.clearSubLocked(l, sub, cause)
}

func (s *Session) peerHold(id uint32, held bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, sub := s.subByRef(id)
	if sub == nil {
		return
	}
	if held {
		s.prompt(l, sub.ID, "On Hold")
	} else {
		s.Send(sccp.ClearPromptStatusMessage{Instance: l.Instance, CallRef: sub.ID})
	}
}

// --- teardown -----------------------------------------------------------

// clearSubLocked ends one call bubble: media, leg, collector, CDR, UI.
func (s *Session) clearSubLocked(l *device.Line, sub *device.Subchannel, cause callctl.Cause) {
	if c, ok := s.collectors[sub.ID]; ok {
		c.stop()
		delete(s.collectors, sub.ID)
	}
	s.teardownMediaLocked(sub)

	if sub.Leg != nil && !sub.Alreadygone {
		leg := sub.Leg
		sub.Alreadygone = true
		// Hangup fires the far OnHangup synchronously; it only enqueues
		// on the far session, so calling it under our lock is fine.
		leg.Hangup(cause)
	}

	end := time.Now()
	s.writeCDR(s.dev, sub, cause, end)
	if !sub.Answered.IsZero() {
		s.opts.Telemetry.CallDuration(l.Name, end.Sub(sub.Answered))
	}

	l.RemoveSub(sub.ID)

	s.Send(sccp.StopToneMessage{})
	s.Send(sccp.ClearPromptStatusMessage{Instance: l.Instance, CallRef: sub.ID})
	s.callState(l, sub.ID, sccp.CallStateOnhook)
	if len(l.Subs) == 0 {
		s.lamp(l, sccp.LampOff)
		s.selectKeys(l, sub.ID, sccp.KeySetOnHook)
		s.Send(sccp.SetSpeakerMessage{Mode: sccp.SpeakerOff})
		s.Send(sccp.SetRingerMessage{Mode: sccp.RingOff})
	}
	s.publishLineState(l)
}

// writeCDR records the finished call. The store is nil-safe and the
// write happens off the session goroutines.
func (s *Session) writeCDR(d *device.Device, sub *device.Subchannel, cause callctl.Cause, end time.Time) {
	if s.opts.CDR == nil || d == nil || sub.Start.IsZero() {
		return
	}
	rec := cdr.Record{
		CallID:   sub.ID,
		Device:   d.ID,
		Line:     sub.Line.Name,
		PeerName: sub.PeerName,
		PeerNum:  sub.PeerNum,
		Dialed:   sub.Dialed,
		Start:    sub.Start,
		Answer:   sub.Answered,
		End:      end,
	}
	if sub.Outgoing {
		rec.Direction = cdr.DirectionOutbound
	} else {
		rec.Direction = cdr.DirectionInbound
	}
	if sub.RTP != nil {
		rec.Codec = sub.RTP.Codec().Name()
	}
	switch {
	case !sub.Answered.IsZero():
		rec.Disposition = cdr.DispositionAnswered
	case cause == callctl.CauseBusy:
		rec.Disposition = cdr.DispositionBusy
	case cause == callctl.CauseCongestion, cause == callctl.CauseRejected:
		rec.Disposition = cdr.DispositionFailed
	default:
		rec.Disposition = cdr.DispositionNoAnswer
	}
	store := s.opts.CDR
	go func() {
		if err := store.Write(context.Background(), rec); err != nil {
			s.log.Error("cdr write failed", "callid", rec.CallID, "error", err)
		}
	}()
}

// --- features -----------------------------------------------------------

func (s *Session) toggleDNDLocked() {
	if s.dev == nil {
		return
	}
	s.setDNDLocked(!s.dev.DND)
}

func (s *Session) setDNDLocked(on bool) {
	d := s.dev
	if d == nil || d.DND == on {
		return
	}
	d.DND = on
	text := "Do Not Disturb off"
	mode := sccp.LampOff
	if on {
		text = "Do Not Disturb on"
		mode = sccp.LampOn
	}
	s.Send(sccp.SetLampMessage{Stimulus: sccp.StimulusDND, Instance: 0, Mode: mode})
	s.Send(sccp.DisplayNotifyMessage{Timeout: 10, Text: text})
	s.log.Info("dnd changed", "enabled", on)
	for _, l := range d.Lines {
		s.publishLineState(l)
	}
}

// cfwdKeyLocked toggles one call-forward flavor: an active forward is
// cancelled outright, otherwise a collector gathers the target.
func (s *Session) cfwdKeyLocked(ref uint32, mode collectMode) {
	if s.dev == nil {
		return
	}
	l, sub := s.subByRef(ref)
	if l == nil {
		if len(s.dev.Lines) == 0 {
			return
		}
		l = s.dev.Lines[0]
	}
	if *cfwdTarget(l, mode) != "" {
		s.setCfwdLocked(l, mode, "")
		if sub != nil {
			s.clearSubLocked(l, sub, callctl.CauseNormal)
		}
		return
	}
	if sub == nil {
		sub = s.startOutgoingLocked(l, mode)
		if sub != nil {
			s.prompt(l, sub.ID, "Forward to")
		}
		return
	}
	// Already offhook: repoint the running collector at forward setup.
	if c, ok := s.collectors[sub.ID]; ok {
		c.setMode(mode)
		s.prompt(l, sub.ID, "Forward to")
	}
}

// cfwdTarget maps a forward collect mode onto the line's CFWD slot.
func cfwdTarget(l *device.Line, mode collectMode) *string {
	switch mode {
	case modeCfwdBusy:
		return &l.CFwd.Busy
	case modeCfwdNoAn:
		return &l.CFwd.NoAnswer
	default:
		return &l.CFwd.All
	}
}

func cfwdKindName(mode collectMode) string {
	switch mode {
	case modeCfwdBusy:
		return "busy"
	case modeCfwdNoAn:
		return "noanswer"
	default:
		return "all"
	}
}

func (s *Session) setCfwdLocked(l *device.Line, mode collectMode, target string) {
	*cfwdTarget(l, mode) = target
	s.Send(forwardStat(l))
	if target == "" {
		s.Send(sccp.DisplayNotifyMessage{Timeout: 10, Text: "Forward cancelled"})
	} else {
		s.Send(sccp.DisplayNotifyMessage{Timeout: 10, Text: "Forwarded to " + target})
	}
	s.log.Info("cfwd changed", "line", l.Name, "kind", cfwdKindName(mode), "target", target)
}

// lastCallReturn redials the most recent caller on a line (*69).
func (s *Session) lastCallReturn(lineName string, subID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collectors, subID)
	l, sub := s.subByRef(subID)
	if sub == nil {
		return
	}
	last := s.lastCaller[lineName]
	if last == "" {
		s.reorderLocked(l, sub)
		return
	}
	s.placeCallLocked(l, sub, last)
}

func (s *Session) reorderLocked(l *device.Line, sub *device.Subchannel) {
	s.callState(l, sub.ID, sccp.CallStateInvalidNumber)
	s.prompt(l, sub.ID, "Invalid number")
	s.Send(sccp.StartToneMessage{Tone: sccp.ToneReorder})
}
