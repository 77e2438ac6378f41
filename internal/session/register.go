package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/coppervoice/skinnyd/internal/callctl"
	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/sccp"
)

// handleRegister runs the acceptance path: device lookup, source ACL,
// line binding, then REGISTER_ACK and the capabilities request. Any
// refusal sends REGISTER_REJ with a display-ready reason and drops the
// connection.
func (s *Session) handleRegister(m sccp.RegisterMessage) (bool, string) {
	s.mu.Lock()
	if s.dev != nil {
		s.mu.Unlock()
		s.log.Warn("duplicate REGISTER", "device", m.Name)
		return true, "transport_error"
	}

	d, err := s.opts.Registry.DeviceByID(m.Name)
	if err != nil {
		s.mu.Unlock()
		s.reject(fmt.Sprintf("Unknown device: %s", m.Name))
		return true, "transport_error"
	}

	if addr := s.RemoteAddr(); addr.IsValid() && !d.ACL.Allows(addr.Addr()) {
		s.mu.Unlock()
		s.log.Warn("registration denied by acl", "device", m.Name, "addr", addr.String())
		s.reject(fmt.Sprintf("No Authority: %s", m.Name))
		return true, "transport_error"
	}

	if d.Session != nil && d.Session != s {
		// A replacement registration wins; the stale session is torn down.
		old := d.Session
		s.mu.Unlock()
		old.Close()
		s.mu.Lock()
	}

	d.Session = s
	d.State = device.Bound
	d.TypeCode = m.DeviceType
	d.MaxStreams = m.MaxStreams
	s.dev = d
	s.log = s.log.With("device", d.ID)

	for _, l := range d.Lines {
		l.Hook = device.OnHook
		s.bindLine(l)
		s.opts.Events.LineState(d.ID, l.Name, string(sccp.StateNotInUse))
	}
	keepAlive := uint32(s.opts.General.KeepAlive / time.Second)
	dateFmt := s.opts.General.DateFormat
	s.mu.Unlock()

	s.log.Info("device registering",
		"model", sccp.DeviceTypeName(m.DeviceType),
		"lines", len(d.Lines))

	if err := s.Send(sccp.RegisterAckMessage{
		KeepAlive:          keepAlive,
		DateTemplate:       dateFmt,
		SecondaryKeepAlive: keepAlive,
	}); err != nil {
		return true, "transport_error"
	}
	if err := s.Send(sccp.CapabilitiesReqMessage{}); err != nil {
		return true, "transport_error"
	}
	return false, ""
}

// bindLine exposes a line's dialable identities on the fabric. Called
// with s.mu held.
func (s *Session) bindLine(l *device.Line) {
	h := s.incomingHandler(l)
	s.opts.Fabric.Bind(l.Context, l.Name, h)
	if l.CidNum != "" && l.CidNum != l.Name {
		s.opts.Fabric.Bind(l.Context, l.CidNum, h)
	}
}

func (s *Session) reject(reason string) {
	s.Send(sccp.RegisterRejMessage{Reason: reason})
}

// handleCapabilitiesRes completes registration: the advertised codec set
// is recorded and the device moves to Registered.
func (s *Session) handleCapabilitiesRes(m sccp.CapabilitiesResMessage) {
	s.mu.Lock()
	d := s.dev
	if d == nil {
		s.mu.Unlock()
		return
	}

	var mask sccp.CodecMask
	for _, c := range m.Caps {
		if c.Codec.IsAudio() {
			mask = mask.With(c.Codec)
		}
	}
	d.Caps = mask
	first := d.State != device.Registered
	d.State = device.Registered
	s.mu.Unlock()

	if first {
		s.log.Info("device registered",
			"model", sccp.DeviceTypeName(d.TypeCode),
			"codecs", mask.String())
		s.opts.Telemetry.Registration(d.ID, sccp.DeviceTypeName(d.TypeCode))
	}
}

// incomingHandler answers fabric originates targeting one line. It runs
// on the calling session's goroutine and must return quickly: it takes
// the session lock, sets up the ring state and posts the UI work.
func (s *Session) incomingHandler(l *device.Line) callctl.Handler {
	return func(incoming callctl.Leg) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.closed || s.dev == nil {
			return callctl.ErrBusy
		}
		if l.DND || s.dev.DND {
			return callctl.ErrBusy
		}
		if fwd := l.CFwd.All; fwd != "" {
			return &callctl.ForwardError{Context: l.Context, Exten: fwd}
		}

		active := l.ActiveSub()
		if active != nil {
			callWaiting := l.CallWaiting && s.dev.CallWaiting && !active.NoCallWait
			if !callWaiting {
				if fwd := l.CFwd.Busy; fwd != "" {
					return &callctl.ForwardError{Context: l.Context, Exten: fwd}
				}
				return callctl.ErrBusy
			}
		}

		sub, err := l.NewSub(s.opts.Registry.NextCallID(), false)
		if err != nil {
			if errors.Is(err, device.ErrSubLimit) {
				return callctl.ErrBusy
			}
			return err
		}
		sub.Leg = incoming
		sub.Ringing = true
		sub.Start = time.Now()

		caller := incoming.Request().Caller
		if !caller.Hidden {
			sub.PeerName = caller.Name
			sub.PeerNum = caller.Num
		}
		if caller.Num != "" {
			s.lastCaller[l.Name] = caller.Num
		}

		incoming.SetEvents(s.legEvents(sub.ID))
		incoming.Ring()
		if fwd := l.CFwd.NoAnswer; fwd != "" {
			s.armNoAnswer(sub.ID, fwd)
		}

		s.opts.Telemetry.CallReceived(l.Name)
		s.ringUI(l, sub, active != nil)
		s.publishLineState(l)
		return nil
	}
}

// armNoAnswer diverts a still-ringing inbound call to the line's
// no-answer forward target once the ring timeout expires.
func (s *Session) armNoAnswer(subID uint32, target string) {
	wait := s.opts.General.RingTimeout
	if wait <= 0 {
		return
	}
	t := time.NewTimer(wait)
	go func() {
		defer t.Stop()
		select {
		case <-t.C:
			s.post(func() { s.forwardNoAnswer(subID, target) })
		case <-s.done:
		}
	}()
}

// forwardNoAnswer re-originates toward the forward target and splices
// the waiting caller onto it, then retires the unanswered bubble.
func (s *Session) forwardNoAnswer(subID uint32, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, sub := s.subByRef(subID)
	if sub == nil || !sub.Ringing || sub.Leg == nil {
		return
	}

	req := sub.Leg.Request()
	req.Context = l.Context
	req.Exten = target
	fwdLeg, err := s.opts.Fabric.Originate(req, callctl.Events{})
	if err != nil {
		s.log.Warn("no-answer forward failed", "line", l.Name, "target", target, "error", err)
		return
	}
	if err := s.opts.Fabric.Masquerade(sub.Leg, fwdLeg); err != nil {
		s.log.Warn("no-answer forward failed", "line", l.Name, "target", target, "error", err)
		fwdLeg.Hangup(callctl.CauseNormal)
		return
	}
	s.log.Info("no-answer forward", "line", l.Name, "target", target)
	sub.Alreadygone = true
	s.clearSubLocked(l, sub, callctl.CauseNoAnswer)
}
