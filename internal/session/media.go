package session

import (
	"net/netip"
	"time"

	"github.com/coppervoice/skinnyd/internal/callctl"
	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/rtp"
	"github.com/coppervoice/skinnyd/internal/sccp"
)

// directMedia reports whether this side can exchange RTP phone to
// phone. NAT forces the partial bridge: the phone's advertised address
// is not reachable.
func directMedia(l *device.Line) bool {
	return l.DirectMedia && !l.NAT
}

// openMediaLocked starts the receive side of a subchannel's media:
// allocate a controller port, apply QoS, pick the codec, then ask the
// phone to open its receiver. The rest of the exchange continues when
// the ACK arrives. Called with s.mu held.
func (s *Session) openMediaLocked(l *device.Line, sub *device.Subchannel) {
	if sub.RTP != nil || s.opts.RTP == nil {
		return
	}
	ep, err := s.opts.RTP.Allocate()
	if err != nil {
		s.log.Error("rtp allocation failed", "line", l.Name, "error", err)
		s.mediaFailedLocked(l, sub)
		return
	}
	if tos := s.opts.General.TOS; tos != 0 {
		if err := ep.SetTOS(tos); err != nil {
			s.log.Warn("tos marking failed", "tos", tos, "error", err)
		}
	}
	ep.SetNAT(l.NAT)
	codec := s.dev.PreferredCodec(l)
	if codec == sccp.CodecNone {
		s.log.Error("no common codec", "line", l.Name)
		ep.Close()
		s.mediaFailedLocked(l, sub)
		return
	}
	ep.SetCodec(codec)
	sub.RTP = ep

	// In the partial bridge our controller port is the address the far
	// side should target; it is known now. Direct media has to wait for
	// the phone's own address from the ACK.
	if sub.Leg != nil && !directMedia(l) {
		sub.Leg.SetMedia(callctl.MediaInfo{Addr: s.advertiseAddr(ep.LocalAddr()), Codec: codec})
	}

	ack := make(chan sccp.OpenReceiveChannelAckMessage, 1)
	s.pendingACK[sub.ID] = ack

	s.Send(sccp.OpenReceiveChannelMessage{
		ConferenceID: sub.ID,
		PartyID:      sub.ID,
		Packets:      codec.FrameMS(),
		Capability:   uint32(codec),
	})
	go s.awaitMediaAck(sub.ID, ack)
}

// advertiseAddr is the media address handed to the far side. An
// allocator bound to the wildcard address yields nothing a phone can
// send to, so the controller address of this connection stands in.
func (s *Session) advertiseAddr(ap netip.AddrPort) netip.AddrPort {
	if a := ap.Addr(); a.IsValid() && !a.IsUnspecified() {
		return ap
	}
	if la := s.localAddr(); la.Addr().IsValid() && !la.Addr().IsUnspecified() {
		return netip.AddrPortFrom(la.Addr(), ap.Port())
	}
	return ap
}

func (s *Session) awaitMediaAck(subID uint32, ack chan sccp.OpenReceiveChannelAckMessage) {
	select {
	case m := <-ack:
		s.post(func() { s.mediaAcked(subID, m) })
	case <-time.After(mediaAckTimeout):
		s.post(func() { s.mediaAckTimeout(subID) })
	case <-s.done:
	}
}

// onMediaAck routes OPEN_RECEIVE_CHANNEL_ACK to the goroutine waiting
// on it.
func (s *Session) onMediaAck(m sccp.OpenReceiveChannelAckMessage) {
	s.mu.Lock()
	ch, ok := s.pendingACK[m.PassThruID]
	if ok {
		delete(s.pendingACK, m.PassThruID)
	}
	s.mu.Unlock()
	if !ok {
		s.log.Debug("unexpected media ack", "passthru", m.PassThruID)
		return
	}
	ch <- m
}

func (s *Session) mediaAcked(subID uint32, m sccp.OpenReceiveChannelAckMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, sub := s.subByRef(subID)
	if sub == nil || sub.RTP == nil {
		return
	}
	if m.Status != 0 {
		s.log.Error("phone refused receive channel", "callid", subID, "status", m.Status)
		s.mediaFailedLocked(l, sub)
		return
	}

	phone := netip.AddrPortFrom(sccp.Addr4(m.IP), uint16(m.Port))
	sub.RTP.SetPeer(phone)
	sub.CxMode = device.CXSendRecv

	if sub.Leg != nil {
		if directMedia(l) {
			sub.Leg.SetMedia(callctl.MediaInfo{Addr: phone, Codec: sub.RTP.Codec()})
		} else {
			rtp.Forward(sub.RTP)
		}
	}
	s.maybeStartTransmissionLocked(l, sub)
}

func (s *Session) mediaAckTimeout(subID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingACK, subID)
	l, sub := s.subByRef(subID)
	if sub == nil {
		return
	}
	s.log.Error("no OPEN_RECEIVE_CHANNEL_ACK", "callid", subID)
	s.mediaFailedLocked(l, sub)
}

// mediaFailedLocked aborts a call whose media could not be set up.
func (s *Session) mediaFailedLocked(l *device.Line, sub *device.Subchannel) {
	s.opts.Telemetry.CallFailed(l.Name)
	if sub.Leg != nil && !sub.Alreadygone {
		sub.Alreadygone = true
		sub.Leg.Hangup(callctl.CauseCongestion)
	}
	s.clearSubLocked(l, sub, callctl.CauseCongestion)
}

// maybeStartTransmissionLocked sends START_MEDIA_TRANSMISSION once both
// the local receive channel is up and the far side has advertised its
// media address. The two prerequisites arrive in either order.
func (s *Session) maybeStartTransmissionLocked(l *device.Line, sub *device.Subchannel) {
	if sub.RTP == nil || sub.CxMode != device.CXSendRecv || s.mediaUp[sub.ID] {
		return
	}
	if sub.Leg == nil {
		return
	}
	pm, ok := sub.Leg.PeerMedia()
	if !ok || !pm.Addr.IsValid() {
		return
	}

	codec := sub.RTP.Codec()
	s.mediaUp[sub.ID] = true
	s.Send(sccp.StartMediaTransmissionMessage{
		ConferenceID: sub.ID,
		PassThruID:   sub.ID,
		RemoteIP:     sccp.Raw4(pm.Addr.Addr()),
		RemotePort:   uint32(pm.Addr.Port()),
		PacketSize:   codec.FrameMS(),
		PayloadType:  uint32(codec),
		Precedence:   127,
		VAD:          0,
		Packets:      0,
		BitRate:      0,
	})
}

// peerMediaChanged fires when the far side advertises or re-advertises
// its media address.
func (s *Session) peerMediaChanged(subID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, sub := s.subByRef(subID)
	if sub == nil {
		return
	}
	s.maybeStartTransmissionLocked(l, sub)
}

// peerRepoint re-runs the media exchange after a masquerade handed this
// leg a new far side.
func (s *Session) peerRepoint(subID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, sub := s.subByRef(subID)
	if sub == nil || sub.RTP == nil || sub.Leg == nil {
		return
	}

	if s.mediaUp[sub.ID] {
		delete(s.mediaUp, sub.ID)
		s.Send(sccp.StopMediaTransmissionMessage{ConferenceID: sub.ID, PassThruID: sub.ID})
	}

	// Re-advertise so the new far side learns where to send.
	if directMedia(l) {
		if peer := sub.RTP.Peer(); peer.IsValid() {
			sub.Leg.SetMedia(callctl.MediaInfo{Addr: peer, Codec: sub.RTP.Codec()})
		}
	} else {
		sub.Leg.SetMedia(callctl.MediaInfo{Addr: s.advertiseAddr(sub.RTP.LocalAddr()), Codec: sub.RTP.Codec()})
	}
	s.sendCallInfo(l, sub)
	s.maybeStartTransmissionLocked(l, sub)
}

// teardownMediaLocked closes a subchannel's media in the fixed order
// the phones expect: receiver first, then the sender, then our port.
func (s *Session) teardownMediaLocked(sub *device.Subchannel) {
	delete(s.pendingACK, sub.ID)
	if sub.RTP == nil {
		return
	}
	s.Send(sccp.CloseReceiveChannelMessage{ConferenceID: sub.ID, PartyID: sub.ID})
	if s.mediaUp[sub.ID] {
		s.Send(sccp.StopMediaTransmissionMessage{ConferenceID: sub.ID, PassThruID: sub.ID})
		delete(s.mediaUp, sub.ID)
	}
	sub.RTP.Close()
	sub.RTP = nil
	sub.CxMode = device.CXInactive
}
