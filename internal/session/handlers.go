package session

import (
	"time"

	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/sccp"
)

// handleMessage dispatches one inbound message. The bool result asks the
// read loop to stop, with the session-closure reason alongside.
func (s *Session) handleMessage(m sccp.Message) (bool, string) {
	s.mu.Lock()
	registered := s.dev != nil
	s.mu.Unlock()

	if !registered {
		// Before REGISTER only the register itself and alarms are legal.
		switch m := m.(type) {
		case sccp.RegisterMessage:
			return s.handleRegister(m)
		case sccp.AlarmMessage:
			s.logAlarm(m)
			return false, ""
		default:
			s.log.Warn("message before REGISTER", "type", m.TypeID())
			return true, "transport_error"
		}
	}

	switch m := m.(type) {
	case sccp.KeepAliveMessage:
		s.Send(sccp.KeepAliveAckMessage{})

	case sccp.RegisterMessage:
		return s.handleRegister(m)
	case sccp.CapabilitiesResMessage:
		s.handleCapabilitiesRes(m)
	case sccp.AlarmMessage:
		s.logAlarm(m)

	case sccp.ButtonTemplateReqMessage:
		s.sendButtonTemplate()
	case sccp.SoftKeyTemplateReqMessage:
		s.Send(sccp.SoftKeyTemplateResMessage{Keys: sccp.DefaultSoftKeyTemplate()})
	case sccp.SoftKeySetReqMessage:
		s.Send(sccp.SoftKeySetResMessage{Sets: sccp.DefaultKeySets()})
		s.Send(sccp.SelectSoftKeysMessage{KeySet: sccp.KeySetOnHook, ValidKey: allKeysValid})

	case sccp.VersionReqMessage:
		s.Send(sccp.VersionResMessage{Version: s.opts.General.Version})
	case sccp.ServerReqMessage:
		s.sendServerRes()
	case sccp.TimeDateReqMessage:
		s.sendTimeDate()
	case sccp.ConfigStatReqMessage:
		s.sendConfigStat()
	case sccp.ForwardStatReqMessage:
		s.sendForwardStat(m.LineNumber)
	case sccp.SpeedDialStatReqMessage:
		s.sendSpeedDialStat(m.Number)
	case sccp.LineStateReqMessage:
		s.sendLineStat(m.LineNumber)

	case sccp.IPPortMessage:
		s.mu.Lock()
		if s.dev != nil {
			s.dev.RTPPort = m.Port
		}
		s.mu.Unlock()
	case sccp.HeadsetStatusMessage:
		s.log.Debug("headset status", "mode", m.Mode)
	case sccp.RegisterAvailableLinesMessage:
		s.log.Debug("available lines", "count", m.Count)

	case sccp.OffhookMessage:
		s.onOffhook(m.Instance)
	case sccp.OnhookMessage:
		s.onOnhook(m.Instance, m.CallRef)
	case sccp.KeypadButtonMessage:
		s.onKeypad(m)
	case sccp.EnblocCallMessage:
		s.onEnbloc(m.CalledParty)
	case sccp.StimulusMessage:
		s.onStimulus(m)
	case sccp.SoftKeyEventMessage:
		s.onSoftKey(m)
	case sccp.OpenReceiveChannelAckMessage:
		s.onMediaAck(m)

	case sccp.UnregisterMessage:
		s.Send(sccp.UnregisterAckMessage{Status: 0})
		return true, "unregister"

	case sccp.UnknownMessage:
		s.log.Debug("ignoring unknown message", "type", m.Type, "bytes", len(m.Raw))

	default:
		s.log.Debug("unhandled message", "type", m.TypeID())
	}
	return false, ""
}

// allKeysValid enables every key in a SELECT_SOFT_KEYS reply.
const allKeysValid uint32 = 0xFFFFFFFF

func (s *Session) logAlarm(m sccp.AlarmMessage) {
	s.log.Warn("phone alarm",
		"severity", m.Severity,
		"display", m.Display,
		"param1", m.Param1,
		"param2", m.Param2)
}

func (s *Session) sendButtonTemplate() {
	s.mu.Lock()
	d := s.dev
	var buttons []sccp.ButtonDefinition
	if d != nil {
		buttons = device.Layout(d)
	}
	s.mu.Unlock()
	s.Send(sccp.ButtonTemplateResMessage{Buttons: buttons})
}

func (s *Session) sendServerRes() {
	name := s.opts.General.ServerName
	local := s.localAddr()
	if name == "" && local.IsValid() {
		name = local.Addr().String()
	}
	var ip [4]byte
	if local.IsValid() {
		ip = sccp.Raw4(local.Addr())
	}
	s.Send(sccp.ServerResMessage{Servers: []sccp.Server{{
		Name: name,
		Port: uint32(s.opts.General.BindPort),
		IP:   ip,
	}}})
}

func (s *Session) sendTimeDate() {
	now := time.Now()
	s.Send(sccp.DefineTimeDateMessage{
		Year:         uint32(now.Year()),
		Month:        uint32(now.Month()),
		DayOfWeek:    uint32(now.Weekday()),
		Day:          uint32(now.Day()),
		Hour:         uint32(now.Hour()),
		Minute:       uint32(now.Minute()),
		Seconds:      uint32(now.Second()),
		Milliseconds: uint32(now.Nanosecond() / int(time.Millisecond)),
		Timestamp:    uint32(now.Unix()),
	})
}

func (s *Session) sendConfigStat() {
	s.mu.Lock()
	d := s.dev
	if d == nil {
		s.mu.Unlock()
		return
	}
	msg := sccp.ConfigStatResMessage{
		DeviceName: d.ID,
		UserName:   d.Name,
		ServerName: s.opts.General.ServerName,
		Lines:      uint32(len(d.Lines)),
		SpeedDials: uint32(len(d.Speeddials)),
	}
	s.mu.Unlock()
	s.Send(msg)
}

func (s *Session) sendForwardStat(instance uint32) {
	s.mu.Lock()
	var msg sccp.ForwardStatResMessage
	msg.LineNumber = instance
	if s.dev != nil {
		if l := s.dev.LineByInstance(instance); l != nil {
			msg = forwardStat(l)
		}
	}
	s.mu.Unlock()
	s.Send(msg)
}

func forwardStat(l *device.Line) sccp.ForwardStatResMessage {
	msg := sccp.ForwardStatResMessage{LineNumber: l.Instance}
	if l.CFwd.Active() {
		msg.Active = 1
	}
	if l.CFwd.All != "" {
		msg.AllActive = 1
		msg.AllNumber = l.CFwd.All
	}
	if l.CFwd.Busy != "" {
		msg.BusyActive = 1
		msg.BusyNumber = l.CFwd.Busy
	}
	if l.CFwd.NoAnswer != "" {
		msg.NoAnActive = 1
		msg.NoAnNumber = l.CFwd.NoAnswer
	}
	return msg
}

func (s *Session) sendSpeedDialStat(instance uint32) {
	s.mu.Lock()
	msg := sccp.SpeedDialStatResMessage{Number: instance}
	if s.dev != nil {
		if sd := s.dev.SpeeddialByInstance(instance, false); sd != nil {
			msg.DirNumber = sd.Exten
			msg.Label = sd.Label
		}
	}
	s.mu.Unlock()
	s.Send(msg)
}

func (s *Session) sendLineStat(instance uint32) {
	s.mu.Lock()
	msg := sccp.LineStatResMessage{LineNumber: instance}
	if s.dev != nil {
		if l := s.dev.LineByInstance(instance); l != nil {
			msg.DirNumber = l.CidNum
			if msg.DirNumber == "" {
				msg.DirNumber = l.Name
			}
			msg.DisplayName = l.CidName
			if msg.DisplayName == "" {
				msg.DisplayName = l.Name
			}
		} else if sd := s.dev.SpeeddialByInstance(instance, true); sd != nil {
			// Hint speeddials occupy line-key instances; the phone asks for
			// their "line" state during startup.
			msg.DirNumber = sd.Exten
			msg.DisplayName = sd.Label
		}
	}
	s.mu.Unlock()
	s.Send(msg)
}
