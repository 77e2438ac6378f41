package session

import (
	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/sccp"
)

// UpdateMWI refreshes the voicemail lamps after a mailbox count change.
// The per-line lamp follows the line's own state; the device-level lamp
// (instance 0) is the OR across all lines, so it stays lit while any
// mailbox has new messages. Blink preference comes from the line for
// its own lamp and from the device for the aggregate.
func (s *Session) UpdateMWI(l *device.Line, newMessages int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.dev
	if d == nil {
		return
	}
	l.MWIActive = newMessages > 0

	if l.Instance != 0 {
		mode := sccp.LampOff
		if l.MWIActive {
			mode = sccp.LampOn
			if l.MWIBlink {
				mode = sccp.LampBlink
			}
		}
		s.Send(sccp.SetLampMessage{
			Stimulus: sccp.StimulusVoicemail,
			Instance: l.Instance,
			Mode:     mode,
		})
	}

	aggregate := sccp.LampOff
	if d.MWILit() {
		aggregate = sccp.LampOn
		if d.MWIBlink {
			aggregate = sccp.LampBlink
		}
	}
	s.Send(sccp.SetLampMessage{
		Stimulus: sccp.StimulusVoicemail,
		Instance: 0,
		Mode:     aggregate,
	})
}
