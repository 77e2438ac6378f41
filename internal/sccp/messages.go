package sccp

import (
	"fmt"
	"net/netip"
)

// Message is one parsed or buildable skinny message. The payload method is
// unexported so the set of message types is closed within this package;
// callers construct the exported structs directly.
type Message interface {
	// TypeID returns the wire message type.
	TypeID() uint32

	payload() []byte
}

// builder assembles a little-endian payload.
type builder struct {
	b []byte
}

func (w *builder) u16(v uint16) {
	w.b = append(w.b, byte(v), byte(v>>8))
}

func (w *builder) u32(v uint32) {
	w.b = append(w.b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// str appends a NUL-padded fixed-width string field, truncating if needed.
func (w *builder) str(s string, n int) {
	f := make([]byte, n)
	copy(f, s)
	w.b = append(w.b, f...)
}

func (w *builder) ip4(a [4]byte) {
	w.b = append(w.b, a[:]...)
}

// reader consumes a little-endian payload. Underruns latch the short flag
// and make subsequent reads return zero values; callers check short once
// at the end instead of after every field. Fields past the end of a short
// payload read as zero, which matches how old firmwares omit trailing
// fields.
type reader struct {
	b     []byte
	off   int
	short bool
}

func (r *reader) u16() uint16 {
	if r.off+2 > len(r.b) {
		r.short = true
		return 0
	}
	v := uint16(r.b[r.off]) | uint16(r.b[r.off+1])<<8
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if r.off+4 > len(r.b) {
		r.short = true
		return 0
	}
	v := getU32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) str(n int) string {
	if r.off+n > len(r.b) {
		r.short = true
		return ""
	}
	f := r.b[r.off : r.off+n]
	r.off += n
	for i, c := range f {
		if c == 0 {
			return string(f[:i])
		}
	}
	return string(f)
}

func (r *reader) ip4() [4]byte {
	var a [4]byte
	if r.off+4 > len(r.b) {
		r.short = true
		return a
	}
	copy(a[:], r.b[r.off:r.off+4])
	r.off += 4
	return a
}

// Addr4 converts a raw 4-byte address field to a netip.Addr.
func Addr4(a [4]byte) netip.Addr { return netip.AddrFrom4(a) }

// Raw4 converts a netip.Addr to the 4-byte wire field. Non-IPv4 addresses
// (the controller never advertises IPv6 to a skinny phone) map to zeros.
func Raw4(a netip.Addr) [4]byte {
	if a.Is4() {
		return a.As4()
	}
	if a.Is4In6() {
		return a.Unmap().As4()
	}
	return [4]byte{}
}

// --- Phone-originated messages -----------------------------------------

// KeepAliveMessage is the periodic liveness probe from the phone.
type KeepAliveMessage struct{}

func (KeepAliveMessage) TypeID() uint32  { return MsgKeepAlive }
func (KeepAliveMessage) payload() []byte { return nil }

// RegisterMessage opens the registration handshake.
type RegisterMessage struct {
	Name       string // device id, e.g. "SEP001122334455"
	UserID     uint32
	Instance   uint32
	IP         [4]byte
	DeviceType uint32
	MaxStreams uint32
}

func (RegisterMessage) TypeID() uint32 { return MsgRegister }

func (m RegisterMessage) payload() []byte {
	var w builder
	w.str(m.Name, 16)
	w.u32(m.UserID)
	w.u32(m.Instance)
	w.ip4(m.IP)
	w.u32(m.DeviceType)
	w.u32(m.MaxStreams)
	return w.b
}

// IPPortMessage reports the phone's RTP listening port.
type IPPortMessage struct {
	Port uint32
}

func (IPPortMessage) TypeID() uint32    { return MsgIPPort }
func (m IPPortMessage) payload() []byte { var w builder; w.u32(m.Port); return w.b }

// KeypadButtonMessage is one pressed digit.
type KeypadButtonMessage struct {
	Button       uint32
	LineInstance uint32
	CallRef      uint32
}

func (KeypadButtonMessage) TypeID() uint32 { return MsgKeypadButton }

func (m KeypadButtonMessage) payload() []byte {
	var w builder
	w.u32(m.Button)
	w.u32(m.LineInstance)
	w.u32(m.CallRef)
	return w.b
}

// Digit maps the keypad button code to its dial character.
// 14 is '*', 15 is '#'; anything else out of range returns 0.
func (m KeypadButtonMessage) Digit() byte {
	switch {
	case m.Button <= 9:
		return '0' + byte(m.Button)
	case m.Button == 14:
		return '*'
	case m.Button == 15:
		return '#'
	default:
		return 0
	}
}

// EnblocCallMessage delivers a complete pre-collected dial string.
type EnblocCallMessage struct {
	CalledParty string
}

func (EnblocCallMessage) TypeID() uint32    { return MsgEnblocCall }
func (m EnblocCallMessage) payload() []byte { var w builder; w.str(m.CalledParty, 24); return w.b }

// StimulusMessage is a feature/line key press.
type StimulusMessage struct {
	Stimulus uint32
	Instance uint32
	CallRef  uint32
}

func (StimulusMessage) TypeID() uint32 { return MsgStimulus }

func (m StimulusMessage) payload() []byte {
	var w builder
	w.u32(m.Stimulus)
	w.u32(m.Instance)
	w.u32(m.CallRef)
	return w.b
}

// OffhookMessage reports the handset lifted. Older firmwares send it with
// an empty payload; Instance/CallRef then read as zero.
type OffhookMessage struct {
	Instance uint32
	CallRef  uint32
}

func (OffhookMessage) TypeID() uint32 { return MsgOffhook }

func (m OffhookMessage) payload() []byte {
	var w builder
	w.u32(m.Instance)
	w.u32(m.CallRef)
	return w.b
}

// OnhookMessage reports the handset replaced.
type OnhookMessage struct {
	Instance uint32
	CallRef  uint32
}

func (OnhookMessage) TypeID() uint32 { return MsgOnhook }

func (m OnhookMessage) payload() []byte {
	var w builder
	w.u32(m.Instance)
	w.u32(m.CallRef)
	return w.b
}

// ForwardStatReqMessage asks for the CFWD state of a line.
type ForwardStatReqMessage struct {
	LineNumber uint32
}

func (ForwardStatReqMessage) TypeID() uint32    { return MsgForwardStatReq }
func (m ForwardStatReqMessage) payload() []byte { var w builder; w.u32(m.LineNumber); return w.b }

// SpeedDialStatReqMessage asks for one speeddial slot.
type SpeedDialStatReqMessage struct {
	Number uint32
}

func (SpeedDialStatReqMessage) TypeID() uint32    { return MsgSpeedDialStatReq }
func (m SpeedDialStatReqMessage) payload() []byte { var w builder; w.u32(m.Number); return w.b }

// LineStateReqMessage asks for one line's directory number and label.
type LineStateReqMessage struct {
	LineNumber uint32
}

func (LineStateReqMessage) TypeID() uint32    { return MsgLineStateReq }
func (m LineStateReqMessage) payload() []byte { var w builder; w.u32(m.LineNumber); return w.b }

// ConfigStatReqMessage asks for the device summary.
type ConfigStatReqMessage struct{}

func (ConfigStatReqMessage) TypeID() uint32  { return MsgConfigStatReq }
func (ConfigStatReqMessage) payload() []byte { return nil }

// TimeDateReqMessage asks for the wall clock.
type TimeDateReqMessage struct{}

func (TimeDateReqMessage) TypeID() uint32  { return MsgTimeDateReq }
func (TimeDateReqMessage) payload() []byte { return nil }

// ButtonTemplateReqMessage asks for the physical button layout.
type ButtonTemplateReqMessage struct{}

func (ButtonTemplateReqMessage) TypeID() uint32  { return MsgButtonTemplateReq }
func (ButtonTemplateReqMessage) payload() []byte { return nil }

// VersionReqMessage asks for the controller version string.
type VersionReqMessage struct{}

func (VersionReqMessage) TypeID() uint32  { return MsgVersionReq }
func (VersionReqMessage) payload() []byte { return nil }

// Capability is one codec the phone can receive.
type Capability struct {
	Codec  Codec
	Frames uint32
}

// CapabilitiesResMessage carries the phone's codec set.
type CapabilitiesResMessage struct {
	Caps []Capability
}

func (CapabilitiesResMessage) TypeID() uint32 { return MsgCapabilitiesRes }

func (m CapabilitiesResMessage) payload() []byte {
	var w builder
	w.u32(uint32(len(m.Caps)))
	for _, c := range m.Caps {
		w.u32(uint32(c.Codec))
		w.u32(c.Frames)
		w.str("", 8) // payload qualifier, unused for audio
	}
	return w.b
}

// ServerReqMessage asks which servers the phone should know about.
type ServerReqMessage struct{}

func (ServerReqMessage) TypeID() uint32  { return MsgServerRequest }
func (ServerReqMessage) payload() []byte { return nil }

// AlarmMessage is a free-form diagnostic from the phone.
type AlarmMessage struct {
	Severity uint32
	Display  string
	Param1   uint32
	Param2   uint32
}

func (AlarmMessage) TypeID() uint32 { return MsgAlarm }

func (m AlarmMessage) payload() []byte {
	var w builder
	w.u32(m.Severity)
	w.str(m.Display, 80)
	w.u32(m.Param1)
	w.u32(m.Param2)
	return w.b
}

// OpenReceiveChannelAckMessage answers OPEN_RECEIVE_CHANNEL with the
// phone's RTP endpoint.
type OpenReceiveChannelAckMessage struct {
	Status     uint32
	IP         [4]byte
	Port       uint32
	PassThruID uint32
}

func (OpenReceiveChannelAckMessage) TypeID() uint32 { return MsgOpenReceiveChannelAck }

func (m OpenReceiveChannelAckMessage) payload() []byte {
	var w builder
	w.u32(m.Status)
	w.ip4(m.IP)
	w.u32(m.Port)
	w.u32(m.PassThruID)
	return w.b
}

// SoftKeySetReqMessage asks for the keyset definitions.
type SoftKeySetReqMessage struct{}

func (SoftKeySetReqMessage) TypeID() uint32  { return MsgSoftKeySetReq }
func (SoftKeySetReqMessage) payload() []byte { return nil }

// SoftKeyEventMessage is a softkey press.
type SoftKeyEventMessage struct {
	Event    uint32
	Instance uint32
	CallRef  uint32
}

func (SoftKeyEventMessage) TypeID() uint32 { return MsgSoftKeyEvent }

func (m SoftKeyEventMessage) payload() []byte {
	var w builder
	w.u32(m.Event)
	w.u32(m.Instance)
	w.u32(m.CallRef)
	return w.b
}

// UnregisterMessage asks to tear the registration down.
type UnregisterMessage struct{}

func (UnregisterMessage) TypeID() uint32  { return MsgUnregister }
func (UnregisterMessage) payload() []byte { return nil }

// SoftKeyTemplateReqMessage asks for the softkey label template.
type SoftKeyTemplateReqMessage struct{}

func (SoftKeyTemplateReqMessage) TypeID() uint32  { return MsgSoftKeyTemplateReq }
func (SoftKeyTemplateReqMessage) payload() []byte { return nil }

// HeadsetStatusMessage reports headset plug state.
type HeadsetStatusMessage struct {
	Mode uint32
}

func (HeadsetStatusMessage) TypeID() uint32    { return MsgHeadsetStatus }
func (m HeadsetStatusMessage) payload() []byte { var w builder; w.u32(m.Mode); return w.b }

// RegisterAvailableLinesMessage reports how many line keys the phone has.
type RegisterAvailableLinesMessage struct {
	Count uint32
}

func (RegisterAvailableLinesMessage) TypeID() uint32    { return MsgRegisterAvailableLines }
func (m RegisterAvailableLinesMessage) payload() []byte { var w builder; w.u32(m.Count); return w.b }

// --- Controller-originated messages ------------------------------------

// RegisterAckMessage accepts a REGISTER.
type RegisterAckMessage struct {
	KeepAlive          uint32
	DateTemplate       string // at most 6 characters, e.g. "D-M-Y"
	SecondaryKeepAlive uint32
}

func (RegisterAckMessage) TypeID() uint32 { return MsgRegisterAck }

func (m RegisterAckMessage) payload() []byte {
	var w builder
	w.u32(m.KeepAlive)
	w.str(m.DateTemplate, 6)
	w.str("", 2)
	w.u32(m.SecondaryKeepAlive)
	w.str("", 4)
	return w.b
}

// RegisterRejMessage refuses a REGISTER; the phone displays Reason
// verbatim.
type RegisterRejMessage struct {
	Reason string
}

func (RegisterRejMessage) TypeID() uint32    { return MsgRegisterRej }
func (m RegisterRejMessage) payload() []byte { var w builder; w.str(m.Reason, 33); return w.b }

// KeepAliveAckMessage answers KEEP_ALIVE.
type KeepAliveAckMessage struct{}

func (KeepAliveAckMessage) TypeID() uint32  { return MsgKeepAliveAck }
func (KeepAliveAckMessage) payload() []byte { return nil }

// CapabilitiesReqMessage asks the phone for its codec set.
type CapabilitiesReqMessage struct{}

func (CapabilitiesReqMessage) TypeID() uint32  { return MsgCapabilitiesReq }
func (CapabilitiesReqMessage) payload() []byte { return nil }

// StartToneMessage starts a call progress tone.
type StartToneMessage struct {
	Tone uint32
}

func (StartToneMessage) TypeID() uint32    { return MsgStartTone }
func (m StartToneMessage) payload() []byte { var w builder; w.u32(m.Tone); return w.b }

// StopToneMessage stops the current tone.
type StopToneMessage struct{}

func (StopToneMessage) TypeID() uint32  { return MsgStopTone }
func (StopToneMessage) payload() []byte { return nil }

// SetRingerMessage selects the ringer mode. The two trailing words are
// copied from phone-observed traffic as (1, 1); deviation shows up as a
// mis-cadenced ringer on 7940/7960 firmware.
type SetRingerMessage struct {
	Mode uint32
}

func (SetRingerMessage) TypeID() uint32 { return MsgSetRinger }

func (m SetRingerMessage) payload() []byte {
	var w builder
	w.u32(m.Mode)
	w.u32(1)
	w.u32(1)
	return w.b
}

// SetLampMessage drives a stimulus lamp.
type SetLampMessage struct {
	Stimulus uint32
	Instance uint32
	Mode     uint32
}

func (SetLampMessage) TypeID() uint32 { return MsgSetLamp }

func (m SetLampMessage) payload() []byte {
	var w builder
	w.u32(m.Stimulus)
	w.u32(m.Instance)
	w.u32(m.Mode)
	return w.b
}

// SetSpeakerMessage toggles the speakerphone.
type SetSpeakerMessage struct {
	Mode uint32
}

func (SetSpeakerMessage) TypeID() uint32    { return MsgSetSpeaker }
func (m SetSpeakerMessage) payload() []byte { var w builder; w.u32(m.Mode); return w.b }

// StartMediaTransmissionMessage tells the phone where to send RTP.
type StartMediaTransmissionMessage struct {
	ConferenceID uint32
	PassThruID   uint32
	RemoteIP     [4]byte
	RemotePort   uint32
	PacketSize   uint32
	PayloadType  uint32
	Precedence   uint32
	VAD          uint32
	Packets      uint16
	BitRate      uint32
}

func (StartMediaTransmissionMessage) TypeID() uint32 { return MsgStartMediaTransmission }

func (m StartMediaTransmissionMessage) payload() []byte {
	var w builder
	w.u32(m.ConferenceID)
	w.u32(m.PassThruID)
	w.ip4(m.RemoteIP)
	w.u32(m.RemotePort)
	w.u32(m.PacketSize)
	w.u32(m.PayloadType)
	w.u32(m.Precedence)
	w.u32(m.VAD)
	w.u16(m.Packets) // 16-bit mid-struct; keeps later fields unaligned
	w.u32(m.BitRate)
	return w.b
}

// StopMediaTransmissionMessage stops the phone's RTP sender.
type StopMediaTransmissionMessage struct {
	ConferenceID uint32
	PassThruID   uint32
}

func (StopMediaTransmissionMessage) TypeID() uint32 { return MsgStopMediaTransmission }

func (m StopMediaTransmissionMessage) payload() []byte {
	var w builder
	w.u32(m.ConferenceID)
	w.u32(m.PassThruID)
	w.u32(0)
	return w.b
}

// CallInfoMessage labels a call bubble with party identities.
type CallInfoMessage struct {
	CallingName string
	CallingNum  string
	CalledName  string
	CalledNum   string
	Instance    uint32
	CallRef     uint32
	CallType    uint32 // 1 inbound, 2 outbound
}

func (CallInfoMessage) TypeID() uint32 { return MsgCallInfo }

func (m CallInfoMessage) payload() []byte {
	var w builder
	w.str(m.CallingName, 40)
	w.str(m.CallingNum, 24)
	w.str(m.CalledName, 40)
	w.str(m.CalledNum, 24)
	w.u32(m.Instance)
	w.u32(m.CallRef)
	w.u32(m.CallType)
	return w.b
}

// ForwardStatResMessage reports a line's CFWD triple.
type ForwardStatResMessage struct {
	Active     uint32
	LineNumber uint32
	AllActive  uint32
	AllNumber  string
	BusyActive uint32
	BusyNumber string
	NoAnActive uint32
	NoAnNumber string
}

func (ForwardStatResMessage) TypeID() uint32 { return MsgForwardStatRes }

func (m ForwardStatResMessage) payload() []byte {
	var w builder
	w.u32(m.Active)
	w.u32(m.LineNumber)
	w.u32(m.AllActive)
	w.str(m.AllNumber, 24)
	w.u32(m.BusyActive)
	w.str(m.BusyNumber, 24)
	w.u32(m.NoAnActive)
	w.str(m.NoAnNumber, 24)
	return w.b
}

// SpeedDialStatResMessage answers a speeddial slot query.
type SpeedDialStatResMessage struct {
	Number    uint32
	DirNumber string
	Label     string
}

func (SpeedDialStatResMessage) TypeID() uint32 { return MsgSpeedDialStatRes }

func (m SpeedDialStatResMessage) payload() []byte {
	var w builder
	w.u32(m.Number)
	w.str(m.DirNumber, 24)
	w.str(m.Label, 40)
	return w.b
}

// LineStatResMessage answers a line state query.
type LineStatResMessage struct {
	LineNumber  uint32
	DirNumber   string
	DisplayName string
}

func (LineStatResMessage) TypeID() uint32 { return MsgLineStatRes }

func (m LineStatResMessage) payload() []byte {
	var w builder
	w.u32(m.LineNumber)
	w.str(m.DirNumber, 24)
	w.str(m.DisplayName, 24)
	w.str("", 60)
	return w.b
}

// ConfigStatResMessage summarises the device configuration.
type ConfigStatResMessage struct {
	DeviceName string
	UserID     uint32
	Instance   uint32
	UserName   string
	ServerName string
	Lines      uint32
	SpeedDials uint32
}

func (ConfigStatResMessage) TypeID() uint32 { return MsgConfigStatRes }

func (m ConfigStatResMessage) payload() []byte {
	var w builder
	w.str(m.DeviceName, 16)
	w.u32(m.UserID)
	w.u32(m.Instance)
	w.str(m.UserName, 40)
	w.str(m.ServerName, 40)
	w.u32(m.Lines)
	w.u32(m.SpeedDials)
	return w.b
}

// DefineTimeDateMessage answers TIME_DATE_REQ.
type DefineTimeDateMessage struct {
	Year, Month, DayOfWeek, Day uint32
	Hour, Minute, Seconds       uint32
	Milliseconds, Timestamp     uint32
}

func (DefineTimeDateMessage) TypeID() uint32 { return MsgDefineTimeDate }

func (m DefineTimeDateMessage) payload() []byte {
	var w builder
	w.u32(m.Year)
	w.u32(m.Month)
	w.u32(m.DayOfWeek)
	w.u32(m.Day)
	w.u32(m.Hour)
	w.u32(m.Minute)
	w.u32(m.Seconds)
	w.u32(m.Milliseconds)
	w.u32(m.Timestamp)
	return w.b
}

// ButtonDefinition is one physical button slot.
type ButtonDefinition struct {
	Instance   uint8
	Definition uint8
}

// maxButtons caps a button template reply.
const maxButtons = 42

// ButtonTemplateResMessage ships the computed button layout.
type ButtonTemplateResMessage struct {
	Buttons []ButtonDefinition
}

func (ButtonTemplateResMessage) TypeID() uint32 { return MsgButtonTemplateRes }

func (m ButtonTemplateResMessage) payload() []byte {
	var w builder
	n := len(m.Buttons)
	if n > maxButtons {
		n = maxButtons
	}
	w.u32(0) // button offset
	w.u32(uint32(n))
	w.u32(uint32(n))
	for i := 0; i < maxButtons; i++ {
		if i < n {
			w.b = append(w.b, m.Buttons[i].Instance, m.Buttons[i].Definition)
		} else {
			w.b = append(w.b, 0, byte(StimulusNone))
		}
	}
	return w.b
}

// VersionResMessage reports the controller version.
type VersionResMessage struct {
	Version string
}

func (VersionResMessage) TypeID() uint32    { return MsgVersionRes }
func (m VersionResMessage) payload() []byte { var w builder; w.str(m.Version, 16); return w.b }

// DisplayTextMessage writes a line of text on the display.
type DisplayTextMessage struct {
	Text string
}

func (DisplayTextMessage) TypeID() uint32    { return MsgDisplayText }
func (m DisplayTextMessage) payload() []byte { var w builder; w.str(m.Text, 40); return w.b }

// ClearDisplayMessage blanks the display.
type ClearDisplayMessage struct{}

func (ClearDisplayMessage) TypeID() uint32  { return MsgClearDisplay }
func (ClearDisplayMessage) payload() []byte { return nil }

// Server is one entry in a SERVER_RES reply.
type Server struct {
	Name string
	Port uint32
	IP   [4]byte
}

// serverSlots is the fixed server table size in SERVER_RES.
const serverSlots = 5

// ServerResMessage answers SERVER_REQUEST.
type ServerResMessage struct {
	Servers []Server
}

func (ServerResMessage) TypeID() uint32 { return MsgServerRes }

func (m ServerResMessage) payload() []byte {
	var w builder
	for i := 0; i < serverSlots; i++ {
		if i < len(m.Servers) {
			w.str(m.Servers[i].Name, 48)
		} else {
			w.str("", 48)
		}
	}
	for i := 0; i < serverSlots; i++ {
		if i < len(m.Servers) {
			w.u32(m.Servers[i].Port)
		} else {
			w.u32(0)
		}
	}
	for i := 0; i < serverSlots; i++ {
		if i < len(m.Servers) {
			w.ip4(m.Servers[i].IP)
		} else {
			w.ip4([4]byte{})
		}
	}
	return w.b
}

// ResetMessage asks the phone to restart (hard) or re-register (soft).
type ResetMessage struct {
	ResetType uint32
}

func (ResetMessage) TypeID() uint32    { return MsgReset }
func (m ResetMessage) payload() []byte { var w builder; w.u32(m.ResetType); return w.b }

// OpenReceiveChannelMessage asks the phone to open an RTP receiver.
type OpenReceiveChannelMessage struct {
	ConferenceID uint32
	PartyID      uint32
	Packets      uint32
	Capability   uint32
	Echo         uint32
	Bitrate      uint32
}

func (OpenReceiveChannelMessage) TypeID() uint32 { return MsgOpenReceiveChannel }

func (m OpenReceiveChannelMessage) payload() []byte {
	var w builder
	w.u32(m.ConferenceID)
	w.u32(m.PartyID)
	w.u32(m.Packets)
	w.u32(m.Capability)
	w.u32(m.Echo)
	w.u32(m.Bitrate)
	return w.b
}

// CloseReceiveChannelMessage closes the phone's RTP receiver.
type CloseReceiveChannelMessage struct {
	ConferenceID uint32
	PartyID      uint32
}

func (CloseReceiveChannelMessage) TypeID() uint32 { return MsgCloseReceiveChannel }

func (m CloseReceiveChannelMessage) payload() []byte {
	var w builder
	w.u32(m.ConferenceID)
	w.u32(m.PartyID)
	w.u32(0)
	return w.b
}

// SoftKeyTemplateResMessage ships the 20-entry softkey label template.
type SoftKeyTemplateResMessage struct {
	Keys []SoftKeyLabel
}

func (SoftKeyTemplateResMessage) TypeID() uint32 { return MsgSoftKeyTemplateRes }

func (m SoftKeyTemplateResMessage) payload() []byte {
	var w builder
	w.u32(0) // offset
	w.u32(uint32(len(m.Keys)))
	w.u32(uint32(len(m.Keys)))
	for i := 0; i < softKeyTemplateSlots; i++ {
		if i < len(m.Keys) {
			w.str(m.Keys[i].Label, 16)
			w.u32(m.Keys[i].Event)
		} else {
			w.str("", 16)
			w.u32(0)
		}
	}
	return w.b
}

// SoftKeySetResMessage ships the keyset definitions.
type SoftKeySetResMessage struct {
	Sets []KeySetDefinition
}

func (SoftKeySetResMessage) TypeID() uint32 { return MsgSoftKeySetRes }

func (m SoftKeySetResMessage) payload() []byte {
	var w builder
	w.u32(0) // offset
	w.u32(uint32(len(m.Sets)))
	w.u32(uint32(len(m.Sets)))
	for i := 0; i < keySetSlots; i++ {
		var def KeySetDefinition
		if i < len(m.Sets) {
			def = m.Sets[i]
		}
		for j := 0; j < keysPerSet; j++ {
			if j < len(def.Keys) {
				w.b = append(w.b, byte(def.Keys[j]))
			} else {
				w.b = append(w.b, 0)
			}
		}
		for j := 0; j < keysPerSet; j++ {
			if j < len(def.Keys) {
				w.u16(uint16(def.Keys[j]) | 0x0100)
			} else {
				w.u16(0)
			}
		}
	}
	w.u32(0)
	return w.b
}

// SelectSoftKeysMessage activates one keyset for a call bubble.
type SelectSoftKeysMessage struct {
	Instance uint32
	CallRef  uint32
	KeySet   uint32
	ValidKey uint32
}

func (SelectSoftKeysMessage) TypeID() uint32 { return MsgSelectSoftKeys }

func (m SelectSoftKeysMessage) payload() []byte {
	var w builder
	w.u32(m.Instance)
	w.u32(m.CallRef)
	w.u32(m.KeySet)
	w.u32(m.ValidKey)
	return w.b
}

// CallStateMessage announces a call bubble state change.
type CallStateMessage struct {
	State    uint32
	Instance uint32
	CallRef  uint32
}

func (CallStateMessage) TypeID() uint32 { return MsgCallState }

func (m CallStateMessage) payload() []byte {
	var w builder
	w.u32(m.State)
	w.u32(m.Instance)
	w.u32(m.CallRef)
	return w.b
}

// DisplayPromptStatusMessage writes the call prompt line.
type DisplayPromptStatusMessage struct {
	Timeout  uint32
	Prompt   string
	Instance uint32
	CallRef  uint32
}

func (DisplayPromptStatusMessage) TypeID() uint32 { return MsgDisplayPromptStatus }

func (m DisplayPromptStatusMessage) payload() []byte {
	var w builder
	w.u32(m.Timeout)
	w.str(m.Prompt, 32)
	w.u32(m.Instance)
	w.u32(m.CallRef)
	return w.b
}

// ClearPromptStatusMessage clears the call prompt line.
type ClearPromptStatusMessage struct {
	Instance uint32
	CallRef  uint32
}

func (ClearPromptStatusMessage) TypeID() uint32 { return MsgClearPromptStatus }

func (m ClearPromptStatusMessage) payload() []byte {
	var w builder
	w.u32(m.Instance)
	w.u32(m.CallRef)
	return w.b
}

// DisplayNotifyMessage shows a transient notification.
type DisplayNotifyMessage struct {
	Timeout uint32
	Text    string
}

func (DisplayNotifyMessage) TypeID() uint32 { return MsgDisplayNotify }

func (m DisplayNotifyMessage) payload() []byte {
	var w builder
	w.u32(m.Timeout)
	w.str(m.Text, 100)
	return w.b
}

// ClearNotifyMessage clears the notification area.
type ClearNotifyMessage struct{}

func (ClearNotifyMessage) TypeID() uint32  { return MsgClearNotify }
func (ClearNotifyMessage) payload() []byte { return nil }

// ActivateCallPlaneMessage activates a line's call plane.
type ActivateCallPlaneMessage struct {
	Instance uint32
}

func (ActivateCallPlaneMessage) TypeID() uint32    { return MsgActivateCallPlane }
func (m ActivateCallPlaneMessage) payload() []byte { var w builder; w.u32(m.Instance); return w.b }

// UnregisterAckMessage acknowledges UNREGISTER.
type UnregisterAckMessage struct {
	Status uint32
}

func (UnregisterAckMessage) TypeID() uint32    { return MsgUnregisterAck }
func (m UnregisterAckMessage) payload() []byte { var w builder; w.u32(m.Status); return w.b }

// DialedNumberMessage echoes the dialed number to the display.
type DialedNumberMessage struct {
	Number   string
	Instance uint32
	CallRef  uint32
}

func (DialedNumberMessage) TypeID() uint32 { return MsgDialedNumber }

func (m DialedNumberMessage) payload() []byte {
	var w builder
	w.str(m.Number, 24)
	w.u32(m.Instance)
	w.u32(m.CallRef)
	return w.b
}

// UnknownMessage preserves a frame whose type this controller does not
// handle. Phones send model-specific chatter that is safe to ignore.
type UnknownMessage struct {
	Type uint32
	Raw  []byte
}

func (m UnknownMessage) TypeID() uint32  { return m.Type }
func (m UnknownMessage) payload() []byte { return m.Raw }

// Parse decodes a payload for the given message type. Messages the
// controller only ever sends parse too, so build/parse round trips hold
// for the full message set.
func Parse(msgType uint32, payload []byte) (Message, error) {
	r := &reader{b: payload}
	var m Message

	switch msgType {
	case MsgKeepAlive:
		m = KeepAliveMessage{}
	case MsgRegister:
		m = RegisterMessage{
			Name:       r.str(16),
			UserID:     r.u32(),
			Instance:   r.u32(),
			IP:         r.ip4(),
			DeviceType: r.u32(),
			MaxStreams: r.u32(),
		}
		// Some firmwares append extra registration words; ignore them,
		// but the fixed fields must all be present.
		if r.short {
			return nil, fmt.Errorf("%w: short REGISTER (%d bytes)", ErrProtocol, len(payload))
		}
		return m, nil
	case MsgIPPort:
		m = IPPortMessage{Port: r.u32()}
	case MsgKeypadButton:
		m = KeypadButtonMessage{Button: r.u32(), LineInstance: r.u32(), CallRef: r.u32()}
		r.short = false // older firmwares omit instance/callref
	case MsgEnblocCall:
		m = EnblocCallMessage{CalledParty: r.str(24)}
	case MsgStimulus:
		m = StimulusMessage{Stimulus: r.u32(), Instance: r.u32(), CallRef: r.u32()}
		r.short = false
	case MsgOffhook:
		m = OffhookMessage{Instance: r.u32(), CallRef: r.u32()}
		r.short = false
	case MsgOnhook:
		m = OnhookMessage{Instance: r.u32(), CallRef: r.u32()}
		r.short = false
	case MsgForwardStatReq:
		m = ForwardStatReqMessage{LineNumber: r.u32()}
	case MsgSpeedDialStatReq:
		m = SpeedDialStatReqMessage{Number: r.u32()}
	case MsgLineStateReq:
		m = LineStateReqMessage{LineNumber: r.u32()}
	case MsgConfigStatReq:
		m = ConfigStatReqMessage{}
	case MsgTimeDateReq:
		m = TimeDateReqMessage{}
	case MsgButtonTemplateReq:
		m = ButtonTemplateReqMessage{}
	case MsgVersionReq:
		m = VersionReqMessage{}
	case MsgCapabilitiesRes:
		count := r.u32()
		if count > 18 {
			return nil, fmt.Errorf("%w: capability count %d", ErrProtocol, count)
		}
		caps := make([]Capability, 0, count)
		for i := uint32(0); i < count; i++ {
			c := Capability{Codec: Codec(r.u32()), Frames: r.u32()}
			r.str(8)
			caps = append(caps, c)
		}
		m = CapabilitiesResMessage{Caps: caps}
	case MsgServerRequest:
		m = ServerReqMessage{}
	case MsgAlarm:
		m = AlarmMessage{Severity: r.u32(), Display: r.str(80), Param1: r.u32(), Param2: r.u32()}
		r.short = false
	case MsgOpenReceiveChannelAck:
		m = OpenReceiveChannelAckMessage{Status: r.u32(), IP: r.ip4(), Port: r.u32(), PassThruID: r.u32()}
	case MsgSoftKeySetReq:
		m = SoftKeySetReqMessage{}
	case MsgSoftKeyEvent:
		m = SoftKeyEventMessage{Event: r.u32(), Instance: r.u32(), CallRef: r.u32()}
		r.short = false
	case MsgUnregister:
		m = UnregisterMessage{}
	case MsgSoftKeyTemplateReq:
		m = SoftKeyTemplateReqMessage{}
	case MsgHeadsetStatus:
		m = HeadsetStatusMessage{Mode: r.u32()}
	case MsgRegisterAvailableLines:
		m = RegisterAvailableLinesMessage{Count: r.u32()}

	case MsgRegisterAck:
		out := RegisterAckMessage{KeepAlive: r.u32(), DateTemplate: r.str(6)}
		r.str(2)
		out.SecondaryKeepAlive = r.u32()
		r.str(4)
		m = out
	case MsgRegisterRej:
		m = RegisterRejMessage{Reason: r.str(33)}
	case MsgKeepAliveAck:
		m = KeepAliveAckMessage{}
	case MsgCapabilitiesReq:
		m = CapabilitiesReqMessage{}
	case MsgStartTone:
		m = StartToneMessage{Tone: r.u32()}
	case MsgStopTone:
		m = StopToneMessage{}
	case MsgSetRinger:
		out := SetRingerMessage{Mode: r.u32()}
		r.u32()
		r.u32()
		m = out
	case MsgSetLamp:
		m = SetLampMessage{Stimulus: r.u32(), Instance: r.u32(), Mode: r.u32()}
	case MsgSetSpeaker:
		m = SetSpeakerMessage{Mode: r.u32()}
	case MsgStartMediaTransmission:
		m = StartMediaTransmissionMessage{
			ConferenceID: r.u32(),
			PassThruID:   r.u32(),
			RemoteIP:     r.ip4(),
			RemotePort:   r.u32(),
			PacketSize:   r.u32(),
			PayloadType:  r.u32(),
			Precedence:   r.u32(),
			VAD:          r.u32(),
			Packets:      r.u16(),
			BitRate:      r.u32(),
		}
	case MsgStopMediaTransmission:
		out := StopMediaTransmissionMessage{ConferenceID: r.u32(), PassThruID: r.u32()}
		r.u32()
		m = out
	case MsgCallInfo:
		m = CallInfoMessage{
			CallingName: r.str(40),
			CallingNum:  r.str(24),
			CalledName:  r.str(40),
			CalledNum:   r.str(24),
			Instance:    r.u32(),
			CallRef:     r.u32(),
			CallType:    r.u32(),
		}
	case MsgForwardStatRes:
		m = ForwardStatResMessage{
			Active:     r.u32(),
			LineNumber: r.u32(),
			AllActive:  r.u32(),
			AllNumber:  r.str(24),
			BusyActive: r.u32(),
			BusyNumber: r.str(24),
			NoAnActive: r.u32(),
			NoAnNumber: r.str(24),
		}
	case MsgSpeedDialStatRes:
		m = SpeedDialStatResMessage{Number: r.u32(), DirNumber: r.str(24), Label: r.str(40)}
	case MsgLineStatRes:
		out := LineStatResMessage{LineNumber: r.u32(), DirNumber: r.str(24), DisplayName: r.str(24)}
		r.str(60)
		m = out
	case MsgConfigStatRes:
		m = ConfigStatResMessage{
			DeviceName: r.str(16),
			UserID:     r.u32(),
			Instance:   r.u32(),
			UserName:   r.str(40),
			ServerName: r.str(40),
			Lines:      r.u32(),
			SpeedDials: r.u32(),
		}
	case MsgDefineTimeDate:
		m = DefineTimeDateMessage{
			Year: r.u32(), Month: r.u32(), DayOfWeek: r.u32(), Day: r.u32(),
			Hour: r.u32(), Minute: r.u32(), Seconds: r.u32(),
			Milliseconds: r.u32(), Timestamp: r.u32(),
		}
	case MsgButtonTemplateRes:
		r.u32() // offset
		count := r.u32()
		r.u32() // total
		if count > maxButtons {
			return nil, fmt.Errorf("%w: button count %d", ErrProtocol, count)
		}
		buttons := make([]ButtonDefinition, 0, count)
		for i := uint32(0); i < count; i++ {
			if r.off+2 > len(r.b) {
				r.short = true
				break
			}
			buttons = append(buttons, ButtonDefinition{Instance: r.b[r.off], Definition: r.b[r.off+1]})
			r.off += 2
		}
		m = ButtonTemplateResMessage{Buttons: buttons}
		if r.short {
			return nil, fmt.Errorf("%w: short BUTTON_TEMPLATE_RES", ErrProtocol)
		}
		return m, nil
	case MsgVersionRes:
		m = VersionResMessage{Version: r.str(16)}
	case MsgDisplayText:
		m = DisplayTextMessage{Text: r.str(40)}
	case MsgClearDisplay:
		m = ClearDisplayMessage{}
	case MsgServerRes:
		var out ServerResMessage
		names := make([]string, serverSlots)
		for i := 0; i < serverSlots; i++ {
			names[i] = r.str(48)
		}
		ports := make([]uint32, serverSlots)
		for i := 0; i < serverSlots; i++ {
			ports[i] = r.u32()
		}
		for i := 0; i < serverSlots; i++ {
			ip := r.ip4()
			if names[i] != "" {
				out.Servers = append(out.Servers, Server{Name: names[i], Port: ports[i], IP: ip})
			}
		}
		m = out
	case MsgReset:
		m = ResetMessage{ResetType: r.u32()}
	case MsgOpenReceiveChannel:
		m = OpenReceiveChannelMessage{
			ConferenceID: r.u32(),
			PartyID:      r.u32(),
			Packets:      r.u32(),
			Capability:   r.u32(),
			Echo:         r.u32(),
			Bitrate:      r.u32(),
		}
	case MsgCloseReceiveChannel:
		out := CloseReceiveChannelMessage{ConferenceID: r.u32(), PartyID: r.u32()}
		r.u32()
		m = out
	case MsgSoftKeyTemplateRes:
		r.u32() // offset
		count := r.u32()
		r.u32() // total
		if count > softKeyTemplateSlots {
			return nil, fmt.Errorf("%w: softkey count %d", ErrProtocol, count)
		}
		keys := make([]SoftKeyLabel, 0, count)
		for i := 0; i < softKeyTemplateSlots; i++ {
			label := r.str(16)
			event := r.u32()
			if uint32(i) < count {
				keys = append(keys, SoftKeyLabel{Label: label, Event: event})
			}
		}
		m = SoftKeyTemplateResMessage{Keys: keys}
	case MsgSoftKeySetRes:
		r.u32() // offset
		count := r.u32()
		r.u32() // total
		if count > keySetSlots {
			return nil, fmt.Errorf("%w: keyset count %d", ErrProtocol, count)
		}
		sets := make([]KeySetDefinition, 0, count)
		for i := 0; i < keySetSlots; i++ {
			var def KeySetDefinition
			for j := 0; j < keysPerSet; j++ {
				if r.off < len(r.b) {
					if k := r.b[r.off]; k != 0 {
						def.Keys = append(def.Keys, uint32(k))
					}
					r.off++
				} else {
					r.short = true
				}
			}
			for j := 0; j < keysPerSet; j++ {
				r.u16()
			}
			if uint32(i) < count {
				sets = append(sets, def)
			}
		}
		r.u32()
		m = SoftKeySetResMessage{Sets: sets}
	case MsgSelectSoftKeys:
		m = SelectSoftKeysMessage{Instance: r.u32(), CallRef: r.u32(), KeySet: r.u32(), ValidKey: r.u32()}
	case MsgCallState:
		m = CallStateMessage{State: r.u32(), Instance: r.u32(), CallRef: r.u32()}
	case MsgDisplayPromptStatus:
		m = DisplayPromptStatusMessage{Timeout: r.u32(), Prompt: r.str(32), Instance: r.u32(), CallRef: r.u32()}
	case MsgClearPromptStatus:
		m = ClearPromptStatusMessage{Instance: r.u32(), CallRef: r.u32()}
	case MsgDisplayNotify:
		m = DisplayNotifyMessage{Timeout: r.u32(), Text: r.str(100)}
	case MsgClearNotify:
		m = ClearNotifyMessage{}
	case MsgActivateCallPlane:
		m = ActivateCallPlaneMessage{Instance: r.u32()}
	case MsgUnregisterAck:
		m = UnregisterAckMessage{Status: r.u32()}
	case MsgDialedNumber:
		m = DialedNumberMessage{Number: r.str(24), Instance: r.u32(), CallRef: r.u32()}

	default:
		raw := make([]byte, len(payload))
		copy(raw, payload)
		return UnknownMessage{Type: msgType, Raw: raw}, nil
	}

	if r.short {
		return nil, fmt.Errorf("%w: short payload for type 0x%04X (%d bytes)", ErrProtocol, msgType, len(payload))
	}
	return m, nil
}
