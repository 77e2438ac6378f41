package sccp

// Message type identifiers. Phone-originated types sit in the low range,
// controller-originated replies in 0x0080-0x011D.
const (
	MsgKeepAlive              uint32 = 0x0000
	MsgRegister               uint32 = 0x0001
	MsgIPPort                 uint32 = 0x0002
	MsgKeypadButton           uint32 = 0x0003
	MsgEnblocCall             uint32 = 0x0004
	MsgStimulus               uint32 = 0x0005
	MsgOffhook                uint32 = 0x0006
	MsgOnhook                 uint32 = 0x0007
	MsgForwardStatReq         uint32 = 0x0009
	MsgSpeedDialStatReq       uint32 = 0x000A
	MsgLineStateReq           uint32 = 0x000B
	MsgConfigStatReq          uint32 = 0x000C
	MsgTimeDateReq            uint32 = 0x000D
	MsgButtonTemplateReq      uint32 = 0x000E
	MsgVersionReq             uint32 = 0x000F
	MsgCapabilitiesRes        uint32 = 0x0010
	MsgServerRequest          uint32 = 0x0012
	MsgAlarm                  uint32 = 0x0020
	MsgOpenReceiveChannelAck  uint32 = 0x0022
	MsgSoftKeySetReq          uint32 = 0x0025
	MsgSoftKeyEvent           uint32 = 0x0026
	MsgUnregister             uint32 = 0x0027
	MsgSoftKeyTemplateReq     uint32 = 0x0028
	MsgHeadsetStatus          uint32 = 0x002B
	MsgRegisterAvailableLines uint32 = 0x002D

	MsgRegisterAck            uint32 = 0x0081
	MsgStartTone              uint32 = 0x0082
	MsgStopTone               uint32 = 0x0083
	MsgSetRinger              uint32 = 0x0085
	MsgSetLamp                uint32 = 0x0086
	MsgSetSpeaker             uint32 = 0x0088
	MsgStartMediaTransmission uint32 = 0x008A
	MsgStopMediaTransmission  uint32 = 0x008B
	MsgCallInfo               uint32 = 0x008F
	MsgForwardStatRes         uint32 = 0x0090
	MsgSpeedDialStatRes       uint32 = 0x0091
	MsgLineStatRes            uint32 = 0x0092
	MsgConfigStatRes          uint32 = 0x0093
	MsgDefineTimeDate         uint32 = 0x0094
	MsgButtonTemplateRes      uint32 = 0x0097
	MsgVersionRes             uint32 = 0x0098
	MsgDisplayText            uint32 = 0x0099
	MsgClearDisplay           uint32 = 0x009A
	MsgCapabilitiesReq        uint32 = 0x009B
	MsgRegisterRej            uint32 = 0x009D
	MsgServerRes              uint32 = 0x009E
	MsgReset                  uint32 = 0x009F
	MsgKeepAliveAck           uint32 = 0x0100
	MsgOpenReceiveChannel     uint32 = 0x0105
	MsgCloseReceiveChannel    uint32 = 0x0106
	MsgSoftKeyTemplateRes     uint32 = 0x0108
	MsgSoftKeySetRes          uint32 = 0x0109
	MsgSelectSoftKeys         uint32 = 0x0110
	MsgCallState              uint32 = 0x0111
	MsgDisplayPromptStatus    uint32 = 0x0112
	MsgClearPromptStatus      uint32 = 0x0113
	MsgDisplayNotify          uint32 = 0x0114
	MsgClearNotify            uint32 = 0x0115
	MsgActivateCallPlane      uint32 = 0x0116
	MsgUnregisterAck          uint32 = 0x0118
	MsgDialedNumber           uint32 = 0x011D
)

// Call states carried in CALL_STATE messages.
const (
	CallStateOffhook       uint32 = 1
	CallStateOnhook        uint32 = 2
	CallStateRingOut       uint32 = 3
	CallStateRingIn        uint32 = 4
	CallStateConnected     uint32 = 5
	CallStateBusy          uint32 = 6
	CallStateCongestion    uint32 = 7
	CallStateHold          uint32 = 8
	CallStateCallWait      uint32 = 9
	CallStateTransfer      uint32 = 10
	CallStatePark          uint32 = 11
	CallStateProceed       uint32 = 12
	CallStateInvalidNumber uint32 = 14
)

// Tones for START_TONE.
const (
	ToneDial     uint32 = 0x21
	ToneBusy     uint32 = 0x23
	ToneReorder  uint32 = 0x25
	ToneCallWait uint32 = 0x2D
	ToneNone     uint32 = 0x7F
)

// Lamp indication modes for SET_LAMP.
const (
	LampOff   uint32 = 1
	LampOn    uint32 = 2
	LampWink  uint32 = 3
	LampFlash uint32 = 4
	LampBlink uint32 = 5
)

// Ringer modes for SET_RINGER.
const (
	RingOff     uint32 = 1
	RingInside  uint32 = 2
	RingOutside uint32 = 3
	RingFeature uint32 = 4
)

// Speaker modes for SET_SPEAKER.
const (
	SpeakerOn  uint32 = 1
	SpeakerOff uint32 = 2
)

// Stimulus identifiers. Button definition codes share this space; the two
// CUST_* values are placeholders in model default tables that the layout
// engine replaces with configured lines and speeddials.
const (
	StimulusRedial        uint32 = 0x01
	StimulusSpeedDial     uint32 = 0x02
	StimulusHold          uint32 = 0x03
	StimulusTransfer      uint32 = 0x04
	StimulusForwardAll    uint32 = 0x05
	StimulusForwardBusy   uint32 = 0x06
	StimulusForwardNoAns  uint32 = 0x07
	StimulusDisplay       uint32 = 0x08
	StimulusLine          uint32 = 0x09
	StimulusVoicemail     uint32 = 0x0F
	StimulusAutoAnswer    uint32 = 0x11
	StimulusDND           uint32 = 0x3F
	StimulusConference    uint32 = 0x7D
	StimulusCallPark      uint32 = 0x7E
	StimulusCallPickup    uint32 = 0x7F
	StimulusNone          uint32 = 0xFF
	ButtonCustLineSpeedD  uint32 = 0xB0
	ButtonCustLine        uint32 = 0xB1
)

// Softkey events arriving in SOFT_KEY_EVENT, indices into the 20-entry
// softkey template (1-based; 0 is "no key").
const (
	SoftKeyNone     uint32 = 0
	SoftKeyRedial   uint32 = 1
	SoftKeyNewCall  uint32 = 2
	SoftKeyHold     uint32 = 3
	SoftKeyTransfer uint32 = 4
	SoftKeyCfwdAll  uint32 = 5
	SoftKeyCfwdBusy uint32 = 6
	SoftKeyCfwdNoAn uint32 = 7
	SoftKeyBkspc    uint32 = 8
	SoftKeyEndCall  uint32 = 9
	SoftKeyResume   uint32 = 10
	SoftKeyAnswer   uint32 = 11
	SoftKeyInfo     uint32 = 12
	SoftKeyConfrn   uint32 = 13
	SoftKeyPark     uint32 = 14
	SoftKeyJoin     uint32 = 15
	SoftKeyMeetMe   uint32 = 16
	SoftKeyPickup   uint32 = 17
	SoftKeyGPickup  uint32 = 18
	SoftKeyDND      uint32 = 19
	SoftKeyIDivert  uint32 = 20
)

// Softkey set indices for SELECT_SOFT_KEYS.
const (
	KeySetOnHook          uint32 = 0
	KeySetConnected       uint32 = 1
	KeySetOnHold          uint32 = 2
	KeySetRingIn          uint32 = 3
	KeySetOffHook         uint32 = 4
	KeySetConnWithTrans   uint32 = 5
	KeySetDADFD           uint32 = 6
	KeySetConnWithConf    uint32 = 7
	KeySetRingOut         uint32 = 8
	KeySetOffHookWithFeat uint32 = 9
	KeySetUnknown         uint32 = 10
)

// Device type codes reported in REGISTER.
const (
	Device30SPPlus uint32 = 1
	Device12SPPlus uint32 = 2
	Device12SP     uint32 = 3
	Device12       uint32 = 4
	Device30VIP    uint32 = 5
	Device7910     uint32 = 6
	Device7960     uint32 = 7
	Device7940     uint32 = 8
	Device7935     uint32 = 9
	DeviceATA186   uint32 = 12
	Device7941     uint32 = 115
	Device7971     uint32 = 119
	Addon7914      uint32 = 124
	Device7911     uint32 = 307
	Device7961GE   uint32 = 308
	Device7962     uint32 = 404
	Device7942     uint32 = 434
	Device7945     uint32 = 435
	Device7965     uint32 = 436
	Device7975     uint32 = 437
	Device7905     uint32 = 20000
	Device7970     uint32 = 30006
	Device7912     uint32 = 30007
	DeviceCIPC     uint32 = 30016
	Device7961     uint32 = 30018
	Device7936     uint32 = 30019
)

// DeviceTypeName returns a display name for a device type code.
func DeviceTypeName(code uint32) string {
	switch code {
	case Device30SPPlus:
		return "30SP plus"
	case Device12SPPlus:
		return "12SP plus"
	case Device12SP:
		return "12SP"
	case Device12:
		return "12"
	case Device30VIP:
		return "30VIP"
	case Device7910:
		return "7910"
	case Device7960:
		return "7960"
	case Device7940:
		return "7940"
	case Device7935:
		return "7935"
	case DeviceATA186:
		return "ATA186"
	case Device7941:
		return "7941"
	case Device7971:
		return "7971"
	case Addon7914:
		return "7914 addon"
	case Device7911:
		return "7911"
	case Device7961GE, Device7961:
		return "7961"
	case Device7962:
		return "7962"
	case Device7942:
		return "7942"
	case Device7945:
		return "7945"
	case Device7965:
		return "7965"
	case Device7975:
		return "7975"
	case Device7905:
		return "7905"
	case Device7970:
		return "7970"
	case Device7912:
		return "7912"
	case DeviceCIPC:
		return "IP Communicator"
	case Device7936:
		return "7936"
	default:
		return "unknown"
	}
}

// Reset types for the RESET message.
const (
	ResetHard uint32 = 1
	ResetSoft uint32 = 2
)

// DeviceState values published for Skinny/<line>@<device>.
type DeviceState string

const (
	StateNotInUse    DeviceState = "NOT_INUSE"
	StateInUse       DeviceState = "INUSE"
	StateOnHold      DeviceState = "ONHOLD"
	StateBusy        DeviceState = "BUSY"
	StateUnavailable DeviceState = "UNAVAILABLE"
	StateInvalid     DeviceState = "INVALID"
	StateUnknownDev  DeviceState = "UNKNOWN"
)
