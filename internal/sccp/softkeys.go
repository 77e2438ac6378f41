package sccp

// Wire geometry of the softkey messages. The template reply carries 32
// label slots and each keyset definition carries 16 key slots regardless
// of how many are populated; sets are padded to 15 on the wire.
const (
	softKeyTemplateSlots = 32
	keysPerSet           = 16
	keySetSlots          = 15
)

// SoftKeyLabel is one entry in the softkey label template.
type SoftKeyLabel struct {
	Label string
	Event uint32
}

// KeySetDefinition is an ordered list of softkey events forming one
// keyset. Entries index the template by event number.
type KeySetDefinition struct {
	Keys []uint32
}

// DefaultSoftKeyTemplate returns the 20-entry label template every phone
// receives. Labels are what 7940/7960 firmware renders natively.
func DefaultSoftKeyTemplate() []SoftKeyLabel {
	return []SoftKeyLabel{
		{"Redial", SoftKeyRedial},
		{"NewCall", SoftKeyNewCall},
		{"Hold", SoftKeyHold},
		{"Trnsfer", SoftKeyTransfer},
		{"CFwdAll", SoftKeyCfwdAll},
		{"CFwdBusy", SoftKeyCfwdBusy},
		{"CFwdNoAnswer", SoftKeyCfwdNoAn},
		{"<<", SoftKeyBkspc},
		{"EndCall", SoftKeyEndCall},
		{"Resume", SoftKeyResume},
		{"Answer", SoftKeyAnswer},
		{"Info", SoftKeyInfo},
		{"Confrn", SoftKeyConfrn},
		{"Park", SoftKeyPark},
		{"Join", SoftKeyJoin},
		{"MeetMe", SoftKeyMeetMe},
		{"PickUp", SoftKeyPickup},
		{"GPickUp", SoftKeyGPickup},
		{"DND", SoftKeyDND},
		{"iDivert", SoftKeyIDivert},
	}
}

// DefaultKeySets returns the eleven keyset definitions, indexed by the
// KeySet* constants.
func DefaultKeySets() []KeySetDefinition {
	return []KeySetDefinition{
		KeySetOnHook: {Keys: []uint32{
			SoftKeyRedial, SoftKeyNewCall, SoftKeyCfwdAll, SoftKeyCfwdBusy, SoftKeyDND,
		}},
		KeySetConnected: {Keys: []uint32{
			SoftKeyHold, SoftKeyEndCall, SoftKeyTransfer, SoftKeyPark,
			SoftKeyCfwdAll, SoftKeyCfwdBusy,
		}},
		KeySetOnHold: {Keys: []uint32{
			SoftKeyResume, SoftKeyNewCall, SoftKeyEndCall, SoftKeyTransfer,
		}},
		KeySetRingIn: {Keys: []uint32{
			SoftKeyAnswer, SoftKeyEndCall, SoftKeyTransfer,
		}},
		KeySetOffHook: {Keys: []uint32{
			SoftKeyRedial, SoftKeyEndCall, SoftKeyCfwdAll, SoftKeyCfwdBusy,
		}},
		KeySetConnWithTrans: {Keys: []uint32{
			SoftKeyHold, SoftKeyEndCall, SoftKeyTransfer, SoftKeyPark,
			SoftKeyCfwdAll, SoftKeyCfwdBusy,
		}},
		KeySetDADFD: {Keys: []uint32{
			SoftKeyBkspc, SoftKeyEndCall,
		}},
		KeySetConnWithConf: {Keys: nil},
		KeySetRingOut: {Keys: []uint32{
			SoftKeyNone, SoftKeyEndCall,
		}},
		KeySetOffHookWithFeat: {Keys: []uint32{
			SoftKeyRedial, SoftKeyEndCall, SoftKeyTransfer,
		}},
		KeySetUnknown: {Keys: nil},
	}
}
