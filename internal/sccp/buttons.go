package sccp

// repeat builds n copies of a button definition code.
func repeat(code uint32, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = code
	}
	return out
}

func concat(parts ...[]uint32) []uint32 {
	var out []uint32
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ModelButtons returns the default button pattern for a device type code.
// Entries of ButtonCustLine and ButtonCustLineSpeedD are placeholders the
// layout engine fills from configuration. Unknown device codes return an
// empty layout.
func ModelButtons(deviceType uint32) []uint32 {
	switch deviceType {
	case Device30SPPlus, Device30VIP:
		return concat(
			repeat(ButtonCustLine, 4),
			[]uint32{StimulusRedial, StimulusVoicemail, StimulusCallPark, StimulusForwardAll, StimulusConference},
			repeat(StimulusNone, 4),
			repeat(StimulusSpeedDial, 13),
		)
	case Device12SPPlus, Device12SP, Device12:
		return concat(
			repeat(ButtonCustLine, 2),
			repeat(StimulusSpeedDial, 4),
			[]uint32{StimulusHold, StimulusRedial, StimulusTransfer, StimulusForwardAll, StimulusCallPark, StimulusVoicemail},
		)
	case Device7910:
		return []uint32{
			StimulusLine, StimulusHold, StimulusTransfer, StimulusDisplay, StimulusVoicemail,
			StimulusConference, StimulusForwardAll, StimulusSpeedDial, StimulusSpeedDial, StimulusRedial,
		}
	case Device7960, Device7961, Device7961GE, Device7962, Device7965:
		return repeat(ButtonCustLineSpeedD, 6)
	case Device7940, Device7941, Device7942, Device7945:
		return repeat(ButtonCustLineSpeedD, 2)
	case Device7970, Device7971, Device7975, DeviceCIPC:
		return repeat(ButtonCustLineSpeedD, 8)
	case Device7905, Device7911, Device7912, DeviceATA186:
		return []uint32{StimulusLine, StimulusHold}
	case Device7935, Device7936:
		return []uint32{StimulusLine, StimulusLine}
	default:
		return nil
	}
}

// AddonButtons returns the placeholder slots contributed by one addon
// module. Only the 7914 sidecar is recognised.
func AddonButtons(model string) []uint32 {
	if model == "7914" {
		return repeat(ButtonCustLineSpeedD, 14)
	}
	return nil
}
