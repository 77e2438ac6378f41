package device

import "github.com/coppervoice/skinnyd/internal/sccp"

// Layout composes the button template for a device from its model's
// default pattern plus any addon slots, overlaying configured lines and
// speeddials onto the customisable entries. Line and speeddial instance
// numbers are (re)assigned here; the phone addresses keys by these
// numbers from then on.
//
// Overlay order per customisable slot: next configured line, then next
// hint speeddial (rendered as a line key), then next plain speeddial.
// Slots left over render as NONE. Unknown models produce a zero-button
// layout.
func Layout(d *Device) []sccp.ButtonDefinition {
	pattern := sccp.ModelButtons(d.TypeCode)
	for _, a := range d.Addons {
		pattern = append(pattern, sccp.AddonButtons(a.Model)...)
	}
	if len(pattern) > 42 {
		pattern = pattern[:42]
	}

	var (
		out      []sccp.ButtonDefinition
		lineIdx  int
		hintIdx  int
		plainIdx int
		lineInst uint32 // shared counter for LINE-type keys
		sdInst   uint32 // counter for SPEEDDIAL-type keys
	)

	hints, plains := splitSpeeddials(d.Speeddials)

	nextHint := func() *Speeddial {
		if hintIdx < len(hints) {
			s := hints[hintIdx]
			hintIdx++
			return s
		}
		return nil
	}
	nextPlain := func() *Speeddial {
		if plainIdx < len(plains) {
			s := plains[plainIdx]
			plainIdx++
			return s
		}
		return nil
	}

	for _, def := range pattern {
		btn := sccp.ButtonDefinition{Definition: byte(sccp.StimulusNone)}

		switch def {
		case sccp.ButtonCustLine, sccp.ButtonCustLineSpeedD, sccp.StimulusLine:
			switch {
			case lineIdx < len(d.Lines):
				lineInst++
				l := d.Lines[lineIdx]
				l.Instance = lineInst
				lineIdx++
				btn = sccp.ButtonDefinition{Instance: uint8(lineInst), Definition: byte(sccp.StimulusLine)}
			default:
				if s := nextHint(); s != nil {
					lineInst++
					s.Instance = lineInst
					btn = sccp.ButtonDefinition{Instance: uint8(lineInst), Definition: byte(sccp.StimulusLine)}
				} else if def == sccp.ButtonCustLineSpeedD {
					if s := nextPlain(); s != nil {
						sdInst++
						s.Instance = sdInst
						btn = sccp.ButtonDefinition{Instance: uint8(sdInst), Definition: byte(sccp.StimulusSpeedDial)}
					}
				}
			}
		case sccp.StimulusSpeedDial:
			if s := nextPlain(); s != nil {
				sdInst++
				s.Instance = sdInst
				btn = sccp.ButtonDefinition{Instance: uint8(sdInst), Definition: byte(sccp.StimulusSpeedDial)}
			}
		case sccp.StimulusNone:
			// stays empty
		default:
			// Fixed feature key (redial, hold, transfer, ...).
			btn = sccp.ButtonDefinition{Instance: 1, Definition: byte(def)}
		}

		out = append(out, btn)
	}
	return out
}

func splitSpeeddials(sds []*Speeddial) (hints, plains []*Speeddial) {
	for _, s := range sds {
		if s.IsHint {
			hints = append(hints, s)
		} else {
			plains = append(plains, s)
		}
	}
	return hints, plains
}
