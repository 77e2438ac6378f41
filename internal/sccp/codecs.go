package sccp

import "strings"

// Codec is a skinny media payload capability code.
type Codec uint32

// Audio codec codes as advertised in CAPABILITIES_RES and
// OPEN_RECEIVE_CHANNEL. Video codes are recognised but never negotiated.
const (
	CodecNone  Codec = 0
	CodecAlaw  Codec = 2
	CodecUlaw  Codec = 4
	CodecG723  Codec = 9
	CodecG729A Codec = 12
	CodecG726  Codec = 82
	CodecH261  Codec = 100
	CodecH263  Codec = 101
)

// CodecMask is a set of codecs. The bit position is the order the codec
// appears in knownCodecs, not the wire code, keeping the mask dense.
type CodecMask uint32

var knownCodecs = []Codec{CodecAlaw, CodecUlaw, CodecG723, CodecG729A, CodecG726}

var codecNames = map[Codec]string{
	CodecAlaw:  "alaw",
	CodecUlaw:  "ulaw",
	CodecG723:  "g723",
	CodecG729A: "g729",
	CodecG726:  "g726",
	CodecH261:  "h261",
	CodecH263:  "h263",
}

// CodecByName resolves a config codec name ("ulaw", "g729", ...).
// Returns CodecNone for names it does not know.
func CodecByName(name string) Codec {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, n := range codecNames {
		if n == name {
			return c
		}
	}
	return CodecNone
}

// Name returns the config name for a codec, or "unknown".
func (c Codec) Name() string {
	if n, ok := codecNames[c]; ok {
		return n
	}
	return "unknown"
}

// IsAudio reports whether the codec is a negotiable audio codec.
func (c Codec) IsAudio() bool {
	for _, k := range knownCodecs {
		if k == c {
			return true
		}
	}
	return false
}

// FrameMS returns the packetisation interval used for the codec.
func (c Codec) FrameMS() uint32 {
	switch c {
	case CodecG723:
		return 30
	default:
		return 20
	}
}

// bitFor returns the mask bit for a codec, or 0 if not maskable.
func bitFor(c Codec) CodecMask {
	for i, k := range knownCodecs {
		if k == c {
			return 1 << uint(i)
		}
	}
	return 0
}

// With returns the mask with codec c added. Unknown codes are ignored.
func (m CodecMask) With(c Codec) CodecMask { return m | bitFor(c) }

// Without returns the mask with codec c removed.
func (m CodecMask) Without(c Codec) CodecMask { return m &^ bitFor(c) }

// Has reports whether the mask contains codec c.
func (m CodecMask) Has(c Codec) bool {
	b := bitFor(c)
	return b != 0 && m&b != 0
}

// Intersect returns the codecs present in both masks.
func (m CodecMask) Intersect(o CodecMask) CodecMask { return m & o }

// Empty reports whether no codec is set.
func (m CodecMask) Empty() bool { return m == 0 }

// Codecs returns the codecs in the mask in canonical order.
func (m CodecMask) Codecs() []Codec {
	var out []Codec
	for _, k := range knownCodecs {
		if m.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// String renders the mask as a comma-separated codec list.
func (m CodecMask) String() string {
	cs := m.Codecs()
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.Name()
	}
	return strings.Join(names, ",")
}

// AllCodecs returns a mask containing every negotiable audio codec.
func AllCodecs() CodecMask {
	var m CodecMask
	for _, k := range knownCodecs {
		m = m.With(k)
	}
	return m
}

// BestCodec picks the first preference present in the mask, falling back to
// canonical order when no preference matches. Returns CodecNone for an
// empty mask.
func BestCodec(m CodecMask, prefs []Codec) Codec {
	for _, p := range prefs {
		if m.Has(p) {
			return p
		}
	}
	for _, k := range knownCodecs {
		if m.Has(k) {
			return k
		}
	}
	return CodecNone
}
