// Package skinnyconf parses skinny.conf, the telephony half of the
// configuration: the [general] section, line and device defaults, and the
// named line/device sections the registry is built from.
package skinnyconf

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/sccp"
)

// ErrConfig wraps every parse or validation failure from this package.
var ErrConfig = errors.New("skinnyconf: invalid configuration")

// General is the [general] section.
type General struct {
	BindAddr          netip.Addr
	BindPort          uint16
	KeepAlive         time.Duration
	DateFormat        string
	TOS               int
	COS               int
	RegContext        string
	VMExten           string
	FirstDigitTimeout time.Duration
	MatchDigitTimeout time.Duration
	RingTimeout       time.Duration
	Version           string
	ServerName        string
	Caps              sccp.CodecMask
	Prefs             []sccp.Codec
}

// DeviceDef is a parsed device section; line references stay names until
// the registry resolves them.
type DeviceDef struct {
	Device    *device.Device
	LineNames []string
}

// Config is a fully parsed skinny.conf.
type Config struct {
	General General
	Lines   []*device.Line
	Devices []DeviceDef
}

func defaults() General {
	return General{
		BindAddr:          netip.IPv4Unspecified(),
		BindPort:          2000,
		KeepAlive:         120 * time.Second,
		DateFormat:        "D-M-Y",
		RegContext:        "skinny",
		VMExten:           "",
		FirstDigitTimeout: 16 * time.Second,
		MatchDigitTimeout: 3 * time.Second,
		RingTimeout:       18 * time.Second,
		Caps:              sccp.AllCodecs(),
	}
}

// Load reads and parses skinny.conf from path.
func Load(path string) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowShadows:             true,
		SpaceBeforeInlineComment: true,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return parse(f)
}

func parse(f *ini.File) (*Config, error) {
	cfg := &Config{General: defaults()}

	if s := f.Section("general"); s != nil {
		if err := parseGeneral(&cfg.General, s); err != nil {
			return nil, err
		}
	}

	lineDefaults := f.Section("lines")
	deviceDefaults := f.Section("devices")

	for _, s := range f.Sections() {
		switch s.Name() {
		case ini.DefaultSection, "general", "lines", "devices":
			continue
		}

		switch typ := s.Key("type").String(); typ {
		case "line":
			l, err := parseLine(&cfg.General, s, lineDefaults)
			if err != nil {
				return nil, err
			}
			cfg.Lines = append(cfg.Lines, l)
		case "device":
			d, err := parseDevice(s, deviceDefaults)
			if err != nil {
				return nil, err
			}
			cfg.Devices = append(cfg.Devices, d)
		case "":
			return nil, fmt.Errorf("%w: section [%s] has no type", ErrConfig, s.Name())
		default:
			return nil, fmt.Errorf("%w: section [%s] has unknown type %q", ErrConfig, s.Name(), typ)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseGeneral(g *General, s *ini.Section) error {
	for _, k := range s.Keys() {
		v := k.String()
		var err error
		switch k.Name() {
		case "bindaddr":
			if v == "" || v == "0.0.0.0" {
				g.BindAddr = netip.IPv4Unspecified()
			} else {
				g.BindAddr, err = netip.ParseAddr(v)
			}
		case "bindport":
			var p int
			p, err = strconv.Atoi(v)
			if err == nil && (p < 1 || p > 65535) {
				err = fmt.Errorf("port %d out of range", p)
			}
			g.BindPort = uint16(p)
		case "keepalive":
			var secs int
			secs, err = strconv.Atoi(v)
			if err == nil && secs < 1 {
				err = fmt.Errorf("keepalive %d below 1s", secs)
			}
			g.KeepAlive = time.Duration(secs) * time.Second
		case "dateformat":
			g.DateFormat = v
		case "tos":
			g.TOS, err = strconv.Atoi(v)
		case "cos":
			g.COS, err = strconv.Atoi(v)
		case "regcontext":
			g.RegContext = v
		case "vmexten":
			g.VMExten = v
		case "firstdigittimeout":
			g.FirstDigitTimeout, err = parseMillis(v)
		case "matchdigittimeout":
			g.MatchDigitTimeout, err = parseMillis(v)
		case "ringtimeout":
			g.RingTimeout, err = parseMillis(v)
		case "version":
			g.Version = v
		case "servername":
			g.ServerName = v
		case "allow":
			g.Caps, g.Prefs = applyAllow(g.Caps, g.Prefs, k.ValueWithShadows())
		case "disallow":
			g.Caps, g.Prefs = applyDisallow(g.Caps, g.Prefs, k.ValueWithShadows())
		default:
			// Unknown keys are tolerated for forward compatibility.
		}
		if err != nil {
			return fmt.Errorf("%w: [general] %s: %v", ErrConfig, k.Name(), err)
		}
	}
	return nil
}

func parseMillis(v string) (time.Duration, error) {
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if ms < 100 {
		return 0, fmt.Errorf("%d ms too short", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func parseLine(g *General, s, defaults *ini.Section) (*device.Line, error) {
	l := &device.Line{
		Name:        s.Name(),
		Context:     g.RegContext,
		CallWaiting: true,
		Transfer:    true,
		ThreeWay:    true,
		Caps:        g.Caps,
		Prefs:       append([]sccp.Codec(nil), g.Prefs...),
	}

	for _, sec := range []*ini.Section{defaults, s} {
		if sec == nil {
			continue
		}
		for _, k := range sec.Keys() {
			if err := applyLineKey(l, k); err != nil {
				return nil, fmt.Errorf("%w: line [%s] %s: %v", ErrConfig, s.Name(), k.Name(), err)
			}
		}
	}
	return l, nil
}

func applyLineKey(l *device.Line, k *ini.Key) error {
	v := k.String()
	switch k.Name() {
	case "type":
	case "context":
		l.Context = v
	case "callerid":
		name, num, err := parseCallerID(v)
		if err != nil {
			return err
		}
		l.CidName, l.CidNum = name, num
	case "language":
		l.Language = v
	case "accountcode":
		l.Accountcode = v
	case "mailbox":
		l.Mailbox = v
	case "callgroup":
		g, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		l.CallGroup = uint32(g)
	case "pickupgroup":
		g, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return err
		}
		l.PickupGroup = uint32(g)
	case "callwaiting":
		l.CallWaiting = boolVal(v)
	case "transfer":
		l.Transfer = boolVal(v)
	case "threewaycalling":
		l.ThreeWay = boolVal(v)
	case "dnd":
		l.DND = boolVal(v)
	case "hidecallerid":
		l.HideCID = boolVal(v)
	case "directmedia", "canreinvite":
		l.DirectMedia = boolVal(v)
	case "nat":
		l.NAT = boolVal(v)
	case "mwiblink":
		l.MWIBlink = boolVal(v)
	case "allow":
		l.Caps, l.Prefs = applyAllow(l.Caps, l.Prefs, k.ValueWithShadows())
	case "disallow":
		l.Caps, l.Prefs = applyDisallow(l.Caps, l.Prefs, k.ValueWithShadows())
	}
	return nil
}

func parseDevice(s, defaults *ini.Section) (DeviceDef, error) {
	def := DeviceDef{Device: &device.Device{
		ID:          s.Name(),
		Name:        s.Name(),
		Transfer:    true,
		CallWaiting: true,
	}}

	for _, sec := range []*ini.Section{defaults, s} {
		if sec == nil {
			continue
		}
		for _, k := range sec.Keys() {
			if err := applyDeviceKey(&def, k); err != nil {
				return def, fmt.Errorf("%w: device [%s] %s: %v", ErrConfig, s.Name(), k.Name(), err)
			}
		}
	}

	if len(def.LineNames) == 0 {
		return def, fmt.Errorf("%w: device [%s] has no lines", ErrConfig, s.Name())
	}
	return def, nil
}

func applyDeviceKey(def *DeviceDef, k *ini.Key) error {
	d := def.Device
	switch k.Name() {
	case "type":
	case "devicename":
		d.Name = k.String()
	case "line":
		for _, v := range k.ValueWithShadows() {
			if v = strings.TrimSpace(v); v != "" {
				def.LineNames = append(def.LineNames, v)
			}
		}
	case "speeddial":
		for _, v := range k.ValueWithShadows() {
			sd, err := parseSpeeddial(v)
			if err != nil {
				return err
			}
			d.Speeddials = append(d.Speeddials, sd)
		}
	case "addon":
		for _, v := range k.ValueWithShadows() {
			d.Addons = append(d.Addons, device.Addon{Model: strings.TrimSpace(v)})
		}
	case "permit":
		for _, v := range k.ValueWithShadows() {
			if err := d.ACL.AddPermit(v); err != nil {
				return err
			}
		}
	case "deny":
		for _, v := range k.ValueWithShadows() {
			if err := d.ACL.AddDeny(v); err != nil {
				return err
			}
		}
	case "earlyrtp":
		d.EarlyRTP = boolVal(k.String())
	case "transfer":
		d.Transfer = boolVal(k.String())
	case "callwaiting":
		d.CallWaiting = boolVal(k.String())
	case "mwiblink":
		d.MWIBlink = boolVal(k.String())
	case "dnd":
		d.DND = boolVal(k.String())
	case "allow":
		d.Allowed, d.Prefs = applyAllow(d.Allowed, d.Prefs, k.ValueWithShadows())
	case "disallow":
		if d.Allowed.Empty() {
			// Restricting from an unset mask starts from everything.
			d.Allowed = sccp.AllCodecs()
		}
		d.Allowed, d.Prefs = applyDisallow(d.Allowed, d.Prefs, k.ValueWithShadows())
	}
	return nil
}

// parseSpeeddial parses "ext[@context],label[,hint]".
func parseSpeeddial(v string) (*device.Speeddial, error) {
	parts := strings.Split(v, ",")
	if len(parts) < 2 {
		return nil, fmt.Errorf("speeddial %q needs extension and label", v)
	}
	sd := &device.Speeddial{Label: strings.TrimSpace(parts[1])}

	target := strings.TrimSpace(parts[0])
	if i := strings.IndexByte(target, '@'); i >= 0 {
		sd.Exten, sd.Context = target[:i], target[i+1:]
	} else {
		sd.Exten = target
	}
	if sd.Exten == "" {
		return nil, fmt.Errorf("speeddial %q has empty extension", v)
	}
	if len(parts) > 2 && strings.EqualFold(strings.TrimSpace(parts[2]), "hint") {
		sd.IsHint = true
	}
	return sd, nil
}

// parseCallerID parses `Name <number>` or a bare number.
func parseCallerID(v string) (name, num string, err error) {
	v = strings.TrimSpace(v)
	open := strings.LastIndexByte(v, '<')
	if open < 0 {
		return "", v, nil
	}
	end := strings.IndexByte(v[open:], '>')
	if end < 0 {
		return "", "", fmt.Errorf("callerid %q missing closing bracket", v)
	}
	num = strings.TrimSpace(v[open+1 : open+end])
	name = strings.Trim(strings.TrimSpace(v[:open]), `"`)
	return name, num, nil
}

func boolVal(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "on", "1":
		return true
	default:
		return false
	}
}

// applyAllow adds codecs from one or more comma-lists; order of
// appearance defines preference. "all" resets to the full mask.
func applyAllow(mask sccp.CodecMask, prefs []sccp.Codec, values []string) (sccp.CodecMask, []sccp.Codec) {
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if strings.EqualFold(name, "all") {
				mask = sccp.AllCodecs()
				continue
			}
			c := sccp.CodecByName(name)
			if c == sccp.CodecNone || !c.IsAudio() {
				continue // unknown codec names are skipped, not fatal
			}
			mask = mask.With(c)
			prefs = appendCodec(prefs, c)
		}
	}
	return mask, prefs
}

func applyDisallow(mask sccp.CodecMask, prefs []sccp.Codec, values []string) (sccp.CodecMask, []sccp.Codec) {
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if strings.EqualFold(name, "all") {
				mask = 0
				prefs = nil
				continue
			}
			c := sccp.CodecByName(name)
			if c == sccp.CodecNone {
				continue
			}
			mask = mask.Without(c)
			prefs = removeCodec(prefs, c)
		}
	}
	return mask, prefs
}

func appendCodec(prefs []sccp.Codec, c sccp.Codec) []sccp.Codec {
	for _, p := range prefs {
		if p == c {
			return prefs
		}
	}
	return append(prefs, c)
}

func removeCodec(prefs []sccp.Codec, c sccp.Codec) []sccp.Codec {
	out := prefs[:0]
	for _, p := range prefs {
		if p != c {
			out = append(out, p)
		}
	}
	return out
}

func validate(cfg *Config) error {
	lines := make(map[string]bool, len(cfg.Lines))
	for _, l := range cfg.Lines {
		lines[strings.ToLower(l.Name)] = true
		if l.Caps.Empty() {
			return fmt.Errorf("%w: line [%s] disallows every codec", ErrConfig, l.Name)
		}
	}

	owned := make(map[string]string)
	for _, d := range cfg.Devices {
		for _, name := range d.LineNames {
			key := strings.ToLower(name)
			if !lines[key] {
				return fmt.Errorf("%w: device [%s] references unknown line %q", ErrConfig, d.Device.ID, name)
			}
			if holder, ok := owned[key]; ok {
				return fmt.Errorf("%w: line %q on both [%s] and [%s]", ErrConfig, name, holder, d.Device.ID)
			}
			owned[key] = d.Device.ID
		}
	}
	return nil
}
