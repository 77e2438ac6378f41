package skinnyconf

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coppervoice/skinnyd/internal/sccp"
)

func mustAddr(s string) netip.Addr { return netip.MustParseAddr(s) }

const sampleConf = `
[general]
bindaddr = 10.0.0.1
bindport = 2000
keepalive = 60
dateformat = M-D-Y
tos = 184
regcontext = phones
vmexten = 500
firstdigittimeout = 10000
matchdigittimeout = 2000
ringtimeout = 12000
servername = pbx-lab
disallow = all
allow = ulaw
allow = alaw

[lines]
callwaiting = yes
mwiblink = yes

[reception]
type = line
context = internal
callerid = "Front Desk" <1001>
mailbox = 501@voicemail
nat = yes
disallow = alaw

[warehouse]
type = line
callerid = 1002
dnd = yes

[devices]
earlyrtp = yes

[SEP001122334455]
type = device
devicename = Front desk 7960
line = reception
line = warehouse
speeddial = 1005,Boss,hint
speeddial = 95551234@outbound,Taxi
addon = 7914
deny = 0.0.0.0/0
permit = 192.168.1.0/24
disallow = all
allow = ulaw
`

func writeConf(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skinny.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write conf: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConf(t, sampleConf))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	g := cfg.General
	if g.BindAddr.String() != "10.0.0.1" || g.BindPort != 2000 {
		t.Errorf("bind = %s:%d", g.BindAddr, g.BindPort)
	}
	if g.KeepAlive != 60*time.Second {
		t.Errorf("keepalive = %v, want 60s", g.KeepAlive)
	}
	if g.FirstDigitTimeout != 10*time.Second || g.MatchDigitTimeout != 2*time.Second {
		t.Errorf("digit timeouts = %v, %v", g.FirstDigitTimeout, g.MatchDigitTimeout)
	}
	if g.RingTimeout != 12*time.Second {
		t.Errorf("ring timeout = %v, want 12s", g.RingTimeout)
	}
	if g.RegContext != "phones" || g.VMExten != "500" || g.ServerName != "pbx-lab" {
		t.Errorf("general strings = %q %q %q", g.RegContext, g.VMExten, g.ServerName)
	}
	if g.TOS != 184 {
		t.Errorf("tos = %d, want 184", g.TOS)
	}
	// disallow=all then allow=ulaw, allow=alaw: mask is exactly those two,
	// preference order follows appearance.
	if !g.Caps.Has(sccp.CodecUlaw) || !g.Caps.Has(sccp.CodecAlaw) || g.Caps.Has(sccp.CodecG729A) {
		t.Errorf("general caps = %s", g.Caps)
	}
	if len(g.Prefs) != 2 || g.Prefs[0] != sccp.CodecUlaw || g.Prefs[1] != sccp.CodecAlaw {
		t.Errorf("general prefs = %v", g.Prefs)
	}

	if len(cfg.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(cfg.Lines))
	}
	reception := cfg.Lines[0]
	if reception.Name != "reception" || reception.Context != "internal" {
		t.Errorf("reception = %q in %q", reception.Name, reception.Context)
	}
	if reception.CidName != "Front Desk" || reception.CidNum != "1001" {
		t.Errorf("callerid = %q <%s>", reception.CidName, reception.CidNum)
	}
	if reception.Mailbox != "501@voicemail" || !reception.NAT {
		t.Error("mailbox/nat not applied")
	}
	// [lines] defaults applied before the section's own keys.
	if !reception.CallWaiting || !reception.MWIBlink {
		t.Error("line defaults not inherited")
	}
	// Line-level disallow narrows the general mask.
	if reception.Caps.Has(sccp.CodecAlaw) || !reception.Caps.Has(sccp.CodecUlaw) {
		t.Errorf("reception caps = %s", reception.Caps)
	}

	warehouse := cfg.Lines[1]
	if warehouse.CidNum != "1002" || warehouse.CidName != "" {
		t.Errorf("bare callerid = %q <%s>", warehouse.CidName, warehouse.CidNum)
	}
	if !warehouse.DND {
		t.Error("warehouse dnd not set")
	}
	if warehouse.Context != "phones" {
		t.Errorf("warehouse context = %q, want regcontext default", warehouse.Context)
	}

	if len(cfg.Devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(cfg.Devices))
	}
	dev := cfg.Devices[0]
	if dev.Device.ID != "SEP001122334455" || dev.Device.Name != "Front desk 7960" {
		t.Errorf("device = %q (%q)", dev.Device.ID, dev.Device.Name)
	}
	if len(dev.LineNames) != 2 || dev.LineNames[0] != "reception" {
		t.Errorf("line names = %v", dev.LineNames)
	}
	if !dev.Device.EarlyRTP {
		t.Error("[devices] default earlyrtp not inherited")
	}
	if len(dev.Device.Speeddials) != 2 {
		t.Fatalf("speeddials = %d", len(dev.Device.Speeddials))
	}
	boss := dev.Device.Speeddials[0]
	if boss.Exten != "1005" || boss.Label != "Boss" || !boss.IsHint || boss.Context != "" {
		t.Errorf("boss speeddial = %+v", boss)
	}
	taxi := dev.Device.Speeddials[1]
	if taxi.Exten != "95551234" || taxi.Context != "outbound" || taxi.IsHint {
		t.Errorf("taxi speeddial = %+v", taxi)
	}
	if len(dev.Device.Addons) != 1 || dev.Device.Addons[0].Model != "7914" {
		t.Errorf("addons = %v", dev.Device.Addons)
	}
	if dev.Device.ACL.Empty() {
		t.Error("device ACL empty")
	}
	if dev.Device.ACL.Allows(mustAddr("10.9.9.9")) {
		t.Error("ACL should deny outside the permit range")
	}
	if !dev.Device.ACL.Allows(mustAddr("192.168.1.30")) {
		t.Error("ACL should permit the configured range")
	}
	// Device-level disallow=all then allow=ulaw restricts the device to
	// that one codec regardless of what it advertises.
	if !dev.Device.Allowed.Has(sccp.CodecUlaw) || dev.Device.Allowed.Has(sccp.CodecAlaw) {
		t.Errorf("device allowed = %s", dev.Device.Allowed)
	}
	if len(dev.Device.Prefs) != 1 || dev.Device.Prefs[0] != sccp.CodecUlaw {
		t.Errorf("device prefs = %v", dev.Device.Prefs)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		conf string
	}{
		{name: "section without type", conf: "[broken]\ncontext = x\n"},
		{name: "unknown type", conf: "[broken]\ntype = trunk\n"},
		{name: "device without lines", conf: "[SEP0011]\ntype = device\n"},
		{name: "unknown line reference", conf: "[SEP0011]\ntype = device\nline = ghost\n"},
		{name: "line on two devices", conf: `
[a]
type = line
[SEP1]
type = device
line = a
[SEP2]
type = device
line = a
`},
		{name: "all codecs disallowed", conf: "[a]\ntype = line\ndisallow = all\n"},
		{name: "bad keepalive", conf: "[general]\nkeepalive = zero\n"},
		{name: "bad bindaddr", conf: "[general]\nbindaddr = nowhere\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConf(t, tt.conf))
			if !errors.Is(err, ErrConfig) {
				t.Errorf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConf(t, "[general]\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	g := cfg.General
	if g.BindPort != 2000 || g.KeepAlive != 120*time.Second {
		t.Errorf("defaults = port %d, keepalive %v", g.BindPort, g.KeepAlive)
	}
	if g.FirstDigitTimeout != 16*time.Second || g.MatchDigitTimeout != 3*time.Second {
		t.Errorf("digit timeout defaults = %v, %v", g.FirstDigitTimeout, g.MatchDigitTimeout)
	}
	if g.DateFormat != "D-M-Y" || g.RegContext != "skinny" {
		t.Errorf("defaults = %q %q", g.DateFormat, g.RegContext)
	}
	if g.Caps.Empty() {
		t.Error("default codec mask empty")
	}
}

func TestParseSpeeddial(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "minimal", in: "1005,Boss"},
		{name: "with context and hint", in: "1005@internal,Boss,hint"},
		{name: "missing label", in: "1005", wantErr: true},
		{name: "empty extension", in: "@ctx,Boss", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSpeeddial(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
