package server

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/events"
	"github.com/coppervoice/skinnyd/internal/infrastructure/config"
	"github.com/coppervoice/skinnyd/internal/infrastructure/logging"
	"github.com/coppervoice/skinnyd/internal/infrastructure/mqtt"
	"github.com/coppervoice/skinnyd/internal/sccp"
	"github.com/coppervoice/skinnyd/internal/skinnyconf"
)

const confV1 = `
[general]
bindaddr = 127.0.0.1
keepalive = 120

[1001]
type = line
callerid = Alice <201>
mailbox = 1001@default

[1002]
type = line
callerid = Bob <1002>

[SEP001122334455]
type = device
line = 1001

[SEP0011AABBCCDD]
type = device
line = 1002
`

const confV2 = `
[general]
bindaddr = 127.0.0.1
keepalive = 60

[1001]
type = line
callerid = Alicia <201>
mailbox = 1001@default

[SEP001122334455]
type = device
line = 1001
`

// fakeBroker records published payloads per topic.
type fakeBroker struct {
	mu     sync.Mutex
	events map[string][][]byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{events: make(map[string][][]byte)}
}

func (b *fakeBroker) PublishRetained(topic string, payload []byte) error {
	return b.PublishEvent(topic, payload)
}

func (b *fakeBroker) PublishEvent(topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[topic] = append(b.events[topic], append([]byte(nil), payload...))
	return nil
}

func (b *fakeBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	return nil
}

func (b *fakeBroker) published(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events[topic]
}

// fakeTransport stands in for a registered phone's session.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []sccp.Message
	closed bool
}

func (f *fakeTransport) Send(m sccp.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) RemoteAddr() netip.AddrPort {
	return netip.MustParseAddrPort("192.0.2.10:51234")
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) lastReset(t *testing.T) sccp.ResetMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if r, ok := f.sent[i].(sccp.ResetMessage); ok {
			return r
		}
	}
	t.Fatal("no RESET sent")
	return sccp.ResetMessage{}
}

// writeConf drops a skinny.conf into dir and returns its path.
func writeConf(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "skinny.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing conf: %v", err)
	}
	return path
}

func newController(t *testing.T, conf string, broker events.Broker) (*Controller, *config.Config) {
	t.Helper()
	path := writeConf(t, t.TempDir(), conf)
	skinny, err := skinnyconf.Load(path)
	if err != nil {
		t.Fatalf("skinnyconf.Load: %v", err)
	}
	cfg := &config.Config{
		SkinnyConf: path,
		RTP:        config.RTPConfig{PortMin: 10000, PortMax: 10010},
	}
	c, err := New(Options{
		Config: cfg,
		Skinny: skinny,
		Events: events.NewPublisher(broker),
		Logger: logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, cfg
}

func TestNewBuildsModel(t *testing.T) {
	c, _ := newController(t, confV1, nil)

	d, err := c.registry.DeviceByID("SEP001122334455")
	if err != nil {
		t.Fatalf("DeviceByID: %v", err)
	}
	if len(d.Lines) != 1 || d.Lines[0].Name != "1001" {
		t.Fatalf("device lines = %v", d.Lines)
	}
	if d.Lines[0].Instance != 1 {
		t.Errorf("line instance = %d, want 1", d.Lines[0].Instance)
	}

	l, err := c.registry.LineByName("1001")
	if err != nil {
		t.Fatalf("LineByName: %v", err)
	}
	if l.CidName != "Alice" || l.CidNum != "201" {
		t.Errorf("callerid = %q <%q>", l.CidName, l.CidNum)
	}

	// Lines are dialable by name and by caller id number.
	if m := c.plan.Lookup("skinny", "1001"); !m.Exact {
		t.Error("1001 not in dialplan")
	}
	if m := c.plan.Lookup("skinny", "201"); !m.Exact {
		t.Error("caller id number 201 not in dialplan")
	}
}

func TestManagerDevices(t *testing.T) {
	broker := newFakeBroker()
	c, _ := newController(t, confV1, broker)

	c.handleManagerRequest(events.Request{Action: events.ActionDevices, ActionID: "req-1"})

	got := broker.published("skinny/manager/SKINNYdevices")
	if len(got) != 2 {
		t.Fatalf("device events = %d, want 2", len(got))
	}
	if !strings.Contains(string(got[0]), `"name":"SEP001122334455"`) {
		t.Errorf("first event = %s", got[0])
	}
	if !strings.Contains(string(got[0]), `"status":"unbound"`) {
		t.Errorf("first event = %s", got[0])
	}

	done := broker.published("skinny/manager/SKINNYdevicesComplete")
	if len(done) != 1 || !strings.Contains(string(done[0]), `"total":2`) {
		t.Fatalf("complete = %v", done)
	}
	if !strings.Contains(string(done[0]), `"actionid":"req-1"`) {
		t.Errorf("complete missing actionid: %s", done[0])
	}
}

func TestManagerShowLine(t *testing.T) {
	broker := newFakeBroker()
	c, _ := newController(t, confV1, broker)

	c.handleManagerRequest(events.Request{Action: events.ActionShowLine, ActionID: "req-2", Line: "1001"})

	got := broker.published("skinny/manager/SKINNYshowline")
	if len(got) != 1 {
		t.Fatalf("showline events = %d, want 1", len(got))
	}
	body := string(got[0])
	for _, want := range []string{
		`"context":"skinny"`,
		`"callerid":"Alice <201>"`,
		`"mailbox":"1001@default"`,
		`"device":"SEP001122334455"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("showline missing %s: %s", want, body)
		}
	}
}

func TestManagerShowDeviceUnknown(t *testing.T) {
	broker := newFakeBroker()
	c, _ := newController(t, confV1, broker)

	c.handleManagerRequest(events.Request{Action: events.ActionShowDevice, ActionID: "req-3", Device: "SEPnope"})

	got := broker.published("skinny/manager/SKINNYshowdevice")
	if len(got) != 1 || !strings.Contains(string(got[0]), `"status":"unknown"`) {
		t.Fatalf("showdevice = %v", got)
	}
}

func TestResetDevice(t *testing.T) {
	c, _ := newController(t, confV1, nil)

	if err := c.ResetDevice("SEP001122334455", false); err == nil {
		t.Fatal("reset of unregistered device did not fail")
	}

	d, _ := c.registry.DeviceByID("SEP001122334455")
	tr := &fakeTransport{}
	d.Session = tr

	if err := c.ResetDevice("SEP001122334455", false); err != nil {
		t.Fatalf("soft reset: %v", err)
	}
	if r := tr.lastReset(t); r.ResetType != sccp.ResetSoft {
		t.Errorf("reset type = %d, want soft", r.ResetType)
	}

	if err := c.ResetDevice("sep001122334455", true); err != nil {
		t.Fatalf("hard reset by lowercase id: %v", err)
	}
	if r := tr.lastReset(t); r.ResetType != sccp.ResetHard {
		t.Errorf("reset type = %d, want hard", r.ResetType)
	}

	if n := c.ResetAll(false); n != 1 {
		t.Errorf("ResetAll = %d, want 1", n)
	}
}

func TestHandleMWIUnboundLine(t *testing.T) {
	c, _ := newController(t, confV1, nil)

	// No device is registered for the mailbox's line; must not panic.
	c.handleMWI("1001", "default", 2, 0)
	c.handleMWI("9999", "default", 1, 0)
}

func TestShutdownIdempotent(t *testing.T) {
	c, _ := newController(t, confV1, nil)
	c.Shutdown()
	c.Shutdown()
	if !c.isClosed() {
		t.Fatal("controller not closed")
	}
}

func TestReload(t *testing.T) {
	c, cfg := newController(t, confV1, nil)

	// Runtime state that must survive: a forward target set from the
	// phone, a live session on a surviving device, and an in-flight
	// subchannel.
	l, _ := c.registry.LineByName("1001")
	l.CFwd.All = "1999"
	d, _ := c.registry.DeviceByID("SEP001122334455")
	tr := &fakeTransport{}
	d.Session = tr
	d.State = device.Registered
	l.Hook = device.OffHook
	sub, err := l.NewSub(7, true)
	if err != nil {
		t.Fatalf("NewSub: %v", err)
	}

	droppedDev, _ := c.registry.DeviceByID("SEP0011AABBCCDD")
	droppedTr := &fakeTransport{}
	droppedDev.Session = droppedTr

	if err := os.WriteFile(cfg.SkinnyConf, []byte(confV2), 0o644); err != nil {
		t.Fatalf("rewriting conf: %v", err)
	}
	if err := c.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	nl, err := c.registry.LineByName("1001")
	if err != nil {
		t.Fatalf("line 1001 lost in reload: %v", err)
	}
	if nl == l {
		t.Fatal("line object not replaced")
	}
	if nl.CidName != "Alicia" {
		t.Errorf("CidName = %q, want reloaded value", nl.CidName)
	}
	if nl.CFwd.All != "1999" {
		t.Errorf("CFwd.All = %q, forward lost in reload", nl.CFwd.All)
	}

	if _, err := c.registry.DeviceByID("SEP0011AABBCCDD"); err == nil {
		t.Error("removed device still in registry")
	}
	if _, err := c.registry.LineByName("1002"); err == nil {
		t.Error("removed line still in registry")
	}
	if m := c.plan.Lookup("skinny", "1002"); m.Exact {
		t.Error("removed line still dialable")
	}

	// Survivor keeps its session and call state on the new model and is
	// told to re-register; the dropped device loses its transport.
	nd, _ := c.registry.DeviceByID("SEP001122334455")
	if nd.Session != device.Transport(tr) {
		t.Error("session not carried onto reloaded device")
	}
	if nd.State != device.Registered {
		t.Errorf("registration state = %v, want registered", nd.State)
	}
	if len(nl.Subs) != 1 || nl.Subs[0] != sub {
		t.Fatalf("subchannel not migrated: %v", nl.Subs)
	}
	if nl.Subs[0].Line != nl {
		t.Error("migrated subchannel still points at old line")
	}
	if nl.Hook != device.OffHook {
		t.Error("hook state lost in reload")
	}
	if r := tr.lastReset(t); r.ResetType != sccp.ResetSoft {
		t.Errorf("survivor reset type = %d, want soft", r.ResetType)
	}
	tr.mu.Lock()
	closed := tr.closed
	tr.mu.Unlock()
	if closed {
		t.Error("survivor transport closed by reload")
	}
	droppedTr.mu.Lock()
	droppedClosed := droppedTr.closed
	droppedTr.mu.Unlock()
	if !droppedClosed {
		t.Error("removed device transport not closed")
	}

	if got := c.General().KeepAlive; got != 60*time.Second {
		t.Errorf("KeepAlive = %v, want reloaded 60s", got)
	}
}

func TestReloadBadFileKeepsModel(t *testing.T) {
	c, cfg := newController(t, confV1, nil)

	if err := os.WriteFile(cfg.SkinnyConf, []byte("[general]\nkeepalive = nonsense\n"), 0o644); err != nil {
		t.Fatalf("rewriting conf: %v", err)
	}
	if err := c.Reload(); err == nil {
		t.Fatal("reload of broken file did not fail")
	}

	if _, err := c.registry.DeviceByID("SEP0011AABBCCDD"); err != nil {
		t.Errorf("model damaged by failed reload: %v", err)
	}
	if got := c.General().KeepAlive; got != 120*time.Second {
		t.Errorf("KeepAlive = %v, want original 120s", got)
	}
}
