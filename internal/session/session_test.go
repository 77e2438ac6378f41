package session

import (
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coppervoice/skinnyd/internal/callctl"
	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/dialplan"
	"github.com/coppervoice/skinnyd/internal/events"
	"github.com/coppervoice/skinnyd/internal/infrastructure/config"
	"github.com/coppervoice/skinnyd/internal/infrastructure/logging"
	"github.com/coppervoice/skinnyd/internal/infrastructure/mqtt"
	"github.com/coppervoice/skinnyd/internal/rtp"
	"github.com/coppervoice/skinnyd/internal/sccp"
	"github.com/coppervoice/skinnyd/internal/skinnyconf"
)

// --- fakes --------------------------------------------------------------

// testBroker records events.Publisher traffic.
type testBroker struct {
	mu       sync.Mutex
	retained map[string][]byte
}

func newTestBroker() *testBroker {
	return &testBroker{retained: make(map[string][]byte)}
}

func (b *testBroker) PublishRetained(topic string, payload []byte) error {
	b.mu.Lock()
	b.retained[topic] = payload
	b.mu.Unlock()
	return nil
}

func (b *testBroker) PublishEvent(string, []byte) error { return nil }

func (b *testBroker) Subscribe(string, byte, mqtt.MessageHandler) error { return nil }

func (b *testBroker) retainedCopy(topic string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retained[topic]
}

// fakeEndpoint satisfies rtp.Endpoint without binding sockets.
type fakeEndpoint struct {
	local netip.AddrPort

	mu     sync.Mutex
	peer   netip.AddrPort
	codec  sccp.Codec
	closed bool
}

func (e *fakeEndpoint) LocalAddr() netip.AddrPort { return e.local }
func (e *fakeEndpoint) SetPeer(p netip.AddrPort)  { e.mu.Lock(); e.peer = p; e.mu.Unlock() }
func (e *fakeEndpoint) Peer() netip.AddrPort {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peer
}
func (e *fakeEndpoint) SetTOS(int) error     { return nil }
func (e *fakeEndpoint) SetNAT(bool)          {}
func (e *fakeEndpoint) SetCodec(c sccp.Codec) { e.mu.Lock(); e.codec = c; e.mu.Unlock() }
func (e *fakeEndpoint) Codec() sccp.Codec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.codec
}
func (e *fakeEndpoint) Close() error { e.mu.Lock(); e.closed = true; e.mu.Unlock(); return nil }

type fakeAllocator struct {
	// addr is the bind address endpoints report; default 192.0.2.1.
	addr netip.Addr

	mu   sync.Mutex
	next uint16
}

func (a *fakeAllocator) Allocate() (rtp.Endpoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next == 0 {
		a.next = 10000
	}
	addr := a.addr
	if !addr.IsValid() {
		addr = netip.MustParseAddr("192.0.2.1")
	}
	port := a.next
	a.next += 2
	return &fakeEndpoint{local: netip.AddrPortFrom(addr, port)}, nil
}

// --- environment --------------------------------------------------------

type env struct {
	general  skinnyconf.General
	registry *device.Registry
	fabric   *callctl.LocalFabric
	plan     *dialplan.StaticPlan
	alloc    *fakeAllocator
	broker   *testBroker
	log      *logging.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{
		general: skinnyconf.General{
			BindPort:          2000,
			KeepAlive:         120 * time.Second,
			DateFormat:        "D-M-Y",
			RegContext:        "internal",
			FirstDigitTimeout: 400 * time.Millisecond,
			MatchDigitTimeout: 200 * time.Millisecond,
			Version:           "P0S3-08-9-2",
			ServerName:        "skinnyd-test",
		},
		registry: device.NewRegistry(),
		fabric:   callctl.NewLocalFabric(),
		plan:     dialplan.NewStaticPlan(),
		alloc:    &fakeAllocator{},
		broker:   newTestBroker(),
		log:      logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test"),
	}
}

func (e *env) options() Options {
	return Options{
		General:  e.general,
		Registry: e.registry,
		Fabric:   e.fabric,
		Plan:     e.plan,
		RTP:      e.alloc,
		Events:   events.NewPublisher(e.broker),
		Logger:   e.log,
	}
}

// addPhone configures one device with a single line whose name doubles
// as its extension.
func (e *env) addPhone(t *testing.T, id, lineName string) *device.Device {
	t.Helper()
	l := &device.Line{
		Name:        lineName,
		Context:     "internal",
		CidName:     "User " + lineName,
		CidNum:      lineName,
		CallWaiting: true,
		Transfer:    true,
		ThreeWay:    true,
	}
	if err := e.registry.AddLine(l); err != nil {
		t.Fatalf("AddLine: %v", err)
	}
	d := &device.Device{ID: id, Name: id, Transfer: true, CallWaiting: true}
	if err := e.registry.AddDevice(d); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if err := e.registry.Attach(d, l); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	e.plan.Add("internal", lineName)
	return d
}

// --- phone harness ------------------------------------------------------

// phone is the far end of a session's pipe, speaking the wire protocol.
type phone struct {
	conn net.Conn
	in   chan sccp.Message
}

// remoteConn overrides the pipe's placeholder remote address.
type remoteConn struct {
	net.Conn
	remote net.Addr
}

func (c *remoteConn) RemoteAddr() net.Addr { return c.remote }

// localConn overrides the pipe's placeholder local address.
type localConn struct {
	net.Conn
	local net.Addr
}

func (c *localConn) LocalAddr() net.Addr { return c.local }

func (e *env) connect(t *testing.T) *phone {
	return e.connectFrom(t, nil)
}

// connectLocal connects a phone to a session whose controller side
// reports the given local address.
func (e *env) connectLocal(t *testing.T, local net.Addr) *phone {
	t.Helper()
	server, client := net.Pipe()
	s := New(&localConn{Conn: server, local: local}, e.options())
	go s.Run()
	t.Cleanup(func() { s.Close() })

	p := &phone{conn: client, in: make(chan sccp.Message, 256)}
	go p.reader()
	t.Cleanup(func() { client.Close() })
	return p
}

func (e *env) connectFrom(t *testing.T, remote net.Addr) *phone {
	t.Helper()
	server, client := net.Pipe()
	var sconn net.Conn = server
	if remote != nil {
		sconn = &remoteConn{Conn: server, remote: remote}
	}
	s := New(sconn, e.options())
	go s.Run()
	t.Cleanup(func() { s.Close() })

	p := &phone{conn: client, in: make(chan sccp.Message, 256)}
	go p.reader()
	t.Cleanup(func() { client.Close() })
	return p
}

func (p *phone) reader() {
	for {
		m, err := sccp.ReadMessage(p.conn)
		if err != nil {
			close(p.in)
			return
		}
		p.in <- m
	}
}

func (p *phone) send(t *testing.T, m sccp.Message) {
	t.Helper()
	if err := sccp.WriteMessage(p.conn, m); err != nil {
		t.Fatalf("send %T: %v", m, err)
	}
}

// expect waits for the next message of type M, discarding others.
func expect[M sccp.Message](t *testing.T, p *phone) M {
	t.Helper()
	var zero M
	deadline := time.After(3 * time.Second)
	for {
		select {
		case m, ok := <-p.in:
			if !ok {
				t.Fatalf("connection closed waiting for %T", zero)
			}
			if v, ok := m.(M); ok {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %T", zero)
		}
	}
}

// expectClosed waits for the session to drop the connection.
func (p *phone) expectClosed(t *testing.T) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-p.in:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("connection still open")
		}
	}
}

func (p *phone) register(t *testing.T, name string) {
	t.Helper()
	p.send(t, sccp.RegisterMessage{
		Name:       name,
		IP:         [4]byte{10, 0, 0, 2},
		DeviceType: sccp.Device7961,
		MaxStreams: 1,
	})
	expect[sccp.RegisterAckMessage](t, p)
	expect[sccp.CapabilitiesReqMessage](t, p)
	p.send(t, sccp.CapabilitiesResMessage{Caps: []sccp.Capability{
		{Codec: sccp.CodecUlaw, Frames: 20},
		{Codec: sccp.CodecAlaw, Frames: 20},
	}})
}

// buttonFor maps a dial character to its keypad button code.
func buttonFor(c byte) uint32 {
	switch {
	case c >= '0' && c <= '9':
		return uint32(c - '0')
	case c == '*':
		return 14
	case c == '#':
		return 15
	}
	return 0
}

func (p *phone) dial(t *testing.T, digits string) {
	t.Helper()
	for i := 0; i < len(digits); i++ {
		p.send(t, sccp.KeypadButtonMessage{Button: buttonFor(digits[i])})
	}
}

// --- registration tests -------------------------------------------------

func TestRegistrationHandshake(t *testing.T) {
	e := newEnv(t)
	e.addPhone(t, "SEP001122334455", "1001")

	p := e.connect(t)
	p.send(t, sccp.RegisterMessage{
		Name:       "SEP001122334455",
		IP:         [4]byte{10, 0, 0, 2},
		DeviceType: sccp.Device7961,
		MaxStreams: 1,
	})

	ack := expect[sccp.RegisterAckMessage](t, p)
	if ack.KeepAlive != 120 {
		t.Errorf("KeepAlive = %d, want 120", ack.KeepAlive)
	}
	if ack.DateTemplate != "D-M-Y" {
		t.Errorf("DateTemplate = %q", ack.DateTemplate)
	}
	if ack.SecondaryKeepAlive != 120 {
		t.Errorf("SecondaryKeepAlive = %d", ack.SecondaryKeepAlive)
	}
	expect[sccp.CapabilitiesReqMessage](t, p)

	p.send(t, sccp.CapabilitiesResMessage{Caps: []sccp.Capability{
		{Codec: sccp.CodecUlaw, Frames: 20},
	}})

	// Startup queries the phone issues after the ack.
	p.send(t, sccp.ButtonTemplateReqMessage{})
	tmpl := expect[sccp.ButtonTemplateResMessage](t, p)
	if len(tmpl.Buttons) == 0 {
		t.Fatal("empty button template")
	}
	if tmpl.Buttons[0].Definition != byte(sccp.StimulusLine) || tmpl.Buttons[0].Instance != 1 {
		t.Errorf("first button = %+v, want line at instance 1", tmpl.Buttons[0])
	}

	p.send(t, sccp.SoftKeyTemplateReqMessage{})
	keys := expect[sccp.SoftKeyTemplateResMessage](t, p)
	if len(keys.Keys) != 20 {
		t.Errorf("softkey template = %d entries, want 20", len(keys.Keys))
	}

	p.send(t, sccp.SoftKeySetReqMessage{})
	expect[sccp.SoftKeySetResMessage](t, p)
	sel := expect[sccp.SelectSoftKeysMessage](t, p)
	if sel.KeySet != sccp.KeySetOnHook {
		t.Errorf("initial keyset = %d, want onhook", sel.KeySet)
	}

	p.send(t, sccp.LineStateReqMessage{LineNumber: 1})
	ls := expect[sccp.LineStatResMessage](t, p)
	if ls.DirNumber != "1001" {
		t.Errorf("line 1 number = %q, want 1001", ls.DirNumber)
	}

	p.send(t, sccp.VersionReqMessage{})
	ver := expect[sccp.VersionResMessage](t, p)
	if ver.Version != "P0S3-08-9-2" {
		t.Errorf("version = %q", ver.Version)
	}

	d, err := e.registry.DeviceByID("SEP001122334455")
	if err != nil {
		t.Fatalf("DeviceByID: %v", err)
	}
	if d.State != device.Registered {
		t.Errorf("state = %v, want registered", d.State)
	}
}

func TestRegisterUnknownDevice(t *testing.T) {
	e := newEnv(t)
	p := e.connect(t)

	p.send(t, sccp.RegisterMessage{Name: "SEPDEADBEEF0000"})
	rej := expect[sccp.RegisterRejMessage](t, p)
	if rej.Reason != "Unknown device: SEPDEADBEEF0000" {
		t.Errorf("reason = %q", rej.Reason)
	}
	p.expectClosed(t)
}

func TestRegisterACLDenied(t *testing.T) {
	e := newEnv(t)
	d := e.addPhone(t, "SEPACL000000001", "1001")
	if err := d.ACL.AddDeny("10.0.0.0/8"); err != nil {
		t.Fatalf("AddDeny: %v", err)
	}

	p := e.connectFrom(t, &net.TCPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 50000})
	p.send(t, sccp.RegisterMessage{Name: "SEPACL000000001"})
	rej := expect[sccp.RegisterRejMessage](t, p)
	if rej.Reason != "No Authority: SEPACL000000001" {
		t.Errorf("reason = %q", rej.Reason)
	}
	p.expectClosed(t)
}

func TestMessageBeforeRegisterDropsSession(t *testing.T) {
	e := newEnv(t)
	p := e.connect(t)

	p.send(t, sccp.KeepAliveMessage{})
	p.expectClosed(t)
}

func TestKeepAliveAck(t *testing.T) {
	e := newEnv(t)
	e.addPhone(t, "SEP001122334455", "1001")
	p := e.connect(t)
	p.register(t, "SEP001122334455")

	p.send(t, sccp.KeepAliveMessage{})
	expect[sccp.KeepAliveAckMessage](t, p)
}

func TestUnknownMessageTolerated(t *testing.T) {
	e := newEnv(t)
	e.addPhone(t, "SEP001122334455", "1001")
	p := e.connect(t)
	p.register(t, "SEP001122334455")

	p.send(t, sccp.UnknownMessage{Type: 0x0999, Raw: []byte{1, 2, 3}})
	p.send(t, sccp.KeepAliveMessage{})
	expect[sccp.KeepAliveAckMessage](t, p)
}

func TestKeepaliveWatchdog(t *testing.T) {
	e := newEnv(t)
	e.general.KeepAlive = 100 * time.Millisecond
	e.addPhone(t, "SEP001122334455", "1001")

	p := e.connect(t)
	p.register(t, "SEP001122334455")

	// Go silent; the watchdog fires after keepalive plus grace.
	p.expectClosed(t)

	deadline := time.Now().Add(2 * time.Second)
	topic := "skinny/devstate/1001@SEP001122334455"
	for {
		if payload := e.broker.retainedCopy(topic); strings.Contains(string(payload), `"state":"UNAVAILABLE"`) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no UNAVAILABLE state on %s", topic)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUnregister(t *testing.T) {
	e := newEnv(t)
	e.addPhone(t, "SEP001122334455", "1001")
	p := e.connect(t)
	p.register(t, "SEP001122334455")

	p.send(t, sccp.UnregisterMessage{})
	expect[sccp.UnregisterAckMessage](t, p)
	p.expectClosed(t)

	d, _ := e.registry.DeviceByID("SEP001122334455")
	deadline := time.Now().Add(2 * time.Second)
	for d.State != device.Unbound {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want unbound", d.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMWILampFollowsMailbox(t *testing.T) {
	e := newEnv(t)
	e.addPhone(t, "SEP001122334455", "1001")
	p := e.connect(t)
	p.register(t, "SEP001122334455")

	d, _ := e.registry.DeviceByID("SEP001122334455")
	s, ok := d.Session.(*Session)
	if !ok {
		t.Fatal("session not bound")
	}
	l := d.Lines[0]

	s.UpdateMWI(l, 3)
	lamp := expect[sccp.SetLampMessage](t, p)
	if lamp.Stimulus != sccp.StimulusVoicemail || lamp.Instance != 1 || lamp.Mode != sccp.LampOn {
		t.Errorf("line lamp = %+v", lamp)
	}
	agg := expect[sccp.SetLampMessage](t, p)
	if agg.Instance != 0 || agg.Mode != sccp.LampOn {
		t.Errorf("device lamp = %+v", agg)
	}

	s.UpdateMWI(l, 0)
	lamp = expect[sccp.SetLampMessage](t, p)
	if lamp.Mode != sccp.LampOff {
		t.Errorf("line lamp after clear = %+v", lamp)
	}
	agg = expect[sccp.SetLampMessage](t, p)
	if agg.Mode != sccp.LampOff {
		t.Errorf("device lamp after clear = %+v", agg)
	}
}
