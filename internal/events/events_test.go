package events

import (
	"encoding/json"
	"testing"

	"github.com/coppervoice/skinnyd/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeBroker records publishes and lets tests inject inbound messages.
type fakeBroker struct {
	published []published
	handlers  map[string]mqtt.MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeBroker) PublishRetained(topic string, payload []byte) error {
	f.published = append(f.published, published{topic: topic, payload: payload, retained: true})
	return nil
}

func (f *fakeBroker) PublishEvent(topic string, payload []byte) error {
	f.published = append(f.published, published{topic: topic, payload: payload})
	return nil
}

func (f *fakeBroker) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBroker) inject(t *testing.T, pattern, topic string, payload string) error {
	t.Helper()
	handler, ok := f.handlers[pattern]
	if !ok {
		t.Fatalf("no subscription for %q", pattern)
	}
	return handler(topic, []byte(payload))
}

func TestLineStateRetained(t *testing.T) {
	broker := newFakeBroker()
	p := NewPublisher(broker)

	p.LineState("SEP001122334455", "reception", "INUSE")

	if len(broker.published) != 1 {
		t.Fatalf("published = %d messages, want 1", len(broker.published))
	}
	msg := broker.published[0]
	if msg.topic != "skinny/devstate/reception@SEP001122334455" {
		t.Errorf("topic = %q", msg.topic)
	}
	if !msg.retained {
		t.Error("line state should be retained")
	}

	var body map[string]string
	if err := json.Unmarshal(msg.payload, &body); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if body["state"] != "INUSE" || body["line"] != "reception" {
		t.Errorf("payload = %v", body)
	}
}

func TestDevicesStream(t *testing.T) {
	broker := newFakeBroker()
	p := NewPublisher(broker)

	p.Devices("act-1", []DeviceSummary{
		{Name: "SEP1", DeviceType: "7960", Lines: 2, Status: "registered"},
		{Name: "SEP2", DeviceType: "7940", Lines: 1, Status: "unregistered"},
	})

	if len(broker.published) != 3 {
		t.Fatalf("published = %d messages, want 2 entries + complete", len(broker.published))
	}

	var first map[string]any
	if err := json.Unmarshal(broker.published[0].payload, &first); err != nil {
		t.Fatalf("entry payload: %v", err)
	}
	if first["event"] != "SKINNYdevices" || first["actionid"] != "act-1" || first["name"] != "SEP1" {
		t.Errorf("first entry = %v", first)
	}

	last := broker.published[2]
	if last.topic != "skinny/manager/SKINNYdevicesComplete" {
		t.Errorf("complete topic = %q", last.topic)
	}
	var complete map[string]any
	if err := json.Unmarshal(last.payload, &complete); err != nil {
		t.Fatalf("complete payload: %v", err)
	}
	if complete["total"] != float64(2) || complete["actionid"] != "act-1" {
		t.Errorf("complete = %v", complete)
	}
}

func TestShowLineStream(t *testing.T) {
	broker := newFakeBroker()
	p := NewPublisher(broker)

	p.ShowLine("act-2", LineDetail{Name: "reception", Context: "internal", State: "NOT_INUSE"})

	if len(broker.published) != 2 {
		t.Fatalf("published = %d, want entry + complete", len(broker.published))
	}
	if broker.published[0].topic != "skinny/manager/SKINNYshowline" {
		t.Errorf("topic = %q", broker.published[0].topic)
	}
}

func TestActionIDFallback(t *testing.T) {
	if got := ActionID("given"); got != "given" {
		t.Errorf("ActionID(given) = %q", got)
	}
	generated := ActionID("")
	if generated == "" {
		t.Error("empty ActionID should generate one")
	}
	if other := ActionID(""); other == generated {
		t.Error("generated ActionIDs should be unique")
	}
}

func TestSubscribeRequests(t *testing.T) {
	broker := newFakeBroker()
	p := NewPublisher(broker)

	var got Request
	if err := p.SubscribeRequests(func(r Request) { got = r }); err != nil {
		t.Fatalf("SubscribeRequests: %v", err)
	}

	err := broker.inject(t, "skinny/manager/request", "skinny/manager/request",
		`{"action":"showdevice","device":"SEP1"}`)
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if got.Action != ActionShowDevice || got.Device != "SEP1" {
		t.Errorf("request = %+v", got)
	}
	if got.ActionID == "" {
		t.Error("missing ActionID should be generated")
	}

	// Bad requests return errors but do not dispatch.
	if err := broker.inject(t, "skinny/manager/request", "skinny/manager/request", `{`); err == nil {
		t.Error("malformed JSON should error")
	}
	if err := broker.inject(t, "skinny/manager/request", "skinny/manager/request", `{"device":"x"}`); err == nil {
		t.Error("request without action should error")
	}
}

func TestSubscribeMWI(t *testing.T) {
	broker := newFakeBroker()
	p := NewPublisher(broker)

	type mwiEvent struct {
		mailbox, context string
		newMsgs, oldMsgs int
	}
	var got mwiEvent
	err := p.SubscribeMWI(func(mailbox, context string, newMsgs, oldMsgs int) {
		got = mwiEvent{mailbox, context, newMsgs, oldMsgs}
	})
	if err != nil {
		t.Fatalf("SubscribeMWI: %v", err)
	}

	err = broker.inject(t, "skinny/mwi/+", "skinny/mwi/501@voicemail", `{"new":3,"old":1}`)
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if got.mailbox != "501" || got.context != "voicemail" || got.newMsgs != 3 || got.oldMsgs != 1 {
		t.Errorf("mwi = %+v", got)
	}

	if err := broker.inject(t, "skinny/mwi/+", "skinny/mwi/nocontext", `{"new":1}`); err == nil {
		t.Error("mwi topic without @context should error")
	}
}

func TestNilPublisherIsNoOp(t *testing.T) {
	p := NewPublisher(nil)
	if p != nil {
		t.Fatal("NewPublisher(nil) should return nil")
	}

	p.LineState("SEP1", "a", "INUSE")
	p.Devices("x", nil)
	p.ShowDevice("x", DeviceDetail{})
	p.Lines("x", nil)
	p.ShowLine("x", LineDetail{})
	if err := p.SubscribeRequests(func(Request) {}); err != nil {
		t.Errorf("nil SubscribeRequests: %v", err)
	}
	if err := p.SubscribeMWI(func(string, string, int, int) {}); err != nil {
		t.Errorf("nil SubscribeMWI: %v", err)
	}
}
