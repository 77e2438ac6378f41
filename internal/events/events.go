// Package events bridges controller state onto the MQTT broker.
//
// Three surfaces live here: retained per-line device state on
// skinny/devstate/<line>@<device>, manager-style event streams on
// skinny/manager/<event> answered from requests on skinny/manager/request,
// and the inbound MWI feed on skinny/mwi/<mailbox>@<context>.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coppervoice/skinnyd/internal/infrastructure/mqtt"
)

// Broker is the slice of the MQTT client this package uses. Satisfied
// by *mqtt.Client; tests substitute an in-memory fake.
type Broker interface {
	PublishRetained(topic string, payload []byte) error
	PublishEvent(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Publisher pushes controller events to the broker.
//
// A nil *Publisher is valid: every method becomes a no-op, so callers
// need no enabled checks when MQTT is switched off.
type Publisher struct {
	broker Broker
}

// NewPublisher wraps a broker connection. Pass nil when MQTT is
// disabled to get a no-op publisher.
func NewPublisher(broker Broker) *Publisher {
	if broker == nil {
		return nil
	}
	return &Publisher{broker: broker}
}

// LineState publishes the retained state for one line key.
// State strings match the phone-facing line states: NOT_INUSE, INUSE,
// ONHOLD, BUSY, UNAVAILABLE, INVALID, UNKNOWN.
func (p *Publisher) LineState(deviceID, line, state string) {
	if p == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"device":    deviceID,
		"line":      line,
		"state":     state,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	p.broker.PublishRetained(mqtt.Topics{}.DeviceState(line, deviceID), payload)
}

// DeviceSummary is one SKINNYdevices entry.
type DeviceSummary struct {
	Name       string `json:"name"`
	DeviceType string `json:"devicetype"`
	Address    string `json:"address,omitempty"`
	Lines      int    `json:"lines"`
	Status     string `json:"status"`
}

// DeviceDetail is the SKINNYshowdevice payload.
type DeviceDetail struct {
	Name       string   `json:"name"`
	DeviceType string   `json:"devicetype"`
	Address    string   `json:"address,omitempty"`
	Status     string   `json:"status"`
	Lines      []string `json:"lines"`
	Speeddials []string `json:"speeddials,omitempty"`
	Codecs     string   `json:"codecs,omitempty"`
	DND        bool     `json:"dnd"`
}

// LineSummary is one SKINNYlines entry.
type LineSummary struct {
	Name     string `json:"name"`
	Device   string `json:"device,omitempty"`
	Instance uint32 `json:"instance,omitempty"`
	Label    string `json:"label,omitempty"`
	State    string `json:"state"`
}

// LineDetail is the SKINNYshowline payload.
type LineDetail struct {
	Name        string `json:"name"`
	Device      string `json:"device,omitempty"`
	Context     string `json:"context"`
	CallerID    string `json:"callerid,omitempty"`
	Mailbox     string `json:"mailbox,omitempty"`
	State       string `json:"state"`
	CFwdAll     string `json:"cfwdall,omitempty"`
	CFwdBusy    string `json:"cfwdbusy,omitempty"`
	CallWaiting bool   `json:"callwaiting"`
}

// ActionID returns the given id, or a fresh UUID when the request
// carried none. Every event in a stream echoes the same id.
func ActionID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// Devices publishes a SKINNYdevices stream: one event per device and a
// closing SKINNYdevicesComplete with the total.
func (p *Publisher) Devices(actionID string, devices []DeviceSummary) {
	if p == nil {
		return
	}
	for _, d := range devices {
		p.managerEvent("SKINNYdevices", actionID, d)
	}
	p.complete("SKINNYdevicesComplete", actionID, len(devices))
}

// ShowDevice publishes a SKINNYshowdevice stream for one device.
func (p *Publisher) ShowDevice(actionID string, d DeviceDetail) {
	if p == nil {
		return
	}
	p.managerEvent("SKINNYshowdevice", actionID, d)
	p.complete("SKINNYshowdeviceComplete", actionID, 1)
}

// Lines publishes a SKINNYlines stream.
func (p *Publisher) Lines(actionID string, lines []LineSummary) {
	if p == nil {
		return
	}
	for _, l := range lines {
		p.managerEvent("SKINNYlines", actionID, l)
	}
	p.complete("SKINNYlinesComplete", actionID, len(lines))
}

// ShowLine publishes a SKINNYshowline stream for one line.
func (p *Publisher) ShowLine(actionID string, l LineDetail) {
	if p == nil {
		return
	}
	p.managerEvent("SKINNYshowline", actionID, l)
	p.complete("SKINNYshowlineComplete", actionID, 1)
}

func (p *Publisher) managerEvent(event, actionID string, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return
	}
	fields["event"] = event
	fields["actionid"] = actionID

	payload, _ := json.Marshal(fields)
	p.broker.PublishEvent(mqtt.Topics{}.ManagerEvent(event), payload)
}

func (p *Publisher) complete(event, actionID string, total int) {
	payload, _ := json.Marshal(map[string]any{
		"event":    event,
		"actionid": actionID,
		"total":    total,
	})
	p.broker.PublishEvent(mqtt.Topics{}.ManagerEvent(event), payload)
}

// Request is a parsed manager request from skinny/manager/request.
type Request struct {
	Action   string `json:"action"`
	ActionID string `json:"actionid"`
	Device   string `json:"device,omitempty"`
	Line     string `json:"line,omitempty"`
}

// Manager request actions.
const (
	ActionDevices    = "devices"
	ActionShowDevice = "showdevice"
	ActionLines      = "lines"
	ActionShowLine   = "showline"
)

// SubscribeRequests wires a handler to the manager request topic.
// Requests without an ActionID are assigned a UUID before dispatch.
func (p *Publisher) SubscribeRequests(handler func(Request)) error {
	if p == nil {
		return nil
	}
	return p.broker.Subscribe(mqtt.Topics{}.ManagerRequest(), 1,
		func(topic string, payload []byte) error {
			var req Request
			if err := json.Unmarshal(payload, &req); err != nil {
				return fmt.Errorf("parsing manager request: %w", err)
			}
			if req.Action == "" {
				return fmt.Errorf("manager request without action")
			}
			req.ActionID = ActionID(req.ActionID)
			handler(req)
			return nil
		})
}

// MWIHandler receives mailbox message counts.
type MWIHandler func(mailbox, context string, newMsgs, oldMsgs int)

// mwiPayload matches the JSON voicemail systems publish.
type mwiPayload struct {
	New int `json:"new"`
	Old int `json:"old"`
}

// SubscribeMWI watches every mailbox topic and forwards message counts.
// The topic suffix carries the address: skinny/mwi/<mailbox>@<context>.
func (p *Publisher) SubscribeMWI(handler MWIHandler) error {
	if p == nil {
		return nil
	}
	return p.broker.Subscribe(mqtt.Topics{}.AllMWI(), 1,
		func(topic string, payload []byte) error {
			mailbox, context, err := splitMWITopic(topic)
			if err != nil {
				return err
			}
			var counts mwiPayload
			if err := json.Unmarshal(payload, &counts); err != nil {
				return fmt.Errorf("parsing mwi payload for %s: %w", topic, err)
			}
			handler(mailbox, context, counts.New, counts.Old)
			return nil
		})
}

// splitMWITopic extracts mailbox and context from a full MWI topic.
func splitMWITopic(topic string) (mailbox, context string, err error) {
	suffix, ok := strings.CutPrefix(topic, mqtt.TopicPrefixMWI+"/")
	if !ok {
		return "", "", fmt.Errorf("unexpected mwi topic %q", topic)
	}
	mailbox, context, ok = strings.Cut(suffix, "@")
	if !ok || mailbox == "" || context == "" {
		return "", "", fmt.Errorf("malformed mwi address %q", suffix)
	}
	return mailbox, context, nil
}
