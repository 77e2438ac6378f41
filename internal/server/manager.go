package server

import (
	"fmt"

	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/events"
	"github.com/coppervoice/skinnyd/internal/sccp"
)

// handleManagerRequest answers one skinny/manager/request message with
// the matching SKINNY* event stream. Runs on the broker's delivery
// goroutine; everything it reads comes from registry snapshots.
func (c *Controller) handleManagerRequest(req events.Request) {
	pub := c.opts.Events
	switch req.Action {
	case events.ActionDevices:
		devices := c.registry.Devices()
		out := make([]events.DeviceSummary, 0, len(devices))
		for _, d := range devices {
			out = append(out, events.DeviceSummary{
				Name:       d.ID,
				DeviceType: sccp.DeviceTypeName(d.TypeCode),
				Address:    deviceAddress(d),
				Lines:      len(d.Lines),
				Status:     d.State.String(),
			})
		}
		pub.Devices(req.ActionID, out)

	case events.ActionShowDevice:
		d, err := c.registry.DeviceByID(req.Device)
		if err != nil {
			c.log.Warn("manager showdevice for unknown device", "device", req.Device)
			pub.ShowDevice(req.ActionID, events.DeviceDetail{Name: req.Device, Status: "unknown"})
			return
		}
		detail := events.DeviceDetail{
			Name:       d.ID,
			DeviceType: sccp.DeviceTypeName(d.TypeCode),
			Address:    deviceAddress(d),
			Status:     d.State.String(),
			DND:        d.DND,
		}
		for _, l := range d.Lines {
			detail.Lines = append(detail.Lines, l.Name)
		}
		for _, sd := range d.Speeddials {
			detail.Speeddials = append(detail.Speeddials, fmt.Sprintf("%s (%s)", sd.Label, sd.Exten))
		}
		if !d.Caps.Empty() {
			detail.Codecs = d.Caps.String()
		}
		pub.ShowDevice(req.ActionID, detail)

	case events.ActionLines:
		lines := c.registry.Lines()
		out := make([]events.LineSummary, 0, len(lines))
		for _, l := range lines {
			sum := events.LineSummary{
				Name:  l.Name,
				Label: l.CidName,
				State: string(l.State()),
			}
			if l.Device != nil {
				sum.Device = l.Device.ID
				sum.Instance = l.Instance
			}
			out = append(out, sum)
		}
		pub.Lines(req.ActionID, out)

	case events.ActionShowLine:
		l, err := c.registry.LineByName(req.Line)
		if err != nil {
			c.log.Warn("manager showline for unknown line", "line", req.Line)
			pub.ShowLine(req.ActionID, events.LineDetail{Name: req.Line, State: "unknown"})
			return
		}
		detail := events.LineDetail{
			Name:        l.Name,
			Context:     l.Context,
			CallerID:    fmt.Sprintf("%s <%s>", l.CidName, l.CidNum),
			Mailbox:     l.Mailbox,
			State:       string(l.State()),
			CFwdAll:     l.CFwd.All,
			CFwdBusy:    l.CFwd.Busy,
			CallWaiting: l.CallWaiting,
		}
		if l.Device != nil {
			detail.Device = l.Device.ID
		}
		pub.ShowLine(req.ActionID, detail)

	default:
		c.log.Warn("unknown manager action", "action", req.Action)
	}
}

// deviceAddress renders the remote address of a registered device.
func deviceAddress(d *device.Device) string {
	if d.Session == nil {
		return ""
	}
	ap := d.Session.RemoteAddr()
	if !ap.IsValid() {
		return ""
	}
	return ap.String()
}
