package server

import (
	"fmt"

	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/sccp"
	"github.com/coppervoice/skinnyd/internal/session"
	"github.com/coppervoice/skinnyd/internal/skinnyconf"
)

// Reload re-reads skinny.conf and swaps the telephony model in place.
// Devices that survive the reload adopt their live session and call
// state onto the new model and are soft-reset so the phone re-registers
// against it. Devices removed from the file are disconnected outright.
func (c *Controller) Reload() error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	cfg, err := skinnyconf.Load(c.opts.Config.SkinnyConf)
	if err != nil {
		return fmt.Errorf("reload aborted: %w", err)
	}

	before := len(c.registry.Devices())
	c.registry.MarkAllForPrune()

	for _, nl := range cfg.Lines {
		old, err := c.registry.LineByName(nl.Name)
		if err != nil {
			if err := c.registry.AddLine(nl); err != nil {
				return fmt.Errorf("reload: %w", err)
			}
			continue
		}
		// Phone-set state survives the reload.
		nl.CFwd = old.CFwd
		nl.MWIActive = old.MWIActive
		c.registry.ReplaceLine(old, nl)
	}

	type migration struct {
		old, next *device.Device
	}
	var migrations []migration

	for _, def := range cfg.Devices {
		old, err := c.registry.DeviceByID(def.Device.ID)
		if err != nil {
			if err := c.registry.AddDevice(def.Device); err != nil {
				return fmt.Errorf("reload: %w", err)
			}
		} else {
			if old.Session != nil {
				migrations = append(migrations, migration{old: old, next: def.Device})
			}
			c.registry.Replace(old, def.Device)
		}
		for _, name := range def.LineNames {
			l, err := c.registry.LineByName(name)
			if err != nil {
				return fmt.Errorf("reload: device %s: %w", def.Device.ID, err)
			}
			if err := c.registry.Attach(def.Device, l); err != nil {
				return fmt.Errorf("reload: device %s: %w", def.Device.ID, err)
			}
		}
	}

	removed, _ := c.registry.PruneMarked()
	for _, d := range removed {
		if d.Session != nil {
			d.Session.Close()
		}
	}

	c.rebuildPlan(cfg)

	c.mu.Lock()
	c.general = cfg.General
	c.mu.Unlock()

	// Move live sessions onto the new model, then ask each phone to
	// re-register so its buttons and keysets match the reloaded config.
	for _, m := range migrations {
		if s, ok := m.old.Session.(*session.Session); ok {
			s.Migrate(m.next)
		} else {
			device.Adopt(m.old, m.next)
		}
		if m.next.Session != nil {
			m.next.Session.Send(sccp.ResetMessage{ResetType: sccp.ResetSoft})
		}
	}

	after := len(c.registry.Devices())
	c.opts.Telemetry.Reload(before, after)
	c.log.Info("configuration reloaded",
		"devices", after,
		"removed", len(removed),
		"migrated", len(migrations))
	return nil
}
