// Package server owns the controller's listening socket and the shared
// state every session operates on: the device registry, the call fabric,
// the dialplan and the media allocator. It also bridges the MQTT manager
// and MWI surfaces onto the registry and coordinates configuration
// reloads.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coppervoice/skinnyd/internal/callctl"
	"github.com/coppervoice/skinnyd/internal/cdr"
	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/dialplan"
	"github.com/coppervoice/skinnyd/internal/events"
	"github.com/coppervoice/skinnyd/internal/infrastructure/config"
	"github.com/coppervoice/skinnyd/internal/infrastructure/logging"
	"github.com/coppervoice/skinnyd/internal/rtp"
	"github.com/coppervoice/skinnyd/internal/sccp"
	"github.com/coppervoice/skinnyd/internal/session"
	"github.com/coppervoice/skinnyd/internal/skinnyconf"
	"github.com/coppervoice/skinnyd/internal/telemetry"
)

// Options carries the dependencies a Controller is assembled from.
// Events, Telemetry and CDR may be nil; the affected surfaces become
// no-ops.
type Options struct {
	Config    *config.Config
	Skinny    *skinnyconf.Config
	Events    *events.Publisher
	Telemetry *telemetry.Writer
	CDR       *cdr.Store
	Logger    *logging.Logger
}

// Controller is the running SCCP endpoint controller.
type Controller struct {
	opts Options
	log  *logging.Logger

	registry *device.Registry
	fabric   *callctl.LocalFabric
	plan     *dialplan.StaticPlan
	rtp      rtp.Allocator

	// reloadMu serialises configuration reloads.
	reloadMu sync.Mutex

	// mu guards the listener, the session set and the general section,
	// which a reload replaces.
	mu       sync.Mutex
	general  skinnyconf.General
	ln       net.Listener
	sessions map[*session.Session]struct{}
	closed   bool
}

// New assembles a controller from parsed configuration. The telephony
// model (lines, devices, dialplan) is built here; nothing listens until
// Run.
func New(opts Options) (*Controller, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	c := &Controller{
		opts:     opts,
		log:      opts.Logger.With("component", "server"),
		registry: device.NewRegistry(),
		fabric:   callctl.NewLocalFabric(),
		plan:     dialplan.NewStaticPlan(),
		general:  opts.Skinny.General,
		sessions: make(map[*session.Session]struct{}),
	}
	if err := c.populate(opts.Skinny); err != nil {
		return nil, err
	}

	rc := opts.Config.RTP
	c.rtp = rtp.NewUDPAllocator(opts.Skinny.General.BindAddr, rc.PortMin, rc.PortMax)
	return c, nil
}

// populate loads a parsed skinny.conf into the registry and dialplan.
func (c *Controller) populate(cfg *skinnyconf.Config) error {
	for _, l := range cfg.Lines {
		if err := c.registry.AddLine(l); err != nil {
			return fmt.Errorf("loading lines: %w", err)
		}
	}
	for _, def := range cfg.Devices {
		if err := c.registry.AddDevice(def.Device); err != nil {
			return fmt.Errorf("loading devices: %w", err)
		}
		for _, name := range def.LineNames {
			l, err := c.registry.LineByName(name)
			if err != nil {
				return fmt.Errorf("device %s: %w", def.Device.ID, err)
			}
			if err := c.registry.Attach(def.Device, l); err != nil {
				return fmt.Errorf("device %s: %w", def.Device.ID, err)
			}
		}
	}
	c.rebuildPlan(cfg)
	return nil
}

// rebuildPlan derives the dialplan from the line inventory: every line
// is dialable in its context by name and caller id number.
func (c *Controller) rebuildPlan(cfg *skinnyconf.Config) {
	c.plan.Clear()
	for _, l := range cfg.Lines {
		c.plan.Add(l.Context, l.Name)
		if l.CidNum != "" && l.CidNum != l.Name {
			c.plan.Add(l.Context, l.CidNum)
		}
	}
}

// Registry exposes the device inventory to the CLI.
func (c *Controller) Registry() *device.Registry { return c.registry }

// General returns the live general settings.
func (c *Controller) General() skinnyconf.General {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.general
}

func (c *Controller) sessionOptions() session.Options {
	c.mu.Lock()
	general := c.general
	c.mu.Unlock()
	return session.Options{
		General:   general,
		Registry:  c.registry,
		Fabric:    c.fabric,
		Plan:      c.plan,
		RTP:       c.rtp,
		Events:    c.opts.Events,
		Telemetry: c.opts.Telemetry,
		CDR:       c.opts.CDR,
		Logger:    c.opts.Logger,
	}
}

// Run listens for phones until ctx is cancelled. It blocks.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	general := c.general
	c.mu.Unlock()

	host := ""
	if general.BindAddr.IsValid() && !general.BindAddr.IsUnspecified() {
		host = general.BindAddr.String()
	}
	addr := net.JoinHostPort(host, strconv.Itoa(int(general.BindPort)))
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ln.Close()
		return errors.New("server: controller already shut down")
	}
	c.ln = ln
	c.mu.Unlock()

	if err := c.opts.Events.SubscribeMWI(c.handleMWI); err != nil {
		c.log.Error("mwi subscription failed", "error", err)
	}
	if err := c.opts.Events.SubscribeRequests(c.handleManagerRequest); err != nil {
		c.log.Error("manager subscription failed", "error", err)
	}

	c.log.Info("listening for phones", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		c.Shutdown()
		return ctx.Err()
	})
	g.Go(func() error { return c.monitor(ctx) })
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if c.isClosed() {
					return nil
				}
				return fmt.Errorf("accepting: %w", err)
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			s := session.New(conn, c.sessionOptions())
			c.track(s)
			go func() {
				s.Run()
				c.untrack(s)
			}()
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// monitorInterval paces the housekeeping ticker.
const monitorInterval = 30 * time.Second

// monitor flushes telemetry and takes a periodic census of live
// sessions.
func (c *Controller) monitor(ctx context.Context) error {
	t := time.NewTicker(monitorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.opts.Telemetry.Flush()
			c.mu.Lock()
			n := len(c.sessions)
			c.mu.Unlock()
			c.log.Debug("housekeeping", "sessions", n)
		}
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) track(s *session.Session) {
	c.mu.Lock()
	c.sessions[s] = struct{}{}
	c.mu.Unlock()
}

func (c *Controller) untrack(s *session.Session) {
	c.mu.Lock()
	delete(c.sessions, s)
	c.mu.Unlock()
}

// Shutdown stops the listener and tears down every live session. Safe
// to call more than once.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ln := c.ln
	open := make([]*session.Session, 0, len(c.sessions))
	for s := range c.sessions {
		open = append(open, s)
	}
	c.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, s := range open {
		s.Close()
	}
	c.log.Info("controller stopped", "sessions", len(open))
}

// handleMWI routes a mailbox count change to every line watching that
// mailbox.
func (c *Controller) handleMWI(mailbox, context string, newMsgs, oldMsgs int) {
	for _, l := range c.registry.Lines() {
		box, boxCtx := l.MailboxKey()
		if box != mailbox || boxCtx != context {
			continue
		}
		d := l.Device
		if d == nil || d.Session == nil {
			continue
		}
		s, ok := d.Session.(*session.Session)
		if !ok {
			continue
		}
		s.UpdateMWI(l, newMsgs)
		c.log.Debug("mwi updated",
			"mailbox", mailbox+"@"+context,
			"line", l.Name,
			"new", newMsgs,
			"old", oldMsgs)
	}
}

// ResetDevice asks one phone to re-register (soft) or reboot (hard).
func (c *Controller) ResetDevice(id string, hard bool) error {
	d, err := c.registry.DeviceByID(id)
	if err != nil {
		return err
	}
	if d.Session == nil {
		return fmt.Errorf("device %s is not registered", d.ID)
	}
	resetType := sccp.ResetSoft
	if hard {
		resetType = sccp.ResetHard
	}
	if err := d.Session.Send(sccp.ResetMessage{ResetType: resetType}); err != nil {
		return fmt.Errorf("resetting %s: %w", d.ID, err)
	}
	c.log.Info("device reset", "device", d.ID, "hard", hard)
	return nil
}

// ResetAll resets every registered device, returning how many were told.
func (c *Controller) ResetAll(hard bool) int {
	n := 0
	for _, d := range c.registry.Devices() {
		if d.Session == nil {
			continue
		}
		if err := c.ResetDevice(d.ID, hard); err == nil {
			n++
		}
	}
	return n
}
