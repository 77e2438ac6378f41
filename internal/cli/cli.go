// Package cli serves the operator console: a local TCP socket taking
// newline-delimited commands in the familiar "skinny show ..." shape.
// Every response starts with an advisory status line (OK or ERROR) and
// ends with a blank line so scripted clients know where it stops.
package cli

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/infrastructure/logging"
	"github.com/coppervoice/skinnyd/internal/sccp"
	"github.com/coppervoice/skinnyd/internal/skinnyconf"
)

// Controller is the slice of the server the console operates on.
type Controller interface {
	Registry() *device.Registry
	General() skinnyconf.General
	Reload() error
	ResetDevice(id string, hard bool) error
	ResetAll(hard bool) int
}

// Options configures a console server.
type Options struct {
	Controller Controller
	Logger     *logging.Logger

	// LogLevel is the configured base level, restored by "set debug off".
	LogLevel string
}

// Server is the console listener.
type Server struct {
	ctrl    Controller
	log     *logging.Logger
	baseLvl string

	mu     sync.Mutex
	ln     net.Listener
	debug  string // "off", "on" or "packet"
	closed bool
}

// New builds a console server. Listen must be called before Serve.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	lvl := opts.LogLevel
	if lvl == "" {
		lvl = "info"
	}
	return &Server{
		ctrl:    opts.Controller,
		log:     logger,
		baseLvl: lvl,
		debug:   "off",
	}
}

// Listen binds the console socket.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("console listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("console listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts console clients until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("console: Serve before Listen")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		s.Close()
		return ctx.Err()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if closed {
					return nil
				}
				return fmt.Errorf("console accept: %w", err)
			}
			go s.serve(conn)
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops the listener. Open client connections finish their
// current command and drop on the next read.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.ln != nil {
		s.ln.Close()
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	sc := bufio.NewScanner(conn)
	w := bufio.NewWriter(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return
		}
		w.WriteString(s.execute(line))
		w.WriteString("\n")
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// execute runs one command line and renders the full response, advisory
// line included but without the closing blank line.
func (s *Server) execute(line string) string {
	f := strings.Fields(line)
	if len(f) < 2 || f[0] != "skinny" {
		return "ERROR unknown command, try: skinny show devices"
	}

	switch f[1] {
	case "show":
		if len(f) < 3 {
			return "ERROR show what? devices, device <id>, lines, line <name>, settings"
		}
		return s.show(f[2:])
	case "set":
		if len(f) == 4 && f[2] == "debug" {
			return s.setDebug(f[3])
		}
		return "ERROR usage: skinny set debug {on|off|packet}"
	case "reset":
		if len(f) < 3 {
			return "ERROR usage: skinny reset <device|all> [restart]"
		}
		restart := len(f) > 3 && f[3] == "restart"
		return s.reset(f[2], restart)
	case "reload":
		if err := s.ctrl.Reload(); err != nil {
			return fmt.Sprintf("ERROR %v", err)
		}
		return "OK\nConfiguration reloaded"
	default:
		return fmt.Sprintf("ERROR unknown command %q", f[1])
	}
}

func (s *Server) show(args []string) string {
	switch args[0] {
	case "devices":
		return s.showDevices()
	case "device":
		if len(args) < 2 {
			return "ERROR usage: skinny show device <id>"
		}
		return s.showDevice(args[1])
	case "lines":
		verbose := len(args) > 1 && args[1] == "verbose"
		return s.showLines(verbose)
	case "line":
		if len(args) < 2 {
			return "ERROR usage: skinny show line <name> [on <device>]"
		}
		var dev string
		if len(args) == 4 && args[2] == "on" {
			dev = args[3]
		}
		return s.showLine(args[1], dev)
	case "settings":
		return s.showSettings()
	default:
		return fmt.Sprintf("ERROR unknown show target %q", args[0])
	}
}

func (s *Server) showDevices() string {
	var b strings.Builder
	b.WriteString("OK\n")
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Device\tType\tAddress\tLines\tStatus")
	for _, d := range s.ctrl.Registry().Devices() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			d.ID, sccp.DeviceTypeName(d.TypeCode), transportAddr(d), len(d.Lines), d.State)
	}
	tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// findDevice resolves a console argument against device IDs first, then
// configured names.
func (s *Server) findDevice(key string) (*device.Device, error) {
	reg := s.ctrl.Registry()
	if d, err := reg.DeviceByID(key); err == nil {
		return d, nil
	}
	for _, d := range reg.Devices() {
		if strings.EqualFold(d.Name, key) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no device %q", key)
}

func (s *Server) showDevice(id string) string {
	d, err := s.findDevice(id)
	if err != nil {
		return fmt.Sprintf("ERROR %v", err)
	}
	var b strings.Builder
	b.WriteString("OK\n")
	fmt.Fprintf(&b, "Device:      %s (%s)\n", d.ID, d.Name)
	fmt.Fprintf(&b, "Type:        %s\n", sccp.DeviceTypeName(d.TypeCode))
	fmt.Fprintf(&b, "Status:      %s\n", d.State)
	fmt.Fprintf(&b, "Address:     %s\n", transportAddr(d))
	fmt.Fprintf(&b, "DND:         %t\n", d.DND)
	if !d.Caps.Empty() {
		fmt.Fprintf(&b, "Codecs:      %s\n", d.Caps)
	}
	for _, l := range d.Lines {
		fmt.Fprintf(&b, "Line %d:      %s (%s) %s\n", l.Instance, l.Name, l.CidName, l.State())
	}
	for _, sd := range d.Speeddials {
		kind := "speeddial"
		if sd.IsHint {
			kind = "hint"
		}
		fmt.Fprintf(&b, "Speeddial:   %s -> %s (%s)\n", sd.Label, sd.Exten, kind)
	}
	for _, a := range d.Addons {
		fmt.Fprintf(&b, "Addon:       %s\n", a.Model)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Server) showLines(verbose bool) string {
	var b strings.Builder
	b.WriteString("OK\n")
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	if verbose {
		fmt.Fprintln(tw, "Line\tDevice\tInstance\tContext\tCallerID\tMailbox\tState")
	} else {
		fmt.Fprintln(tw, "Line\tDevice\tState")
	}
	for _, l := range s.ctrl.Registry().Lines() {
		dev := ""
		if l.Device != nil {
			dev = l.Device.ID
		}
		if verbose {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s <%s>\t%s\t%s\n",
				l.Name, dev, l.Instance, l.Context, l.CidName, l.CidNum, l.Mailbox, l.State())
		} else {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Name, dev, l.State())
		}
	}
	tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func (s *Server) showLine(name, dev string) string {
	l, err := s.ctrl.Registry().LineByName(name)
	if err != nil {
		return fmt.Sprintf("ERROR %v", err)
	}
	if dev != "" && (l.Device == nil || !strings.EqualFold(l.Device.ID, dev)) {
		return fmt.Sprintf("ERROR line %q is not on device %q", name, dev)
	}
	var b strings.Builder
	b.WriteString("OK\n")
	fmt.Fprintf(&b, "Line:         %s\n", l.Name)
	if l.Device != nil {
		fmt.Fprintf(&b, "Device:       %s (instance %d)\n", l.Device.ID, l.Instance)
	}
	fmt.Fprintf(&b, "Context:      %s\n", l.Context)
	fmt.Fprintf(&b, "CallerID:     %s <%s>\n", l.CidName, l.CidNum)
	if l.Mailbox != "" {
		fmt.Fprintf(&b, "Mailbox:      %s\n", l.Mailbox)
	}
	fmt.Fprintf(&b, "State:        %s\n", l.State())
	fmt.Fprintf(&b, "CallWaiting:  %t\n", l.CallWaiting)
	fmt.Fprintf(&b, "Transfer:     %t\n", l.Transfer)
	if l.CFwd.All != "" {
		fmt.Fprintf(&b, "CFwdAll:      %s\n", l.CFwd.All)
	}
	if l.CFwd.Busy != "" {
		fmt.Fprintf(&b, "CFwdBusy:     %s\n", l.CFwd.Busy)
	}
	if l.CFwd.NoAnswer != "" {
		fmt.Fprintf(&b, "CFwdNoAnswer: %s\n", l.CFwd.NoAnswer)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Server) showSettings() string {
	g := s.ctrl.General()
	s.mu.Lock()
	debug := s.debug
	s.mu.Unlock()

	var b strings.Builder
	b.WriteString("OK\n")
	fmt.Fprintf(&b, "Bind:               %s:%d\n", g.BindAddr, g.BindPort)
	fmt.Fprintf(&b, "KeepAlive:          %s\n", g.KeepAlive)
	fmt.Fprintf(&b, "DateFormat:         %s\n", g.DateFormat)
	fmt.Fprintf(&b, "RegContext:         %s\n", g.RegContext)
	fmt.Fprintf(&b, "VMExten:            %s\n", g.VMExten)
	fmt.Fprintf(&b, "FirstDigitTimeout:  %s\n", g.FirstDigitTimeout)
	fmt.Fprintf(&b, "MatchDigitTimeout:  %s\n", g.MatchDigitTimeout)
	fmt.Fprintf(&b, "RingTimeout:        %s\n", g.RingTimeout)
	fmt.Fprintf(&b, "Codecs:             %s\n", g.Caps)
	fmt.Fprintf(&b, "Debug:              %s\n", debug)
	return strings.TrimRight(b.String(), "\n")
}

func (s *Server) setDebug(mode string) string {
	switch mode {
	case "on":
		s.log.SetLevel("debug")
		sccp.SetTrace(nil)
	case "packet":
		s.log.SetLevel("debug")
		frameLog := s.log.With("component", "wire")
		sccp.SetTrace(func(dir string, msgType uint32, payload []byte) {
			frameLog.Debug("frame", "dir", dir, "type", fmt.Sprintf("0x%04x", msgType),
				"len", len(payload), "payload", hex.EncodeToString(payload))
		})
	case "off":
		s.log.SetLevel(s.baseLvl)
		sccp.SetTrace(nil)
	default:
		return "ERROR usage: skinny set debug {on|off|packet}"
	}
	s.mu.Lock()
	s.debug = mode
	s.mu.Unlock()
	return fmt.Sprintf("OK\nDebug %s", mode)
}

func (s *Server) reset(target string, restart bool) string {
	if target == "all" {
		n := s.ctrl.ResetAll(restart)
		return fmt.Sprintf("OK\nReset sent to %d devices", n)
	}
	d, err := s.findDevice(target)
	if err != nil {
		return fmt.Sprintf("ERROR %v", err)
	}
	if err := s.ctrl.ResetDevice(d.ID, restart); err != nil {
		return fmt.Sprintf("ERROR %v", err)
	}
	return fmt.Sprintf("OK\nReset sent to %s", d.ID)
}

func transportAddr(d *device.Device) string {
	if d.Session == nil {
		return "-"
	}
	ap := d.Session.RemoteAddr()
	if !ap.IsValid() {
		return "-"
	}
	return ap.String()
}
