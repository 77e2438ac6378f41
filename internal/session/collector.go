package session

import (
	"strings"
	"sync"
	"time"

	"github.com/coppervoice/skinnyd/internal/callctl"
	"github.com/coppervoice/skinnyd/internal/device"
	"github.com/coppervoice/skinnyd/internal/sccp"
)

// collectMode selects what a finished dial string is used for.
type collectMode int

const (
	// modeDial routes the number as a call.
	modeDial collectMode = iota

	// The remaining modes store the number as one of the line's forward
	// targets.
	modeCfwdAll
	modeCfwdBusy
	modeCfwdNoAn
)

// backspaceKey is the in-band erase request from the << softkey.
const backspaceKey byte = 0x08

// collector gathers digits for one call bubble. It runs on its own
// goroutine: the first digit is awaited for the long first-digit
// timeout, every later digit restarts the shorter inter-digit timeout,
// and each digit is tested against the dialplan. Results are posted
// back to the session.
type collector struct {
	s        *Session
	lineName string
	context  string
	subID    uint32

	digits chan byte
	cancel chan struct{}
	once   sync.Once

	modeMu sync.Mutex
	mode   collectMode
}

// startCollector attaches a collector to a subchannel and starts its
// goroutine. Called with s.mu held.
func (s *Session) startCollector(l *device.Line, sub *device.Subchannel, mode collectMode) {
	c := &collector{
		s:        s,
		lineName: l.Name,
		context:  l.Context,
		subID:    sub.ID,
		digits:   make(chan byte, 16),
		cancel:   make(chan struct{}),
		mode:     mode,
	}
	s.collectors[sub.ID] = c
	go c.run()
}

// push feeds one keypad character. Zero bytes (unmapped buttons) are
// dropped.
func (c *collector) push(d byte) {
	if d == 0 {
		return
	}
	select {
	case c.digits <- d:
	case <-c.cancel:
	}
}

func (c *collector) stop() {
	c.once.Do(func() { close(c.cancel) })
}

func (c *collector) setMode(m collectMode) {
	c.modeMu.Lock()
	c.mode = m
	c.modeMu.Unlock()
}

func (c *collector) getMode() collectMode {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()
	return c.mode
}

func (c *collector) run() {
	first := c.s.opts.General.FirstDigitTimeout
	inter := c.s.opts.General.MatchDigitTimeout
	timer := time.NewTimer(first)
	defer timer.Stop()

	var dialed []byte
	for {
		select {
		case <-c.cancel:
			return

		case d := <-c.digits:
			if d == backspaceKey {
				if len(dialed) > 0 {
					dialed = dialed[:len(dialed)-1]
				}
				resetTimer(timer, inter)
				continue
			}
			if len(dialed) == 0 {
				c.firstDigit()
			}
			if d == '#' {
				// Explicit terminator: dial what we have.
				c.finish(string(dialed))
				return
			}
			dialed = append(dialed, d)

			if done := c.checkFeatureCode(&dialed); done {
				return
			}
			if len(dialed) == 0 {
				// Feature code consumed the buffer; wait for fresh digits.
				resetTimer(timer, first)
				continue
			}

			m := c.s.opts.Plan.Lookup(c.context, string(dialed))
			switch {
			case m.Exact && !m.Partial:
				c.finish(string(dialed))
				return
			case !m.Exact && !m.Partial && c.getMode() == modeDial && !featurePrefix(dialed):
				c.reorder()
				return
			default:
				// Exact-but-extendable or still ambiguous: wait for more.
				resetTimer(timer, inter)
			}

		case <-timer.C:
			if len(dialed) == 0 {
				c.reorder()
				return
			}
			m := c.s.opts.Plan.Lookup(c.context, string(dialed))
			if m.Exact || c.getMode() != modeDial {
				c.finish(string(dialed))
			} else {
				c.reorder()
			}
			return
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// firstDigit switches the phone out of dial tone into collecting mode.
func (c *collector) firstDigit() {
	s := c.s
	subID := c.subID
	s.post(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		l, sub := s.subByRef(subID)
		if sub == nil {
			return
		}
		s.Send(sccp.StopToneMessage{})
		s.selectKeys(l, sub.ID, sccp.KeySetDADFD)
	})
}

// featureCodes are the vertical service codes the collector intercepts.
var featureCodes = []string{"*67", "*69", "*70", "*72", "*73", "*78", "*79", "*82"}

// featurePrefix reports whether the buffer could still grow into a
// feature code. Star codes live outside the dialplan, so they must not
// trip the no-match reorder while being keyed in.
func featurePrefix(dialed []byte) bool {
	for _, code := range featureCodes {
		if strings.HasPrefix(code, string(dialed)) {
			return true
		}
	}
	return false
}

// checkFeatureCode intercepts vertical service codes while dialing.
// Codes that finish the bubble return true; codes that only change call
// state clear the buffer and collection continues.
func (c *collector) checkFeatureCode(dialed *[]byte) bool {
	if c.getMode() != modeDial || (*dialed)[0] != '*' {
		return false
	}
	s := c.s
	subID := c.subID
	lineName := c.lineName

	switch string(*dialed) {
	case "*67":
		s.post(func() { s.setSubCIDHidden(subID, true) })
		*dialed = (*dialed)[:0]
	case "*82":
		s.post(func() { s.setSubCIDHidden(subID, false) })
		*dialed = (*dialed)[:0]
	case "*70":
		s.post(func() { s.setSubNoCallWait(subID) })
		*dialed = (*dialed)[:0]
	case "*69":
		s.post(func() { s.lastCallReturn(lineName, subID) })
		return true
	case "*72":
		c.setMode(modeCfwdAll)
		*dialed = (*dialed)[:0]
	case "*73":
		s.post(func() { s.featureEnd(subID, func(l *device.Line) { s.setCfwdLocked(l, modeCfwdAll, "") }) })
		return true
	case "*78":
		s.post(func() { s.featureEnd(subID, func(*device.Line) { s.setDNDLocked(true) }) })
		return true
	case "*79":
		s.post(func() { s.featureEnd(subID, func(*device.Line) { s.setDNDLocked(false) }) })
		return true
	}
	return false
}

func (c *collector) finish(number string) {
	s := c.s
	subID := c.subID
	mode := c.getMode()
	s.post(func() { s.dialCollected(subID, number, mode) })
}

func (c *collector) reorder() {
	s := c.s
	subID := c.subID
	s.post(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.collectors, subID)
		l, sub := s.subByRef(subID)
		if sub == nil {
			return
		}
		s.reorderLocked(l, sub)
	})
}

// dialCollected consumes a finished dial string on the session worker.
func (s *Session) dialCollected(subID uint32, number string, mode collectMode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collectors, subID)
	l, sub := s.subByRef(subID)
	if sub == nil {
		return
	}
	switch mode {
	case modeCfwdAll, modeCfwdBusy, modeCfwdNoAn:
		s.setCfwdLocked(l, mode, number)
		s.clearSubLocked(l, sub, callctl.CauseNormal)
	default:
		if number == "" {
			s.reorderLocked(l, sub)
			return
		}
		s.placeCallLocked(l, sub, number)
	}
}

func (s *Session) setSubCIDHidden(subID uint32, hidden bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, sub := s.subByRef(subID); sub != nil {
		sub.HidCID = hidden
	}
}

func (s *Session) setSubNoCallWait(subID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, sub := s.subByRef(subID); sub != nil {
		sub.NoCallWait = true
	}
}

// featureEnd applies a line-level feature and closes the dial bubble
// with a confirmation notify.
func (s *Session) featureEnd(subID uint32, apply func(*device.Line)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, sub := s.subByRef(subID)
	if sub == nil {
		return
	}
	delete(s.collectors, subID)
	apply(l)
	s.clearSubLocked(l, sub, callctl.CauseNormal)
}
