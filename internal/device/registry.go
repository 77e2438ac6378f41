package device

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Registry owns every configured device and line. Lookup order and
// iteration order follow configuration order; device IDs compare
// case-insensitively. The registry lock guards the maps and the prune
// flags, not per-device runtime state.
type Registry struct {
	mu      sync.RWMutex
	devices []*Device
	byID    map[string]*Device
	lines   []*Line
	byLine  map[string]*Line

	nextCall atomic.Uint32
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Device),
		byLine: make(map[string]*Line),
	}
}

// NextCallID returns the next monotonic call id, starting at 1.
func (r *Registry) NextCallID() uint32 {
	return r.nextCall.Add(1)
}

// AddLine registers a configured line.
func (r *Registry) AddLine(l *Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(l.Name)
	if _, ok := r.byLine[key]; ok {
		return fmt.Errorf("%w: line %q", ErrExists, l.Name)
	}
	r.byLine[key] = l
	r.lines = append(r.lines, l)
	return nil
}

// AddDevice registers a configured device.
func (r *Registry) AddDevice(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(d.ID)
	if _, ok := r.byID[key]; ok {
		return fmt.Errorf("%w: device %q", ErrExists, d.ID)
	}
	r.byID[key] = d
	r.devices = append(r.devices, d)
	return nil
}

// Attach binds a line to a device, enforcing the one-device-per-line
// invariant and assigning the next button instance.
func (r *Registry) Attach(d *Device, l *Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l.Device != nil && l.Device != d {
		return fmt.Errorf("%w: %q held by %q", ErrLineOwned, l.Name, l.Device.ID)
	}
	l.Device = d
	l.Instance = uint32(len(d.Lines) + 1)
	d.Lines = append(d.Lines, l)
	return nil
}

// DeviceByID finds a device, case-insensitively.
func (r *Registry) DeviceByID(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byID[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("%w: device %q", ErrNotFound, id)
	}
	return d, nil
}

// LineByName finds a line.
func (r *Registry) LineByName(name string) (*Line, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.byLine[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: line %q", ErrNotFound, name)
	}
	return l, nil
}

// Devices returns the devices in configuration order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Lines returns the lines in configuration order.
func (r *Registry) Lines() []*Line {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Line, len(r.lines))
	copy(out, r.lines)
	return out
}

// MarkAllForPrune flags every device and line. A following rebuild
// clears the flag on entries that survive; PruneMarked removes the rest.
func (r *Registry) MarkAllForPrune() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		d.prune = true
	}
	for _, l := range r.lines {
		l.prune = true
	}
}

// Keep clears the prune flag on a device and its lines.
func (r *Registry) Keep(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.prune = false
	for _, l := range d.Lines {
		l.prune = false
	}
}

// KeepLine clears the prune flag on a line.
func (r *Registry) KeepLine(l *Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.prune = false
}

// Replace swaps a pruned device for its reloaded successor in place,
// preserving configuration order. The successor inherits nothing here;
// session migration is the reload coordinator's job.
func (r *Registry) Replace(old, next *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(old.ID)
	r.byID[key] = next
	for i, d := range r.devices {
		if d == old {
			r.devices[i] = next
			return
		}
	}
}

// ReplaceLine swaps a pruned line for its reloaded successor.
func (r *Registry) ReplaceLine(old, next *Line) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(old.Name)
	r.byLine[key] = next
	for i, l := range r.lines {
		if l == old {
			r.lines[i] = next
			return
		}
	}
}

// PruneMarked removes every still-flagged device and line, returning the
// removals so the caller can tear down their sessions.
func (r *Registry) PruneMarked() (devices []*Device, lines []*Line) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keptD := r.devices[:0]
	for _, d := range r.devices {
		if d.prune {
			delete(r.byID, strings.ToLower(d.ID))
			devices = append(devices, d)
			continue
		}
		keptD = append(keptD, d)
	}
	r.devices = keptD

	keptL := r.lines[:0]
	for _, l := range r.lines {
		if l.prune {
			delete(r.byLine, strings.ToLower(l.Name))
			if l.Device != nil {
				detachLine(l.Device, l)
			}
			lines = append(lines, l)
			continue
		}
		keptL = append(keptL, l)
	}
	r.lines = keptL
	return devices, lines
}

func detachLine(d *Device, l *Line) {
	for i, dl := range d.Lines {
		if dl == l {
			d.Lines = append(d.Lines[:i], d.Lines[i+1:]...)
			break
		}
	}
	l.Device = nil
	l.Instance = 0
}
