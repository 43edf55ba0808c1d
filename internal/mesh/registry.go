package mesh

import "time"

// Registry is the authoritative map of known devices plus the approval set.
// It is not safe for concurrent use on its own: the Gatekeeper owns it and
// serializes every mutation behind one lock, so request handlers and the
// sweep observe a consistent snapshot.
type Registry struct {
	devices  map[string]*Device
	approved map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		devices:  make(map[string]*Device),
		approved: make(map[string]struct{}),
	}
}

// NameTaken reports whether a currently registered device already uses name.
// Uniqueness is checked at registration time only; a rejected or re-registered
// device frees its name.
func (r *Registry) NameTaken(name string) bool {
	for _, d := range r.devices {
		if d.Name == name {
			return true
		}
	}
	return false
}

func (r *Registry) Put(d *Device) {
	r.devices[d.ID] = d
}

func (r *Registry) Get(id string) (*Device, bool) {
	d, ok := r.devices[id]
	return d, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.devices[id]
	return ok
}

// Remove deletes the device and its approval entry outright; rejection is not
// a tombstone.
func (r *Registry) Remove(id string) {
	delete(r.devices, id)
	delete(r.approved, id)
}

// Approve flips the device online and admits it to the approval set. This is
// the only transition out of pending.
func (r *Registry) Approve(id string) {
	if d, ok := r.devices[id]; ok {
		d.State = StateOnline
	}
	r.approved[id] = struct{}{}
}

func (r *Registry) IsApproved(id string) bool {
	_, ok := r.approved[id]
	return ok
}

// Heartbeat advances lastSeen and revives an offline device, reporting the
// revival. It never promotes pending to online: a device must be vetted by an
// admin before it is treated as routable.
func (r *Registry) Heartbeat(id string, now time.Time) (revived, ok bool) {
	d, ok := r.devices[id]
	if !ok {
		return false, false
	}
	d.LastSeen = now
	if d.State == StateOffline {
		d.State = StateOnline
		revived = true
	}
	return revived, true
}

// Sweep marks every online device idle for longer than offlineAfter as
// offline and returns the flipped devices.
func (r *Registry) Sweep(now time.Time, offlineAfter time.Duration) []Device {
	var flipped []Device
	for _, d := range r.devices {
		if d.State == StateOnline && now.Sub(d.LastSeen) > offlineAfter {
			d.State = StateOffline
			flipped = append(flipped, *d)
		}
	}
	return flipped
}

// Snapshot returns a copy of every device.
func (r *Registry) Snapshot() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	return out
}

// Counts returns the totals for the health endpoint.
func (r *Registry) Counts() (total, online int) {
	total = len(r.devices)
	for _, d := range r.devices {
		if d.State == StateOnline {
			online++
		}
	}
	return total, online
}
