package wizard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/usba/internal/gateway"
	"github.com/ashureev/usba/internal/telemetry"
)

// SlotFactory returns the session slot for a device.
type SlotFactory func(userID string) Slot

// Registry owns one Machine per device, created on first use. Its machines
// share one version counter.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	gw       gateway.Gateway
	slots    SlotFactory
	observer Observer
	versions atomic.Uint64
}

// NewRegistry creates an empty registry. observer may be nil.
func NewRegistry(gw gateway.Gateway, slots SlotFactory, observer Observer) *Registry {
	return &Registry{
		machines: make(map[string]*Machine),
		gw:       gw,
		slots:    slots,
		observer: observer,
	}
}

// Get returns the started machine for userID, creating it if needed.
func (r *Registry) Get(ctx context.Context, userID string) *Machine {
	r.mu.RLock()
	m, ok := r.machines[userID]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if m, ok = r.machines[userID]; !ok {
			m = NewMachine(userID, r.gw, r.slots(userID), r.observer)
			m.versions = &r.versions
			r.machines[userID] = m
			slog.Debug("Wizard machine created", "user_id", userID)
		}
		n := len(r.machines)
		r.mu.Unlock()
		telemetry.SetActiveMachines(n)
	}

	m.Start(ctx)
	return m
}

// Lookup returns the machine for userID without creating one.
func (r *Registry) Lookup(userID string) (*Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[userID]
	return m, ok
}

// Len returns the number of machines held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.machines)
}

// EvictIdle drops machines unused for at least ttl with no call in flight.
// Their sessions stay in storage and are restored on the next Get.
func (r *Registry) EvictIdle(now time.Time, ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for userID, m := range r.machines {
		if m.idle(now, ttl) {
			delete(r.machines, userID)
			evicted++
			slog.Debug("Wizard machine evicted", "user_id", userID)
		}
	}
	telemetry.SetActiveMachines(len(r.machines))
	return evicted
}
