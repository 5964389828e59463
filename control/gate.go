package control

import (
	"sync"
	"sync/atomic"
)

// ModeOffboard is the flight mode in which the vehicle accepts external setpoints.
const ModeOffboard = "OFFBOARD"

// VehicleStatus is the state reported by the flight controller.
type VehicleStatus struct {
	Connected bool
	Armed     bool
	Mode      string
}

// Gate decides whether commands may be sent. Commands flow only while the controller is
// enabled and the vehicle is connected, armed and in offboard mode.
type Gate struct {
	enabled atomic.Bool

	mu     sync.RWMutex
	status VehicleStatus
}

// NewGate returns a disabled gate.
func NewGate() *Gate {
	return &Gate{}
}

// SetEnabled enables or disables the controller.
func (g *Gate) SetEnabled(enabled bool) {
	g.enabled.Store(enabled)
}

// Enabled reports whether the controller is enabled.
func (g *Gate) Enabled() bool {
	return g.enabled.Load()
}

// SetStatus records the latest vehicle status.
func (g *Gate) SetStatus(s VehicleStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = s
}

// Status returns the latest vehicle status.
func (g *Gate) Status() VehicleStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// Allow reports whether commands may be sent and, if not, why.
func (g *Gate) Allow() (bool, string) {
	if !g.Enabled() {
		return false, "controller disabled"
	}
	s := g.Status()
	switch {
	case !s.Connected:
		return false, "vehicle not connected"
	case !s.Armed:
		return false, "vehicle disarmed"
	case s.Mode != ModeOffboard:
		return false, "vehicle in " + s.Mode + " mode"
	}
	return true, ""
}
