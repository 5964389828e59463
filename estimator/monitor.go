package estimator

import (
	"fmt"
	"math"

	"github.com/hudsonhok/px4-control/eskf"
)

// MonitorConfig tunes the per-sensor NIS monitor which inflates the measurement noise of a
// sensor whose innovations stay outside the chi-square gate.
type MonitorConfig struct {
	// Confidence of the chi-square gate, e.g. 0.95.
	Confidence float64 `yaml:"confidence"`
	// Window is the number of consecutive out-of-gate (resp. in-gate) corrections before the
	// noise is inflated (resp. restored).
	Window int `yaml:"window"`
	// Factor multiplies the current noise scale on each inflation.
	Factor float64 `yaml:"factor"`
	// MaxScale caps the ratio of the current to the nominal noise covariance.
	MaxScale float64 `yaml:"maxScale"`
}

// DefaultMonitorConfig returns a 95% gate over five corrections, doubling the noise up to 100x.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{Confidence: 0.95, Window: 5, Factor: 2, MaxScale: 100}
}

// Validate returns an error if the configuration cannot drive a monitor.
func (c MonitorConfig) Validate() error {
	if !(c.Confidence > 0 && c.Confidence < 1) {
		return fmt.Errorf("monitor confidence %f not in (0, 1)", c.Confidence)
	}
	if c.Window < 1 {
		return fmt.Errorf("monitor window %d must be positive", c.Window)
	}
	if !(c.Factor > 1) || math.IsInf(c.Factor, 0) {
		return fmt.Errorf("monitor factor %f must be finite and greater than one", c.Factor)
	}
	if !(c.MaxScale >= c.Factor) || math.IsInf(c.MaxScale, 0) {
		return fmt.Errorf("monitor max scale %f must be finite and at least the factor %f", c.MaxScale, c.Factor)
	}
	return nil
}

// gateState tracks the recent NIS history of one sensor.
type gateState struct {
	threshold float64
	outside   int
	inside    int
}

// noiseMonitor is only used under the service lock.
type noiseMonitor struct {
	cfg   MonitorConfig
	gates map[string]*gateState
}

func newNoiseMonitor(cfg MonitorConfig) *noiseMonitor {
	return &noiseMonitor{cfg: cfg, gates: make(map[string]*gateState)}
}

// monitorAction is what observe decided to do with the noise of a sensor.
type monitorAction int

const (
	actionNone monitorAction = iota
	actionInflate
	actionRestore
)

func (a monitorAction) String() string {
	switch a {
	case actionInflate:
		return "inflate"
	case actionRestore:
		return "restore"
	default:
		return "none"
	}
}

// observe records the NIS of an accepted correction and adjusts the sensor's noise if needed.
// It returns the action taken and the resulting noise scale.
func (m *noiseMonitor) observe(id string, model eskf.SensorModel, nis float64) (monitorAction, float64, error) {
	scaler, ok := model.(eskf.NoiseScaler)
	if !ok {
		return actionNone, 1, nil
	}
	g, ok := m.gates[id]
	if !ok {
		g = &gateState{threshold: eskf.NISThreshold(model.Dim(), m.cfg.Confidence)}
		m.gates[id] = g
	}
	scale := scaler.NoiseScale()
	if nis > g.threshold || math.IsNaN(nis) {
		g.outside++
		g.inside = 0
		if g.outside < m.cfg.Window || scale >= m.cfg.MaxScale {
			return actionNone, scale, nil
		}
		g.outside = 0
		next := math.Min(scale*m.cfg.Factor, m.cfg.MaxScale)
		if err := scaler.ScaleNoise(next); err != nil {
			return actionNone, scale, err
		}
		return actionInflate, next, nil
	}
	g.inside++
	g.outside = 0
	if g.inside < m.cfg.Window || scale == 1 {
		return actionNone, scale, nil
	}
	g.inside = 0
	scaler.ResetNoise()
	return actionRestore, 1, nil
}

// threshold returns the NIS gate of a sensor, or NaN if it was never observed.
func (m *noiseMonitor) threshold(id string) float64 {
	if g, ok := m.gates[id]; ok {
		return g.threshold
	}
	return math.NaN()
}

func (m *noiseMonitor) reset() {
	m.gates = make(map[string]*gateState)
}
