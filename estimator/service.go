// Package estimator runs an error-state Kalman filter as a service: it owns the engine, routes
// motion inputs and sensor readings to it under a single lock, and hands out immutable
// snapshots of the estimate to its consumers.
package estimator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hudsonhok/px4-control/eskf"
	"github.com/hudsonhok/px4-control/logging"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrUnknownSensor is returned when a reading refers to a sensor which was never registered.
	ErrUnknownSensor = errors.New("unknown sensor")
	// ErrClosed is returned by every call made after Close.
	ErrClosed = errors.New("estimator closed")
)

// Snapshot is an immutable copy of the estimate.
type Snapshot struct {
	// Seq increases by one with every successful prediction, correction or reset.
	Seq   uint64
	Stamp time.Time
	State eskf.NominalState
	// Sigma is the 1-sigma uncertainty of each error state.
	Sigma  [eskf.ErrorStateSize]float64
	Health eskf.Health
}

// SensorInfo describes a registered sensor.
type SensorInfo struct {
	ID         string
	Dim        int
	NoiseScale float64
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger of the service.
func WithLogger(l logr.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// WithMetrics reports the activity of the service to m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNoiseMonitor enables the NIS monitor. The configuration must be valid, see MonitorConfig.Validate.
func WithNoiseMonitor(cfg MonitorConfig) Option {
	return func(s *Service) {
		s.monitor = newNoiseMonitor(cfg)
	}
}

// WithClock replaces the clock used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service serializes every access to the engine through one mutex. Each call holds the lock
// for its whole duration, so a snapshot never observes a half-applied update.
type Service struct {
	mu       sync.Mutex
	engine   *eskf.ESKF
	sensors  map[string]eskf.SensorModel
	seq      uint64
	stamp    time.Time
	closed   bool
	diverged bool

	log     logr.Logger
	metrics *Metrics
	monitor *noiseMonitor
	now     func() time.Time
}

// New returns a service owning the provided engine. The engine must not be used directly
// afterwards.
func New(engine *eskf.ESKF, opts ...Option) *Service {
	s := &Service{
		engine:  engine,
		sensors: make(map[string]eskf.SensorModel),
		log:     logr.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stamp = s.now()
	return s
}

// Register adds a sensor model under the provided identifier.
func (s *Service) Register(id string, model eskf.SensorModel) error {
	if id == "" {
		return fmt.Errorf("%w: empty sensor id", eskf.ErrInvalidInput)
	}
	if model == nil {
		return fmt.Errorf("%w: nil model for sensor %q", eskf.ErrInvalidInput, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, dup := s.sensors[id]; dup {
		return fmt.Errorf("sensor %q already registered", id)
	}
	s.sensors[id] = model
	s.log.V(logging.VERBOSE).Info("Registered sensor", "sensor", id, "dim", model.Dim())
	if ns, ok := model.(eskf.NoiseScaler); ok {
		s.metrics.observeNoiseScale(id, ns.NoiseScale())
	}
	return nil
}

// Sensors returns the registered sensors sorted by identifier.
func (s *Service) Sensors() []SensorInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]SensorInfo, 0, len(s.sensors))
	for id, model := range s.sensors {
		info := SensorInfo{ID: id, Dim: model.Dim(), NoiseScale: 1}
		if ns, ok := model.(eskf.NoiseScaler); ok {
			info.NoiseScale = ns.NoiseScale()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Predict propagates the estimate by dt seconds with the motion input u.
func (s *Service) Predict(u eskf.MotionInput, dt float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	err := s.engine.Predict(u, dt)
	s.metrics.observePrediction(err)
	if err != nil {
		s.log.V(logging.DEBUG).Info("Prediction rejected", "dt", dt, "error", err.Error())
		return err
	}
	if dt > 0 {
		s.touch()
		s.checkHealth()
	}
	s.log.V(logging.TRACE).Info("Predicted", "dt", dt, "step", s.engine.Steps())
	return nil
}

// Correct applies the measurement y of the sensor registered under id.
func (s *Service) Correct(id string, y []float64) (*eskf.Correction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	model, ok := s.sensors[id]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownSensor, id)
		s.metrics.observeCorrection(id, nil, err)
		return nil, err
	}
	if len(y) == 0 {
		err := fmt.Errorf("%w: empty measurement for sensor %q", eskf.ErrInvalidInput, id)
		s.metrics.observeCorrection(id, nil, err)
		return nil, err
	}
	c, err := s.engine.Correct(model, mat.NewVecDense(len(y), append([]float64(nil), y...)))
	s.metrics.observeCorrection(id, c, err)
	if err != nil {
		s.log.V(logging.DEBUG).Info("Correction rejected", "sensor", id, "error", err.Error())
		return nil, err
	}
	s.touch()
	s.log.V(logging.TRACE).Info("Corrected", "sensor", id, "nis", c.NIS(), "step", c.Step())

	if s.monitor != nil {
		action, scale, err := s.monitor.observe(id, model, c.NIS())
		switch {
		case err != nil:
			s.log.Error(err, "Could not adjust sensor noise", "sensor", id)
		case action != actionNone:
			s.log.Info("Adjusted sensor noise", "sensor", id, "action", action.String(), "scale", scale,
				"nis", c.NIS(), "gate", s.monitor.threshold(id))
			s.metrics.observeNoiseScale(id, scale)
		}
	}
	s.checkHealth()
	return c, nil
}

// Snapshot returns a copy of the current estimate.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Seq:    s.seq,
		Stamp:  s.stamp,
		State:  s.engine.State(),
		Health: s.engine.Health(),
	}
	P := s.engine.Covariance()
	for i := range snap.Sigma {
		snap.Sigma[i] = math.Sqrt(math.Max(P.At(i, i), 0))
	}
	s.metrics.observeSnapshot()
	return snap
}

// Health returns the numerical health of the engine's covariance.
func (s *Service) Health() eskf.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Health()
}

// Reset reinitializes the estimate and restores the nominal noise of every sensor.
func (s *Service) Reset(x0 eskf.NominalState, P0 mat.Symmetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.engine.Reset(x0, P0); err != nil {
		return err
	}
	for id, model := range s.sensors {
		if ns, ok := model.(eskf.NoiseScaler); ok {
			ns.ResetNoise()
			s.metrics.observeNoiseScale(id, 1)
		}
	}
	if s.monitor != nil {
		s.monitor.reset()
	}
	s.touch()
	s.checkHealth()
	s.log.Info("Estimator reset", "state", x0.String())
	return nil
}

// Close waits for the call in progress, if any, after which every call returns ErrClosed.
// Snapshot and Health keep returning the last estimate.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.log.V(logging.VERBOSE).Info("Estimator closed", "seq", s.seq)
	return nil
}

// touch must be called with the lock held after the estimate changed.
func (s *Service) touch() {
	s.seq++
	s.stamp = s.now()
}

// checkHealth logs the transitions of the divergence flag and exports the health metrics.
// It must be called with the lock held.
func (s *Service) checkHealth() {
	h := s.engine.Health()
	if h.Diverged != s.diverged {
		if h.Diverged {
			s.log.Error(h.Err(), "Covariance diverged", "trace", h.Trace, "condition", h.Condition)
		} else {
			s.log.Info("Covariance recovered", "trace", h.Trace, "condition", h.Condition)
		}
		s.diverged = h.Diverged
	}
	if s.metrics == nil {
		return
	}
	var sigma [eskf.ErrorStateSize]float64
	P := s.engine.Covariance()
	for i := range sigma {
		sigma[i] = math.Sqrt(math.Max(P.At(i, i), 0))
	}
	s.metrics.observeHealth(h, sigma)
}
