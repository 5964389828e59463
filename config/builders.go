package config

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hudsonhok/px4-control/eskf"
	"github.com/hudsonhok/px4-control/estimator"
)

// Sensor is a sensor model built from the configuration.
type Sensor struct {
	ID    string
	Model eskf.SensorModel
}

// EngineOptions returns the numerical bounds of the engine.
func (c *Config) EngineOptions() eskf.Options {
	return eskf.Options{
		MaxInnovationCondition: c.Filter.MaxInnovationCondition,
		MaxCovarianceTrace:     c.Filter.MaxCovarianceTrace,
		MaxCovarianceCondition: c.Filter.MaxCovarianceCondition,
	}
}

// ProcessNoise returns the process noise densities of the inertial model.
func (c *Config) ProcessNoise() eskf.ProcessNoise {
	return c.Filter.ProcessNoise
}

// InitialState returns a vehicle at rest at the configured position and yaw.
func (c *Config) InitialState() eskf.NominalState {
	x := eskf.NewNominalState()
	p := c.Filter.InitialPosition
	x.Position = r3.Vec{X: p[0], Y: p[1], Z: p[2]}
	x.Attitude = eskf.QuatFromEuler(0, 0, c.Filter.InitialYaw)
	return x
}

// InitialCovariance returns the diagonal initial error covariance.
func (c *Config) InitialCovariance() *mat.SymDense {
	σ := c.Filter.InitialSigma
	blocks := []float64{σ.Position, σ.Velocity, σ.Attitude, σ.Disturbance, σ.AccelBias, σ.Mount}
	diag := make([]float64, 0, eskf.ErrorStateSize)
	for _, s := range blocks {
		diag = append(diag, s*s, s*s, s*s)
	}
	return eskf.Diagonal(diag...)
}

// NewEngine builds an engine driven by the inertial model.
func (c *Config) NewEngine() (*eskf.ESKF, error) {
	model, err := eskf.NewInertialModel(c.ProcessNoise())
	if err != nil {
		return nil, errors.Wrap(err, "inertial model")
	}
	kf, err := eskf.NewESKF(c.InitialState(), c.InitialCovariance(), model, c.EngineOptions())
	if err != nil {
		return nil, errors.Wrap(err, "engine")
	}
	return kf, nil
}

// BuildSensors returns the configured sensors in declaration order.
func (c *Config) BuildSensors() ([]Sensor, error) {
	sensors := make([]Sensor, 0, len(c.Sensors))
	for _, s := range c.Sensors {
		dim, ok := sensorDims[s.Type]
		if !ok {
			return nil, errors.Errorf("sensor %q has unknown type %q", s.ID, s.Type)
		}
		R, err := noiseCovariance(s.Noise, dim)
		if err != nil {
			return nil, errors.Wrapf(err, "sensor %q", s.ID)
		}
		var model eskf.SensorModel
		switch s.Type {
		case SensorPose:
			model, err = eskf.NewPoseSensor(R)
		case SensorPosition:
			model, err = eskf.NewPositionSensor(R)
		case SensorVelocity:
			model, err = eskf.NewVelocitySensor(R)
		case SensorBarometer:
			model, err = eskf.NewBarometerSensor(R.At(0, 0))
		}
		if err != nil {
			return nil, errors.Wrapf(err, "sensor %q", s.ID)
		}
		sensors = append(sensors, Sensor{ID: s.ID, Model: model})
	}
	return sensors, nil
}

// MonitorConfig returns the NIS monitor settings and whether the monitor is enabled.
func (c *Config) MonitorConfig() (estimator.MonitorConfig, bool) {
	return c.Monitor.MonitorConfig, c.Monitor.Enabled
}

// noiseCovariance returns the diagonal covariance of independent components with the provided
// standard deviations. A single value applies to every component.
func noiseCovariance(σ []float64, dim int) (*mat.SymDense, error) {
	switch len(σ) {
	case 1:
		return eskf.ScaledIdentity(dim, σ[0]*σ[0]), nil
	case dim:
		v := make([]float64, dim)
		for i, s := range σ {
			v[i] = s * s
		}
		return eskf.Diagonal(v...), nil
	default:
		return nil, errors.Errorf("%d noise values for a %d dimensional sensor", len(σ), dim)
	}
}
