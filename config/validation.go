package config

import (
	"math"

	"github.com/pkg/errors"

	"github.com/hudsonhok/px4-control/eskf"
	"github.com/hudsonhok/px4-control/logging"
)

// Validate checks the whole configuration and returns the first problem found.
func (c *Config) Validate() error {
	f := c.Filter
	for name, v := range map[string]float64{
		"initialPosition.x": f.InitialPosition[0],
		"initialPosition.y": f.InitialPosition[1],
		"initialPosition.z": f.InitialPosition[2],
		"initialYaw":        f.InitialYaw,
	} {
		if !finite(v) {
			return errors.Errorf("filter %s is not finite", name)
		}
	}
	for name, v := range map[string]float64{
		"initialSigma.position":    f.InitialSigma.Position,
		"initialSigma.velocity":    f.InitialSigma.Velocity,
		"initialSigma.attitude":    f.InitialSigma.Attitude,
		"initialSigma.disturbance": f.InitialSigma.Disturbance,
		"initialSigma.accelBias":   f.InitialSigma.AccelBias,
		"initialSigma.mount":       f.InitialSigma.Mount,
		"maxInnovationCondition":   f.MaxInnovationCondition,
		"maxCovarianceTrace":       f.MaxCovarianceTrace,
		"maxCovarianceCondition":   f.MaxCovarianceCondition,
	} {
		if !(v > 0) || !finite(v) {
			return errors.Errorf("filter %s=%g must be positive and finite", name, v)
		}
	}
	if err := f.ProcessNoise.Validate(); err != nil {
		return errors.Wrap(err, "filter")
	}

	if len(c.Sensors) == 0 {
		return errors.New("at least one sensor is required")
	}
	ids := make(map[string]bool, len(c.Sensors))
	for i, s := range c.Sensors {
		if s.ID == "" {
			return errors.Errorf("sensor #%d has no id", i)
		}
		if ids[s.ID] {
			return errors.Errorf("sensor id %q is used twice", s.ID)
		}
		ids[s.ID] = true
		dim, ok := sensorDims[s.Type]
		if !ok {
			return errors.Errorf("sensor %q has unknown type %q", s.ID, s.Type)
		}
		if len(s.Noise) != 1 && len(s.Noise) != dim {
			return errors.Errorf("sensor %q needs 1 or %d noise values, got %d", s.ID, dim, len(s.Noise))
		}
		for _, σ := range s.Noise {
			if !(σ > 0) || !finite(σ) {
				return errors.Errorf("sensor %q noise %g must be positive and finite", s.ID, σ)
			}
		}
	}

	if c.Monitor.Enabled {
		if err := c.Monitor.MonitorConfig.Validate(); err != nil {
			return errors.WithStack(err)
		}
	}
	if err := c.Control.LoopConfig.Validate(); err != nil {
		return errors.WithStack(err)
	}
	if err := c.Control.Tracker.Validate(); err != nil {
		return errors.WithStack(err)
	}
	if c.Stream.Addr != "" && c.Stream.Period <= 0 {
		return errors.Errorf("stream period %s must be positive", c.Stream.Period)
	}
	if c.Logging.Verbosity < 0 || c.Logging.Verbosity > logging.TRACE {
		return errors.Errorf("log verbosity %d not in [0, %d]", c.Logging.Verbosity, logging.TRACE)
	}
	return nil
}

var sensorDims = map[string]int{
	SensorPose:      eskf.PoseDim,
	SensorPosition:  3,
	SensorVelocity:  3,
	SensorBarometer: 1,
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
