// Package config loads the settings of the estimator, the sensors, the control loop and the
// servers from a YAML file, the environment and command line flags.
package config

import (
	"time"

	"github.com/hudsonhok/px4-control/control"
	"github.com/hudsonhok/px4-control/eskf"
	"github.com/hudsonhok/px4-control/estimator"
)

// Sensor types understood by BuildSensors.
const (
	SensorPose      = "pose"
	SensorPosition  = "position"
	SensorVelocity  = "velocity"
	SensorBarometer = "barometer"
)

// Config is the complete configuration.
type Config struct {
	Filter  FilterConfig   `yaml:"filter"`
	Sensors []SensorConfig `yaml:"sensors"`
	Monitor MonitorConfig  `yaml:"monitor"`
	Control ControlConfig  `yaml:"control"`
	Stream  StreamConfig   `yaml:"stream"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Logging LoggingConfig  `yaml:"logging"`
}

// FilterConfig tunes the engine.
type FilterConfig struct {
	InitialPosition [3]float64        `yaml:"initialPosition"`
	InitialYaw      float64           `yaml:"initialYaw"`
	InitialSigma    InitialSigma      `yaml:"initialSigma"`
	ProcessNoise    eskf.ProcessNoise `yaml:"processNoise"`

	MaxInnovationCondition float64 `yaml:"maxInnovationCondition"`
	MaxCovarianceTrace     float64 `yaml:"maxCovarianceTrace"`
	MaxCovarianceCondition float64 `yaml:"maxCovarianceCondition"`
}

// InitialSigma holds the initial 1-sigma uncertainty of each error state block.
type InitialSigma struct {
	Position    float64 `yaml:"position"`    // m
	Velocity    float64 `yaml:"velocity"`    // m/s
	Attitude    float64 `yaml:"attitude"`    // rad
	Disturbance float64 `yaml:"disturbance"` // m/s²
	AccelBias   float64 `yaml:"accelBias"`   // m/s²
	Mount       float64 `yaml:"mount"`       // rad
}

// SensorConfig declares a sensor. Noise holds either one standard deviation used for every
// component or one per component.
type SensorConfig struct {
	ID    string    `yaml:"id"`
	Type  string    `yaml:"type"`
	Noise []float64 `yaml:"noise"`
}

// MonitorConfig enables the NIS monitor of the estimator.
type MonitorConfig struct {
	Enabled                 bool `yaml:"enabled"`
	estimator.MonitorConfig `yaml:",inline"`
}

// ControlConfig tunes the control loop and its fallback controller.
type ControlConfig struct {
	Enabled            bool                    `yaml:"enabled"`
	control.LoopConfig `yaml:",inline"`
	Tracker            control.VelocityTracker `yaml:"tracker"`
}

// StreamConfig sets up the WebSocket stream. An empty address disables it.
type StreamConfig struct {
	Addr   string        `yaml:"addr"`
	Period time.Duration `yaml:"period"`
}

// MetricsConfig sets up the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig selects the logger.
type LoggingConfig struct {
	Verbosity   int  `yaml:"verbosity"`
	Development bool `yaml:"development"`
}

// Default returns the configuration used when nothing else is provided: a motion capture pose
// sensor and a barometer, the monitor enabled and the control loop disabled.
func Default() *Config {
	opts := eskf.DefaultOptions()
	return &Config{
		Filter: FilterConfig{
			InitialSigma: InitialSigma{
				Position:    1,
				Velocity:    0.5,
				Attitude:    0.1,
				Disturbance: 0.5,
				AccelBias:   0.1,
				Mount:       0.01,
			},
			ProcessNoise:           eskf.DefaultProcessNoise(),
			MaxInnovationCondition: opts.MaxInnovationCondition,
			MaxCovarianceTrace:     opts.MaxCovarianceTrace,
			MaxCovarianceCondition: opts.MaxCovarianceCondition,
		},
		Sensors: []SensorConfig{
			{ID: "mocap", Type: SensorPose, Noise: []float64{0.01, 0.01, 0.01, 0.005, 0.005, 0.005, 0.005}},
			{ID: "baro", Type: SensorBarometer, Noise: []float64{0.5}},
		},
		Monitor: MonitorConfig{Enabled: true, MonitorConfig: estimator.DefaultMonitorConfig()},
		Control: ControlConfig{LoopConfig: control.DefaultLoopConfig(), Tracker: control.DefaultVelocityTracker()},
		Stream:  StreamConfig{Addr: ":8080", Period: 100 * time.Millisecond},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}
