package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load, e.g. PX4CTRL_METRICS_ADDR.
const EnvPrefix = "PX4CTRL"

// flagBindings maps viper keys (= env var names without the prefix) to pflag names.
var flagBindings = map[string]string{
	"METRICS_ADDR":    "metrics-addr",
	"STREAM_ADDR":     "stream-addr",
	"STREAM_PERIOD":   "stream-period",
	"V":               "v",
	"LOG_DEVELOPMENT": "log-development",
	"CONTROL_ENABLED": "control-enabled",
	"CONTROL_RATE":    "control-rate",
	"MONITOR_ENABLED": "monitor-enabled",
}

// AddFlags registers the command line flags understood by Load, plus --config.
func AddFlags(fs *flag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to the YAML configuration file")
	fs.String("metrics-addr", d.Metrics.Addr, "address of the Prometheus endpoint, empty to disable")
	fs.String("stream-addr", d.Stream.Addr, "address of the WebSocket stream, empty to disable")
	fs.Duration("stream-period", d.Stream.Period, "period of the WebSocket snapshots")
	fs.Int("v", d.Logging.Verbosity, "log verbosity")
	fs.Bool("log-development", d.Logging.Development, "human readable logs")
	fs.Bool("control-enabled", d.Control.Enabled, "enable the controller at startup")
	fs.Float64("control-rate", d.Control.Rate, "control loop rate in Hz")
	fs.Bool("monitor-enabled", d.Monitor.Enabled, "adapt the sensor noise to the innovation statistics")
}

// Load reads the configuration file at path, if any, then overlays the environment and the flags
// explicitly set in flagSet. Precedence: flags > env > file > defaults.
// flagSet may be nil. The returned configuration is valid.
func Load(path string, flagSet *flag.FlagSet) (*Config, error) {
	cfg := Default()
	if path == "" && flagSet != nil {
		if f := flagSet.Lookup("config"); f != nil {
			path = f.Value.String()
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading configuration")
		}
		if err := Decode(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "decoding %s", path)
		}
	}
	if err := overlay(cfg, flagSet); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

// Decode decodes a YAML document on top of cfg. Unknown fields are rejected.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// overlay applies the environment and the flags to the scalar settings of cfg.
func overlay(cfg *Config, flagSet *flag.FlagSet) error {
	v := viper.New()

	// The file (or the defaults) provide the lowest precedence values.
	v.SetDefault("METRICS_ADDR", cfg.Metrics.Addr)
	v.SetDefault("STREAM_ADDR", cfg.Stream.Addr)
	v.SetDefault("STREAM_PERIOD", cfg.Stream.Period)
	v.SetDefault("V", cfg.Logging.Verbosity)
	v.SetDefault("LOG_DEVELOPMENT", cfg.Logging.Development)
	v.SetDefault("CONTROL_ENABLED", cfg.Control.Enabled)
	v.SetDefault("CONTROL_RATE", cfg.Control.Rate)
	v.SetDefault("MONITOR_ENABLED", cfg.Monitor.Enabled)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if flagSet != nil {
		for key, name := range flagBindings {
			if f := flagSet.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return errors.Wrapf(err, "binding flag --%s", name)
				}
			}
		}
	}

	cfg.Metrics.Addr = v.GetString("METRICS_ADDR")
	cfg.Stream.Addr = v.GetString("STREAM_ADDR")
	cfg.Stream.Period = v.GetDuration("STREAM_PERIOD")
	cfg.Logging.Verbosity = v.GetInt("V")
	cfg.Logging.Development = v.GetBool("LOG_DEVELOPMENT")
	cfg.Control.Enabled = v.GetBool("CONTROL_ENABLED")
	cfg.Control.Rate = v.GetFloat64("CONTROL_RATE")
	cfg.Monitor.Enabled = v.GetBool("MONITOR_ENABLED")
	return nil
}

// String returns cfg as YAML.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(data)
}
