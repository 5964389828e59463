package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/hudsonhok/px4-control/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of a control tick.
const (
	OutcomeSent     = "sent"
	OutcomeGated    = "gated"
	OutcomeStale    = "stale"
	OutcomeDiverged = "diverged"
	OutcomeNoRef    = "no_reference"
	OutcomeFailed   = "failed"
)

// LoopConfig tunes the control loop.
type LoopConfig struct {
	// Rate of the loop in Hz.
	Rate float64 `yaml:"rate"`
	// Horizon is the number of reference points handed to the controller, spaced by Step.
	Horizon int           `yaml:"horizon"`
	Step    time.Duration `yaml:"step"`
	// MaxEstimateAge is the age above which a snapshot is too old to act upon. Zero disables the check.
	MaxEstimateAge time.Duration `yaml:"maxEstimateAge"`
}

// DefaultLoopConfig runs at 50 Hz with a one second horizon.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{Rate: 50, Horizon: 20, Step: 50 * time.Millisecond, MaxEstimateAge: 200 * time.Millisecond}
}

// Validate returns an error if the loop cannot run with this configuration.
func (c LoopConfig) Validate() error {
	if !(c.Rate > 0) || c.Rate > 1e3 {
		return fmt.Errorf("control rate %f Hz not in (0, 1000]", c.Rate)
	}
	if c.Horizon < 1 {
		return fmt.Errorf("control horizon %d must be positive", c.Horizon)
	}
	if c.Step <= 0 {
		return fmt.Errorf("control step %s must be positive", c.Step)
	}
	if c.MaxEstimateAge < 0 {
		return fmt.Errorf("max estimate age %s must not be negative", c.MaxEstimateAge)
	}
	return nil
}

// Loop periodically reads a snapshot, windows the reference and sends the controller's
// command while the gate allows it. The estimator keeps running regardless.
type Loop struct {
	ctrl Controller
	est  SnapshotSource
	ref  *Reference
	gate *Gate
	sink CommandSink
	cfg  LoopConfig

	log      logr.Logger
	now      func() time.Time
	outcomes *prometheus.CounterVec
	// last outcome, only used by the loop goroutine to log transitions.
	last string
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the logger of the loop.
func WithLoopLogger(l logr.Logger) LoopOption {
	return func(lp *Loop) {
		lp.log = l
	}
}

// WithLoopClock replaces the clock used to window the reference and age the estimate.
func WithLoopClock(now func() time.Time) LoopOption {
	return func(lp *Loop) {
		lp.now = now
	}
}

// WithLoopMetrics counts the outcome of every tick in a counter registered with reg.
func WithLoopMetrics(reg prometheus.Registerer) LoopOption {
	return func(lp *Loop) {
		lp.outcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "px4ctrl",
				Subsystem: "control",
				Name:      "ticks_total",
				Help:      "Number of control loop ticks by outcome",
			},
			[]string{"outcome"},
		)
		reg.MustRegister(lp.outcomes)
	}
}

// NewLoop returns a control loop. Nothing runs until Run is called.
func NewLoop(ctrl Controller, est SnapshotSource, ref *Reference, gate *Gate, sink CommandSink, cfg LoopConfig, opts ...LoopOption) (*Loop, error) {
	if ctrl == nil || est == nil || ref == nil || gate == nil || sink == nil {
		return nil, errors.New("control loop requires a controller, an estimate source, a reference, a gate and a sink")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lp := &Loop{ctrl: ctrl, est: est, ref: ref, gate: gate, sink: sink, cfg: cfg, log: logr.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(lp)
	}
	return lp, nil
}

// Run ticks at the configured rate until ctx is done and returns ctx.Err().
func (lp *Loop) Run(ctx context.Context) error {
	period := time.Duration(float64(time.Second) / lp.cfg.Rate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	lp.log.Info("Control loop started", "period", period.String(), "horizon", lp.cfg.Horizon)
	for {
		select {
		case <-ctx.Done():
			lp.log.Info("Control loop stopped")
			return ctx.Err()
		case <-ticker.C:
			lp.Step(ctx)
		}
	}
}

// Step runs a single tick and returns its outcome.
func (lp *Loop) Step(ctx context.Context) string {
	outcome, err := lp.step(ctx)
	if lp.outcomes != nil {
		lp.outcomes.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		lp.log.V(logging.DEBUG).Info("Control tick failed", "error", err.Error())
	}
	if outcome != lp.last {
		lp.log.V(logging.VERBOSE).Info("Control outcome changed", "from", lp.last, "to", outcome)
		lp.last = outcome
	}
	return outcome
}

func (lp *Loop) step(ctx context.Context) (string, error) {
	if ok, reason := lp.gate.Allow(); !ok {
		lp.log.V(logging.TRACE).Info("Control gated", "reason", reason)
		return OutcomeGated, nil
	}
	now := lp.now()
	snap := lp.est.Snapshot()
	if snap.Health.Diverged {
		return OutcomeDiverged, snap.Health.Err()
	}
	if age := now.Sub(snap.Stamp); lp.cfg.MaxEstimateAge > 0 && age > lp.cfg.MaxEstimateAge {
		return OutcomeStale, fmt.Errorf("estimate is %s old", age)
	}
	window, err := lp.ref.Window(now, lp.cfg.Horizon, lp.cfg.Step)
	if err != nil {
		return OutcomeNoRef, err
	}
	cmd, err := lp.ctrl.Compute(ctx, snap, window)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("computing command: %w", err)
	}
	if cmd.Stamp.IsZero() {
		cmd.Stamp = now
	}
	if err := lp.sink.Send(ctx, cmd); err != nil {
		return OutcomeFailed, fmt.Errorf("sending %s command: %w", cmd.Kind, err)
	}
	lp.log.V(logging.TRACE).Info("Command sent", "kind", cmd.Kind.String(), "velocity", cmd.Velocity, "yawRate", cmd.YawRate)
	return OutcomeSent, nil
}
