package control

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/hudsonhok/px4-control/eskf"
	"github.com/hudsonhok/px4-control/estimator"
	"github.com/hudsonhok/px4-control/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

type fixedSource struct {
	mu   sync.Mutex
	snap estimator.Snapshot
}

func (s *fixedSource) Snapshot() estimator.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

type recordingSink struct {
	mu   sync.Mutex
	cmds []Command
	err  error
}

func (s *recordingSink) Send(_ context.Context, cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.cmds = append(s.cmds, cmd)
	return nil
}

func (s *recordingSink) sent() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.cmds...)
}

func offboard() VehicleStatus {
	return VehicleStatus{Connected: true, Armed: true, Mode: ModeOffboard}
}

func newTestLoop(t *testing.T, opts ...LoopOption) (*Loop, *fixedSource, *Reference, *Gate, *recordingSink) {
	t.Helper()
	src := &fixedSource{snap: estimator.Snapshot{Stamp: t0, State: eskf.NewNominalState()}}
	ref := NewReference()
	gate := NewGate()
	sink := &recordingSink{}
	opts = append([]LoopOption{WithLoopLogger(logging.NewTestLogger()), WithLoopClock(func() time.Time { return t0 })}, opts...)
	lp, err := NewLoop(DefaultVelocityTracker(), src, ref, gate, sink, DefaultLoopConfig(), opts...)
	require.NoError(t, err)
	return lp, src, ref, gate, sink
}

func TestGate(t *testing.T) {
	g := NewGate()
	ok, reason := g.Allow()
	assert.False(t, ok)
	assert.Equal(t, "controller disabled", reason)

	g.SetEnabled(true)
	for _, tc := range []struct {
		status VehicleStatus
		allow  bool
	}{
		{VehicleStatus{}, false},
		{VehicleStatus{Connected: true, Mode: ModeOffboard}, false},
		{VehicleStatus{Connected: true, Armed: true, Mode: "POSCTL"}, false},
		{offboard(), true},
	} {
		g.SetStatus(tc.status)
		ok, reason := g.Allow()
		assert.Equal(t, tc.allow, ok, "status %+v: %s", tc.status, reason)
	}
	assert.Equal(t, offboard(), g.Status())
	g.SetEnabled(false)
	ok, _ = g.Allow()
	assert.False(t, ok)
}

func TestLoopStep(t *testing.T) {
	reg := prometheus.NewRegistry()
	lp, src, ref, gate, sink := newTestLoop(t, WithLoopMetrics(reg))
	ctx := context.Background()

	assert.Equal(t, OutcomeGated, lp.Step(ctx))
	gate.SetEnabled(true)
	gate.SetStatus(offboard())
	assert.Equal(t, OutcomeNoRef, lp.Step(ctx))

	require.NoError(t, ref.SetSetpoint(r3.Vec{Z: 1}, 0))
	assert.Equal(t, OutcomeSent, lp.Step(ctx))
	cmds := sink.sent()
	require.Len(t, cmds, 1)
	assert.Equal(t, VelocityCommand, cmds[0].Kind)
	assert.Equal(t, t0, cmds[0].Stamp)
	assert.InDelta(t, 1, cmds[0].Velocity.Z, 1e-12)

	// Disarming stops the commands, the estimate is untouched.
	gate.SetStatus(VehicleStatus{Connected: true, Mode: ModeOffboard})
	assert.Equal(t, OutcomeGated, lp.Step(ctx))
	gate.SetStatus(offboard())

	src.mu.Lock()
	src.snap.Stamp = t0.Add(-time.Second)
	src.mu.Unlock()
	assert.Equal(t, OutcomeStale, lp.Step(ctx))

	src.mu.Lock()
	src.snap.Stamp = t0
	src.snap.Health.Diverged = true
	src.mu.Unlock()
	assert.Equal(t, OutcomeDiverged, lp.Step(ctx))

	src.mu.Lock()
	src.snap.Health.Diverged = false
	src.mu.Unlock()
	sink.err = errors.New("link down")
	assert.Equal(t, OutcomeFailed, lp.Step(ctx))
	assert.Len(t, sink.sent(), 1)

	assert.Equal(t, 2., testutil.ToFloat64(lp.outcomes.WithLabelValues(OutcomeGated)))
	assert.Equal(t, 1., testutil.ToFloat64(lp.outcomes.WithLabelValues(OutcomeSent)))
	assert.Equal(t, 1., testutil.ToFloat64(lp.outcomes.WithLabelValues(OutcomeFailed)))
}

func TestLoopControllerError(t *testing.T) {
	src := &fixedSource{snap: estimator.Snapshot{Stamp: t0, State: eskf.NewNominalState()}}
	ref := NewReference()
	require.NoError(t, ref.SetSetpoint(r3.Vec{}, 0))
	gate := NewGate()
	gate.SetEnabled(true)
	gate.SetStatus(offboard())
	failing := ControllerFunc(func(context.Context, estimator.Snapshot, []TrajectoryPoint) (Command, error) {
		return Command{}, errors.New("solver did not converge")
	})
	var window []TrajectoryPoint
	recorder := ControllerFunc(func(_ context.Context, _ estimator.Snapshot, w []TrajectoryPoint) (Command, error) {
		window = w
		return Command{Kind: AttitudeCommand, Thrust: 0.5}, nil
	})
	sink := &recordingSink{}
	clock := WithLoopClock(func() time.Time { return t0 })

	lp, err := NewLoop(failing, src, ref, gate, sink, DefaultLoopConfig(), clock)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, lp.Step(context.Background()))

	cfg := LoopConfig{Rate: 10, Horizon: 5, Step: 10 * time.Millisecond}
	lp, err = NewLoop(recorder, src, ref, gate, sink, cfg, clock)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, lp.Step(context.Background()))
	require.Len(t, window, 5)
	assert.Equal(t, t0.Add(40*time.Millisecond), window[4].Time)
	assert.Equal(t, AttitudeCommand, sink.sent()[0].Kind)
}

func TestLoopRun(t *testing.T) {
	lp, _, ref, gate, sink := newTestLoop(t)
	require.NoError(t, ref.SetSetpoint(r3.Vec{X: 1}, 0))
	gate.SetEnabled(true)
	gate.SetStatus(offboard())
	lp.cfg.Rate = 500

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := lp.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, sink.sent())
}

func TestNewLoopErrors(t *testing.T) {
	_, err := NewLoop(nil, &fixedSource{}, NewReference(), NewGate(), &recordingSink{}, DefaultLoopConfig())
	assert.Error(t, err)
	for _, cfg := range []LoopConfig{
		{Rate: 0, Horizon: 1, Step: time.Millisecond},
		{Rate: math.NaN(), Horizon: 1, Step: time.Millisecond},
		{Rate: 10, Horizon: 0, Step: time.Millisecond},
		{Rate: 10, Horizon: 1},
		{Rate: 10, Horizon: 1, Step: time.Millisecond, MaxEstimateAge: -1},
	} {
		_, err := NewLoop(DefaultVelocityTracker(), &fixedSource{}, NewReference(), NewGate(), &recordingSink{}, cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestVelocityTracker(t *testing.T) {
	c := DefaultVelocityTracker()
	require.NoError(t, c.Validate())
	snap := estimator.Snapshot{State: eskf.NewNominalState()}
	snap.State.Velocity = r3.Vec{X: 0.5}

	window := []TrajectoryPoint{{Time: t0, Position: r3.Vec{X: 1}, Velocity: r3.Vec{X: 1}, Yaw: 0.5}}
	cmd, err := c.Compute(context.Background(), snap, window)
	require.NoError(t, err)
	// v = 1 + Kp*1 + Kd*0.5
	assert.InDelta(t, 2.1, cmd.Velocity.X, 1e-12)
	assert.InDelta(t, 0.5, cmd.YawRate, 1e-12)
	assert.Equal(t, t0, cmd.Stamp)

	// Saturation.
	window[0].Position = r3.Vec{X: 100, Y: 100}
	window[0].Yaw = 3
	cmd, err = c.Compute(context.Background(), snap, window)
	require.NoError(t, err)
	assert.InDelta(t, c.MaxSpeed, r3.Norm(cmd.Velocity), 1e-12)
	assert.Equal(t, c.MaxYaw, cmd.YawRate)

	_, err = c.Compute(context.Background(), snap, nil)
	assert.ErrorIs(t, err, ErrNoReference)
	assert.Error(t, VelocityTracker{Kp: -1}.Validate())
	assert.Error(t, VelocityTracker{Kd: math.Inf(1)}.Validate())
}

func TestCommandKind(t *testing.T) {
	assert.Equal(t, "velocity", VelocityCommand.String())
	assert.Equal(t, "attitude", AttitudeCommand.String())
	assert.Equal(t, "CommandKind(7)", CommandKind(7).String())
}
