package control

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrNoReference is returned by Window before any trajectory or setpoint was provided.
var ErrNoReference = errors.New("no reference trajectory")

// Reference stores the current reference trajectory. It is safe for concurrent use.
type Reference struct {
	mu     sync.RWMutex
	points []TrajectoryPoint
	hold   bool
}

// NewReference returns an empty reference.
func NewReference() *Reference {
	return &Reference{}
}

// SetTrajectory replaces the reference with points, which must be in strictly increasing time
// order and finite. Before the first point and after the last one the reference holds still.
func (r *Reference) SetTrajectory(points []TrajectoryPoint) error {
	if len(points) == 0 {
		return fmt.Errorf("empty trajectory")
	}
	for i, p := range points {
		if !finiteVec(p.Position) || !finiteVec(p.Velocity) || math.IsNaN(p.Yaw) || math.IsInf(p.Yaw, 0) {
			return fmt.Errorf("trajectory point #%d is not finite: %s", i, p)
		}
		if i > 0 && !p.Time.After(points[i-1].Time) {
			return fmt.Errorf("trajectory point #%d at %s does not follow %s", i, p.Time, points[i-1].Time)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append([]TrajectoryPoint(nil), points...)
	r.hold = false
	return nil
}

// SetSetpoint replaces the reference with a single point held indefinitely. Its time and
// velocity are ignored.
func (r *Reference) SetSetpoint(position r3.Vec, yaw float64) error {
	if !finiteVec(position) || math.IsNaN(yaw) || math.IsInf(yaw, 0) {
		return fmt.Errorf("setpoint is not finite: %v yaw=%f", position, yaw)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = []TrajectoryPoint{{Position: position, Yaw: yaw}}
	r.hold = true
	return nil
}

// Clear removes the reference.
func (r *Reference) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = nil
}

// Window samples n points of the reference, starting at now and spaced by step.
// Positions and velocities are linearly interpolated between trajectory points and the yaw
// along the shortest arc.
func (r *Reference) Window(now time.Time, n int, step time.Duration) ([]TrajectoryPoint, error) {
	if n < 1 || step <= 0 {
		return nil, fmt.Errorf("invalid window of %d points every %s", n, step)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.points) == 0 {
		return nil, ErrNoReference
	}
	window := make([]TrajectoryPoint, n)
	for k := range window {
		t := now.Add(time.Duration(k) * step)
		if r.hold {
			window[k] = TrajectoryPoint{Time: t, Position: r.points[0].Position, Yaw: r.points[0].Yaw}
			continue
		}
		window[k] = r.sample(t)
	}
	return window, nil
}

// sample must be called with the read lock held.
func (r *Reference) sample(t time.Time) TrajectoryPoint {
	first, last := r.points[0], r.points[len(r.points)-1]
	switch {
	case !t.After(first.Time):
		return TrajectoryPoint{Time: t, Position: first.Position, Yaw: first.Yaw}
	case !t.Before(last.Time):
		return TrajectoryPoint{Time: t, Position: last.Position, Yaw: last.Yaw}
	}
	// First point strictly after t.
	lo, hi := 0, len(r.points)-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if r.points[mid].Time.After(t) {
			hi = mid
		} else {
			lo = mid
		}
	}
	a, b := r.points[lo], r.points[hi]
	α := float64(t.Sub(a.Time)) / float64(b.Time.Sub(a.Time))
	return TrajectoryPoint{
		Time:     t,
		Position: r3.Add(a.Position, r3.Scale(α, r3.Sub(b.Position, a.Position))),
		Velocity: r3.Add(a.Velocity, r3.Scale(α, r3.Sub(b.Velocity, a.Velocity))),
		Yaw:      wrapAngle(a.Yaw + α*wrapAngle(b.Yaw-a.Yaw)),
	}
}

// wrapAngle maps an angle into [-π, π).
func wrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

func finiteVec(v r3.Vec) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
