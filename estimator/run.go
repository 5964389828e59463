package estimator

import (
	"context"
	"errors"
	"sync"

	"github.com/hudsonhok/px4-control/eskf"
	"github.com/hudsonhok/px4-control/logging"
)

// MotionSample is a motion input applied over Dt seconds.
type MotionSample struct {
	Input eskf.MotionInput
	Dt    float64
}

// Reading is a measurement of a registered sensor.
type Reading struct {
	Sensor string
	Values []float64
}

// Run drains the motion and reading channels until ctx is done or both channels are closed.
// Each channel is consumed by its own goroutine, and the service lock orders the calls.
// Rejected inputs are logged and counted but do not stop Run. A nil channel counts as closed.
// Run returns ctx.Err() on cancellation, ErrClosed if the service was closed, nil otherwise.
func (s *Service) Run(ctx context.Context, motion <-chan MotionSample, readings <-chan Reading) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		closedMu sync.Mutex
		closed   bool
	)
	stop := func(err error) {
		if errors.Is(err, ErrClosed) {
			closedMu.Lock()
			closed = true
			closedMu.Unlock()
			cancel()
		}
	}

	if motion != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case m, ok := <-motion:
					if !ok {
						return
					}
					stop(s.Predict(m.Input, m.Dt))
				}
			}
		}()
	}
	if readings != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case r, ok := <-readings:
					if !ok {
						return
					}
					_, err := s.Correct(r.Sensor, r.Values)
					stop(err)
				}
			}
		}()
	}
	s.log.V(logging.VERBOSE).Info("Estimator running")
	wg.Wait()

	closedMu.Lock()
	defer closedMu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case parent.Err() != nil:
		return parent.Err()
	default:
		return nil
	}
}
