package eskf

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MonteCarloStep stores the outcome of one step of a Monte Carlo run.
type MonteCarloStep struct {
	Error *mat.VecDense // StateError of the estimate at this step
	NEES  float64
	NIS   float64 // NaN when no correction was applied at this step
}

// MonteCarloRun stores the results of an MC run.
type MonteCarloRun struct {
	Steps []MonteCarloStep
}

// Trial advances one Monte Carlo run by one step and reports the outcome.
type Trial func(k int) (MonteCarloStep, error)

// MonteCarloRuns stores MC runs.
type MonteCarloRuns struct {
	runs, steps int
	Runs        []MonteCarloRun
}

// NewMonteCarloRuns runs samples independent trials of steps steps each. newTrial is called once
// per sample and must return a trial driving its own filter and truth.
func NewMonteCarloRuns(samples, steps int, newTrial func(sample int) (Trial, error)) (MonteCarloRuns, error) {
	if samples < 1 || steps < 1 {
		return MonteCarloRuns{}, errors.New("monte carlo requires at least one sample and one step")
	}
	runs := make([]MonteCarloRun, samples)
	for sample := 0; sample < samples; sample++ {
		trial, err := newTrial(sample)
		if err != nil {
			return MonteCarloRuns{}, fmt.Errorf("sample %d: %w", sample, err)
		}
		run := MonteCarloRun{Steps: make([]MonteCarloStep, steps)}
		for k := 0; k < steps; k++ {
			if run.Steps[k], err = trial(k); err != nil {
				return MonteCarloRuns{}, fmt.Errorf("sample %d step %d: %w", sample, k, err)
			}
		}
		runs[sample] = run
	}
	return MonteCarloRuns{samples, steps, runs}, nil
}

// Samples returns the number of runs.
func (mc MonteCarloRuns) Samples() int {
	return mc.runs
}

// Steps returns the number of steps per run.
func (mc MonteCarloRuns) Steps() int {
	return mc.steps
}

// Mean returns the mean of the state error over all runs for the given time step.
func (mc MonteCarloRuns) Mean(step int) []float64 {
	return mc.errorStat(step, stat.Mean)
}

// StdDev returns the standard deviation of the state error over all runs for the given time step.
func (mc MonteCarloRuns) StdDev(step int) []float64 {
	return mc.errorStat(step, stat.StdDev)
}

func (mc MonteCarloRuns) errorStat(step int, fn func(x, weights []float64) float64) []float64 {
	out := make([]float64, ErrorStateSize)
	samples := make([]float64, len(mc.Runs))
	for i := range out {
		for r, run := range mc.Runs {
			samples[r] = run.Steps[step].Error.AtVec(i)
		}
		out[i] = fn(samples, nil)
	}
	return out
}

// MeanNEES returns the average NEES over all runs for the given time step.
func (mc MonteCarloRuns) MeanNEES(step int) float64 {
	samples := make([]float64, len(mc.Runs))
	for r, run := range mc.Runs {
		samples[r] = run.Steps[step].NEES
	}
	return stat.Mean(samples, nil)
}

// MeanNIS returns the average NIS over the runs which applied a correction at the given time step,
// and the number of such runs.
func (mc MonteCarloRuns) MeanNIS(step int) (float64, int) {
	var samples []float64
	for _, run := range mc.Runs {
		if nis := run.Steps[step].NIS; !math.IsNaN(nis) {
			samples = append(samples, nis)
		}
	}
	if len(samples) == 0 {
		return math.NaN(), 0
	}
	return stat.Mean(samples, nil), len(samples)
}

// NEESWithin returns the fraction of steps whose average NEES lies within the two sided
// consistency bounds at significance α.
func (mc MonteCarloRuns) NEESWithin(α float64) float64 {
	lo, hi := ConsistencyBounds(ErrorStateSize, mc.runs, α)
	within := 0
	for k := 0; k < mc.steps; k++ {
		if nees := mc.MeanNEES(k); nees >= lo && nees <= hi {
			within++
		}
	}
	return float64(within) / float64(mc.steps)
}

// AsCSV is used as a CSV serializer, one line per step with the mean NEES, the mean NIS and the
// mean and standard deviation of each error state element.
func (mc MonteCarloRuns) AsCSV(headers []string) []string {
	hdr := []string{"step", "nees", "nis"}
	for _, h := range headers {
		hdr = append(hdr, h+"-mean", h+"-stddev")
	}
	lines := []string{strings.Join(hdr, ",")}
	for k := 0; k < mc.steps; k++ {
		nis, _ := mc.MeanNIS(k)
		vals := []string{fmt.Sprintf("%d", k), fmt.Sprintf("%f", mc.MeanNEES(k)), fmt.Sprintf("%f", nis)}
		mean, stddev := mc.Mean(k), mc.StdDev(k)
		for i := range headers {
			if i >= ErrorStateSize {
				break
			}
			vals = append(vals, fmt.Sprintf("%f", mean[i]), fmt.Sprintf("%f", stddev[i]))
		}
		lines = append(lines, strings.Join(vals, ","))
	}
	return lines
}
