package estimator

import (
	"errors"

	"github.com/hudsonhok/px4-control/eskf"
	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/floats"
)

// Result label values of the correction and prediction counters.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultSingular = "singular"
	ResultDiverged = "diverged"
	ResultError    = "error"
)

// Metrics exposes the estimator's activity and numerical health to Prometheus.
type Metrics struct {
	predictions    *prometheus.CounterVec
	corrections    *prometheus.CounterVec
	nis            *prometheus.GaugeVec
	noiseScale     *prometheus.GaugeVec
	covTrace       prometheus.Gauge
	covCondition   prometheus.Gauge
	diverged       prometheus.Gauge
	attitudeSigma  prometheus.Gauge
	positionSigma  prometheus.Gauge
	snapshotsTaken prometheus.Counter
}

// NewMetrics creates the estimator metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "px4ctrl",
				Subsystem: "estimator",
				Name:      "predictions_total",
				Help:      "Number of prediction steps by result",
			},
			[]string{"result"},
		),
		corrections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "px4ctrl",
				Subsystem: "estimator",
				Name:      "corrections_total",
				Help:      "Number of measurement updates by sensor and result",
			},
			[]string{"sensor", "result"},
		),
		nis: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "px4ctrl",
				Subsystem: "estimator",
				Name:      "nis",
				Help:      "Normalized innovation squared of the last accepted measurement",
			},
			[]string{"sensor"},
		),
		noiseScale: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "px4ctrl",
				Subsystem: "estimator",
				Name:      "noise_scale",
				Help:      "Ratio of the current to the nominal measurement noise covariance",
			},
			[]string{"sensor"},
		),
		covTrace: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "px4ctrl",
			Subsystem: "estimator",
			Name:      "covariance_trace",
			Help:      "Trace of the error state covariance",
		}),
		covCondition: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "px4ctrl",
			Subsystem: "estimator",
			Name:      "covariance_condition",
			Help:      "Condition number of the error state covariance",
		}),
		diverged: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "px4ctrl",
			Subsystem: "estimator",
			Name:      "diverged",
			Help:      "1 if the covariance has diverged, 0 otherwise",
		}),
		positionSigma: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "px4ctrl",
			Subsystem: "estimator",
			Name:      "position_sigma_meters",
			Help:      "Largest 1-sigma position uncertainty",
		}),
		attitudeSigma: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "px4ctrl",
			Subsystem: "estimator",
			Name:      "attitude_sigma_radians",
			Help:      "Largest 1-sigma attitude uncertainty",
		}),
		snapshotsTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "px4ctrl",
			Subsystem: "estimator",
			Name:      "snapshots_total",
			Help:      "Number of state snapshots taken",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.predictions, m.corrections, m.nis, m.noiseScale, m.covTrace,
		m.covCondition, m.diverged, m.positionSigma, m.attitudeSigma, m.snapshotsTaken,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNewMetrics is like NewMetrics but panics if a metric cannot be registered.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m, err := NewMetrics(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, eskf.ErrInvalidInput), errors.Is(err, ErrUnknownSensor):
		return ResultRejected
	case errors.Is(err, eskf.ErrSingularInnovation):
		return ResultSingular
	case errors.Is(err, eskf.ErrCovarianceDivergence):
		return ResultDiverged
	default:
		return ResultError
	}
}

// The methods below are nil safe so the service can call them unconditionally.

func (m *Metrics) observePrediction(err error) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) observeCorrection(sensor string, c *eskf.Correction, err error) {
	if m == nil {
		return
	}
	m.corrections.WithLabelValues(sensor, resultLabel(err)).Inc()
	if c != nil {
		m.nis.WithLabelValues(sensor).Set(c.NIS())
	}
}

func (m *Metrics) observeNoiseScale(sensor string, scale float64) {
	if m == nil {
		return
	}
	m.noiseScale.WithLabelValues(sensor).Set(scale)
}

func (m *Metrics) observeHealth(h eskf.Health, sigma [eskf.ErrorStateSize]float64) {
	if m == nil {
		return
	}
	m.covTrace.Set(h.Trace)
	m.covCondition.Set(h.Condition)
	if h.Diverged {
		m.diverged.Set(1)
	} else {
		m.diverged.Set(0)
	}
	m.positionSigma.Set(floats.Max(sigma[eskf.ErrPosition : eskf.ErrPosition+3]))
	m.attitudeSigma.Set(floats.Max(sigma[eskf.ErrAttitude : eskf.ErrAttitude+3]))
}

func (m *Metrics) observeSnapshot() {
	if m == nil {
		return
	}
	m.snapshotsTaken.Inc()
}
