package obs

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	ReserveTotal *prometheus.CounterVec // result=success|insufficient|not_found|conflict|error
	ConfirmTotal *prometheus.CounterVec // result=success|rejected|unreachable|terminal|error
	CancelTotal  *prometheus.CounterVec // result=success|terminal|error

	ConflictRetries prometheus.Counter

	ExpiredTotal  prometheus.Counter
	LastSweepSize prometheus.Gauge
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReserveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saga_reserve_total",
				Help: "Total reserve attempts by result",
			},
			[]string{"result"},
		),
		ConfirmTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saga_confirm_total",
				Help: "Total confirm attempts by result",
			},
			[]string{"result"},
		),
		CancelTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saga_cancel_total",
				Help: "Total cancel attempts by result",
			},
			[]string{"result"},
		),
		ConflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_conflict_retry_exhausted_total",
			Help: "Reservations that exhausted the optimistic-write retry budget",
		}),
		ExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "saga_expired_total",
			Help: "Total reservations released by the expiry sweeper",
		}),
		LastSweepSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "saga_last_sweep_released",
			Help: "Reservations released in the most recent sweep cycle",
		}),
	}

	reg.MustRegister(
		m.ReserveTotal,
		m.ConfirmTotal,
		m.CancelTotal,
		m.ConflictRetries,
		m.ExpiredTotal,
		m.LastSweepSize,
	)

	return m
}
