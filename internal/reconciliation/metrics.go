package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileSettled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blueprintstore",
		Subsystem: "reconciliation",
		Name:      "settled_total",
		Help:      "Pending payments settled by reconciliation, by resulting status.",
	}, []string{"status"})

	reconcileStillPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "blueprintstore",
		Subsystem: "reconciliation",
		Name:      "still_pending",
		Help:      "Stale payments still pending at the processor in the last run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "blueprintstore",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "blueprintstore",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileSettled,
		reconcileStillPending,
		reconcileDuration,
		reconcileErrors,
	)
}

func observe(r *Report) {
	reconcileSettled.WithLabelValues("completed").Add(float64(r.Completed))
	reconcileSettled.WithLabelValues("failed").Add(float64(r.Failed))
	reconcileStillPending.Set(float64(r.StillPending))
	reconcileDuration.Observe(r.duration.Seconds())
}
