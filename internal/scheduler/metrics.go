package scheduler

import "github.com/prometheus/client_golang/prometheus"

var jobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "blueprintstore",
	Subsystem: "scheduler",
	Name:      "job_runs_total",
	Help:      "Scheduled job runs by job and result.",
}, []string{"job", "result"})

func init() {
	prometheus.MustRegister(jobRuns)
}
