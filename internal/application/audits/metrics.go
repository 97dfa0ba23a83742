package audits

import "github.com/prometheus/client_golang/prometheus"

var jobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: "audit",
		Name:      "jobs_total",
		Help:      "number of audit runs by terminal status",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(jobsTotal)
}
