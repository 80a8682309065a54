package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	// QueueDepth reports pending plus scheduled tasks per queue.
	QueueDepth *prometheus.GaugeVec
	// QueueProcessedTotal counts processed tasks grouped by kind and status.
	QueueProcessedTotal *prometheus.CounterVec
	// QueueDLQSize reports archived tasks per queue.
	QueueDLQSize *prometheus.GaugeVec
)

// MustRegisterMetrics registers the queue collectors once.
func MustRegisterMetrics(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Pending and scheduled tasks per queue",
		}, []string{"queue"})
		QueueProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_processed_total",
			Help: "Total tasks processed grouped by status",
		}, []string{"kind", "status"})
		QueueDLQSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_dlq_size",
			Help: "Number of archived tasks per queue",
		}, []string{"queue"})
		reg.MustRegister(QueueDepth, QueueProcessedTotal, QueueDLQSize)
	})
}
