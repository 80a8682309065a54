package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentSessionTotal counts hosted-payment session creation outcomes per vendor.
	PaymentSessionTotal *prometheus.CounterVec
	// PaymentCallbackTotal counts reconciler outcomes for vendor callbacks.
	PaymentCallbackTotal *prometheus.CounterVec
	// PaymentInquiryTotal counts transaction inquiries by result.
	PaymentInquiryTotal *prometheus.CounterVec
	// VendorRequestLatency records outbound vendor call latency in milliseconds.
	VendorRequestLatency *prometheus.HistogramVec
	// PaymentFollowUpTotal counts delayed inquiry task outcomes.
	PaymentFollowUpTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers payment Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_session_total",
			Help:      "Count of payment session creation outcomes.",
		}, []string{"vendor", "result"})
		PaymentCallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callback_total",
			Help:      "Count of processed payment callbacks by outcome.",
		}, []string{"vendor", "outcome"})
		PaymentInquiryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_inquiry_total",
			Help:      "Count of transaction inquiries by result.",
		}, []string{"vendor", "result"})
		VendorRequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_vendor_request_duration_ms",
			Help:      "Latency of outbound payment vendor calls in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"vendor", "operation"})
		PaymentFollowUpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_followup_total",
			Help:      "Count of delayed inquiry follow-up outcomes.",
		}, []string{"result"})

		for _, c := range []**prometheus.CounterVec{&PaymentSessionTotal, &PaymentCallbackTotal, &PaymentInquiryTotal, &PaymentFollowUpTotal} {
			target := c
			mustRegisterCollector(reg, *target, func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*target = v
				}
			})
		}
		mustRegisterCollector(reg, VendorRequestLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				VendorRequestLatency = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}

// IncCounter increments a labelled counter when it has been registered.
func IncCounter(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
