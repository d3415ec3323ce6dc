// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts verification attempts. A nil *Metrics records nothing.
//
// Labels only carry coarse outcomes, never data read from a card.
type Metrics struct {
	Attempts      *prometheus.CounterVec
	Aborts        *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	Duration      prometheus.Histogram
}

// NewMetrics creates the metrics and registers them with reg if it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ageverify",
			Name:      "attempts_total",
			Help:      "Verification attempts by result",
		}, []string{"result"}),

		Aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ageverify",
			Name:      "aborts_total",
			Help:      "Aborted verification attempts by reason",
		}, []string{"reason"}),

		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ageverify",
			Name:      "notifications_total",
			Help:      "Notifications of the external actor by delivery status",
		}, []string{"status"}),

		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ageverify",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of verification attempts including notification",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Attempts, m.Aborts, m.Notifications, m.Duration)
	}

	return m
}

func (m *Metrics) observe(o *Outcome) {
	if m == nil {
		return
	}

	m.Attempts.WithLabelValues(o.Result.String()).Inc()

	if o.Reason != ReasonNone {
		m.Aborts.WithLabelValues(o.Reason.String()).Inc()
	}

	m.Notifications.WithLabelValues(o.Notification.Status.String()).Inc()
	m.Duration.Observe(o.Duration.Seconds())
}
