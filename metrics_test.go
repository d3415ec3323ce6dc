// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.observe(&Outcome{
		Result:       Eligible,
		Notification: Notification{Status: NotificationConfirmed},
		Duration:     100 * time.Millisecond,
	})
	m.observe(&Outcome{
		Result:       Indeterminate,
		Reason:       ReasonReaderBusy,
		Notification: Notification{Status: NotificationFailed},
		Duration:     time.Second,
	})

	assert.InDelta(t, 1, testutil.ToFloat64(m.Attempts.WithLabelValues("eligible")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Attempts.WithLabelValues("indeterminate")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.Attempts.WithLabelValues("ineligible")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Aborts.WithLabelValues("reader_busy")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Notifications.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Notifications.WithLabelValues("confirmed")), 0)

	n, err := testutil.GatherAndCount(reg, "ageverify_attempt_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetricsNil(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.observe(&Outcome{})
	})
}

func TestMetricsUnregistered(t *testing.T) {
	m := NewMetrics(nil)
	m.observe(&Outcome{Result: Ineligible})

	assert.InDelta(t, 1, testutil.ToFloat64(m.Attempts.WithLabelValues("ineligible")), 0)
}
