package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	d := timer.Duration()
	assert.GreaterOrEqual(t, d, 20*time.Millisecond)
	assert.Greater(t, timer.Duration(), d, "duration keeps growing")
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_notify_seconds",
		Help: "test",
	})

	NewTimer().ObserveDuration(histogram)
	NewTimer().ObserveDuration(histogram)

	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_post_seconds",
		Help: "test",
	}, []string{"mode"})

	NewTimer().ObserveDurationVec(vec, ModeBlocking)
	NewTimer().ObserveDurationVec(vec, ModeNonBlocking)

	assert.Equal(t, 2, testutil.CollectAndCount(vec))
}
