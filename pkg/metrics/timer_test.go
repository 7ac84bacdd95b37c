package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	if timer == nil {
		t.Fatal("NewTimer returned nil")
	}
	if timer.start.IsZero() {
		t.Error("timer start time was not set")
	}
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	d := timer.Duration()
	if d < 10*time.Millisecond {
		t.Errorf("expected duration >= 10ms, got %v", d)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_timer_observe_duration",
		Help: "test histogram",
	})

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(h)

	var metric dto.Metric
	if err := h.Write(&metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("expected 1 sample, got %d", metric.GetHistogram().GetSampleCount())
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_timer_observe_duration_vec",
		Help: "test histogram vec",
	}, []string{"label"})

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDurationVec(h, "value")

	var metric dto.Metric
	if err := h.WithLabelValues("value").(prometheus.Histogram).Write(&metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("expected 1 sample, got %d", metric.GetHistogram().GetSampleCount())
	}
}

func TestTimerMultipleCalls(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	d1 := timer.Duration()
	time.Sleep(5 * time.Millisecond)
	d2 := timer.Duration()

	if d2 <= d1 {
		t.Errorf("expected second duration %v to be greater than first %v", d2, d1)
	}
}

func TestTimerZeroDuration(t *testing.T) {
	timer := NewTimer()
	d := timer.Duration()
	if d < 0 {
		t.Errorf("duration should never be negative, got %v", d)
	}
}

func TestMultipleTimers(t *testing.T) {
	t1 := NewTimer()
	time.Sleep(5 * time.Millisecond)
	t2 := NewTimer()

	d1 := t1.Duration()
	d2 := t2.Duration()

	if d1 <= d2 {
		t.Errorf("expected first timer duration %v to exceed second %v", d1, d2)
	}
}

func TestTimerConsistency(t *testing.T) {
	timer := NewTimer()
	for i := 0; i < 3; i++ {
		time.Sleep(2 * time.Millisecond)
		if timer.Duration() <= 0 {
			t.Error("duration should be positive on every call")
		}
	}
}
