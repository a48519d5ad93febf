package anomaly

import (
	"math"
	"testing"
	"time"

	"github.com/pipetune/pipetune/internal/timeseries"
)

func storeWithValues(t *testing.T, values []float64) *timeseries.Store {
	t.Helper()
	store := timeseries.NewStore(10000)
	base := time.Now().Add(-time.Duration(len(values)) * time.Minute)
	for i, v := range values {
		if err := store.Store("m", v, base.Add(time.Duration(i)*time.Minute), timeseries.SampleOptions{}); err != nil {
			t.Fatalf("Store() error: %v", err)
		}
	}
	return store
}

func TestDetectSpike(t *testing.T) {
	// Stable baseline around 10 with mild noise, then one large spike.
	values := make([]float64, 30)
	for i := range values {
		values[i] = 10 + 0.1*float64(i%3)
	}
	values[25] = 100

	d := NewDetector(storeWithValues(t, values), nil)
	anomalies := d.Detect("m", 0)

	if len(anomalies) == 0 {
		t.Fatal("Expected the spike to be flagged")
	}
	found := false
	for _, a := range anomalies {
		if a.Value == 100 {
			found = true
			if a.ZScore <= 3.0 {
				t.Errorf("Expected z-score above threshold, got %.2f", a.ZScore)
			}
			if a.Severity != SeverityCritical {
				t.Errorf("Expected critical severity for a massive spike, got %s", a.Severity)
			}
			t.Logf("Spike flagged: z=%.1f expected=%.1f severity=%s", a.ZScore, a.Expected, a.Severity)
		}
	}
	if !found {
		t.Error("Spike value 100 was not among the flagged anomalies")
	}
}

func TestDetectStableSeriesClean(t *testing.T) {
	values := make([]float64, 50)
	for i := range values {
		values[i] = 20 + 0.5*math.Sin(float64(i))
	}

	d := NewDetector(storeWithValues(t, values), nil)
	if anomalies := d.Detect("m", 0); len(anomalies) != 0 {
		t.Errorf("Expected no anomalies on a smooth series, got %d", len(anomalies))
	}
}

func TestDetectTooFewPoints(t *testing.T) {
	d := NewDetector(storeWithValues(t, []float64{1, 2}), nil)
	if anomalies := d.Detect("m", 0); len(anomalies) != 0 {
		t.Errorf("Expected empty result below the scan minimum, got %d", len(anomalies))
	}
}

func TestDetectUnknownMetric(t *testing.T) {
	d := NewDetector(timeseries.NewStore(10), nil)
	anomalies := d.Detect("missing", 10)
	if anomalies == nil {
		t.Fatal("Expected empty slice, got nil")
	}
	if len(anomalies) != 0 {
		t.Errorf("Expected no anomalies for unknown metric, got %d", len(anomalies))
	}
}

func TestDetectSkipsNaN(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = 10
	}
	values[5] = math.NaN()
	values[15] = math.NaN()
	values[20] = 11 // tiny wobble so stddev is nonzero for part of the scan

	d := NewDetector(storeWithValues(t, values), nil)
	for _, a := range d.Detect("m", 0) {
		if math.IsNaN(a.Value) {
			t.Error("NaN sample must never be flagged as an anomaly")
		}
	}
}

func TestDetectLookbackClamping(t *testing.T) {
	values := make([]float64, 40)
	for i := range values {
		values[i] = 5
	}
	values[38] = 50

	d := NewDetector(storeWithValues(t, values), nil)

	// Oversized and non-positive lookbacks both scan the full history.
	full := d.Detect("m", 0)
	oversized := d.Detect("m", 9999)
	if len(full) != len(oversized) {
		t.Errorf("Expected identical scans, got %d vs %d", len(full), len(oversized))
	}

	// A window that excludes the spike sees nothing.
	if tail := d.Detect("m", 1); len(tail) != 0 {
		t.Errorf("Expected no anomalies in 1-point window, got %d", len(tail))
	}
}

func TestSeverityBuckets(t *testing.T) {
	cases := []struct {
		absZ float64
		want Severity
	}{
		{3.1, SeverityMedium},
		{5.0, SeverityHigh},
		{7.0, SeverityCritical},
		{3.0, SeverityLow},
	}
	for _, c := range cases {
		if got := severityOf(c.absZ); got != c.want {
			t.Errorf("severityOf(%.1f): expected %s, got %s", c.absZ, c.want, got)
		}
	}
}
