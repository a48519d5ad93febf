package timeseries

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Package timeseries provides the bounded in-memory metric store the
// optimization engine reads from.
//
// Storage model:
//   - One bucket per metric name, each a fixed-capacity ring buffer
//     (FIFO eviction once full, so len(bucket) <= maxHistorySize always).
//   - Each bucket carries its own RWMutex so writers on one metric never
//     serialize readers of another.
//   - Samples are immutable once stored; readers always receive copies.
//
// The store deliberately performs no value validation beyond the metric
// name check: NaN, ±Inf and extreme magnitudes are data, not faults.

// ErrEmptyMetricName is returned when a metric name is missing.
var ErrEmptyMetricName = errors.New("metric name must not be empty")

// TrendDirection tags the short-term direction of a metric at store time.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// MetricSample is a single stored observation.
type MetricSample struct {
	MetricName string         `json:"metric_name"`
	Timestamp  time.Time      `json:"timestamp"`
	Value      float64        `json:"value"`
	MA5        float64        `json:"ma5"`
	MA15       float64        `json:"ma15"`
	Trend      TrendDirection `json:"trend"`
	HourOfDay  int            `json:"hour_of_day"`
	DayOfWeek  time.Weekday   `json:"day_of_week"`
}

// SampleOptions carries the optional per-sample fields of Store.
// Zero-value fields fall back to defaults: MA5/MA15 default to the sample
// value, Trend defaults to TrendStable.
type SampleOptions struct {
	MA5   *float64
	MA15  *float64
	Trend TrendDirection
}

// bucket is the per-metric ring buffer.
type bucket struct {
	mu       sync.RWMutex
	samples  []MetricSample
	head     int
	size     int
	capacity int
}

func newBucket(capacity int) *bucket {
	return &bucket{
		samples:  make([]MetricSample, capacity),
		capacity: capacity,
	}
}

func (b *bucket) push(s MetricSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := (b.head + b.size) % b.capacity
	b.samples[idx] = s
	if b.size < b.capacity {
		b.size++
	} else {
		b.head = (b.head + 1) % b.capacity
	}
}

// snapshot returns all samples in chronological order.
func (b *bucket) snapshot() []MetricSample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]MetricSample, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.samples[(b.head+i)%b.capacity]
	}
	return out
}

func (b *bucket) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Store is the bounded time-series store, keyed by metric name.
type Store struct {
	mu             sync.RWMutex
	buckets        map[string]*bucket
	maxHistorySize int
	now            func() time.Time
}

// DefaultMaxHistorySize bounds each metric bucket when no explicit size is given.
const DefaultMaxHistorySize = 10000

// NewStore creates a store whose buckets hold at most maxHistorySize samples.
// Sizes outside [1, 1000000] fall back to DefaultMaxHistorySize; the
// configuration layer rejects them before construction in normal operation.
func NewStore(maxHistorySize int) *Store {
	if maxHistorySize < 1 || maxHistorySize > 1000000 {
		maxHistorySize = DefaultMaxHistorySize
	}
	return &Store{
		buckets:        make(map[string]*bucket),
		maxHistorySize: maxHistorySize,
		now:            time.Now,
	}
}

func (s *Store) getOrCreate(name string) *bucket {
	s.mu.RLock()
	b, ok := s.buckets[name]
	s.mu.RUnlock()
	if ok {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buckets[name]; ok {
		return b
	}
	b = newBucket(s.maxHistorySize)
	s.buckets[name] = b
	return b
}

func buildSample(name string, value float64, ts time.Time, opts SampleOptions) MetricSample {
	ma5, ma15 := value, value
	if opts.MA5 != nil {
		ma5 = *opts.MA5
	}
	if opts.MA15 != nil {
		ma15 = *opts.MA15
	}
	trend := opts.Trend
	if trend == "" {
		trend = TrendStable
	}
	return MetricSample{
		MetricName: name,
		Timestamp:  ts,
		Value:      value,
		MA5:        ma5,
		MA15:       ma15,
		Trend:      trend,
		HourOfDay:  ts.Hour(),
		DayOfWeek:  ts.Weekday(),
	}
}

// Store records a single sample for the named metric.
func (s *Store) Store(name string, value float64, ts time.Time, opts SampleOptions) error {
	if name == "" {
		return ErrEmptyMetricName
	}
	s.getOrCreate(name).push(buildSample(name, value, ts, opts))
	return nil
}

// StoreBatch records one sample per entry of values, all at the same timestamp.
// A nil map is a no-op. Any empty key fails the whole call before anything is
// stored. movingAverages supplies optional MA5 values per metric (MA15 defaults
// to the same); trends supplies optional trend tags.
func (s *Store) StoreBatch(values map[string]float64, ts time.Time, movingAverages map[string]float64, trends map[string]TrendDirection) error {
	if values == nil {
		return nil
	}
	for name := range values {
		if name == "" {
			return fmt.Errorf("store batch: %w", ErrEmptyMetricName)
		}
	}
	for name, value := range values {
		opts := SampleOptions{}
		if ma, ok := movingAverages[name]; ok {
			opts.MA5 = &ma
			opts.MA15 = &ma
		}
		if tr, ok := trends[name]; ok {
			opts.Trend = tr
		}
		s.getOrCreate(name).push(buildSample(name, value, ts, opts))
	}
	return nil
}

// History returns the stored samples for a metric in timestamp-ascending
// order. When lookback > 0 only samples within [now-lookback, now] are
// returned; lookback == 0 yields an empty slice; a negative lookback returns
// the full bucket.
func (s *Store) History(name string, lookback time.Duration) []MetricSample {
	s.mu.RLock()
	b, ok := s.buckets[name]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	all := b.snapshot()
	if lookback < 0 {
		return all
	}
	if lookback == 0 {
		return []MetricSample{}
	}
	cutoff := s.now().Add(-lookback)
	out := make([]MetricSample, 0, len(all))
	for _, sm := range all {
		if !sm.Timestamp.Before(cutoff) {
			out = append(out, sm)
		}
	}
	return out
}

// FullHistory returns every stored sample for a metric in chronological order.
func (s *Store) FullHistory(name string) []MetricSample {
	return s.History(name, -1)
}

// Recent returns at most count most-recent samples in chronological order.
// A non-positive count yields an empty slice.
func (s *Store) Recent(name string, count int) []MetricSample {
	if count <= 0 {
		return []MetricSample{}
	}
	all := s.FullHistory(name)
	if len(all) > count {
		all = all[len(all)-count:]
	}
	return all
}

// Len reports how many samples a metric currently holds.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	b, ok := s.buckets[name]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return b.len()
}

// MetricNames returns the names of all metrics with at least one sample.
func (s *Store) MetricNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	return names
}

// Clear drops all buckets. Used during engine shutdown.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = make(map[string]*bucket)
}
