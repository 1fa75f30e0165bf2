// Package perf records per-stage and per-model latencies for council runs
// and reports percentile statistics over them. Every recorded sample is also
// exported to Prometheus.
package perf

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrSpanNotFound is returned by EndStage for unknown or already-ended spans.
var ErrSpanNotFound = errors.New("perf: span not found")

// DefaultThresholds are the per-stage warning thresholds.
var DefaultThresholds = map[int]time.Duration{
	1: 5 * time.Second,
	2: 5 * time.Second,
	3: 7 * time.Second,
}

// SpanID identifies an open stage timing span.
type SpanID string

type span struct {
	stage   int
	start   time.Time
	context map[string]any
}

// StageRecord is one completed stage span.
type StageRecord struct {
	Stage    int
	Duration time.Duration
	Context  map[string]any
	At       time.Time
}

// Percentiles summarizes a set of latency samples, in seconds.
type Percentiles struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Statistics is the report returned by Monitor.Statistics.
type Statistics struct {
	StageStats   map[int]Percentiles    `json:"stage_stats"`
	ModelStats   map[string]Percentiles `json:"model_stats"`
	TotalQueries int                    `json:"total_queries"`
}

// Monitor collects latency samples. It is safe for concurrent use.
type Monitor struct {
	mu         sync.Mutex
	open       map[SpanID]span
	stages     map[int][]time.Duration
	models     map[string][]time.Duration
	records    []StageRecord
	ended      int
	maxSamples int

	thresholds map[int]time.Duration
	now        func() time.Time
	logger     *slog.Logger

	stageHist    *prometheus.HistogramVec
	modelHist    *prometheus.HistogramVec
	thresholdCtr *prometheus.CounterVec
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithThresholds replaces the per-stage warning thresholds.
func WithThresholds(t map[int]time.Duration) Option {
	return func(m *Monitor) { m.thresholds = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the logger for threshold warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithMaxSamples caps the retained samples per stage and per model. Older
// samples are dropped first. Zero keeps everything.
func WithMaxSamples(n int) Option {
	return func(m *Monitor) { m.maxSamples = n }
}

// WithRegisterer registers the monitor's collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Monitor) {
		reg.MustRegister(m.stageHist, m.modelHist, m.thresholdCtr)
	}
}

// New creates a Monitor. Collectors are created unconditionally and only
// registered when WithRegisterer is given.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		open:       make(map[SpanID]span),
		stages:     make(map[int][]time.Duration),
		models:     make(map[string][]time.Duration),
		thresholds: DefaultThresholds,
		now:        time.Now,
		stageHist: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "council_stage_duration_seconds",
			Help:    "Duration of each council stage.",
			Buckets: []float64{0.5, 1, 2, 3, 5, 7, 10, 20, 30, 60, 120},
		}, []string{"stage"}),
		modelHist: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "council_model_response_seconds",
			Help:    "Latency of individual model completions.",
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 7, 10, 20, 30, 60, 120},
		}, []string{"model"}),
		thresholdCtr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "council_stage_threshold_exceeded_total",
			Help: "Number of stage spans that exceeded their warning threshold.",
		}, []string{"stage"}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// StartStage opens a timing span for stage. ctx is free-form metadata kept
// with the completed record.
func (m *Monitor) StartStage(stage int, ctx map[string]any) SpanID {
	id := SpanID(uuid.NewString())
	m.mu.Lock()
	m.open[id] = span{stage: stage, start: m.now(), context: ctx}
	m.mu.Unlock()
	return id
}

// EndStage closes a span and returns its duration. A stage whose duration
// exceeds its threshold is logged as a warning.
func (m *Monitor) EndStage(id SpanID) (time.Duration, error) {
	m.mu.Lock()
	sp, ok := m.open[id]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("end stage %s: %w", id, ErrSpanNotFound)
	}
	delete(m.open, id)
	now := m.now()
	d := now.Sub(sp.start)
	m.stages[sp.stage] = m.appendSample(m.stages[sp.stage], d)
	m.records = append(m.records, StageRecord{Stage: sp.stage, Duration: d, Context: sp.context, At: now})
	if m.maxSamples > 0 && len(m.records) > m.maxSamples {
		m.records = m.records[len(m.records)-m.maxSamples:]
	}
	m.ended++
	threshold, hasThreshold := m.thresholds[sp.stage]
	m.mu.Unlock()

	label := strconv.Itoa(sp.stage)
	m.stageHist.WithLabelValues(label).Observe(d.Seconds())

	if hasThreshold && d > threshold {
		m.thresholdCtr.WithLabelValues(label).Inc()
		m.logger.Warn(fmt.Sprintf("Stage %d exceeded threshold: %.2fs > %.2fs (+%.2fs)",
			sp.stage, d.Seconds(), threshold.Seconds(), (d - threshold).Seconds()),
			"stage", sp.stage,
			"duration", d,
			"threshold", threshold,
			"over", d-threshold)
	}
	return d, nil
}

// LogModelResponse records one model call latency.
func (m *Monitor) LogModelResponse(model string, d time.Duration) {
	m.mu.Lock()
	m.models[model] = m.appendSample(m.models[model], d)
	m.mu.Unlock()
	m.modelHist.WithLabelValues(model).Observe(d.Seconds())
}

// appendSample must be called with m.mu held.
func (m *Monitor) appendSample(s []time.Duration, d time.Duration) []time.Duration {
	s = append(s, d)
	if m.maxSamples > 0 && len(s) > m.maxSamples {
		s = s[len(s)-m.maxSamples:]
	}
	return s
}

// Records returns the completed stage spans, oldest first.
func (m *Monitor) Records() []StageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StageRecord(nil), m.records...)
}

// Statistics computes percentiles over all recorded samples.
func (m *Monitor) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Statistics{
		StageStats:   make(map[int]Percentiles, len(m.stages)),
		ModelStats:   make(map[string]Percentiles, len(m.models)),
		TotalQueries: m.ended,
	}
	for stage, samples := range m.stages {
		if len(samples) > 0 {
			st.StageStats[stage] = Compute(samples)
		}
	}
	for model, samples := range m.models {
		if len(samples) > 0 {
			st.ModelStats[model] = Compute(samples)
		}
	}
	return st
}

// Compute returns the mean and percentiles of samples. Percentile p is the
// element at index floor(n*p) of the sorted samples, clamped to n-1.
// samples is not modified.
func Compute(samples []time.Duration) Percentiles {
	n := len(samples)
	if n == 0 {
		return Percentiles{}
	}
	sorted := make([]float64, n)
	var sum float64
	for i, d := range samples {
		sorted[i] = d.Seconds()
		sum += sorted[i]
	}
	sort.Float64s(sorted)

	at := func(p float64) float64 {
		i := int(math.Floor(float64(n) * p))
		if i > n-1 {
			i = n - 1
		}
		return sorted[i]
	}
	return Percentiles{
		Count: n,
		Mean:  sum / float64(n),
		P50:   at(0.50),
		P90:   at(0.90),
		P95:   at(0.95),
		P99:   at(0.99),
	}
}

// Summary renders Statistics as a human-readable report.
func (m *Monitor) Summary() string {
	st := m.Statistics()

	var b strings.Builder
	b.WriteString("Performance Summary:\n")
	fmt.Fprintf(&b, "  Total queries: %d\n", st.TotalQueries)

	if len(st.StageStats) > 0 {
		b.WriteString("\n  Stage Statistics:\n")
		stages := make([]int, 0, len(st.StageStats))
		for s := range st.StageStats {
			stages = append(stages, s)
		}
		sort.Ints(stages)
		for _, s := range stages {
			p := st.StageStats[s]
			fmt.Fprintf(&b, "    Stage %d: mean=%.2fs, p50=%.2fs, p90=%.2fs, p95=%.2fs (%d samples)\n",
				s, p.Mean, p.P50, p.P90, p.P95, p.Count)
		}
	}

	if len(st.ModelStats) > 0 {
		b.WriteString("\n  Model Statistics (top 5):\n")
		type entry struct {
			model string
			p     Percentiles
		}
		entries := make([]entry, 0, len(st.ModelStats))
		for model, p := range st.ModelStats {
			entries = append(entries, entry{model, p})
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].p.Count != entries[j].p.Count {
				return entries[i].p.Count > entries[j].p.Count
			}
			return entries[i].model < entries[j].model
		})
		if len(entries) > 5 {
			entries = entries[:5]
		}
		for _, e := range entries {
			short := e.model
			if i := strings.LastIndex(short, "/"); i >= 0 {
				short = short[i+1:]
			}
			fmt.Fprintf(&b, "    %s: mean=%.2fs, p90=%.2fs (%d calls)\n", short, e.p.Mean, e.p.P90, e.p.Count)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
