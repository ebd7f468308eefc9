// Package metrics is a small Prometheus-text collector for the widget
// backends. It renders the exposition format itself instead of pulling in
// prometheus/client_golang.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector.
var Collector = NewMetricsCollector()

// MetricsCollector holds counters, gauges and histograms keyed by name+labels.
type MetricsCollector struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

type series struct {
	name   string
	help   string
	labels string
}

// Counter only goes up.
type Counter struct {
	series
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge can go up and down.
type Gauge struct {
	series
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values. Bucket counts are cumulative.
type Histogram struct {
	series
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func seriesKey(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns or creates a counter.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := seriesKey(name, labels)
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(key, &Counter{series: series{name, help, labels}})
	return actual.(*Counter)
}

// Gauge returns or creates a gauge.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := seriesKey(name, labels)
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(key, &Gauge{series: series{name, help, labels}})
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram. A +Inf bucket is always present.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := seriesKey(name, labels)
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	if len(bounds) == 0 || !math.IsInf(bounds[len(bounds)-1], 1) {
		bounds = append(bounds, math.Inf(1))
	}
	h := &Histogram{series: series{name, help, labels}, bounds: bounds, buckets: make([]int64, len(bounds))}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// Handler renders all series in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteTo(w)
	}
}

// WriteTo writes the exposition text, series sorted by key.
func (c *MetricsCollector) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP hrchat_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE hrchat_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "hrchat_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	seen := make(map[string]bool)
	header := func(s series, kind string) {
		if seen[s.name] {
			return
		}
		seen[s.name] = true
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", s.name, s.help, s.name, kind)
	}

	for _, v := range sortedValues(&c.counters) {
		ctr := v.(*Counter)
		header(ctr.series, "counter")
		fmt.Fprintf(&sb, "%s %d\n", withLabels(ctr.name, ctr.labels), ctr.Value())
	}
	for _, v := range sortedValues(&c.gauges) {
		g := v.(*Gauge)
		header(g.series, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", withLabels(g.name, g.labels), g.Value())
	}
	for _, v := range sortedValues(&c.histograms) {
		h := v.(*Histogram)
		header(h.series, "histogram")
		h.mu.Lock()
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			labels := `le="` + bound + `"`
			if h.labels != "" {
				labels = h.labels + "," + labels
			}
			fmt.Fprintf(&sb, "%s_bucket{%s} %d\n", h.name, labels, h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s %d\n", withLabels(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", withLabels(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func withLabels(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func sortedValues(m *sync.Map) []any {
	var keys []string
	vals := make(map[string]any)
	m.Range(func(k, v any) bool {
		keys = append(keys, k.(string))
		vals[k.(string)] = v
		return true
	})
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = vals[k]
	}
	return out
}

// Widget metrics.
var (
	QuestionsTotal   = Collector.Counter("hrchat_questions_total", "Questions sent to the answer service", "")
	AnswersTotal     = Collector.Counter("hrchat_answers_total", "Answers appended to a transcript", `kind="answer"`)
	NoAnswerTotal    = Collector.Counter("hrchat_answers_total", "Answers appended to a transcript", `kind="no_answer"`)
	FailuresTotal    = Collector.Counter("hrchat_answers_total", "Answers appended to a transcript", `kind="failure"`)
	RejectedTotal    = Collector.Counter("hrchat_rejected_submissions_total", "Submissions rejected before sending", "")
	LookupsTotal     = Collector.Counter("hrchat_directory_lookups_total", "Client directory lookups", `result="ok"`)
	LookupMisses     = Collector.Counter("hrchat_directory_lookups_total", "Client directory lookups", `result="empty"`)
	LookupErrors     = Collector.Counter("hrchat_directory_lookups_total", "Client directory lookups", `result="error"`)
	ActiveSessions   = Collector.Gauge("hrchat_active_sessions", "Open widget sessions", "")
	ConnectedClients = Collector.Gauge("hrchat_websocket_clients", "Connected websocket clients", "")

	AnswerLatency = Collector.Histogram("hrchat_answer_latency_seconds", "Answer service round-trip latency in seconds", "",
		[]float64{0.25, 0.5, 1, 2, 5, 10, 30, 60})
)
