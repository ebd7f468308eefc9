package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter_SameSeriesReturned(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "x", "")
	b := c.Counter("x_total", "x", "")
	a.Inc()
	b.Add(2)
	if a != b || a.Value() != 3 {
		t.Fatalf("expected shared counter with value 3, got %d", a.Value())
	}
}

func TestGauge(t *testing.T) {
	c := NewMetricsCollector()
	g := c.Gauge("sessions", "s", "")
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 1 {
		t.Fatalf("expected 1, got %d", g.Value())
	}
	g.Set(7)
	if g.Value() != 7 {
		t.Fatalf("expected 7, got %d", g.Value())
	}
}

func TestHistogram_CumulativeBucketsAndInf(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("lat_seconds", "l", "", []float64{1, 0.5})
	h.Observe(0.2)
	h.Observe(0.7)
	h.Observe(3)

	var sb strings.Builder
	c.WriteTo(&sb)
	out := sb.String()
	for _, want := range []string{
		`lat_seconds_bucket{le="0.5"} 1`,
		`lat_seconds_bucket{le="1"} 2`,
		`lat_seconds_bucket{le="+Inf"} 3`,
		`lat_seconds_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHandler_RendersLabelsOnce(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("answers_total", "answers", `kind="answer"`).Inc()
	c.Counter("answers_total", "answers", `kind="failure"`).Add(2)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if strings.Count(body, "# TYPE answers_total counter") != 1 {
		t.Fatalf("expected a single TYPE line:\n%s", body)
	}
	if !strings.Contains(body, `answers_total{kind="failure"} 2`) {
		t.Fatalf("missing labelled series:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
}
