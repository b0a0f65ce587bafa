package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCycleAndEmit(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordCycle(0.002, 3)
	m.RecordCycle(0.001, 0)
	m.RecordEmit("echo", 120)
	m.RecordEmit("echo", 30)

	if got := testutil.ToFloat64(m.CyclesTotal); got != 2 {
		t.Errorf("cycles_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FramesForwarded); got != 3 {
		t.Errorf("frames_forwarded_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.EventsEmitted.WithLabelValues("echo")); got != 2 {
		t.Errorf("events_emitted_total{mode=echo} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.OutputBytes); got != 150 {
		t.Errorf("output_bytes_total = %v, want 150", got)
	}
}

func TestRecordSkipAndError(t *testing.T) {
	m := New(nil)

	m.RecordSkip("end_of_stream")
	m.RecordSkip("end_of_stream")
	m.RecordError("malformed_line")
	m.RecordError("")

	if got := testutil.ToFloat64(m.EventsSkipped.WithLabelValues("end_of_stream")); got != 2 {
		t.Errorf("skipped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CycleErrors.WithLabelValues("other")); got != 1 {
		t.Errorf("errors{category=other} = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.CycleErrors); n != 2 {
		t.Errorf("cycle_errors_total series = %d, want 2", n)
	}
}

func TestRecordKafkaPublish(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordKafkaPublish("events", nil, 0.01)
	m.RecordKafkaPublish("events", errors.New("broker down"), 0.2)

	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("events")); got != 2 {
		t.Errorf("kafka_publish_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("events")); got != 1 {
		t.Errorf("kafka_publish_errors_total = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetState(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "filter_stub_filter_state 2") {
		t.Errorf("metrics output missing filter_state:\n%s", body)
	}
}

func TestNew_SeparateRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
