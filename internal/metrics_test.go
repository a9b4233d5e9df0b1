package internal

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// counterValue reads the current value of a counter.
func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("writing metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

// histogramCount reads how many samples a histogram has observed.
func histogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	m := &dto.Metric{}
	if err := h.Write(m); err != nil {
		t.Fatalf("writing metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordExtraction(t *testing.T) {
	okBefore := counterValue(t, extractionsTotal.WithLabelValues("ok"))
	samplesBefore := histogramCount(t, extractionSeconds)

	RecordExtraction("ok", 0.25)
	RecordExtraction("ok", 1.5)

	if got := counterValue(t, extractionsTotal.WithLabelValues("ok")) - okBefore; got != 2 {
		t.Errorf("extractions_total{outcome=ok} grew by %v, want 2", got)
	}
	if got := histogramCount(t, extractionSeconds) - samplesBefore; got != 2 {
		t.Errorf("extraction_duration_seconds observed %d samples, want 2", got)
	}

	// Each outcome gets its own series.
	noVideoBefore := counterValue(t, extractionsTotal.WithLabelValues("no_video"))
	RecordExtraction("no_video", 0.1)
	if got := counterValue(t, extractionsTotal.WithLabelValues("no_video")) - noVideoBefore; got != 1 {
		t.Errorf("extractions_total{outcome=no_video} grew by %v, want 1", got)
	}
}

func TestRecordLadderAttempt(t *testing.T) {
	hitBefore := counterValue(t, ladderAttemptsTotal.WithLabelValues("streaming", "hit"))
	missBefore := counterValue(t, ladderAttemptsTotal.WithLabelValues("dlink", "miss"))

	RecordLadderAttempt("streaming", "hit")
	RecordLadderAttempt("dlink", "miss")
	RecordLadderAttempt("dlink", "miss")

	if got := counterValue(t, ladderAttemptsTotal.WithLabelValues("streaming", "hit")) - hitBefore; got != 1 {
		t.Errorf("ladder_attempts_total{streaming,hit} grew by %v, want 1", got)
	}
	if got := counterValue(t, ladderAttemptsTotal.WithLabelValues("dlink", "miss")) - missBefore; got != 2 {
		t.Errorf("ladder_attempts_total{dlink,miss} grew by %v, want 2", got)
	}
}

func TestRecordSessionBootstrap(t *testing.T) {
	before := counterValue(t, sessionBootstrapsTotal.WithLabelValues("invalidated"))
	RecordSessionBootstrap("invalidated")
	if got := counterValue(t, sessionBootstrapsTotal.WithLabelValues("invalidated")) - before; got != 1 {
		t.Errorf("session_bootstraps_total{invalidated} grew by %v, want 1", got)
	}
}

// Negative errnos must keep their sign in the label.
func TestRecordHostError(t *testing.T) {
	before := counterValue(t, hostErrorsTotal.WithLabelValues("-6"))
	RecordHostError(-6)
	if got := counterValue(t, hostErrorsTotal.WithLabelValues("-6")) - before; got != 1 {
		t.Errorf("host_errors_total{errno=-6} grew by %v, want 1", got)
	}
}

// Every collector must live in the default registry; the promhttp endpoint
// exposes exactly that. Vecs only appear after their first series, so touch
// each one before gathering.
func TestCollectorsRegistered(t *testing.T) {
	RecordExtraction("ok", 0.01)
	RecordLadderAttempt("dlink", "hit")
	RecordSessionBootstrap("initial")
	IncMirrorRotation()
	RecordHostError(112)
	IncTransportRetry()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gathering default registry: %v", err)
	}
	found := make(map[string]bool, len(families))
	for _, mf := range families {
		found[mf.GetName()] = true
	}

	for _, name := range []string{
		"terastream_extractions_total",
		"terastream_extraction_duration_seconds",
		"terastream_ladder_attempts_total",
		"terastream_session_bootstraps_total",
		"terastream_mirror_rotations_total",
		"terastream_host_errors_total",
		"terastream_transport_retries_total",
	} {
		if !found[name] {
			t.Errorf("collector %s not registered", name)
		}
	}
}
