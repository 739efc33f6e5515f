package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// NewMetrics registers against the default Prometheus registry and panics on
// a second registration, so every assertion below shares one instance.
var testMetrics = NewMetrics()

func TestRecordToolExecutionCountsAndTimes(t *testing.T) {
	testMetrics.RecordToolExecution("read_file", "success", 0.02)
	testMetrics.RecordToolExecution("read_file", "error", 0.5)

	if got := testutil.ToFloat64(testMetrics.ToolExecutionCounter.WithLabelValues("read_file", "success")); got != 1 {
		t.Errorf("success counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(testMetrics.ToolExecutionCounter.WithLabelValues("read_file", "error")); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(testMetrics.ToolExecutionDuration); count == 0 {
		t.Error("expected tool execution duration observations")
	}
}

func TestQueueDepthGauge(t *testing.T) {
	testMetrics.SetMessageQueueDepth("agent.s1", 3)
	if got := testutil.ToFloat64(testMetrics.MessageQueueDepth.WithLabelValues("agent.s1")); got != 3 {
		t.Errorf("queue depth = %v, want 3", got)
	}

	testMetrics.SetMessageQueueDepth("agent.s1", 0)
	if got := testutil.ToFloat64(testMetrics.MessageQueueDepth.WithLabelValues("agent.s1")); got != 0 {
		t.Errorf("queue depth after drain = %v, want 0", got)
	}
}

func TestRecordMessageDequeuedObservesWait(t *testing.T) {
	testMetrics.RecordMessageDequeued("runtime.s2", 0.15)

	if count := testutil.CollectAndCount(testMetrics.MessageQueueWait); count == 0 {
		t.Error("expected queue wait histogram observations")
	}
}
