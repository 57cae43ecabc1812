package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// capture redirects EMF output for the duration of a test.
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() { SetOutput(prev) })
	return &buf
}

func TestNew_AutoDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "restyle-lambda"
	defer func() { functionName = "" }()

	r := New(Namespace)
	if r.namespace != "PageRestyle" {
		t.Errorf("expected namespace PageRestyle, got %s", r.namespace)
	}
	if r.dimensions["FunctionName"] != "restyle-lambda" {
		t.Errorf("expected FunctionName dimension, got %q", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	buf := capture(t)
	functionName = ""

	New(Namespace).
		Dimension("Viewport", "desktop").
		Metric("SegmentLatencyMs", 1234.5, UnitMilliseconds).
		Count("SegmentUpdated").
		Property("jobId", "rst-123").
		Flush()

	output := strings.TrimSpace(buf.String())
	if strings.Count(output, "\n") != 0 {
		t.Fatalf("EMF must be a single line, got %q", output)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(output), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, output)
	}

	awsMap, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if _, ok := awsMap["Timestamp"]; !ok {
		t.Error("missing Timestamp in _aws directive")
	}
	cwArr, ok := awsMap["CloudWatchMetrics"].([]interface{})
	if !ok || len(cwArr) != 1 {
		t.Fatal("CloudWatchMetrics should hold exactly one entry")
	}
	cw := cwArr[0].(map[string]interface{})
	if cw["Namespace"] != "PageRestyle" {
		t.Errorf("expected namespace PageRestyle, got %v", cw["Namespace"])
	}
	metricsList := cw["Metrics"].([]interface{})
	if first := metricsList[0].(map[string]interface{}); first["Name"] != "SegmentLatencyMs" {
		t.Errorf("metric definitions should be sorted by name, first = %v", first["Name"])
	}

	if doc["Viewport"] != "desktop" {
		t.Errorf("expected Viewport=desktop, got %v", doc["Viewport"])
	}
	if doc["SegmentLatencyMs"] != 1234.5 {
		t.Errorf("expected SegmentLatencyMs=1234.5, got %v", doc["SegmentLatencyMs"])
	}
	if doc["SegmentUpdated"] != float64(1) {
		t.Errorf("expected SegmentUpdated=1, got %v", doc["SegmentUpdated"])
	}
	if doc["jobId"] != "rst-123" {
		t.Errorf("expected jobId=rst-123, got %v", doc["jobId"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := capture(t)

	New("Test").Dimension("Op", "noop").Flush()

	if buf.Len() != 0 {
		t.Errorf("expected no output for recorder without metrics, got: %s", buf.String())
	}
}

func TestSetOutputNilDiscards(t *testing.T) {
	prev := SetOutput(nil)
	defer SetOutput(prev)

	// Must not panic or write anywhere.
	New("Test").Count("Calls").Flush()
}

func TestRecorder_Since(t *testing.T) {
	rec := New("Test").Since("ElapsedMs", time.Now().Add(-50*time.Millisecond))
	if v := rec.values["ElapsedMs"]; v < 50 {
		t.Errorf("expected ElapsedMs >= 50, got %v", v)
	}
	if rec.metrics["ElapsedMs"].Unit != UnitMilliseconds {
		t.Errorf("expected unit Milliseconds, got %s", rec.metrics["ElapsedMs"].Unit)
	}
}

func TestRecorder_Chaining(t *testing.T) {
	functionName = ""
	rec := New("Test").
		Dimension("Op", "test").
		Metric("Duration", 100, UnitMilliseconds).
		Count("Calls").
		Property("id", "xyz")

	if rec.dimensions["Op"] != "test" {
		t.Error("chaining Dimension failed")
	}
	if rec.values["Duration"] != 100 {
		t.Error("chaining Metric failed")
	}
	if rec.values["Calls"] != 1 {
		t.Error("chaining Count failed")
	}
	if rec.properties["id"] != "xyz" {
		t.Error("chaining Property failed")
	}
}
