package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Create a new registry for isolated testing
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}

	if m.DatagramsForwarded == nil {
		t.Error("DatagramsForwarded metric is nil")
	}
	if m.PumpTerminations == nil {
		t.Error("PumpTerminations metric is nil")
	}
	if m.SendStreamsCreated == nil {
		t.Error("SendStreamsCreated metric is nil")
	}
}

func TestRecordForward(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordForward(DirectionOutbound, 100)
	m.RecordForward(DirectionOutbound, 50)
	m.RecordForward(DirectionInbound, 25)

	outCount := testutil.ToFloat64(m.DatagramsForwarded.WithLabelValues(DirectionOutbound))
	if outCount != 2 {
		t.Errorf("outbound datagrams = %v, want 2", outCount)
	}

	outBytes := testutil.ToFloat64(m.BytesForwarded.WithLabelValues(DirectionOutbound))
	if outBytes != 150 {
		t.Errorf("outbound bytes = %v, want 150", outBytes)
	}

	inBytes := testutil.ToFloat64(m.BytesForwarded.WithLabelValues(DirectionInbound))
	if inBytes != 25 {
		t.Errorf("inbound bytes = %v, want 25", inBytes)
	}
}

func TestRecordPumpTermination(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordPumpTermination(DirectionInbound, ReasonEndOfStream)
	m.RecordPumpTermination(DirectionInbound, ReasonEndOfStream)
	m.RecordPumpTermination(DirectionOutbound, ReasonReceiveError)

	count := testutil.ToFloat64(m.PumpTerminations.WithLabelValues(DirectionInbound, ReasonEndOfStream))
	if count != 2 {
		t.Errorf("inbound end_of_stream terminations = %v, want 2", count)
	}
}

func TestSetBridgeUp(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SetBridgeUp(true)
	if got := testutil.ToFloat64(m.BridgeUp); got != 1 {
		t.Errorf("BridgeUp = %v, want 1", got)
	}

	m.SetBridgeUp(false)
	if got := testutil.ToFloat64(m.BridgeUp); got != 0 {
		t.Errorf("BridgeUp = %v, want 0", got)
	}
}

func TestStreamCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordSendStreamCreated()
	m.RecordStreamAccepted()
	m.RecordStreamAccepted()

	if got := testutil.ToFloat64(m.SendStreamsCreated); got != 1 {
		t.Errorf("SendStreamsCreated = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StreamsAccepted); got != 2 {
		t.Errorf("StreamsAccepted = %v, want 2", got)
	}
}
