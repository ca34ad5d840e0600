package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetricFamily はレジストリから指定名のメトリクスファミリーを取得する。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestConnections_GaugeTracksOpenAndClose は接続数ゲージが増減することを検証する。
func TestConnections_GaugeTracksOpenAndClose(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()

	mf := findMetricFamily(t, reg, "chatroom_connections")
	if val := mf.GetMetric()[0].GetGauge().GetValue(); val != 2 {
		t.Errorf("chatroom_connections = %v, want 2", val)
	}
}

// TestRecordEvent_LabelsByTypeAndOutcome はイベントカウンタが種別・結果ごとに分かれることを検証する。
func TestRecordEvent_LabelsByTypeAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEvent("send_message", OutcomeOK)
	c.RecordEvent("send_message", OutcomeOK)
	c.RecordEvent("send_message", OutcomeRejected)
	c.RecordEvent("join_room", OutcomeFailed)

	mf := findMetricFamily(t, reg, "chatroom_events_total")
	if len(mf.GetMetric()) != 3 {
		t.Fatalf("expected 3 label combinations, got %d", len(mf.GetMetric()))
	}

	for _, m := range mf.GetMetric() {
		labels := map[string]string{}
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["type"] == "send_message" && labels["outcome"] == OutcomeOK {
			if val := m.GetCounter().GetValue(); val != 2 {
				t.Errorf("send_message/ok = %v, want 2", val)
			}
		}
	}
}

// TestCounters_Increment は単純なカウンタ群が増加することを検証する。
func TestCounters_Increment(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMessagePersisted()
	c.RecordDeliveries(5)
	c.RecordDeliveries(2)
	c.RecordEviction()
	c.RecordAuthFailure()
	c.RecordAuthFailure()

	tests := []struct {
		name string
		want float64
	}{
		{"chatroom_messages_persisted_total", 1},
		{"chatroom_deliveries_total", 7},
		{"chatroom_evictions_total", 1},
		{"chatroom_auth_failures_total", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mf := findMetricFamily(t, reg, tt.name)
			if val := mf.GetMetric()[0].GetCounter().GetValue(); val != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, val, tt.want)
			}
		})
	}
}

// TestRecordHTTPStatus_LabelsByCode はHTTPステータスカウンタがコード別に記録されることを検証する。
func TestRecordHTTPStatus_LabelsByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(429)

	mf := findMetricFamily(t, reg, "chatroom_http_status_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 status codes, got %d", len(mf.GetMetric()))
	}
}

// TestRecordEventLatency_ObservesHistogram はイベント処理時間がヒストグラムに記録されることを検証する。
func TestRecordEventLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEventLatency("send_message", 15*time.Millisecond)

	mf := findMetricFamily(t, reg, "chatroom_event_duration_seconds")
	if count := mf.GetMetric()[0].GetHistogram().GetSampleCount(); count != 1 {
		t.Errorf("sample count = %d, want 1", count)
	}
}
