// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// イベントルーター、送信ハブ、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	ConnectionOpened()
	ConnectionClosed()
	RecordEvent(eventType, outcome string)
	RecordEventLatency(eventType string, duration time.Duration)
	RecordMessagePersisted()
	RecordDeliveries(count int)
	RecordEviction()
	RecordAuthFailure()
	RecordHTTPStatus(statusCode int)
}

// イベント処理結果のラベル値
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	connections      prometheus.Gauge
	events           *prometheus.CounterVec
	eventLatency     *prometheus.HistogramVec
	messagePersisted prometheus.Counter
	deliveries       prometheus.Counter
	evictions        prometheus.Counter
	authFailures     prometheus.Counter
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatroom_connections",
			Help: "現在接続中のソケット数",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatroom_events_total",
			Help: "受信イベントの種別・処理結果別の合計数",
		}, []string{"type", "outcome"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatroom_event_duration_seconds",
			Help:    "受信イベントの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		messagePersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatroom_messages_persisted_total",
			Help: "永続化されたメッセージの合計数",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatroom_deliveries_total",
			Help: "接続ごとの送信キューに積まれたイベントの合計数",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatroom_evictions_total",
			Help: "送信キュー溢れにより切断された接続の合計数",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatroom_auth_failures_total",
			Help: "ソケット認証失敗の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatroom_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.connections,
		c.events,
		c.eventLatency,
		c.messagePersisted,
		c.deliveries,
		c.evictions,
		c.authFailures,
		c.httpStatus,
	)

	return c
}

// ConnectionOpened は接続数を1増やす。
func (c *Collector) ConnectionOpened() {
	c.connections.Inc()
}

// ConnectionClosed は接続数を1減らす。
func (c *Collector) ConnectionClosed() {
	c.connections.Dec()
}

// RecordEvent は受信イベントの処理結果を記録する。
func (c *Collector) RecordEvent(eventType, outcome string) {
	c.events.WithLabelValues(eventType, outcome).Inc()
}

// RecordEventLatency はイベント処理時間を記録する。
func (c *Collector) RecordEventLatency(eventType string, duration time.Duration) {
	c.eventLatency.WithLabelValues(eventType).Observe(duration.Seconds())
}

// RecordMessagePersisted はメッセージの永続化を記録する。
func (c *Collector) RecordMessagePersisted() {
	c.messagePersisted.Inc()
}

// RecordDeliveries は送信キューに積まれたイベント数を記録する。
func (c *Collector) RecordDeliveries(count int) {
	c.deliveries.Add(float64(count))
}

// RecordEviction は低速な接続の切断を記録する。
func (c *Collector) RecordEviction() {
	c.evictions.Inc()
}

// RecordAuthFailure はソケット認証失敗を記録する。
func (c *Collector) RecordAuthFailure() {
	c.authFailures.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)

// nopCollector は何も記録しないMetricsCollector。
type nopCollector struct{}

// NewNopCollector はメトリクスを記録しないMetricsCollectorを返す。
// テストやメトリクス無効時に使用する。
func NewNopCollector() MetricsCollector { return nopCollector{} }

func (nopCollector) ConnectionOpened()                        {}
func (nopCollector) ConnectionClosed()                        {}
func (nopCollector) RecordEvent(string, string)               {}
func (nopCollector) RecordEventLatency(string, time.Duration) {}
func (nopCollector) RecordMessagePersisted()                  {}
func (nopCollector) RecordDeliveries(int)                     {}
func (nopCollector) RecordEviction()                          {}
func (nopCollector) RecordAuthFailure()                       {}
func (nopCollector) RecordHTTPStatus(int)                     {}
