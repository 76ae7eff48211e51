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
// セッション層、イベントバス、通知、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	ObserveTransition(from, to string)
	ObserveLogin(method string, success bool)
	ObserveEmit(event string, subscribers int)
	ObserveHandlerFailure(event string)
	RecordNotification(severity string)
	RecordProfileUpdate()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	transitions    *prometheus.CounterVec
	logins         *prometheus.CounterVec
	busEmits       *prometheus.CounterVec
	busFailures    *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	profileUpdates prometheus.Counter
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_session_transitions_total",
			Help: "セッション状態遷移の合計数",
		}, []string{"from", "to"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_login_attempts_total",
			Help: "ログイン試行の合計数（手段・結果別）",
		}, []string{"method", "result"}),
		busEmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_bus_emits_total",
			Help: "イベントバスのEmit回数",
		}, []string{"event"}),
		busFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_bus_handler_failures_total",
			Help: "イベント購読者の失敗数",
		}, []string{"event"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_notifications_total",
			Help: "表示された通知の合計数（重要度別）",
		}, []string{"severity"}),
		profileUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_profile_updates_total",
			Help: "プロフィール更新の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.transitions,
		c.logins,
		c.busEmits,
		c.busFailures,
		c.notifications,
		c.profileUpdates,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// ObserveTransition はセッション状態遷移を記録する。
func (c *Collector) ObserveTransition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
}

// ObserveLogin はログイン試行の結果を記録する。
func (c *Collector) ObserveLogin(method string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.logins.WithLabelValues(method, result).Inc()
}

// ObserveEmit はイベントのEmitを記録する。
func (c *Collector) ObserveEmit(event string, _ int) {
	c.busEmits.WithLabelValues(event).Inc()
}

// ObserveHandlerFailure はイベント購読者の失敗を記録する。
func (c *Collector) ObserveHandlerFailure(event string) {
	c.busFailures.WithLabelValues(event).Inc()
}

// RecordNotification は通知の表示を記録する。
func (c *Collector) RecordNotification(severity string) {
	c.notifications.WithLabelValues(severity).Inc()
}

// RecordProfileUpdate はプロフィール更新を記録する。
func (c *Collector) RecordProfileUpdate() {
	c.profileUpdates.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
