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
// ゲート評価、保留アクション、再実行、エンゲージメント記録、HTTP層から利用する。
type MetricsCollector interface {
	RecordGateDecision(disposition string)
	RecordIntentStoreError(op string)
	RecordReplay(kind, outcome string)
	RecordReplayLatency(duration time.Duration)
	RecordEngagement(result string)
	RecordVote(result string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	gateDecisions     *prometheus.CounterVec
	intentStoreErrors *prometheus.CounterVec
	replays           *prometheus.CounterVec
	replayLatency     prometheus.Histogram
	engagementEvents  *prometheus.CounterVec
	votes             *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_gate_decisions_total",
			Help: "ゲート評価の結果別件数",
		}, []string{"disposition"}),
		intentStoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_intent_store_errors_total",
			Help: "保留アクションストアの操作別エラー数",
		}, []string{"op"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_replays_total",
			Help: "保留アクション再実行の種別・結果別件数",
		}, []string{"kind", "outcome"}),
		replayLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "carelink_replay_latency_seconds",
			Help:    "保留アクション再実行のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		engagementEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_engagement_events_total",
			Help: "エンゲージメントイベントの処理結果別件数",
		}, []string{"result"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_votes_total",
			Help: "投票操作の結果別件数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.gateDecisions,
		c.intentStoreErrors,
		c.replays,
		c.replayLatency,
		c.engagementEvents,
		c.votes,
		c.httpStatus,
	)

	return c
}

// RecordGateDecision はゲート評価の結果を記録する。
func (c *Collector) RecordGateDecision(disposition string) {
	c.gateDecisions.WithLabelValues(disposition).Inc()
}

// RecordIntentStoreError は保留アクションストアのエラーを記録する。
func (c *Collector) RecordIntentStoreError(op string) {
	c.intentStoreErrors.WithLabelValues(op).Inc()
}

// RecordReplay は再実行の結果を記録する。
func (c *Collector) RecordReplay(kind, outcome string) {
	c.replays.WithLabelValues(kind, outcome).Inc()
}

// RecordReplayLatency は再実行にかかった時間を記録する。
func (c *Collector) RecordReplayLatency(duration time.Duration) {
	c.replayLatency.Observe(duration.Seconds())
}

// RecordEngagement はエンゲージメントイベントの処理結果を記録する。
// resultはqueued, dropped, written, sink_errorのいずれか。
func (c *Collector) RecordEngagement(result string) {
	c.engagementEvents.WithLabelValues(result).Inc()
}

// RecordVote は投票操作の結果を記録する。
func (c *Collector) RecordVote(result string) {
	c.votes.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のメトリクスが収集できなくても残りは返す。Acceptに応じてOpenMetrics形式も返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
