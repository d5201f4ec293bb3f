// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// Beaconクライアント・リゾルバー・突合スケジューラの各記録インターフェースを満たす。
type Collector struct {
	upstreamStatus  *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
	resolveOutcome  *prometheus.CounterVec
	cacheLookup     *prometheus.CounterVec
	syncRuns        *prometheus.CounterVec
	syncDuration    prometheus.Histogram
	statusChanges   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membersync_beacon_status_total",
			Help: "Beacon APIのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "membersync_beacon_latency_seconds",
			Help:    "Beacon API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		resolveOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membersync_resolve_total",
			Help: "メールアドレス解決の結果別の合計数",
		}, []string{"outcome"}),
		cacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membersync_resolve_cache_total",
			Help: "解決キャッシュの参照結果別の合計数",
		}, []string{"result"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membersync_sync_runs_total",
			Help: "突合実行の結果別の合計数",
		}, []string{"result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "membersync_sync_duration_seconds",
			Help:    "突合実行の所要時間（秒）",
			Buckets: []float64{1, 5, 10, 15, 20, 25, 30, 60},
		}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "membersync_status_changes_total",
			Help: "検出されたステータス変更のエンティティ種別ごとの合計数",
		}, []string{"entity_type"}),
	}

	reg.MustRegister(
		c.upstreamStatus,
		c.upstreamLatency,
		c.resolveOutcome,
		c.cacheLookup,
		c.syncRuns,
		c.syncDuration,
		c.statusChanges,
	)

	return c
}

// RecordUpstreamStatus はBeacon APIのHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordUpstreamLatency はBeacon API呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(duration time.Duration) {
	c.upstreamLatency.Observe(duration.Seconds())
}

// RecordResolve は解決結果（active / inactive / not_found / upstream_error）を記録する。
func (c *Collector) RecordResolve(outcome string) {
	c.resolveOutcome.WithLabelValues(outcome).Inc()
}

// RecordCacheLookup は解決キャッシュの参照結果を記録する。
func (c *Collector) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookup.WithLabelValues(result).Inc()
}

// RecordSyncRun は突合実行の完了を記録する。
func (c *Collector) RecordSyncRun(timedOut bool) {
	result := "completed"
	if timedOut {
		result = "timed_out"
	}
	c.syncRuns.WithLabelValues(result).Inc()
}

// RecordSyncDuration は突合実行の所要時間を記録する。
func (c *Collector) RecordSyncDuration(duration time.Duration) {
	c.syncDuration.Observe(duration.Seconds())
}

// RecordStatusChange は検出されたステータス変更を記録する。
func (c *Collector) RecordStatusChange(entityType string) {
	c.statusChanges.WithLabelValues(entityType).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
