// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 利用側（credential, sync, watch, worker）はそれぞれ必要なメソッドだけを
// 切り出したインターフェースを定義し、Collectorがそれらを満たす。
type Collector struct {
	pushSuccess       prometheus.Counter
	pushFail          prometheus.Counter
	pullCreated       prometheus.Counter
	pullUpdated       prometheus.Counter
	refreshSuccess    prometheus.Counter
	refreshFail       prometheus.Counter
	webhookByState    *prometheus.CounterVec
	remoteCallLatency prometheus.Histogram
	pendingSync       prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pushSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imeetsync_push_success_total",
			Help: "アウトバウンドプッシュ成功の合計数",
		}),
		pushFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imeetsync_push_fail_total",
			Help: "アウトバウンドプッシュ失敗の合計数",
		}),
		pullCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imeetsync_pull_created_total",
			Help: "インバウンド同期で作成された会議の合計数",
		}),
		pullUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imeetsync_pull_updated_total",
			Help: "インバウンド同期で更新された会議の合計数",
		}),
		refreshSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imeetsync_token_refresh_success_total",
			Help: "トークンリフレッシュ成功の合計数",
		}),
		refreshFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imeetsync_token_refresh_fail_total",
			Help: "トークンリフレッシュ失敗の合計数",
		}),
		webhookByState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imeetsync_webhook_notifications_total",
			Help: "リソース状態別のプッシュ通知受信数",
		}, []string{"resource_state"}),
		remoteCallLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imeetsync_remote_call_latency_seconds",
			Help:    "リモートカレンダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		pendingSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imeetsync_pending_sync_meetings",
			Help: "update_pending状態の会議数",
		}),
	}

	reg.MustRegister(
		c.pushSuccess,
		c.pushFail,
		c.pullCreated,
		c.pullUpdated,
		c.refreshSuccess,
		c.refreshFail,
		c.webhookByState,
		c.remoteCallLatency,
		c.pendingSync,
	)

	return c
}

// RecordPushSuccess はアウトバウンドプッシュ成功を記録する。
func (c *Collector) RecordPushSuccess() {
	c.pushSuccess.Inc()
}

// RecordPushFailure はアウトバウンドプッシュ失敗を記録する。
func (c *Collector) RecordPushFailure() {
	c.pushFail.Inc()
}

// RecordPullResults はインバウンド同期の作成・更新件数を記録する。
func (c *Collector) RecordPullResults(created, updated int) {
	c.pullCreated.Add(float64(created))
	c.pullUpdated.Add(float64(updated))
}

// RecordRefreshSuccess はトークンリフレッシュ成功を記録する。
func (c *Collector) RecordRefreshSuccess() {
	c.refreshSuccess.Inc()
}

// RecordRefreshFailure はトークンリフレッシュ失敗を記録する。
func (c *Collector) RecordRefreshFailure() {
	c.refreshFail.Inc()
}

// RecordWebhookNotification はプッシュ通知の受信を記録する。
func (c *Collector) RecordWebhookNotification(resourceState string) {
	c.webhookByState.WithLabelValues(resourceState).Inc()
}

// RecordRemoteCallLatency はリモート呼び出しのレイテンシを記録する。
func (c *Collector) RecordRemoteCallLatency(duration time.Duration) {
	c.remoteCallLatency.Observe(duration.Seconds())
}

// SetPendingSync はupdate_pending状態の会議数を記録する。
func (c *Collector) SetPendingSync(count int) {
	c.pendingSync.Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
