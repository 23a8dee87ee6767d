// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、メール送信から利用する。
type MetricsCollector interface {
	RecordSignIn(provider, result string)
	RecordSessionCreated(provider string)
	RecordGateDecision(decision string)
	RecordEmailDispatch(result string)
	RecordGeoLookup(result string, duration time.Duration)
	RecordExpiredDeleted(kind string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIn          *prometheus.CounterVec
	sessionsCreated *prometheus.CounterVec
	gateDecisions   *prometheus.CounterVec
	emailDispatch   *prometheus.CounterVec
	geoLookups      *prometheus.CounterVec
	geoLatency      prometheus.Histogram
	expiredDeleted  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drive_signin_attempts_total",
			Help: "プロバイダー・結果別のサインイン試行数",
		}, []string{"provider", "result"}),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drive_sessions_created_total",
			Help: "プロバイダー別の発行済みセッション数",
		}, []string{"provider"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drive_route_gate_decisions_total",
			Help: "ルートゲートの判定結果別の件数",
		}, []string{"decision"}),
		emailDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drive_email_dispatch_total",
			Help: "マジックリンクメール送信の結果別件数",
		}, []string{"result"}),
		geoLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drive_geo_lookups_total",
			Help: "IP位置情報の照会結果別件数",
		}, []string{"result"}),
		geoLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "drive_geo_lookup_latency_seconds",
			Help:    "IP位置情報照会のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		expiredDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drive_expired_records_deleted_total",
			Help: "クリーンアップで削除された期限切れレコード数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.signIn,
		c.sessionsCreated,
		c.gateDecisions,
		c.emailDispatch,
		c.geoLookups,
		c.geoLatency,
		c.expiredDeleted,
	)

	return c
}

// RecordSignIn はサインイン試行を記録する。
func (c *Collector) RecordSignIn(provider, result string) {
	c.signIn.WithLabelValues(provider, result).Inc()
}

// RecordSessionCreated はセッション発行を記録する。
func (c *Collector) RecordSessionCreated(provider string) {
	c.sessionsCreated.WithLabelValues(provider).Inc()
}

// RecordGateDecision はルートゲートの判定を記録する。
func (c *Collector) RecordGateDecision(decision string) {
	c.gateDecisions.WithLabelValues(decision).Inc()
}

// RecordEmailDispatch はメール送信結果を記録する。
func (c *Collector) RecordEmailDispatch(result string) {
	c.emailDispatch.WithLabelValues(result).Inc()
}

// RecordGeoLookup は位置情報照会の結果とレイテンシを記録する。
// スキップした照会はレイテンシに含めない。
func (c *Collector) RecordGeoLookup(result string, duration time.Duration) {
	c.geoLookups.WithLabelValues(result).Inc()
	if result != ResultSkipped {
		c.geoLatency.Observe(duration.Seconds())
	}
}

// RecordExpiredDeleted はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordExpiredDeleted(kind string, count int64) {
	c.expiredDeleted.WithLabelValues(kind).Add(float64(count))
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordSignIn(string, string)           {}
func (NopCollector) RecordSessionCreated(string)           {}
func (NopCollector) RecordGateDecision(string)             {}
func (NopCollector) RecordEmailDispatch(string)            {}
func (NopCollector) RecordGeoLookup(string, time.Duration) {}
func (NopCollector) RecordExpiredDeleted(string, int64)    {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
