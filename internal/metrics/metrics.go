// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値。
const (
	LoginOK          = "ok"
	LoginFailed      = "failed"
	LoginStoreError  = "store_error"
	LoginRateLimited = "rate_limited"
)

// Recorder はメトリクス記録のインターフェース。
// ハンドラーやミドルウェアから利用する。
type Recorder interface {
	RecordLogin(result string)
	RecordAuthCheck(authorized bool)
	RecordProxy(upstream string, statusCode int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins        *prometheus.CounterVec
	authChecks    *prometheus.CounterVec
	proxyRequests *prometheus.CounterVec
	proxyLatency  *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		authChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_auth_checks_total",
			Help: "/authの判定結果別の呼び出し数",
		}, []string{"authorized"}),
		proxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_proxy_requests_total",
			Help: "上流サービス・ステータスコード別のプロキシリクエスト数",
		}, []string{"upstream", "status_code"}),
		proxyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_proxy_latency_seconds",
			Help:    "上流サービス別のプロキシレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream"}),
	}

	reg.MustRegister(
		c.logins,
		c.authChecks,
		c.proxyRequests,
		c.proxyLatency,
	)
	return c
}

// RecordLogin はログイン試行を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordAuthCheck は/authの判定結果を記録する。
func (c *Collector) RecordAuthCheck(authorized bool) {
	c.authChecks.WithLabelValues(strconv.FormatBool(authorized)).Inc()
}

// RecordProxy はプロキシしたリクエストを記録する。
func (c *Collector) RecordProxy(upstream string, statusCode int, duration time.Duration) {
	c.proxyRequests.WithLabelValues(upstream, strconv.Itoa(statusCode)).Inc()
	c.proxyLatency.WithLabelValues(upstream).Observe(duration.Seconds())
}

var _ Recorder = (*Collector)(nil)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないRecorder。
type Nop struct{}

// RecordLogin は何もしない。
func (Nop) RecordLogin(string) {}

// RecordAuthCheck は何もしない。
func (Nop) RecordAuthCheck(bool) {}

// RecordProxy は何もしない。
func (Nop) RecordProxy(string, int, time.Duration) {}
