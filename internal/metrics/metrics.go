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
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordConfessionCreated(withPhoto bool)
	RecordConfessionRejected(code string)
	RecordLike()
	RecordAbuseBlocked(scope string)
	RecordChallenge(result string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// チャレンジ検証結果のラベル値。
const (
	ChallengeResultPassed = "passed"
	ChallengeResultFailed = "failed"
	ChallengeResultError  = "error"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	confessionsCreated  *prometheus.CounterVec
	confessionsRejected *prometheus.CounterVec
	likes               prometheus.Counter
	abuseBlocked        *prometheus.CounterVec
	challenges          *prometheus.CounterVec
	httpStatus          *prometheus.CounterVec
	requestLatency      prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		confessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confessional_confessions_created_total",
			Help: "作成された投稿の合計数",
		}, []string{"photo"}),
		confessionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confessional_confessions_rejected_total",
			Help: "検証エラーで拒否された投稿の合計数",
		}, []string{"code"}),
		likes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "confessional_likes_total",
			Help: "受け付けたいいねの合計数",
		}),
		abuseBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confessional_abuse_blocked_total",
			Help: "濫用ゲートで拒否されたリクエスト数",
		}, []string{"scope"}),
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confessional_challenge_verifications_total",
			Help: "チャレンジ検証の結果別の合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confessional_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "confessional_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.confessionsCreated,
		c.confessionsRejected,
		c.likes,
		c.abuseBlocked,
		c.challenges,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordConfessionCreated は投稿の作成を記録する。
func (c *Collector) RecordConfessionCreated(withPhoto bool) {
	c.confessionsCreated.WithLabelValues(strconv.FormatBool(withPhoto)).Inc()
}

// RecordConfessionRejected は投稿の拒否をエラーコード別に記録する。
func (c *Collector) RecordConfessionRejected(code string) {
	c.confessionsRejected.WithLabelValues(code).Inc()
}

// RecordLike はいいねを記録する。
func (c *Collector) RecordLike() {
	c.likes.Inc()
}

// RecordAbuseBlocked は濫用ゲートによる拒否をスコープ別に記録する。
func (c *Collector) RecordAbuseBlocked(scope string) {
	c.abuseBlocked.WithLabelValues(scope).Inc()
}

// RecordChallenge はチャレンジ検証の結果を記録する。
func (c *Collector) RecordChallenge(result string) {
	c.challenges.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler は/metricsで公開するスクレイプ用ハンドラーを返す。
// 一部のコレクターが失敗しても収集できたメトリクスは返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordConfessionCreated(bool)       {}
func (NopCollector) RecordConfessionRejected(string)    {}
func (NopCollector) RecordLike()                        {}
func (NopCollector) RecordAbuseBlocked(string)          {}
func (NopCollector) RecordChallenge(string)             {}
func (NopCollector) RecordHTTPStatus(int)               {}
func (NopCollector) RecordRequestLatency(time.Duration) {}
