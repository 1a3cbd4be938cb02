package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/mezonai/msig/logx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ApplyResult string

var (
	ApplyApplied   ApplyResult = "applied"
	ApplyDuplicate ApplyResult = "duplicate"
	ApplyRecovered ApplyResult = "recovered"
	ApplyDropped   ApplyResult = "dropped"
	ApplyFailed    ApplyResult = "failed"
)

type walletPromMetrics struct {
	upUnixSeconds     prometheus.Gauge
	messagesApplied   *prometheus.CounterVec
	messagesSent      *prometheus.CounterVec
	recoveryPulls     *prometheus.CounterVec
	signaturesMerged  *prometheus.CounterVec
	executions        *prometheus.CounterVec
	executeLatency    prometheus.Histogram
	expiredEntries    prometheus.Counter
	accountTransition *prometheus.CounterVec
	queueTransition   *prometheus.CounterVec
	panicCount        prometheus.Counter
}

func newWalletPromMetrics() *walletPromMetrics {
	return &walletPromMetrics{
		upUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "msig_up_timestamp_unix_seconds",
				Help: "Unix timestamp of the wallet daemon start",
			},
		),
		messagesApplied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msig_sync_messages_total",
				Help: "Inbound sync messages by type and apply result",
			},
			[]string{"type", "result"},
		),
		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msig_sync_messages_sent_total",
				Help: "Outbound sync messages by type",
			},
			[]string{"type"},
		),
		recoveryPulls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msig_recovery_pulls_total",
				Help: "Backend recovery pulls by subject and outcome",
			},
			[]string{"subject", "outcome"},
		),
		signaturesMerged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msig_signatures_merged_total",
				Help: "Signature upserts by origin and whether they changed stored state",
			},
			[]string{"origin", "changed"},
		),
		executions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msig_executions_total",
				Help: "Multisig transaction executions by chain and outcome",
			},
			[]string{"chain", "outcome"},
		),
		executeLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "msig_execute_seconds",
				Help: "Latency of assemble and broadcast in seconds",
			},
		),
		expiredEntries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "msig_queue_expired_total",
				Help: "Queue entries moved to Expired by the sweep",
			},
		),
		accountTransition: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msig_account_transitions_total",
				Help: "Account status transitions",
			},
			[]string{"to"},
		),
		queueTransition: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "msig_queue_transitions_total",
				Help: "Queue entry status transitions",
			},
			[]string{"to"},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "msig_panic_total",
				Help: "Recovered panics in background goroutines",
			},
		),
	}
}

var (
	initOnce      sync.Once
	walletMetrics *walletPromMetrics
)

func metrics() *walletPromMetrics {
	initOnce.Do(func() {
		walletMetrics = newWalletPromMetrics()
	})
	return walletMetrics
}

// InitMetrics registers the collectors and stamps the start time
func InitMetrics() {
	metrics().upUnixSeconds.SetToCurrentTime()
}

func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("MONITORING", "Registering prometheus metrics")
	mux.Handle("/metrics", promhttp.Handler())
}

func RecordMessageApplied(msgType string, result ApplyResult) {
	metrics().messagesApplied.With(prometheus.Labels{
		"type":   msgType,
		"result": string(result),
	}).Inc()
}

func RecordMessageSent(msgType string) {
	metrics().messagesSent.With(prometheus.Labels{"type": msgType}).Inc()
}

func RecordRecoveryPull(subject string, outcome string) {
	metrics().recoveryPulls.With(prometheus.Labels{
		"subject": subject,
		"outcome": outcome,
	}).Inc()
}

func RecordSignatureMerge(origin string, changed bool) {
	label := "false"
	if changed {
		label = "true"
	}
	metrics().signaturesMerged.With(prometheus.Labels{
		"origin":  origin,
		"changed": label,
	}).Inc()
}

func RecordExecution(chain string, outcome string, duration time.Duration) {
	m := metrics()
	m.executions.With(prometheus.Labels{
		"chain":   chain,
		"outcome": outcome,
	}).Inc()
	m.executeLatency.Observe(duration.Seconds())
}

func AddExpiredEntries(n int) {
	metrics().expiredEntries.Add(float64(n))
}

func RecordAccountTransition(to string) {
	metrics().accountTransition.With(prometheus.Labels{"to": to}).Inc()
}

func RecordQueueTransition(to string) {
	metrics().queueTransition.With(prometheus.Labels{"to": to}).Inc()
}

func IncreasePanicCount() {
	metrics().panicCount.Inc()
}
