package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
)

var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malbeclabs_rewards_engine_operations_total",
			Help: "Total number of engine operations",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "malbeclabs_rewards_engine_operation_duration_seconds",
			Help:    "Duration of engine operations, including storage retries",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"operation"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malbeclabs_rewards_engine_errors_total",
			Help: "Total number of failed engine operations by error kind and name",
		},
		[]string{"kind", "name"},
	)

	ClaimedAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malbeclabs_rewards_claimed_amount_total",
			Help: "Total base units paid out to claimants",
		},
		[]string{"flow"}, // "direct", "merkle", "pool"
	)

	DistributedAmountTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "malbeclabs_rewards_pool_distributed_amount_total",
			Help: "Total base units distributed into continuous reward pools",
		},
	)

	RevokedAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malbeclabs_rewards_revoked_amount_total",
			Help: "Total base units freed by revocations",
		},
		[]string{"flow", "mode"},
	)

	BalanceReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "malbeclabs_rewards_balance_reads_total",
			Help: "Total number of on-chain token balance reads",
		},
		[]string{"status"},
	)
)

// RecordOperation records the outcome of one engine operation.
func RecordOperation(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		name := "unknown"
		if e, ok := errs.As(err); ok {
			name = e.Name
		}
		ErrorsTotal.WithLabelValues(errs.KindOf(err).String(), name).Inc()
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
