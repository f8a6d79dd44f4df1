package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-zest/types"
)

const (
	MetricsNamespace = "zest"
)

var (
	Debug                bool = true
	validResults              = []types.TestStatus{types.TestStatusPass, types.TestStatusFail, types.TestStatusSkip}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	zestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "zests_total",
		Help:      "Count of finished zests",
	}, []string{
		"run_id",
		"root",
		"result",
	})

	zestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "zest_duration_seconds",
		Help:      "Duration of individual zests",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{
		"root",
		"result",
	})

	workerFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "worker_faults_total",
		Help:      "Count of work orders that ended in a worker fault",
	}, []string{
		"class",
	})

	liveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "live_workers",
		Help:      "Number of worker processes currently alive",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of zest runs",
	}, []string{
		"run_id",
		"result",
	})

	runZests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_zests",
		Help:      "Number of zests in a run by outcome",
	}, []string{
		"run_id",
		"outcome",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall clock duration of zest runs",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordZest counts one finished zest under its root
func RecordZest(runID string, root string, result types.TestStatus, duration time.Duration) {
	if !isValidResult(result) {
		log.Error("RecordZest - invalid result", "result", result)
		return
	}
	zestsTotal.WithLabelValues(runID, root, string(result)).Inc()
	zestDuration.WithLabelValues(root, string(result)).Observe(duration.Seconds())
}

func RecordWorkerFault(class string) {
	if Debug {
		log.Debug("metric inc",
			"m", "worker_faults_total",
			"class", class)
	}
	workerFaultsTotal.WithLabelValues(class).Inc()
}

func SetLiveWorkers(n int) {
	liveWorkers.Set(float64(n))
}

// RecordRun sets the outcome of a whole run
func RecordRun(
	runID string,
	result string,
	total int,
	passed int,
	failed int,
	skipped int,
	duration time.Duration,
) {
	runResults.WithLabelValues(runID, result).Set(1)
	runZests.WithLabelValues(runID, "total").Set(float64(total))
	runZests.WithLabelValues(runID, "passed").Set(float64(passed))
	runZests.WithLabelValues(runID, "failed").Set(float64(failed))
	runZests.WithLabelValues(runID, "skipped").Set(float64(skipped))
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}
