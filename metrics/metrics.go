package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

const (
	MetricsNamespace = "taskrunner"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tasks_total",
		Help:      "Count of finished tasks",
	}, []string{
		"job_id",
		"kind",
		"status",
	})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "task_duration_seconds",
		Help:      "Elapsed time between a task's first and last status event",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{
		"kind",
	})

	statusEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "status_events_total",
		Help:      "Count of recorded status events",
	}, []string{
		"status",
	})

	contractViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "contract_violations_total",
		Help:      "Count of task event streams that broke the runner contract",
	}, []string{
		"kind",
	})

	artifactErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "artifact_errors_total",
		Help:      "Count of failed artifact materializations",
	})

	sinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "sink_errors_total",
		Help:      "Count of errors returned by result sinks",
	}, []string{
		"sink",
	})

	jobResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "job_results",
		Help:      "Per status task counts of the last job",
	}, []string{
		"job_id",
		"status",
	})

	jobExitStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "job_exit_status",
		Help:      "Exit status of the last job",
	}, []string{
		"job_id",
	})

	jobDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "job_duration_seconds",
		Help:      "Wall clock duration of the last job",
	}, []string{
		"job_id",
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

func RecordStatusEvent(status types.Lifecycle) {
	statusEventsTotal.WithLabelValues(string(status)).Inc()
}

func RecordTask(jobID string, kind string, status types.TestStatus, elapsed time.Duration) {
	if Debug {
		log.Debug("metric inc",
			"m", "tasks_total",
			"job_id", jobID,
			"kind", kind,
			"status", status)
	}
	tasksTotal.WithLabelValues(jobID, kind, string(status)).Inc()
	taskDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func RecordContractViolation(kind string) {
	contractViolationsTotal.WithLabelValues(kind).Inc()
}

func RecordArtifactError() {
	artifactErrorsTotal.Inc()
}

func RecordSinkError(sink string) {
	sinkErrorsTotal.WithLabelValues(sink).Inc()
}

// RecordJob publishes the summary of a finished job
func RecordJob(jobID string, counts map[types.TestStatus]int, exitStatus int, duration time.Duration) {
	for status, n := range counts {
		jobResults.WithLabelValues(jobID, string(status)).Set(float64(n))
	}
	jobExitStatus.WithLabelValues(jobID).Set(float64(exitStatus))
	jobDuration.WithLabelValues(jobID).Set(duration.Seconds())
}
