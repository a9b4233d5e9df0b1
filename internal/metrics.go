package internal

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terastream_extractions_total",
		Help: "Completed extractions by outcome",
	}, []string{"outcome"}) // outcome=ok|invalid_url|no_files|no_video|host_error|transport|timeout

	extractionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "terastream_extraction_duration_seconds",
		Help:    "End-to-end extraction latency",
		Buckets: prometheus.DefBuckets,
	})

	ladderAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terastream_ladder_attempts_total",
		Help: "Stream-URL ladder attempts by rung and result",
	}, []string{"rung", "result"}) // rung=dlink|streaming|download|filemetas|videoplay, result=hit|miss

	sessionBootstrapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terastream_session_bootstraps_total",
		Help: "Session bootstraps by trigger",
	}, []string{"trigger"}) // trigger=initial|expired|invalidated

	mirrorRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terastream_mirror_rotations_total",
		Help: "Mirror rotations after captcha errnos or transport failures",
	})

	hostErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terastream_host_errors_total",
		Help: "Non-zero host errnos observed in API responses",
	}, []string{"errno"})

	transportRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "terastream_transport_retries_total",
		Help: "HTTP attempts retried after transport errors",
	})
)

func RecordExtraction(outcome string, seconds float64) {
	extractionsTotal.WithLabelValues(outcome).Inc()
	extractionSeconds.Observe(seconds)
}

func RecordLadderAttempt(rung, result string) {
	ladderAttemptsTotal.WithLabelValues(rung, result).Inc()
}

func RecordSessionBootstrap(trigger string) {
	sessionBootstrapsTotal.WithLabelValues(trigger).Inc()
}

func IncMirrorRotation() { mirrorRotationsTotal.Inc() }

func RecordHostError(errno int64) {
	hostErrorsTotal.WithLabelValues(strconv.FormatInt(errno, 10)).Inc()
}

func IncTransportRetry() { transportRetriesTotal.Inc() }
