package metrics

import (
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rangeplanner"

var (
    validations = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: namespace,
            Name:      "validations_total",
            Help:      "Proposed range set validations by result (ok, self_overlap, processed_overlap)",
        },
        []string{"result"},
    )

    sessionTransitions = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: namespace,
            Name:      "session_transitions_total",
            Help:      "Editing session transitions by target action",
        },
        []string{"action"},
    )

    rangesEnqueued = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: namespace,
            Name:      "ranges_enqueued_total",
            Help:      "Page ranges handed to the processing queue",
        },
    )

    pagesEnqueued = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: namespace,
            Name:      "pages_enqueued_total",
            Help:      "Pages covered by ranges handed to the processing queue",
        },
    )

    rangesProcessed = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: namespace,
            Name:      "ranges_processed_total",
            Help:      "Processed ranges by result (success, dlq, cancelled)",
        },
        []string{"result"},
    )

    retriesTotal = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: namespace,
            Name:      "retries_total",
            Help:      "Total number of range retries",
        },
    )

    processorReqs = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: namespace,
            Name:      "processor_requests_total",
            Help:      "Requests to the external processor by result",
        },
        []string{"result"},
    )

    processorLatency = prometheus.NewHistogram(
        prometheus.HistogramOpts{
            Namespace: namespace,
            Name:      "processor_request_duration_seconds",
            Help:      "Duration of external processor requests",
            Buckets:   prometheus.DefBuckets,
        },
    )

    breakerEvents = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: namespace,
            Name:      "breaker_events_total",
            Help:      "Circuit breaker events by action",
        },
        []string{"action"},
    )

    queueDepth = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Namespace: namespace,
            Name:      "queue_depth",
            Help:      "Queue depth gauges for stream, delayed and dlq",
        },
        []string{"type"},
    )
)

var initOnce sync.Once

// Init registers collectors with the default registry. Safe to call twice.
func Init() {
    initOnce.Do(func() {
        prometheus.MustRegister(validations, sessionTransitions, rangesEnqueued, pagesEnqueued,
            rangesProcessed, retriesTotal, processorReqs, processorLatency, breakerEvents, queueDepth)
    })
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveValidation(result string) { validations.WithLabelValues(result).Inc() }
func IncSession(action string)        { sessionTransitions.WithLabelValues(action).Inc() }

func AddEnqueued(ranges, pages int) {
    rangesEnqueued.Add(float64(ranges))
    pagesEnqueued.Add(float64(pages))
}

func IncProcessed(result string) { rangesProcessed.WithLabelValues(result).Inc() }
func IncRetry()                  { retriesTotal.Inc() }

func ObserveProcessor(result string, dur time.Duration) {
    processorReqs.WithLabelValues(result).Inc()
    processorLatency.Observe(dur.Seconds())
}

func BreakerOpened() { breakerEvents.WithLabelValues("opened").Inc() }
func BreakerClosed() { breakerEvents.WithLabelValues("closed").Inc() }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
