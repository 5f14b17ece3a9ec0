package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Submission metrics
	submissionsTotal         *prometheus.CounterVec
	recipientsSubmittedTotal prometheus.Counter
	enqueueErrorsTotal       prometheus.Counter

	// Dispatcher metrics
	sendAttemptsTotal       *prometheus.CounterVec
	sendOutcomesTotal       *prometheus.CounterVec
	sendDuration            prometheus.Histogram
	rateLimitDeferralsTotal prometheus.Counter
	tasksInFlight           prometheus.Gauge

	// Completion metrics
	jobsCompletedTotal prometheus.Counter

	// Queue / reconciler metrics
	queueDepth      prometheus.Gauge
	stuckRecipients prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSubmissionMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initQueueMetrics(reg)
	return s
}

func (s *PrometheusSink) initSubmissionMetrics(reg prometheus.Registerer) {
	s.submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emailsender_submissions_total",
		Help: "Total number of batch submissions by result.",
	}, []string{"result"})
	s.recipientsSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emailsender_recipients_submitted_total",
		Help: "Total number of recipients accepted across all submissions.",
	})
	s.enqueueErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emailsender_enqueue_errors_total",
		Help: "Total number of post-commit enqueue failures.",
	})

	s.register(reg, s.submissionsTotal, "emailsender_submissions_total")
	s.register(reg, s.recipientsSubmittedTotal, "emailsender_recipients_submitted_total")
	s.register(reg, s.enqueueErrorsTotal, "emailsender_enqueue_errors_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.sendAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emailsender_dispatcher_send_attempts_total",
		Help: "Total number of mailer send attempts.",
	}, []string{"attempt", "status_class"})

	s.sendOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emailsender_dispatcher_send_outcomes_total",
		Help: "Total number of final per-recipient outcomes.",
	}, []string{"outcome"})

	s.sendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "emailsender_dispatcher_send_duration_seconds",
		Help:    "Mailer request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.rateLimitDeferralsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emailsender_dispatcher_rate_limit_deferrals_total",
		Help: "Total number of sends deferred by the hourly quota.",
	})

	s.tasksInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emailsender_dispatcher_tasks_in_flight",
		Help: "Number of dispatch tasks currently being processed.",
	})

	s.register(reg, s.sendAttemptsTotal, "emailsender_dispatcher_send_attempts_total")
	s.register(reg, s.sendOutcomesTotal, "emailsender_dispatcher_send_outcomes_total")
	s.register(reg, s.sendDuration, "emailsender_dispatcher_send_duration_seconds")
	s.register(reg, s.rateLimitDeferralsTotal, "emailsender_dispatcher_rate_limit_deferrals_total")
	s.register(reg, s.tasksInFlight, "emailsender_dispatcher_tasks_in_flight")
}

func (s *PrometheusSink) initQueueMetrics(reg prometheus.Registerer) {
	s.jobsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "emailsender_jobs_completed_total",
		Help: "Total number of jobs whose recipients were all sent.",
	})
	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emailsender_queue_depth",
		Help: "Number of dispatch tasks waiting for delivery.",
	})
	s.stuckRecipients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "emailsender_reconciler_stuck_recipients",
		Help: "Stuck recipients found by the last reconciler sweep.",
	})

	s.register(reg, s.jobsCompletedTotal, "emailsender_jobs_completed_total")
	s.register(reg, s.queueDepth, "emailsender_queue_depth")
	s.register(reg, s.stuckRecipients, "emailsender_reconciler_stuck_recipients")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Submission metrics implementation

func (s *PrometheusSink) SubmissionAccepted(recipients int) {
	s.submissionsTotal.WithLabelValues("accepted").Inc()
	s.recipientsSubmittedTotal.Add(float64(recipients))
}

func (s *PrometheusSink) SubmissionRejected() {
	s.submissionsTotal.WithLabelValues("rejected").Inc()
}

func (s *PrometheusSink) EnqueueError() {
	s.enqueueErrorsTotal.Inc()
}

// Dispatcher metrics implementation

func (s *PrometheusSink) SendAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.sendAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.sendDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) SendOutcome(outcome string) {
	s.sendOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RateLimitDeferral() {
	s.rateLimitDeferralsTotal.Inc()
}

func (s *PrometheusSink) TasksInFlightIncr() {
	s.tasksInFlight.Inc()
}

func (s *PrometheusSink) TasksInFlightDecr() {
	s.tasksInFlight.Dec()
}

// Completion metrics implementation

func (s *PrometheusSink) JobCompleted() {
	s.jobsCompletedTotal.Inc()
}

// Queue / reconciler metrics implementation

func (s *PrometheusSink) QueueDepthUpdate(depth int) {
	s.queueDepth.Set(float64(depth))
}

func (s *PrometheusSink) StuckRecipientsUpdate(count int) {
	s.stuckRecipients.Set(float64(count))
}
