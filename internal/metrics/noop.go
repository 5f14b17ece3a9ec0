package metrics

import "time"

// NoopSink is a no-op implementation of Sink used when metrics are disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (NoopSink) SubmissionAccepted(int)                             {}
func (NoopSink) SubmissionRejected()                                {}
func (NoopSink) EnqueueError()                                      {}
func (NoopSink) SendAttemptCompleted(int, string, time.Duration)    {}
func (NoopSink) SendOutcome(string)                                 {}
func (NoopSink) RateLimitDeferral()                                 {}
func (NoopSink) TasksInFlightIncr()                                 {}
func (NoopSink) TasksInFlightDecr()                                 {}
func (NoopSink) JobCompleted()                                      {}
func (NoopSink) QueueDepthUpdate(int)                               {}
func (NoopSink) StuckRecipientsUpdate(int)                          {}

var _ Sink = NoopSink{}
var _ Sink = (*PrometheusSink)(nil)
