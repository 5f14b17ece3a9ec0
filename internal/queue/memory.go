package queue

import (
	"container/heap"
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/23f1001861/email-sender/internal/domain"
)

// MetricsSink records queue depth. Methods must be non-blocking.
type MetricsSink interface {
	QueueDepthUpdate(depth int)
}

// Memory is an in-process implementation of the delayed task queue. Tasks
// wait in a min-heap ordered by due time; a scheduler goroutine moves due
// tasks onto the delivery channel, where each is received by exactly one
// worker. Redelivery after a reported failure goes back through the heap.
type Memory struct {
	mu       sync.Mutex
	pending  itemHeap
	inflight map[uuid.UUID]*item
	wake     chan struct{}
	out      chan Delivery
	clock    func() time.Time
	metrics  MetricsSink
	seq      uint64
}

type item struct {
	id      uuid.UUID
	task    domain.DispatchTask
	opts    Options
	attempt int // deliveries completed so far
	due     time.Time
	seq     uint64 // FIFO tie-break for equal due times
	index   int
}

// NewMemory creates a queue whose delivery channel holds up to buffer due
// tasks awaiting a free worker.
func NewMemory(buffer int) *Memory {
	return &Memory{
		inflight: make(map[uuid.UUID]*item),
		wake:     make(chan struct{}, 1),
		out:      make(chan Delivery, buffer),
		clock:    time.Now,
	}
}

// WithMetrics attaches a metrics sink to the queue.
func (q *Memory) WithMetrics(sink MetricsSink) *Memory {
	q.metrics = sink
	return q
}

// WithClock overrides the time source. Only for tests.
func (q *Memory) WithClock(clock func() time.Time) *Memory {
	q.clock = clock
	return q
}

// Enqueue schedules a task for delivery no earlier than opts.Delay from now.
// Zero-valued retry options take the package defaults.
func (q *Memory) Enqueue(ctx context.Context, task domain.DispatchTask, opts Options) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}

	id := uuid.New()

	q.mu.Lock()
	q.seq++
	it := &item{
		id:   id,
		task: task,
		opts: opts,
		due:  q.clock().Add(opts.Delay),
		seq:  q.seq,
	}
	heap.Push(&q.pending, it)
	depth := len(q.pending)
	q.mu.Unlock()

	q.reportDepth(depth)
	q.signal()
	return id, nil
}

// Deliveries returns the channel workers receive due tasks from. Each
// delivery goes to exactly one receiver.
func (q *Memory) Deliveries() <-chan Delivery {
	return q.out
}

// Finish reports the outcome of a delivery. A nil error completes the task.
// Failures are classified by their tagged kind: transient failures consume
// an attempt and reschedule with backoff until the budget is exhausted,
// rate-limit deferrals reschedule without consuming an attempt, and
// permanent failures drop the task.
func (q *Memory) Finish(ctx context.Context, d Delivery, err error) {
	q.mu.Lock()
	it, ok := q.inflight[d.TaskID]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.inflight, d.TaskID)

	if err == nil {
		depth := len(q.pending)
		q.mu.Unlock()
		q.reportDepth(depth)
		return
	}

	switch KindOf(err) {
	case KindPermanent:
		q.mu.Unlock()
		log.Printf("queue: task=%s dropped after permanent failure: %v", d.TaskID, err)
		return

	case KindRateLimited:
		// Does not consume an attempt: undo the count taken by popDue so
		// quota deferrals never eat into the transient retry budget.
		// Redelivery follows the backoff series, not the next-hour boundary
		// the worker may have persisted; an early redelivery that is still
		// over quota is simply deferred again.
		it.due = q.clock().Add(backoffDelay(it.opts.BackoffBase, it.attempt))
		it.attempt--

	default: // KindTransient
		if it.attempt >= it.opts.MaxAttempts {
			q.mu.Unlock()
			log.Printf("queue: task=%s exhausted %d attempts, last error: %v", d.TaskID, it.attempt, err)
			return
		}
		it.due = q.clock().Add(backoffDelay(it.opts.BackoffBase, it.attempt))
	}

	heap.Push(&q.pending, it)
	depth := len(q.pending)
	q.mu.Unlock()

	q.reportDepth(depth)
	q.signal()
}

// Depth returns the number of tasks waiting for delivery.
func (q *Memory) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run moves due tasks from the heap onto the delivery channel until ctx is
// cancelled. It must be running for Deliveries to produce anything.
func (q *Memory) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		d, wait, ready := q.popDue()
		if ready {
			select {
			case q.out <- d:
			case <-ctx.Done():
				q.requeue(d)
				return
			}
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// popDue pops the earliest task if it is due, marking it in-flight.
// Otherwise it returns how long to wait before the next task comes due.
func (q *Memory) popDue() (Delivery, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Delivery{}, time.Hour, false
	}

	now := q.clock()
	next := q.pending[0]
	if next.due.After(now) {
		return Delivery{}, next.due.Sub(now), false
	}

	it := heap.Pop(&q.pending).(*item)
	it.attempt++
	q.inflight[it.id] = it

	return Delivery{TaskID: it.id, Attempt: it.attempt, MaxAttempts: it.opts.MaxAttempts, Task: it.task}, 0, true
}

// requeue puts a popped but undelivered task back, undoing its attempt.
func (q *Memory) requeue(d Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.inflight[d.TaskID]
	if !ok {
		return
	}
	delete(q.inflight, d.TaskID)
	it.attempt--
	heap.Push(&q.pending, it)
}

func (q *Memory) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Memory) reportDepth(depth int) {
	if q.metrics != nil {
		q.metrics.QueueDepthUpdate(depth)
	}
}

// itemHeap orders items by due time, then enqueue order.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
