package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull  = errors.New("taskqueue: queue full")
	ErrPoolClosed = errors.New("taskqueue: pool closed")
)

const (
	defaultWorkers      = 4
	defaultQueueSize    = 64
	defaultResultBuffer = 256
)

// Job is a unit of background work. Run receives the pool context, which is
// cancelled only when Shutdown gives up waiting.
type Job struct {
	ID      string
	Type    string
	Group   string
	Payload any
	Run     func(ctx context.Context) (any, error)
}

// Result is published once per executed job.
type Result struct {
	JobID    string        `json:"job_id"`
	Type     string        `json:"type"`
	Group    string        `json:"group,omitempty"`
	Value    any           `json:"value,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

type PoolConfig struct {
	Workers      int
	QueueSize    int
	ResultBuffer int
}

// Pool runs jobs on a fixed set of workers fed by a bounded queue.
type Pool struct {
	queue   chan Job
	results chan Result
	ledger  *Ledger
	logger  *zap.Logger

	mu        sync.RWMutex
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
}

// NewPool starts the workers. ledger may be nil.
func NewPool(cfg PoolConfig, ledger *Ledger, logger *zap.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.ResultBuffer < 1 {
		cfg.ResultBuffer = defaultResultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	p := &Pool{
		queue:   make(chan Job, cfg.QueueSize),
		results: make(chan Result, cfg.ResultBuffer),
		ledger:  ledger,
		logger:  logger,
		ctx:     gctx,
		cancel:  cancel,
		group:   g,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		g.Go(p.work)
	}
	go func() {
		_ = g.Wait()
		close(p.results)
		close(p.done)
	}()
	return p
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(ctx context.Context, job Job) (string, error) {
	return p.submit(ctx, job, false)
}

// SubmitWait enqueues job, waiting for queue space until ctx is done or the
// pool starts shutting down.
func (p *Pool) SubmitWait(ctx context.Context, job Job) (string, error) {
	return p.submit(ctx, job, true)
}

func (p *Pool) submit(ctx context.Context, job Job, wait bool) (string, error) {
	if job.Run == nil {
		return "", errors.New("taskqueue: job has no Run func")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	// The read lock is held across a blocked send; Shutdown closes closing
	// before it asks for the write lock, which releases any waiter.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", ErrPoolClosed
	}

	if p.ledger != nil {
		if _, err := p.ledger.Enqueue(ctx, job.ID, job.Type, job.Group, job.Payload); err != nil {
			p.logger.Warn("task ledger enqueue failed", zap.String("task", job.ID), zap.Error(err))
		}
	}

	if !wait {
		select {
		case p.queue <- job:
			return job.ID, nil
		default:
			p.record(ctx, job.ID, TaskFailed, nil, ErrQueueFull)
			return "", fmt.Errorf("%w: job %s", ErrQueueFull, job.Type)
		}
	}

	select {
	case p.queue <- job:
		return job.ID, nil
	case <-p.closing:
		p.record(ctx, job.ID, TaskFailed, nil, ErrPoolClosed)
		return "", ErrPoolClosed
	case <-ctx.Done():
		p.record(ctx, job.ID, TaskFailed, nil, ctx.Err())
		return "", ctx.Err()
	}
}

// Results streams job outcomes. It is closed after Shutdown drains the queue.
// Results are dropped when nobody keeps up with the buffer.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Pending reports how many jobs are waiting for a worker.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Shutdown stops accepting jobs and waits for queued ones to finish. If ctx
// expires first the running jobs are cancelled and ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.closing) })
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-p.done
		return ctx.Err()
	}
}

func (p *Pool) work() error {
	for job := range p.queue {
		p.run(job)
	}
	return nil
}

func (p *Pool) run(job Job) {
	p.record(p.ctx, job.ID, TaskRunning, nil, nil)

	start := time.Now()
	value, err := p.safeRun(job)
	res := Result{
		JobID:    job.ID,
		Type:     job.Type,
		Group:    job.Group,
		Value:    value,
		Err:      err,
		Duration: time.Since(start),
	}

	if err != nil {
		p.logger.Warn("background job failed",
			zap.String("job", job.ID),
			zap.String("type", job.Type),
			zap.Error(err),
		)
		p.record(p.ctx, job.ID, TaskFailed, value, err)
	} else {
		p.record(p.ctx, job.ID, TaskCompleted, value, nil)
	}

	select {
	case p.results <- res:
	default:
		p.logger.Debug("result dropped, no reader", zap.String("job", job.ID))
	}
}

func (p *Pool) safeRun(job Job) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(p.ctx)
}

func (p *Pool) record(ctx context.Context, id string, status TaskStatus, result any, jobErr error) {
	if p.ledger == nil {
		return
	}
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	// The ledger outlives a cancelled pool context.
	ctx = context.WithoutCancel(ctx)
	if err := p.ledger.UpdateStatus(ctx, id, status, result, msg); err != nil {
		p.logger.Debug("task ledger update failed", zap.String("task", id), zap.Error(err))
	}
}
