package host

import (
	"context"
	"sync"
	"time"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/message"
	"github.com/evocrestco/api-exchange-core-sub000/processor"
	"github.com/evocrestco/api-exchange-core-sub000/queue"
	"github.com/evocrestco/api-exchange-core-sub000/tenant"
)

// Dequeuer is the inbound side of the queue layer. The Redis queue
// implements both Dequeuer and queue.Publisher.
type Dequeuer interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*message.Message, error)
}

// PoolConfig sizes and wires the worker pool.
type PoolConfig struct {
	// InputQueue is the queue the workers drain.
	InputQueue string
	// Workers is the number of concurrent workers (default 1).
	Workers int
	// DequeueTimeout bounds each blocking dequeue (default 5s).
	DequeueTimeout time.Duration
	// DeadLetterQueue receives messages that exhausted their retries.
	// Empty means exhausted messages are dropped with an error log.
	DeadLetterQueue string

	// MaxRetryDelay caps the backoff waited before re-enqueueing a
	// retryable failure. Zero means the full backoff is honored.
	MaxRetryDelay time.Duration
}

// Pool runs a handler against every message of an input queue.
//
// Retryable failures are re-enqueued with an incremented retry count until
// the message's retry budget runs out; then, and on permanent failures, the
// message goes to the dead-letter queue.
type Pool struct {
	input     Dequeuer
	publisher queue.Publisher
	handler   *processor.Handler
	router    *queue.OutputRouter
	cfg       PoolConfig
	logger    *common.ContextLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool builds a worker pool. router may be nil for terminal processors.
func NewPool(input Dequeuer, publisher queue.Publisher, handler *processor.Handler, router *queue.OutputRouter, cfg PoolConfig, logger *common.ContextLogger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = common.FrameworkLogger("host")
	}
	return &Pool{
		input:     input,
		publisher: publisher,
		handler:   handler,
		router:    router,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start launches the workers. It returns immediately.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.logger.WithFields(map[string]interface{}{
		"queue":   p.cfg.InputQueue,
		"workers": p.cfg.Workers,
	}).Info("starting worker pool")

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop cancels the workers and waits for them to drain.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.WithField("worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := p.input.Dequeue(ctx, p.cfg.InputQueue, p.cfg.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			continue
		}
		p.processMessage(ctx, log, msg)
	}
}

func (p *Pool) processMessage(ctx context.Context, log *common.ContextLogger, msg *message.Message) {
	execCtx := ctx
	if msg.EntityReference.TenantID != "" {
		scoped, err := tenant.WithTenantID(ctx, msg.EntityReference.TenantID)
		if err != nil {
			log.WithError(err).Error("invalid tenant on message")
			p.deadLetter(ctx, log, msg)
			return
		}
		execCtx = scoped
	}

	result := p.handler.Execute(execCtx, msg)

	if result.Success {
		if p.router != nil {
			if err := p.router.RouteResult(execCtx, result); err != nil {
				log.WithError(err).Error("failed to route output messages")
			}
		}
		return
	}

	if result.CanRetry && msg.CanRetry() {
		p.requeueAfterBackoff(ctx, log, msg, result.RetryAfterSeconds)
		return
	}

	p.deadLetter(ctx, log, msg)
}

// requeueAfterBackoff waits out the result's backoff off the worker
// goroutine, then re-enqueues the message with its retry count bumped. A
// shutdown cuts the wait short and flushes the message back to the queue
// immediately so it is not lost.
func (p *Pool) requeueAfterBackoff(ctx context.Context, log *common.ContextLogger, msg *message.Message, backoffSeconds int) {
	retry := msg.WithRetry()
	delay := time.Duration(backoffSeconds) * time.Second
	if p.cfg.MaxRetryDelay > 0 && delay > p.cfg.MaxRetryDelay {
		delay = p.cfg.MaxRetryDelay
	}

	log.WithFields(map[string]interface{}{
		"message_id":  msg.MessageID,
		"retry_count": retry.RetryCount,
		"delay":       delay.String(),
	}).Warn("processing failed, re-enqueueing after backoff")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}

		// The pool context may already be canceled; the flush must still
		// reach the queue.
		if err := p.publisher.Publish(context.Background(), p.cfg.InputQueue, retry); err != nil {
			log.WithError(err).Error("failed to re-enqueue message")
			p.deadLetter(ctx, log, msg)
		}
	}()
}

func (p *Pool) deadLetter(ctx context.Context, log *common.ContextLogger, msg *message.Message) {
	if p.cfg.DeadLetterQueue == "" {
		log.WithField("message_id", msg.MessageID).Error("dropping message, no dead-letter queue configured")
		return
	}
	if err := p.publisher.Publish(context.WithoutCancel(ctx), p.cfg.DeadLetterQueue, msg); err != nil {
		log.WithError(err).WithField("message_id", msg.MessageID).Error("failed to dead-letter message")
		return
	}
	log.WithField("message_id", msg.MessageID).Warn("message dead-lettered")
}
