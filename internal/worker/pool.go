package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/fitmate-chat/internal/store/rabbitmq"
	"go.uber.org/zap"
)

// JobHandler processes one job id.
type JobHandler interface {
	Handle(ctx context.Context, jobID string) error
}

// Retrier schedules a failed delivery for another attempt.
type Retrier interface {
	Retry(ctx context.Context, d amqp.Delivery) error
}

type Pool struct {
	handler     JobHandler
	retrier     Retrier
	concurrency int
	maxAttempts int
	logger      *zap.Logger
}

// NewPool builds a pool of concurrency workers. A nil retrier sends every
// failure straight to the dead-letter queue.
func NewPool(handler JobHandler, retrier Retrier, concurrency, maxAttempts int, logger *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		handler:     handler,
		retrier:     retrier,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Run dispatches deliveries to the workers until ctx is done or the delivery
// channel closes, then waits for in-flight jobs.
func (p *Pool) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	jobs := make(chan amqp.Delivery, p.concurrency*2)

	var wg sync.WaitGroup
	wg.Add(p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				p.process(ctx, workerID, d)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker pool shutting down")
			return
		case d, ok := <-deliveries:
			if !ok {
				p.logger.Warn("delivery channel closed")
				return
			}
			jobs <- d
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID int, d amqp.Delivery) {
	log := p.logger.With(zap.Int("worker", workerID))

	jobID, err := rabbitmq.DecodeJob(d.Body)
	if err != nil {
		log.Warn("bad message", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	log = log.With(zap.String("job_id", jobID))

	start := time.Now()
	err = p.handler.Handle(ctx, jobID)
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
		return
	}

	attempt := rabbitmq.Attempt(d)
	log.Warn("job failed", zap.Int("attempt", attempt), zap.Duration("cost", time.Since(start)), zap.Error(err))

	if p.retrier != nil && !errors.Is(err, ErrPermanent) && attempt < p.maxAttempts {
		rerr := p.retrier.Retry(ctx, d)
		if rerr == nil {
			_ = d.Ack(false)
			return
		}
		log.Warn("schedule retry failed", zap.Error(rerr))
	}
	_ = d.Nack(false, false)
}
