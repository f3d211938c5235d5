package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"backoffice/internal/core"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Processor handles one fiscal document. core.FiscalPipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, documentID int64) error
}

// Worker pulls jobs off a Queue. Each job runs under a per-document lease so
// redundant deliveries of the same document never process concurrently.
type Worker struct {
	q      *Queue
	locker *redislock.Client
	proc   Processor
	logger *logrus.Logger
}

func NewWorker(q *Queue, proc Processor) *Worker {
	return &Worker{
		q:      q,
		locker: redislock.New(q.rdb),
		proc:   proc,
		logger: q.logger,
	}
}

// Run blocks until ctx is cancelled. It requeues jobs left in processing by
// a previous run, then starts the promoter and opts.Workers consumers.
func (w *Worker) Run(ctx context.Context) error {
	log := w.logger.WithField("module", "FiscalWorker")

	n, err := w.q.requeueStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.WithField("count", n).Warn("requeued jobs left in processing")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.promote(ctx)
	}()
	for i := 0; i < w.q.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.consume(ctx, id)
		}(i)
	}
	log.WithField("workers", w.q.opts.Workers).Info("fiscal worker started")

	wg.Wait()
	log.Info("fiscal worker stopped")
	return nil
}

func (w *Worker) promote(ctx context.Context) {
	ticker := time.NewTicker(w.q.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.q.promoteDue(ctx); err != nil && ctx.Err() == nil {
				w.logger.WithField("module", "FiscalWorker").WithError(err).Error("failed to promote delayed jobs")
			}
		}
	}
}

func (w *Worker) consume(ctx context.Context, id int) {
	k := w.q.keys
	for ctx.Err() == nil {
		raw, err := w.q.rdb.BLMove(ctx, k.ready, k.processing, "RIGHT", "LEFT", w.q.opts.PollInterval).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.WithFields(logrus.Fields{"module": "FiscalWorker", "worker": id}).WithError(err).Error("failed to pop job")
			sleep(ctx, w.q.opts.PollInterval)
			continue
		}
		w.handle(ctx, raw)
	}
}

// handle runs one job and settles it: ack, retry, drop or dead-letter.
func (w *Worker) handle(ctx context.Context, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.logger.WithField("module", "FiscalWorker").WithError(err).Error("undecodable job moved to dead letters")
		w.settle(ctx, raw, func(pipe redis.Pipeliner) {
			pipe.LPush(ctx, w.q.keys.dead, raw)
		})
		return
	}
	log := w.logger.WithFields(logrus.Fields{
		"module":             "FiscalWorker",
		"job_id":             job.ID,
		"fiscal_document_id": job.DocumentID,
		"attempt":            job.Attempts + 1,
	})

	lease, err := w.locker.Obtain(ctx, w.q.keys.lease(job.ID), w.q.opts.LeaseTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		log.Info("document is leased by another worker, deferring")
		w.schedule(ctx, raw, raw, w.q.opts.InitialBackoff)
		return
	}
	if err != nil {
		log.WithError(err).Error("failed to obtain lease")
		w.schedule(ctx, raw, raw, w.q.opts.InitialBackoff)
		return
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			log.WithError(err).Warn("failed to release lease")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, w.q.opts.LeaseTTL)
	err = w.proc.Process(runCtx, job.DocumentID)
	cancel()

	switch {
	case err == nil:
		w.finish(ctx, raw, job.ID)
		log.Info("fiscal job completed")

	case !core.IsRetriable(err):
		w.finish(ctx, raw, job.ID)
		log.WithError(err).Warn("fiscal job dropped, error is not retriable")

	case job.Attempts+1 >= w.q.opts.MaxAttempts:
		job.Attempts++
		job.LastError = err.Error()
		dead, _ := json.Marshal(job)
		w.settle(ctx, raw, func(pipe redis.Pipeliner) {
			pipe.LPush(ctx, w.q.keys.dead, string(dead))
			pipe.Del(ctx, w.q.keys.dedupe(job.ID))
		})
		log.WithError(err).Error("fiscal job dead-lettered after max attempts")

	default:
		job.Attempts++
		job.LastError = err.Error()
		next, _ := json.Marshal(job)
		delay := Backoff(job.Attempts, w.q.opts.InitialBackoff, w.q.opts.MaxBackoff)
		w.schedule(ctx, raw, string(next), delay)
		log.WithError(err).WithField("retry_in", delay.String()).Warn("fiscal job failed, retry scheduled")
	}
}

// finish removes the job and releases its id for future enqueues.
func (w *Worker) finish(ctx context.Context, raw, jobID string) {
	w.settle(ctx, raw, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, w.q.keys.dedupe(jobID))
	})
}

func (w *Worker) schedule(ctx context.Context, raw, next string, delay time.Duration) {
	due := w.q.now().Add(delay).UnixMilli()
	w.settle(ctx, raw, func(pipe redis.Pipeliner) {
		pipe.ZAdd(ctx, w.q.keys.delayed, redis.Z{Score: float64(due), Member: next})
	})
}

// settle drops raw from the processing list together with whatever fn
// queues, in one MULTI/EXEC.
func (w *Worker) settle(ctx context.Context, raw string, fn func(pipe redis.Pipeliner)) {
	ctx = context.WithoutCancel(ctx)
	_, err := w.q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, w.q.keys.processing, 1, raw)
		fn(pipe)
		return nil
	})
	if err != nil {
		w.logger.WithField("module", "FiscalWorker").WithError(fmt.Errorf("failed to settle job: %w", err)).Error("job left in processing")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
