// Package queue is the durable Redis job queue behind fiscal document
// processing. Jobs are de-duplicated by a deterministic id, retried with
// exponential backoff through a delayed set and dead-lettered after a bounded
// number of attempts.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultPrefix = "queue:fiscal"
	dedupeTTL     = 24 * time.Hour
)

// Options configures the queue and its workers. Zero values fall back to
// the defaults in withDefaults.
type Options struct {
	Prefix         string
	Workers        int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	LeaseTTL       time.Duration
	// PollInterval bounds both the blocking pop and the delayed-set promoter tick.
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = defaultPrefix
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 5 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Minute
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	return o
}

// Job is the queued payload.
type Job struct {
	ID         string    `json:"id"`
	DocumentID int64     `json:"fiscal_document_id"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// JobID is the de-duplication key for a fiscal document.
func JobID(documentID int64) string {
	return fmt.Sprintf("fiscal-%d", documentID)
}

// Backoff returns the delay before retry number attempt (1-based):
// initial * 2^(attempt-1), capped at max.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

type keys struct {
	ready, processing, delayed, dead string
	prefix                           string
}

func newKeys(prefix string) keys {
	return keys{
		prefix:     prefix,
		ready:      prefix + ":ready",
		processing: prefix + ":processing",
		delayed:    prefix + ":delayed",
		dead:       prefix + ":dead",
	}
}

func (k keys) dedupe(jobID string) string { return k.prefix + ":job:" + jobID }
func (k keys) lease(jobID string) string  { return k.prefix + ":lease:" + jobID }

// The marker and the push happen together so a failed push never leaves a
// job id reserved with nothing queued.
var enqueueScript = redis.NewScript(`
if redis.call('SET', KEYS[1], '1', 'NX', 'PX', ARGV[2]) then
	redis.call('LPUSH', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// Queue implements core.FiscalEnqueuer.
type Queue struct {
	rdb    redis.UniversalClient
	opts   Options
	keys   keys
	logger *logrus.Logger
	now    func() time.Time
}

func New(rdb redis.UniversalClient, opts Options, logger *logrus.Logger) *Queue {
	opts = opts.withDefaults()
	return &Queue{rdb: rdb, opts: opts, keys: newKeys(opts.Prefix), logger: logger, now: time.Now}
}

// EnqueueFiscal queues a document unless a job with the same id is already
// pending. A duplicate is not an error.
func (q *Queue) EnqueueFiscal(ctx context.Context, documentID int64) error {
	job := Job{ID: JobID(documentID), DocumentID: documentID, EnqueuedAt: q.now().UTC()}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	added, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.keys.dedupe(job.ID), q.keys.ready},
		string(raw), dedupeTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", job.ID, err)
	}

	log := q.logger.WithFields(logrus.Fields{"module": "FiscalQueue", "job_id": job.ID})
	if added == 0 {
		log.Debug("job already pending, enqueue skipped")
		return nil
	}
	log.Info("fiscal job enqueued")
	return nil
}

// Stats are the current queue depths.
type Stats struct {
	Ready      int64 `json:"ready"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Dead       int64 `json:"dead"`
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var (
		ready, processing, dead *redis.IntCmd
		delayed                 *redis.IntCmd
	)
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.LLen(ctx, q.keys.ready)
		processing = pipe.LLen(ctx, q.keys.processing)
		delayed = pipe.ZCard(ctx, q.keys.delayed)
		dead = pipe.LLen(ctx, q.keys.dead)
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return Stats{
		Ready:      ready.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Dead:       dead.Val(),
	}, nil
}

// DeadLetters returns up to limit dead-lettered jobs, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Job, error) {
	raws, err := q.rdb.LRange(ctx, q.keys.dead, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}
	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var j Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// promoteDue moves retries whose time has come back onto the ready list.
func (q *Queue) promoteDue(ctx context.Context) (int, error) {
	return promoteScript.Run(ctx, q.rdb,
		[]string{q.keys.delayed, q.keys.ready},
		q.now().UnixMilli(), 100,
	).Int()
}

// requeueStale moves everything left in the processing list by a previous
// run back to ready.
func (q *Queue) requeueStale(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.keys.processing, q.keys.ready, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to requeue stale jobs: %w", err)
		}
		n++
	}
}
