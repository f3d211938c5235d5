package queue

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"backoffice/internal/core"
	"backoffice/internal/logging"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestBackoff(t *testing.T) {
	initial, max := 5*time.Second, time.Minute
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, time.Minute},
		{60, time.Minute},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, initial, max); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestJobID(t *testing.T) {
	if got := JobID(42); got != "fiscal-42" {
		t.Errorf("JobID = %q", got)
	}
}

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

// newTestQueue isolates each test under its own key prefix.
func newTestQueue(t *testing.T, client *redis.Client, opts Options) *Queue {
	t.Helper()
	opts.Prefix = "test:" + uuid.NewString()
	if opts.PollInterval == 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = 20 * time.Millisecond
	}
	q := New(client, opts, logging.Discard())
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, opts.Prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})
	return q
}

type scriptedProcessor struct {
	mu    sync.Mutex
	calls map[int64]int
	fail  func(documentID int64, call int) error
}

func (p *scriptedProcessor) Process(_ context.Context, documentID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[int64]int{}
	}
	p.calls[documentID]++
	return p.fail(documentID, p.calls[documentID])
}

func (p *scriptedProcessor) count(documentID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[documentID]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startWorker(t *testing.T, q *Queue, proc Processor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewWorker(q, proc).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func idle(t *testing.T, q *Queue) func() bool {
	return func() bool {
		s, err := q.Stats(context.Background())
		return err == nil && s.Ready == 0 && s.Processing == 0 && s.Delayed == 0
	}
}

func TestEnqueueFiscal_Dedupes(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()
	q := newTestQueue(t, client, Options{})

	for i := 0; i < 3; i++ {
		if err := q.EnqueueFiscal(ctx, 42); err != nil {
			t.Fatalf("EnqueueFiscal: %v", err)
		}
	}
	if err := q.EnqueueFiscal(ctx, 43); err != nil {
		t.Fatalf("EnqueueFiscal: %v", err)
	}

	s, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.Ready != 2 {
		t.Errorf("ready = %d, want 2 (one per document)", s.Ready)
	}
}

func TestWorker_RetriesThenCompletes(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()
	q := newTestQueue(t, client, Options{MaxAttempts: 5, Workers: 2})

	proc := &scriptedProcessor{fail: func(_ int64, call int) error {
		if call == 1 {
			return &core.ExternalSubmissionError{Rejected: true, Message: "bad tax id"}
		}
		return nil
	}}
	if err := q.EnqueueFiscal(ctx, 7); err != nil {
		t.Fatal(err)
	}
	startWorker(t, q, proc)

	waitFor(t, "second attempt", func() bool { return proc.count(7) == 2 })
	waitFor(t, "empty queue", idle(t, q))

	if n, _ := client.Exists(ctx, q.keys.dedupe(JobID(7))).Result(); n != 0 {
		t.Error("job id should be released after completion")
	}
}

func TestWorker_DropsNonRetriable(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()
	q := newTestQueue(t, client, Options{MaxAttempts: 5})

	proc := &scriptedProcessor{fail: func(int64, int) error {
		return &core.NotFoundError{Entity: "fiscal document"}
	}}
	if err := q.EnqueueFiscal(ctx, 8); err != nil {
		t.Fatal(err)
	}
	startWorker(t, q, proc)

	waitFor(t, "first attempt", func() bool { return proc.count(8) == 1 })
	waitFor(t, "empty queue", idle(t, q))

	time.Sleep(100 * time.Millisecond)
	if got := proc.count(8); got != 1 {
		t.Errorf("NotFound job processed %d times, want 1", got)
	}
	if s, _ := q.Stats(ctx); s.Dead != 0 {
		t.Errorf("dropped job should not be dead-lettered, dead = %d", s.Dead)
	}
}

func TestWorker_DeadLettersAfterMaxAttempts(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()
	q := newTestQueue(t, client, Options{MaxAttempts: 3})

	proc := &scriptedProcessor{fail: func(int64, int) error {
		return &core.ExternalSubmissionError{Message: "authority unreachable"}
	}}
	if err := q.EnqueueFiscal(ctx, 9); err != nil {
		t.Fatal(err)
	}
	startWorker(t, q, proc)

	waitFor(t, "dead letter", func() bool {
		s, err := q.Stats(ctx)
		return err == nil && s.Dead == 1
	})

	if got := proc.count(9); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	dead, err := q.DeadLetters(ctx, 10)
	if err != nil || len(dead) != 1 {
		t.Fatalf("DeadLetters: %v, %d", err, len(dead))
	}
	if dead[0].Attempts != 3 || dead[0].LastError == "" || dead[0].DocumentID != 9 {
		t.Errorf("unexpected dead letter: %+v", dead[0])
	}
}

func TestWorker_RequeuesStaleProcessing(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()
	ctx := context.Background()
	q := newTestQueue(t, client, Options{})

	if err := q.EnqueueFiscal(ctx, 11); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash between pop and ack.
	if err := client.LMove(ctx, q.keys.ready, q.keys.processing, "RIGHT", "LEFT").Err(); err != nil {
		t.Fatal(err)
	}

	proc := &scriptedProcessor{fail: func(int64, int) error { return nil }}
	startWorker(t, q, proc)

	waitFor(t, "stale job processed", func() bool { return proc.count(11) == 1 })
	waitFor(t, "empty queue", idle(t, q))
}
