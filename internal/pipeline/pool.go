package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"voicefront/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// guardTTL bounds how long a processing slot can be held; generous enough
// for slow transcriptions, short enough to self-heal after a crash.
const guardTTL = 10 * time.Minute

// Job is one detached recording-processing request.
type Job struct {
	CallSID      string
	RecordingURL string
}

// Pool runs recording jobs detached from the webhook request lifecycle.
// Submit never blocks the caller; completion and failure are observable
// only through logs. Jobs for different calls run concurrently; a redis
// guard keeps redelivered webhooks from processing the same call's
// recording in parallel (a later rerun is still allowed - delivery is
// at-least-once and duplicate transcripts are tolerated).
type Pool struct {
	proc *Processor
	rdb  *redis.Client
	log  *slog.Logger

	jobs chan Job
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPool(proc *Processor, rdb *redis.Client, log *slog.Logger, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	p := &Pool{
		proc: proc,
		rdb:  rdb,
		log:  log,
		jobs: make(chan Job, queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a job and returns immediately. When the queue is full
// the job runs on its own goroutine rather than being dropped or blocking
// the webhook response path.
func (p *Pool) Submit(job Job) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.log.Warn("pipeline pool closed, dropping job", "call_sid", job.CallSID)
		return
	}
	select {
	case p.jobs <- job:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(job)
		}()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

// run is the fire-and-forget boundary: failures are logged here and go no
// further, because the triggering webhook already returned 200.
func (p *Pool) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), guardTTL)
	defer cancel()

	if p.rdb != nil {
		key := "recproc:" + job.CallSID
		ok, err := utils.AcquireSlot(ctx, p.rdb, key, 1, guardTTL)
		if err != nil {
			// Guard unavailable: at-least-once processing wins over dedup.
			p.log.Warn("processing guard unavailable, continuing", "call_sid", job.CallSID, "err", err)
		} else if !ok {
			p.log.Info("recording already being processed, skipping", "call_sid", job.CallSID)
			return
		} else {
			defer func() {
				if err := utils.ReleaseSlot(context.Background(), p.rdb, key); err != nil {
					p.log.Warn("processing guard release failed", "call_sid", job.CallSID, "err", err)
				}
			}()
		}
	}

	start := time.Now()
	if err := p.proc.Process(ctx, job.CallSID, job.RecordingURL); err != nil {
		p.log.Error("recording processing failed",
			"call_sid", job.CallSID,
			"recording_url", job.RecordingURL,
			"err", err,
		)
		return
	}
	p.log.Info("recording processed", "call_sid", job.CallSID, "duration_ms", time.Since(start).Milliseconds())
}

// Shutdown stops accepting jobs and waits for in-flight work, up to the
// context deadline.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
