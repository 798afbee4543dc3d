package transcribe

import (
	"MeetingScribe/pkg/logger"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner is what a Spawner runs per session; *Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, dir string) (*Result, error)
}

// Job is one background transcription.
type Job struct {
	ID      string
	Dir     string
	Started time.Time

	cancel context.CancelFunc
	done   chan struct{}
	result *Result
	err    error
}

// Wait blocks until the job finishes or ctx expires.
func (j *Job) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *Job) Done() <-chan struct{} { return j.done }

// Spawner runs transcriptions in the background and tracks the active ones.
type Spawner struct {
	runner Runner
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*Job
	wg   sync.WaitGroup

	// OnDone is called after each job finishes. Optional.
	OnDone func(job *Job, res *Result, err error)
}

func NewSpawner(r Runner) *Spawner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Spawner{runner: r, ctx: ctx, cancel: cancel, jobs: make(map[string]*Job)}
}

// Spawn starts transcribing dir and returns immediately.
func (s *Spawner) Spawn(dir string) *Job {
	ctx, cancel := context.WithCancel(s.ctx)
	job := &Job{ID: uuid.NewString(), Dir: dir, Started: time.Now(), cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		log := logger.Component("spawner", zap.String("job", job.ID), zap.String("dir", dir))
		log.Info("transcription job started")

		res, err := s.runner.Run(ctx, dir)
		job.result, job.err = res, err
		close(job.done)

		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()

		if err != nil {
			log.Error("transcription job failed", zap.Error(err), zap.Duration("took", time.Since(job.Started)))
		} else {
			log.Info("transcription job finished", zap.Duration("took", time.Since(job.Started)))
		}
		if s.OnDone != nil {
			s.OnDone(job, res, err)
		}
	}()
	return job
}

// Active lists running jobs, oldest first.
func (s *Spawner) Active() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Started.Before(out[k].Started) })
	return out
}

// Cancel stops one job.
func (s *Spawner) Cancel(id string) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if ok {
		j.cancel()
	}
	return ok
}

// Wait blocks until every job has finished or ctx expires.
func (s *Spawner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels all jobs and waits up to grace for them to exit.
func (s *Spawner) Shutdown(grace time.Duration) error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return s.Wait(ctx)
}
