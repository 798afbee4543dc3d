package scheduler

import (
	"MeetingScribe/pkg/logger"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Job interface{ Run(ctx context.Context) }

type FuncJob func(ctx context.Context)

func (f FuncJob) Run(ctx context.Context) { f(ctx) }

// Scheduler runs ticker-driven jobs on goroutines that stop with Stop.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{ctx: ctx, cancel: cancel}
}

// Stop cancels every job and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Every runs job now and then every d.
func (s *Scheduler) Every(name string, d time.Duration, job Job) {
	s.wg.Add(1)
	go s.loopEvery(name, d, job)
}

func (s *Scheduler) OnceAfter(name string, d time.Duration, job Job) {
	s.wg.Add(1)
	go s.onceAfter(name, d, job)
}

func (s *Scheduler) loopEvery(name string, d time.Duration, job Job) {
	defer s.wg.Done()
	s.run(name, job)

	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.run(name, job)
		}
	}
}

func (s *Scheduler) onceAfter(name string, d time.Duration, job Job) {
	defer s.wg.Done()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return
	case <-timer.C:
		s.run(name, job)
	}
}

func (s *Scheduler) run(name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scheduled job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()
	job.Run(s.ctx)
}
