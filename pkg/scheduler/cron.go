package scheduler

import (
	"MeetingScribe/pkg/logger"
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// zapCronLogger adapts the process logger to cron.Logger.
type zapCronLogger struct{}

func (zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Lg.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Lg.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}

type Cron struct {
	c      *cron.Cron
	loc    *time.Location
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCron(loc *time.Location) *Cron {
	if loc == nil {
		loc = time.Local
	}
	l := zapCronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Cron{c: c, loc: loc, ctx: ctx, cancel: cancel}
}

func (cr *Cron) Start() { cr.c.Start() }

// Stop cancels the jobs' context and waits for running jobs.
func (cr *Cron) Stop() {
	cr.cancel()
	ctx := cr.c.Stop()
	<-ctx.Done()
}

// Add registers job under a standard 5-field cron expression.
func (cr *Cron) Add(name, expr string, job Job) (cron.EntryID, error) {
	id, err := cr.c.AddFunc(expr, func() { job.Run(cr.ctx) })
	if err != nil {
		return 0, err
	}
	logger.Info("cron job registered", zap.String("job", name), zap.String("spec", expr))
	return id, nil
}

func (cr *Cron) Entries() []cron.Entry { return cr.c.Entries() }
