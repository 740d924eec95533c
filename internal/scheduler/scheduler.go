// Package scheduler runs the periodic maintenance jobs: drawing winners for
// raffles that have ended and trimming idle rate limit buckets.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/logger"
)

// Settler draws winners for every ended raffle still waiting for one.
type Settler interface {
	SettleClosed(ctx context.Context) (int, error)
}

// Sweeper drops expired rate limit state.
type Sweeper interface {
	Sweep() int
}

type Scheduler struct {
	sched  gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the jobs. Nothing runs until Start. sweeper may be nil.
func New(settler Settler, sweeper Sweeper, interval time.Duration) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{sched: sched, ctx: ctx, cancel: cancel}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.settle, settler),
		gocron.WithName("settle-closed-raffles"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return nil, fmt.Errorf("scheduling settlement: %w", err)
	}

	if sweeper != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(s.sweep, sweeper),
			gocron.WithName("sweep-rate-limits"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			_ = sched.Shutdown()
			return nil, fmt.Errorf("scheduling rate limit sweep: %w", err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.cancel()
	return s.sched.Shutdown()
}

func (s *Scheduler) settle(settler Settler) {
	n, err := settler.SettleClosed(s.ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			logger.Errorf("[Scheduler] settling closed raffles: %v", err)
		}
		return
	}
	if n > 0 {
		logger.Infof("[Scheduler] drew %d winner(s)", n)
	}
}

func (s *Scheduler) sweep(sweeper Sweeper) {
	if n := sweeper.Sweep(); n > 0 {
		logger.Infof("[Scheduler] dropped %d idle rate limit bucket(s)", n)
	}
}
