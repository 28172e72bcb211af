package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nekogravitycat/rental-booking-backend/internal/config"
)

// Sweeper is the booking side of the scheduled jobs.
type Sweeper interface {
	ExpireUnpaid(ctx context.Context, cutoff time.Time, limit int) (int, error)
	FinalizeCheckedOut(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// RefundDispatcher is the payment side of the scheduled jobs.
type RefundDispatcher interface {
	DispatchRefunds(ctx context.Context, limit int) (int, error)
}

// Scheduler runs the periodic booking and payment sweeps.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
	sweeper Sweeper
	refunds RefundDispatcher

	paymentTimeout time.Duration
	finalizeAfter  time.Duration
	batchSize      int
}

func NewScheduler(cfg *config.Config, sweeper Sweeper, refunds RefundDispatcher) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		// Overlapping runs of the same job are skipped, not queued.
		cron:           cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		ctx:            ctx,
		cancel:         cancel,
		now:            time.Now,
		sweeper:        sweeper,
		refunds:        refunds,
		paymentTimeout: cfg.PaymentTimeout,
		finalizeAfter:  cfg.FinalizeAfter,
		batchSize:      cfg.Jobs.BatchSize,
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) (int, error)
	}{
		{"expire-unpaid", cfg.Jobs.ExpireUnpaidSchedule, s.ExpireUnpaid},
		{"finalize", cfg.Jobs.FinalizeSchedule, s.Finalize},
		{"dispatch-refunds", cfg.Jobs.DispatchRefundSchedule, s.DispatchRefunds},
	}
	for _, j := range jobs {
		if j.spec == "" {
			log.Printf("jobs: %s disabled", j.name)
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, s.wrap(j.name, j.run)); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %s (%q): %w", j.name, j.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) wrap(name string, run func(context.Context) (int, error)) func() {
	return func() {
		n, err := run(s.ctx)
		if err != nil {
			log.Printf("jobs: %s failed after %d: %v", name, n, err)
			return
		}
		if n > 0 {
			log.Printf("jobs: %s handled %d", name, n)
		}
	}
}

// ExpireUnpaid cancels PENDING bookings older than the payment timeout.
func (s *Scheduler) ExpireUnpaid(ctx context.Context) (int, error) {
	return s.sweeper.ExpireUnpaid(ctx, s.now().Add(-s.paymentTimeout), s.batchSize)
}

// Finalize completes CHECKED_OUT bookings once the dispute window has passed.
func (s *Scheduler) Finalize(ctx context.Context) (int, error) {
	return s.sweeper.FinalizeCheckedOut(ctx, s.now().Add(-s.finalizeAfter), s.batchSize)
}

func (s *Scheduler) DispatchRefunds(ctx context.Context) (int, error) {
	return s.refunds.DispatchRefunds(ctx, s.batchSize)
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("jobs: scheduler started")
}

// Stop cancels running sweeps and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	log.Println("jobs: scheduler stopped")
}
