package scheduler

import (
	"context"
	"fmt"
	"time"

	"student_risk_notifier/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Jobs is the work the scheduler triggers. *app.BatchCoordinator satisfies it.
type Jobs interface {
	ProcessInbox(ctx context.Context, limit int) (int, error)
	ReplayFailed(ctx context.Context, since time.Time) (app.ReplaySummary, error)
	RefreshSMSStatuses(ctx context.Context, since time.Time) (int, error)
}

// Specs holds the cron expressions of each job. An empty spec disables the job.
type Specs struct {
	RiskInbox    string // e.g. "*/5 * * * *"
	ReplayFailed string // e.g. "0 * * * *"
	SMSStatus    string // e.g. "*/15 * * * *"
}

type RiskScheduler struct {
	cronEngine *cron.Cron
	jobs       Jobs
	specs      Specs
	lookback   time.Duration // how far back replay and status refresh look
	logger     *logrus.Entry
}

func NewRiskScheduler(jobs Jobs, specs Specs, lookback time.Duration, logger *logrus.Entry) *RiskScheduler {
	return &RiskScheduler{
		cronEngine: cron.New(cron.WithLocation(time.Local)), // Use server's local time for cron
		jobs:       jobs,
		specs:      specs,
		lookback:   lookback,
		logger:     logger,
	}
}

func (s *RiskScheduler) Start() error {
	s.logger.Info("Starting risk scheduler...")

	if err := s.add("risk_inbox", s.specs.RiskInbox, s.drainInbox); err != nil {
		return err
	}
	if err := s.add("replay_failed", s.specs.ReplayFailed, s.replayFailed); err != nil {
		return err
	}
	if err := s.add("sms_status", s.specs.SMSStatus, s.refreshSMSStatuses); err != nil {
		return err
	}

	s.cronEngine.Start()
	s.logger.WithField("jobs", len(s.cronEngine.Entries())).Info("Risk scheduler started")
	return nil
}

func (s *RiskScheduler) add(name, spec string, job func()) error {
	if spec == "" {
		s.logger.WithField("job", name).Info("Cron job disabled")
		return nil
	}
	if _, err := s.cronEngine.AddFunc(spec, job); err != nil {
		return fmt.Errorf("could not add %s cron job with spec %q: %w", name, spec, err)
	}
	return nil
}

func (s *RiskScheduler) drainInbox() {
	log := s.logger.WithField("job", "risk_inbox")
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	n, err := s.jobs.ProcessInbox(ctx, 0)
	if err != nil {
		log.WithError(err).Error("Error during risk inbox processing")
		return
	}
	if n > 0 {
		log.WithField("processed", n).Info("Risk inbox drained")
	}
}

func (s *RiskScheduler) replayFailed() {
	log := s.logger.WithField("job", "replay_failed")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute) // bulk SMS is paced
	defer cancel()

	if _, err := s.jobs.ReplayFailed(ctx, time.Now().Add(-s.lookback)); err != nil {
		log.WithError(err).Error("Error during failed delivery replay")
	}
}

func (s *RiskScheduler) refreshSMSStatuses() {
	log := s.logger.WithField("job", "sms_status")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := s.jobs.RefreshSMSStatuses(ctx, time.Now().Add(-s.lookback))
	if err != nil {
		log.WithError(err).Error("Error during SMS status refresh")
		return
	}
	log.WithField("updated", n).Debug("SMS statuses refreshed")
}

func (s *RiskScheduler) Stop() {
	s.logger.Info("Stopping risk scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Risk scheduler gracefully stopped.")
}
