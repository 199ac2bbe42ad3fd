package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// BookingSweeper runs the periodic reservation maintenance passes
type BookingSweeper interface {
	ExpireHolds(ctx context.Context) (int, error)
	ResyncPending(ctx context.Context) (int, error)
	CompleteDeparted(ctx context.Context) (int, error)
}

// AuditJanitor prunes old audit records
type AuditJanitor interface {
	CleanupOldAuditLogs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CronSchedules holds the cron specs (with seconds) for each job
type CronSchedules struct {
	Expiry         string
	Resync         string
	Completion     string
	AuditCleanup   string
	AuditRetention time.Duration
}

type cronJob struct {
	name string
	spec string
	run  func()
}

// CronService manages scheduled background jobs
type CronService struct {
	cron      *cron.Cron
	sweeper   BookingSweeper
	janitor   AuditJanitor
	schedules CronSchedules
	logger    *logrus.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewCronService creates a new CronService. janitor may be nil.
func NewCronService(sweeper BookingSweeper, janitor AuditJanitor, schedules CronSchedules, logger *logrus.Logger) *CronService {
	// Seconds precision; a job still running when its next tick fires is skipped
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	return &CronService{
		cron:      c,
		sweeper:   sweeper,
		janitor:   janitor,
		schedules: schedules,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers and starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	jobs := []cronJob{
		{"expire holds", s.schedules.Expiry, s.expireHoldsJob},
		{"resync pending", s.schedules.Resync, s.resyncPendingJob},
		{"complete departed", s.schedules.Completion, s.completeDepartedJob},
	}
	if s.janitor != nil && s.schedules.AuditCleanup != "" {
		jobs = append(jobs, cronJob{"cleanup audit logs", s.schedules.AuditCleanup, s.cleanupAuditLogsJob})
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, job.run); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", job.name, err)
		}
		s.logger.WithFields(logrus.Fields{"job": job.name, "schedule": job.spec}).Info("✓ Scheduled job")
	}

	s.cron.Start()
	s.logger.Info("✓ Cron service started successfully")

	return nil
}

// Stop stops the scheduler, cancels in-flight jobs and waits for them
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
	s.logger.Info("✓ Cron service stopped")
}

func (s *CronService) expireHoldsJob() {
	s.runJob("expire holds", s.sweeper.ExpireHolds)
}

func (s *CronService) resyncPendingJob() {
	s.runJob("resync pending", s.sweeper.ResyncPending)
}

func (s *CronService) completeDepartedJob() {
	s.runJob("complete departed", s.sweeper.CompleteDeparted)
}

func (s *CronService) cleanupAuditLogsJob() {
	s.runJob("cleanup audit logs", func(ctx context.Context) (int, error) {
		deleted, err := s.janitor.CleanupOldAuditLogs(ctx, s.schedules.AuditRetention)
		return int(deleted), err
	})
}

func (s *CronService) runJob(name string, job func(ctx context.Context) (int, error)) {
	startTime := time.Now()
	logger := s.logger.WithField("job", name)
	logger.Debug("[CRON] Starting job")

	processed, err := job(s.ctx)
	if err != nil {
		logger.WithError(err).Error("[CRON ERROR] Job failed")
		return
	}

	logger.WithFields(logrus.Fields{
		"processed": processed,
		"duration":  time.Since(startTime).String(),
	}).Info("[CRON] ✓ Job finished")
}

// RunExpireNow runs the hold expiry sweep immediately
func (s *CronService) RunExpireNow(ctx context.Context) (int, error) {
	s.logger.Info("[MANUAL] Running hold expiry now...")
	return s.sweeper.ExpireHolds(ctx)
}

// RunResyncNow runs the resync sweep immediately
func (s *CronService) RunResyncNow(ctx context.Context) (int, error) {
	s.logger.Info("[MANUAL] Running resync now...")
	return s.sweeper.ResyncPending(ctx)
}

// RunCompleteNow runs the completion sweep immediately
func (s *CronService) RunCompleteNow(ctx context.Context) (int, error) {
	s.logger.Info("[MANUAL] Running completion sweep now...")
	return s.sweeper.CompleteDeparted(ctx)
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
