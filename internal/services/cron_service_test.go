package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSweeper struct {
	expired, resynced, completed int
	err                          error
}

func (s *stubSweeper) ExpireHolds(context.Context) (int, error) {
	s.expired++
	return 3, s.err
}

func (s *stubSweeper) ResyncPending(context.Context) (int, error) {
	s.resynced++
	return 1, s.err
}

func (s *stubSweeper) CompleteDeparted(context.Context) (int, error) {
	s.completed++
	return 0, s.err
}

type stubJanitor struct{ retention time.Duration }

func (j *stubJanitor) CleanupOldAuditLogs(_ context.Context, olderThan time.Duration) (int64, error) {
	j.retention = olderThan
	return 7, nil
}

func testSchedules() CronSchedules {
	return CronSchedules{
		Expiry:         "0 * * * * *",
		Resync:         "30 */2 * * * *",
		Completion:     "0 15 * * * *",
		AuditCleanup:   "0 0 4 * * 0",
		AuditRetention: 90 * 24 * time.Hour,
	}
}

func TestCronService_StartSchedulesAllJobs(t *testing.T) {
	logger, _ := test.NewNullLogger()
	svc := NewCronService(&stubSweeper{}, &stubJanitor{}, testSchedules(), logger)

	require.NoError(t, svc.Start())
	defer svc.Stop()

	status := svc.GetJobStatus()
	assert.Equal(t, 4, status["job_count"])
	assert.Equal(t, true, status["running"])
}

func TestCronService_SkipsAuditCleanupWithoutJanitor(t *testing.T) {
	logger, _ := test.NewNullLogger()
	svc := NewCronService(&stubSweeper{}, nil, testSchedules(), logger)

	require.NoError(t, svc.Start())
	defer svc.Stop()

	assert.Equal(t, 3, svc.GetJobStatus()["job_count"])
}

func TestCronService_InvalidSchedule(t *testing.T) {
	logger, _ := test.NewNullLogger()
	schedules := testSchedules()
	schedules.Resync = "every now and then"
	svc := NewCronService(&stubSweeper{}, nil, schedules, logger)

	err := svc.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resync pending")
}

func TestCronService_RunJobLogsFailure(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sweeper := &stubSweeper{err: errors.New("database unavailable")}
	svc := NewCronService(sweeper, nil, testSchedules(), logger)

	svc.expireHoldsJob()

	assert.Equal(t, 1, sweeper.expired)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "expire holds", hook.LastEntry().Data["job"])
}

func TestCronService_ManualRuns(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sweeper := &stubSweeper{}
	janitor := &stubJanitor{}
	svc := NewCronService(sweeper, janitor, testSchedules(), logger)
	ctx := context.Background()

	n, err := svc.RunExpireNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = svc.RunResyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.RunCompleteNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweeper.completed)

	svc.cleanupAuditLogsJob()
	assert.Equal(t, 90*24*time.Hour, janitor.retention)
}
