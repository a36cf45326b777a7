package biz

import (
	"context"
	"fmt"
	"testing"
	"time"

	"metering-service/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateJobsActiveSchedulesNotify(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	user := &User{
		ID:       "u1",
		Balance:  dec("3600"),
		Rate:     dec("1"),
		LastBill: e.nowDecimal(),
		Status:   constants.UserStatusActive,
	}

	require.NoError(t, e.jobUC.UpdateJobs(ctx, user))

	// freeze_at = now + 3600/1，notify_at 提前一个提醒窗口（600 秒）
	job := e.jobs.get(JobID(constants.JobTypeNotify, "u1"))
	require.NotNil(t, job)
	assert.Equal(t, constants.JobTypeNotify, job.JobType)
	assert.Equal(t, e.now.Add(3000*time.Second).Unix(), job.RunAt.Unix())
	assert.Nil(t, e.jobs.get(JobID(constants.JobTypeFreeze, "u1")))
}

func TestUpdateJobsWarningSchedulesFreeze(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	user := &User{
		ID:       "u1",
		Balance:  dec("500"),
		Rate:     dec("1"),
		LastBill: e.nowDecimal(),
		Status:   constants.UserStatusWarning,
	}

	require.NoError(t, e.jobUC.UpdateJobs(ctx, user))

	job := e.jobs.get(JobID(constants.JobTypeFreeze, "u1"))
	require.NotNil(t, job)
	assert.Equal(t, e.now.Add(500*time.Second).Unix(), job.RunAt.Unix())
	assert.Nil(t, e.jobs.get(JobID(constants.JobTypeNotify, "u1")))
}

func TestUpdateJobsReplacesStale(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	user := &User{
		ID:       "u1",
		Balance:  dec("3600"),
		Rate:     dec("1"),
		LastBill: e.nowDecimal(),
		Status:   constants.UserStatusActive,
	}
	require.NoError(t, e.jobUC.UpdateJobs(ctx, user))

	// 状态翻转后旧的 notify 任务被清掉，换成 freeze
	user.Status = constants.UserStatusWarning
	user.Balance = dec("100")
	require.NoError(t, e.jobUC.UpdateJobs(ctx, user))

	assert.Nil(t, e.jobs.get(JobID(constants.JobTypeNotify, "u1")))
	assert.NotNil(t, e.jobs.get(JobID(constants.JobTypeFreeze, "u1")))
}

func TestUpdateJobsIdleClearsAll(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	user := &User{
		ID:       "u1",
		Balance:  dec("3600"),
		Rate:     dec("1"),
		LastBill: e.nowDecimal(),
		Status:   constants.UserStatusActive,
	}
	require.NoError(t, e.jobUC.UpdateJobs(ctx, user))

	user.Status = constants.UserStatusFree
	user.Rate = dec("0")
	require.NoError(t, e.jobUC.UpdateJobs(ctx, user))

	assert.Nil(t, e.jobs.get(JobID(constants.JobTypeNotify, "u1")))
	assert.Nil(t, e.jobs.get(JobID(constants.JobTypeFreeze, "u1")))
}

func TestUpdateJobsNotifyInThePast(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	// runway 300 秒，已经在 600 秒的提醒窗口内，notify 立即触发
	user := &User{
		ID:       "u1",
		Balance:  dec("300"),
		Rate:     dec("1"),
		LastBill: e.nowDecimal(),
		Status:   constants.UserStatusActive,
	}

	require.NoError(t, e.jobUC.UpdateJobs(ctx, user))
	job := e.jobs.get(JobID(constants.JobTypeNotify, "u1"))
	require.NotNil(t, job)
	assert.Equal(t, e.now.Unix(), job.RunAt.Unix())
}

func TestEnsureDailyJob(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, e.jobUC.EnsureDailyJob(ctx, "u1"))
	job := e.jobs.get(JobID(constants.JobTypeDaily, "u1"))
	require.NotNil(t, job)

	// 秒级 cron 表达式：秒固定 0，时分随机
	var minute, hour int
	_, err := fmt.Sscanf(job.CronSpec, "0 %d %d * * *", &minute, &hour)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, minute, 0)
	assert.Less(t, minute, 60)
	assert.GreaterOrEqual(t, hour, 0)
	assert.Less(t, hour, 24)

	// 幂等：已有任务不被改写
	require.NoError(t, e.jobUC.EnsureDailyJob(ctx, "u1"))
	again := e.jobs.get(JobID(constants.JobTypeDaily, "u1"))
	assert.Equal(t, job.CronSpec, again.CronSpec)
}

func TestDeleteJobs(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	user := &User{
		ID:       "u1",
		Balance:  dec("3600"),
		Rate:     dec("1"),
		LastBill: e.nowDecimal(),
		Status:   constants.UserStatusActive,
	}
	require.NoError(t, e.jobUC.UpdateJobs(ctx, user))
	require.NoError(t, e.jobUC.EnsureDailyJob(ctx, "u1"))

	require.NoError(t, e.jobUC.DeleteJobs(ctx, "u1"))
	jobs, err := e.jobs.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestFreezeAtProjection(t *testing.T) {
	e := newTestEnv(t)
	user := &User{Balance: dec("3600"), Rate: dec("1"), LastBill: e.nowDecimal()}

	freezeAt, ok := e.jobUC.FreezeAt(user)
	require.True(t, ok)
	assert.True(t, freezeAt.Equal(e.nowDecimal().Add(dec("3600"))))

	notifyAt, ok := e.jobUC.NotifyAt(user)
	require.True(t, ok)
	assert.True(t, notifyAt.Equal(e.nowDecimal().Add(dec("3000"))))

	// 没有费率或余额耗尽时没有投影
	_, ok = e.jobUC.FreezeAt(&User{Balance: dec("100"), Rate: dec("0")})
	assert.False(t, ok)
	_, ok = e.jobUC.FreezeAt(&User{Balance: dec("-1"), Rate: dec("1")})
	assert.False(t, ok)
}
