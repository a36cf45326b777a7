package biz

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"metering-service/internal/constants"
	"metering-service/internal/metrics"
	"metering-service/internal/pkg/money"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// Job 调度任务行。notify/freeze 是一次性定时任务（RunAt），daily 是
// 每日 cron 任务（CronSpec）。ID 形如 "notify-<user_id>"，同一用户
// 同一类型最多一条。
type Job struct {
	ID          string
	JobType     string
	UserID      string
	SchedulerID string // 最近一次认领该 job 的调度器
	RunAt       time.Time
	CronSpec    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobID 生成 job 主键
func JobID(jobType, userID string) string {
	return fmt.Sprintf("%s-%s", jobType, userID)
}

// JobRepo 调度任务数据层接口
type JobRepo interface {
	SaveJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context) ([]*Job, error)
	// ClaimJob 把 job 归属到指定调度器
	ClaimJob(ctx context.Context, jobID, schedulerID string) error
}

// JobUseCase 调度任务投影逻辑
// 账户每次结算或费率/状态变更后重建其 notify/freeze 任务：
// freeze_at = now + balance/rate，notify_at = freeze_at - notify_window。
type JobUseCase struct {
	repo    JobRepo
	conf    *MeteringConfig
	log     *log.Helper
	metrics *metrics.MeteringMetrics

	nowFunc func() time.Time
	// rand 仅用于 daily 任务的随机触发时刻
	rand *rand.Rand
}

// NewJobUseCase 创建调度任务 UseCase
func NewJobUseCase(repo JobRepo, conf *MeteringConfig, logger log.Logger) *JobUseCase {
	return &JobUseCase{
		repo:    repo,
		conf:    conf,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
		nowFunc: time.Now,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// FreezeAt 预计余额耗尽时间。rate 为 0 或余额非正时返回 false。
func (uc *JobUseCase) FreezeAt(user *User) (decimal.Decimal, bool) {
	runway, ok := user.Runway()
	if !ok || !user.Balance.IsPositive() {
		return decimal.Zero, false
	}
	return money.TimeToDecimal(uc.nowFunc()).Add(runway), true
}

// NotifyAt 预计进入提醒窗口的时间
func (uc *JobUseCase) NotifyAt(user *User) (decimal.Decimal, bool) {
	freezeAt, ok := uc.FreezeAt(user)
	if !ok {
		return decimal.Zero, false
	}
	return freezeAt.Sub(uc.conf.NotifyWindow), true
}

// UpdateJobs 重建账户的一次性任务：先删后建，保证每用户每类型至多一条。
// ACTIVE 排 notify，WARNING 排 freeze，其余状态只清理。
func (uc *JobUseCase) UpdateJobs(ctx context.Context, user *User) error {
	if err := uc.repo.DeleteJob(ctx, JobID(constants.JobTypeNotify, user.ID)); err != nil {
		return err
	}
	if err := uc.repo.DeleteJob(ctx, JobID(constants.JobTypeFreeze, user.ID)); err != nil {
		return err
	}

	switch user.Status {
	case constants.UserStatusActive:
		notifyAt, ok := uc.NotifyAt(user)
		if !ok {
			return nil
		}
		runAt := money.DecimalToTime(notifyAt)
		now := uc.nowFunc()
		if runAt.Before(now) {
			// 余额已在提醒窗口内，立即触发
			runAt = now
		}
		return uc.createJob(ctx, &Job{
			ID:      JobID(constants.JobTypeNotify, user.ID),
			JobType: constants.JobTypeNotify,
			UserID:  user.ID,
			RunAt:   runAt,
		})
	case constants.UserStatusWarning:
		freezeAt, ok := uc.FreezeAt(user)
		runAt := uc.nowFunc()
		if ok {
			runAt = money.DecimalToTime(freezeAt)
		}
		return uc.createJob(ctx, &Job{
			ID:      JobID(constants.JobTypeFreeze, user.ID),
			JobType: constants.JobTypeFreeze,
			UserID:  user.ID,
			RunAt:   runAt,
		})
	default:
		return nil
	}
}

// EnsureDailyJob 确保账户有每日结算任务，触发时刻随机打散避免惊群
func (uc *JobUseCase) EnsureDailyJob(ctx context.Context, userID string) error {
	jobs, err := uc.repo.ListJobs(ctx)
	if err != nil {
		return err
	}
	id := JobID(constants.JobTypeDaily, userID)
	for _, j := range jobs {
		if j.ID == id {
			return nil
		}
	}
	hour := uc.rand.Intn(24)
	minute := uc.rand.Intn(60)
	return uc.createJob(ctx, &Job{
		ID:       id,
		JobType:  constants.JobTypeDaily,
		UserID:   userID,
		CronSpec: fmt.Sprintf("0 %d %d * * *", minute, hour),
	})
}

// DeleteJobs 清理账户的全部调度任务（账户删除时调用）
func (uc *JobUseCase) DeleteJobs(ctx context.Context, userID string) error {
	for _, jobType := range []string{
		constants.JobTypeNotify, constants.JobTypeFreeze, constants.JobTypeDaily,
	} {
		if err := uc.repo.DeleteJob(ctx, JobID(jobType, userID)); err != nil {
			return err
		}
	}
	return nil
}

// ListJobs 列出全部任务（调度器对账用）
func (uc *JobUseCase) ListJobs(ctx context.Context) ([]*Job, error) {
	return uc.repo.ListJobs(ctx)
}

// ClaimJob 把 job 归属到调度器
func (uc *JobUseCase) ClaimJob(ctx context.Context, jobID, schedulerID string) error {
	return uc.repo.ClaimJob(ctx, jobID, schedulerID)
}

// DeleteJob 删除指定任务（一次性任务触发后调用）
func (uc *JobUseCase) DeleteJob(ctx context.Context, jobID string) error {
	return uc.repo.DeleteJob(ctx, jobID)
}

func (uc *JobUseCase) createJob(ctx context.Context, job *Job) error {
	if err := uc.repo.SaveJob(ctx, job); err != nil {
		return err
	}
	uc.metrics.JobScheduleTotal.WithLabelValues(job.JobType).Inc()
	return nil
}
