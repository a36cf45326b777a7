package data

import (
	"context"
	"fmt"

	"metering-service/internal/biz"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
)

// jobRepo 调度任务数据访问
type jobRepo struct {
	data *Data
	log  *log.Helper
}

// NewJobRepo 创建调度任务 repo（返回 biz.JobRepo 接口）
func NewJobRepo(data *Data, logger log.Logger) biz.JobRepo {
	return &jobRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toJob(m *model.Job) *biz.Job {
	return &biz.Job{
		ID:          m.JobID,
		JobType:     m.JobType,
		UserID:      m.UserID,
		SchedulerID: m.SchedulerID,
		RunAt:       m.RunAt,
		CronSpec:    m.CronSpec,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// SaveJob 保存任务（upsert 整行）
func (r *jobRepo) SaveJob(ctx context.Context, job *biz.Job) error {
	m := &model.Job{
		JobID:       job.ID,
		JobType:     job.JobType,
		UserID:      job.UserID,
		SchedulerID: job.SchedulerID,
		RunAt:       job.RunAt,
		CronSpec:    job.CronSpec,
	}
	if err := r.data.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// DeleteJob 删除任务，任务不存在也视为成功
func (r *jobRepo) DeleteJob(ctx context.Context, jobID string) error {
	if err := r.data.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&model.Job{}).Error; err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// ListJobs 列出全部任务
func (r *jobRepo) ListJobs(ctx context.Context) ([]*biz.Job, error) {
	var ms []model.Job
	if err := r.data.db.WithContext(ctx).Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	jobs := make([]*biz.Job, 0, len(ms))
	for i := range ms {
		jobs = append(jobs, toJob(&ms[i]))
	}
	return jobs, nil
}

// ClaimJob 把 job 归属到指定调度器
func (r *jobRepo) ClaimJob(ctx context.Context, jobID, schedulerID string) error {
	if err := r.data.db.WithContext(ctx).Model(&model.Job{}).
		Where("job_id = ?", jobID).
		Update("scheduler_id", schedulerID).Error; err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}
	return nil
}
