package server

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/conf"
	"metering-service/internal/constants"
	"metering-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// SchedulerServer 计费调度器
// 以 job 表为准对账：daily 任务挂到进程内 cron，notify/freeze 一次性
// 任务在对账循环里检查到期后触发。触发动作是投递 settle action，实际
// 结算由引擎在用户锁下完成。触发前抢 redis 互斥锁，多副本部署时同一
// job 只触发一次。
type SchedulerServer struct {
	userUC   *biz.UserUseCase
	jobUC    *biz.JobUseCase
	actionUC *biz.ActionUseCase
	rs       *redsync.Redsync
	log      *log.Helper
	metrics  *metrics.MeteringMetrics

	id                string
	reconcileInterval time.Duration
	misfireGrace      time.Duration

	cron    *cron.Cron
	entries map[string]cron.EntryID // jobID -> cron entry（仅 daily）
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSchedulerServer 创建计费调度器
func NewSchedulerServer(
	c *conf.Bootstrap,
	userUC *biz.UserUseCase,
	jobUC *biz.JobUseCase,
	actionUC *biz.ActionUseCase,
	rs *redsync.Redsync,
	logger log.Logger,
) *SchedulerServer {
	reconcileInterval := 30 * time.Second
	misfireGrace := 600 * time.Second
	if c.Server != nil && c.Server.Scheduler != nil {
		sc := c.Server.Scheduler
		if sc.ReconcileIntervalSeconds > 0 {
			reconcileInterval = time.Duration(sc.ReconcileIntervalSeconds) * time.Second
		}
		if sc.MisfireGraceSeconds > 0 {
			misfireGrace = time.Duration(sc.MisfireGraceSeconds) * time.Second
		}
	}

	hostname, _ := os.Hostname()
	return &SchedulerServer{
		userUC:            userUC,
		jobUC:             jobUC,
		actionUC:          actionUC,
		rs:                rs,
		log:               log.NewHelper(logger),
		metrics:           metrics.GetMetrics(),
		id:                fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		reconcileInterval: reconcileInterval,
		misfireGrace:      misfireGrace,
		cron:              cron.New(cron.WithSeconds()),
		entries:           make(map[string]cron.EntryID),
	}
}

// Start 启动调度器：种入租户账户、补齐 daily 任务、开始对账
func (s *SchedulerServer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	seedCtx, seedCancel := context.WithTimeout(runCtx, time.Minute)
	defer seedCancel()
	users, err := s.userUC.InitTenants(seedCtx)
	if err != nil {
		return fmt.Errorf("failed to seed tenants: %w", err)
	}
	for _, user := range users {
		if user.Status == constants.UserStatusFreeze || user.Status == constants.UserStatusInit {
			continue
		}
		if err := s.jobUC.EnsureDailyJob(seedCtx, user.ID); err != nil {
			s.log.Warnf("Failed to ensure daily job for user %s: %v", user.ID, err)
		}
	}

	s.cron.Start()
	s.wg.Add(1)
	go s.reconcileLoop(runCtx)
	s.log.Infof("Scheduler %s started, reconcile every %s", s.id, s.reconcileInterval)
	return nil
}

// Stop 停止调度器
func (s *SchedulerServer) Stop(ctx context.Context) error {
	s.log.Infof("Stopping scheduler %s", s.id)
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		<-stopCtx.Done()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SchedulerServer) reconcileLoop(ctx context.Context) {
	defer s.wg.Done()
	// 启动后先对账一轮，不等第一个 tick
	s.reconcile(ctx)
	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// reconcile 对账一轮：到期的一次性任务触发，daily 任务同步 cron 表
func (s *SchedulerServer) reconcile(ctx context.Context) {
	jobs, err := s.jobUC.ListJobs(ctx)
	if err != nil {
		s.log.Errorf("Failed to list jobs: %v", err)
		return
	}

	now := time.Now()
	alive := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		switch job.JobType {
		case constants.JobTypeDaily:
			alive[job.ID] = true
			s.ensureCronEntry(ctx, job)
		case constants.JobTypeNotify, constants.JobTypeFreeze:
			if job.RunAt.IsZero() || job.RunAt.After(now) {
				continue
			}
			if now.Sub(job.RunAt) > s.misfireGrace {
				// 超出宽限仍要补触发，结算会按实际流逝时间扣费
				s.log.Warnf("Job %s misfired by %s, firing late", job.ID, now.Sub(job.RunAt))
			}
			s.fire(ctx, job)
		}
	}

	// 清理已消失 job 的 cron 表项
	s.mu.Lock()
	for jobID, entryID := range s.entries {
		if !alive[jobID] {
			s.cron.Remove(entryID)
			delete(s.entries, jobID)
		}
	}
	s.mu.Unlock()
}

// ensureCronEntry 把 daily job 挂到进程内 cron
func (s *SchedulerServer) ensureCronEntry(ctx context.Context, job *biz.Job) {
	s.mu.Lock()
	_, ok := s.entries[job.ID]
	s.mu.Unlock()
	if ok {
		return
	}

	jobCopy := *job
	entryID, err := s.cron.AddFunc(job.CronSpec, func() {
		fireCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.fire(fireCtx, &jobCopy)
	})
	if err != nil {
		s.log.Errorf("Invalid cron spec %q of job %s: %v", job.CronSpec, job.ID, err)
		return
	}
	s.mu.Lock()
	s.entries[job.ID] = entryID
	s.mu.Unlock()

	if err := s.jobUC.ClaimJob(ctx, job.ID, s.id); err != nil {
		s.log.Warnf("Failed to claim job %s: %v", job.ID, err)
	}
}

// fire 触发一个 job：抢触发互斥锁、投递结算 action、一次性任务删行
func (s *SchedulerServer) fire(ctx context.Context, job *biz.Job) {
	mutex := s.rs.NewMutex(
		constants.RedisKeyJobFireLock+job.ID,
		redsync.WithExpiry(30*time.Second),
		redsync.WithTries(1),
	)
	if err := mutex.LockContext(ctx); err != nil {
		// 其他副本正在触发同一个 job
		s.log.Debugf("Job %s is being fired elsewhere: %v", job.ID, err)
		return
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			s.log.Warnf("Failed to unlock fire mutex of job %s: %v", job.ID, err)
		}
	}()

	task := constants.SettleTaskDaily
	switch job.JobType {
	case constants.JobTypeNotify:
		task = constants.SettleTaskNotify
	case constants.JobTypeFreeze:
		task = constants.SettleTaskFreeze
	}

	if _, err := s.actionUC.Enqueue(ctx, constants.ActionSettleAccount, job.UserID,
		map[string]interface{}{"task": task}); err != nil {
		s.log.Errorf("Failed to enqueue settle action for job %s: %v", job.ID, err)
		s.metrics.JobFireTotal.WithLabelValues(job.JobType, "failed").Inc()
		return
	}

	if job.JobType != constants.JobTypeDaily {
		// 一次性任务触发即删，投影由结算后的 update_jobs 重建
		if err := s.jobUC.DeleteJob(ctx, job.ID); err != nil {
			s.log.Errorf("Failed to delete fired job %s: %v", job.ID, err)
		}
	}
	s.metrics.JobFireTotal.WithLabelValues(job.JobType, "success").Inc()
	s.log.Infof("Job %s fired, settle task %s enqueued for user %s", job.ID, task, job.UserID)
}
