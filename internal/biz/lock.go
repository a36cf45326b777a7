package biz

import (
	"context"
	"time"

	"metering-service/internal/constants"
	meteringErrors "metering-service/internal/errors"
	"metering-service/internal/metrics"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// LockRepo 用户锁数据层接口。锁是一条 (user_id, action_id) 行，
// 获取必须是原子的"不存在则插入"。
type LockRepo interface {
	// AcquireLock 原子抢锁。抢到或锁已被同一 action 持有时返回
	// (true, "", nil)；被他人持有返回 (false, ownerActionID, nil)。
	AcquireLock(ctx context.Context, userID, actionID string) (bool, string, error)
	// StealLock 无条件改写持有者
	StealLock(ctx context.Context, userID, actionID string) error
	// ReleaseLock 仅当持有者是 actionID 时删除锁行
	ReleaseLock(ctx context.Context, userID, actionID string) (bool, error)
}

// EngineRepo 引擎注册表数据层接口
type EngineRepo interface {
	// ReportAlive 心跳上报（upsert 引擎行的 updated_at）
	ReportAlive(ctx context.Context, engineID string) error
	// LastSeen 引擎最近一次心跳时间，从未上报返回 (zero, false, nil)
	LastSeen(ctx context.Context, engineID string) (time.Time, bool, error)
}

// LockUseCase 用户锁业务逻辑
// 互斥粒度是单个用户：同一账户上的结算、费率变更、充值互相串行。
// 常规路径重试等待；持有者所在引擎死亡时标记其 action 失败后抢占。
type LockUseCase struct {
	repo       LockRepo
	engineRepo EngineRepo
	actionRepo ActionRepo
	conf       *MeteringConfig
	log        *log.Helper
	metrics    *metrics.MeteringMetrics

	nowFunc func() time.Time
}

// NewLockUseCase 创建用户锁 UseCase
func NewLockUseCase(
	repo LockRepo,
	engineRepo EngineRepo,
	actionRepo ActionRepo,
	conf *MeteringConfig,
	logger log.Logger,
) *LockUseCase {
	return &LockUseCase{
		repo:       repo,
		engineRepo: engineRepo,
		actionRepo: actionRepo,
		conf:       conf,
		log:        log.NewHelper(logger),
		metrics:    metrics.GetMetrics(),
		nowFunc:    time.Now,
	}
}

// Acquire 为 action 获取 userID 的锁。
// forced 表示调用方有权直接抢占（如取消流程），常规调用方在重试
// 耗尽后只对死亡引擎持有的锁抢占，否则返回 LockBusy。
func (uc *LockUseCase) Acquire(ctx context.Context, userID, actionID string, forced bool) error {
	start := uc.nowFunc()
	err := uc.acquire(ctx, userID, actionID, forced)
	uc.metrics.LockAcquireDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		uc.metrics.LockAcquireTotal.WithLabelValues("failed").Inc()
		return err
	}
	uc.metrics.LockAcquireTotal.WithLabelValues("success").Inc()
	return nil
}

func (uc *LockUseCase) acquire(ctx context.Context, userID, actionID string, forced bool) error {
	var owner string
	for i := 0; ; i++ {
		ok, holder, err := uc.repo.AcquireLock(ctx, userID, actionID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		owner = holder
		if i >= uc.conf.LockRetryTimes {
			break
		}
		uc.log.Debugf("Lock on user %s held by action %s, retry %d", userID, owner, i+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(uc.conf.LockRetryInterval):
		}
	}

	if forced {
		uc.log.Warnf("Action %s forcibly steals lock on user %s from action %s",
			actionID, userID, owner)
		if err := uc.repo.StealLock(ctx, userID, actionID); err != nil {
			return err
		}
		uc.metrics.LockStealTotal.WithLabelValues("forced").Inc()
		return nil
	}

	dead, err := uc.ownerEngineDead(ctx, owner)
	if err != nil {
		return err
	}
	if !dead {
		return pkgErrors.NewBizErrorWithLang(ctx, meteringErrors.ErrCodeLockBusy)
	}

	// 持有者所在引擎已死亡：其 action 不会再推进，先判死再抢占
	uc.log.Warnf("Lock owner action %s on user %s belongs to a dead engine, stealing",
		owner, userID)
	if err := uc.actionRepo.MarkDone(ctx, owner, constants.ActionStatusFailed,
		"Owning engine is dead"); err != nil {
		uc.log.Warnf("Failed to fail orphaned action %s: %v", owner, err)
	}
	if err := uc.repo.StealLock(ctx, userID, actionID); err != nil {
		return err
	}
	uc.metrics.LockStealTotal.WithLabelValues("dead_owner").Inc()
	return nil
}

// Release 释放 action 持有的锁。锁已被他人抢占时返回错误，调用方
// 应放弃后续写入。
func (uc *LockUseCase) Release(ctx context.Context, userID, actionID string) error {
	ok, err := uc.repo.ReleaseLock(ctx, userID, actionID)
	if err != nil {
		return err
	}
	if !ok {
		return pkgErrors.NewBizErrorWithLang(ctx, meteringErrors.ErrCodeLockReleaseFailed)
	}
	return nil
}

// ownerEngineDead 判断锁持有者 action 所在的引擎是否死亡。
// 无法定位持有者或引擎时按存活处理，避免误抢。
func (uc *LockUseCase) ownerEngineDead(ctx context.Context, ownerActionID string) (bool, error) {
	if ownerActionID == "" {
		return false, nil
	}
	action, err := uc.actionRepo.GetAction(ctx, ownerActionID)
	if err != nil {
		return false, err
	}
	if action == nil || action.Owner == "" {
		return false, nil
	}
	lastSeen, known, err := uc.engineRepo.LastSeen(ctx, action.Owner)
	if err != nil {
		return false, err
	}
	if !known {
		return false, nil
	}
	return uc.nowFunc().Sub(lastSeen) > 2*uc.conf.PeriodicInterval, nil
}
