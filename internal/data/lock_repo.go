package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockRepo 用户锁数据访问
// 锁是一行记录，获取靠 INSERT 冲突的原子性裁决。
type lockRepo struct {
	data *Data
	log  *log.Helper
}

// NewLockRepo 创建用户锁 repo（返回 biz.LockRepo 接口）
func NewLockRepo(data *Data, logger log.Logger) biz.LockRepo {
	return &lockRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// AcquireLock 原子抢锁。INSERT 冲突时读出持有者；持有者就是自己
// 则视为重入成功。
func (r *lockRepo) AcquireLock(ctx context.Context, userID, actionID string) (bool, string, error) {
	m := &model.UserLock{UserID: userID, ActionID: actionID}
	res := r.data.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m)
	if res.Error != nil {
		return false, "", fmt.Errorf("failed to acquire lock: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, "", nil
	}

	var existing model.UserLock
	if err := r.data.db.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 竞争窗口里持有者刚释放，交给上层重试
			return false, "", nil
		}
		return false, "", fmt.Errorf("failed to read lock owner: %w", err)
	}
	if existing.ActionID == actionID {
		return true, "", nil
	}
	return false, existing.ActionID, nil
}

// StealLock 无条件改写持有者
func (r *lockRepo) StealLock(ctx context.Context, userID, actionID string) error {
	m := &model.UserLock{UserID: userID, ActionID: actionID}
	if err := r.data.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"action_id": actionID}),
		}).
		Create(m).Error; err != nil {
		return fmt.Errorf("failed to steal lock: %w", err)
	}
	return nil
}

// ReleaseLock 仅当持有者是 actionID 时删除锁行
func (r *lockRepo) ReleaseLock(ctx context.Context, userID, actionID string) (bool, error) {
	res := r.data.db.WithContext(ctx).
		Where("user_id = ? AND action_id = ?", userID, actionID).
		Delete(&model.UserLock{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to release lock: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// engineRepo 引擎注册表数据访问
type engineRepo struct {
	data *Data
	log  *log.Helper
}

// NewEngineRepo 创建引擎注册表 repo（返回 biz.EngineRepo 接口）
func NewEngineRepo(data *Data, logger log.Logger) biz.EngineRepo {
	return &engineRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// ReportAlive 心跳上报，updated_at 即存活时间戳
func (r *engineRepo) ReportAlive(ctx context.Context, engineID string) error {
	m := &model.Engine{EngineID: engineID}
	if err := r.data.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "engine_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"updated_at": time.Now()}),
		}).
		Create(m).Error; err != nil {
		return fmt.Errorf("failed to report engine heartbeat: %w", err)
	}
	return nil
}

// LastSeen 引擎最近一次心跳时间
func (r *engineRepo) LastSeen(ctx context.Context, engineID string) (time.Time, bool, error) {
	var m model.Engine
	if err := r.data.db.WithContext(ctx).Where("engine_id = ?", engineID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to query engine: %w", err)
	}
	return m.UpdatedAt, true, nil
}
