package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/constants"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// actionRepo 编排任务数据访问
type actionRepo struct {
	data *Data
	log  *log.Helper
}

// NewActionRepo 创建 action repo（返回 biz.ActionRepo 接口）
func NewActionRepo(data *Data, logger log.Logger) biz.ActionRepo {
	return &actionRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toAction(m *model.Action) (*biz.Action, error) {
	var inputs map[string]interface{}
	if m.Inputs != "" {
		if err := json.Unmarshal([]byte(m.Inputs), &inputs); err != nil {
			return nil, fmt.Errorf("corrupt inputs of action %s: %w", m.ActionID, err)
		}
	}
	return &biz.Action{
		ID:        m.ActionID,
		Name:      m.Name,
		Target:    m.Target,
		Inputs:    inputs,
		Status:    m.Status,
		Owner:     m.Owner,
		Signal:    m.Signal,
		Reason:    m.Reason,
		StartedAt: m.StartedAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// CreateAction 写入 action
func (r *actionRepo) CreateAction(ctx context.Context, action *biz.Action) error {
	inputs, err := json.Marshal(action.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}
	m := &model.Action{
		ActionID: action.ID,
		Name:     action.Name,
		Target:   action.Target,
		Inputs:   string(inputs),
		Status:   action.Status,
	}
	if err := r.data.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create action: %w", err)
	}
	return nil
}

// GetAction 获取 action
func (r *actionRepo) GetAction(ctx context.Context, actionID string) (*biz.Action, error) {
	var m model.Action
	if err := r.data.db.WithContext(ctx).Where("action_id = ?", actionID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query action: %w", err)
	}
	return toAction(&m)
}

// ClaimReadyActions 原子认领：行锁选出 READY，置 RUNNING 并标记 owner。
// 多引擎并发认领依赖 SELECT ... FOR UPDATE 互斥。
func (r *actionRepo) ClaimReadyActions(ctx context.Context, engineID string, limit int) ([]*biz.Action, error) {
	var claimed []*biz.Action
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ms []model.Action
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ?", constants.ActionStatusReady).
			Order("created_at ASC").
			Limit(limit).
			Find(&ms).Error; err != nil {
			return err
		}
		now := time.Now()
		for i := range ms {
			if err := tx.Model(&model.Action{}).
				Where("action_id = ?", ms[i].ActionID).
				Updates(map[string]interface{}{
					"status":     constants.ActionStatusRunning,
					"owner":      engineID,
					"started_at": now,
				}).Error; err != nil {
				return err
			}
			ms[i].Status = constants.ActionStatusRunning
			ms[i].Owner = engineID
			ms[i].StartedAt = now
			action, err := toAction(&ms[i])
			if err != nil {
				return err
			}
			claimed = append(claimed, action)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim ready actions: %w", err)
	}
	return claimed, nil
}

// MarkDone 置终态
func (r *actionRepo) MarkDone(ctx context.Context, actionID, status, reason string) error {
	if err := r.data.db.WithContext(ctx).Model(&model.Action{}).
		Where("action_id = ?", actionID).
		Updates(map[string]interface{}{
			"status": status,
			"reason": reason,
		}).Error; err != nil {
		return fmt.Errorf("failed to finish action: %w", err)
	}
	return nil
}

// Abandon 放回 READY 供重试，清空 owner 与信号
func (r *actionRepo) Abandon(ctx context.Context, actionID string) error {
	if err := r.data.db.WithContext(ctx).Model(&model.Action{}).
		Where("action_id = ? AND status = ?", actionID, constants.ActionStatusRunning).
		Updates(map[string]interface{}{
			"status": constants.ActionStatusReady,
			"owner":  "",
			"signal": "",
		}).Error; err != nil {
		return fmt.Errorf("failed to abandon action: %w", err)
	}
	return nil
}

// SetSignal 写控制信号
func (r *actionRepo) SetSignal(ctx context.Context, actionID, signal string) error {
	if err := r.data.db.WithContext(ctx).Model(&model.Action{}).
		Where("action_id = ?", actionID).
		Update("signal", signal).Error; err != nil {
		return fmt.Errorf("failed to set signal: %w", err)
	}
	return nil
}

// GetSignal 读控制信号
func (r *actionRepo) GetSignal(ctx context.Context, actionID string) (string, error) {
	var m model.Action
	if err := r.data.db.WithContext(ctx).Select("signal").
		Where("action_id = ?", actionID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query signal: %w", err)
	}
	return m.Signal, nil
}

// ListActionsByUser 按用户倒序查询 action
func (r *actionRepo) ListActionsByUser(ctx context.Context, userID string, limit int) ([]*biz.Action, error) {
	var ms []model.Action
	q := r.data.db.WithContext(ctx).Where("target = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	out := make([]*biz.Action, 0, len(ms))
	for i := range ms {
		action, err := toAction(&ms[i])
		if err != nil {
			return nil, err
		}
		out = append(out, action)
	}
	return out, nil
}
