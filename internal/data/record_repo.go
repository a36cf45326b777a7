package data

import (
	"context"
	"fmt"

	"metering-service/internal/biz"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
)

// consumptionRepo 消费记录数据访问
type consumptionRepo struct {
	data *Data
	log  *log.Helper
}

// NewConsumptionRepo 创建消费记录 repo
func NewConsumptionRepo(data *Data, logger log.Logger) biz.ConsumptionRepo {
	return &consumptionRepo{data: data, log: log.NewHelper(logger)}
}

// CreateConsumption 写入消费记录并回填自增ID
func (r *consumptionRepo) CreateConsumption(ctx context.Context, c *biz.Consumption) error {
	m := &model.Consumption{
		UserID:       c.UserID,
		ResourceID:   c.ResourceID,
		ResourceType: c.ResourceType,
		Rate:         c.Rate,
		StartAt:      c.StartAt,
		EndAt:        c.EndAt,
		Cost:         c.Cost,
	}
	if err := r.data.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create consumption: %w", err)
	}
	c.ID = m.ID
	return nil
}

// ListConsumptionsByUser 按用户倒序查询消费记录
func (r *consumptionRepo) ListConsumptionsByUser(ctx context.Context, userID string, limit int) ([]*biz.Consumption, error) {
	var ms []model.Consumption
	q := r.data.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list consumptions: %w", err)
	}
	out := make([]*biz.Consumption, 0, len(ms))
	for i := range ms {
		m := &ms[i]
		out = append(out, &biz.Consumption{
			ID:           m.ID,
			UserID:       m.UserID,
			ResourceID:   m.ResourceID,
			ResourceType: m.ResourceType,
			Rate:         m.Rate,
			StartAt:      m.StartAt,
			EndAt:        m.EndAt,
			Cost:         m.Cost,
			CreatedAt:    m.CreatedAt,
		})
	}
	return out, nil
}

// DeleteConsumption 删除消费记录，仅补偿回滚使用
func (r *consumptionRepo) DeleteConsumption(ctx context.Context, id int64) error {
	if err := r.data.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Consumption{}).Error; err != nil {
		return fmt.Errorf("failed to delete consumption: %w", err)
	}
	return nil
}

// rechargeRepo 充值记录数据访问
type rechargeRepo struct {
	data *Data
	log  *log.Helper
}

// NewRechargeRepo 创建充值记录 repo
func NewRechargeRepo(data *Data, logger log.Logger) biz.RechargeRepo {
	return &rechargeRepo{data: data, log: log.NewHelper(logger)}
}

// CreateRecharge 写入充值记录
func (r *rechargeRepo) CreateRecharge(ctx context.Context, rec *biz.Recharge) error {
	m := &model.Recharge{
		UserID: rec.UserID,
		Value:  rec.Value,
		Type:   rec.Type,
	}
	if err := r.data.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create recharge: %w", err)
	}
	rec.ID = m.ID
	return nil
}

// ListRechargesByUser 按用户倒序查询充值记录
func (r *rechargeRepo) ListRechargesByUser(ctx context.Context, userID string, limit int) ([]*biz.Recharge, error) {
	var ms []model.Recharge
	q := r.data.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list recharges: %w", err)
	}
	out := make([]*biz.Recharge, 0, len(ms))
	for i := range ms {
		m := &ms[i]
		out = append(out, &biz.Recharge{
			ID:        m.ID,
			UserID:    m.UserID,
			Value:     m.Value,
			Type:      m.Type,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// eventRepo 流水事件数据访问
type eventRepo struct {
	data *Data
	log  *log.Helper
}

// NewEventRepo 创建事件 repo
func NewEventRepo(data *Data, logger log.Logger) biz.EventRepo {
	return &eventRepo{data: data, log: log.NewHelper(logger)}
}

// CreateEvent 写入事件
func (r *eventRepo) CreateEvent(ctx context.Context, e *biz.Event) error {
	m := &model.Event{
		UserID: e.UserID,
		Action: e.Action,
		Amount: e.Amount,
	}
	if err := r.data.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	e.ID = m.ID
	return nil
}

// ListEventsByUser 按用户倒序查询事件
func (r *eventRepo) ListEventsByUser(ctx context.Context, userID string, limit int) ([]*biz.Event, error) {
	var ms []model.Event
	q := r.data.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	out := make([]*biz.Event, 0, len(ms))
	for i := range ms {
		m := &ms[i]
		out = append(out, &biz.Event{
			ID:        m.ID,
			UserID:    m.UserID,
			Action:    m.Action,
			Amount:    m.Amount,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}
