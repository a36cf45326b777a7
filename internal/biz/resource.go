package biz

import (
	"context"
	"time"

	"metering-service/internal/pkg/money"

	"github.com/shopspring/decimal"
)

// Resource 计费资源
// 每个资源携带自己的费率与计费水位（last_bill），账户费率恒等于
// 其所有资源费率之和。Properties 是定价规则的输入（flavor、size 等）。
type Resource struct {
	ID           string
	UserID       string
	ResourceType string
	Rate         decimal.Decimal // 每秒费率
	LastBill     decimal.Decimal // 该资源开始按当前费率计费的时间点
	Properties   map[string]interface{}
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Snapshot 返回用于补偿回滚的副本
func (r *Resource) Snapshot() *Resource {
	c := *r
	c.Properties = make(map[string]interface{}, len(r.Properties))
	for k, v := range r.Properties {
		c.Properties[k] = v
	}
	return &c
}

// DelayedCost 计算事件时间与处理时间之间的延迟补偿。
// 事件发生在 eventTime，引擎在 now 才处理：若延迟超过 allowedDelay，
// 这段时间按 deltaRate 补扣（创建/升配为正，降配/删除为负返还）。
// 同时将资源水位回拨到事件时间，保证后续结算不重复计费。
func (r *Resource) DelayedCost(deltaRate, eventTime, now, allowedDelay decimal.Decimal) decimal.Decimal {
	delayed := now.Sub(eventTime)
	if delayed.LessThanOrEqual(allowedDelay) {
		return decimal.Zero
	}
	r.LastBill = eventTime
	return deltaRate.Mul(delayed)
}

// ConsumptionFor 合成 [last_bill, until) 区间按 rate 计价的消费记录，
// 区间为空时返回 nil
func (r *Resource) ConsumptionFor(rate, until decimal.Decimal) *Consumption {
	elapsed := until.Sub(r.LastBill)
	if !elapsed.IsPositive() || !rate.IsPositive() {
		return nil
	}
	return &Consumption{
		UserID:       r.UserID,
		ResourceID:   r.ID,
		ResourceType: r.ResourceType,
		Rate:         rate,
		StartAt:      money.DecimalToTime(r.LastBill),
		EndAt:        money.DecimalToTime(until),
		Cost:         rate.Mul(elapsed),
	}
}

// FinalConsumption 资源删除（含冻结级联）时按当前费率合成最终消费记录
func (r *Resource) FinalConsumption(now decimal.Decimal) *Consumption {
	return r.ConsumptionFor(r.Rate, now)
}

// ResourceRepo 资源数据层接口
type ResourceRepo interface {
	// GetResource 资源不存在时返回 (nil, nil)
	GetResource(ctx context.Context, resourceID string) (*Resource, error)
	SaveResource(ctx context.Context, resource *Resource) error
	ListResourcesByUser(ctx context.Context, userID string) ([]*Resource, error)
	DeleteResource(ctx context.Context, resourceID string) error
}
