package biz

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// Consumption 消费记录：某资源在 [start_at, end_at) 区间按 rate 产生的消费。
// 记录不可变，资源更配时按旧费率落一条，删除时按当前费率落一条。
type Consumption struct {
	ID           int64
	UserID       string
	ResourceID   string
	ResourceType string
	Rate         decimal.Decimal
	StartAt      time.Time
	EndAt        time.Time
	Cost         decimal.Decimal
	CreatedAt    time.Time
}

// Recharge 充值记录，不可变
type Recharge struct {
	ID        int64
	UserID    string
	Value     decimal.Decimal
	Type      string // Recharge / System bonus
	CreatedAt time.Time
}

// Event 账户流水事件（charge / recharge），审计旁路
type Event struct {
	ID        int64
	UserID    string
	Action    string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// ConsumptionRepo 消费记录数据层接口
type ConsumptionRepo interface {
	CreateConsumption(ctx context.Context, c *Consumption) error
	ListConsumptionsByUser(ctx context.Context, userID string, limit int) ([]*Consumption, error)
	// DeleteConsumption 仅用于补偿回滚
	DeleteConsumption(ctx context.Context, id int64) error
}

// RechargeRepo 充值记录数据层接口
type RechargeRepo interface {
	CreateRecharge(ctx context.Context, r *Recharge) error
	ListRechargesByUser(ctx context.Context, userID string, limit int) ([]*Recharge, error)
}

// EventRepo 事件数据层接口
type EventRepo interface {
	CreateEvent(ctx context.Context, e *Event) error
	ListEventsByUser(ctx context.Context, userID string, limit int) ([]*Event, error)
}

// RecordUseCase 记录查询入口（消费/充值/事件均为只读列表）
type RecordUseCase struct {
	consumptionRepo ConsumptionRepo
	rechargeRepo    RechargeRepo
	eventRepo       EventRepo
	log             *log.Helper
}

// NewRecordUseCase 创建记录查询 UseCase
func NewRecordUseCase(
	consumptionRepo ConsumptionRepo,
	rechargeRepo RechargeRepo,
	eventRepo EventRepo,
	logger log.Logger,
) *RecordUseCase {
	return &RecordUseCase{
		consumptionRepo: consumptionRepo,
		rechargeRepo:    rechargeRepo,
		eventRepo:       eventRepo,
		log:             log.NewHelper(logger),
	}
}

// ListConsumptions 按用户查询消费记录
func (uc *RecordUseCase) ListConsumptions(ctx context.Context, userID string, limit int) ([]*Consumption, error) {
	return uc.consumptionRepo.ListConsumptionsByUser(ctx, userID, limit)
}

// ListRecharges 按用户查询充值记录
func (uc *RecordUseCase) ListRecharges(ctx context.Context, userID string, limit int) ([]*Recharge, error) {
	return uc.rechargeRepo.ListRechargesByUser(ctx, userID, limit)
}

// ListEvents 按用户查询流水事件
func (uc *RecordUseCase) ListEvents(ctx context.Context, userID string, limit int) ([]*Event, error) {
	return uc.eventRepo.ListEventsByUser(ctx, userID, limit)
}
