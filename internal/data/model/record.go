package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Consumption 消费记录表，不可变
type Consumption struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	UserID       string          `gorm:"index;type:varchar(36);not null"`
	ResourceID   string          `gorm:"type:varchar(36);not null"`
	ResourceType string          `gorm:"type:varchar(32)"`
	Rate         decimal.Decimal `gorm:"type:decimal(40,8);default:0"`
	StartAt      time.Time       `gorm:"not null"`
	EndAt        time.Time       `gorm:"not null"`
	Cost         decimal.Decimal `gorm:"type:decimal(40,8);default:0"`
	CreatedAt    time.Time       `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (Consumption) TableName() string {
	return "consumption"
}

// Recharge 充值记录表，不可变
type Recharge struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	UserID    string          `gorm:"index;type:varchar(36);not null"`
	Value     decimal.Decimal `gorm:"type:decimal(40,8);not null"`
	Type      string          `gorm:"type:varchar(32);not null"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (Recharge) TableName() string {
	return "recharge"
}

// Event 账户流水事件表
type Event struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	UserID    string          `gorm:"index;type:varchar(36);not null"`
	Action    string          `gorm:"type:varchar(32);not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(40,8);default:0"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
}

// TableName 指定表名
func (Event) TableName() string {
	return "event"
}
