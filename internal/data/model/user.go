package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User 账户表
// balance/rate/last_bill 都用定点十进制存储，last_bill 是自 epoch
// 起的十进制秒，保证结算算术无浮点漂移。
type User struct {
	UserID       string          `gorm:"primaryKey;type:varchar(36)"`
	Balance      decimal.Decimal `gorm:"type:decimal(40,8);default:0"`
	Rate         decimal.Decimal `gorm:"type:decimal(40,8);default:0"`
	Credit       int64           `gorm:"default:0"`
	LastBill     decimal.Decimal `gorm:"type:decimal(40,8);default:0"`
	Status       string          `gorm:"type:varchar(16);index;not null"`
	StatusReason string          `gorm:"type:varchar(255)"`
	CreatedAt    time.Time       `gorm:"autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (User) TableName() string {
	return "user"
}
