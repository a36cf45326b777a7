package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Resource 计费资源表
// properties 存 JSON 字符串，定价规则从中取 flavor/size。
type Resource struct {
	ResourceID   string          `gorm:"primaryKey;type:varchar(36)"`
	UserID       string          `gorm:"index;type:varchar(36);not null"`
	ResourceType string          `gorm:"type:varchar(32);not null"`
	Rate         decimal.Decimal `gorm:"type:decimal(40,8);default:0"`
	LastBill     decimal.Decimal `gorm:"type:decimal(40,8);default:0"`
	Properties   string          `gorm:"type:text"`
	CreatedAt    time.Time       `gorm:"autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Resource) TableName() string {
	return "resource"
}
