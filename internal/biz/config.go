package biz

import (
	"time"

	"metering-service/internal/conf"
	"metering-service/internal/pkg/money"

	"github.com/shopspring/decimal"
)

// MeteringConfig 计费域配置（启动时从 Bootstrap 解析为领域类型）
type MeteringConfig struct {
	NotifyWindow      decimal.Decimal // 提前提醒窗口（秒）
	AllowedDelay      decimal.Decimal // 资源事件允许的处理延迟（秒）
	PeriodicInterval  time.Duration   // 引擎心跳周期
	ActionTimeout     time.Duration   // 单个 action 的执行超时
	LockRetryTimes    int
	LockRetryInterval time.Duration
	Tenants           []string
}

// NewMeteringConfig 解析计费域配置，零值字段回退到默认值
func NewMeteringConfig(c *conf.Bootstrap) *MeteringConfig {
	mc := &MeteringConfig{
		NotifyWindow:      money.SecondsToDecimal(600),
		AllowedDelay:      money.SecondsToDecimal(10),
		PeriodicInterval:  60 * time.Second,
		ActionTimeout:     300 * time.Second,
		LockRetryTimes:    3,
		LockRetryInterval: 5 * time.Second,
	}
	if c == nil || c.Metering == nil {
		return mc
	}
	m := c.Metering
	if m.NotifyWindowSeconds > 0 {
		mc.NotifyWindow = money.SecondsToDecimal(m.NotifyWindowSeconds)
	}
	if m.AllowedDelaySeconds > 0 {
		mc.AllowedDelay = money.SecondsToDecimal(m.AllowedDelaySeconds)
	}
	if m.LockRetryTimes > 0 {
		mc.LockRetryTimes = m.LockRetryTimes
	}
	if m.LockRetryIntervalSeconds > 0 {
		mc.LockRetryInterval = time.Duration(m.LockRetryIntervalSeconds) * time.Second
	}
	mc.Tenants = m.Tenants
	if c.Server != nil && c.Server.Engine != nil {
		if c.Server.Engine.PeriodicIntervalSeconds > 0 {
			mc.PeriodicInterval = time.Duration(c.Server.Engine.PeriodicIntervalSeconds) * time.Second
		}
		if c.Server.Engine.ActionTimeoutSeconds > 0 {
			mc.ActionTimeout = time.Duration(c.Server.Engine.ActionTimeoutSeconds) * time.Second
		}
	}
	return mc
}
