// Package money 提供账本使用的精确十进制运算辅助函数。
// 余额、费率、成本全部使用 decimal，长周期的 rate*time 累乘不允许出现
// 二进制浮点漂移；时间戳同样以十进制秒表示，便于与费率直接相乘。
package money

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// StoragePlaces 存储精度（小数位）
	StoragePlaces = 8
	// DisplayPlaces 对外展示精度（小数位）
	DisplayPlaces = 2
)

// Zero 零值
func Zero() decimal.Decimal {
	return decimal.Zero
}

// Parse 解析十进制字符串，格式非法返回错误
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

// MustParse 解析十进制字符串，仅用于测试和硬编码常量
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromFloat 浮点转精确十进制，仅用于吸收外部系统传入的浮点值
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// Format 按存储精度（8位小数）格式化
func Format(d decimal.Decimal) string {
	return d.StringFixed(StoragePlaces)
}

// Display 按展示精度（2位小数）格式化
func Display(d decimal.Decimal) string {
	return d.StringFixed(DisplayPlaces)
}

// TimeToDecimal 时间转为自 epoch 起的十进制秒
func TimeToDecimal(t time.Time) decimal.Decimal {
	return decimal.NewFromInt(t.Unix()).Add(
		decimal.New(int64(t.Nanosecond()), -9))
}

// DecimalToTime 十进制秒转回时间
func DecimalToTime(d decimal.Decimal) time.Time {
	sec := d.IntPart()
	nsec := d.Sub(decimal.NewFromInt(sec)).Shift(9).IntPart()
	return time.Unix(sec, nsec).UTC()
}

// SecondsToDecimal 秒数转十进制
func SecondsToDecimal(seconds int64) decimal.Decimal {
	return decimal.NewFromInt(seconds)
}
