package biz

import (
	"context"
	"fmt"

	"metering-service/internal/conf"
	"metering-service/internal/constants"
	meteringErrors "metering-service/internal/errors"
	"metering-service/internal/pkg/money"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/shopspring/decimal"
)

// Pricer 定价插件接口：从资源属性计算每秒费率
type Pricer interface {
	// Price 返回每秒费率。属性缺失或非法时返回错误。
	Price(properties map[string]interface{}) (decimal.Decimal, error)
}

// RuleRegistry 按资源类型注册的定价规则表
type RuleRegistry struct {
	pricers map[string]Pricer
}

// NewRuleRegistry 从配置构建定价规则表
func NewRuleRegistry(c *conf.Bootstrap) (*RuleRegistry, error) {
	reg := &RuleRegistry{pricers: make(map[string]Pricer)}
	if c == nil || c.Metering == nil {
		return reg, nil
	}
	for _, rule := range c.Metering.Rules {
		pricer, err := newPricer(rule)
		if err != nil {
			return nil, err
		}
		reg.pricers[rule.ResourceType] = pricer
	}
	return reg, nil
}

// Price 用注册的规则为资源定价。未注册的资源类型返回 RuleNotFound。
func (r *RuleRegistry) Price(ctx context.Context, resource *Resource) (decimal.Decimal, error) {
	pricer, ok := r.pricers[resource.ResourceType]
	if !ok {
		return decimal.Zero, pkgErrors.NewBizErrorWithLang(ctx, meteringErrors.ErrCodeRuleNotFound)
	}
	rate, err := pricer.Price(resource.Properties)
	if err != nil {
		return decimal.Zero, pkgErrors.WrapErrorWithLang(ctx, err, meteringErrors.ErrCodeInvalidRuleSpec)
	}
	return rate, nil
}

func newPricer(rule *conf.Rule) (Pricer, error) {
	switch rule.ResourceType {
	case constants.ResourceTypeInstance:
		return newInstancePricer(rule)
	case constants.ResourceTypeVolume:
		return newVolumePricer(rule)
	default:
		return nil, fmt.Errorf("unknown resource type %q in pricing rule", rule.ResourceType)
	}
}

// normalizeRate 把配置价格折算为每秒费率
func normalizeRate(price, unit string) (decimal.Decimal, error) {
	d, err := money.Parse(price)
	if err != nil {
		return decimal.Zero, err
	}
	switch unit {
	case constants.PriceUnitPerHour:
		return d.Div(decimal.NewFromInt(3600)), nil
	case constants.PriceUnitPerSec, "":
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("unknown price unit %q", unit)
	}
}

// instancePricer 云主机定价：按 flavor 查表
type instancePricer struct {
	flavors map[string]decimal.Decimal
}

func newInstancePricer(rule *conf.Rule) (*instancePricer, error) {
	p := &instancePricer{flavors: make(map[string]decimal.Decimal, len(rule.Flavors))}
	for flavor, price := range rule.Flavors {
		rate, err := normalizeRate(price, rule.Unit)
		if err != nil {
			return nil, fmt.Errorf("instance flavor %q: %w", flavor, err)
		}
		p.flavors[flavor] = rate
	}
	return p, nil
}

func (p *instancePricer) Price(properties map[string]interface{}) (decimal.Decimal, error) {
	flavor, ok := properties["flavor"].(string)
	if !ok || flavor == "" {
		return decimal.Zero, fmt.Errorf("instance properties missing flavor")
	}
	rate, ok := p.flavors[flavor]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for flavor %q", flavor)
	}
	return rate, nil
}

// volumeStep 容量区间 [start, end)，end 为 0 表示无上界
type volumeStep struct {
	start int64
	end   int64
	rate  decimal.Decimal
}

// volumePricer 云硬盘定价：按容量落入的区间查表
type volumePricer struct {
	steps []volumeStep
}

func newVolumePricer(rule *conf.Rule) (*volumePricer, error) {
	p := &volumePricer{}
	for _, step := range rule.VolumeSteps {
		rate, err := normalizeRate(step.Price, rule.Unit)
		if err != nil {
			return nil, fmt.Errorf("volume step [%d, %d): %w", step.Start, step.End, err)
		}
		p.steps = append(p.steps, volumeStep{start: step.Start, end: step.End, rate: rate})
	}
	return p, nil
}

func (p *volumePricer) Price(properties map[string]interface{}) (decimal.Decimal, error) {
	size, err := sizeOf(properties)
	if err != nil {
		return decimal.Zero, err
	}
	for _, step := range p.steps {
		if size >= step.start && (step.end == 0 || size < step.end) {
			return step.rate, nil
		}
	}
	return decimal.Zero, fmt.Errorf("no price step covers volume size %d", size)
}

func sizeOf(properties map[string]interface{}) (int64, error) {
	switch v := properties["size"].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		// 经 JSON 反序列化的数字
		return int64(v), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return 0, fmt.Errorf("invalid volume size %q", v)
		}
		return d.IntPart(), nil
	default:
		return 0, fmt.Errorf("volume properties missing size")
	}
}
