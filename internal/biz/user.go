package biz

import (
	"context"
	"time"

	"metering-service/internal/constants"
	meteringErrors "metering-service/internal/errors"
	"metering-service/internal/metrics"
	"metering-service/internal/pkg/money"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
)

// User 账户领域对象
// 余额账本的核心实体：balance 是截止 last_bill 时刻的已结算余额，
// ACTIVE/WARNING 状态下的真实余额为 balance - rate*(now-last_bill)。
type User struct {
	ID           string
	Balance      decimal.Decimal
	Rate         decimal.Decimal // 所有未删除资源费率之和（每秒）
	Credit       int64           // 信用额度，仅展示，不参与结算
	LastBill     decimal.Decimal // 上次完整结算的时间点（自 epoch 起的十进制秒）
	Status       string
	StatusReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Settle 结算一次：按 rate 扣除自 last_bill 以来的费用并推进水位。
// 返回本次结算扣除的成本。余额是否透支由调用方检查并处理冻结。
func (u *User) Settle(now decimal.Decimal) decimal.Decimal {
	elapsed := now.Sub(u.LastBill)
	if elapsed.IsNegative() {
		elapsed = decimal.Zero
	}
	cost := u.Rate.Mul(elapsed)
	u.Balance = u.Balance.Sub(cost)
	u.LastBill = now
	return cost
}

// RealtimeBalance 实时余额（只读投影，不推进水位）
func (u *User) RealtimeBalance(now decimal.Decimal) decimal.Decimal {
	if u.Rate.IsPositive() && u.Status != constants.UserStatusFreeze {
		return u.Balance.Sub(u.Rate.Mul(now.Sub(u.LastBill)))
	}
	return u.Balance
}

// Runway 按当前费率预计余额还能支撑的秒数，rate 为 0 时返回 false
func (u *User) Runway() (decimal.Decimal, bool) {
	if !u.Rate.IsPositive() {
		return decimal.Zero, false
	}
	return u.Balance.Div(u.Rate), true
}

// Snapshot 返回用于补偿回滚的副本
func (u *User) Snapshot() *User {
	c := *u
	return &c
}

// SetStatus 设置账户状态
func (u *User) SetStatus(status, reason string) {
	u.Status = status
	if reason != "" {
		u.StatusReason = reason
	}
}

// UserRepo 账户数据层接口（定义在 biz 层）
type UserRepo interface {
	// GetUser 账户不存在时返回 (nil, nil)
	GetUser(ctx context.Context, userID string) (*User, error)
	SaveUser(ctx context.Context, user *User) error
	ListUsers(ctx context.Context) ([]*User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// IdentityRepo 租户枚举接口，仅用于启动时种入未知账户
type IdentityRepo interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// Notifier 通知通道接口，fire-and-forget
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload map[string]interface{}) error
}

// UserUseCase 账户账本业务逻辑
// 账户状态机、结算与费率变更的唯一入口。除实时余额展示外，
// 所有修改必须在持有用户锁的前提下调用（由 action 层保证）。
type UserUseCase struct {
	repo            UserRepo
	resourceRepo    ResourceRepo
	consumptionRepo ConsumptionRepo
	rechargeRepo    RechargeRepo
	eventRepo       EventRepo
	identityRepo    IdentityRepo
	notifier        Notifier
	conf            *MeteringConfig
	log             *log.Helper
	metrics         *metrics.MeteringMetrics

	nowFunc func() time.Time
}

// NewUserUseCase 创建账户 UseCase
func NewUserUseCase(
	repo UserRepo,
	resourceRepo ResourceRepo,
	consumptionRepo ConsumptionRepo,
	rechargeRepo RechargeRepo,
	eventRepo EventRepo,
	identityRepo IdentityRepo,
	notifier Notifier,
	conf *MeteringConfig,
	logger log.Logger,
) *UserUseCase {
	return &UserUseCase{
		repo:            repo,
		resourceRepo:    resourceRepo,
		consumptionRepo: consumptionRepo,
		rechargeRepo:    rechargeRepo,
		eventRepo:       eventRepo,
		identityRepo:    identityRepo,
		notifier:        notifier,
		conf:            conf,
		log:             log.NewHelper(logger),
		metrics:         metrics.GetMetrics(),
		nowFunc:         time.Now,
	}
}

func (uc *UserUseCase) now() decimal.Decimal {
	return money.TimeToDecimal(uc.nowFunc())
}

// GetUser 获取账户，不存在返回 NotFound 错误
func (uc *UserUseCase) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := uc.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, meteringErrors.ErrCodeUserNotFound)
	}
	return user, nil
}

// GetUserRealtime 获取账户并附带实时余额投影。
// 无锁读取，允许返回略有滞后的快照，仅用于展示。
func (uc *UserUseCase) GetUserRealtime(ctx context.Context, userID string) (*User, error) {
	user, err := uc.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.Balance = user.RealtimeBalance(uc.now())
	return user, nil
}

// ListUsers 获取全部账户
func (uc *UserUseCase) ListUsers(ctx context.Context) ([]*User, error) {
	return uc.repo.ListUsers(ctx)
}

// GetResource 获取计费资源，不存在返回 NotFound 错误
func (uc *UserUseCase) GetResource(ctx context.Context, resourceID string) (*Resource, error) {
	resource, err := uc.resourceRepo.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if resource == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, meteringErrors.ErrCodeResourceNotFound)
	}
	return resource, nil
}

// ListResources 列出账户名下的计费资源
func (uc *UserUseCase) ListResources(ctx context.Context, userID string) ([]*Resource, error) {
	return uc.resourceRepo.ListResourcesByUser(ctx, userID)
}

// InitTenants 从租户枚举接口种入未知账户（INIT 状态）
func (uc *UserUseCase) InitTenants(ctx context.Context) ([]*User, error) {
	tenants, err := uc.identityRepo.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	users, err := uc.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(users))
	for _, u := range users {
		known[u.ID] = true
	}
	for _, tid := range tenants {
		if known[tid] {
			continue
		}
		user := &User{
			ID:           tid,
			Balance:      decimal.Zero,
			Rate:         decimal.Zero,
			LastBill:     uc.now(),
			Status:       constants.UserStatusInit,
			StatusReason: "Init from identity service",
		}
		if err := uc.repo.SaveUser(ctx, user); err != nil {
			uc.log.Errorf("Failed to init user %s: %v", tid, err)
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

// DeleteUser 删除账户。仍在计费中（ACTIVE/WARNING）的账户不可删除。
func (uc *UserUseCase) DeleteUser(ctx context.Context, userID string) error {
	user, err := uc.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Status == constants.UserStatusActive || user.Status == constants.UserStatusWarning {
		return pkgErrors.NewBizErrorWithLang(ctx, meteringErrors.ErrCodeUserInUse)
	}
	return uc.repo.DeleteUser(ctx, userID)
}

// Settle 结算一次账户，透支则触发冻结级联，最后持久化。
// 结算与触发它的费率/状态变更必须一起落库，调用方不得在结算后
// 绕过本方法自行保存。
func (uc *UserUseCase) Settle(ctx context.Context, user *User) error {
	now := uc.now()
	cost := user.Settle(now)
	if user.Balance.IsNegative() {
		if err := uc.freeze(ctx, user, "Balance overdraft"); err != nil {
			return err
		}
	}
	if err := uc.repo.SaveUser(ctx, user); err != nil {
		return err
	}
	uc.recordEvent(ctx, user.ID, constants.EventActionCharge, cost)
	return nil
}

// ApplyRateDelta 结算后应用费率增量，并折算事件处理延迟的补偿费用。
// delayedCost 为正表示补扣（资源事件早于引擎处理），为负表示返还。
func (uc *UserUseCase) ApplyRateDelta(ctx context.Context, user *User, delta, delayedCost decimal.Decimal) error {
	now := uc.now()
	cost := user.Settle(now)
	if !delayedCost.IsZero() {
		user.Balance = user.Balance.Sub(delayedCost)
		cost = cost.Add(delayedCost)
	}

	oldRate := user.Rate
	newRate := oldRate.Add(delta)
	if newRate.IsNegative() {
		// 资源费率之和不可能为负，出现说明上游资源记录损坏
		uc.log.Errorf("Negative rate %s for user %s, reset to zero", newRate, user.ID)
		newRate = decimal.Zero
	}
	if oldRate.IsZero() && newRate.IsPositive() {
		// 从闲置转入计费，从现在起算
		user.LastBill = now
	}
	user.Rate = newRate

	if delta.IsPositive() && user.Status == constants.UserStatusFree {
		user.SetStatus(constants.UserStatusActive, "Billing resource created")
	} else if delta.IsNegative() {
		if newRate.IsZero() && !user.Balance.IsNegative() {
			user.SetStatus(constants.UserStatusFree, "All billing resources removed")
		} else if user.Status == constants.UserStatusWarning && uc.runwayAboveNotifyWindow(user) {
			user.SetStatus(constants.UserStatusActive, "Rate decreased")
		}
	}

	if user.Balance.IsNegative() && user.Status != constants.UserStatusFreeze {
		if err := uc.freeze(ctx, user, "Balance overdraft"); err != nil {
			return err
		}
	}
	if err := uc.repo.SaveUser(ctx, user); err != nil {
		return err
	}
	uc.recordEvent(ctx, user.ID, constants.EventActionCharge, cost)
	return nil
}

// Recharge 充值。先结算欠费，再入账并重估状态，附加不可变充值记录。
func (uc *UserUseCase) Recharge(ctx context.Context, userID string, value decimal.Decimal, rechargeType string) (*User, error) {
	if !value.IsPositive() {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, meteringErrors.ErrCodeInvalidRechargeValue)
	}
	if rechargeType != constants.RechargeTypeSelf && rechargeType != constants.RechargeTypeBonus {
		rechargeType = constants.RechargeTypeSelf
	}
	user, err := uc.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	if user.Rate.IsPositive() && user.Status != constants.UserStatusFreeze {
		// 充值时顺带结清欠费，保证 balance/last_bill 不变式始终收紧
		cost := user.Settle(now)
		uc.recordEvent(ctx, userID, constants.EventActionCharge, cost)
	}
	user.Balance = user.Balance.Add(value)

	switch {
	case user.Status == constants.UserStatusInit && user.Balance.IsPositive():
		user.SetStatus(constants.UserStatusFree, "Recharged")
	case user.Status == constants.UserStatusFreeze && user.Balance.IsPositive():
		user.SetStatus(constants.UserStatusFree,
			"Status change from 'FREEZE' to 'FREE' because of recharge")
	case user.Status == constants.UserStatusWarning && uc.runwayAboveNotifyWindow(user):
		user.SetStatus(constants.UserStatusActive,
			"Status change from 'WARNING' to 'ACTIVE' because of recharge")
	}

	if err := uc.repo.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	if err := uc.rechargeRepo.CreateRecharge(ctx, &Recharge{
		UserID: userID,
		Value:  value,
		Type:   rechargeType,
	}); err != nil {
		return nil, err
	}
	uc.recordEvent(ctx, userID, constants.EventActionRecharge, value)
	return user, nil
}

// SettleAccount 按调度任务类型结算账户
func (uc *UserUseCase) SettleAccount(ctx context.Context, userID, task string) (*User, error) {
	start := time.Now()
	user, err := uc.settleAccount(ctx, userID, task)
	uc.metrics.SettleDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
	if err != nil {
		uc.metrics.SettleTotal.WithLabelValues(task, "failed").Inc()
		return nil, err
	}
	uc.metrics.SettleTotal.WithLabelValues(task, "success").Inc()
	return user, nil
}

func (uc *UserUseCase) settleAccount(ctx context.Context, userID, task string) (*User, error) {
	user, err := uc.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch task {
	case constants.SettleTaskNotify:
		if err := uc.Settle(ctx, user); err != nil {
			return nil, err
		}
		if user.Status == constants.UserStatusActive && !uc.runwayAboveNotifyWindow(user) {
			user.SetStatus(constants.UserStatusWarning, "Balance is almost used up")
			if err := uc.repo.SaveUser(ctx, user); err != nil {
				return nil, err
			}
			uc.sendNotify(ctx, constants.NotifyEventBalanceWarning, user)
		}
	case constants.SettleTaskFreeze:
		now := uc.now()
		cost := user.Settle(now)
		if !user.Balance.IsPositive() {
			if err := uc.freeze(ctx, user, "Balance exhausted"); err != nil {
				return nil, err
			}
		}
		if err := uc.repo.SaveUser(ctx, user); err != nil {
			return nil, err
		}
		uc.recordEvent(ctx, user.ID, constants.EventActionCharge, cost)
	case constants.SettleTaskDaily:
		if !user.Rate.IsPositive() || user.Status == constants.UserStatusFreeze {
			return user, nil
		}
		if err := uc.Settle(ctx, user); err != nil {
			return nil, err
		}
	default:
		if err := uc.Settle(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// freeze 冻结账户：级联删除所有计费资源并清零费率。
// 只修改内存对象，由调用方负责持久化账户本身。
func (uc *UserUseCase) freeze(ctx context.Context, user *User, reason string) error {
	uc.log.Infof("Freezing user %s: %s", user.ID, reason)
	now := uc.now()
	resources, err := uc.resourceRepo.ListResourcesByUser(ctx, user.ID)
	if err != nil {
		return err
	}
	for _, res := range resources {
		// 为每个资源落一条最终消费记录后强制删除
		c := res.FinalConsumption(now)
		if c != nil {
			if err := uc.consumptionRepo.CreateConsumption(ctx, c); err != nil {
				return err
			}
		}
		if err := uc.resourceRepo.DeleteResource(ctx, res.ID); err != nil {
			return err
		}
	}
	user.Rate = decimal.Zero
	user.SetStatus(constants.UserStatusFreeze, reason)
	uc.metrics.FreezeTotal.Inc()
	uc.sendNotify(ctx, constants.NotifyEventUserFreeze, user)
	return nil
}

// runwayAboveNotifyWindow 按当前余额与费率判断预计耗尽时间是否
// 仍在提醒窗口之外
func (uc *UserUseCase) runwayAboveNotifyWindow(user *User) bool {
	runway, ok := user.Runway()
	if !ok {
		return true
	}
	return runway.GreaterThan(uc.conf.NotifyWindow)
}

func (uc *UserUseCase) recordEvent(ctx context.Context, userID, action string, amount decimal.Decimal) {
	if err := uc.eventRepo.CreateEvent(ctx, &Event{
		UserID: userID,
		Action: action,
		Amount: amount,
	}); err != nil {
		// 事件是审计旁路，失败不阻断结算
		uc.log.Warnf("Failed to record %s event for user %s: %v", action, userID, err)
	}
}

func (uc *UserUseCase) sendNotify(ctx context.Context, eventType string, user *User) {
	payload := map[string]interface{}{
		"user_id": user.ID,
		"balance": money.Display(user.Balance),
		"rate":    money.Format(user.Rate),
		"status":  user.Status,
		"reason":  user.StatusReason,
	}
	if err := uc.notifier.Notify(ctx, eventType, payload); err != nil {
		uc.metrics.NotifyTotal.WithLabelValues(eventType, "failed").Inc()
		uc.log.Warnf("Failed to send %s for user %s: %v", eventType, user.ID, err)
		return
	}
	uc.metrics.NotifyTotal.WithLabelValues(eventType, "success").Inc()
}
