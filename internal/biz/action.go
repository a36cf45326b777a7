package biz

import (
	"context"
	"time"

	"metering-service/internal/constants"
	meteringErrors "metering-service/internal/errors"
	"metering-service/internal/metrics"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action 一次账户操作：在用户锁保护下执行的编排单元。
// Target 是用户ID，Owner 是认领该 action 的引擎。
type Action struct {
	ID        string
	Name      string
	Target    string
	Inputs    map[string]interface{}
	Status    string
	Owner     string
	Signal    string
	Reason    string
	StartedAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Timeout 判断 action 是否超时
func (a *Action) Timeout(now time.Time, limit time.Duration) bool {
	return !a.StartedAt.IsZero() && now.Sub(a.StartedAt) > limit
}

// ActionRepo action 数据层接口
type ActionRepo interface {
	CreateAction(ctx context.Context, action *Action) error
	// GetAction 不存在时返回 (nil, nil)
	GetAction(ctx context.Context, actionID string) (*Action, error)
	// ClaimReadyActions 原子地把至多 limit 条 READY action 置为
	// RUNNING 并标记 owner/started_at，返回被认领的 action
	ClaimReadyActions(ctx context.Context, engineID string, limit int) ([]*Action, error)
	// MarkDone 置为终态（SUCCEEDED/FAILED/CANCELLED）
	MarkDone(ctx context.Context, actionID, status, reason string) error
	// Abandon 把 RUNNING action 放回 READY（清空 owner），供重试
	Abandon(ctx context.Context, actionID string) error
	SetSignal(ctx context.Context, actionID, signal string) error
	GetSignal(ctx context.Context, actionID string) (string, error)
	ListActionsByUser(ctx context.Context, userID string, limit int) ([]*Action, error)
}

// 流程内部执行结果
const (
	resultOK      = "OK"
	resultError   = "ERROR"
	resultRetry   = "RETRY"
	resultCancel  = "CANCEL"
	resultTimeout = "TIMEOUT"
)

// ActionUseCase action 编排逻辑
// 引擎认领 READY action 后交给 Process 执行：获取用户锁、按类型
// 展开步骤流、失败时逆序补偿、最后落终态并释放锁。
type ActionUseCase struct {
	repo            ActionRepo
	lock            *LockUseCase
	userUC          *UserUseCase
	jobUC           *JobUseCase
	resourceRepo    ResourceRepo
	consumptionRepo ConsumptionRepo
	registry        *RuleRegistry
	conf            *MeteringConfig
	log             *log.Helper
	metrics         *metrics.MeteringMetrics

	nowFunc func() time.Time
	// signalPollInterval SUSPEND 状态下轮询信号的间隔
	signalPollInterval time.Duration
}

// NewActionUseCase 创建 action UseCase
func NewActionUseCase(
	repo ActionRepo,
	lock *LockUseCase,
	userUC *UserUseCase,
	jobUC *JobUseCase,
	resourceRepo ResourceRepo,
	consumptionRepo ConsumptionRepo,
	registry *RuleRegistry,
	conf *MeteringConfig,
	logger log.Logger,
) *ActionUseCase {
	return &ActionUseCase{
		repo:               repo,
		lock:               lock,
		userUC:             userUC,
		jobUC:              jobUC,
		resourceRepo:       resourceRepo,
		consumptionRepo:    consumptionRepo,
		registry:           registry,
		conf:               conf,
		log:                log.NewHelper(logger),
		metrics:            metrics.GetMetrics(),
		nowFunc:            time.Now,
		signalPollInterval: time.Second,
	}
}

// Enqueue 创建一个 READY 状态的 action，等待引擎认领
func (uc *ActionUseCase) Enqueue(ctx context.Context, name, target string, inputs map[string]interface{}) (*Action, error) {
	action := &Action{
		ID:     uuid.NewString(),
		Name:   name,
		Target: target,
		Inputs: inputs,
		Status: constants.ActionStatusReady,
	}
	if err := uc.repo.CreateAction(ctx, action); err != nil {
		return nil, err
	}
	return action, nil
}

// GetAction 查询 action，不存在返回 NotFound
func (uc *ActionUseCase) GetAction(ctx context.Context, actionID string) (*Action, error) {
	action, err := uc.repo.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, meteringErrors.ErrCodeActionNotFound)
	}
	return action, nil
}

// ListActionsByUser 查询用户的 action 历史
func (uc *ActionUseCase) ListActionsByUser(ctx context.Context, userID string, limit int) ([]*Action, error) {
	return uc.repo.ListActionsByUser(ctx, userID, limit)
}

// ClaimReady 为引擎认领待执行 action
func (uc *ActionUseCase) ClaimReady(ctx context.Context, engineID string, limit int) ([]*Action, error) {
	return uc.repo.ClaimReadyActions(ctx, engineID, limit)
}

// Signal 向 action 发送控制信号
func (uc *ActionUseCase) Signal(ctx context.Context, actionID, signal string) error {
	switch signal {
	case constants.SignalCancel, constants.SignalSuspend, constants.SignalResume:
	default:
		return pkgErrors.NewBizErrorWithLang(ctx, meteringErrors.ErrCodeActionNotFound)
	}
	action, err := uc.GetAction(ctx, actionID)
	if err != nil {
		return err
	}
	return uc.repo.SetSignal(ctx, action.ID, signal)
}

// Process 执行已认领的 action，结束后落终态并释放用户锁。
// 引擎 worker goroutine 调用。
func (uc *ActionUseCase) Process(ctx context.Context, action *Action) {
	start := uc.nowFunc()
	if action.StartedAt.IsZero() {
		action.StartedAt = start
	}

	// 取消流程有权抢占锁，避免被卡死的流程阻塞取消
	forced := action.Signal == constants.SignalCancel
	if err := uc.lock.Acquire(ctx, action.Target, action.ID, forced); err != nil {
		uc.log.Warnf("Action %s failed to lock user %s: %v", action.ID, action.Target, err)
		uc.finish(ctx, action, resultRetry, "Lock busy")
		return
	}

	result, reason := uc.execute(ctx, action)

	if err := uc.lock.Release(ctx, action.Target, action.ID); err != nil {
		// 锁被抢占意味着本 action 已被判死，结果不再可信
		uc.log.Errorf("Action %s lost lock on user %s: %v", action.ID, action.Target, err)
		uc.metrics.ActionTotal.WithLabelValues(action.Name, "lock_lost").Inc()
		return
	}

	uc.finish(ctx, action, result, reason)
	uc.metrics.ActionDuration.WithLabelValues(action.Name).Observe(uc.nowFunc().Sub(start).Seconds())
}

func (uc *ActionUseCase) execute(ctx context.Context, action *Action) (string, string) {
	switch action.Name {
	case constants.ActionCreateResource:
		return uc.doCreateResource(ctx, action)
	case constants.ActionUpdateResource:
		return uc.doUpdateResource(ctx, action)
	case constants.ActionDeleteResource:
		return uc.doDeleteResource(ctx, action)
	case constants.ActionSettleAccount:
		return uc.doSettleAccount(ctx, action)
	default:
		return resultError, "Unknown action " + action.Name
	}
}

// finish 把执行结果映射为终态。RETRY 不落终态，action 放回 READY
// 由其他引擎重新认领。
func (uc *ActionUseCase) finish(ctx context.Context, action *Action, result, reason string) {
	var status string
	switch result {
	case resultOK:
		status = constants.ActionStatusSucceeded
	case resultCancel:
		status = constants.ActionStatusCancelled
	case resultRetry:
		if err := uc.repo.Abandon(ctx, action.ID); err != nil {
			uc.log.Errorf("Failed to abandon action %s: %v", action.ID, err)
		}
		uc.metrics.ActionTotal.WithLabelValues(action.Name, "retry").Inc()
		return
	case resultTimeout:
		status = constants.ActionStatusFailed
		if reason == "" {
			reason = "Action timeout"
		}
	default:
		status = constants.ActionStatusFailed
	}
	if err := uc.repo.MarkDone(ctx, action.ID, status, reason); err != nil {
		uc.log.Errorf("Failed to finish action %s as %s: %v", action.ID, status, err)
		return
	}
	action.Status = status
	action.Reason = reason
	uc.metrics.ActionTotal.WithLabelValues(action.Name, status).Inc()
}

// checkpoint 在步骤之间检查超时与控制信号。SUSPEND 会在此悬停，
// 直到收到 RESUME/CANCEL 或超时。
func (uc *ActionUseCase) checkpoint(ctx context.Context, action *Action) (string, string) {
	for {
		if action.Timeout(uc.nowFunc(), uc.conf.ActionTimeout) {
			uc.metrics.ActionTotal.WithLabelValues(action.Name, "timeout").Inc()
			return resultTimeout, "Action timeout"
		}
		signal, err := uc.repo.GetSignal(ctx, action.ID)
		if err != nil {
			return resultError, err.Error()
		}
		switch signal {
		case constants.SignalCancel:
			return resultCancel, "Cancelled by signal"
		case constants.SignalSuspend:
			uc.log.Infof("Action %s suspended, waiting for resume", action.ID)
			select {
			case <-ctx.Done():
				return resultError, ctx.Err().Error()
			case <-time.After(uc.signalPollInterval):
			}
			continue
		}
		return resultOK, ""
	}
}

// decimalInput 从 inputs 取十进制字段
func decimalInput(inputs map[string]interface{}, key string) (decimal.Decimal, bool) {
	switch v := inputs[key].(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	default:
		return decimal.Zero, false
	}
}

func stringInput(inputs map[string]interface{}, key string) string {
	s, _ := inputs[key].(string)
	return s
}
