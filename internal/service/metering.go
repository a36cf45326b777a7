package service

import (
	"context"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/constants"
	meteringErrors "metering-service/internal/errors"
	"metering-service/internal/pkg/money"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// UserReply 账户信息
type UserReply struct {
	UserID       string `json:"user_id"`
	Balance      string `json:"balance"`
	Rate         string `json:"rate"`
	Credit       int64  `json:"credit"`
	Status       string `json:"status"`
	StatusReason string `json:"status_reason"`
}

// ActionReply action 信息
type ActionReply struct {
	ActionID string `json:"action_id"`
	Name     string `json:"name"`
	Target   string `json:"target"`
	Status   string `json:"status"`
	Reason   string `json:"reason"`
}

// ResourceReply 计费资源信息
type ResourceReply struct {
	ResourceID   string                 `json:"resource_id"`
	UserID       string                 `json:"user_id"`
	ResourceType string                 `json:"resource_type"`
	Rate         string                 `json:"rate"`
	Properties   map[string]interface{} `json:"properties"`
}

// ConsumptionReply 消费记录
type ConsumptionReply struct {
	ResourceID   string    `json:"resource_id"`
	ResourceType string    `json:"resource_type"`
	Rate         string    `json:"rate"`
	StartAt      time.Time `json:"start_at"`
	EndAt        time.Time `json:"end_at"`
	Cost         string    `json:"cost"`
}

// RechargeReply 充值记录
type RechargeReply struct {
	Value     string    `json:"value"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// EventReply 流水事件
type EventReply struct {
	Action    string    `json:"action"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// MeteringService 计量计费服务门面
// 读操作直接走 UseCase，写操作统一投递 action 由引擎在用户锁下执行。
// 充值是唯一的同步写：在本调用里抢锁完成。
type MeteringService struct {
	userUC   *biz.UserUseCase
	recordUC *biz.RecordUseCase
	actionUC *biz.ActionUseCase
	jobUC    *biz.JobUseCase
	lockUC   *biz.LockUseCase
	log      *log.Helper
}

// NewMeteringService 创建 MeteringService
func NewMeteringService(
	userUC *biz.UserUseCase,
	recordUC *biz.RecordUseCase,
	actionUC *biz.ActionUseCase,
	jobUC *biz.JobUseCase,
	lockUC *biz.LockUseCase,
	logger log.Logger,
) *MeteringService {
	return &MeteringService{
		userUC:   userUC,
		recordUC: recordUC,
		actionUC: actionUC,
		jobUC:    jobUC,
		lockUC:   lockUC,
		log:      log.NewHelper(logger),
	}
}

func toUserReply(u *biz.User) *UserReply {
	return &UserReply{
		UserID:       u.ID,
		Balance:      money.Display(u.Balance),
		Rate:         money.Format(u.Rate),
		Credit:       u.Credit,
		Status:       u.Status,
		StatusReason: u.StatusReason,
	}
}

// GetUser 获取账户（实时余额投影）
func (s *MeteringService) GetUser(ctx context.Context, userID string) (*UserReply, error) {
	user, err := s.userUC.GetUserRealtime(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toUserReply(user), nil
}

// ListUsers 获取全部账户
func (s *MeteringService) ListUsers(ctx context.Context) ([]*UserReply, error) {
	users, err := s.userUC.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*UserReply, 0, len(users))
	for _, u := range users {
		out = append(out, toUserReply(u))
	}
	return out, nil
}

// Recharge 充值。同步执行，但和引擎的结算一样要抢用户锁。
func (s *MeteringService) Recharge(ctx context.Context, userID, value, rechargeType string) (*UserReply, error) {
	amount, err := money.Parse(value)
	if err != nil {
		return nil, pkgErrors.WrapErrorWithLang(ctx, err, meteringErrors.ErrCodeInvalidDecimal)
	}

	token := uuid.NewString()
	if err := s.lockUC.Acquire(ctx, userID, token, false); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.lockUC.Release(ctx, userID, token); err != nil {
			s.log.Errorf("Failed to release recharge lock on user %s: %v", userID, err)
		}
	}()

	user, err := s.userUC.Recharge(ctx, userID, amount, rechargeType)
	if err != nil {
		return nil, err
	}
	if err := s.jobUC.UpdateJobs(ctx, user); err != nil {
		s.log.Warnf("Failed to update jobs after recharge for user %s: %v", userID, err)
	}
	return toUserReply(user), nil
}

// DeleteUser 删除账户并清理其调度任务
func (s *MeteringService) DeleteUser(ctx context.Context, userID string) error {
	if err := s.userUC.DeleteUser(ctx, userID); err != nil {
		return err
	}
	return s.jobUC.DeleteJobs(ctx, userID)
}

// CreateResource 投递资源创建 action
func (s *MeteringService) CreateResource(ctx context.Context, userID, resourceID, resourceType string, properties map[string]interface{}, eventTime time.Time) (*ActionReply, error) {
	inputs := map[string]interface{}{
		"resource_id":   resourceID,
		"resource_type": resourceType,
		"properties":    properties,
	}
	if !eventTime.IsZero() {
		inputs["event_time"] = money.TimeToDecimal(eventTime).String()
	}
	return s.enqueue(ctx, constants.ActionCreateResource, userID, inputs)
}

// UpdateResource 投递资源变更 action
func (s *MeteringService) UpdateResource(ctx context.Context, userID, resourceID string, properties map[string]interface{}, eventTime time.Time) (*ActionReply, error) {
	inputs := map[string]interface{}{
		"resource_id": resourceID,
		"properties":  properties,
	}
	if !eventTime.IsZero() {
		inputs["event_time"] = money.TimeToDecimal(eventTime).String()
	}
	return s.enqueue(ctx, constants.ActionUpdateResource, userID, inputs)
}

// DeleteResource 投递资源删除 action
func (s *MeteringService) DeleteResource(ctx context.Context, userID, resourceID string, eventTime time.Time) (*ActionReply, error) {
	inputs := map[string]interface{}{
		"resource_id": resourceID,
	}
	if !eventTime.IsZero() {
		inputs["event_time"] = money.TimeToDecimal(eventTime).String()
	}
	return s.enqueue(ctx, constants.ActionDeleteResource, userID, inputs)
}

// GetResource 查询计费资源
func (s *MeteringService) GetResource(ctx context.Context, resourceID string) (*ResourceReply, error) {
	resource, err := s.userUC.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	return toResourceReply(resource), nil
}

// ListResources 列出用户的计费资源
func (s *MeteringService) ListResources(ctx context.Context, userID string) ([]*ResourceReply, error) {
	resources, err := s.userUC.ListResources(ctx, userID)
	if err != nil {
		return nil, err
	}
	replies := make([]*ResourceReply, 0, len(resources))
	for _, r := range resources {
		replies = append(replies, toResourceReply(r))
	}
	return replies, nil
}

func toResourceReply(r *biz.Resource) *ResourceReply {
	return &ResourceReply{
		ResourceID:   r.ID,
		UserID:       r.UserID,
		ResourceType: r.ResourceType,
		Rate:         money.Format(r.Rate),
		Properties:   r.Properties,
	}
}

// SettleAccount 投递账户结算 action
func (s *MeteringService) SettleAccount(ctx context.Context, userID, task string) (*ActionReply, error) {
	return s.enqueue(ctx, constants.ActionSettleAccount, userID,
		map[string]interface{}{"task": task})
}

func (s *MeteringService) enqueue(ctx context.Context, name, target string, inputs map[string]interface{}) (*ActionReply, error) {
	action, err := s.actionUC.Enqueue(ctx, name, target, inputs)
	if err != nil {
		s.log.Errorf("Enqueue %s for user %s failed: %v", name, target, err)
		return nil, err
	}
	return toActionReply(action), nil
}

func toActionReply(a *biz.Action) *ActionReply {
	return &ActionReply{
		ActionID: a.ID,
		Name:     a.Name,
		Target:   a.Target,
		Status:   a.Status,
		Reason:   a.Reason,
	}
}

// GetAction 查询 action 状态
func (s *MeteringService) GetAction(ctx context.Context, actionID string) (*ActionReply, error) {
	action, err := s.actionUC.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	return toActionReply(action), nil
}

// SignalAction 向 action 发送控制信号（CANCEL/SUSPEND/RESUME）
func (s *MeteringService) SignalAction(ctx context.Context, actionID, signal string) error {
	return s.actionUC.Signal(ctx, actionID, signal)
}

// ListActions 查询用户的 action 历史
func (s *MeteringService) ListActions(ctx context.Context, userID string, limit int) ([]*ActionReply, error) {
	actions, err := s.actionUC.ListActionsByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*ActionReply, 0, len(actions))
	for _, a := range actions {
		out = append(out, toActionReply(a))
	}
	return out, nil
}

// ListConsumptions 查询消费记录
func (s *MeteringService) ListConsumptions(ctx context.Context, userID string, limit int) ([]*ConsumptionReply, error) {
	records, err := s.recordUC.ListConsumptions(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*ConsumptionReply, 0, len(records))
	for _, c := range records {
		out = append(out, &ConsumptionReply{
			ResourceID:   c.ResourceID,
			ResourceType: c.ResourceType,
			Rate:         money.Format(c.Rate),
			StartAt:      c.StartAt,
			EndAt:        c.EndAt,
			Cost:         money.Display(c.Cost),
		})
	}
	return out, nil
}

// ListRecharges 查询充值记录
func (s *MeteringService) ListRecharges(ctx context.Context, userID string, limit int) ([]*RechargeReply, error) {
	records, err := s.recordUC.ListRecharges(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*RechargeReply, 0, len(records))
	for _, r := range records {
		out = append(out, &RechargeReply{
			Value:     money.Display(r.Value),
			Type:      r.Type,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// ListEvents 查询流水事件
func (s *MeteringService) ListEvents(ctx context.Context, userID string, limit int) ([]*EventReply, error) {
	events, err := s.recordUC.ListEvents(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*EventReply, 0, len(events))
	for _, e := range events {
		out = append(out, &EventReply{
			Action:    e.Action,
			Amount:    money.Display(e.Amount),
			CreatedAt: e.CreatedAt,
		})
	}
	return out, nil
}
