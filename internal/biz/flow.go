package biz

import (
	"context"

	"metering-service/internal/constants"
	"metering-service/internal/pkg/money"

	"github.com/shopspring/decimal"
)

// flowStep 编排流中的一步。execute 失败或流被取消时，已完成步骤的
// revert 按逆序执行。
type flowStep struct {
	name    string
	execute func(ctx context.Context) error
	revert  func(ctx context.Context)
}

// runFlow 顺序执行步骤流，步骤之间检查超时与控制信号。
// 任何失败都会触发已完成步骤的逆序补偿。
func (uc *ActionUseCase) runFlow(ctx context.Context, action *Action, steps []flowStep) (string, string) {
	var done []flowStep
	for _, step := range steps {
		if result, reason := uc.checkpoint(ctx, action); result != resultOK {
			uc.revertFlow(ctx, action, done)
			return result, reason
		}
		if err := step.execute(ctx); err != nil {
			uc.log.Errorf("Action %s step %s failed: %v", action.ID, step.name, err)
			uc.revertFlow(ctx, action, done)
			return resultError, "Step " + step.name + " failed: " + err.Error()
		}
		done = append(done, step)
	}
	return resultOK, ""
}

func (uc *ActionUseCase) revertFlow(ctx context.Context, action *Action, done []flowStep) {
	for i := len(done) - 1; i >= 0; i-- {
		if done[i].revert == nil {
			continue
		}
		uc.log.Infof("Action %s reverting step %s", action.ID, done[i].name)
		done[i].revert(ctx)
	}
}

// eventTime 事件时间输入，缺省为当前时间
func (uc *ActionUseCase) eventTime(action *Action) decimal.Decimal {
	if t, ok := decimalInput(action.Inputs, "event_time"); ok {
		return t
	}
	return money.TimeToDecimal(uc.nowFunc())
}

// doCreateResource 创建计费资源：定价、落资源行、结算并上调账户费率
func (uc *ActionUseCase) doCreateResource(ctx context.Context, action *Action) (string, string) {
	resourceID := stringInput(action.Inputs, "resource_id")
	resourceType := stringInput(action.Inputs, "resource_type")
	properties, _ := action.Inputs["properties"].(map[string]interface{})
	if resourceID == "" || resourceType == "" {
		return resultError, "Missing resource_id or resource_type"
	}

	existing, err := uc.resourceRepo.GetResource(ctx, resourceID)
	if err != nil {
		return resultError, err.Error()
	}
	if existing != nil {
		// 重复投递的创建事件，幂等处理
		return resultOK, ""
	}

	now := money.TimeToDecimal(uc.nowFunc())
	eventTime := uc.eventTime(action)
	resource := &Resource{
		ID:           resourceID,
		UserID:       action.Target,
		ResourceType: resourceType,
		Properties:   properties,
		LastBill:     now,
	}

	rate, err := uc.registry.Price(ctx, resource)
	if err != nil {
		return resultError, "Pricing failed: " + err.Error()
	}
	resource.Rate = rate
	delayedCost := resource.DelayedCost(rate, eventTime, now, uc.conf.AllowedDelay)

	var user *User
	var userBak *User
	steps := []flowStep{
		{
			name: "create_resource",
			execute: func(ctx context.Context) error {
				return uc.resourceRepo.SaveResource(ctx, resource)
			},
			revert: func(ctx context.Context) {
				if err := uc.resourceRepo.DeleteResource(ctx, resourceID); err != nil {
					uc.log.Errorf("Revert create of resource %s failed: %v", resourceID, err)
				}
			},
		},
		{
			name: "settle_and_raise_rate",
			execute: func(ctx context.Context) error {
				var err error
				user, err = uc.userUC.GetUser(ctx, action.Target)
				if err != nil {
					return err
				}
				userBak = user.Snapshot()
				return uc.userUC.ApplyRateDelta(ctx, user, rate, delayedCost)
			},
			revert: func(ctx context.Context) {
				uc.restoreUser(ctx, userBak)
			},
		},
	}
	result, reason := uc.runFlow(ctx, action, steps)
	if result == resultOK {
		uc.refreshJobs(ctx, user, true)
	}
	return result, reason
}

// doUpdateResource 变更计费资源：按旧费率落消费记录、改写资源、
// 结算并应用费率差
func (uc *ActionUseCase) doUpdateResource(ctx context.Context, action *Action) (string, string) {
	resourceID := stringInput(action.Inputs, "resource_id")
	newProps, _ := action.Inputs["properties"].(map[string]interface{})
	if resourceID == "" {
		return resultError, "Missing resource_id"
	}

	now := money.TimeToDecimal(uc.nowFunc())
	eventTime := uc.eventTime(action)

	resource, err := uc.resourceRepo.GetResource(ctx, resourceID)
	if err != nil {
		return resultError, err.Error()
	}
	if resource == nil {
		return resultError, "Resource " + resourceID + " not found"
	}
	resourceBak := resource.Snapshot()
	oldRate := resource.Rate

	repriced := resource.Snapshot()
	repriced.Properties = newProps
	newRate, err := uc.registry.Price(ctx, repriced)
	if err != nil {
		return resultError, "Pricing failed: " + err.Error()
	}
	delta := newRate.Sub(oldRate)
	delayedCost := resource.DelayedCost(delta, eventTime, now, uc.conf.AllowedDelay)

	var consumption *Consumption
	var user *User
	var userBak *User
	steps := []flowStep{
		{
			name: "record_consumption",
			execute: func(ctx context.Context) error {
				// 旧费率计费到事件时间为止
				consumption = resourceBak.ConsumptionFor(oldRate, eventTime)
				if consumption == nil {
					return nil
				}
				return uc.consumptionRepo.CreateConsumption(ctx, consumption)
			},
			revert: func(ctx context.Context) {
				if consumption == nil {
					return
				}
				if err := uc.consumptionRepo.DeleteConsumption(ctx, consumption.ID); err != nil {
					uc.log.Errorf("Revert consumption %d failed: %v", consumption.ID, err)
				}
			},
		},
		{
			name: "update_resource",
			execute: func(ctx context.Context) error {
				resource.Properties = newProps
				resource.Rate = newRate
				resource.LastBill = eventTime
				return uc.resourceRepo.SaveResource(ctx, resource)
			},
			revert: func(ctx context.Context) {
				if err := uc.resourceRepo.SaveResource(ctx, resourceBak); err != nil {
					uc.log.Errorf("Revert update of resource %s failed: %v", resourceID, err)
				}
			},
		},
		{
			name: "settle_and_apply_delta",
			execute: func(ctx context.Context) error {
				var err error
				user, err = uc.userUC.GetUser(ctx, action.Target)
				if err != nil {
					return err
				}
				userBak = user.Snapshot()
				return uc.userUC.ApplyRateDelta(ctx, user, delta, delayedCost)
			},
			revert: func(ctx context.Context) {
				uc.restoreUser(ctx, userBak)
			},
		},
	}
	result, reason := uc.runFlow(ctx, action, steps)
	if result == resultOK {
		uc.refreshJobs(ctx, user, false)
	}
	return result, reason
}

// doDeleteResource 删除计费资源：按当前费率落最终消费记录、删行、
// 结算并下调账户费率
func (uc *ActionUseCase) doDeleteResource(ctx context.Context, action *Action) (string, string) {
	resourceID := stringInput(action.Inputs, "resource_id")
	if resourceID == "" {
		return resultError, "Missing resource_id"
	}

	now := money.TimeToDecimal(uc.nowFunc())
	eventTime := uc.eventTime(action)

	resource, err := uc.resourceRepo.GetResource(ctx, resourceID)
	if err != nil {
		return resultError, err.Error()
	}
	if resource == nil {
		// 重复投递的删除事件，幂等处理
		return resultOK, ""
	}
	resourceBak := resource.Snapshot()
	// 删除事件迟到时，多扣的这段按负增量返还
	delayedCost := resource.DelayedCost(resource.Rate.Neg(), eventTime, now, uc.conf.AllowedDelay)

	var consumption *Consumption
	var user *User
	var userBak *User
	steps := []flowStep{
		{
			name: "record_final_consumption",
			execute: func(ctx context.Context) error {
				consumption = resourceBak.ConsumptionFor(resourceBak.Rate, eventTime)
				if consumption == nil {
					return nil
				}
				return uc.consumptionRepo.CreateConsumption(ctx, consumption)
			},
			revert: func(ctx context.Context) {
				if consumption == nil {
					return
				}
				if err := uc.consumptionRepo.DeleteConsumption(ctx, consumption.ID); err != nil {
					uc.log.Errorf("Revert consumption %d failed: %v", consumption.ID, err)
				}
			},
		},
		{
			name: "delete_resource",
			execute: func(ctx context.Context) error {
				return uc.resourceRepo.DeleteResource(ctx, resourceID)
			},
			revert: func(ctx context.Context) {
				if err := uc.resourceRepo.SaveResource(ctx, resourceBak); err != nil {
					uc.log.Errorf("Revert delete of resource %s failed: %v", resourceID, err)
				}
			},
		},
		{
			name: "settle_and_drop_rate",
			execute: func(ctx context.Context) error {
				var err error
				user, err = uc.userUC.GetUser(ctx, action.Target)
				if err != nil {
					return err
				}
				userBak = user.Snapshot()
				return uc.userUC.ApplyRateDelta(ctx, user, resourceBak.Rate.Neg(), delayedCost)
			},
			revert: func(ctx context.Context) {
				uc.restoreUser(ctx, userBak)
			},
		},
	}
	result, reason := uc.runFlow(ctx, action, steps)
	if result == resultOK {
		uc.refreshJobs(ctx, user, false)
	}
	return result, reason
}

// doSettleAccount 定时结算：按任务类型结算账户并重建调度投影。
// 结算是权威落账，没有补偿步骤。
func (uc *ActionUseCase) doSettleAccount(ctx context.Context, action *Action) (string, string) {
	task := stringInput(action.Inputs, "task")
	if task == "" {
		task = constants.SettleTaskDaily
	}

	var user *User
	steps := []flowStep{
		{
			name: "settle_account",
			execute: func(ctx context.Context) error {
				var err error
				user, err = uc.userUC.SettleAccount(ctx, action.Target, task)
				return err
			},
		},
	}
	result, reason := uc.runFlow(ctx, action, steps)
	if result == resultOK {
		uc.refreshJobs(ctx, user, false)
	}
	return result, reason
}

// restoreUser 补偿回滚账户快照
func (uc *ActionUseCase) restoreUser(ctx context.Context, userBak *User) {
	if userBak == nil {
		return
	}
	if err := uc.userUC.repo.SaveUser(ctx, userBak); err != nil {
		uc.log.Errorf("Revert user %s failed: %v", userBak.ID, err)
	}
}

// refreshJobs 流程成功后重建调度投影。任务投影可由下次结算自愈，
// 失败只告警不回滚整个流程。
func (uc *ActionUseCase) refreshJobs(ctx context.Context, user *User, ensureDaily bool) {
	if user == nil {
		return
	}
	if err := uc.jobUC.UpdateJobs(ctx, user); err != nil {
		uc.log.Warnf("Failed to update jobs for user %s: %v", user.ID, err)
	}
	if ensureDaily {
		if err := uc.jobUC.EnsureDailyJob(ctx, user.ID); err != nil {
			uc.log.Warnf("Failed to ensure daily job for user %s: %v", user.ID, err)
		}
	}
}
