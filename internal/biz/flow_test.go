package biz

import (
	"context"
	"testing"
	"time"

	"metering-service/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runAction 投递并以测试引擎身份执行一个 action，返回终态
func (e *testEnv) runAction(t *testing.T, name, target string, inputs map[string]interface{}) *Action {
	t.Helper()
	ctx := context.Background()
	action, err := e.actionUC.Enqueue(ctx, name, target, inputs)
	require.NoError(t, err)

	claimed, err := e.actions.ClaimReadyActions(ctx, "engine-test", 10)
	require.NoError(t, err)
	var mine *Action
	for _, a := range claimed {
		if a.ID == action.ID {
			mine = a
		}
	}
	require.NotNil(t, mine)
	mine.StartedAt = e.now

	e.actionUC.Process(ctx, mine)

	final, err := e.actions.GetAction(ctx, action.ID)
	require.NoError(t, err)
	require.NotNil(t, final)
	return final
}

func TestCreateResourceAction(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addUser(t, &User{
		ID:      "u1",
		Balance: dec("1000"),
		Status:  constants.UserStatusFree,
	})

	final := e.runAction(t, constants.ActionCreateResource, "u1", map[string]interface{}{
		"resource_id":   "r1",
		"resource_type": "instance",
		"properties":    map[string]interface{}{"flavor": "one"},
	})

	assert.Equal(t, constants.ActionStatusSucceeded, final.Status)

	res, err := e.resources.GetResource(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Rate.Equal(dec("1")))

	user := e.getUser(t, "u1")
	assert.Equal(t, constants.UserStatusActive, user.Status)
	assert.True(t, user.Rate.Equal(dec("1")))
	assert.True(t, user.Balance.Equal(dec("1000")))

	// 锁已释放，调度投影已重建
	assert.Empty(t, e.locks.locks)
	notify := e.jobs.get(JobID(constants.JobTypeNotify, "u1"))
	require.NotNil(t, notify)
	assert.Equal(t, e.now.Add(400*time.Second).Unix(), notify.RunAt.Unix())
	assert.NotNil(t, e.jobs.get(JobID(constants.JobTypeDaily, "u1")))
}

func TestCreateResourceActionDelayCompensation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addUser(t, &User{
		ID:      "u1",
		Balance: dec("1000"),
		Status:  constants.UserStatusFree,
	})

	// 创建事件比处理时刻早 100 秒，超出 10 秒的允许延迟
	eventTime := e.nowDecimal().Sub(dec("100"))
	final := e.runAction(t, constants.ActionCreateResource, "u1", map[string]interface{}{
		"resource_id":   "r1",
		"resource_type": "instance",
		"properties":    map[string]interface{}{"flavor": "one"},
		"event_time":    eventTime.String(),
	})

	require.Equal(t, constants.ActionStatusSucceeded, final.Status)

	user := e.getUser(t, "u1")
	assert.True(t, user.Balance.Equal(dec("900")), "balance = %s", user.Balance)

	res, err := e.resources.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, res.LastBill.Equal(eventTime))
}

func TestUpdateResourceActionMidLife(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addUser(t, &User{
		ID:      "u1",
		Balance: dec("36000"),
		Rate:    dec("2"),
		Status:  constants.UserStatusActive,
	})
	e.addResource(t, &Resource{
		ID:           "r1",
		UserID:       "u1",
		ResourceType: "instance",
		Rate:         dec("2"),
		Properties:   map[string]interface{}{"flavor": "two"},
	})

	// 1 小时后升配：旧费率 2 结算到变更时刻，新费率 5 从此生效
	e.advance(time.Hour)
	final := e.runAction(t, constants.ActionUpdateResource, "u1", map[string]interface{}{
		"resource_id": "r1",
		"properties":  map[string]interface{}{"flavor": "five"},
	})

	require.Equal(t, constants.ActionStatusSucceeded, final.Status)

	consumptions, err := e.consumptions.ListConsumptionsByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, consumptions, 1)
	assert.True(t, consumptions[0].Rate.Equal(dec("2")))
	assert.True(t, consumptions[0].Cost.Equal(dec("7200")), "cost = %s", consumptions[0].Cost)

	user := e.getUser(t, "u1")
	assert.True(t, user.Rate.Equal(dec("5")))
	assert.True(t, user.Balance.Equal(dec("28800")))

	res, err := e.resources.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, res.Rate.Equal(dec("5")))
	assert.True(t, res.LastBill.Equal(e.nowDecimal()))
}

func TestDeleteResourceAction(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addUser(t, &User{
		ID:      "u1",
		Balance: dec("1000"),
		Rate:    dec("1"),
		Status:  constants.UserStatusActive,
	})
	e.addResource(t, &Resource{
		ID:           "r1",
		UserID:       "u1",
		ResourceType: "instance",
		Rate:         dec("1"),
		Properties:   map[string]interface{}{"flavor": "one"},
	})

	e.advance(100 * time.Second)
	final := e.runAction(t, constants.ActionDeleteResource, "u1", map[string]interface{}{
		"resource_id": "r1",
	})

	require.Equal(t, constants.ActionStatusSucceeded, final.Status)

	res, err := e.resources.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, res)

	consumptions, err := e.consumptions.ListConsumptionsByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, consumptions, 1)
	assert.True(t, consumptions[0].Cost.Equal(dec("100")))

	user := e.getUser(t, "u1")
	assert.Equal(t, constants.UserStatusFree, user.Status)
	assert.True(t, user.Rate.IsZero())
	assert.True(t, user.Balance.Equal(dec("900")))

	// 闲置账户不再需要一次性任务
	assert.Nil(t, e.jobs.get(JobID(constants.JobTypeNotify, "u1")))
	assert.Nil(t, e.jobs.get(JobID(constants.JobTypeFreeze, "u1")))
}

func TestDeleteResourceActionIdempotent(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, &User{ID: "u1", Status: constants.UserStatusFree})

	final := e.runAction(t, constants.ActionDeleteResource, "u1", map[string]interface{}{
		"resource_id": "gone",
	})
	assert.Equal(t, constants.ActionStatusSucceeded, final.Status)
}

func TestCreateResourceActionRollback(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// 账户不存在：资源创建步骤完成后结算步骤失败，资源被补偿删除
	final := e.runAction(t, constants.ActionCreateResource, "ghost", map[string]interface{}{
		"resource_id":   "r1",
		"resource_type": "instance",
		"properties":    map[string]interface{}{"flavor": "one"},
	})

	assert.Equal(t, constants.ActionStatusFailed, final.Status)
	res, err := e.resources.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, e.locks.locks)
}

func TestUpdateResourceActionRollback(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addUser(t, &User{
		ID:      "u1",
		Balance: dec("1000"),
		Rate:    dec("2"),
		Status:  constants.UserStatusActive,
	})
	e.addResource(t, &Resource{
		ID:           "r1",
		UserID:       "u1",
		ResourceType: "instance",
		Rate:         dec("2"),
		Properties:   map[string]interface{}{"flavor": "two"},
	})
	before, err := e.resources.GetResource(ctx, "r1")
	require.NoError(t, err)

	// 结算步骤落库失败，消费记录与资源行都要回滚
	e.advance(time.Hour)
	e.users.saveErr = assert.AnError
	final := e.runAction(t, constants.ActionUpdateResource, "u1", map[string]interface{}{
		"resource_id": "r1",
		"properties":  map[string]interface{}{"flavor": "five"},
	})
	e.users.saveErr = nil

	assert.Equal(t, constants.ActionStatusFailed, final.Status)

	consumptions, err := e.consumptions.ListConsumptionsByUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, consumptions)

	after, err := e.resources.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, after.Rate.Equal(before.Rate))
	assert.True(t, after.LastBill.Equal(before.LastBill))
}

func TestSettleAccountAction(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, &User{
		ID:      "u1",
		Balance: dec("3600"),
		Rate:    dec("1"),
		Status:  constants.UserStatusActive,
	})

	e.advance(600 * time.Second)
	final := e.runAction(t, constants.ActionSettleAccount, "u1", map[string]interface{}{
		"task": constants.SettleTaskDaily,
	})

	require.Equal(t, constants.ActionStatusSucceeded, final.Status)
	user := e.getUser(t, "u1")
	assert.True(t, user.Balance.Equal(dec("3000")))
	assert.NotNil(t, e.jobs.get(JobID(constants.JobTypeNotify, "u1")))
}

func TestActionCancelledBySignal(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addUser(t, &User{ID: "u1", Balance: dec("1000"), Status: constants.UserStatusFree})

	action, err := e.actionUC.Enqueue(ctx, constants.ActionCreateResource, "u1", map[string]interface{}{
		"resource_id":   "r1",
		"resource_type": "instance",
		"properties":    map[string]interface{}{"flavor": "one"},
	})
	require.NoError(t, err)
	require.NoError(t, e.actionUC.Signal(ctx, action.ID, constants.SignalCancel))

	claimed, err := e.actions.ClaimReadyActions(ctx, "engine-test", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	claimed[0].StartedAt = e.now
	e.actionUC.Process(ctx, claimed[0])

	final, err := e.actions.GetAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.ActionStatusCancelled, final.Status)

	res, err := e.resources.GetResource(ctx, "r1")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestActionSuspendResume(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addUser(t, &User{ID: "u1", Balance: dec("1000"), Status: constants.UserStatusFree})

	action, err := e.actionUC.Enqueue(ctx, constants.ActionCreateResource, "u1", map[string]interface{}{
		"resource_id":   "r1",
		"resource_type": "instance",
		"properties":    map[string]interface{}{"flavor": "one"},
	})
	require.NoError(t, err)
	require.NoError(t, e.actionUC.Signal(ctx, action.ID, constants.SignalSuspend))

	claimed, err := e.actions.ClaimReadyActions(ctx, "engine-test", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	claimed[0].StartedAt = e.now

	done := make(chan struct{})
	go func() {
		e.actionUC.Process(ctx, claimed[0])
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.actionUC.Signal(ctx, action.ID, constants.SignalResume))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("suspended action did not resume")
	}

	final, err := e.actions.GetAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.ActionStatusSucceeded, final.Status)
}

func TestActionTimeout(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addUser(t, &User{ID: "u1", Balance: dec("1000"), Status: constants.UserStatusFree})

	action, err := e.actionUC.Enqueue(ctx, constants.ActionCreateResource, "u1", map[string]interface{}{
		"resource_id":   "r1",
		"resource_type": "instance",
		"properties":    map[string]interface{}{"flavor": "one"},
	})
	require.NoError(t, err)

	claimed, err := e.actions.ClaimReadyActions(ctx, "engine-test", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	// 认领后卡了 10 分钟才执行，超过 300 秒的超时上限
	claimed[0].StartedAt = e.now.Add(-10 * time.Minute)
	e.actionUC.Process(ctx, claimed[0])

	final, err := e.actions.GetAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.ActionStatusFailed, final.Status)
	assert.Equal(t, "Action timeout", final.Reason)
}

func TestActionRequeuedWhenLockBusy(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.addUser(t, &User{ID: "u1", Balance: dec("1000"), Status: constants.UserStatusFree})

	// 锁被存活引擎的 action 持有
	require.NoError(t, e.actions.CreateAction(ctx, &Action{
		ID: "holder", Target: "u1", Owner: "engine-1", Status: constants.ActionStatusRunning,
	}))
	e.engines.setLastSeen("engine-1", e.now)
	require.NoError(t, e.lockUC.Acquire(ctx, "u1", "holder", false))

	action, err := e.actionUC.Enqueue(ctx, constants.ActionSettleAccount, "u1", map[string]interface{}{
		"task": constants.SettleTaskDaily,
	})
	require.NoError(t, err)
	claimed, err := e.actions.ClaimReadyActions(ctx, "engine-test", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	claimed[0].StartedAt = e.now
	e.actionUC.Process(ctx, claimed[0])

	// 拿不到锁的 action 放回队列等待重试
	final, err := e.actions.GetAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.ActionStatusReady, final.Status)
	assert.Empty(t, final.Owner)
}

func TestSignalRejectsUnknown(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	action, err := e.actionUC.Enqueue(ctx, constants.ActionSettleAccount, "u1", nil)
	require.NoError(t, err)

	assert.Error(t, e.actionUC.Signal(ctx, action.ID, "EXPLODE"))
	assert.Error(t, e.actionUC.Signal(ctx, "missing", constants.SignalCancel))
}
