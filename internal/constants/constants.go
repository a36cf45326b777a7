package constants

// 用户状态常量
const (
	// UserStatusInit 初始状态，尚未充值
	UserStatusInit = "INIT"
	// UserStatusFree 无计费资源，余额非负
	UserStatusFree = "FREE"
	// UserStatusActive 正常计费中
	UserStatusActive = "ACTIVE"
	// UserStatusWarning 余额即将耗尽
	UserStatusWarning = "WARNING"
	// UserStatusFreeze 余额耗尽冻结，资源已全部释放
	UserStatusFreeze = "FREEZE"
)

// 结算任务类型常量
const (
	// SettleTaskNotify 余额预警结算
	SettleTaskNotify = "notify"
	// SettleTaskFreeze 冻结结算
	SettleTaskFreeze = "freeze"
	// SettleTaskDaily 每日例行结算
	SettleTaskDaily = "daily"
)

// Job 类型常量（与结算任务类型一一对应）
const (
	JobTypeNotify = "notify"
	JobTypeFreeze = "freeze"
	JobTypeDaily  = "daily"
)

// Action 名称常量
const (
	// ActionCreateResource 创建资源
	ActionCreateResource = "USER_CREATE_RESOURCE"
	// ActionUpdateResource 更新资源
	ActionUpdateResource = "USER_UPDATE_RESOURCE"
	// ActionDeleteResource 删除资源
	ActionDeleteResource = "USER_DELETE_RESOURCE"
	// ActionSettleAccount 结算账户
	ActionSettleAccount = "USER_SETTLE_ACCOUNT"
)

// Action 状态常量
const (
	ActionStatusInit      = "INIT"
	ActionStatusWaiting   = "WAITING"
	ActionStatusReady     = "READY"
	ActionStatusRunning   = "RUNNING"
	ActionStatusSuspended = "SUSPENDED"
	ActionStatusSucceeded = "SUCCEEDED"
	ActionStatusFailed    = "FAILED"
	ActionStatusCancelled = "CANCELLED"
)

// Action 信号常量
const (
	SignalCancel  = "CANCEL"
	SignalSuspend = "SUSPEND"
	SignalResume  = "RESUME"
)

// 充值类型常量
const (
	// RechargeTypeSelf 用户自助充值
	RechargeTypeSelf = "Recharge"
	// RechargeTypeBonus 系统赠送
	RechargeTypeBonus = "System bonus"
)

// 事件类型常量
const (
	// EventActionCharge 扣费事件
	EventActionCharge = "charge"
	// EventActionRecharge 充值事件
	EventActionRecharge = "recharge"
)

// 通知事件类型常量
const (
	// NotifyEventBalanceWarning 余额预警通知
	NotifyEventBalanceWarning = "billing.balance.warning"
	// NotifyEventUserFreeze 账户冻结通知
	NotifyEventUserFreeze = "billing.user.freeze"
)

// 资源类型常量
const (
	// ResourceTypeInstance 计算实例
	ResourceTypeInstance = "instance"
	// ResourceTypeVolume 云硬盘
	ResourceTypeVolume = "volume"
)

// 定价单位常量
const (
	// PriceUnitPerHour 按小时计价（内部归一化为按秒）
	PriceUnitPerHour = "per_hour"
	// PriceUnitPerSec 按秒计价
	PriceUnitPerSec = "per_sec"
)

// Redis Key 前缀常量
const (
	// RedisKeyBalance 实时余额缓存 key 前缀
	RedisKeyBalance = "metering:balance:"
	// RedisKeyJobFireLock job 触发锁 key 前缀
	RedisKeyJobFireLock = "metering:job:fire:"
)
