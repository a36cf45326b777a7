// Package conf 定义 metering-service 的启动配置结构。
// 配置通过 kratos config 从 yaml 文件加载（参见 cmd/*/main.go）。
package conf

// Bootstrap 启动配置根节点
type Bootstrap struct {
	Server   *Server   `json:"server"`
	Data     *Data     `json:"data"`
	Metering *Metering `json:"metering"`
}

// Server 服务进程配置
type Server struct {
	Engine    *Engine    `json:"engine"`
	Scheduler *Scheduler `json:"scheduler"`
	Metrics   *Metrics   `json:"metrics"`
}

// Metrics 指标暴露端口配置
type Metrics struct {
	Addr string `json:"addr"`
}

// Engine 计费引擎（worker）配置
type Engine struct {
	// Workers 并发执行 action 的 worker 数量
	Workers int `json:"workers"`
	// PollIntervalSeconds 拉取 READY action 的轮询间隔（秒）
	PollIntervalSeconds int64 `json:"poll_interval_seconds"`
	// PeriodicIntervalSeconds 引擎心跳上报间隔（秒），
	// 心跳超过 2 倍该间隔未更新的引擎视为死亡
	PeriodicIntervalSeconds int64 `json:"periodic_interval_seconds"`
	// ActionTimeoutSeconds 单个 action 的执行超时（秒）
	ActionTimeoutSeconds int64 `json:"action_timeout_seconds"`
}

// Scheduler 计费调度器配置
type Scheduler struct {
	// ReconcileIntervalSeconds 从 job 表对账 cron 任务的间隔（秒）
	ReconcileIntervalSeconds int64 `json:"reconcile_interval_seconds"`
	// MisfireGraceSeconds 过期 job 仍允许补触发的宽限时间（秒）
	MisfireGraceSeconds int64 `json:"misfire_grace_seconds"`
}

// Data 数据层配置
type Data struct {
	Database *Database `json:"database"`
	Redis    *Redis    `json:"redis"`
	Rocketmq *Rocketmq `json:"rocketmq"`
}

// Database 数据库配置
type Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
}

// Redis Redis 配置
type Redis struct {
	Addr                string `json:"addr"`
	ReadTimeoutSeconds  int64  `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int64  `json:"write_timeout_seconds"`
}

// Rocketmq 通知通道（仅生产者）配置
type Rocketmq struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	Topic       string   `json:"topic"`
	RetryTimes  int32    `json:"retry_times"`
}

// Metering 计量计费业务配置
type Metering struct {
	// NotifyWindowSeconds 余额耗尽前多久提醒用户（秒）
	NotifyWindowSeconds int64 `json:"notify_window_seconds"`
	// AllowedDelaySeconds 资源事件处理延迟补偿阈值（秒）
	AllowedDelaySeconds int64 `json:"allowed_delay_seconds"`
	// LockRetryTimes 用户锁获取重试次数
	LockRetryTimes int `json:"lock_retry_times"`
	// LockRetryIntervalSeconds 用户锁重试间隔（秒）
	LockRetryIntervalSeconds int64 `json:"lock_retry_interval_seconds"`
	// Tenants 启动时种入账户的租户ID列表
	Tenants []string `json:"tenants"`
	// Rules 定价规则
	Rules []*Rule `json:"rules"`
}

// Rule 定价规则配置，按资源类型注册
type Rule struct {
	// ResourceType 资源类型：instance / volume
	ResourceType string `json:"resource_type"`
	// Unit 计价单位：per_hour 或 per_sec
	Unit string `json:"unit"`
	// Flavors flavor -> 价格（十进制字符串），instance 规则使用
	Flavors map[string]string `json:"flavors"`
	// VolumeSteps 容量区间价格，volume 规则使用
	VolumeSteps []*VolumeStep `json:"volume_steps"`
}

// VolumeStep 容量区间定价
type VolumeStep struct {
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Price string `json:"price"`
}
