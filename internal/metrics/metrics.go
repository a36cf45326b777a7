package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MeteringMetrics 计量计费服务指标
type MeteringMetrics struct {
	// 结算相关指标
	SettleTotal    *prometheus.CounterVec   // 结算总数（按任务类型、结果）
	SettleDuration *prometheus.HistogramVec // 结算耗时
	FreezeTotal    prometheus.Counter       // 账户冻结总数

	// 用户锁相关指标
	LockAcquireTotal    *prometheus.CounterVec // 锁获取总数（按结果）
	LockAcquireDuration prometheus.Histogram   // 锁获取耗时
	LockStealTotal      *prometheus.CounterVec // 锁抢占总数（按原因）

	// Action 相关指标
	ActionTotal    *prometheus.CounterVec   // action 执行总数（按名称、状态）
	ActionDuration *prometheus.HistogramVec // action 执行耗时

	// 调度相关指标
	JobFireTotal     *prometheus.CounterVec // job 触发总数（按类型、结果）
	JobScheduleTotal *prometheus.CounterVec // job 重排总数（按类型）

	// 通知相关指标
	NotifyTotal *prometheus.CounterVec // 通知发送总数（按事件类型、结果）
}

// NewMeteringMetrics 创建计量计费服务指标
func NewMeteringMetrics() *MeteringMetrics {
	return &MeteringMetrics{
		SettleTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_settle_total",
				Help: "Total number of account settlements",
			},
			[]string{"task", "result"}, // result: success/failed
		),
		SettleDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metering_settle_duration_seconds",
				Help:    "Duration of account settlement operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"task"},
		),
		FreezeTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "metering_freeze_total",
				Help: "Total number of account freezes",
			},
		),

		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_lock_acquire_total",
				Help: "Total number of user lock acquisition attempts",
			},
			[]string{"result"}, // result: success/failed
		),
		LockAcquireDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "metering_lock_acquire_duration_seconds",
				Help:    "Duration of user lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
		),
		LockStealTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_lock_steal_total",
				Help: "Total number of user lock steals",
			},
			[]string{"reason"}, // reason: forced/dead_owner
		),

		ActionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_action_total",
				Help: "Total number of executed actions",
			},
			[]string{"action", "status"},
		),
		ActionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metering_action_duration_seconds",
				Help:    "Duration of action execution",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),

		JobFireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_job_fire_total",
				Help: "Total number of fired billing jobs",
			},
			[]string{"type", "result"},
		),
		JobScheduleTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_job_schedule_total",
				Help: "Total number of billing job reschedules",
			},
			[]string{"type"},
		),

		NotifyTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metering_notify_total",
				Help: "Total number of outgoing notifications",
			},
			[]string{"event", "result"},
		),
	}
}

// 全局指标实例
var defaultMetrics *MeteringMetrics

// InitMetrics 初始化全局指标
func InitMetrics() {
	defaultMetrics = NewMeteringMetrics()
}

// GetMetrics 获取全局指标实例
func GetMetrics() *MeteringMetrics {
	if defaultMetrics == nil {
		InitMetrics()
	}
	return defaultMetrics
}
