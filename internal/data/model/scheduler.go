package model

import "time"

// UserLock 用户锁表，一行一把锁，抢锁即插入
type UserLock struct {
	UserID    string    `gorm:"primaryKey;type:varchar(36)"`
	ActionID  string    `gorm:"type:varchar(36);not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (UserLock) TableName() string {
	return "user_lock"
}

// Engine 引擎注册表，updated_at 即最近心跳时间
type Engine struct {
	EngineID  string    `gorm:"primaryKey;type:varchar(64)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Engine) TableName() string {
	return "engine"
}

// Job 调度任务表
// run_at 用于一次性任务（notify/freeze），cron_spec 用于 daily 任务
type Job struct {
	JobID       string    `gorm:"primaryKey;type:varchar(80)"`
	JobType     string    `gorm:"type:varchar(16);index;not null"`
	UserID      string    `gorm:"index;type:varchar(36);not null"`
	SchedulerID string    `gorm:"type:varchar(64)"`
	RunAt       time.Time ``
	CronSpec    string    `gorm:"type:varchar(32)"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Job) TableName() string {
	return "job"
}

// Action 编排任务表
type Action struct {
	ActionID  string    `gorm:"primaryKey;type:varchar(36)"`
	Name      string    `gorm:"type:varchar(40);not null"`
	Target    string    `gorm:"index;type:varchar(36);not null"`
	Inputs    string    `gorm:"type:text"`
	Status    string    `gorm:"type:varchar(16);index;not null"`
	Owner     string    `gorm:"type:varchar(64)"`
	Signal    string    `gorm:"type:varchar(16)"`
	Reason    string    `gorm:"type:varchar(255)"`
	StartedAt time.Time ``
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Action) TableName() string {
	return "action"
}
