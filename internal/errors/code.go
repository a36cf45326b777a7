package errors

import (
	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	i18nPkg "github.com/gaoyong06/go-pkg/middleware/i18n"
)

func init() {
	// 初始化全局错误管理器（使用项目特定的配置）
	pkgErrors.InitGlobalErrorManager("i18n", i18nPkg.Language)
}

// Metering Service 错误码定义
// 错误码格式：SSMMEE (6位数字)
//   SS: 服务标识，Metering 固定为 23
//   MM: 模块标识，按业务划分
//   EE: 模块内错误序号
//
// 模块划分：
//   00: 通用模块（复用 go-pkg 通用错误码）
//   01: 账户模块
//   02: 资源模块
//   03: 用户锁模块
//   04: 调度模块
//   05: Action 模块
//   06: 定价规则模块
//   07: 充值模块
//   08-99: 预留扩展

// 账户模块错误码 (230100-230199)
const (
	// ErrCodeUserNotFound 账户不存在
	ErrCodeUserNotFound = 230101
	// ErrCodeUserInUse 账户仍有计费资源，不可删除
	ErrCodeUserInUse = 230102
	// ErrCodeUserStoreFailed 账户保存失败
	ErrCodeUserStoreFailed = 230103
)

// 资源模块错误码 (230200-230299)
const (
	// ErrCodeResourceNotFound 资源不存在
	ErrCodeResourceNotFound = 230201
	// ErrCodeResourceStoreFailed 资源保存失败
	ErrCodeResourceStoreFailed = 230202
)

// 用户锁模块错误码 (230300-230399)
const (
	// ErrCodeLockBusy 用户锁被其他 action 持有
	ErrCodeLockBusy = 230301
	// ErrCodeLockReleaseFailed 用户锁释放失败
	ErrCodeLockReleaseFailed = 230302
)

// 调度模块错误码 (230400-230499)
const (
	// ErrCodeJobNotFound job 不存在
	ErrCodeJobNotFound = 230401
	// ErrCodeJobStoreFailed job 保存失败
	ErrCodeJobStoreFailed = 230402
)

// Action 模块错误码 (230500-230599)
const (
	// ErrCodeActionNotFound action 不存在
	ErrCodeActionNotFound = 230501
	// ErrCodeActionTimeout action 执行超时
	ErrCodeActionTimeout = 230502
)

// 定价规则模块错误码 (230600-230699)
const (
	// ErrCodeRuleNotFound 资源类型没有注册定价规则
	ErrCodeRuleNotFound = 230601
	// ErrCodeInvalidRuleSpec 定价规则配置非法
	ErrCodeInvalidRuleSpec = 230602
)

// 充值模块错误码 (230700-230799)
const (
	// ErrCodeInvalidRechargeValue 充值金额非法（必须为正数）
	ErrCodeInvalidRechargeValue = 230701
	// ErrCodeInvalidDecimal 金额/费率数值格式非法
	ErrCodeInvalidDecimal = 230702
)
