package data

import (
	"context"

	"metering-service/internal/biz"
	"metering-service/internal/conf"
)

// identityRepo 租户来源。生产环境应对接身份服务，这里从配置读取
// 租户列表，调度器启动时据此种入账户。
type identityRepo struct {
	tenants []string
}

// NewIdentityRepo 创建租户来源 repo（返回 biz.IdentityRepo 接口）
func NewIdentityRepo(c *conf.Bootstrap) biz.IdentityRepo {
	var tenants []string
	if c.Metering != nil {
		tenants = c.Metering.Tenants
	}
	return &identityRepo{tenants: tenants}
}

// ListTenants 枚举租户ID
func (r *identityRepo) ListTenants(ctx context.Context) ([]string, error) {
	return append([]string(nil), r.tenants...), nil
}
