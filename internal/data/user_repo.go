package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metering-service/internal/biz"
	"metering-service/internal/constants"
	"metering-service/internal/data/model"
	"metering-service/internal/pkg/money"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// userRepo 账户数据访问
type userRepo struct {
	data *Data
	log  *log.Helper
}

// NewUserRepo 创建账户 repo（返回 biz.UserRepo 接口）
func NewUserRepo(data *Data, logger log.Logger) biz.UserRepo {
	return &userRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toUser(m *model.User) *biz.User {
	return &biz.User{
		ID:           m.UserID,
		Balance:      m.Balance,
		Rate:         m.Rate,
		Credit:       m.Credit,
		LastBill:     m.LastBill,
		Status:       m.Status,
		StatusReason: m.StatusReason,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// GetUser 获取账户
func (r *userRepo) GetUser(ctx context.Context, userID string) (*biz.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}
	var m model.User
	if err := r.data.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 账户不存在返回 nil，业务层决定是 NotFound 还是待种入
			return nil, nil
		}
		r.log.Errorf("GetUser failed: userID=%s, error=%v", userID, err)
		return nil, fmt.Errorf("failed to query user from database: %w", err)
	}
	return toUser(&m), nil
}

// SaveUser 保存账户（upsert 整行，单行写入即本服务的原子性边界）
func (r *userRepo) SaveUser(ctx context.Context, user *biz.User) error {
	m := &model.User{
		UserID:       user.ID,
		Balance:      user.Balance,
		Rate:         user.Rate,
		Credit:       user.Credit,
		LastBill:     user.LastBill,
		Status:       user.Status,
		StatusReason: user.StatusReason,
	}
	if err := r.data.db.WithContext(ctx).Save(m).Error; err != nil {
		r.log.Errorf("SaveUser failed: userID=%s, error=%v", user.ID, err)
		return fmt.Errorf("failed to save user: %w", err)
	}

	// 更新余额展示缓存（异步，不阻塞，设置超时避免长时间等待）
	balanceKey := fmt.Sprintf("%s%s", constants.RedisKeyBalance, user.ID)
	display := money.Display(user.Balance)
	go func() {
		cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cacheCancel()
		if err := r.data.rdb.Set(cacheCtx, balanceKey, display, 5*time.Minute).Err(); err != nil {
			// 缓存更新失败不影响主流程
		}
	}()
	return nil
}

// ListUsers 获取全部账户
func (r *userRepo) ListUsers(ctx context.Context) ([]*biz.User, error) {
	var ms []model.User
	if err := r.data.db.WithContext(ctx).Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]*biz.User, 0, len(ms))
	for i := range ms {
		users = append(users, toUser(&ms[i]))
	}
	return users, nil
}

// DeleteUser 删除账户并失效余额缓存
func (r *userRepo) DeleteUser(ctx context.Context, userID string) error {
	if err := r.data.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.User{}).Error; err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	balanceKey := fmt.Sprintf("%s%s", constants.RedisKeyBalance, userID)
	cacheCtx, cacheCancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cacheCancel()
	if err := r.data.rdb.Del(cacheCtx, balanceKey).Err(); err != nil {
		r.log.Warnf("failed to invalidate balance cache for %s: %v", userID, err)
	}
	return nil
}
