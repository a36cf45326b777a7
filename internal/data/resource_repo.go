package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"metering-service/internal/biz"
	"metering-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// resourceRepo 计费资源数据访问
type resourceRepo struct {
	data *Data
	log  *log.Helper
}

// NewResourceRepo 创建资源 repo（返回 biz.ResourceRepo 接口）
func NewResourceRepo(data *Data, logger log.Logger) biz.ResourceRepo {
	return &resourceRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toResource(m *model.Resource) (*biz.Resource, error) {
	var props map[string]interface{}
	if m.Properties != "" {
		if err := json.Unmarshal([]byte(m.Properties), &props); err != nil {
			return nil, fmt.Errorf("corrupt properties of resource %s: %w", m.ResourceID, err)
		}
	}
	return &biz.Resource{
		ID:           m.ResourceID,
		UserID:       m.UserID,
		ResourceType: m.ResourceType,
		Rate:         m.Rate,
		LastBill:     m.LastBill,
		Properties:   props,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}, nil
}

// GetResource 获取资源
func (r *resourceRepo) GetResource(ctx context.Context, resourceID string) (*biz.Resource, error) {
	var m model.Resource
	if err := r.data.db.WithContext(ctx).Where("resource_id = ?", resourceID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query resource: %w", err)
	}
	return toResource(&m)
}

// SaveResource 保存资源（upsert 整行）
func (r *resourceRepo) SaveResource(ctx context.Context, resource *biz.Resource) error {
	props, err := json.Marshal(resource.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}
	m := &model.Resource{
		ResourceID:   resource.ID,
		UserID:       resource.UserID,
		ResourceType: resource.ResourceType,
		Rate:         resource.Rate,
		LastBill:     resource.LastBill,
		Properties:   string(props),
	}
	if err := r.data.db.WithContext(ctx).Save(m).Error; err != nil {
		r.log.Errorf("SaveResource failed: resourceID=%s, error=%v", resource.ID, err)
		return fmt.Errorf("failed to save resource: %w", err)
	}
	return nil
}

// ListResourcesByUser 获取用户全部资源
func (r *resourceRepo) ListResourcesByUser(ctx context.Context, userID string) ([]*biz.Resource, error) {
	var ms []model.Resource
	if err := r.data.db.WithContext(ctx).Where("user_id = ?", userID).Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	resources := make([]*biz.Resource, 0, len(ms))
	for i := range ms {
		res, err := toResource(&ms[i])
		if err != nil {
			return nil, err
		}
		resources = append(resources, res)
	}
	return resources, nil
}

// DeleteResource 删除资源
func (r *resourceRepo) DeleteResource(ctx context.Context, resourceID string) error {
	if err := r.data.db.WithContext(ctx).Where("resource_id = ?", resourceID).Delete(&model.Resource{}).Error; err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return nil
}
