package infrastructure

import (
	"context"
	"encoding/json"

	"checkoutcore/internal/service/routing/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// GormAssignmentRepository 是 AssignmentRepository 的 GORM 实现。
type GormAssignmentRepository struct {
	db *gorm.DB
}

func NewGormAssignmentRepository(db *gorm.DB) *GormAssignmentRepository {
	return &GormAssignmentRepository{db: db}
}

func (r *GormAssignmentRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AssignmentModel{})
}

// Replace 在一个事务里删除旧分配并写入新分配。
func (r *GormAssignmentRepository) Replace(ctx context.Context, orderID string, assignments []domain.Assignment) error {
	models := make([]AssignmentModel, 0, len(assignments))
	for _, a := range assignments {
		items, err := json.Marshal(a.Items)
		if err != nil {
			return errors.Wrap(err, "encode assignment items")
		}
		models = append(models, AssignmentModel{
			OrderID:         orderID,
			LocationID:      a.LocationID,
			FulfillmentType: string(a.FulfillmentType),
			ItemCount:       a.ItemCount,
			Items:           string(items),
		})
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).Delete(&AssignmentModel{}).Error; err != nil {
			return errors.Wrapf(err, "clear assignments of order %s", orderID)
		}
		if len(models) == 0 {
			return nil
		}
		return errors.Wrapf(tx.Create(&models).Error, "save assignments of order %s", orderID)
	})
}

func (r *GormAssignmentRepository) FindByOrder(ctx context.Context, orderID string) ([]domain.Assignment, error) {
	var models []AssignmentModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("location_id").Find(&models).Error; err != nil {
		return nil, errors.Wrapf(err, "load assignments of order %s", orderID)
	}
	out := make([]domain.Assignment, 0, len(models))
	for _, m := range models {
		var items []domain.Line
		if err := json.Unmarshal([]byte(m.Items), &items); err != nil {
			return nil, errors.Wrapf(err, "decode assignment items of order %s", orderID)
		}
		out = append(out, domain.Assignment{
			OrderID:         m.OrderID,
			LocationID:      m.LocationID,
			FulfillmentType: domain.FulfillmentType(m.FulfillmentType),
			ItemCount:       m.ItemCount,
			Items:           items,
		})
	}
	return out, nil
}
