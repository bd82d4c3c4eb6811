package infrastructure

import (
	"context"
	"time"

	"checkoutcore/internal/pkg/database"
	"checkoutcore/internal/service/inventory/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore 是 domain.Store 的 MySQL 实现，行锁通过 SELECT ... FOR UPDATE 获得。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate 创建或更新库存相关的表。
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&InventoryRecordModel{},
		&VariantRecordModel{},
		&HoldModel{},
		&HoldClaimModel{},
		&StockMovementModel{},
	)
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
	return translate(err)
}

// translate 把可重试的 MySQL 错误统一为 domain.ErrLockContention，其余原样返回。
func translate(err error) error {
	if err == nil {
		return nil
	}
	if database.IsLockContention(err) || database.IsDuplicateEntry(err) {
		return errors.Wrap(domain.ErrLockContention, err.Error())
	}
	return err
}

func (s *GormStore) Record(ctx context.Context, productID, locationID string) (*domain.InventoryRecord, error) {
	var m InventoryRecordModel
	err := s.db.WithContext(ctx).Where("product_id = ? AND location_id = ?", productID, locationID).Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, errors.Wrapf(err, "load inventory record %s@%s", productID, locationID)
	}
	return toDomainRecord(&m), nil
}

func (s *GormStore) Variant(ctx context.Context, productID, variantID, locationID string) (*domain.VariantRecord, error) {
	var m VariantRecordModel
	err := s.db.WithContext(ctx).
		Where("product_id = ? AND variant_id = ? AND location_id = ?", productID, variantID, locationID).
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, errors.Wrapf(err, "load variant record %s/%s@%s", productID, variantID, locationID)
	}
	return toDomainVariant(&m), nil
}

func (s *GormStore) RecordsAt(ctx context.Context, locationID string, productIDs []string) ([]domain.InventoryRecord, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var models []InventoryRecordModel
	err := s.db.WithContext(ctx).
		Where("location_id = ? AND product_id IN ?", locationID, productIDs).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "load inventory records at %s", locationID)
	}
	out := make([]domain.InventoryRecord, 0, len(models))
	for i := range models {
		out = append(out, *toDomainRecord(&models[i]))
	}
	return out, nil
}

func (s *GormStore) VariantsAt(ctx context.Context, locationID string, productIDs []string) ([]domain.VariantRecord, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var models []VariantRecordModel
	err := s.db.WithContext(ctx).
		Where("location_id = ? AND product_id IN ?", locationID, productIDs).
		Order("product_id, variant_id").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "load variant records at %s", locationID)
	}
	out := make([]domain.VariantRecord, 0, len(models))
	for i := range models {
		out = append(out, *toDomainVariant(&models[i]))
	}
	return out, nil
}

func (s *GormStore) LatestHold(ctx context.Context, orderID string) (*domain.Hold, error) {
	var m HoldModel
	err := s.db.WithContext(ctx).Preload("Claims").
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "load hold for order %s", orderID)
	}
	return toDomainHold(&m), nil
}

func (s *GormStore) ListActiveHoldsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Hold, error) {
	var models []HoldModel
	err := s.db.WithContext(ctx).Preload("Claims").
		Where("state = ? AND created_at < ?", string(domain.HoldActive), cutoff).
		Order("created_at, id").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list expired holds")
	}
	out := make([]domain.Hold, 0, len(models))
	for i := range models {
		out = append(out, *toDomainHold(&models[i]))
	}
	return out, nil
}

func (s *GormStore) MovementsByReference(ctx context.Context, reference string) ([]domain.StockMovement, error) {
	var models []StockMovementModel
	err := s.db.WithContext(ctx).Where("reference = ?", reference).Order("created_at, id").Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "load movements for %s", reference)
	}
	out := make([]domain.StockMovement, 0, len(models))
	for i := range models {
		out = append(out, toDomainMovement(&models[i]))
	}
	return out, nil
}

// gormTx 实现 domain.Tx。
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) forUpdate() *gorm.DB {
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *gormTx) LockRecord(productID, locationID string) (*domain.InventoryRecord, error) {
	var m InventoryRecordModel
	err := t.forUpdate().Where("product_id = ? AND location_id = ?", productID, locationID).Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, translate(err)
	}
	return toDomainRecord(&m), nil
}

func (t *gormTx) LockVariant(productID, variantID, locationID string) (*domain.VariantRecord, error) {
	var m VariantRecordModel
	err := t.forUpdate().
		Where("product_id = ? AND variant_id = ? AND location_id = ?", productID, variantID, locationID).
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, translate(err)
	}
	return toDomainVariant(&m), nil
}

func (t *gormTx) LockActiveHold(orderID string) (*domain.Hold, error) {
	var m HoldModel
	err := t.forUpdate().Where("order_id = ? AND state = ?", orderID, string(domain.HoldActive)).Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var claims []HoldClaimModel
	if err := t.db.Where("hold_id = ?", m.ID).Order("id").Find(&claims).Error; err != nil {
		return nil, err
	}
	m.Claims = claims
	return toDomainHold(&m), nil
}

func (t *gormTx) SaveRecord(r *domain.InventoryRecord) error {
	return t.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(fromDomainRecord(r)).Error
}

func (t *gormTx) SaveVariant(v *domain.VariantRecord) error {
	return t.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(fromDomainVariant(v)).Error
}

func (t *gormTx) CreateHold(h *domain.Hold) error {
	// Create 会一并写入 Claims 关联
	return t.db.Create(fromDomainHold(h)).Error
}

func (t *gormTx) UpdateHoldState(h *domain.Hold) error {
	return t.db.Model(&HoldModel{}).Where("id = ?", h.ID).Updates(map[string]interface{}{
		"state":           string(h.State),
		"active_order_id": activeOrderID(h),
		"updated_at":      h.UpdatedAt,
	}).Error
}

func (t *gormTx) AppendMovement(m *domain.StockMovement) error {
	return t.db.Create(fromDomainMovement(m)).Error
}
