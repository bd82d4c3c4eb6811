package infrastructure

import (
	"context"
	"time"

	"checkoutcore/internal/pkg/database"
	"checkoutcore/internal/service/checkout/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderRepository 是 OrderRepository 的 GORM 实现。
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// AutoMigrate 创建订单与支付尝试表。
func (r *GormOrderRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&OrderModel{}, &PaymentAttemptModel{})
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	m, err := fromDomainOrder(order)
	if err != nil {
		return errors.Wrap(err, "encode order")
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if database.IsDuplicateEntry(err) {
			return domain.ErrOrderExists
		}
		return errors.Wrapf(err, "create order %s", order.ID)
	}
	return nil
}

func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	m, err := fromDomainOrder(order)
	if err != nil {
		return errors.Wrap(err, "encode order")
	}
	res := r.db.WithContext(ctx).Model(&OrderModel{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
		"status":          m.Status,
		"cancel_reason":   m.CancelReason,
		"attempt_seq":     m.AttemptSeq,
		"review_required": m.ReviewRequired,
		"review_reason":   m.ReviewReason,
		"updated_at":      m.UpdatedAt,
	})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "save order %s", order.ID)
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var m OrderModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "load order %s", id)
	}
	o, err := toDomainOrder(&m)
	return o, errors.Wrapf(err, "decode order %s", id)
}

// GormPaymentRepository 是 PaymentRepository 的 GORM 实现。
type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

func (r *GormPaymentRepository) Save(ctx context.Context, attempt *domain.PaymentAttempt) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(fromDomainAttempt(attempt)).Error
	if err != nil {
		if attempt.State == domain.PaymentCaptured && database.IsDuplicateEntry(err) {
			return domain.ErrDuplicateCapture
		}
		return errors.Wrapf(err, "save payment attempt %s", attempt.IdempotencyKey)
	}
	return nil
}

func (r *GormPaymentRepository) FindByOrder(ctx context.Context, orderID string) ([]*domain.PaymentAttempt, error) {
	var models []PaymentAttemptModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("sequence").Find(&models).Error; err != nil {
		return nil, errors.Wrapf(err, "load payment attempts of order %s", orderID)
	}
	out := make([]*domain.PaymentAttempt, 0, len(models))
	for i := range models {
		out = append(out, toDomainAttempt(&models[i]))
	}
	return out, nil
}

func (r *GormPaymentRepository) ListUnsettledCaptures(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentAttempt, error) {
	var models []PaymentAttemptModel
	q := r.db.WithContext(ctx)
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.
		Joins("JOIN checkout_orders ON checkout_orders.id = payment_attempts.order_id").
		Where("payment_attempts.state = ? AND payment_attempts.updated_at < ?", string(domain.PaymentCaptured), cutoff).
		Where("checkout_orders.status <> ? AND checkout_orders.review_required = ?", string(domain.StatusCompleted), false).
		Order("payment_attempts.updated_at").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list unsettled captures")
	}
	out := make([]*domain.PaymentAttempt, 0, len(models))
	for i := range models {
		out = append(out, toDomainAttempt(&models[i]))
	}
	return out, nil
}
