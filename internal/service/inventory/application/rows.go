package application

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"checkoutcore/internal/service/inventory/domain"
)

// rowKey 标识一行库存；variant 为空时是父库存行。
type rowKey struct {
	product  string
	variant  string
	location string
}

func (k rowKey) less(o rowKey) bool {
	if k.product != o.product {
		return k.product < o.product
	}
	if k.variant != o.variant {
		return k.variant < o.variant
	}
	return k.location < o.location
}

func parentRow(item domain.ItemKey, locationID string) rowKey {
	return rowKey{product: item.ProductID, location: locationID}
}

func variantRow(item domain.ItemKey, locationID string) rowKey {
	return rowKey{product: item.ProductID, variant: item.VariantID, location: locationID}
}

// rowsForItem 列出一行预留可能触碰的库存行：变体总是连同父库存一起锁定，以便自动转换。
func rowsForItem(item domain.ItemKey, locationID string) []rowKey {
	if item.IsVariant() {
		return []rowKey{parentRow(item, locationID), variantRow(item, locationID)}
	}
	return []rowKey{parentRow(item, locationID)}
}

// lockedRows 是事务内已加锁的库存行。不存在的行以 nil 记录。
type lockedRows struct {
	order    []rowKey
	parents  map[rowKey]*domain.InventoryRecord
	variants map[rowKey]*domain.VariantRecord
}

// lockRows 按 (product, variant, location) 的全局顺序加锁，所有事务遵循同一顺序从而避免死锁。
func lockRows(tx domain.Tx, keys []rowKey) (*lockedRows, error) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	rows := &lockedRows{
		parents:  make(map[rowKey]*domain.InventoryRecord),
		variants: make(map[rowKey]*domain.VariantRecord),
	}
	for i, k := range keys {
		if i > 0 && k == keys[i-1] {
			continue
		}
		rows.order = append(rows.order, k)

		if k.variant == "" {
			rec, err := tx.LockRecord(k.product, k.location)
			if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
				return nil, rowError(k, err)
			}
			rows.parents[k] = rec
			continue
		}
		v, err := tx.LockVariant(k.product, k.variant, k.location)
		if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
			return nil, rowError(k, err)
		}
		rows.variants[k] = v
	}
	return rows, nil
}

// contendedRowError 记录锁冲突发生在哪一行。
type contendedRowError struct {
	row rowKey
	err error
}

func (e *contendedRowError) Error() string {
	return fmt.Sprintf("lock %s@%s: %v", e.item(), e.row.location, e.err)
}

func (e *contendedRowError) Unwrap() error { return e.err }

func (e *contendedRowError) item() domain.ItemKey {
	return domain.ItemKey{ProductID: e.row.product, VariantID: e.row.variant}
}

func rowError(k rowKey, err error) error {
	if errors.Is(err, domain.ErrLockContention) {
		return &contendedRowError{row: k, err: err}
	}
	return err
}

// contentionFailure 把重试耗尽的锁冲突转换为指向冲突行的 InsufficientInventoryError。
// 冲突不在某个库存行上时（例如 Hold 行），指向第一行请求。
func contentionFailure(claims []domain.ClaimRequest, err error) *domain.InsufficientInventoryError {
	failed := claims[0]
	var rowErr *contendedRowError
	if errors.As(err, &rowErr) {
		failed = domain.ClaimRequest{Item: rowErr.item(), LocationID: rowErr.row.location}
		for _, c := range claims {
			if c.LocationID != rowErr.row.location || c.Item.ProductID != rowErr.row.product {
				continue
			}
			// 父库存行被锁住时，也可能是某个变体请求在等待转换
			if c.Item == rowErr.item() || failed.Quantity == 0 {
				failed = c
			}
		}
	}
	return &domain.InsufficientInventoryError{
		Item: failed.Item, LocationID: failed.LocationID, Requested: failed.Quantity, Contended: true,
	}
}

func (r *lockedRows) save(tx domain.Tx, now time.Time) error {
	for _, k := range r.order {
		if k.variant == "" {
			if rec := r.parents[k]; rec != nil {
				rec.UpdatedAt = now
				if err := tx.SaveRecord(rec); err != nil {
					return err
				}
			}
			continue
		}
		if v := r.variants[k]; v != nil {
			v.UpdatedAt = now
			if err := tx.SaveVariant(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// allocate 为一行请求占用库存：变体先用自身库存，不足部分按比例从父库存转换。
// 任何一部分不满足都返回 InsufficientInventoryError，调用方回滚整个事务。
func (r *lockedRows) allocate(req domain.ClaimRequest) (domain.Claim, error) {
	parent := r.parents[parentRow(req.Item, req.LocationID)]
	parentAvail := 0
	if parent != nil {
		parentAvail = max(parent.Available(), 0)
	}

	if !req.Item.IsVariant() {
		if parentAvail < req.Quantity {
			return domain.Claim{}, &domain.InsufficientInventoryError{
				Item: req.Item, LocationID: req.LocationID, Requested: req.Quantity, Available: parentAvail,
			}
		}
		if err := parent.Reserve(req.Quantity); err != nil {
			return domain.Claim{}, err
		}
		return domain.Claim{Item: req.Item, LocationID: req.LocationID, Quantity: req.Quantity}, nil
	}

	v := r.variants[variantRow(req.Item, req.LocationID)]
	if v == nil {
		return domain.Claim{}, &domain.InsufficientInventoryError{
			Item: req.Item, LocationID: req.LocationID, Requested: req.Quantity, Available: 0,
		}
	}

	if v.ConversionRatio < 1 {
		return domain.Claim{}, fmt.Errorf("%w: variant %s@%s has conversion ratio %d", domain.ErrInvariantViolation, req.Item, req.LocationID, v.ConversionRatio)
	}
	fromVariant := min(req.Quantity, max(v.Available(), 0))
	shortfall := req.Quantity - fromVariant
	// 先按可转换的变体单位比较，再相乘，避免溢出
	if shortfall > parentAvail/v.ConversionRatio {
		return domain.Claim{}, &domain.InsufficientInventoryError{
			Item: req.Item, LocationID: req.LocationID, Requested: req.Quantity,
			Available: fromVariant + parentAvail/v.ConversionRatio,
		}
	}
	parentUnits := shortfall * v.ConversionRatio

	if fromVariant > 0 {
		if err := v.Reserve(fromVariant); err != nil {
			return domain.Claim{}, err
		}
	}
	if parentUnits > 0 {
		if err := parent.Reserve(parentUnits); err != nil {
			return domain.Claim{}, err
		}
	}
	return domain.Claim{
		Item:             req.Item,
		LocationID:       req.LocationID,
		Quantity:         req.Quantity,
		FromVariantStock: fromVariant,
		Conversion: domain.ConversionMetadata{
			VariantTemplateID: req.Item.ProductID,
			ConversionApplied: shortfall > 0,
			ConvertedQuantity: parentUnits,
			ConvertedUnits:    shortfall,
		},
	}, nil
}

// settle 对一行已预留的库存执行出库（commit=true）或释放（commit=false）。
func (r *lockedRows) settle(c domain.Claim, commit bool) error {
	parentUnits := c.ParentUnits()
	if parentUnits > 0 {
		parent := r.parents[parentRow(c.Item, c.LocationID)]
		if parent == nil {
			return fmt.Errorf("%w: parent record %s@%s missing for held claim", domain.ErrInvariantViolation, c.Item.ProductID, c.LocationID)
		}
		if err := apply(parent.Commit, parent.Unreserve, commit, parentUnits); err != nil {
			return err
		}
	}
	if c.Item.IsVariant() && c.FromVariantStock > 0 {
		v := r.variants[variantRow(c.Item, c.LocationID)]
		if v == nil {
			return fmt.Errorf("%w: variant record %s@%s missing for held claim", domain.ErrInvariantViolation, c.Item, c.LocationID)
		}
		if err := apply(v.Commit, v.Unreserve, commit, c.FromVariantStock); err != nil {
			return err
		}
	}
	return nil
}

func apply(commitFn, releaseFn func(int) error, commit bool, qty int) error {
	if commit {
		return commitFn(qty)
	}
	return releaseFn(qty)
}
