package domain

import (
	"fmt"
	"time"
)

// ItemKey 标识一个可售商品；VariantID 为空表示父商品本身。
type ItemKey struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
}

func (k ItemKey) IsVariant() bool { return k.VariantID != "" }

func (k ItemKey) String() string {
	if k.IsVariant() {
		return k.ProductID + "/" + k.VariantID
	}
	return k.ProductID
}

// Less 定义全局一致的商品顺序（先 product 再 variant）。
func (k ItemKey) Less(o ItemKey) bool {
	if k.ProductID != o.ProductID {
		return k.ProductID < o.ProductID
	}
	return k.VariantID < o.VariantID
}

// InventoryRecord 是某个地点上父商品的实物库存。
// Available 总是由 OnHand - Reserved 推导，不单独存储。
// Reserve、Unreserve、Commit 只接受正数，保证 OnHand >= Reserved >= 0。
type InventoryRecord struct {
	ProductID  string
	LocationID string
	OnHand     int
	Reserved   int
	UpdatedAt  time.Time
}

func (r *InventoryRecord) Available() int { return r.OnHand - r.Reserved }

func (r *InventoryRecord) Reserve(qty int) error {
	if qty <= 0 || qty > r.Available() {
		return fmt.Errorf("%w: reserve %d of %s@%s, available %d", ErrInvariantViolation, qty, r.ProductID, r.LocationID, r.Available())
	}
	r.Reserved += qty
	return nil
}

func (r *InventoryRecord) Unreserve(qty int) error {
	if qty <= 0 || qty > r.Reserved {
		return fmt.Errorf("%w: unreserve %d of %s@%s, reserved %d", ErrInvariantViolation, qty, r.ProductID, r.LocationID, r.Reserved)
	}
	r.Reserved -= qty
	return nil
}

// Commit 把已预留的数量从在库中扣除。
func (r *InventoryRecord) Commit(qty int) error {
	if err := r.Unreserve(qty); err != nil {
		return err
	}
	r.OnHand -= qty
	return nil
}

// VariantRecord 是变体的库存。ConversionRatio 表示每个变体单位需要消耗的父商品数量。
type VariantRecord struct {
	ProductID       string
	VariantID       string
	LocationID      string
	Quantity        int
	Reserved        int
	ConversionRatio int
	UpdatedAt       time.Time
}

func (v *VariantRecord) Key() ItemKey { return ItemKey{ProductID: v.ProductID, VariantID: v.VariantID} }

func (v *VariantRecord) Available() int { return v.Quantity - v.Reserved }

func (v *VariantRecord) Reserve(qty int) error {
	if qty <= 0 || qty > v.Available() {
		return fmt.Errorf("%w: reserve %d of %s@%s, available %d", ErrInvariantViolation, qty, v.Key(), v.LocationID, v.Available())
	}
	v.Reserved += qty
	return nil
}

func (v *VariantRecord) Unreserve(qty int) error {
	if qty <= 0 || qty > v.Reserved {
		return fmt.Errorf("%w: unreserve %d of %s@%s, reserved %d", ErrInvariantViolation, qty, v.Key(), v.LocationID, v.Reserved)
	}
	v.Reserved -= qty
	return nil
}

func (v *VariantRecord) Commit(qty int) error {
	if err := v.Unreserve(qty); err != nil {
		return err
	}
	v.Quantity -= qty
	return nil
}

// Availability 是路由器看到的某地点某商品的可用量视图。
type Availability struct {
	Direct          int // 父商品：父库存可用量；变体：变体自身可用量
	ParentAvailable int // 仅变体：父商品可用量，可按比例转换
	ConversionRatio int
}

// Sellable 返回在允许自动转换的前提下最多可售数量。
func (a Availability) Sellable() int {
	if a.ConversionRatio <= 0 {
		return a.Direct
	}
	return a.Direct + a.ParentAvailable/a.ConversionRatio
}
