package domain

import (
	"time"

	"github.com/google/uuid"
)

type MovementType string

const (
	MovementSale       MovementType = "SALE"
	MovementReceipt    MovementType = "RECEIPT"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// StockMovement 是只追加的库存审计流水。
type StockMovement struct {
	ID                string
	Item              ItemKey
	LocationID        string
	Type              MovementType
	QuantityDelta     int
	ConvertedQuantity int // 由父商品转换而来的父单位数量，仅变体出库时非零
	Reference         string
	CreatedAt         time.Time
}

func NewMovement(item ItemKey, locationID string, typ MovementType, delta int, reference string, now time.Time) *StockMovement {
	return &StockMovement{
		ID:            uuid.NewString(),
		Item:          item,
		LocationID:    locationID,
		Type:          typ,
		QuantityDelta: delta,
		Reference:     reference,
		CreatedAt:     now,
	}
}

// SaleMovement 为预留单中的一行生成出库流水。
func SaleMovement(orderID string, c Claim, now time.Time) *StockMovement {
	delta := c.Quantity
	if c.Item.IsVariant() {
		delta = c.FromVariantStock
	}
	m := NewMovement(c.Item, c.LocationID, MovementSale, -delta, orderID, now)
	m.ConvertedQuantity = c.Conversion.ConvertedQuantity
	return m
}
