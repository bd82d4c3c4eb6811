package domain

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// HoldState 是预留单的生命周期状态。ACTIVE 之外的状态都是终态。
type HoldState string

const (
	HoldActive    HoldState = "ACTIVE"
	HoldReleased  HoldState = "RELEASED"
	HoldFinalized HoldState = "FINALIZED"
)

// ClaimRequest 是一次预留的输入：把某商品的若干数量落在某个地点。
type ClaimRequest struct {
	Item       ItemKey `json:"item"`
	LocationID string  `json:"location_id"`
	Quantity   int     `json:"quantity"`
}

func (c ClaimRequest) less(o ClaimRequest) bool {
	if c.Item != o.Item {
		return c.Item.Less(o.Item)
	}
	return c.LocationID < o.LocationID
}

// NormalizeClaims 合并同一 (商品, 地点) 的请求并按 (product, variant, location) 排序。
func NormalizeClaims(reqs []ClaimRequest) ([]ClaimRequest, error) {
	merged := make(map[[3]string]int, len(reqs))
	for _, r := range reqs {
		if r.Quantity <= 0 || r.Item.ProductID == "" || r.LocationID == "" {
			return nil, ErrInvalidClaim
		}
		k := [3]string{r.Item.ProductID, r.Item.VariantID, r.LocationID}
		// 合并后的数量溢出时拒绝
		if merged[k] > math.MaxInt-r.Quantity {
			return nil, ErrInvalidClaim
		}
		merged[k] += r.Quantity
	}
	out := make([]ClaimRequest, 0, len(merged))
	for k, qty := range merged {
		out = append(out, ClaimRequest{Item: ItemKey{ProductID: k[0], VariantID: k[1]}, LocationID: k[2], Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out, nil
}

// ConversionMetadata 显式记录变体不足时从父商品转换的明细。
type ConversionMetadata struct {
	VariantTemplateID string `json:"variant_template_id,omitempty"`
	ConversionApplied bool   `json:"conversion_applied"`
	ConvertedQuantity int    `json:"converted_quantity"` // 消耗的父商品单位
	ConvertedUnits    int    `json:"converted_units"`    // 由转换补足的变体单位
}

// Claim 是预留单中的一行。
type Claim struct {
	Item             ItemKey            `json:"item"`
	LocationID       string             `json:"location_id"`
	Quantity         int                `json:"quantity"`
	FromVariantStock int                `json:"from_variant_stock"`
	Conversion       ConversionMetadata `json:"conversion"`
}

// ParentUnits 返回这一行在父库存上占用的数量。
func (c Claim) ParentUnits() int {
	if c.Item.IsVariant() {
		return c.Conversion.ConvertedQuantity
	}
	return c.Quantity
}

// Hold 是一个订单的库存预留单，同一订单同时最多存在一个 ACTIVE 的 Hold。
type Hold struct {
	ID        string
	OrderID   string
	Claims    []Claim
	State     HoldState
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewHold(orderID string, claims []Claim, now time.Time) *Hold {
	return &Hold{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Claims:    claims,
		State:     HoldActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (h *Hold) IsActive() bool { return h.State == HoldActive }

func (h *Hold) MarkFinalized(now time.Time) error {
	if !h.IsActive() {
		return ErrHoldStateConflict
	}
	h.State = HoldFinalized
	h.UpdatedAt = now
	return nil
}

func (h *Hold) MarkReleased(now time.Time) error {
	if !h.IsActive() {
		return ErrHoldStateConflict
	}
	h.State = HoldReleased
	h.UpdatedAt = now
	return nil
}

// Matches 判断这个 Hold 是否正是按 reqs（已归一化）建立的。
func (h *Hold) Matches(reqs []ClaimRequest) bool {
	if len(h.Claims) != len(reqs) {
		return false
	}
	for i, c := range h.Claims {
		r := reqs[i]
		if c.Item != r.Item || c.LocationID != r.LocationID || c.Quantity != r.Quantity {
			return false
		}
	}
	return true
}

// Clone 返回深拷贝，存储层用它隔离调用方的修改。
func (h *Hold) Clone() *Hold {
	cp := *h
	cp.Claims = append([]Claim(nil), h.Claims...)
	return &cp
}
