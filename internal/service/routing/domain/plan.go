package domain

import (
	invdomain "checkoutcore/internal/service/inventory/domain"
)

// Location 是商家的一个履约地点，来自显式配置。
type Location struct {
	ID       string
	VendorID string
	Name     string
	Region   string
	Active   bool
}

// Line 是订单中的一行商品。
type Line struct {
	Item     invdomain.ItemKey `json:"item"`
	Quantity int               `json:"quantity"`
}

// RoutableOrder 是路由所需的订单视图。
type RoutableOrder struct {
	OrderID  string
	VendorID string
	Lines    []Line
	// PlanLocked 表示订单已经越过预留，保存的分配不能再被替换
	PlanLocked bool
}

func (o *RoutableOrder) TotalUnits() int {
	n := 0
	for _, l := range o.Lines {
		n += l.Quantity
	}
	return n
}

type FulfillmentType string

const (
	FulfillmentSingle FulfillmentType = "single"
	FulfillmentSplit  FulfillmentType = "split"
)

// Assignment 记录一个地点承担的订单行。重新路由时整体替换。
type Assignment struct {
	OrderID         string          `json:"order_id"`
	LocationID      string          `json:"location_id"`
	FulfillmentType FulfillmentType `json:"fulfillment_type"`
	ItemCount       int             `json:"item_count"`
	Items           []Line          `json:"items"`
}

// Plan 是一次路由的结果；Unassigned 非空时 Router 同时返回 PartialAvailabilityError。
type Plan struct {
	OrderID     string       `json:"order_id"`
	Assignments []Assignment `json:"assignments"`
	Unassigned  []Line       `json:"unassigned,omitempty"`
}

func (p *Plan) Complete() bool { return len(p.Unassigned) == 0 }

// Claims 把计划展开为库存预留请求。
func (p *Plan) Claims() []invdomain.ClaimRequest {
	var out []invdomain.ClaimRequest
	for _, a := range p.Assignments {
		for _, l := range a.Items {
			out = append(out, invdomain.ClaimRequest{Item: l.Item, LocationID: a.LocationID, Quantity: l.Quantity})
		}
	}
	return out
}

// PlanFromAssignments 用持久化的分配结果重建计划。
func PlanFromAssignments(orderID string, assignments []Assignment) *Plan {
	return &Plan{OrderID: orderID, Assignments: assignments}
}
