package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrUnknownVendor   = errors.New("vendor has no configured locations")
	ErrEmptyOrder      = errors.New("order has no lines")
	ErrPlanNotRecorded = errors.New("no routing plan recorded for order")
)

// PartialAvailabilityError 列出没有任何地点能够满足的订单行。
type PartialAvailabilityError struct {
	OrderID    string
	Unassigned []Line
}

func (e *PartialAvailabilityError) Error() string {
	items := make([]string, 0, len(e.Unassigned))
	for _, l := range e.Unassigned {
		items = append(items, fmt.Sprintf("%s x%d", l.Item, l.Quantity))
	}
	return fmt.Sprintf("partial availability for order %s: no location can serve %s", e.OrderID, strings.Join(items, ", "))
}
