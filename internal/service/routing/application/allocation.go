package application

import (
	"sort"

	invdomain "checkoutcore/internal/service/inventory/domain"
	"checkoutcore/internal/service/routing/domain"
)

// stockPool 是某地点的剩余可售量。变体与父商品共用父商品库存，
// 按 "先变体、不足部分按比例折算父商品" 的顺序扣减，与预留时的分配规则一致。
type stockPool struct {
	parent  map[string]int
	variant map[invdomain.ItemKey]int
	ratio   map[invdomain.ItemKey]int
}

func newStockPool(av map[invdomain.ItemKey]invdomain.Availability) *stockPool {
	p := &stockPool{
		parent:  make(map[string]int),
		variant: make(map[invdomain.ItemKey]int),
		ratio:   make(map[invdomain.ItemKey]int),
	}
	for item, a := range av {
		if item.IsVariant() {
			p.variant[item] = a.Direct
			p.ratio[item] = a.ConversionRatio
			p.parent[item.ProductID] = a.ParentAvailable
		} else {
			p.parent[item.ProductID] = a.Direct
		}
	}
	return p
}

func (p *stockPool) clone() *stockPool {
	c := &stockPool{
		parent:  make(map[string]int, len(p.parent)),
		variant: make(map[invdomain.ItemKey]int, len(p.variant)),
		ratio:   p.ratio,
	}
	for k, v := range p.parent {
		c.parent[k] = v
	}
	for k, v := range p.variant {
		c.variant[k] = v
	}
	return c
}

func (p *stockPool) sellable(item invdomain.ItemKey) int {
	if !item.IsVariant() {
		return p.parent[item.ProductID]
	}
	n := p.variant[item]
	if r := p.ratio[item]; r > 0 {
		n += p.parent[item.ProductID] / r
	}
	return n
}

func (p *stockPool) take(item invdomain.ItemKey, qty int) {
	if !item.IsVariant() {
		p.parent[item.ProductID] -= qty
		return
	}
	direct := min(qty, p.variant[item])
	p.variant[item] -= direct
	p.parent[item.ProductID] -= (qty - direct) * p.ratio[item]
}

// buildPlan 是纯函数：同样的订单、地点与库存视图总是得到同样的计划。
//
// 优先选择能独立满足整单的地点（可售总量大者优先，再按地点 ID）；
// 否则按数量降序逐行贪心分配到剩余可售量最大的地点。
func buildPlan(order *domain.RoutableOrder, locations []domain.Location, avail []map[invdomain.ItemKey]invdomain.Availability) *domain.Plan {
	lines := mergeLines(order.Lines)
	items := distinctItems(lines)

	pools := make([]*stockPool, len(locations))
	totals := make([]int, len(locations))
	for i := range locations {
		pools[i] = newStockPool(avail[i])
		for _, it := range items {
			totals[i] += pools[i].sellable(it)
		}
	}

	// 地点 i 是否优于 j：总可售量大者优先，相同则 ID 小者优先。
	preferred := func(i, j int) bool {
		if totals[i] != totals[j] {
			return totals[i] > totals[j]
		}
		return locations[i].ID < locations[j].ID
	}

	single := -1
	for i := range locations {
		if !coversAll(pools[i].clone(), lines) {
			continue
		}
		if single < 0 || preferred(i, single) {
			single = i
		}
	}
	if single >= 0 {
		return &domain.Plan{
			OrderID: order.OrderID,
			Assignments: []domain.Assignment{
				newAssignment(order.OrderID, locations[single].ID, domain.FulfillmentSingle, lines),
			},
		}
	}

	byLocation := make(map[int][]domain.Line)
	var unassigned []domain.Line
	for _, l := range lines {
		best, bestSellable := -1, 0
		for i := range locations {
			s := pools[i].sellable(l.Item)
			if s < l.Quantity {
				continue
			}
			if best < 0 || s > bestSellable || (s == bestSellable && preferred(i, best)) {
				best, bestSellable = i, s
			}
		}
		if best < 0 {
			unassigned = append(unassigned, l)
			continue
		}
		pools[best].take(l.Item, l.Quantity)
		byLocation[best] = append(byLocation[best], l)
	}

	idx := make([]int, 0, len(byLocation))
	for i := range byLocation {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return locations[idx[a]].ID < locations[idx[b]].ID })

	typ := domain.FulfillmentSplit
	if len(idx) == 1 {
		typ = domain.FulfillmentSingle
	}
	plan := &domain.Plan{OrderID: order.OrderID, Unassigned: unassigned}
	for _, i := range idx {
		plan.Assignments = append(plan.Assignments, newAssignment(order.OrderID, locations[i].ID, typ, byLocation[i]))
	}
	return plan
}

func coversAll(p *stockPool, lines []domain.Line) bool {
	for _, l := range lines {
		if p.sellable(l.Item) < l.Quantity {
			return false
		}
		p.take(l.Item, l.Quantity)
	}
	return true
}

func newAssignment(orderID, locationID string, typ domain.FulfillmentType, lines []domain.Line) domain.Assignment {
	items := append([]domain.Line(nil), lines...)
	sort.Slice(items, func(i, j int) bool { return items[i].Item.Less(items[j].Item) })
	count := 0
	for _, l := range items {
		count += l.Quantity
	}
	return domain.Assignment{
		OrderID:         orderID,
		LocationID:      locationID,
		FulfillmentType: typ,
		ItemCount:       count,
		Items:           items,
	}
}

// mergeLines 合并同一商品的多行，并按数量降序、商品键升序排列。
func mergeLines(lines []domain.Line) []domain.Line {
	qty := make(map[invdomain.ItemKey]int, len(lines))
	for _, l := range lines {
		qty[l.Item] += l.Quantity
	}
	out := make([]domain.Line, 0, len(qty))
	for item, q := range qty {
		out = append(out, domain.Line{Item: item, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].Item.Less(out[j].Item)
	})
	return out
}
