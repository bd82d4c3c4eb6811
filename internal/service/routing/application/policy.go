package application

import (
	"fmt"
	"strings"
	"sync"

	"checkoutcore/internal/service/routing/domain"

	"github.com/google/cel-go/cel"
)

// DefaultEligibility 是商家未配置资格表达式时使用的规则。
const DefaultEligibility = "location.active"

var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("location", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("order", cel.MapType(cel.StringType, cel.DynType)),
	)
})

// Policy 是一条编译好的 CEL 资格表达式，决定某地点能否参与某订单的路由。
//
// 可用变量:
//
//	location.id / location.name / location.region / location.vendor_id / location.active
//	order.id / order.vendor_id / order.line_count / order.unit_count
type Policy struct {
	expr string
	prg  cel.Program
}

func NewPolicy(expr string) (*Policy, error) {
	if strings.TrimSpace(expr) == "" {
		expr = DefaultEligibility
	}
	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("build cel env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile eligibility %q: %w", expr, iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("plan eligibility %q: %w", expr, err)
	}
	return &Policy{expr: expr, prg: prg}, nil
}

func (p *Policy) String() string { return p.expr }

func (p *Policy) Eligible(loc domain.Location, order *domain.RoutableOrder) (bool, error) {
	out, _, err := p.prg.Eval(map[string]any{
		"location": map[string]any{
			"id":        loc.ID,
			"name":      loc.Name,
			"region":    loc.Region,
			"vendor_id": loc.VendorID,
			"active":    loc.Active,
		},
		"order": map[string]any{
			"id":         order.OrderID,
			"vendor_id":  order.VendorID,
			"line_count": int64(len(order.Lines)),
			"unit_count": int64(order.TotalUnits()),
		},
	})
	if err != nil {
		return false, fmt.Errorf("evaluate eligibility %q: %w", p.expr, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("eligibility %q returned %T, want bool", p.expr, out.Value())
	}
	return ok, nil
}

// PolicySet 按商家保存资格策略。
type PolicySet struct {
	byVendor map[string]*Policy
	fallback *Policy
}

// NewPolicySet 编译所有商家的表达式，任一表达式非法都会返回错误。
func NewPolicySet(exprs map[string]string) (*PolicySet, error) {
	fallback, err := NewPolicy(DefaultEligibility)
	if err != nil {
		return nil, err
	}
	set := &PolicySet{byVendor: make(map[string]*Policy, len(exprs)), fallback: fallback}
	for vendor, expr := range exprs {
		p, err := NewPolicy(expr)
		if err != nil {
			return nil, fmt.Errorf("vendor %s: %w", vendor, err)
		}
		set.byVendor[vendor] = p
	}
	return set, nil
}

func (s *PolicySet) For(vendorID string) *Policy {
	if p, ok := s.byVendor[vendorID]; ok {
		return p
	}
	return s.fallback
}
