package infrastructure

import (
	"context"

	"checkoutcore/internal/pkg/config"
	"checkoutcore/internal/service/routing/domain"
)

// ConfigDirectory 从配置文件中的商家列表构建地点目录。
type ConfigDirectory struct {
	byVendor    map[string][]domain.Location
	eligibility map[string]string
}

func NewConfigDirectory(vendors []config.VendorConfig) *ConfigDirectory {
	d := &ConfigDirectory{
		byVendor:    make(map[string][]domain.Location, len(vendors)),
		eligibility: make(map[string]string, len(vendors)),
	}
	for _, v := range vendors {
		d.eligibility[v.ID] = v.Eligibility
		for _, l := range v.Locations {
			d.byVendor[v.ID] = append(d.byVendor[v.ID], domain.Location{
				ID:       l.ID,
				VendorID: v.ID,
				Name:     l.Name,
				Region:   l.Region,
				Active:   l.Active,
			})
		}
	}
	return d
}

func (d *ConfigDirectory) Locations(_ context.Context, vendorID string) ([]domain.Location, error) {
	locs, ok := d.byVendor[vendorID]
	if !ok {
		return nil, domain.ErrUnknownVendor
	}
	return append([]domain.Location(nil), locs...), nil
}

// Eligibility 返回每个商家配置的 CEL 资格表达式。
func (d *ConfigDirectory) Eligibility() map[string]string {
	out := make(map[string]string, len(d.eligibility))
	for k, v := range d.eligibility {
		out[k] = v
	}
	return out
}
