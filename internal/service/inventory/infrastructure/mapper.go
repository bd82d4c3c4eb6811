package infrastructure

import "checkoutcore/internal/service/inventory/domain"

func toDomainRecord(m *InventoryRecordModel) *domain.InventoryRecord {
	return &domain.InventoryRecord{
		ProductID:  m.ProductID,
		LocationID: m.LocationID,
		OnHand:     m.OnHand,
		Reserved:   m.Reserved,
		UpdatedAt:  m.UpdatedAt,
	}
}

func fromDomainRecord(r *domain.InventoryRecord) *InventoryRecordModel {
	return &InventoryRecordModel{
		ProductID:  r.ProductID,
		LocationID: r.LocationID,
		OnHand:     r.OnHand,
		Reserved:   r.Reserved,
		UpdatedAt:  r.UpdatedAt,
	}
}

func toDomainVariant(m *VariantRecordModel) *domain.VariantRecord {
	return &domain.VariantRecord{
		ProductID:       m.ProductID,
		VariantID:       m.VariantID,
		LocationID:      m.LocationID,
		Quantity:        m.Quantity,
		Reserved:        m.Reserved,
		ConversionRatio: m.ConversionRatio,
		UpdatedAt:       m.UpdatedAt,
	}
}

func fromDomainVariant(v *domain.VariantRecord) *VariantRecordModel {
	return &VariantRecordModel{
		ProductID:       v.ProductID,
		VariantID:       v.VariantID,
		LocationID:      v.LocationID,
		Quantity:        v.Quantity,
		Reserved:        v.Reserved,
		ConversionRatio: v.ConversionRatio,
		UpdatedAt:       v.UpdatedAt,
	}
}

func toDomainHold(m *HoldModel) *domain.Hold {
	claims := make([]domain.Claim, 0, len(m.Claims))
	for _, c := range m.Claims {
		claims = append(claims, domain.Claim{
			Item:             domain.ItemKey{ProductID: c.ProductID, VariantID: c.VariantID},
			LocationID:       c.LocationID,
			Quantity:         c.Quantity,
			FromVariantStock: c.FromVariantStock,
			Conversion: domain.ConversionMetadata{
				VariantTemplateID: c.VariantTemplateID,
				ConversionApplied: c.ConversionApplied,
				ConvertedQuantity: c.ConvertedQuantity,
				ConvertedUnits:    c.ConvertedUnits,
			},
		})
	}
	return &domain.Hold{
		ID:        m.ID,
		OrderID:   m.OrderID,
		Claims:    claims,
		State:     domain.HoldState(m.State),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func fromDomainHold(h *domain.Hold) *HoldModel {
	claims := make([]HoldClaimModel, 0, len(h.Claims))
	for _, c := range h.Claims {
		claims = append(claims, HoldClaimModel{
			HoldID:            h.ID,
			ProductID:         c.Item.ProductID,
			VariantID:         c.Item.VariantID,
			LocationID:        c.LocationID,
			Quantity:          c.Quantity,
			FromVariantStock:  c.FromVariantStock,
			VariantTemplateID: c.Conversion.VariantTemplateID,
			ConversionApplied: c.Conversion.ConversionApplied,
			ConvertedQuantity: c.Conversion.ConvertedQuantity,
			ConvertedUnits:    c.Conversion.ConvertedUnits,
		})
	}
	return &HoldModel{
		ID:            h.ID,
		OrderID:       h.OrderID,
		ActiveOrderID: activeOrderID(h),
		State:         string(h.State),
		CreatedAt:     h.CreatedAt,
		UpdatedAt:     h.UpdatedAt,
		Claims:        claims,
	}
}

func activeOrderID(h *domain.Hold) *string {
	if !h.IsActive() {
		return nil
	}
	id := h.OrderID
	return &id
}

func toDomainMovement(m *StockMovementModel) domain.StockMovement {
	return domain.StockMovement{
		ID:                m.ID,
		Item:              domain.ItemKey{ProductID: m.ProductID, VariantID: m.VariantID},
		LocationID:        m.LocationID,
		Type:              domain.MovementType(m.Type),
		QuantityDelta:     m.QuantityDelta,
		ConvertedQuantity: m.ConvertedQuantity,
		Reference:         m.Reference,
		CreatedAt:         m.CreatedAt,
	}
}

func fromDomainMovement(m *domain.StockMovement) *StockMovementModel {
	return &StockMovementModel{
		ID:                m.ID,
		ProductID:         m.Item.ProductID,
		VariantID:         m.Item.VariantID,
		LocationID:        m.LocationID,
		Type:              string(m.Type),
		QuantityDelta:     m.QuantityDelta,
		ConvertedQuantity: m.ConvertedQuantity,
		Reference:         m.Reference,
		CreatedAt:         m.CreatedAt,
	}
}
