package application

import (
	"context"
	"errors"
	"fmt"

	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/pkg/metrics"
	"checkoutcore/internal/service/inventory/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Ledger 是库存账本的管理与查询入口：入库、盘点调整、变体定义以及路由用的可用量视图。
type Ledger struct {
	store   domain.Store
	tracer  trace.Tracer
	metrics *metrics.Metrics
	opts    options
}

func NewLedger(store domain.Store, tracer trace.Tracer, m *metrics.Metrics, opts ...Option) *Ledger {
	return &Ledger{store: store, tracer: tracer, metrics: m, opts: buildOptions(opts)}
}

// Receive 登记一次到货。父商品记录不存在时自动创建；变体必须先通过 DefineVariant 定义。
func (l *Ledger) Receive(ctx context.Context, item domain.ItemKey, locationID string, qty int, reference string) error {
	ctx, span := l.tracer.Start(ctx, "ledger.Receive", trace.WithAttributes(
		attribute.String("item", item.String()),
		attribute.String("location.id", locationID),
		attribute.Int("quantity", qty),
	))
	defer span.End()

	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	err := l.mutate(ctx, item, locationID, func(rec *domain.InventoryRecord, v *domain.VariantRecord) error {
		if v != nil {
			v.Quantity += qty
		} else {
			rec.OnHand += qty
		}
		return nil
	}, domain.MovementReceipt, qty, reference)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "receive failed")
		return err
	}
	logger.Ctx(ctx).Info().Str("item", item.String()).Str("location_id", locationID).Int("quantity", qty).Msg("Stock received")
	return nil
}

// Adjust 按盘点结果修正在库数量，修正后在库不能低于已预留数量。
func (l *Ledger) Adjust(ctx context.Context, item domain.ItemKey, locationID string, delta int, reason string) error {
	ctx, span := l.tracer.Start(ctx, "ledger.Adjust", trace.WithAttributes(
		attribute.String("item", item.String()),
		attribute.String("location.id", locationID),
		attribute.Int("delta", delta),
	))
	defer span.End()

	if delta == 0 {
		return domain.ErrInvalidQuantity
	}
	err := l.mutate(ctx, item, locationID, func(rec *domain.InventoryRecord, v *domain.VariantRecord) error {
		if v != nil {
			if v.Quantity+delta < v.Reserved {
				return domain.ErrBelowReserved
			}
			v.Quantity += delta
			return nil
		}
		if rec.OnHand+delta < rec.Reserved {
			return domain.ErrBelowReserved
		}
		rec.OnHand += delta
		return nil
	}, domain.MovementAdjustment, delta, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "adjust failed")
		return err
	}
	logger.Ctx(ctx).Info().Str("item", item.String()).Str("location_id", locationID).Int("delta", delta).Str("reason", reason).Msg("Stock adjusted")
	return nil
}

// mutate 在事务内锁定单行、应用变更并追加一条流水。
func (l *Ledger) mutate(ctx context.Context, item domain.ItemKey, locationID string,
	change func(rec *domain.InventoryRecord, v *domain.VariantRecord) error,
	typ domain.MovementType, delta int, reference string) error {

	return retryOnContention(ctx, l.opts.retry, l.metrics, string(typ), func() error {
		return l.store.WithinTx(ctx, func(tx domain.Tx) error {
			now := l.opts.now()
			if item.IsVariant() {
				v, err := tx.LockVariant(item.ProductID, item.VariantID, locationID)
				if err != nil {
					if errors.Is(err, domain.ErrRecordNotFound) {
						return fmt.Errorf("variant %s@%s is not defined: %w", item, locationID, err)
					}
					return err
				}
				if err := change(nil, v); err != nil {
					return err
				}
				v.UpdatedAt = now
				if err := tx.SaveVariant(v); err != nil {
					return err
				}
			} else {
				rec, err := tx.LockRecord(item.ProductID, locationID)
				if errors.Is(err, domain.ErrRecordNotFound) {
					rec, err = &domain.InventoryRecord{ProductID: item.ProductID, LocationID: locationID}, nil
				}
				if err != nil {
					return err
				}
				if err := change(rec, nil); err != nil {
					return err
				}
				rec.UpdatedAt = now
				if err := tx.SaveRecord(rec); err != nil {
					return err
				}
			}
			return tx.AppendMovement(domain.NewMovement(item, locationID, typ, delta, reference, now))
		})
	})
}

// DefineVariant 创建变体库存记录或更新它的转换比例。
func (l *Ledger) DefineVariant(ctx context.Context, item domain.ItemKey, locationID string, ratio int) error {
	if !item.IsVariant() {
		return fmt.Errorf("define variant: %w", domain.ErrInvalidClaim)
	}
	if ratio < 1 {
		return domain.ErrInvalidRatio
	}
	return retryOnContention(ctx, l.opts.retry, l.metrics, "define_variant", func() error {
		return l.store.WithinTx(ctx, func(tx domain.Tx) error {
			v, err := tx.LockVariant(item.ProductID, item.VariantID, locationID)
			if errors.Is(err, domain.ErrRecordNotFound) {
				v, err = &domain.VariantRecord{ProductID: item.ProductID, VariantID: item.VariantID, LocationID: locationID}, nil
			}
			if err != nil {
				return err
			}
			v.ConversionRatio = ratio
			v.UpdatedAt = l.opts.now()
			return tx.SaveVariant(v)
		})
	})
}

func (l *Ledger) Record(ctx context.Context, productID, locationID string) (*domain.InventoryRecord, error) {
	return l.store.Record(ctx, productID, locationID)
}

func (l *Ledger) Variant(ctx context.Context, item domain.ItemKey, locationID string) (*domain.VariantRecord, error) {
	return l.store.Variant(ctx, item.ProductID, item.VariantID, locationID)
}

func (l *Ledger) Movements(ctx context.Context, reference string) ([]domain.StockMovement, error) {
	return l.store.MovementsByReference(ctx, reference)
}

// Availability 返回某地点上各商品的可用量视图，未登记的商品可用量为 0。
func (l *Ledger) Availability(ctx context.Context, locationID string, items []domain.ItemKey) (map[domain.ItemKey]domain.Availability, error) {
	productSet := make(map[string]struct{}, len(items))
	hasVariant := false
	for _, it := range items {
		productSet[it.ProductID] = struct{}{}
		hasVariant = hasVariant || it.IsVariant()
	}
	productIDs := make([]string, 0, len(productSet))
	for p := range productSet {
		productIDs = append(productIDs, p)
	}

	records, err := l.store.RecordsAt(ctx, locationID, productIDs)
	if err != nil {
		return nil, err
	}
	parentAvail := make(map[string]int, len(records))
	for _, r := range records {
		parentAvail[r.ProductID] = max(r.Available(), 0)
	}

	variantRecs := make(map[domain.ItemKey]domain.VariantRecord)
	if hasVariant {
		variants, err := l.store.VariantsAt(ctx, locationID, productIDs)
		if err != nil {
			return nil, err
		}
		for _, v := range variants {
			variantRecs[v.Key()] = v
		}
	}

	out := make(map[domain.ItemKey]domain.Availability, len(items))
	for _, it := range items {
		if !it.IsVariant() {
			out[it] = domain.Availability{Direct: parentAvail[it.ProductID]}
			continue
		}
		v, ok := variantRecs[it]
		if !ok {
			out[it] = domain.Availability{}
			continue
		}
		out[it] = domain.Availability{
			Direct:          max(v.Available(), 0),
			ParentAvailable: parentAvail[it.ProductID],
			ConversionRatio: v.ConversionRatio,
		}
	}
	return out, nil
}
