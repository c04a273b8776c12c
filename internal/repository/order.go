package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ticket-payments/internal/model"
)

var ErrOrderNotFound = errors.New("order not found")

type OrderRepository interface {
	Upsert(ctx context.Context, order *model.Order) error
	FindByOrderID(ctx context.Context, orderID string) (*model.Order, error)
	FindByPaypalOrderID(ctx context.Context, paypalOrderID string) (*model.Order, error)
	MarkCaptured(ctx context.Context, tx *gorm.DB, orderID, payerID, captureID string) error
	MarkCompleted(ctx context.Context, tx *gorm.DB, orderID string) error
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

// Upsert creates the order or, when the local order id already exists, points it at a new
// paypal order and resets it to CREATED. Completed orders are left alone.
func (r *orderRepoImpl) Upsert(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"paypal_order_id": gorm.Expr("CASE WHEN status = ? THEN paypal_order_id ELSE ? END", model.OrderStatusCompleted, order.PaypalOrderID),
			"status":          gorm.Expr("CASE WHEN status = ? THEN status ELSE ? END", model.OrderStatusCompleted, order.Status),
			"amount":          gorm.Expr("CASE WHEN status = ? THEN amount ELSE ? END", model.OrderStatusCompleted, order.Amount),
			"updated_at":      time.Now(),
		}),
	}).Create(order).Error
}

func (r *orderRepoImpl) FindByOrderID(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&order).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) FindByPaypalOrderID(ctx context.Context, paypalOrderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("paypal_order_id = ?", paypalOrderID).
		First(&order).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) MarkCaptured(ctx context.Context, tx *gorm.DB, orderID, payerID, captureID string) error {
	return tx.WithContext(ctx).Model(&model.Order{}).
		Where(`
			order_id = ?
			AND status = ?
		`,
			orderID,
			model.OrderStatusCreated,
		).
		Updates(map[string]interface{}{
			"status":     model.OrderStatusCaptured,
			"payer_id":   payerID,
			"capture_id": captureID,
			"updated_at": time.Now(),
		}).Error
}

func (r *orderRepoImpl) MarkCompleted(ctx context.Context, tx *gorm.DB, orderID string) error {
	return tx.WithContext(ctx).Model(&model.Order{}).
		Where(`
			order_id = ?
			AND status IN ?
		`,
			orderID,
			[]model.OrderStatus{model.OrderStatusCreated, model.OrderStatusCaptured},
		).
		Updates(map[string]interface{}{
			"status":     model.OrderStatusCompleted,
			"updated_at": time.Now(),
		}).Error
}
