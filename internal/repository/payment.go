package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ticket-payments/internal/model"
)

var ErrPaymentNotFound = errors.New("payment not found")

type PaymentRepository interface {
	// CreateIfAbsent inserts the payment unless one with the same idempotency key exists, and
	// returns the stored row either way. created reports whether this call inserted it.
	CreateIfAbsent(ctx context.Context, tx *gorm.DB, payment *model.Payment) (stored *model.Payment, created bool, err error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*model.Payment, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Payment, error)
}

type paymentRepoImpl struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepoImpl{
		db: db,
	}
}

func (r *paymentRepoImpl) CreateIfAbsent(ctx context.Context, tx *gorm.DB, payment *model.Payment) (*model.Payment, bool, error) {
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(payment)
	if result.Error != nil {
		return nil, false, result.Error
	}

	if result.RowsAffected == 1 {
		return payment, true, nil
	}

	var stored model.Payment
	err := tx.WithContext(ctx).
		Where("idempotency_key = ?", payment.IdempotencyKey).
		First(&stored).Error
	if err != nil {
		return nil, false, err
	}
	return &stored, false, nil
}

func (r *paymentRepoImpl) FindByIdempotencyKey(ctx context.Context, key string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&payment).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepoImpl) FindByTransactionID(ctx context.Context, transactionID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&payment).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepoImpl) ListByUser(ctx context.Context, userID string) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&payments).Error

	if err != nil {
		return nil, err
	}
	return payments, nil
}
