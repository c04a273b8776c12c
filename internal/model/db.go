package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusCaptured  OrderStatus = "CAPTURED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

type PaymentMethod string

const (
	PaymentMethodPaypal PaymentMethod = "paypal"
	PaymentMethodCard   PaymentMethod = "card"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type Order struct {
	OrderID       string          `gorm:"primaryKey;size:64;not null"` // local ticket order id
	UserID        string          `gorm:"size:64;index"`
	EventID       string          `gorm:"size:64;index"`
	PaypalOrderID string          `gorm:"size:64;index"`
	PayerID       string          `gorm:"size:32"`
	CaptureID     string          `gorm:"size:64"`
	Status        OrderStatus     `gorm:"size:32;index;not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency      string          `gorm:"size:8;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Payment struct {
	TransactionID string `gorm:"primaryKey;size:64;not null"`
	// paypal:<paypal order id> or card:<order id>
	IdempotencyKey string          `gorm:"size:128;uniqueIndex;not null"`
	OrderID        string          `gorm:"size:64;index;not null"`
	UserID         string          `gorm:"size:64;index"`
	EventID        string          `gorm:"size:64"`
	PaypalOrderID  string          `gorm:"size:64"`
	PayerID        string          `gorm:"size:32"`
	Method         PaymentMethod   `gorm:"size:16;not null"`
	Status         PaymentStatus   `gorm:"size:16;not null"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency       string          `gorm:"size:8;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;uniqueIndex;not null"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}

// KVEntry backs the sqlite flavour of the checkout intent store.
type KVEntry struct {
	Key       string `gorm:"primaryKey;size:191;not null"`
	Value     []byte `gorm:"not null"`
	ExpiresAt *time.Time
	UpdatedAt time.Time
}
