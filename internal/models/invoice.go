package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the domain-level payment status, decoded from
// either of the upstream's two representations (numeric status_pay or
// string status) by the payment gateway — never exposed upstream of
// it (§9).
type InvoiceStatus string

const (
	InvoicePending       InvoiceStatus = "PENDING"
	InvoicePaid          InvoiceStatus = "PAID"
	InvoiceCancelled     InvoiceStatus = "CANCELLED"
	InvoiceExpired       InvoiceStatus = "EXPIRED"
	InvoiceProcessing    InvoiceStatus = "PROCESSING"
	InvoicePartialRefund InvoiceStatus = "PARTIAL_REFUND"
	InvoiceFullRefund    InvoiceStatus = "FULL_REFUND"
)

// Invoice is the durable record of one payment lifecycle. The
// transition to (Status=PAID) is strictly monotonic and idempotent:
// finalise() never re-applies it once already PAID.
type Invoice struct {
	ID            uint   `gorm:"primaryKey"`
	PaymentID     string `gorm:"uniqueIndex;size:64"`
	ClientRef     string `gorm:"size:64;index"`
	UserChannelID string `gorm:"size:64"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2)"`
	Description   string          `gorm:"size:500"`
	Status        InvoiceStatus   `gorm:"size:32;index"`
	QRPayload     *string         `gorm:"type:text"`
	MessageID     *string         `gorm:"size:64"`
	CreatedAt     time.Time
	PaidAt        *time.Time
}

func (Invoice) TableName() string { return "payments" }
