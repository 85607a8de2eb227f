package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tulparexpress/autopost-bot/internal/models"
)

var ErrInvoiceNotFound = errors.New("invoice not found")

// InvoiceRepository owns the `payments` table and the atomic
// PENDING->PAID transition the webhook's finalise() depends on for
// idempotency (§5, §9).
type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

func (r *InvoiceRepository) Create(inv *models.Invoice) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	if inv.Status == "" {
		inv.Status = models.InvoicePending
	}
	if err := r.db.Create(inv).Error; err != nil {
		return fmt.Errorf("failed to insert invoice %s: %w", inv.PaymentID, err)
	}
	return nil
}

func (r *InvoiceRepository) ByPaymentID(paymentID string) (*models.Invoice, error) {
	var inv models.Invoice
	err := r.db.Where("payment_id = ?", paymentID).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice %s: %w", paymentID, err)
	}
	return &inv, nil
}

// FinaliseToPaid performs the idempotent, race-safe PENDING->PAID
// transition: the WHERE clause only matches a still-pending row, so a
// duplicate callback or a concurrent check-status poll can never
// apply the transition twice. It reports whether this call was the
// one that actually applied it.
func (r *InvoiceRepository) FinaliseToPaid(paymentID string) (applied bool, err error) {
	now := time.Now().UTC()
	result := r.db.Model(&models.Invoice{}).
		Where("payment_id = ? AND status = ?", paymentID, models.InvoicePending).
		Updates(map[string]interface{}{
			"status":  models.InvoicePaid,
			"paid_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to finalise invoice %s: %w", paymentID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// SetStatus applies any other (non-PAID) status transition reported
// by the gateway — cancellation, expiry, partial/full refund.
func (r *InvoiceRepository) SetStatus(paymentID string, status models.InvoiceStatus) error {
	result := r.db.Model(&models.Invoice{}).
		Where("payment_id = ?", paymentID).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to set status for invoice %s: %w", paymentID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}
