package purchase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"prepgate/internal/models"
)

// Ledger is the durable record of completed and refunded purchases. The
// processor's checkout-session id is unique, which is what makes webhook
// processing idempotent: the ledger never holds two rows for one session.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Create writes a purchase row, assigning an id when the caller left it
// empty. A duplicate session id surfaces as gorm.ErrDuplicatedKey; callers
// are expected to have consulted BySessionID first, so hitting the
// constraint means a concurrent delivery won the race.
func (l *Ledger) Create(ctx context.Context, p *models.Purchase) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PurchaseCompleted
	}
	return l.db.WithContext(ctx).Create(p).Error
}

// BySessionID returns the purchase for a processor session id, or nil.
func (l *Ledger) BySessionID(ctx context.Context, sessionID string) (*models.Purchase, error) {
	var p models.Purchase
	err := l.db.WithContext(ctx).First(&p, "processor_session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ByPaymentReference locates a purchase via the processor's charge/payment
// reference. Refund events carry this, not the session id.
func (l *Ledger) ByPaymentReference(ctx context.Context, ref string) (*models.Purchase, error) {
	var p models.Purchase
	err := l.db.WithContext(ctx).First(&p, "processor_payment_ref = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkRefunded flips the purchase status; the row itself is never deleted.
func (l *Ledger) MarkRefunded(ctx context.Context, id string) error {
	return l.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("id = ?", id).
		Update("status", models.PurchaseRefunded).Error
}

// ListByUser returns a user's purchases, newest first.
func (l *Ledger) ListByUser(ctx context.Context, userID string) ([]models.Purchase, error) {
	var ps []models.Purchase
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&ps).Error
	return ps, err
}

// CreateGuest records a completed checkout that carried no account. Emails
// are stored lowercased so later linking is case-insensitive.
func (l *Ledger) CreateGuest(ctx context.Context, gp *models.GuestPurchase) error {
	if gp.ID == "" {
		gp.ID = uuid.NewString()
	}
	gp.Email = strings.ToLower(strings.TrimSpace(gp.Email))
	return l.db.WithContext(ctx).Create(gp).Error
}

// GuestBySessionID returns the guest purchase for a session id, or nil.
func (l *Ledger) GuestBySessionID(ctx context.Context, sessionID string) (*models.GuestPurchase, error) {
	var gp models.GuestPurchase
	err := l.db.WithContext(ctx).First(&gp, "processor_session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &gp, nil
}

// UnlinkedByEmail returns every guest purchase for the email that no
// account has claimed yet.
func (l *Ledger) UnlinkedByEmail(ctx context.Context, email string) ([]models.GuestPurchase, error) {
	var gps []models.GuestPurchase
	err := l.db.WithContext(ctx).
		Where("email = ? AND linked_user_id IS NULL", strings.ToLower(strings.TrimSpace(email))).
		Order("created_at ASC").
		Find(&gps).Error
	return gps, err
}

// MarkLinked claims a guest purchase for a user. The linked_user_id IS NULL
// predicate makes the transition one-shot: a row already claimed is not
// touched, so calling the linker twice cannot double-link.
func (l *Ledger) MarkLinked(ctx context.Context, guestPurchaseID, userID string) (bool, error) {
	res := l.db.WithContext(ctx).Model(&models.GuestPurchase{}).
		Where("id = ? AND linked_user_id IS NULL", guestPurchaseID).
		Updates(map[string]any{
			"linked_user_id": userID,
			"linked_at":      time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}
