package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"prepgate/internal/models"
)

// Grants with no explicit expiry get a far-future horizon rather than a
// NULL column, so "active" is always a single timestamp comparison.
const defaultGrantHorizonYears = 100

// GrantOptions carries the optional parts of a grant insert.
type GrantOptions struct {
	PurchaseID *string
	Source     models.GrantSource
	ExpiresAt  time.Time
}

// GrantStore is durable CRUD over access grants. All exclusivity lives in
// the store's unique index; there is no in-process locking, so the store is
// correct across multiple service instances.
type GrantStore struct {
	db *gorm.DB
}

func NewGrantStore(db *gorm.DB) *GrantStore {
	return &GrantStore{db: db}
}

// InsertOrGet creates a grant for the (user, company, role) tuple, where a
// nil company or role means wildcard. A uniqueness conflict is not an
// error: the insert degrades to a lookup of the winning row, which makes
// grant creation idempotent under retried webhooks and racing instances.
// Callers must not assume the returned grant is the one their call created;
// the second return value says whether a new row was written.
func (s *GrantStore) InsertOrGet(ctx context.Context, userID string, company, role *string, opts GrantOptions) (*models.AccessGrant, bool, error) {
	now := time.Now()
	expires := opts.ExpiresAt
	if expires.IsZero() {
		expires = now.AddDate(defaultGrantHorizonYears, 0, 0)
	}
	source := opts.Source
	if source == "" {
		source = models.SourcePurchase
	}
	g := models.AccessGrant{
		ID:          uuid.NewString(),
		UserID:      userID,
		CompanySlug: company,
		RoleSlug:    role,
		GrantedAt:   now,
		ExpiresAt:   expires,
		PurchaseID:  opts.PurchaseID,
		Source:      source,
	}
	err := s.db.WithContext(ctx).Create(&g).Error
	if err == nil {
		return &g, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, err
	}
	existing, ferr := s.Find(ctx, userID, company, role)
	if ferr != nil {
		return nil, false, ferr
	}
	if existing == nil {
		// Lost the race and the winner vanished between insert and lookup.
		return nil, false, err
	}
	if existing.ExpiresAt.Before(now) {
		// The tuple is occupied by a lapsed grant (short-lived promo that
		// ran out). Revive it with the new terms instead of failing.
		updates := map[string]any{
			"granted_at":  now,
			"expires_at":  expires,
			"source":      source,
			"purchase_id": opts.PurchaseID,
		}
		if err := s.db.WithContext(ctx).Model(&models.AccessGrant{}).
			Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return nil, false, err
		}
		existing.GrantedAt = now
		existing.ExpiresAt = expires
		existing.Source = source
		existing.PurchaseID = opts.PurchaseID
	}
	return existing, false, nil
}

// Revoke soft-deletes every grant matching the tuple: expiry is pulled to
// now and the source flips to refund_revoke, leaving the row as an audit
// record. Wildcards match with IS NULL, never equality.
func (s *GrantStore) Revoke(ctx context.Context, userID string, company, role *string) (int64, error) {
	res := scopeWhere(s.db.WithContext(ctx).Model(&models.AccessGrant{}).
		Where("user_id = ? AND source <> ?", userID, models.SourceRefundRevoke), company, role).
		Updates(map[string]any{
			"expires_at": time.Now(),
			"source":     models.SourceRefundRevoke,
		})
	return res.RowsAffected, res.Error
}

// ListActive returns the user's unexpired grants, newest first. The order
// doubles as the tie-break policy when a data repair has left more than one
// active grant in the same tier.
func (s *GrantStore) ListActive(ctx context.Context, userID string) ([]models.AccessGrant, error) {
	var grants []models.AccessGrant
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires_at >= ?", userID, time.Now()).
		Order("granted_at DESC").
		Find(&grants).Error
	return grants, err
}

// Find looks up the exact tuple regardless of expiry; nil means absent.
func (s *GrantStore) Find(ctx context.Context, userID string, company, role *string) (*models.AccessGrant, error) {
	var g models.AccessGrant
	err := scopeWhere(s.db.WithContext(ctx).Where("user_id = ?", userID), company, role).
		Order("granted_at DESC").
		First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scopeWhere(tx *gorm.DB, company, role *string) *gorm.DB {
	if company == nil {
		tx = tx.Where("company_slug IS NULL")
	} else {
		tx = tx.Where("company_slug = ?", *company)
	}
	if role == nil {
		tx = tx.Where("role_slug IS NULL")
	} else {
		tx = tx.Where("role_slug = ?", *role)
	}
	return tx
}
