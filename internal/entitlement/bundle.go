package entitlement

import (
	"context"
	"fmt"

	"prepgate/internal/models"
)

// BundleAccessManager translates a purchased access shape into the grant
// tuple it implies, and the inverse for revocation. It is pure dispatch
// plus validation; all transactional behavior lives in GrantStore.
type BundleAccessManager struct {
	grants *GrantStore
}

func NewBundleAccessManager(grants *GrantStore) *BundleAccessManager {
	return &BundleAccessManager{grants: grants}
}

// Grant validates the scope, derives the storage tuple and inserts the
// grant idempotently. purchaseID may be nil for admin and promo grants.
func (m *BundleAccessManager) Grant(ctx context.Context, userID string, scope AccessScope, purchaseID *string, source models.GrantSource) (*models.AccessGrant, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	company, role := scope.Columns()
	grant, _, err := m.grants.InsertOrGet(ctx, userID, company, role, GrantOptions{
		PurchaseID: purchaseID,
		Source:     source,
	})
	if err != nil {
		return nil, fmt.Errorf("grant %s access: %w", scope.Type, err)
	}
	return grant, nil
}

// Revoke mirrors Grant with the same per-variant validation; revoking a
// company bundle without a company slug is an invalid-scope error, not a
// silent no-op. Returns how many grants were revoked.
func (m *BundleAccessManager) Revoke(ctx context.Context, userID string, scope AccessScope) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	company, role := scope.Columns()
	n, err := m.grants.Revoke(ctx, userID, company, role)
	if err != nil {
		return 0, fmt.Errorf("revoke %s access: %w", scope.Type, err)
	}
	return n, nil
}
