package entitlement

import (
	"context"
	"time"

	"prepgate/internal/models"
)

// Resolution is the answer to "may this user see (company, role)".
type Resolution struct {
	HasAccess bool               `json:"has_access"`
	GrantID   string             `json:"grant_id,omitempty"`
	Source    models.GrantSource `json:"source,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
}

// Resolver decides access by applying a fixed precedence over the user's
// active grants. It never writes.
type Resolver struct {
	grants *GrantStore
}

func NewResolver(grants *GrantStore) *Resolver {
	return &Resolver{grants: grants}
}

// Resolve checks the four grant shapes in fixed priority order, stopping at
// the first match: exact (company, role), then company bundle, then role
// bundle, then full access. The order matters: an exact grant must win over
// a covering bundle so its id and metadata are the ones reported, while the
// bundle still answers for every other role at that company. Within a tier,
// grants arrive newest-first from the store, so an administrative
// double-grant resolves to the latest row instead of failing.
func (r *Resolver) Resolve(ctx context.Context, userID, company, role string) (Resolution, error) {
	grants, err := r.grants.ListActive(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}
	tiers := []func(g models.AccessGrant) bool{
		func(g models.AccessGrant) bool {
			return matches(g.CompanySlug, company) && matches(g.RoleSlug, role)
		},
		func(g models.AccessGrant) bool {
			return matches(g.CompanySlug, company) && g.RoleSlug == nil
		},
		func(g models.AccessGrant) bool {
			return g.CompanySlug == nil && matches(g.RoleSlug, role)
		},
		func(g models.AccessGrant) bool {
			return g.CompanySlug == nil && g.RoleSlug == nil
		},
	}
	for _, match := range tiers {
		for i := range grants {
			if match(grants[i]) {
				expires := grants[i].ExpiresAt
				return Resolution{
					HasAccess: true,
					GrantID:   grants[i].ID,
					Source:    grants[i].Source,
					ExpiresAt: &expires,
				}, nil
			}
		}
	}
	return Resolution{}, nil
}

// HasAccess is the boolean convenience over Resolve.
func (r *Resolver) HasAccess(ctx context.Context, userID, company, role string) (bool, error) {
	res, err := r.Resolve(ctx, userID, company, role)
	return res.HasAccess, err
}

func matches(col *string, want string) bool {
	return col != nil && *col == want
}
