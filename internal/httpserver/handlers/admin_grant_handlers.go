package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"prepgate/internal/auth"
	"prepgate/internal/entitlement"
	"prepgate/internal/models"
)

type adminGrantReq struct {
	UserID      string     `json:"user_id"`
	AccessType  string     `json:"access_type"`
	CompanySlug string     `json:"company_slug,omitempty"`
	RoleSlug    string     `json:"role_slug,omitempty"`
	Source      string     `json:"source,omitempty"` // admin (default) or promo
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// AdminCreateGrant lets operators grant access outside the purchase flow,
// for support cases and promotions.
func AdminCreateGrant(db *gorm.DB, bundles *entitlement.BundleAccessManager, grants *entitlement.GrantStore, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req adminGrantReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "user_id required", http.StatusBadRequest)
			return
		}
		scope, err := entitlement.ParseScope(req.AccessType, req.CompanySlug, req.RoleSlug)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		source := models.SourceAdmin
		if req.Source == string(models.SourcePromo) {
			source = models.SourcePromo
		}

		var grant *models.AccessGrant
		if req.ExpiresAt != nil {
			company, role := scope.Columns()
			grant, _, err = grants.InsertOrGet(r.Context(), req.UserID, company, role, entitlement.GrantOptions{
				Source:    source,
				ExpiresAt: *req.ExpiresAt,
			})
		} else {
			grant, err = bundles.Grant(r.Context(), req.UserID, scope, nil, source)
		}
		if err != nil {
			lg.Errorw("admin grant failed", "user_id", req.UserID, "error", err)
			http.Error(w, "grant failed", http.StatusInternalServerError)
			return
		}
		auditGrantAction(db, lg, r, "admin_grant", grant.ID, req.UserID)
		respondJSON(w, grant)
	}
}

// AdminRevokeGrant revokes the grant matching the given scope tuple.
func AdminRevokeGrant(db *gorm.DB, bundles *entitlement.BundleAccessManager, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req adminGrantReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "user_id required", http.StatusBadRequest)
			return
		}
		scope, err := entitlement.ParseScope(req.AccessType, req.CompanySlug, req.RoleSlug)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n, err := bundles.Revoke(r.Context(), req.UserID, scope)
		if err != nil {
			if errors.Is(err, entitlement.ErrInvalidScope) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			lg.Errorw("admin revoke failed", "user_id", req.UserID, "error", err)
			http.Error(w, "revoke failed", http.StatusInternalServerError)
			return
		}
		auditGrantAction(db, lg, r, "admin_revoke", "", req.UserID)
		respondJSON(w, map[string]any{"revoked": n})
	}
}

func auditGrantAction(db *gorm.DB, lg *zap.SugaredLogger, r *http.Request, action, grantID, targetUserID string) {
	actor := auth.Subject(r.Context())
	meta, _ := json.Marshal(map[string]string{
		"grant_id":       grantID,
		"target_user_id": targetUserID,
	})
	entry := models.AuditLog{
		UserID:    &actor,
		Action:    action,
		Metadata:  models.JSONB(meta),
		CreatedAt: time.Now(),
	}
	if err := db.Create(&entry).Error; err != nil {
		lg.Errorw("audit log write failed", "action", action, "error", err)
	}
}
