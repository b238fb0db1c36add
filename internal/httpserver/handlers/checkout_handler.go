package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"prepgate/internal/auth"
	"prepgate/internal/checkout"
	"prepgate/internal/entitlement"
	"prepgate/internal/metrics"
	"prepgate/internal/models"
)

type checkoutReq struct {
	CompanySlug string `json:"company_slug"`
	RoleSlug    string `json:"role_slug"`
	AccessType  string `json:"access_type"`
	Email       string `json:"email,omitempty"`
	SuccessURL  string `json:"success_url,omitempty"`
	CancelURL   string `json:"cancel_url,omitempty"`
}

// CreateCheckoutSession opens a processor checkout session. Guests may call
// it without a token; their purchase is linked to an account later.
func CreateCheckoutSession(db *gorm.DB, svc *checkout.Service, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkoutReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		accessType := req.AccessType
		if accessType == "" {
			accessType = string(entitlement.AccessSingle)
		}
		scope, err := entitlement.ParseScope(accessType, req.CompanySlug, req.RoleSlug)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		userID := auth.Subject(r.Context())
		email := req.Email
		if userID != "" {
			var u models.User
			if err := db.First(&u, "id = ?", userID).Error; err == nil {
				email = u.Email
			}
		}

		sess, err := svc.CreateSession(r.Context(), checkout.SessionRequest{
			UserID:     userID,
			Email:      email,
			Scope:      scope,
			SuccessURL: req.SuccessURL,
			CancelURL:  req.CancelURL,
		})
		if err != nil {
			metrics.CheckoutSessionsTotal.WithLabelValues("error").Inc()
			if errors.Is(err, entitlement.ErrInvalidScope) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			lg.Errorw("checkout session creation failed", "error", err)
			http.Error(w, "checkout failed, try again", http.StatusBadGateway)
			return
		}
		metrics.CheckoutSessionsTotal.WithLabelValues("created").Inc()
		respondJSON(w, map[string]any{"session_id": sess.ID, "url": sess.URL})
	}
}
