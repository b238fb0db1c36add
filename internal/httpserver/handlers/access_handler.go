package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"prepgate/internal/auth"
	"prepgate/internal/entitlement"
	"prepgate/internal/metrics"
)

// CheckAccess gates premium content: page and API collaborators call it to
// learn whether the authenticated user may see a (company, role) package.
func CheckAccess(resolver *entitlement.Resolver, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		company := chi.URLParam(r, "company")
		role := chi.URLParam(r, "role")
		if !entitlement.ValidSlug(company) || !entitlement.ValidSlug(role) {
			http.Error(w, "malformed company or role slug", http.StatusBadRequest)
			return
		}
		res, err := resolver.Resolve(r.Context(), auth.Subject(r.Context()), company, role)
		if err != nil {
			lg.Errorw("access resolution failed", "company", company, "role", role, "error", err)
			http.Error(w, "access check failed", http.StatusInternalServerError)
			return
		}
		if res.HasAccess {
			metrics.AccessChecksTotal.WithLabelValues("granted").Inc()
		} else {
			metrics.AccessChecksTotal.WithLabelValues("denied").Inc()
		}
		respondJSON(w, res)
	}
}
