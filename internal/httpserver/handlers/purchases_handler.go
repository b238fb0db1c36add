package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"prepgate/internal/auth"
	"prepgate/internal/purchase"
)

// MyPurchases lists the authenticated user's purchase history.
func MyPurchases(ledger *purchase.Ledger, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, err := ledger.ListByUser(r.Context(), auth.Subject(r.Context()))
		if err != nil {
			lg.Errorw("purchase listing failed", "error", err)
			http.Error(w, "listing failed", http.StatusInternalServerError)
			return
		}
		respondJSON(w, ps)
	}
}
