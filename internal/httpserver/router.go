package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"prepgate/internal/auth"
	"prepgate/internal/checkout"
	"prepgate/internal/entitlement"
	"prepgate/internal/httpserver/handlers"
	"prepgate/internal/purchase"
	"prepgate/internal/webhook"
)

// Deps carries the engine components the routes close over. Everything is
// constructed in main and injected; no package-level state.
type Deps struct {
	DB       *gorm.DB
	Grants   *entitlement.GrantStore
	Resolver *entitlement.Resolver
	Bundles  *entitlement.BundleAccessManager
	Ledger   *purchase.Ledger
	Linker   *purchase.Linker
	Webhooks *webhook.Processor
	Checkout *checkout.Service
}

func NewRouter(d Deps, lg *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)

	r.Post("/v1/auth/register", handlers.Register(d.DB, d.Linker, lg))
	r.Post("/v1/auth/login", handlers.Login(d.DB, lg))

	// Inbound processor events; authenticity comes from the signature, not
	// a bearer token.
	r.Post("/v1/webhooks/stripe", handlers.StripeWebhook(d.DB, d.Webhooks, lg))

	// Checkout works for guests too, so auth is optional here.
	r.Group(func(public chi.Router) {
		public.Use(auth.OptionalJWT(d.DB))
		public.Post("/v1/checkout/session", handlers.CreateCheckoutSession(d.DB, d.Checkout, lg))
	})

	r.Group(func(protected chi.Router) {
		protected.Use(auth.JWTAuth(d.DB))
		protected.Get("/v1/me", handlers.Me(d.DB, lg))
		protected.Post("/v1/auth/logout", handlers.Logout(d.DB))
		protected.Get("/v1/access/{company}/{role}", handlers.CheckAccess(d.Resolver, lg))
		protected.Get("/v1/purchases", handlers.MyPurchases(d.Ledger, lg))
		protected.Group(func(admin chi.Router) {
			admin.Use(auth.RequireRole("Administrator"))
			admin.Post("/v1/admin/grants", handlers.AdminCreateGrant(d.DB, d.Bundles, d.Grants, lg))
			admin.Post("/v1/admin/grants/revoke", handlers.AdminRevokeGrant(d.DB, d.Bundles, lg))
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())
	return r
}
