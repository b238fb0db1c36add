package main

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"prepgate/internal/auth"
	"prepgate/internal/checkout"
	"prepgate/internal/entitlement"
	"prepgate/internal/httpserver"
	"prepgate/internal/logger"
	"prepgate/internal/models"
	"prepgate/internal/purchase"
	"prepgate/internal/webhook"

	"github.com/google/uuid"
)

func main() {
	_ = godotenv.Load()
	lg := logger.New()
	defer lg.Sync()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		lg.Fatalw("DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		lg.Fatalw("db connect failed", "error", err)
	}
	if err := models.Migrate(db); err != nil {
		lg.Fatalw("migrate failed", "error", err)
	}
	seedRolesAndAdmin(db, lg)

	grants := entitlement.NewGrantStore(db)
	resolver := entitlement.NewResolver(grants)
	bundles := entitlement.NewBundleAccessManager(grants)
	ledger := purchase.NewLedger(db)
	linker := purchase.NewLinker(ledger, bundles, lg)

	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		lg.Fatalw("STRIPE_WEBHOOK_SECRET is empty")
	}
	processor := webhook.NewProcessor(webhookSecret, ledger, bundles, lg)

	// Explicitly constructed payment client, injected where needed.
	sessions := &stripesession.Client{
		B:   stripelib.GetBackend(stripelib.APIBackend),
		Key: os.Getenv("STRIPE_SECRET_KEY"),
	}
	checkoutSvc := checkout.NewService(sessions, checkout.Config{
		PriceIDs: map[entitlement.AccessType]string{
			entitlement.AccessSingle:        os.Getenv("STRIPE_PRICE_SINGLE"),
			entitlement.AccessCompanyBundle: os.Getenv("STRIPE_PRICE_COMPANY_BUNDLE"),
			entitlement.AccessRoleBundle:    os.Getenv("STRIPE_PRICE_ROLE_BUNDLE"),
			entitlement.AccessFull:          os.Getenv("STRIPE_PRICE_FULL"),
		},
		SuccessURL: os.Getenv("CHECKOUT_SUCCESS_URL"),
		CancelURL:  os.Getenv("CHECKOUT_CANCEL_URL"),
	}, lg)

	router := httpserver.NewRouter(httpserver.Deps{
		DB:       db,
		Grants:   grants,
		Resolver: resolver,
		Bundles:  bundles,
		Ledger:   ledger,
		Linker:   linker,
		Webhooks: processor,
		Checkout: checkoutSvc,
	}, lg)

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}
	lg.Infow("listening", "port", port)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatal(err)
	}
}

func seedRolesAndAdmin(db *gorm.DB, lg *zap.SugaredLogger) {
	db.Exec("INSERT INTO roles(name) VALUES ('Administrator') ON CONFLICT DO NOTHING")
	db.Exec("INSERT INTO roles(name) VALUES ('User') ON CONFLICT DO NOTHING")

	email := strings.ToLower(os.Getenv("ADMIN_EMAIL"))
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return
	}
	var count int64
	db.Model(&models.User{}).Where("LOWER(email) = ?", email).Count(&count)
	if count > 0 {
		return
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		lg.Errorw("admin seed hash failed", "error", err)
		return
	}
	u := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := db.Create(&u).Error; err == nil {
		var adminRole models.Role
		if err := db.First(&adminRole, "name = 'Administrator'").Error; err == nil {
			_ = db.Model(&u).Association("Roles").Append(&adminRole)
		}
		lg.Infow("seeded admin account", "email", email)
	}
}
