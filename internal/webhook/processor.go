package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"prepgate/internal/entitlement"
	"prepgate/internal/models"
	"prepgate/internal/purchase"
)

// Outcome classifies what a webhook delivery did. Only processed performed
// writes; duplicate, failed and ignored are all acknowledged to the sender
// so it stops retrying events that will never become resolvable.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
	OutcomeIgnored   Outcome = "ignored"
)

// Result is the structured answer for one delivery. A Result with Outcome
// failed is a recorded failure, not an error: the event was understood but
// cannot be acted on (missing metadata, unresolved refund target). Store
// errors are returned as real errors instead, so the transport signals
// failure upstream and the processor redelivers.
type Result struct {
	Outcome    Outcome `json:"outcome"`
	Message    string  `json:"message,omitempty"`
	PurchaseID string  `json:"purchase_id,omitempty"`
	GrantID    string  `json:"grant_id,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Outcome: OutcomeFailed, Message: fmt.Sprintf(format, args...)}
}

// Processor drives purchase completion and refund reversal from payment
// processor events. It is safe to invoke more than once per event.
type Processor struct {
	secret  string
	ledger  *purchase.Ledger
	bundles *entitlement.BundleAccessManager
	lg      *zap.SugaredLogger
}

func NewProcessor(secret string, ledger *purchase.Ledger, bundles *entitlement.BundleAccessManager, lg *zap.SugaredLogger) *Processor {
	return &Processor{secret: secret, ledger: ledger, bundles: bundles, lg: lg}
}

// VerifyAndParse checks the event signature against the endpoint secret and
// decodes the envelope. A verification error means the event must be
// rejected outright with no state mutated.
func (p *Processor) VerifyAndParse(payload []byte, sigHeader string) (stripelib.Event, error) {
	return stripewebhook.ConstructEventWithOptions(payload, sigHeader, p.secret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// Process dispatches one verified event. Unknown event types are
// acknowledged as no-ops; failing them would make the sender retry forever.
func (p *Processor) Process(ctx context.Context, event stripelib.Event) (Result, error) {
	if event.Data == nil {
		return failure("event %s carries no data object", event.ID), nil
	}
	switch event.Type {
	case "checkout.session.completed":
		return p.handleCheckoutCompleted(ctx, event)
	case "charge.refunded":
		return p.handleChargeRefunded(ctx, event)
	default:
		p.lg.Debugw("webhook event ignored", "type", event.Type, "event_id", event.ID)
		return Result{Outcome: OutcomeIgnored, Message: fmt.Sprintf("unhandled event type %s", event.Type)}, nil
	}
}

// checkoutSession is the slice of a checkout.session object this engine
// reads. Metadata is an untrusted string bag and is parsed into a typed
// scope before anything is written.
type checkoutSession struct {
	ID              string `json:"id"`
	AmountTotal     int64  `json:"amount_total"`
	Currency        string `json:"currency"`
	PaymentIntent   string `json:"payment_intent"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

func (cs *checkoutSession) email() string {
	if e := strings.TrimSpace(cs.CustomerDetails.Email); e != "" {
		return e
	}
	return strings.TrimSpace(cs.CustomerEmail)
}

type chargeObject struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
}

func (p *Processor) handleCheckoutCompleted(ctx context.Context, event stripelib.Event) (Result, error) {
	var sess checkoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return failure("malformed checkout session payload: %v", err), nil
	}
	if sess.ID == "" {
		return failure("checkout session has no id"), nil
	}

	userID := strings.TrimSpace(sess.Metadata["user_id"])
	if userID == "" {
		return p.recordGuestCheckout(ctx, sess)
	}

	// Idempotency gate: at-least-once delivery means the same session can
	// arrive twice; the first completed delivery wins and later ones are
	// acknowledged without writes.
	existing, err := p.ledger.BySessionID(ctx, sess.ID)
	if err != nil {
		return Result{}, fmt.Errorf("idempotency lookup: %w", err)
	}
	if existing != nil {
		return p.ensureGrantForExisting(ctx, existing)
	}

	scope, err := parseScopeMetadata(sess.Metadata)
	if err != nil {
		return failure("checkout session %s: %v", sess.ID, err), nil
	}

	meta, _ := json.Marshal(sess.Metadata)
	rec := models.Purchase{
		UserID:             &userID,
		ProcessorSessionID: sess.ID,
		Amount:             sess.AmountTotal,
		Currency:           sess.Currency,
		CompanySlug:        scope.Company,
		RoleSlug:           scope.Role,
		AccessType:         string(scope.Type),
		Status:             models.PurchaseCompleted,
		Metadata:           models.JSONB(meta),
	}
	if ref := strings.TrimSpace(sess.PaymentIntent); ref != "" {
		rec.ProcessorPaymentRef = &ref
	}
	if err := p.ledger.Create(ctx, &rec); err != nil {
		return Result{}, fmt.Errorf("record purchase for session %s: %w", sess.ID, err)
	}

	grant, err := p.bundles.Grant(ctx, userID, scope, &rec.ID, models.SourcePurchase)
	if err != nil {
		// The purchase row is committed; a redelivery will take the
		// duplicate path and repair the missing grant there.
		return Result{}, fmt.Errorf("grant access for session %s: %w", sess.ID, err)
	}
	p.lg.Infow("purchase completed",
		"session_id", sess.ID, "user_id", userID,
		"access_type", scope.Type, "purchase_id", rec.ID, "grant_id", grant.ID)
	return Result{Outcome: OutcomeProcessed, Message: "purchase recorded", PurchaseID: rec.ID, GrantID: grant.ID}, nil
}

// ensureGrantForExisting handles redelivery of an already-recorded session.
// Normally that is a pure no-op, but if the first delivery died between the
// purchase write and the grant write, this is the recovery path that mints
// the missing grant.
func (p *Processor) ensureGrantForExisting(ctx context.Context, rec *models.Purchase) (Result, error) {
	res := Result{Outcome: OutcomeDuplicate, Message: "session already processed", PurchaseID: rec.ID}
	if rec.Status != models.PurchaseCompleted || rec.UserID == nil {
		return res, nil
	}
	scope, err := scopeFromPurchase(rec)
	if err != nil {
		return res, nil
	}
	grant, err := p.bundles.Grant(ctx, *rec.UserID, scope, &rec.ID, models.SourcePurchase)
	if err != nil {
		return Result{}, fmt.Errorf("repair grant for purchase %s: %w", rec.ID, err)
	}
	res.GrantID = grant.ID
	return res, nil
}

func (p *Processor) recordGuestCheckout(ctx context.Context, sess checkoutSession) (Result, error) {
	existing, err := p.ledger.GuestBySessionID(ctx, sess.ID)
	if err != nil {
		return Result{}, fmt.Errorf("guest idempotency lookup: %w", err)
	}
	if existing != nil {
		return Result{Outcome: OutcomeDuplicate, Message: "guest session already recorded", PurchaseID: existing.ID}, nil
	}
	email := sess.email()
	if email == "" {
		return failure("guest checkout session %s has no customer email", sess.ID), nil
	}
	scope, err := parseScopeMetadata(sess.Metadata)
	if err != nil {
		return failure("guest checkout session %s: %v", sess.ID, err), nil
	}
	if scope.Type != entitlement.AccessSingle {
		return failure("guest checkout session %s: guest purchases must be single-item, got %s", sess.ID, scope.Type), nil
	}
	gp := models.GuestPurchase{
		Email:              email,
		ProcessorSessionID: sess.ID,
		CompanySlug:        scope.Company,
		RoleSlug:           scope.Role,
		Amount:             sess.AmountTotal,
		Currency:           sess.Currency,
	}
	if err := p.ledger.CreateGuest(ctx, &gp); err != nil {
		return Result{}, fmt.Errorf("record guest purchase for session %s: %w", sess.ID, err)
	}
	p.lg.Infow("guest purchase recorded", "session_id", sess.ID, "email", gp.Email)
	return Result{Outcome: OutcomeProcessed, Message: "guest purchase recorded", PurchaseID: gp.ID}, nil
}

func (p *Processor) handleChargeRefunded(ctx context.Context, event stripelib.Event) (Result, error) {
	var ch chargeObject
	if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
		return failure("malformed charge payload: %v", err), nil
	}
	ref := strings.TrimSpace(ch.PaymentIntent)
	if ref == "" {
		return failure("charge %s carries no payment reference", ch.ID), nil
	}
	rec, err := p.ledger.ByPaymentReference(ctx, ref)
	if err != nil {
		return Result{}, fmt.Errorf("lookup purchase by payment reference: %w", err)
	}
	if rec == nil {
		// Legitimately possible: the charge belongs to something outside
		// this catalog.
		return failure("no purchase for payment reference %s", ref), nil
	}
	if rec.Status == models.PurchaseRefunded {
		return Result{Outcome: OutcomeDuplicate, Message: "purchase already refunded", PurchaseID: rec.ID}, nil
	}
	if err := p.ledger.MarkRefunded(ctx, rec.ID); err != nil {
		return Result{}, fmt.Errorf("mark purchase %s refunded: %w", rec.ID, err)
	}
	if rec.UserID != nil {
		scope, err := scopeFromPurchase(rec)
		if err != nil {
			return failure("purchase %s has an unrevokable scope: %v", rec.ID, err), nil
		}
		if _, err := p.bundles.Revoke(ctx, *rec.UserID, scope); err != nil {
			return Result{}, fmt.Errorf("revoke access for purchase %s: %w", rec.ID, err)
		}
	}
	p.lg.Infow("purchase refunded", "purchase_id", rec.ID, "payment_ref", ref)
	return Result{Outcome: OutcomeProcessed, Message: "purchase refunded", PurchaseID: rec.ID}, nil
}

// parseScopeMetadata converts the untrusted metadata bag into a typed
// scope, rejecting instead of coercing missing or malformed fields.
func parseScopeMetadata(md map[string]string) (entitlement.AccessScope, error) {
	return entitlement.ParseScope(
		strings.TrimSpace(md["access_type"]),
		strings.TrimSpace(md["company_slug"]),
		strings.TrimSpace(md["role_slug"]),
	)
}

// scopeFromPurchase rebuilds the scope a purchase originally granted, so a
// refund reverses exactly that grant and nothing a later bundle may cover.
func scopeFromPurchase(rec *models.Purchase) (entitlement.AccessScope, error) {
	return entitlement.ParseScope(rec.AccessType, rec.CompanySlug, rec.RoleSlug)
}
