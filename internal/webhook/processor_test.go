package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	stripelib "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"prepgate/internal/entitlement"
	"prepgate/internal/models"
	"prepgate/internal/purchase"
)

type testEnv struct {
	db       *gorm.DB
	proc     *Processor
	ledger   *purchase.Ledger
	resolver *entitlement.Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	grants := entitlement.NewGrantStore(db)
	ledger := purchase.NewLedger(db)
	proc := NewProcessor("whsec_test", ledger, entitlement.NewBundleAccessManager(grants), zap.NewNop().Sugar())
	return &testEnv{db: db, proc: proc, ledger: ledger, resolver: entitlement.NewResolver(grants)}
}

func checkoutEvent(t *testing.T, object map[string]any) stripelib.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}
	return stripelib.Event{
		ID:   "evt_" + fmt.Sprint(time.Now().UnixNano()),
		Type: "checkout.session.completed",
		Data: &stripelib.EventData{Raw: raw},
	}
}

func refundEvent(t *testing.T, paymentIntent string) stripelib.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"id": "ch_1", "payment_intent": paymentIntent})
	if err != nil {
		t.Fatalf("marshal charge: %v", err)
	}
	return stripelib.Event{ID: "evt_refund", Type: "charge.refunded", Data: &stripelib.EventData{Raw: raw}}
}

func completedSession(sessionID, userID string) map[string]any {
	return map[string]any{
		"id":             sessionID,
		"amount_total":   19900,
		"currency":       "usd",
		"payment_intent": "pi_" + sessionID,
		"metadata": map[string]string{
			"user_id":      userID,
			"company_slug": "google",
			"role_slug":    "swe",
			"access_type":  "single",
		},
	}
}

func TestCheckoutCompletedCreatesPurchaseAndGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.proc.Process(ctx, checkoutEvent(t, completedSession("cs_1", "u1")))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("outcome=%s, want=%s (%s)", res.Outcome, OutcomeProcessed, res.Message)
	}
	if res.PurchaseID == "" || res.GrantID == "" {
		t.Fatalf("result missing ids: %+v", res)
	}

	rec, err := env.ledger.BySessionID(ctx, "cs_1")
	if err != nil || rec == nil {
		t.Fatalf("purchase lookup: rec=%v err=%v", rec, err)
	}
	if rec.Status != models.PurchaseCompleted || rec.Amount != 19900 {
		t.Fatalf("purchase = %+v", rec)
	}

	check, err := env.resolver.Resolve(ctx, "u1", "google", "swe")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !check.HasAccess || check.Source != models.SourcePurchase {
		t.Fatalf("resolution = %+v", check)
	}
	if ok, _ := env.resolver.HasAccess(ctx, "u1", "google", "pm"); ok {
		t.Fatal("single purchase must not unlock other roles")
	}
}

func TestCheckoutCompletedDuplicateDelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.proc.Process(ctx, checkoutEvent(t, completedSession("cs_1", "u1"))); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	res, err := env.proc.Process(ctx, checkoutEvent(t, completedSession("cs_1", "u1")))
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if res.Outcome != OutcomeDuplicate {
		t.Fatalf("outcome=%s, want=%s", res.Outcome, OutcomeDuplicate)
	}

	var purchases, grants int64
	env.db.Model(&models.Purchase{}).Count(&purchases)
	env.db.Model(&models.AccessGrant{}).Count(&grants)
	if purchases != 1 || grants != 1 {
		t.Fatalf("purchases=%d grants=%d, want exactly one of each", purchases, grants)
	}
}

func TestDuplicateDeliveryRepairsMissingGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.proc.Process(ctx, checkoutEvent(t, completedSession("cs_1", "u1"))); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// Simulate the first delivery dying between the purchase write and the
	// grant write.
	if err := env.db.Where("1 = 1").Delete(&models.AccessGrant{}).Error; err != nil {
		t.Fatalf("delete grants: %v", err)
	}

	res, err := env.proc.Process(ctx, checkoutEvent(t, completedSession("cs_1", "u1")))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Outcome != OutcomeDuplicate || res.GrantID == "" {
		t.Fatalf("result = %+v, want duplicate with repaired grant", res)
	}
	if ok, _ := env.resolver.HasAccess(ctx, "u1", "google", "swe"); !ok {
		t.Fatal("redelivery must restore the grant")
	}
}

func TestCheckoutCompletedMissingMetadataIsRecordedFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	obj := completedSession("cs_bad", "u1")
	obj["metadata"] = map[string]string{"user_id": "u1", "access_type": "single"}
	res, err := env.proc.Process(ctx, checkoutEvent(t, obj))
	if err != nil {
		t.Fatalf("process returned hard error: %v", err)
	}
	if res.Outcome != OutcomeFailed || res.Message == "" {
		t.Fatalf("result = %+v, want recorded failure with message", res)
	}

	var purchases int64
	env.db.Model(&models.Purchase{}).Count(&purchases)
	if purchases != 0 {
		t.Fatalf("recorded failure must not write purchases, got %d", purchases)
	}
}

func TestCheckoutCompletedBundleScopes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	obj := completedSession("cs_bundle", "u1")
	obj["metadata"] = map[string]string{
		"user_id":      "u1",
		"company_slug": "google",
		"access_type":  "company_bundle",
	}
	res, err := env.proc.Process(ctx, checkoutEvent(t, obj))
	if err != nil || res.Outcome != OutcomeProcessed {
		t.Fatalf("process: res=%+v err=%v", res, err)
	}
	for _, role := range []string{"swe", "pm", "unheard-of-role"} {
		if ok, _ := env.resolver.HasAccess(ctx, "u1", "google", role); !ok {
			t.Fatalf("company bundle must cover role %s", role)
		}
	}
}

func TestGuestCheckoutRecordsGuestPurchase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	obj := completedSession("cs_guest", "")
	obj["customer_details"] = map[string]any{"email": "Guest@Example.COM"}
	delete(obj["metadata"].(map[string]string), "user_id")

	res, err := env.proc.Process(ctx, checkoutEvent(t, obj))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("outcome=%s (%s)", res.Outcome, res.Message)
	}

	gp, err := env.ledger.GuestBySessionID(ctx, "cs_guest")
	if err != nil || gp == nil {
		t.Fatalf("guest purchase lookup: gp=%v err=%v", gp, err)
	}
	if gp.Email != "guest@example.com" {
		t.Fatalf("email not lowercased: %q", gp.Email)
	}
	if gp.LinkedUserID != nil {
		t.Fatal("fresh guest purchase must be unlinked")
	}

	// No grant until an account claims it.
	var grants int64
	env.db.Model(&models.AccessGrant{}).Count(&grants)
	if grants != 0 {
		t.Fatalf("guest checkout minted %d grants", grants)
	}

	dup, err := env.proc.Process(ctx, checkoutEvent(t, obj))
	if err != nil || dup.Outcome != OutcomeDuplicate {
		t.Fatalf("duplicate guest delivery: res=%+v err=%v", dup, err)
	}
}

func TestGuestCheckoutWithoutEmailIsRecordedFailure(t *testing.T) {
	env := newTestEnv(t)

	obj := completedSession("cs_guest2", "")
	delete(obj["metadata"].(map[string]string), "user_id")
	res, err := env.proc.Process(context.Background(), checkoutEvent(t, obj))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome=%s, want=%s", res.Outcome, OutcomeFailed)
	}
}

func TestChargeRefundedRevokesAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.proc.Process(ctx, checkoutEvent(t, completedSession("cs_1", "u1"))); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if ok, _ := env.resolver.HasAccess(ctx, "u1", "google", "swe"); !ok {
		t.Fatal("precondition: access granted")
	}

	res, err := env.proc.Process(ctx, refundEvent(t, "pi_cs_1"))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if res.Outcome != OutcomeProcessed {
		t.Fatalf("outcome=%s (%s)", res.Outcome, res.Message)
	}

	rec, _ := env.ledger.BySessionID(ctx, "cs_1")
	if rec.Status != models.PurchaseRefunded {
		t.Fatalf("status=%s, want=%s", rec.Status, models.PurchaseRefunded)
	}
	if ok, _ := env.resolver.HasAccess(ctx, "u1", "google", "swe"); ok {
		t.Fatal("refund must revoke access")
	}

	// Second delivery of the same refund changes nothing.
	dup, err := env.proc.Process(ctx, refundEvent(t, "pi_cs_1"))
	if err != nil || dup.Outcome != OutcomeDuplicate {
		t.Fatalf("duplicate refund: res=%+v err=%v", dup, err)
	}
}

func TestChargeRefundedUnknownReferenceIsRecordedFailure(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.proc.Process(context.Background(), refundEvent(t, "pi_unrelated"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome=%s, want=%s", res.Outcome, OutcomeFailed)
	}
}

func TestUnknownEventTypeIsAcknowledgedNoOp(t *testing.T) {
	env := newTestEnv(t)

	event := stripelib.Event{
		ID:   "evt_x",
		Type: "invoice.paid",
		Data: &stripelib.EventData{Raw: []byte(`{}`)},
	}
	res, err := env.proc.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("unknown event type must not error: %v", err)
	}
	if res.Outcome != OutcomeIgnored {
		t.Fatalf("outcome=%s, want=%s", res.Outcome, OutcomeIgnored)
	}
}

func TestVerifyAndParseSignature(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	event, err := env.proc.VerifyAndParse(signed.Payload, signed.Header)
	if err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if event.Type != "checkout.session.completed" {
		t.Fatalf("type=%s", event.Type)
	}

	wrong := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_other",
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	if _, err := env.proc.VerifyAndParse(wrong.Payload, wrong.Header); err == nil {
		t.Fatal("signature from the wrong secret must be rejected")
	}
}
