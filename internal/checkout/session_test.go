package checkout

import (
	"context"
	"errors"
	"testing"

	stripelib "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"prepgate/internal/entitlement"
)

type fakeSessionCreator struct {
	lastParams *stripelib.CheckoutSessionParams
	err        error
}

func (f *fakeSessionCreator) New(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripelib.CheckoutSession{ID: "cs_test", URL: "https://checkout.test/cs_test"}, nil
}

func testConfig() Config {
	return Config{
		PriceIDs: map[entitlement.AccessType]string{
			entitlement.AccessSingle:        "price_single",
			entitlement.AccessCompanyBundle: "price_company",
		},
		SuccessURL: "https://prep.test/success",
		CancelURL:  "https://prep.test/cancel",
	}
}

func TestCreateSessionCarriesScopeMetadata(t *testing.T) {
	creator := &fakeSessionCreator{}
	svc := NewService(creator, testConfig(), zap.NewNop().Sugar())

	sess, err := svc.CreateSession(context.Background(), SessionRequest{
		UserID: "u1",
		Email:  "u1@example.com",
		Scope:  entitlement.Single("google", "swe"),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.ID != "cs_test" {
		t.Fatalf("session id = %s", sess.ID)
	}

	md := creator.lastParams.Metadata
	want := map[string]string{
		"user_id":      "u1",
		"company_slug": "google",
		"role_slug":    "swe",
		"access_type":  "single",
	}
	for k, v := range want {
		if md[k] != v {
			t.Fatalf("metadata[%s]=%q, want=%q", k, md[k], v)
		}
	}
	if got := stripelib.StringValue(creator.lastParams.LineItems[0].Price); got != "price_single" {
		t.Fatalf("price=%s", got)
	}
	if got := stripelib.StringValue(creator.lastParams.SuccessURL); got != "https://prep.test/success" {
		t.Fatalf("success url=%s", got)
	}
}

func TestCreateSessionGuestOmitsUserID(t *testing.T) {
	creator := &fakeSessionCreator{}
	svc := NewService(creator, testConfig(), zap.NewNop().Sugar())

	_, err := svc.CreateSession(context.Background(), SessionRequest{
		Email: "guest@example.com",
		Scope: entitlement.CompanyBundle("google"),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, ok := creator.lastParams.Metadata["user_id"]; ok {
		t.Fatal("guest checkout must not carry a user_id")
	}
	if creator.lastParams.Metadata["access_type"] != "company_bundle" {
		t.Fatalf("access_type=%s", creator.lastParams.Metadata["access_type"])
	}
}

func TestCreateSessionValidatesBeforeCallingProcessor(t *testing.T) {
	creator := &fakeSessionCreator{}
	svc := NewService(creator, testConfig(), zap.NewNop().Sugar())

	_, err := svc.CreateSession(context.Background(), SessionRequest{
		Scope: entitlement.Single("", "swe"),
	})
	if !errors.Is(err, entitlement.ErrInvalidScope) {
		t.Fatalf("err=%v, want invalid scope", err)
	}
	if creator.lastParams != nil {
		t.Fatal("processor must not be called for an invalid scope")
	}
}

func TestCreateSessionRequiresConfiguredPrice(t *testing.T) {
	creator := &fakeSessionCreator{}
	svc := NewService(creator, testConfig(), zap.NewNop().Sugar())

	_, err := svc.CreateSession(context.Background(), SessionRequest{
		Scope: entitlement.Full(),
	})
	if err == nil {
		t.Fatal("expected error for unconfigured price")
	}
	if creator.lastParams != nil {
		t.Fatal("processor must not be called without a price")
	}
}

func TestCreateSessionWrapsProcessorFailure(t *testing.T) {
	creator := &fakeSessionCreator{err: errors.New("api down")}
	svc := NewService(creator, testConfig(), zap.NewNop().Sugar())

	_, err := svc.CreateSession(context.Background(), SessionRequest{
		Scope: entitlement.Single("google", "swe"),
	})
	if err == nil {
		t.Fatal("expected wrapped processor error")
	}
}
