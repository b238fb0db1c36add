package checkout

import (
	"context"
	"fmt"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"prepgate/internal/entitlement"
)

// SessionCreator is the slice of the Stripe checkout API this engine
// consumes. The concrete client is constructed in main and injected; there
// is deliberately no process-global payment client.
type SessionCreator interface {
	New(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
}

// Config maps each access type to its pre-computed price and carries the
// redirect defaults. Pricing itself is decided upstream; this engine only
// reads the configured price id.
type Config struct {
	PriceIDs   map[entitlement.AccessType]string
	SuccessURL string
	CancelURL  string
}

// Service validates checkout requests and opens processor sessions whose
// metadata lets the webhook reconstruct the purchased scope later.
type Service struct {
	sessions SessionCreator
	cfg      Config
	lg       *zap.SugaredLogger
}

func NewService(sessions SessionCreator, cfg Config, lg *zap.SugaredLogger) *Service {
	return &Service{sessions: sessions, cfg: cfg, lg: lg}
}

// SessionRequest is one checkout attempt. UserID is empty for guest
// checkouts; the webhook will route those to the guest-purchase path.
type SessionRequest struct {
	UserID     string
	Email      string
	Scope      entitlement.AccessScope
	SuccessURL string
	CancelURL  string
}

// CreateSession validates the request and opens a checkout session. Scope
// validation (including slug format) happens before the processor is
// called.
func (s *Service) CreateSession(ctx context.Context, req SessionRequest) (*stripelib.CheckoutSession, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	priceID := s.cfg.PriceIDs[req.Scope.Type]
	if priceID == "" {
		return nil, fmt.Errorf("no price configured for access type %s", req.Scope.Type)
	}
	successURL := firstNonEmpty(req.SuccessURL, s.cfg.SuccessURL)
	cancelURL := firstNonEmpty(req.CancelURL, s.cfg.CancelURL)
	if successURL == "" || cancelURL == "" {
		return nil, fmt.Errorf("success and cancel URLs are required")
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:       stripelib.String(string(stripelib.CheckoutSessionModePayment)),
		SuccessURL: stripelib.String(successURL),
		CancelURL:  stripelib.String(cancelURL),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{{
			Price:    stripelib.String(priceID),
			Quantity: stripelib.Int64(1),
		}},
	}
	params.Context = ctx
	if email := strings.TrimSpace(req.Email); email != "" {
		params.CustomerEmail = stripelib.String(email)
	}
	params.AddMetadata("access_type", string(req.Scope.Type))
	if req.Scope.Company != "" {
		params.AddMetadata("company_slug", req.Scope.Company)
	}
	if req.Scope.Role != "" {
		params.AddMetadata("role_slug", req.Scope.Role)
	}
	if req.UserID != "" {
		params.AddMetadata("user_id", req.UserID)
	}

	sess, err := s.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	s.lg.Infow("checkout session created",
		"session_id", sess.ID, "access_type", req.Scope.Type,
		"company", req.Scope.Company, "role", req.Scope.Role, "guest", req.UserID == "")
	return sess, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
