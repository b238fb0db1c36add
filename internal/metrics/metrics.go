package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prepgate_webhook_events_total",
		Help: "Webhook deliveries by event type and processing outcome.",
	}, []string{"type", "outcome"})

	AccessChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prepgate_access_checks_total",
		Help: "Entitlement resolutions by result.",
	}, []string{"result"})

	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prepgate_checkout_sessions_total",
		Help: "Checkout session creations by status.",
	}, []string{"status"})

	GuestPurchasesLinked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prepgate_guest_purchases_linked_total",
		Help: "Guest purchases claimed by newly registered accounts.",
	})
)
