package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"prepgate/internal/metrics"
	"prepgate/internal/models"
	"prepgate/internal/webhook"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// StripeWebhook is the inbound event endpoint. Response codes are the
// retry protocol: 400 for bad signatures (no state touched), 500 for store
// errors (retry may succeed), 200 for everything else including recorded
// failures and duplicates, so the processor stops redelivering events that
// will never become resolvable.
func StripeWebhook(db *gorm.DB, proc *webhook.Processor, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		event, err := proc.VerifyAndParse(payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			metrics.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
			lg.Warnw("webhook signature rejected", "error", err)
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}

		result, err := proc.Process(r.Context(), event)
		if err != nil {
			metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
			lg.Errorw("webhook processing failed", "event_id", event.ID, "type", event.Type, "error", err)
			http.Error(w, "processing failed", http.StatusInternalServerError)
			return
		}
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), string(result.Outcome)).Inc()

		if result.Outcome == webhook.OutcomeFailed {
			auditRecordedFailure(db, lg, event.ID, string(event.Type), result.Message)
			lg.Warnw("webhook recorded failure",
				"event_id", event.ID, "type", event.Type, "message", result.Message)
		}

		respondJSON(w, map[string]any{
			"received": true,
			"outcome":  result.Outcome,
			"message":  result.Message,
		})
	}
}

// auditRecordedFailure keeps a durable trace of events that were
// acknowledged but could not be acted on, for the operations side.
func auditRecordedFailure(db *gorm.DB, lg *zap.SugaredLogger, eventID, eventType, message string) {
	meta, _ := json.Marshal(map[string]string{
		"event_id": eventID,
		"type":     eventType,
		"message":  message,
	})
	entry := models.AuditLog{
		Action:    "webhook_recorded_failure",
		Metadata:  models.JSONB(meta),
		CreatedAt: time.Now(),
	}
	if err := db.Create(&entry).Error; err != nil {
		lg.Errorw("audit log write failed", "error", err)
	}
}
