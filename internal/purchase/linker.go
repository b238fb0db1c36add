package purchase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"prepgate/internal/entitlement"
	"prepgate/internal/models"
)

// Linker reconciles purchases made before an account existed against a
// newly created account with the same email. It runs synchronously at
// registration time.
type Linker struct {
	ledger  *Ledger
	bundles *entitlement.BundleAccessManager
	lg      *zap.SugaredLogger
}

func NewLinker(ledger *Ledger, bundles *entitlement.BundleAccessManager, lg *zap.SugaredLogger) *Linker {
	return &Linker{ledger: ledger, bundles: bundles, lg: lg}
}

// LinkReport summarizes one linking pass. Individual failures are recorded
// here rather than aborting the pass; partial success is acceptable.
type LinkReport struct {
	Linked   int      `json:"linked"`
	Failed   int      `json:"failed"`
	GrantIDs []string `json:"grant_ids,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// Link grants access for every unlinked guest purchase matching the email
// (case-insensitive) and marks each row claimed. Guest purchases are always
// single-item, so each one maps to a Single scope. Safe to call twice: rows
// already linked are filtered out by the unlinked query, and grant creation
// itself is insert-or-get.
func (ln *Linker) Link(ctx context.Context, userID, email string) (LinkReport, error) {
	var report LinkReport
	pending, err := ln.ledger.UnlinkedByEmail(ctx, email)
	if err != nil {
		return report, fmt.Errorf("list unlinked guest purchases: %w", err)
	}
	for i := range pending {
		gp := &pending[i]
		grant, err := ln.bundles.Grant(ctx, userID, entitlement.Single(gp.CompanySlug, gp.RoleSlug), &gp.ID, models.SourcePurchase)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("guest purchase %s: %v", gp.ID, err))
			ln.lg.Errorw("guest purchase link failed", "guest_purchase_id", gp.ID, "user_id", userID, "error", err)
			continue
		}
		claimed, err := ln.ledger.MarkLinked(ctx, gp.ID, userID)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("guest purchase %s: %v", gp.ID, err))
			ln.lg.Errorw("guest purchase mark-linked failed", "guest_purchase_id", gp.ID, "user_id", userID, "error", err)
			continue
		}
		if !claimed {
			// Another registration for the same email got here first; the
			// grant insert above was an idempotent no-op for them too.
			continue
		}
		report.Linked++
		report.GrantIDs = append(report.GrantIDs, grant.ID)
	}
	return report, nil
}
