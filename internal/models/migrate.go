package models

import "gorm.io/gorm"

// Migrate creates all tables plus the grant uniqueness index. The index is
// an expression index because company_slug and role_slug use NULL for
// wildcards and SQL unique indexes treat NULLs as distinct; COALESCE onto a
// sentinel makes two wildcard rows collide. The sentinel exists only inside
// the index expression, never in application code. Revoked rows are carved
// out with a partial predicate so a repurchase after a refund inserts a
// fresh row instead of colliding with the audit trail.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Role{}, &User{}, &Session{}, &AuditLog{},
		&AccessGrant{}, &Purchase{}, &GuestPurchase{},
	); err != nil {
		return err
	}
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_access_grants_scope
		 ON access_grants (user_id, COALESCE(company_slug, '*'), COALESCE(role_slug, '*'))
		 WHERE source <> 'refund_revoke'`,
	).Error
}
