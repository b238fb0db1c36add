package models

import "time"

type GrantSource string

const (
	SourcePurchase     GrantSource = "purchase"
	SourceAdmin        GrantSource = "admin"
	SourcePromo        GrantSource = "promo"
	SourceRefundRevoke GrantSource = "refund_revoke"
)

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseRefunded  PurchaseStatus = "refunded"
	PurchaseFailed    PurchaseStatus = "failed"
)

type Role struct {
	ID   int    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

type User struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	Roles        []Role    `gorm:"many2many:user_roles" json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AccessGrant records that a user may view a scope of content. A nil
// CompanySlug or RoleSlug is a wildcard: the grant covers every value in
// that dimension. Revocation never deletes a row; it sets ExpiresAt to the
// revocation time and Source to refund_revoke so the audit trail survives.
type AccessGrant struct {
	ID          string      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string      `gorm:"type:uuid;not null;index" json:"user_id"`
	CompanySlug *string     `gorm:"size:100" json:"company_slug,omitempty"`
	RoleSlug    *string     `gorm:"size:100" json:"role_slug,omitempty"`
	GrantedAt   time.Time   `gorm:"not null" json:"granted_at"`
	ExpiresAt   time.Time   `gorm:"not null;index" json:"expires_at"`
	PurchaseID  *string     `gorm:"type:uuid" json:"purchase_id,omitempty"`
	Source      GrantSource `gorm:"size:20;not null" json:"source"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Purchase is one completed transaction. ProcessorSessionID is the payment
// processor's checkout-session id and doubles as the idempotency key for
// webhook delivery; the unique index guarantees at most one row per session.
type Purchase struct {
	ID                  string         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID              *string        `gorm:"type:uuid;index" json:"user_id,omitempty"`
	ProcessorSessionID  string         `gorm:"size:191;uniqueIndex;not null" json:"processor_session_id"`
	ProcessorPaymentRef *string        `gorm:"size:191;index" json:"processor_payment_ref,omitempty"`
	Amount              int64          `gorm:"not null" json:"amount"`
	Currency            string         `gorm:"size:8;not null" json:"currency"`
	CompanySlug         string         `gorm:"size:100" json:"company_slug"`
	RoleSlug            string         `gorm:"size:100" json:"role_slug"`
	AccessType          string         `gorm:"size:20;not null" json:"access_type"`
	Status              PurchaseStatus `gorm:"size:12;not null;index" json:"status"`
	Metadata            JSONB          `gorm:"type:jsonb;default:'{}'" json:"metadata"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// GuestPurchase is a completed checkout that carried no user id. It holds
// everything needed to mint the grant once an account with a matching email
// shows up. LinkedUserID flips from nil exactly once and the row is never
// deleted.
type GuestPurchase struct {
	ID                 string     `gorm:"type:uuid;primaryKey" json:"id"`
	Email              string     `gorm:"size:320;not null;index" json:"email"`
	ProcessorSessionID string     `gorm:"size:191;uniqueIndex;not null" json:"processor_session_id"`
	CompanySlug        string     `gorm:"size:100;not null" json:"company_slug"`
	RoleSlug           string     `gorm:"size:100;not null" json:"role_slug"`
	Amount             int64      `gorm:"not null" json:"amount"`
	Currency           string     `gorm:"size:8;not null" json:"currency"`
	LinkedUserID       *string    `gorm:"type:uuid;index" json:"linked_user_id,omitempty"`
	LinkedAt           *time.Time `json:"linked_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type AuditLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    *string   `gorm:"type:uuid" json:"user_id,omitempty"`
	Action    string    `gorm:"not null" json:"action"`
	Metadata  JSONB     `gorm:"type:jsonb;default:'{}'" json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	JTI       string     `gorm:"primaryKey;size:64" json:"jti"`
	UserID    string     `gorm:"type:uuid;index;not null" json:"user_id"`
	ExpiresAt time.Time  `gorm:"not null" json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
