package models

import (
	"time"

	"github.com/google/uuid"
)

// PlanType enumerates the billing terms a License can carry.
type PlanType string

const (
	PlanMonthly    PlanType = "monthly"
	PlanSemiannual PlanType = "semiannual"
	PlanAnnual     PlanType = "annual"
	PlanLifetime   PlanType = "lifetime"
)

// LicenseStatus enumerates the states of the license state machine.
type LicenseStatus string

const (
	LicenseStatusPending   LicenseStatus = "pending"
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusSuspended LicenseStatus = "suspended"
	LicenseStatusExpired   LicenseStatus = "expired"
	LicenseStatusRevoked   LicenseStatus = "revoked"
)

// PlanValidityDays maps a plan to the number of days a fresh activation is valid for.
var PlanValidityDays = map[PlanType]int{
	PlanMonthly:    30,
	PlanSemiannual: 180,
	PlanAnnual:     365,
	PlanLifetime:   1825,
}

// LifetimeSupportDays is the support window granted to Lifetime plans from activation.
const LifetimeSupportDays = 730

// Admin is the owner account a License is issued against.
type Admin struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Email         string     `json:"email" db:"email"`
	PasswordHash  string     `json:"-" db:"password_hash"`
	Name          string     `json:"name" db:"name"`
	Company       string     `json:"company,omitempty" db:"company"`
	Role          string     `json:"role" db:"role"` // "user" or "admin" (admin routes require "admin")
	EmailVerified bool       `json:"email_verified" db:"email_verified"`
	TOTPSecret    string     `json:"-" db:"totp_secret"`
	StripeCustomerID string  `json:"-" db:"stripe_customer_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
}

// License is the central entitlement record governed by the state machine.
type License struct {
	ID                uuid.UUID     `json:"id" db:"id"`
	AdminID           uuid.UUID     `json:"admin_id" db:"admin_id"`
	LicenseKey        string        `json:"license_key" db:"license_key"`
	PlanType          PlanType      `json:"plan_type" db:"plan_type"`
	Status            LicenseStatus `json:"status" db:"status"`
	MaxHardware       int           `json:"max_hardware" db:"max_hardware"`
	ActivatedAt       *time.Time    `json:"activated_at,omitempty" db:"activated_at"`
	ExpiresAt         *time.Time    `json:"expires_at,omitempty" db:"expires_at"`
	LastValidated     *time.Time    `json:"last_validated,omitempty" db:"last_validated"`
	SupportExpiresAt  *time.Time    `json:"support_expires_at,omitempty" db:"support_expires_at"`
	CanOffline        bool          `json:"can_offline" db:"can_offline"`
	OfflineActivatedAt *time.Time   `json:"offline_activated_at,omitempty" db:"offline_activated_at"`
	ValidationCount   int64         `json:"validation_count" db:"validation_count"`
	RevokedAt         *time.Time    `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// IsLifetime reports whether the license carries the Lifetime plan.
func (l *License) IsLifetime() bool {
	return l.PlanType == PlanLifetime
}

// HardwareBinding ties a License to a specific physical terminal.
type HardwareBinding struct {
	ID               uuid.UUID `json:"id" db:"id"`
	LicenseID        uuid.UUID `json:"license_id" db:"license_id"`
	HardwareID       string    `json:"hardware_id" db:"hardware_id"`
	MachineName      string    `json:"machine_name,omitempty" db:"machine_name"`
	OSVersion        string    `json:"os_version,omitempty" db:"os_version"`
	CPUInfo          string    `json:"cpu_info,omitempty" db:"cpu_info"`
	ActivationsCount int       `json:"activations_count" db:"activations_count"`
	LastActivatedAt  time.Time `json:"last_activated_at" db:"last_activated_at"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// LicenseAudit records one activation/validation/transfer/revoke attempt.
type LicenseAudit struct {
	ID         uuid.UUID `json:"id" db:"id"`
	LicenseID  uuid.UUID `json:"license_id" db:"license_id"`
	HardwareID string    `json:"hardware_id,omitempty" db:"hardware_id"`
	Action     string    `json:"action" db:"action"` // activate, validate, transfer, revoke, restore
	Success    bool      `json:"success" db:"success"`
	ErrorCode  string    `json:"error_code,omitempty" db:"error_code"`
	IPAddress  string    `json:"ip_address,omitempty" db:"ip_address"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// TelemetryRecord is one terminal's sampled, hourly health report.
type TelemetryRecord struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	LicenseID          uuid.UUID `json:"license_id" db:"license_id"`
	HardwareID         string    `json:"hardware_id" db:"hardware_id"`
	Timestamp          time.Time `json:"timestamp" db:"timestamp"`
	SalesProcessed     int64     `json:"sales_processed" db:"sales_processed"`
	EntitiesSynced     int64     `json:"entities_synced" db:"entities_synced"`
	SyncLagSeconds     float64   `json:"sync_lag_seconds" db:"sync_lag_seconds"`
	OfflineDurationHrs float64   `json:"offline_duration_hrs" db:"offline_duration_hrs"`
	ErrorCount         int64     `json:"error_count" db:"error_count"`
	UptimeHours        float64   `json:"uptime_hours" db:"uptime_hours"`
	RestartCount       int       `json:"restart_count" db:"restart_count"`
	Version            string    `json:"version,omitempty" db:"version"`
	Platform           string    `json:"platform,omitempty" db:"platform"`
}

// RefreshToken stores a long-lived admin session credential.
type RefreshToken struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	AdminID   uuid.UUID  `json:"admin_id" db:"admin_id"`
	Token     string     `json:"-" db:"token"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// PasswordReset stores a password reset token for an Admin.
type PasswordReset struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	AdminID   uuid.UUID  `json:"admin_id" db:"admin_id"`
	Token     string     `json:"-" db:"token"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty" db:"used_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// SyncEntityKind enumerates the tagged variants carried by the sync protocol.
type SyncEntityKind string

const (
	SyncKindProduct      SyncEntityKind = "product"
	SyncKindCustomer     SyncEntityKind = "customer"
	SyncKindSetting      SyncEntityKind = "setting"
	SyncKindCategory     SyncEntityKind = "category"
	SyncKindSupplier     SyncEntityKind = "supplier"
	SyncKindServiceOrder SyncEntityKind = "service_order"
)

// SyncOperation enumerates the mutation carried alongside a SyncEntity payload.
type SyncOperation string

const (
	SyncOpCreate SyncOperation = "create"
	SyncOpUpdate SyncOperation = "update"
	SyncOpDelete SyncOperation = "delete"
)

// SyncEntity is the polymorphic wire-level carrier for one versioned record.
// A single table keyed on (kind, entity_id) holds every variant; Data carries
// the kind-specific payload as an opaque JSON document.
type SyncEntity struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Kind      SyncEntityKind  `json:"kind" db:"kind"`
	EntityID  string          `json:"entity_id" db:"entity_id"`
	Operation SyncOperation   `json:"operation" db:"operation"`
	Data      []byte          `json:"data" db:"data"`
	Version   int64           `json:"version" db:"version"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// SyncCursor is the per-(hardware_id, kind) high-watermark held on the Master.
type SyncCursor struct {
	HardwareID    string         `json:"hardware_id" db:"hardware_id"`
	Kind          SyncEntityKind `json:"kind" db:"kind"`
	LastVersion   int64          `json:"last_version" db:"last_version"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// Subscription represents a Stripe subscription backing the billing collaborator.
type Subscription struct {
	ID                   uuid.UUID `json:"id" db:"id"`
	AdminID              uuid.UUID `json:"admin_id" db:"admin_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id" db:"stripe_subscription_id"`
	StripePriceID        string    `json:"stripe_price_id" db:"stripe_price_id"`
	Status               string    `json:"status" db:"status"` // active, past_due, canceled, trialing
	Plan                 string    `json:"plan" db:"plan"`
	CurrentPeriodStart   time.Time `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd     time.Time `json:"current_period_end" db:"current_period_end"`
	CancelAtPeriodEnd    bool      `json:"cancel_at_period_end" db:"cancel_at_period_end"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// Invoice represents a billing invoice backing the billing collaborator.
type Invoice struct {
	ID              uuid.UUID `json:"id" db:"id"`
	AdminID         uuid.UUID `json:"admin_id" db:"admin_id"`
	StripeInvoiceID string    `json:"stripe_invoice_id" db:"stripe_invoice_id"`
	Amount          int64     `json:"amount" db:"amount"`
	Currency        string    `json:"currency" db:"currency"`
	Status          string    `json:"status" db:"status"`
	InvoiceURL      string    `json:"invoice_url" db:"invoice_url"`
	InvoicePDF      string    `json:"invoice_pdf" db:"invoice_pdf"`
	PeriodStart     time.Time `json:"period_start" db:"period_start"`
	PeriodEnd       time.Time `json:"period_end" db:"period_end"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
