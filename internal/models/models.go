package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User represents a system user
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// UserRole enum values
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// Report represents a submitted fraud/scam report
type Report struct {
	ID               uuid.UUID         `json:"id"`
	CaseNumber       string            `json:"case_number"`
	FraudType        string            `json:"fraud_type"`
	Summary          string            `json:"summary"`
	Description      string            `json:"description"`
	FinancialLoss    *float64          `json:"financial_loss,omitempty"`
	Currency         string            `json:"currency,omitempty"`
	City             string            `json:"city"`
	Country          string            `json:"country"`
	Status           string            `json:"status"`
	MergedIntoID     *uuid.UUID        `json:"merged_into_id,omitempty"`
	MergeCount       int               `json:"merge_count"`
	Perpetrators     []Perpetrator     `json:"perpetrators,omitempty"`
	FinancialInfo    *FinancialInfo    `json:"financial_info,omitempty"`
	CryptoInfo       *CryptoInfo       `json:"crypto_info,omitempty"`
	DigitalFootprint *DigitalFootprint `json:"digital_footprint,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ReportStatus enum values
const (
	ReportStatusPending  = "PENDING"
	ReportStatusApproved = "APPROVED"
	ReportStatusRejected = "REJECTED"
	ReportStatusMerged   = "MERGED"
)

// FraudType enum values
const (
	FraudTypeInvestment  = "INVESTMENT"
	FraudTypeRomance     = "ROMANCE"
	FraudTypeEcommerce   = "ECOMMERCE"
	FraudTypePhishing    = "PHISHING"
	FraudTypeCrypto      = "CRYPTO"
	FraudTypeOther       = "OTHER"
)

// Perpetrator is an alleged offender attached to a report
type Perpetrator struct {
	ID       uuid.UUID `json:"id"`
	ReportID uuid.UUID `json:"report_id"`
	FullName string    `json:"full_name"`
	Nickname string    `json:"nickname,omitempty"`
	Email    string    `json:"email,omitempty"`
	Phone    string    `json:"phone,omitempty"`
}

// FinancialInfo holds bank details attached to a report
type FinancialInfo struct {
	ID          uuid.UUID `json:"id"`
	ReportID    uuid.UUID `json:"report_id"`
	IBAN        string    `json:"iban,omitempty"`
	BankName    string    `json:"bank_name,omitempty"`
	BankCountry string    `json:"bank_country,omitempty"`
}

// CryptoInfo holds crypto wallet details attached to a report
type CryptoInfo struct {
	ID            uuid.UUID `json:"id"`
	ReportID      uuid.UUID `json:"report_id"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	Blockchain    string    `json:"blockchain,omitempty"` // BTC, ETH, OTHER
}

// DigitalFootprint holds online presence details attached to a report
type DigitalFootprint struct {
	ID            uuid.UUID `json:"id"`
	ReportID      uuid.UUID `json:"report_id"`
	Website       string    `json:"website,omitempty"`
	SocialHandles []string  `json:"social_handles,omitempty"`
}

// DuplicateCluster groups reports suspected to describe the same incident
type DuplicateCluster struct {
	ID              uuid.UUID       `json:"id"`
	MatchType       string          `json:"match_type"`
	Confidence      int             `json:"confidence"` // 0-100
	Status          string          `json:"status"`
	MemberKey       string          `json:"-"`
	PrimaryReportID *uuid.UUID      `json:"primary_report_id,omitempty"`
	MergedAt        *time.Time      `json:"merged_at,omitempty"`
	Members         []ClusterMember `json:"members,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ClusterMember associates a report with a cluster
type ClusterMember struct {
	ClusterID  uuid.UUID `json:"cluster_id"`
	ReportID   uuid.UUID `json:"report_id"`
	Similarity int       `json:"similarity"` // 0-100 pairwise confidence
	IsPrimary  bool      `json:"is_primary"` // advisory suggestion only
	Report     *Report   `json:"report,omitempty"`
}

// ClusterStatus enum values
const (
	ClusterStatusPending   = "PENDING"
	ClusterStatusMerged    = "MERGED"
	ClusterStatusDismissed = "DISMISSED"
)

// MatchType enum values. These are part of the API contract and must stay
// stable for UI and partner consumers.
const (
	MatchTypePhoneExact      = "PHONE_EXACT"
	MatchTypeEmailExact      = "EMAIL_EXACT"
	MatchTypeIBANExact       = "IBAN_EXACT"
	MatchTypeWalletExact     = "WALLET_EXACT"
	MatchTypePhoneAndIBAN    = "PHONE_AND_IBAN"
	MatchTypeMultiStrong     = "MULTI_STRONG"
	MatchTypeEmailSimilarity = "EMAIL_SIMILARITY"
	MatchTypeNameAndLocation = "NAME_AND_LOCATION"
)

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID         uuid.UUID  `json:"id"`
	EventType  string     `json:"event_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	EntityType string     `json:"entity_type"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Action     string     `json:"action"`
	Payload    JSONB      `json:"payload"`
	IPAddress  string     `json:"ip_address"`
	UserAgent  string     `json:"user_agent"`
	RequestID  string     `json:"request_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AuditEventType enum values
const (
	AuditEventReport    = "report"
	AuditEventCluster   = "duplicate_cluster"
	AuditEventUserLogin = "user_login"
)

// Audit actions emitted by the moderation state machine
const (
	AuditActionDuplicateMerged    = "DUPLICATE_MERGED"
	AuditActionDuplicateDismissed = "DUPLICATE_DISMISSED"
)

// ReportEvent is the event published to Redis Streams when a report is
// created or updated, triggering duplicate detection
type ReportEvent struct {
	ReportID   string    `json:"report_id"`
	CaseNumber string    `json:"case_number"`
	FraudType  string    `json:"fraud_type"`
	Trigger    string    `json:"trigger"` // created, updated, resubmitted
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retry_count"`
}

// ReportEvent triggers
const (
	TriggerCreated     = "created"
	TriggerUpdated     = "updated"
	TriggerResubmitted = "resubmitted"
)

// JSONB is a helper type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Pagination represents pagination parameters
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// ClusterStats represents aggregated moderation statistics
type ClusterStats struct {
	PendingCount   int            `json:"pending_count"`
	MergedCount    int            `json:"merged_count"`
	DismissedCount int            `json:"dismissed_count"`
	ByMatchType    map[string]int `json:"by_match_type"`
	AvgConfidence  float64        `json:"avg_confidence"`
}
