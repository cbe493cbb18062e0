package models

import (
	"encoding/json"
	"time"
)

type PlanTier string

const (
	PlanFree         PlanTier = "free"
	PlanStarter      PlanTier = "starter"
	PlanProfessional PlanTier = "professional"
	PlanEnterprise   PlanTier = "enterprise"
)

func (p PlanTier) Valid() bool {
	switch p {
	case PlanFree, PlanStarter, PlanProfessional, PlanEnterprise:
		return true
	}
	return false
}

type GenerationType string

const (
	GenerationApparel GenerationType = "apparel"
	GenerationProduct GenerationType = "product"
	GenerationVideo   GenerationType = "video"
)

func (g GenerationType) Valid() bool {
	switch g {
	case GenerationApparel, GenerationProduct, GenerationVideo:
		return true
	}
	return false
}

// TxType is the kind of a credit transaction. Usage is the only debit type.
type TxType string

const (
	TxPurchase     TxType = "purchase"
	TxGrant        TxType = "grant"
	TxRefund       TxType = "refund"
	TxMonthlyReset TxType = "monthly_reset"
	TxUsage        TxType = "usage"
)

// Sign is the direction the transaction moves a balance: -1 for usage, +1 otherwise.
func (t TxType) Sign() int64 {
	if t == TxUsage {
		return -1
	}
	return 1
}

func (t TxType) Valid() bool {
	switch t {
	case TxPurchase, TxGrant, TxRefund, TxMonthlyReset, TxUsage:
		return true
	}
	return false
}

// Account is the per-user balance row.
type Account struct {
	UserID         string    `json:"userId"`
	Email          string    `json:"email,omitempty"`
	PlanTier       PlanTier  `json:"planTier"`
	CreditsBalance int64     `json:"creditsBalance"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type CreditTransaction struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"userId"`
	Type                TxType    `json:"type"`
	Amount              int64     `json:"amount"`
	BalanceAfter        int64     `json:"balanceAfter"`
	Description         string    `json:"description"`
	RelatedGenerationID *string   `json:"relatedGenerationId"`
	RefundOf            *string   `json:"refundOf,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// SignedAmount is the effect of the transaction on the balance.
func (t CreditTransaction) SignedAmount() int64 {
	return t.Type.Sign() * t.Amount
}

type Generation struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"userId"`
	GenerationType      GenerationType  `json:"generationType"`
	Count               int             `json:"count"`
	CreditsUsed         int64           `json:"creditsUsed"`
	CreditTransactionID *string         `json:"creditTransactionId"`
	Prompt              string          `json:"prompt,omitempty"`
	Settings            json.RawMessage `json:"settings,omitempty"`
	ResultURLs          []string        `json:"resultUrls"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// UsageAnalytics is the daily rollup row keyed by (UserID, Day, GenerationType).
type UsageAnalytics struct {
	UserID         string         `json:"userId"`
	Day            string         `json:"date"`
	GenerationType GenerationType `json:"generationType"`
	Count          int64          `json:"count"`
	CreditsUsed    int64          `json:"creditsUsed"`
}

// UsageEvent is a non-generation billable action metered through the ledger.
type UsageEvent struct {
	ID                  string            `json:"id"`
	UserID              string            `json:"userId"`
	EventType           string            `json:"eventType"`
	Cost                float64           `json:"cost"`
	Credits             int64             `json:"credits"`
	Tokens              int64             `json:"tokens"`
	RequestID           string            `json:"requestId,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CreditTransactionID string            `json:"creditTransactionId"`
	CreatedAt           time.Time         `json:"createdAt"`
}

type RefundStatus string

const (
	RefundPending RefundStatus = "pending"
	RefundDone    RefundStatus = "done"
	RefundFailed  RefundStatus = "failed"
)

// PendingRefund is a refund the guard could not write and left for retry.
type PendingRefund struct {
	ID            string
	UserID        string
	TransactionID string
	Reason        string
	Attempts      int
	LastError     string
	Status        RefundStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type PromoCode struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	MaxUses   int       `json:"maxUses"`
	Uses      int       `json:"uses"`
	Credits   int64     `json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
}

type Payment struct {
	ID             int64
	UserID         string
	PackageID      *int64
	Provider       string
	ProviderCharge string
	Currency       string
	Amount         int
	Status         string
	RawPayload     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreditPackage is a purchasable bundle of credits.
type CreditPackage struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Currency        string    `json:"currency"`
	PriceMinorUnits int       `json:"priceMinorUnits"`
	Credits         int64     `json:"credits"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// LedgerEntry is what every balance mutation returns.
type LedgerEntry struct {
	TransactionID string `json:"transactionId"`
	BalanceAfter  int64  `json:"balanceAfter"`
}

// GenerationRequest is what a generation worker needs to produce results.
type GenerationRequest struct {
	Prompt      string
	AspectRatio string
	Resolution  string
	InputURLs   []string
	Count       int
}
