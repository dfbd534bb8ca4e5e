// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
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

// Enums
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// PaymentPath is the settlement currency chosen by the buyer.
type PaymentPath string

const (
	PaymentPathToken  PaymentPath = "token"
	PaymentPathCrypto PaymentPath = "crypto"
)

func (p PaymentPath) Valid() bool {
	return p == PaymentPathToken || p == PaymentPathCrypto
}

// Currency recorded on settlement audit rows.
type SettlementCurrency string

const (
	CurrencyToken  SettlementCurrency = "INR_TOKEN"
	CurrencyCrypto SettlementCurrency = "ETH"
)

// PurchaseState is the linear per-purchase state machine, persisted
// after each pipeline step so a crash mid-settlement can be diagnosed.
type PurchaseState string

const (
	PurchaseStateValidated        PurchaseState = "validated"
	PurchaseStateValueSettled     PurchaseState = "value_settled"
	PurchaseStateOwnershipSettled PurchaseState = "ownership_settled"
	PurchaseStateLedgerCommitted  PurchaseState = "ledger_committed"
	PurchaseStateFailed           PurchaseState = "failed"
)

type DepositIntentStatus string

const (
	DepositIntentStatusPending   DepositIntentStatus = "pending"
	DepositIntentStatusCompleted DepositIntentStatus = "completed"
	DepositIntentStatusFailed    DepositIntentStatus = "failed"
)
