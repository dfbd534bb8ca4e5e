// internal/models/settlement.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementRecord is the append-only audit row written once per
// completed purchase. Never updated or deleted.
type SettlementRecord struct {
	ID           uuid.UUID          `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ListingID    uuid.UUID          `json:"listing_id" gorm:"type:uuid;not null;index"`
	BuyerWallet  string             `json:"buyer_wallet" gorm:"size:64;not null;index"`
	SellerWallet string             `json:"seller_wallet" gorm:"size:64;not null;index"`
	Amount       decimal.Decimal    `json:"amount" gorm:"type:numeric(20,2);not null"`
	Currency     SettlementCurrency `json:"currency" gorm:"type:varchar(20);not null"`
	TxRef        string             `json:"tx_ref" gorm:"size:66;not null"`
	CreatedAt    time.Time          `json:"created_at"`

	Listing Listing `json:"listing,omitempty" gorm:"foreignKey:ListingID"`
}

// PurchaseAttempt tracks one purchase through the settlement pipeline.
// The row is written before the first side effect and advanced after
// every step, so an operator can see exactly where an attempt stopped.
type PurchaseAttempt struct {
	BaseModel
	ListingID   uuid.UUID     `json:"listing_id" gorm:"type:uuid;not null;index"`
	BuyerWallet string        `json:"buyer_wallet" gorm:"size:64;not null;index"`
	PaymentPath PaymentPath   `json:"payment_path" gorm:"type:varchar(10);not null"`
	State       PurchaseState `json:"state" gorm:"type:varchar(20);not null;index"`

	// FailureCode holds the apperrors reason code when State is failed.
	FailureCode string `json:"failure_code,omitempty" gorm:"size:64"`

	// Crypto-path settlement figures.
	RateUsed    decimal.Decimal `json:"rate_used" gorm:"type:numeric(20,8)"`
	CryptoValue decimal.Decimal `json:"crypto_value" gorm:"type:numeric(30,18)"`

	ValueTxRef     string `json:"value_tx_ref,omitempty" gorm:"size:66"`
	OwnershipTxRef string `json:"ownership_tx_ref,omitempty" gorm:"size:66"`

	// Report is the post-trade price reconciliation, filled in by a
	// detached background task after settlement. Diagnostic only.
	Report JSONB `json:"report,omitempty" gorm:"type:jsonb"`

	Listing Listing `json:"listing,omitempty" gorm:"foreignKey:ListingID"`
}

// DepositIntent tracks a Stripe-backed fiat on-ramp: the card payment
// must succeed before any token is minted on-chain.
type DepositIntent struct {
	BaseModel
	UserID          uuid.UUID           `json:"user_id" gorm:"type:uuid;not null;index"`
	Amount          decimal.Decimal     `json:"amount" gorm:"type:numeric(20,2);not null"`
	PaymentIntentID string              `json:"payment_intent_id" gorm:"size:255;uniqueIndex"`
	Status          DepositIntentStatus `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	MintTxRef       string              `json:"mint_tx_ref,omitempty" gorm:"size:66"`
}
