// internal/models/listing.go
package models

import (
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Listing struct {
	BaseModel
	Name        string `json:"name" gorm:"size:255;not null"`
	Description string `json:"description" gorm:"type:text"`

	// Price in fiat units. Immutable once the listing is sold.
	Price decimal.Decimal `json:"price" gorm:"type:numeric(20,2);not null"`

	// OwnerWallet is the current owner's wallet address; joins User.WalletID.
	OwnerWallet string `json:"owner_wallet" gorm:"size:64;not null;index"`

	// Sold transitions false->true exactly once. Sold implies both
	// OnChainID and SettlementTxRef are set.
	Sold bool `json:"sold" gorm:"not null;default:false;index"`

	// OnChainID is assigned once by the marketplace contract when the
	// listing transaction confirms; nil until then.
	OnChainID *uint64 `json:"on_chain_id" gorm:"uniqueIndex"`

	// SettlementTxRef is the ownership-transfer transaction hash, set
	// once on successful purchase.
	SettlementTxRef *string `json:"settlement_tx_ref" gorm:"size:66"`

	Images pq.StringArray `json:"images" gorm:"type:text[]"`
}
