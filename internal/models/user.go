// internal/models/user.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	BaseModel
	Name         string     `json:"name" gorm:"size:100;not null"`
	Email        string     `json:"email" gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string     `json:"-" gorm:"size:255;not null"`
	Contact      string     `json:"contact" gorm:"size:50"`
	Status       UserStatus `json:"status" gorm:"type:varchar(20);default:'active'"`

	// WalletID is the on-chain address bound at registration. It is the
	// join key against Listing.OwnerWallet and never changes.
	WalletID string `json:"wallet_id" gorm:"uniqueIndex;size:64;not null"`

	// Balance is the off-chain fiat-token balance. It starts at zero and
	// is mutated only by deposits, withdrawals, and purchase settlement.
	Balance decimal.Decimal `json:"balance" gorm:"type:numeric(20,2);not null;default:0"`

	LastLoginAt *time.Time `json:"last_login_at"`

	Listings []Listing `json:"listings,omitempty" gorm:"foreignKey:OwnerWallet;references:WalletID"`
}

func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}
