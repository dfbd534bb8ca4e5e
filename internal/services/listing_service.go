// internal/services/listing_service.go
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/chainbazaar/marketplace-backend/internal/apperrors"
	"github.com/chainbazaar/marketplace-backend/internal/chain"
	"github.com/chainbazaar/marketplace-backend/internal/models"
	"github.com/chainbazaar/marketplace-backend/internal/utils"
)

type ListingService struct {
	db      *gorm.DB
	gateway chain.TransferGateway
}

type CreateListingRequest struct {
	Name        string          `json:"name" validate:"required,min=2,max=255"`
	Description string          `json:"description" validate:"required"`
	Price       decimal.Decimal `json:"price" validate:"required"`
	Images      []string        `json:"images,omitempty"`
}

type ListingSearchParams struct {
	utils.PaginationParams
	OwnerWallet string
	Unsold      bool
	PriceMin    *decimal.Decimal
	PriceMax    *decimal.Decimal
}

func NewListingService(db *gorm.DB, gateway chain.TransferGateway) *ListingService {
	return &ListingService{
		db:      db,
		gateway: gateway,
	}
}

// CreateListing records the listing on-chain first; the off-chain row
// is only persisted once the contract has assigned its id, so a Listing
// without OnChainID never reaches the store.
func (s *ListingService) CreateListing(ctx context.Context, ownerWallet string, req *CreateListingRequest) (*models.Listing, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if !req.Price.IsPositive() {
		return nil, apperrors.New(apperrors.CodeValidation, "price must be positive")
	}

	onChainID, txRef, err := s.gateway.ListItem(ctx, chain.TokenUnits(req.Price))
	if err != nil {
		return nil, err
	}

	listing := &models.Listing{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		OwnerWallet: ownerWallet,
		Sold:        false,
		OnChainID:   &onChainID,
		Images:      pq.StringArray(req.Images),
	}

	if err := s.db.WithContext(ctx).Create(listing).Error; err != nil {
		// The on-chain listing exists but the off-chain row does not.
		// Log enough to re-link it by hand.
		logrus.WithFields(logrus.Fields{
			"on_chain_id": onChainID,
			"tx":          txRef,
		}).WithError(err).Error("Listing confirmed on-chain but failed to persist")
		return nil, fmt.Errorf("failed to persist listing: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"listing_id":  listing.ID,
		"on_chain_id": onChainID,
	}).Info("Listing created")

	return listing, nil
}

func (s *ListingService) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := s.db.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("listing %s not found", id))
		}
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	return &listing, nil
}

func (s *ListingService) SearchListings(ctx context.Context, params ListingSearchParams) ([]models.Listing, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Listing{})

	if params.OwnerWallet != "" {
		query = query.Where("owner_wallet = ?", params.OwnerWallet)
	}
	if params.Unsold {
		query = query.Where("sold = ?", false)
	}
	if params.PriceMin != nil {
		query = query.Where("price >= ?", *params.PriceMin)
	}
	if params.PriceMax != nil {
		query = query.Where("price <= ?", *params.PriceMax)
	}
	if params.Search != "" {
		searchTerm := "%" + params.Search + "%"
		query = query.Where("name ILIKE ? OR description ILIKE ?", searchTerm, searchTerm)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count listings: %w", err)
	}

	allowedSortFields := []string{"created_at", "price", "name"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var listings []models.Listing
	if err := query.Find(&listings).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch listings: %w", err)
	}

	return listings, total, nil
}

func (s *ListingService) SettlementHistory(ctx context.Context, params utils.PaginationParams) ([]models.SettlementRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.SettlementRecord{}).Preload("Listing")

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count settlement records: %w", err)
	}

	allowedSortFields := []string{"created_at", "amount"}
	query = utils.ApplySort(query, params, allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var records []models.SettlementRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch settlement records: %w", err)
	}

	return records, total, nil
}

// AttachImages stores uploaded image URLs on an unsold listing owned by
// the caller.
func (s *ListingService) AttachImages(ctx context.Context, id uuid.UUID, ownerWallet string, urls []string) error {
	res := s.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ? AND owner_wallet = ? AND sold = ?", id, ownerWallet, false).
		Update("images", pq.StringArray(urls))
	if res.Error != nil {
		return fmt.Errorf("failed to attach images: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeNotFound, "listing not found, not yours, or already sold")
	}
	return nil
}
