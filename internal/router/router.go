// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/chainbazaar/marketplace-backend/internal/chain"
	"github.com/chainbazaar/marketplace-backend/internal/config"
	"github.com/chainbazaar/marketplace-backend/internal/handlers"
	"github.com/chainbazaar/marketplace-backend/internal/middleware"
	"github.com/chainbazaar/marketplace-backend/internal/services"
	"github.com/chainbazaar/marketplace-backend/internal/store"
	"github.com/chainbazaar/marketplace-backend/internal/utils"
)

// Initialize wires services and routes. The gateway and settlement
// service are built in main so their shutdown hooks (connection close,
// background drain) outlive the router.
func Initialize(db *gorm.DB, cfg *config.Config, gateway chain.TransferGateway, settlementService *services.SettlementService) *gin.Engine {
	ledger := store.NewGormLedger(db)

	// Initialize services
	storageService, _ := services.NewStorageService(cfg)
	authService := services.NewAuthService(db, cfg)
	listingService := services.NewListingService(db, gateway)
	walletService := services.NewWalletService(db, ledger, gateway, cfg)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	listingHandler := handlers.NewListingHandler(listingService, storageService)
	walletHandler := handlers.NewWalletHandler(walletService)
	settlementHandler := handlers.NewSettlementHandler(settlementService, listingService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.GeneralRateLimit())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.GET("/me", middleware.AuthRequired(), authHandler.GetProfile)
		}

		// Listing routes
		listings := v1.Group("/listings")
		{
			listings.GET("", middleware.OptionalAuth(), listingHandler.GetListings)
			listings.GET("/:id", middleware.OptionalAuth(), listingHandler.GetListing)

			// Authenticated routes
			protected := listings.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("", listingHandler.CreateListing)
				protected.GET("/mine", listingHandler.GetMyListings)
				protected.POST("/:id/images", middleware.UploadRateLimit(), listingHandler.UploadImages)
				protected.POST("/:id/purchase", middleware.PurchaseRateLimit(), settlementHandler.Purchase)
			}
		}

		// Settlement routes
		settlements := v1.Group("/settlements")
		settlements.Use(middleware.AuthRequired())
		{
			settlements.GET("", settlementHandler.GetSettlementHistory)
			settlements.GET("/attempts/:id", settlementHandler.GetAttempt)
		}

		// Wallet routes
		wallet := v1.Group("/wallet")
		wallet.Use(middleware.AuthRequired())
		{
			wallet.GET("/balance", walletHandler.GetBalance)
			wallet.POST("/deposit", walletHandler.Deposit)
			wallet.POST("/withdraw", walletHandler.Withdraw)
			wallet.POST("/deposit-intent", walletHandler.CreateDepositIntent)
			wallet.POST("/deposit-intent/confirm", walletHandler.ConfirmDeposit)
		}
	}

	// Static file serving (for development)
	if cfg.Environment == "development" {
		r.Static("/uploads", "./uploads")
	}

	return r
}
