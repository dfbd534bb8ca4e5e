// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainbazaar/marketplace-backend/internal/chain"
	"github.com/chainbazaar/marketplace-backend/internal/config"
	"github.com/chainbazaar/marketplace-backend/internal/database"
	"github.com/chainbazaar/marketplace-backend/internal/oracle"
	"github.com/chainbazaar/marketplace-backend/internal/router"
	"github.com/chainbazaar/marketplace-backend/internal/services"
	"github.com/chainbazaar/marketplace-backend/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	// Connect to the chain node
	gateway, err := chain.NewGateway(cfg.Chain)
	if err != nil {
		log.Fatal("Failed to connect to chain node:", err)
	}
	defer gateway.Close()

	keyring, err := chain.NewKeyring(cfg.Chain.BuyerKeys)
	if err != nil {
		log.Fatal("Failed to load buyer keyring:", err)
	}

	rates := oracle.NewCoinGecko(cfg.Oracle)
	ledger := store.NewGormLedger(db)
	settlementService := services.NewSettlementService(ledger, gateway, rates, keyring)

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	r := router.Initialize(db, cfg, gateway, settlementService)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown server
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	// Let in-flight reconciliation reports finish before exit
	settlementService.Drain(15 * time.Second)

	log.Println("Server exited")
}
