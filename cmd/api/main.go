package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/onelotto/backend/internal/auth"
	"github.com/onelotto/backend/internal/config"
	"github.com/onelotto/backend/internal/events"
	"github.com/onelotto/backend/internal/ledger"
	"github.com/onelotto/backend/internal/models"
	"github.com/onelotto/backend/internal/pool"
	"github.com/onelotto/backend/internal/random"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	cfg := config.Load()

	// Database connection
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	if err := db.AutoMigrate(&models.Pool{}, &models.Participant{}, &models.Draw{}, &ledger.Balance{}); err != nil {
		logrus.WithError(err).Fatal("Failed to migrate schema")
	}

	// Redis connection
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logrus.WithError(err).Warn("Failed to connect to Redis, snapshot cache disabled")
		rdb = nil
	}

	// Administrator gate
	gate, err := auth.NewGate(cfg.AdminAddress)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid ADMIN_ADDRESS")
	}
	if cfg.CustodyAddress == "" {
		logrus.Fatal("CUSTODY_ADDRESS must be set")
	}

	// Draw beacon: chain-backed when an RPC endpoint is configured
	var beacon random.Beacon
	if cfg.EthRPCURL != "" {
		client, err := ethclient.Dial(cfg.EthRPCURL)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to connect to Ethereum RPC")
		}
		beacon = random.NewChainBeacon(client)
	} else {
		logrus.Warn("No ETH_RPC_URL configured, using local draw beacon")
		beacon = random.NewLocalBeacon()
	}

	// Notification hub
	eventsServer := events.NewServer()
	eventsServer.Start()

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Security middleware
	router.Use(auth.SecurityHeaders())
	router.Use(auth.SecureCORS(cfg.AllowedOrigins))

	authMiddleware := auth.NewAuthMiddleware()

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
			"service":   "onelotto-api",
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		poolRepo := pool.NewRepository(db)
		bank := ledger.NewBank(db)

		var cache *pool.Cache
		if rdb != nil {
			cache = pool.NewCache(rdb, 30*time.Second)
		}

		poolService := pool.NewService(poolRepo, bank, beacon, gate, eventsServer.Hub, cache, cfg.CustodyAddress)
		poolHandler := pool.NewHandler(poolService)
		poolHandler.RegisterRoutes(v1, authMiddleware.RequireAuth(), authMiddleware.RequireAdmin(gate))
	}

	// WebSocket notification routes
	eventsServer.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logrus.WithField("port", cfg.Port).Info("Starting OneLotto API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Fatal("Server forced to shutdown")
	}

	eventsServer.Stop()

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	if rdb != nil {
		rdb.Close()
	}

	logrus.Info("Server exited")
}
