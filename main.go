package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/config"
	"github.com/CodeDript/codedript-backend/escrow"
	"github.com/CodeDript/codedript-backend/handlers"
	"github.com/CodeDript/codedript-backend/middleware"
	"github.com/CodeDript/codedript-backend/storage"
	"github.com/CodeDript/codedript-backend/workflow"
)

func newRouter(cfg *config.Config, db *gorm.DB, escrowClient escrow.Client, uploader storage.Uploader) *gin.Engine {
	wf := workflow.New(db, escrowClient, cfg.ChainNetwork, cfg.NativeCurrency)

	// Setup router
	router := gin.Default()

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "codedript-api",
		})
	})

	// API routes
	api := router.Group("/api/v1")

	authHandler := handlers.NewAuthHandler(db, cfg)
	api.POST("/auth/nonce", authHandler.Nonce)
	api.POST("/auth/verify", authHandler.Verify)
	api.POST("/auth/refresh", authHandler.Refresh)

	protected := api.Group("")
	protected.Use(middleware.JwtAuthMiddleware(cfg))
	{
		// Wizard drafts
		draftHandler := handlers.NewDraftHandler(db, wf)
		protected.POST("/drafts", middleware.RequireRole("client"), draftHandler.Create)
		protected.GET("/drafts/:id", draftHandler.Get)
		protected.PATCH("/drafts/:id/details", draftHandler.PatchDetails)
		protected.PATCH("/drafts/:id/parties", draftHandler.PatchParties)
		protected.PATCH("/drafts/:id/terms", draftHandler.PatchTerms)
		protected.PATCH("/drafts/:id/payment", draftHandler.PatchPayment)
		protected.DELETE("/drafts/:id", draftHandler.Delete)
		protected.POST("/drafts/:id/submit", draftHandler.Submit)

		// Agreements
		agreementHandler := handlers.NewAgreementHandler(db, cfg, wf, uploader)
		protected.POST("/agreements", agreementHandler.Create)
		protected.GET("/agreements", agreementHandler.List)
		protected.GET("/agreements/:id", agreementHandler.Get)
		protected.PUT("/agreements/:id", agreementHandler.Update)
		protected.PATCH("/agreements/:id/status", agreementHandler.PatchStatus)
		protected.POST("/agreements/:id/price", middleware.RequireRole("developer"), agreementHandler.Price)
		protected.POST("/agreements/:id/approve", middleware.RequireRole("client"), agreementHandler.Approve)
		protected.POST("/agreements/:id/decline", middleware.RequireRole("client"), agreementHandler.Decline)
		protected.POST("/agreements/:id/release", middleware.RequireRole("client"), agreementHandler.Release)

		// Milestones
		milestoneHandler := handlers.NewMilestoneHandler(db, wf, uploader)
		protected.GET("/milestones/agreement/:id", milestoneHandler.ListByAgreement)
		protected.POST("/milestones/:id/start", milestoneHandler.Start)
		protected.POST("/milestones/:id/submit", milestoneHandler.Submit)
		protected.POST("/milestones/:id/files", milestoneHandler.Files)
		protected.POST("/milestones/:id/complete", milestoneHandler.Complete)
		protected.POST("/milestones/:id/approve", middleware.RequireRole("client"), milestoneHandler.Approve)
		protected.POST("/milestones/:id/request-revision", middleware.RequireRole("client"), milestoneHandler.RequestRevision)

		// Change requests
		changeRequestHandler := handlers.NewChangeRequestHandler(db, wf, uploader)
		protected.POST("/change-requests", middleware.RequireRole("client"), changeRequestHandler.Create)
		protected.GET("/change-requests/agreement/:id", changeRequestHandler.ListByAgreement)
		protected.POST("/change-requests/:id/confirm", middleware.RequireRole("developer"), changeRequestHandler.Confirm)
		protected.POST("/change-requests/:id/ignore", middleware.RequireRole("developer"), changeRequestHandler.Ignore)
		protected.POST("/change-requests/:id/approve", middleware.RequireRole("client"), changeRequestHandler.Approve)
		protected.POST("/change-requests/:id/reject", middleware.RequireRole("client"), changeRequestHandler.Reject)
		protected.POST("/change-requests/upload-file", changeRequestHandler.UploadFile)

		// Transactions
		transactionHandler := handlers.NewTransactionHandler(db, wf, escrowClient)
		protected.POST("/transactions", transactionHandler.Record)
		protected.GET("/transactions/agreement/:id", transactionHandler.ListByAgreement)
		protected.GET("/transactions/:hash/details", transactionHandler.Details)
	}

	return router
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Escrow contract client
	escrowClient, err := escrow.NewEthClient(context.Background(), cfg.ChainRPCURL, cfg.EscrowContract, cfg.OperatorKey)
	if err != nil {
		log.Fatalf("Failed to initialize escrow client: %v", err)
	}

	uploader := storage.NewGatewayClient(cfg.IPFSAPIURL, cfg.IPFSGatewayURL)
	router := newRouter(cfg, db, escrowClient, uploader)

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting CodeDript API server on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
