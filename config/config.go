package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/models"
)

type Config struct {
	Port             string
	DatabaseURL      string
	JWTSecret        string
	JWTRefreshSecret string
	ChainRPCURL      string
	ChainNetwork     string
	EscrowContract   string
	OperatorKey      string
	NativeCurrency   string
	IPFSAPIURL       string
	IPFSGatewayURL   string
}

func LoadConfig() (*Config, error) {
	godotenv.Load()

	return &Config{
		Port:             os.Getenv("PORT"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        getEnvOrDefault("JWT_SECRET", "dev-secret"),
		JWTRefreshSecret: getEnvOrDefault("JWT_REFRESH_SECRET", "dev-refresh-secret"),
		ChainRPCURL:      getEnvOrDefault("CHAIN_RPC_URL", "https://rpc.sepolia.org"),
		ChainNetwork:     getEnvOrDefault("CHAIN_NETWORK", "sepolia"),
		EscrowContract:   os.Getenv("ESCROW_CONTRACT_ADDRESS"),
		OperatorKey:      os.Getenv("OPERATOR_PRIVATE_KEY"),
		NativeCurrency:   getEnvOrDefault("NATIVE_CURRENCY", "ETH"),
		IPFSAPIURL:       getEnvOrDefault("IPFS_API_URL", "http://127.0.0.1:5001"),
		IPFSGatewayURL:   getEnvOrDefault("IPFS_GATEWAY_URL", "https://ipfs.io"),
	}, nil
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Migrate runs AutoMigrate for every model. Split out so tests can run
// it against an in-memory database.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Agreement{},
		&models.Milestone{},
		&models.ChangeRequest{},
		&models.Transaction{},
		&models.Document{},
		&models.AgreementDraft{},
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
