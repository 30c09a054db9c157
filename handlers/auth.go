package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/config"
	"github.com/CodeDript/codedript-backend/middleware"
	"github.com/CodeDript/codedript-backend/models"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

type AuthHandler struct {
	DB  *gorm.DB
	Cfg *config.Config
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		DB:  db,
		Cfg: cfg,
	}
}

type NonceRequest struct {
	Address string `json:"address" binding:"required"`
}

// Nonce issues a one-time login challenge for a wallet address. The
// wallet signs the returned message with personal_sign.
func (h *AuthHandler) Nonce(c *gin.Context) {
	var req NonceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid wallet address"})
		return
	}
	address := common.HexToAddress(req.Address).Hex()

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate nonce"})
		return
	}
	message := fmt.Sprintf("CodeDript login\nAddress: %s\nNonce: %s", address, hex.EncodeToString(buf))

	var user models.User
	err := h.DB.Where("wallet_address = ?", address).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{WalletAddress: address, LoginNonce: message}
		err = h.DB.Create(&user).Error
	} else if err == nil {
		err = h.DB.Model(&user).Update("login_nonce", message).Error
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store nonce"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": message})
}

type VerifyRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
	Name      string `json:"name"`
	Role      string `json:"role"`
}

// Verify checks the personal_sign signature over the issued nonce,
// rotates it, and hands out access and refresh tokens.
func (h *AuthHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid wallet address"})
		return
	}
	address := common.HexToAddress(req.Address)

	var user models.User
	if err := h.DB.Where("wallet_address = ?", address.Hex()).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No login challenge issued for this address"})
		return
	}
	if user.LoginNonce == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Login challenge already used, request a new nonce"})
		return
	}

	sig, err := hexutil.Decode(req.Signature)
	if err != nil || len(sig) != 65 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed signature"})
		return
	}
	// personal_sign returns v as 27/28; SigToPub expects 0/1.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(user.LoginNonce)), sig)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Signature verification failed"})
		return
	}
	if crypto.PubkeyToAddress(*pub) != address {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Signature does not match the wallet address"})
		return
	}

	updates := map[string]interface{}{"login_nonce": ""}
	if req.Name != "" && user.Name == "" {
		updates["name"] = req.Name
		user.Name = req.Name
	}
	if (req.Role == models.RoleClient || req.Role == models.RoleDeveloper) && user.Role == "" {
		updates["role"] = req.Role
		user.Role = req.Role
	}
	if user.Role == "" {
		updates["role"] = models.RoleClient
		user.Role = models.RoleClient
	}
	if err := h.DB.Model(&user).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
		return
	}

	accessToken, err := middleware.GenerateToken(user.ID, user.Role, user.WalletAddress, h.Cfg.JWTSecret, accessTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate access token"})
		return
	}
	refreshToken, err := middleware.GenerateToken(user.ID, user.Role, user.WalletAddress, h.Cfg.JWTRefreshSecret, refreshTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate refresh token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user":          user,
	})
}

// RefreshToken request body
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh handles token refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := &middleware.Claims{}
	token, err := jwt.ParseWithClaims(req.RefreshToken, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(h.Cfg.JWTRefreshSecret), nil
	})
	if err != nil || !token.Valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired refresh token", "code": "InvalidToken"})
		return
	}

	var user models.User
	if err := h.DB.First(&user, claims.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "User account is inactive"})
		return
	}

	accessToken, err := middleware.GenerateToken(user.ID, user.Role, user.WalletAddress, h.Cfg.JWTSecret, accessTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate access token"})
		return
	}
	refreshToken, err := middleware.GenerateToken(user.ID, user.Role, user.WalletAddress, h.Cfg.JWTRefreshSecret, refreshTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate refresh token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}
