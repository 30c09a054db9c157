package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/CodeDript/codedript-backend/escrow"
	"github.com/CodeDript/codedript-backend/models"
	"github.com/CodeDript/codedript-backend/workflow"
)

// currentUser resolves the authenticated user set by the JWT
// middleware. Writes the error response itself on failure.
func currentUser(c *gin.Context, db *gorm.DB) (*models.User, bool) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, false
	}

	var user models.User
	if err := db.First(&user, userID.(uint)).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return nil, false
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "User account is inactive"})
		return nil, false
	}
	return &user, true
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}

// respondError maps workflow and escrow errors onto HTTP statuses with
// a user-facing message. Escrow errors carry their kind as a code so
// the UI can attach a remediation hint.
func respondError(c *gin.Context, err error) {
	switch e := err.(type) {
	case *workflow.ValidationError:
		c.JSON(http.StatusBadRequest, gin.H{"error": e.Message})
		return
	case *workflow.ForbiddenError:
		c.JSON(http.StatusForbidden, gin.H{"error": e.Message})
		return
	case *workflow.TransitionError:
		c.JSON(http.StatusConflict, gin.H{"error": e.Error()})
		return
	case *escrow.Error:
		status := http.StatusBadGateway
		switch e.Kind {
		case escrow.KindInsufficientFunds:
			status = http.StatusPaymentRequired
		case escrow.KindWrongAccount:
			status = http.StatusForbidden
		case escrow.KindUserRejected, escrow.KindOnChainState, escrow.KindNotMined:
			status = http.StatusConflict
		case escrow.KindInvalidAddress:
			status = http.StatusBadRequest
		case escrow.KindWalletUnavailable:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": e.Message, "code": e.Kind.String()})
		return
	}

	if workflow.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
