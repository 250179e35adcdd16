package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"stakeplay-backend/internal/apperr"
	"stakeplay-backend/internal/logger"
)

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes the public code and message of err. Anything without
// a domain code is logged and reported as INTERNAL.
func respondError(c *gin.Context, err error) {
	code, msg := apperr.Public(err)
	if code == apperr.CodeInternal {
		logger.Error("Request failed", "path", c.FullPath(), "user", c.GetString("user_id"), "error", err)
	}
	c.JSON(code.HTTPStatus(), gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": msg,
		},
	})
}

func respondInvalid(c *gin.Context, err error) {
	respondError(c, apperr.New(apperr.CodeValidation, "invalid request: %v", err))
}
