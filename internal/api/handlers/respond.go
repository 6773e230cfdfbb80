package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tradegate/tradegate/internal/models"
)

// respondError maps a coded error onto an HTTP status and a stable JSON
// shape clients can branch on.
func respondError(c *gin.Context, err error) {
	code := models.ErrorCode(err)

	status := http.StatusInternalServerError
	switch models.KindOf(err) {
	case models.ErrorKindValidation:
		status = http.StatusBadRequest
	case models.ErrorKindConflict:
		if code == models.CodeSessionNotFound || code == models.CodeUserNotFound {
			status = http.StatusNotFound
		} else {
			status = http.StatusConflict
		}
	case models.ErrorKindRiskDenial:
		status = http.StatusUnprocessableEntity
	}

	body := gin.H{"error": err.Error()}
	if code != "" {
		body["code"] = code
	}
	c.JSON(status, body)
}
