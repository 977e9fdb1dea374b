package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/artemuse/gallery-backend/internal/apierr"
)

// Every response carries a boolean success discriminator; clients branch on
// it rather than on status code alone.

func RespondOK(c *gin.Context, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func RespondError(c *gin.Context, err error) {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(apierr.StatusOf(err), gin.H{"success": false, "message": msg})
}
