package handlers

import (
	"errors"
	"net/http"

	"bitbucket.org/mmdatafocus/retail_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// respondError maps business failures to HTTP statuses. The error kind rides
// along in the body so clients can branch without parsing messages.
func respondError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}

	kind, ok := utils.ErrorKindOf(err)
	if !ok {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusBadRequest
	switch kind {
	case utils.ErrorKindNotFound:
		status = http.StatusNotFound
	case utils.ErrorKindInsufficientStock:
		status = http.StatusUnprocessableEntity
	case utils.ErrorKindConcurrencyConflict:
		status = http.StatusConflict
	case utils.ErrorKindDataIntegrityViolation:
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}
