package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/models"
	"bitbucket.org/mmdatafocus/retail_backend/utils"
	"bitbucket.org/mmdatafocus/retail_backend/workflow"
	"github.com/gin-gonic/gin"
)

func GetStockSummary(c *gin.Context) {
	productId, err := strconv.Atoi(c.Param("productId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	summary, err := models.GetStockSummary(c.Request.Context(), productId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func GetStockTransactions(c *gin.Context) {
	productId, err := strconv.Atoi(c.Param("productId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	entries, err := models.GetStockTransactions(c.Request.Context(), productId, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// VerifyStockConsistency is the admin trigger for the reconciliation scan.
func VerifyStockConsistency(c *gin.Context) {
	ctx := c.Request.Context()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		respondError(c, errors.New("business id is required"))
		return
	}

	inconsistencies, err := workflow.VerifyStockConsistency(ctx, config.GetDB(), config.GetLogger(), businessId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"consistent":      len(inconsistencies) == 0,
		"inconsistencies": inconsistencies,
	})
}
