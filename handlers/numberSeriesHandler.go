package handlers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/retail_backend/models"
	"github.com/gin-gonic/gin"
)

func CreateTransactionNumberSeries(c *gin.Context) {
	var input models.NewTransactionNumberSeries
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, err)
		return
	}

	series, err := models.CreateTransactionNumberSeries(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, series)
}

func GetTransactionNumberSeries(c *gin.Context) {
	series, err := models.GetTransactionNumberSeriesAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, series)
}
