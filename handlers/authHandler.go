package handlers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/retail_backend/models"
	"github.com/gin-gonic/gin"
)

type SignupInput struct {
	Business models.NewBusiness `json:"business" binding:"required"`
	Admin    models.NewUser     `json:"admin" binding:"required"`
}

// Signup provisions a tenant and its first admin user in one call.
func Signup(c *gin.Context) {
	var input SignupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	business, err := models.CreateBusiness(ctx, &input.Business)
	if err != nil {
		respondError(c, err)
		return
	}

	input.Admin.Role = models.UserRoleAdmin
	user, err := models.CreateUser(ctx, business.ID.String(), &input.Admin)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"business": business, "user": user})
}

func Signin(c *gin.Context) {
	var input models.SigninInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, err)
		return
	}

	token, err := models.Signin(c.Request.Context(), &input)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
