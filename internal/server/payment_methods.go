package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/tiendly/internal/subscription/domain"
)

type savePaymentMethodRequest struct {
	Email     string `json:"email"`
	CompanyID string `json:"company_id"`
	Provider  string `json:"provider" binding:"required"`
	Ref       string `json:"ref" binding:"required"`
	Brand     string `json:"brand"`
	Last4     string `json:"last4"`
	ExpMonth  int    `json:"exp_month"`
	ExpYear   int    `json:"exp_year"`
}

func (s *Server) savePaymentMethod(c *gin.Context) {
	var req savePaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var companyID snowflake.ID
	if req.CompanyID != "" {
		parsed, err := snowflake.ParseString(req.CompanyID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		companyID = parsed
	}

	err := s.subscriptions.SavePaymentMethod(c.Request.Context(), subscriptiondomain.SavePaymentMethodRequest{
		Email:     req.Email,
		CompanyID: companyID,
		Provider:  req.Provider,
		Ref:       req.Ref,
		Brand:     req.Brand,
		Last4:     req.Last4,
		ExpMonth:  req.ExpMonth,
		ExpYear:   req.ExpYear,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
