package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/tiendly/internal/subscription/domain"
)

type changePlanRequest struct {
	CompanyID string `json:"company_id" binding:"required"`
	NewPlanID string `json:"new_plan_id" binding:"required"`
}

func (s *Server) changePlan(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	companyID, err := snowflake.ParseString(req.CompanyID)
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrSubscriptionNotFound)
		return
	}
	newPlanID, err := snowflake.ParseString(req.NewPlanID)
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrPlanNotFound)
		return
	}

	result, err := s.subscriptions.ChangePlan(c.Request.Context(), subscriptiondomain.ChangePlanRequest{
		CompanyID: companyID,
		NewPlanID: newPlanID,
		UserID:    userID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"old_plan":  result.OldPlan,
		"new_plan":  result.NewPlan,
		"old_price": result.OldPriceCents,
		"new_price": result.NewPriceCents,
		"upgraded":  result.Upgraded,
	})
}
