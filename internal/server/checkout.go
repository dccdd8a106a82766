package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	intentdomain "github.com/smallbiznis/tiendly/internal/intent/domain"
)

type createSignupIntentRequest struct {
	Email       string   `json:"email" binding:"required"`
	FullName    string   `json:"full_name"`
	CompanyName string   `json:"company_name"`
	PlanCode    string   `json:"plan_code" binding:"required"`
	ModuleIDs   []string `json:"module_ids"`
	Provider    string   `json:"provider" binding:"required"`
	FxRateARS   string   `json:"fx_rate_ars"`
}

func (s *Server) createSignupIntent(c *gin.Context) {
	var req createSignupIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	intent, err := s.intents.Create(c.Request.Context(), intentdomain.CreateRequest{
		Email:       req.Email,
		FullName:    req.FullName,
		CompanyName: req.CompanyName,
		PlanCode:    req.PlanCode,
		ModuleIDs:   req.ModuleIDs,
		Provider:    req.Provider,
		FxRateARS:   req.FxRateARS,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"intent_id":        intent.ID.String(),
		"status":           intent.Status,
		"amount_usd_cents": intent.AmountUSDCents,
		"amount_ars_cents": intent.AmountARSCents,
	})
}

type startCheckoutRequest struct {
	IntentID   string `json:"intent_id" binding:"required"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (s *Server) startCheckout(c *gin.Context) {
	var req startCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	intentID, err := snowflake.ParseString(req.IntentID)
	if err != nil {
		AbortWithError(c, intentdomain.ErrIntentNotFound)
		return
	}

	result, err := s.intents.StartCheckout(c.Request.Context(), intentID, req.SuccessURL, req.CancelURL)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"checkout_url": result.CheckoutURL,
		"provider":     result.Provider,
	})
}
