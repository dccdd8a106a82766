package domain

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrSamePlan             = errors.New("same_plan")
	ErrStaleSubscription    = errors.New("stale_subscription")
	ErrNotCompanyMember     = errors.New("not_company_member")
	ErrInvalidPaymentMethod = errors.New("invalid_payment_method")
)
