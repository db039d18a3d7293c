package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v76"

	"github.com/jhonslife/giro-license-server/internal/models"
)

// NOTE: Database integration tests and Stripe API tests would require:
// 1. A test database or proper mocking infrastructure
// 2. Stripe test mode configuration and webhook testing
// 3. More complex test setup with transaction rollback
//
// The tests below focus on testing business logic that doesn't require external dependencies

func testPriceIDs() map[models.PlanType]string {
	return map[models.PlanType]string{
		models.PlanMonthly:    "price_monthly_123",
		models.PlanSemiannual: "price_semiannual_456",
		models.PlanAnnual:     "price_annual_789",
		models.PlanLifetime:   "price_lifetime_000",
	}
}

func TestBillingService_GetPriceID(t *testing.T) {
	service := NewBillingService("test_secret_key", "test_webhook_secret")
	service.SetPriceIDs(testPriceIDs())

	tests := []struct {
		name            string
		plan            string
		expectedPriceID string
	}{
		{
			name:            "monthly plan",
			plan:            "monthly",
			expectedPriceID: "price_monthly_123",
		},
		{
			name:            "annual plan",
			plan:            "annual",
			expectedPriceID: "price_annual_789",
		},
		{
			name:            "invalid plan",
			plan:            "invalid",
			expectedPriceID: "",
		},
		{
			name:            "empty plan",
			plan:            "",
			expectedPriceID: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			priceID := service.getPriceID(tt.plan)
			assert.Equal(t, tt.expectedPriceID, priceID)
		})
	}
}

func TestBillingService_GetPlanFromPriceID(t *testing.T) {
	service := NewBillingService("test_secret_key", "test_webhook_secret")
	service.SetPriceIDs(testPriceIDs())

	tests := []struct {
		name         string
		priceID      string
		expectedPlan string
	}{
		{
			name:         "monthly price ID",
			priceID:      "price_monthly_123",
			expectedPlan: "monthly",
		},
		{
			name:         "lifetime price ID",
			priceID:      "price_lifetime_000",
			expectedPlan: "lifetime",
		},
		{
			name:         "unknown price ID",
			priceID:      "price_unknown_789",
			expectedPlan: "unknown",
		},
		{
			name:         "empty price ID",
			priceID:      "",
			expectedPlan: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := service.GetPlanFromPriceID(tt.priceID)
			assert.Equal(t, tt.expectedPlan, plan)
		})
	}
}

func TestBillingService_SetPriceIDs(t *testing.T) {
	service := NewBillingService("test_key", "test_webhook")

	monthlyPriceID := "price_monthly_new"
	annualPriceID := "price_annual_new"

	service.SetPriceIDs(map[models.PlanType]string{
		models.PlanMonthly: monthlyPriceID,
		models.PlanAnnual:  annualPriceID,
	})

	assert.Equal(t, monthlyPriceID, service.getPriceID("monthly"))
	assert.Equal(t, annualPriceID, service.getPriceID("annual"))
}

func TestNewBillingService(t *testing.T) {
	secretKey := "sk_test_123"
	webhookSecret := "whsec_test_456"

	service := NewBillingService(secretKey, webhookSecret)

	assert.NotNil(t, service)
	assert.Equal(t, webhookSecret, service.webhookSecret)
	// Verify Stripe key was set globally
	assert.Equal(t, secretKey, stripe.Key)
}

func TestBillingService_ErrorConstants(t *testing.T) {
	// Test that error constants are defined correctly
	assert.NotNil(t, ErrNoSubscription)
	assert.NotNil(t, ErrInvalidWebhook)
	assert.NotNil(t, ErrInvalidPlan)
	assert.NotNil(t, ErrSamePlan)
	assert.NotNil(t, ErrPaymentMethodNotFound)

	assert.Equal(t, "no active subscription", ErrNoSubscription.Error())
	assert.Equal(t, "invalid webhook signature", ErrInvalidWebhook.Error())
	assert.Equal(t, "invalid plan", ErrInvalidPlan.Error())
	assert.Equal(t, "already on this plan", ErrSamePlan.Error())
	assert.Equal(t, "payment method not found", ErrPaymentMethodNotFound.Error())
}

func TestBillingService_HandleWebhook_InvalidSignature(t *testing.T) {
	service := NewBillingService("test_key", "test_webhook_secret")

	payload := []byte(`{"type": "customer.created"}`)
	signature := "invalid_signature"

	event, err := service.HandleWebhook(payload, signature)

	assert.Error(t, err)
	assert.Equal(t, ErrInvalidWebhook, err)
	assert.Nil(t, event)
}

func TestBillingService_SetDB(t *testing.T) {
	service := NewBillingService("test_key", "test_webhook")

	// SetDB should not panic with nil
	service.SetDB(nil)
	assert.NotNil(t, service)
}

func TestBillingService_PlanValidation(t *testing.T) {
	service := NewBillingService("test_key", "test_webhook")
	service.SetPriceIDs(testPriceIDs())

	tests := []struct {
		name    string
		plan    string
		isValid bool
	}{
		{
			name:    "valid monthly plan",
			plan:    "monthly",
			isValid: true,
		},
		{
			name:    "valid lifetime plan",
			plan:    "lifetime",
			isValid: true,
		},
		{
			name:    "invalid basic plan",
			plan:    "basic",
			isValid: false,
		},
		{
			name:    "invalid free plan",
			plan:    "free",
			isValid: false,
		},
		{
			name:    "empty plan",
			plan:    "",
			isValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			priceID := service.getPriceID(tt.plan)
			if tt.isValid {
				assert.NotEmpty(t, priceID, "Expected valid plan to have a price ID")
			} else {
				assert.Empty(t, priceID, "Expected invalid plan to have empty price ID")
			}
		})
	}
}

func TestBillingService_PlanMapping(t *testing.T) {
	// Test bidirectional mapping between plans and price IDs
	service := NewBillingService("test_key", "test_webhook")

	monthlyPriceID := "price_1234_monthly"
	annualPriceID := "price_5678_annual"

	service.SetPriceIDs(map[models.PlanType]string{
		models.PlanMonthly: monthlyPriceID,
		models.PlanAnnual:  annualPriceID,
	})

	// Test plan -> price ID
	assert.Equal(t, monthlyPriceID, service.getPriceID("monthly"))
	assert.Equal(t, annualPriceID, service.getPriceID("annual"))

	// Test price ID -> plan
	assert.Equal(t, "monthly", service.GetPlanFromPriceID(monthlyPriceID))
	assert.Equal(t, "annual", service.GetPlanFromPriceID(annualPriceID))

	// Test round-trip
	planName := "monthly"
	priceID := service.getPriceID(planName)
	recoveredPlan := service.GetPlanFromPriceID(priceID)
	assert.Equal(t, planName, recoveredPlan)
}

func TestBillingService_SubscriptionStatuses(t *testing.T) {
	// Document valid subscription statuses
	validStatuses := []string{
		"active",
		"past_due",
		"canceled",
		"trialing",
		"incomplete",
		"incomplete_expired",
		"unpaid",
	}

	for _, status := range validStatuses {
		assert.NotEmpty(t, status, "Status should not be empty")
	}
}

func TestBillingService_InvoiceStatuses(t *testing.T) {
	// Document valid invoice statuses
	validStatuses := []string{
		"draft",
		"open",
		"paid",
		"void",
		"uncollectible",
	}

	for _, status := range validStatuses {
		assert.NotEmpty(t, status, "Status should not be empty")
	}
}
