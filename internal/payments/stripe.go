package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeProvider charges card contacts through Stripe PaymentIntents.
// Amounts are already minor units, which is what Stripe expects.
type StripeProvider struct {
	Currency string
}

// NewStripeProvider sets the package-level API key and returns a
// provider for the given settlement currency.
func NewStripeProvider(apiKey, currency string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{Currency: currency}
}

func (s *StripeProvider) Charge(ctx context.Context, req ChargeRequest) (Receipt, error) {
	currency := req.Currency
	if currency == "" {
		currency = s.Currency
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount.IntPart()),
		Currency: stripe.String(currency),
		Confirm:  stripe.Bool(true),
	}
	if req.Contact != "" {
		params.Customer = stripe.String(req.Contact)
	}
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return Receipt{}, fmt.Errorf("stripe charge: %w", err)
	}
	return Receipt{Reference: pi.ID, Provider: "STRIPE"}, nil
}
