// Package payments defines the pluggable payment collaborator. The
// default MobileMoney provider is a deterministic simulation of the
// Rwanda mobile-money rails; swap in StripeProvider (or a test double)
// without touching the orchestrator.
package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeRequest describes one payment attempt for a completed ride.
type ChargeRequest struct {
	RideID   string
	Amount   decimal.Decimal
	Currency string
	// Contact is the payer's payment handle; for mobile money, a phone
	// number whose prefix identifies the provider.
	Contact string
}

// Receipt is the outcome of a successful charge.
type Receipt struct {
	Reference string
	Provider  string
}

// Provider executes a charge against an external payment service.
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (Receipt, error)
}

const (
	ProviderMTN     = "MTN_MOMO"
	ProviderAirtel  = "AIRTEL_MONEY"
	ProviderUnknown = "UNKNOWN"
)

// DetectProvider classifies a Rwanda phone number by prefix:
// 078x numbers are MTN, 073x are Airtel.
func DetectProvider(contact string) string {
	cleaned := strings.NewReplacer("+", "", " ", "", "-", "").Replace(contact)
	switch {
	case strings.Contains(cleaned, "25078") || strings.HasPrefix(cleaned, "078"):
		return ProviderMTN
	case strings.Contains(cleaned, "25073") || strings.HasPrefix(cleaned, "073"):
		return ProviderAirtel
	default:
		return ProviderUnknown
	}
}

// MobileMoney simulates the MTN / Airtel mobile-money APIs: provider
// detection and reference generation are real, the money movement is not.
type MobileMoney struct {
	Now func() time.Time
}

func (m *MobileMoney) Charge(ctx context.Context, req ChargeRequest) (Receipt, error) {
	provider := DetectProvider(req.Contact)
	if provider == ProviderUnknown {
		return Receipt{}, fmt.Errorf("unrecognized mobile money number %q", req.Contact)
	}
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		return Receipt{}, fmt.Errorf("invalid charge amount %s", req.Amount)
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	ref := fmt.Sprintf("SB%s%s%s",
		shortID(req.RideID), now().UTC().Format("20060102150405"), uuid.NewString()[:8])
	return Receipt{Reference: ref, Provider: provider}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
