package payments

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDetectProvider(t *testing.T) {
	cases := []struct {
		contact string
		want    string
	}{
		{"+250 78 123 4567", ProviderMTN},
		{"0781234567", ProviderMTN},
		{"250731234567", ProviderAirtel},
		{"073-123-4567", ProviderAirtel},
		{"0721234567", ProviderUnknown},
		{"not-a-number", ProviderUnknown},
	}
	for _, c := range cases {
		if got := DetectProvider(c.contact); got != c.want {
			t.Errorf("DetectProvider(%q) = %s, want %s", c.contact, got, c.want)
		}
	}
}

func TestMobileMoneyChargeGeneratesReference(t *testing.T) {
	fixed := time.Date(2026, 8, 28, 12, 30, 0, 0, time.UTC)
	m := &MobileMoney{Now: func() time.Time { return fixed }}

	rec, err := m.Charge(context.Background(), ChargeRequest{
		RideID:  "abcdef1234",
		Amount:  decimal.NewFromInt(4500),
		Contact: "0781234567",
	})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if rec.Provider != ProviderMTN {
		t.Fatalf("provider = %s", rec.Provider)
	}
	if !strings.HasPrefix(rec.Reference, "SBabcdef1220260828123000") {
		t.Fatalf("reference = %q", rec.Reference)
	}
}

func TestMobileMoneyChargeRejectsUnknownProvider(t *testing.T) {
	m := &MobileMoney{}
	_, err := m.Charge(context.Background(), ChargeRequest{
		RideID:  "r1",
		Amount:  decimal.NewFromInt(100),
		Contact: "0700000000",
	})
	if err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestMobileMoneyChargeRejectsNonPositiveAmount(t *testing.T) {
	m := &MobileMoney{}
	_, err := m.Charge(context.Background(), ChargeRequest{
		RideID:  "r1",
		Amount:  decimal.Zero,
		Contact: "0781234567",
	})
	if err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestMobileMoneyReferencesUnique(t *testing.T) {
	m := &MobileMoney{}
	req := ChargeRequest{RideID: "r1", Amount: decimal.NewFromInt(100), Contact: "0781234567"}
	a, _ := m.Charge(context.Background(), req)
	b, _ := m.Charge(context.Background(), req)
	if a.Reference == b.Reference {
		t.Fatalf("references must be unique: %s", a.Reference)
	}
}
