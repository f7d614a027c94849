package telephony

import (
	"context"
)

// Provider defines the provider-agnostic number-management interface used
// by business logic.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - Keep request/response types provider-agnostic.
type Provider interface {
	// SearchAvailable returns candidate E.164 numbers for a country,
	// optionally constrained to an area code. An empty result is not an
	// error; callers decide whether to fall back or fail.
	SearchAvailable(ctx context.Context, country, areaCode string) ([]string, error)

	// Purchase acquires a number and registers the voice and status
	// callback URLs at acquisition time.
	Purchase(ctx context.Context, number, voiceURL, statusURL string) (PurchasedNumber, error)

	// Release returns a purchased number to the provider. Used both for
	// user-initiated release and as the allocation saga's compensation.
	Release(ctx context.Context, providerSID string) error

	// UpdateCallbacks re-points the voice and status callback URLs for an
	// already-purchased number.
	UpdateCallbacks(ctx context.Context, providerSID, voiceURL, statusURL string) error
}

// PurchasedNumber identifies a provider-side number resource.
type PurchasedNumber struct {
	ProviderSID string `json:"provider_sid"`
	PhoneE164   string `json:"phone_e164"`
}
