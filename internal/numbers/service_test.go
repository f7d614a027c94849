package numbers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"voicefront/internal/store"
	"voicefront/internal/telephony"
	"voicefront/pkg/logger"
)

type searchCall struct {
	country  string
	areaCode string
}

type fakeProvider struct {
	mu sync.Mutex

	searchResults map[string][]string // keyed by areaCode ("" for unconstrained)
	searchErr     error
	purchaseErr   error
	releaseErr    error

	searches  []searchCall
	purchases []string
	releases  []string
	updates   []string
}

func (f *fakeProvider) SearchAvailable(ctx context.Context, country, areaCode string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, searchCall{country: country, areaCode: areaCode})
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchResults[areaCode], nil
}

func (f *fakeProvider) Purchase(ctx context.Context, number, voiceURL, statusURL string) (telephony.PurchasedNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.purchaseErr != nil {
		return telephony.PurchasedNumber{}, f.purchaseErr
	}
	f.purchases = append(f.purchases, number+"|"+voiceURL+"|"+statusURL)
	return telephony.PurchasedNumber{ProviderSID: "PN-" + number, PhoneE164: number}, nil
}

func (f *fakeProvider) Release(ctx context.Context, providerSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, providerSID)
	return f.releaseErr
}

func (f *fakeProvider) UpdateCallbacks(ctx context.Context, providerSID, voiceURL, statusURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, providerSID+"|"+voiceURL+"|"+statusURL)
	return nil
}

var _ telephony.Provider = (*fakeProvider)(nil)

func newService(mem *store.Memory, provider *fakeProvider) *Service {
	return NewService(mem, provider, logger.New("local"),
		"https://api.example.com/webhook/twilio/voice",
		"https://api.example.com/webhook/twilio/status",
		"US",
	)
}

func TestAllocate_HappyPath(t *testing.T) {
	mem := store.NewMemory()
	provider := &fakeProvider{searchResults: map[string][]string{"415": {"+14155550100", "+14155550101"}}}
	svc := newService(mem, provider)

	num, err := svc.Allocate(context.Background(), "U1", "US", "415", "Work")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if num.PhoneE164 != "+14155550100" || num.TwilioSID != "PN-+14155550100" {
		t.Fatalf("unexpected number: %+v", num)
	}
	if num.Label != "Work" {
		t.Fatalf("label = %q", num.Label)
	}

	if len(provider.purchases) != 1 {
		t.Fatalf("expected one purchase, got %v", provider.purchases)
	}
	want := "+14155550100|https://api.example.com/webhook/twilio/voice|https://api.example.com/webhook/twilio/status"
	if provider.purchases[0] != want {
		t.Fatalf("purchase = %q, want %q", provider.purchases[0], want)
	}

	rows := mem.Numbers()
	if len(rows) != 1 || rows[0].UserID != "U1" {
		t.Fatalf("expected persisted row for U1, got %+v", rows)
	}
}

func TestAllocate_AlreadyAllocatedBeforeProviderTraffic(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedNumber(store.PhoneNumber{UserID: "U1", PhoneE164: "+15550001111"})
	provider := &fakeProvider{searchResults: map[string][]string{"": {"+14155550100"}}}
	svc := newService(mem, provider)

	_, err := svc.Allocate(context.Background(), "U1", "", "", "")
	if !errors.Is(err, ErrAlreadyAllocated) {
		t.Fatalf("expected ErrAlreadyAllocated, got %v", err)
	}
	if len(provider.searches) != 0 || len(provider.purchases) != 0 {
		t.Fatalf("duplicate allocation must not touch the provider")
	}
}

func TestAllocate_AreaCodeFallback(t *testing.T) {
	mem := store.NewMemory()
	provider := &fakeProvider{searchResults: map[string][]string{
		"907": nil,
		"":    {"+12065550100"},
	}}
	svc := newService(mem, provider)

	num, err := svc.Allocate(context.Background(), "U1", "US", "907", "")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if num.PhoneE164 != "+12065550100" {
		t.Fatalf("expected fallback candidate, got %+v", num)
	}

	if len(provider.searches) != 2 {
		t.Fatalf("expected constrained then unconstrained search, got %v", provider.searches)
	}
	if provider.searches[0].areaCode != "907" || provider.searches[1].areaCode != "" {
		t.Fatalf("unexpected search order: %v", provider.searches)
	}
}

func TestAllocate_NoNumbersAvailable(t *testing.T) {
	mem := store.NewMemory()
	provider := &fakeProvider{searchResults: map[string][]string{}}
	svc := newService(mem, provider)

	_, err := svc.Allocate(context.Background(), "U1", "US", "907", "")
	if !errors.Is(err, ErrNoNumbersAvailable) {
		t.Fatalf("expected ErrNoNumbersAvailable, got %v", err)
	}
	if len(provider.purchases) != 0 {
		t.Fatalf("empty search must never purchase")
	}
}

func TestAllocate_CompensatesOnPersistFailure(t *testing.T) {
	mem := store.NewMemory()
	mem.FailNextNumberInsert(errors.New("unique violation"))
	provider := &fakeProvider{searchResults: map[string][]string{"": {"+14155550100"}}}
	svc := newService(mem, provider)

	_, err := svc.Allocate(context.Background(), "U1", "", "", "")
	if err == nil {
		t.Fatalf("expected persist error")
	}
	if len(provider.releases) != 1 || provider.releases[0] != "PN-+14155550100" {
		t.Fatalf("expected compensating release, got %v", provider.releases)
	}
	if len(mem.Numbers()) != 0 {
		t.Fatalf("no row should survive a failed persist")
	}
}

func TestAllocate_CompensationFailureKeepsOriginalError(t *testing.T) {
	mem := store.NewMemory()
	mem.FailNextNumberInsert(errors.New("unique violation"))
	provider := &fakeProvider{
		searchResults: map[string][]string{"": {"+14155550100"}},
		releaseErr:    errors.New("provider down"),
	}
	svc := newService(mem, provider)

	_, err := svc.Allocate(context.Background(), "U1", "", "", "")
	if err == nil {
		t.Fatalf("expected persist error")
	}
	if !strings.Contains(err.Error(), "unique violation") {
		t.Fatalf("insert failure must be the returned error, got %v", err)
	}
	if strings.Contains(err.Error(), "provider down") {
		t.Fatalf("compensation failure must not mask the cause, got %v", err)
	}
}

func TestAutoAllocate_AlreadyAllocatedIsSuccess(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedNumber(store.PhoneNumber{UserID: "U1", PhoneE164: "+15550001111"})
	provider := &fakeProvider{}
	svc := newService(mem, provider)

	if err := svc.AutoAllocate(context.Background(), "U1"); err != nil {
		t.Fatalf("auto-allocate for provisioned user must be a no-op, got %v", err)
	}
}

func TestAutoAllocate_UsesDefaultsAndLabel(t *testing.T) {
	mem := store.NewMemory()
	provider := &fakeProvider{searchResults: map[string][]string{"": {"+14155550100"}}}
	svc := newService(mem, provider)

	if err := svc.AutoAllocate(context.Background(), "U1"); err != nil {
		t.Fatalf("auto-allocate: %v", err)
	}
	rows := mem.Numbers()
	if len(rows) != 1 || rows[0].Label != "Auto-allocated" {
		t.Fatalf("expected auto-allocated row, got %+v", rows)
	}
	if provider.searches[0].country != "US" {
		t.Fatalf("expected default country, got %v", provider.searches)
	}
}

func TestRelease_OwnershipEnforced(t *testing.T) {
	mem := store.NewMemory()
	n := mem.SeedNumber(store.PhoneNumber{UserID: "U1", PhoneE164: "+15550001111", TwilioSID: "PN1"})
	provider := &fakeProvider{}
	svc := newService(mem, provider)

	if err := svc.Release(context.Background(), "U2", n.ID); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("expected ErrNotOwned, got %v", err)
	}
	if len(mem.Numbers()) != 1 {
		t.Fatalf("foreign release must not delete")
	}

	if err := svc.Release(context.Background(), "U1", n.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(provider.releases) != 1 || provider.releases[0] != "PN1" {
		t.Fatalf("expected provider release, got %v", provider.releases)
	}
	if len(mem.Numbers()) != 0 {
		t.Fatalf("row should be gone")
	}
}

func TestRelease_ProviderFailureKeepsRow(t *testing.T) {
	mem := store.NewMemory()
	n := mem.SeedNumber(store.PhoneNumber{UserID: "U1", PhoneE164: "+15550001111", TwilioSID: "PN1"})
	provider := &fakeProvider{releaseErr: errors.New("provider down")}
	svc := newService(mem, provider)

	if err := svc.Release(context.Background(), "U1", n.ID); err == nil {
		t.Fatalf("expected provider error")
	}
	if len(mem.Numbers()) != 1 {
		t.Fatalf("row must survive a failed provider release so the call can be retried")
	}
}

func TestSyncCallbacks(t *testing.T) {
	mem := store.NewMemory()
	n := mem.SeedNumber(store.PhoneNumber{UserID: "U1", PhoneE164: "+15550001111", TwilioSID: "PN1"})
	provider := &fakeProvider{}
	svc := newService(mem, provider)

	if err := svc.SyncCallbacks(context.Background(), "U1", n.ID); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(provider.updates) != 1 {
		t.Fatalf("expected one callback update, got %v", provider.updates)
	}
}
