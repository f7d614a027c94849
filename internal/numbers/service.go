package numbers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"voicefront/internal/store"
	"voicefront/internal/telephony"
)

var (
	ErrAlreadyAllocated   = errors.New("numbers: user already has a number")
	ErrNoNumbersAvailable = errors.New("numbers: no numbers available")
	ErrNotOwned           = errors.New("numbers: number not owned by user")
)

const autoAllocateLabel = "Auto-allocated"

// Service runs the number lifecycle against the provider and the store.
// Allocation is a small saga: search, purchase, persist, with a release
// compensation when the persist step fails so no purchased number is left
// orphaned at the provider.
type Service struct {
	store    store.Store
	provider telephony.Provider
	log      *slog.Logger

	voiceURL  string
	statusURL string

	defaultCountry string
}

func NewService(st store.Store, provider telephony.Provider, log *slog.Logger, voiceURL, statusURL, defaultCountry string) *Service {
	return &Service{
		store:          st,
		provider:       provider,
		log:            log,
		voiceURL:       voiceURL,
		statusURL:      statusURL,
		defaultCountry: defaultCountry,
	}
}

// Allocate provisions one number for the user. One number per user: the
// check runs before any provider traffic so a duplicate request costs
// nothing. An area-code search that comes back empty falls back to an
// unconstrained search before giving up.
func (s *Service) Allocate(ctx context.Context, userID, country, areaCode, label string) (store.PhoneNumber, error) {
	has, err := s.store.UserHasNumber(ctx, userID)
	if err != nil {
		return store.PhoneNumber{}, fmt.Errorf("numbers: check allocation: %w", err)
	}
	if has {
		return store.PhoneNumber{}, ErrAlreadyAllocated
	}

	if country == "" {
		country = s.defaultCountry
	}

	candidates, err := s.provider.SearchAvailable(ctx, country, areaCode)
	if err != nil {
		return store.PhoneNumber{}, fmt.Errorf("numbers: search: %w", err)
	}
	if len(candidates) == 0 && areaCode != "" {
		s.log.Info("no numbers in area code, retrying unconstrained",
			"user_id", userID, "country", country, "area_code", areaCode)
		candidates, err = s.provider.SearchAvailable(ctx, country, "")
		if err != nil {
			return store.PhoneNumber{}, fmt.Errorf("numbers: fallback search: %w", err)
		}
	}
	if len(candidates) == 0 {
		return store.PhoneNumber{}, ErrNoNumbersAvailable
	}

	purchased, err := s.provider.Purchase(ctx, candidates[0], s.voiceURL, s.statusURL)
	if err != nil {
		return store.PhoneNumber{}, fmt.Errorf("numbers: purchase: %w", err)
	}

	num, err := s.store.InsertNumber(ctx, store.PhoneNumber{
		UserID:    userID,
		PhoneE164: purchased.PhoneE164,
		TwilioSID: purchased.ProviderSID,
		Label:     label,
	})
	if err != nil {
		// Compensate: the provider holds a number no row points at. A failed
		// release is logged, not returned; the insert failure is the cause.
		if relErr := s.provider.Release(ctx, purchased.ProviderSID); relErr != nil {
			s.log.Error("compensating release failed, number orphaned at provider",
				"user_id", userID, "provider_sid", purchased.ProviderSID, "err", relErr)
		}
		return store.PhoneNumber{}, fmt.Errorf("numbers: persist: %w", err)
	}

	s.log.Info("number allocated",
		"user_id", userID, "phone", num.PhoneE164, "provider_sid", num.TwilioSID)
	return num, nil
}

// AutoAllocate is the upgrade-triggered entry point. Already-allocated is
// success, not an error; anything else is reported to the caller, who
// treats the whole thing as best-effort.
func (s *Service) AutoAllocate(ctx context.Context, userID string) error {
	_, err := s.Allocate(ctx, userID, "", "", autoAllocateLabel)
	if errors.Is(err, ErrAlreadyAllocated) {
		return nil
	}
	return err
}

// List returns the user's numbers.
func (s *Service) List(ctx context.Context, userID string) ([]store.PhoneNumber, error) {
	return s.store.ListNumbersByUser(ctx, userID)
}

// Release gives the number back to the provider and removes the row.
// Provider release runs first: if it fails the row survives and the
// operation can be retried.
func (s *Service) Release(ctx context.Context, userID, numberID string) error {
	num, err := s.owned(ctx, userID, numberID)
	if err != nil {
		return err
	}

	if num.TwilioSID != "" {
		if err := s.provider.Release(ctx, num.TwilioSID); err != nil {
			return fmt.Errorf("numbers: provider release: %w", err)
		}
	}
	if err := s.store.DeleteNumber(ctx, num.ID); err != nil {
		return fmt.Errorf("numbers: delete: %w", err)
	}

	s.log.Info("number released", "user_id", userID, "phone", num.PhoneE164)
	return nil
}

// SyncCallbacks re-points the provider's voice and status callbacks at
// this deployment. Used after a base-URL change.
func (s *Service) SyncCallbacks(ctx context.Context, userID, numberID string) error {
	num, err := s.owned(ctx, userID, numberID)
	if err != nil {
		return err
	}
	if num.TwilioSID == "" {
		return fmt.Errorf("numbers: %s has no provider sid", num.PhoneE164)
	}
	if err := s.provider.UpdateCallbacks(ctx, num.TwilioSID, s.voiceURL, s.statusURL); err != nil {
		return fmt.Errorf("numbers: update callbacks: %w", err)
	}
	return nil
}

// owned loads the number and enforces ownership. A foreign number is
// reported as not-owned rather than leaking its existence via a different
// error shape; handlers map both to 404.
func (s *Service) owned(ctx context.Context, userID, numberID string) (store.PhoneNumber, error) {
	num, err := s.store.GetNumberByID(ctx, numberID)
	if err != nil {
		return store.PhoneNumber{}, err
	}
	if num.UserID != userID {
		return store.PhoneNumber{}, ErrNotOwned
	}
	return num, nil
}
