package push

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"voicefront/internal/config"
	"voicefront/internal/store"

	"github.com/golang-jwt/jwt/v5"
)

const (
	apnsHostProduction = "https://api.push.apple.com"
	apnsHostSandbox    = "https://api.sandbox.push.apple.com"

	// Apple rejects provider tokens older than an hour; refresh early.
	providerTokenLifetime = 50 * time.Minute
)

// Service delivers push notifications over APNs with provider-token auth.
//
// Unconfigured push is a supported mode: Notify logs and returns nil so no
// call flow ever fails on notification delivery.
type Service struct {
	store    store.Store
	log      *slog.Logger
	bundleID string
	keyID    string
	teamID   string
	key      *ecdsa.PrivateKey
	host     string

	httpClient *http.Client

	mu          sync.Mutex
	cachedToken string
	tokenIssued time.Time

	clock func() time.Time
}

// New parses the APNs signing key. A zero-valued config returns a disabled
// service, not an error; an invalid key is an error.
func New(cfg config.APNsConfig, st store.Store, log *slog.Logger) (*Service, error) {
	s := &Service{
		store:      st,
		log:        log,
		bundleID:   cfg.BundleID,
		keyID:      cfg.KeyID,
		teamID:     cfg.TeamID,
		host:       apnsHostSandbox,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      time.Now,
	}
	if cfg.Production {
		s.host = apnsHostProduction
	}
	if cfg.PrivateKey == "" {
		return s, nil
	}

	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("push: parse APNs key: %w", err)
	}
	s.key = key
	return s, nil
}

// WithHost overrides the APNs origin; tests point it at httptest servers.
func (s *Service) WithHost(host string) *Service {
	s.host = strings.TrimRight(host, "/")
	return s
}

func (s *Service) enabled() bool {
	return s.key != nil && s.keyID != "" && s.teamID != "" && s.bundleID != ""
}

// Notify sends title/body to every iOS device registered to the user.
// Silently no-ops when push is unconfigured or the user has no devices.
// Per-device failures are logged; the first error is returned so callers
// that care can log it, but callers treat delivery as best-effort.
func (s *Service) Notify(ctx context.Context, userID, title, body string) error {
	if !s.enabled() {
		s.log.Debug("push not configured, skipping", "user_id", userID)
		return nil
	}

	tokens, err := s.store.ListDeviceTokens(ctx, userID, "ios")
	if err != nil {
		return fmt.Errorf("push: list devices: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"aps": map[string]any{
			"alert": map[string]string{"title": title, "body": body},
			"sound": "default",
			"badge": 1,
		},
	})
	if err != nil {
		return err
	}

	bearer, err := s.providerToken()
	if err != nil {
		return fmt.Errorf("push: provider token: %w", err)
	}

	var firstErr error
	for _, tok := range tokens {
		if err := s.send(ctx, bearer, tok, payload); err != nil {
			s.log.Warn("push delivery failed", "user_id", userID, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) send(ctx context.Context, bearer, deviceToken string, payload []byte) error {
	url := fmt.Sprintf("%s/3/device/%s", s.host, deviceToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("apns-topic", s.bundleID)
	req.Header.Set("apns-push-type", "alert")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("apns returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// providerToken returns a cached ES256 provider token, re-signing when the
// cached one nears Apple's one-hour limit.
func (s *Service) providerToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if s.cachedToken != "" && now.Sub(s.tokenIssued) < providerTokenLifetime {
		return s.cachedToken, nil
	}

	t := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": s.teamID,
		"iat": now.Unix(),
	})
	t.Header["kid"] = s.keyID

	signed, err := t.SignedString(s.key)
	if err != nil {
		return "", err
	}
	s.cachedToken = signed
	s.tokenIssued = now
	return signed, nil
}
