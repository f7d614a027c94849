package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioProvider implements Provider against the Twilio REST API.
// It deliberately avoids the provider SDK; the surface we need is four
// endpoints and form-encoded requests.
type TwilioProvider struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

func NewTwilioProvider(accountSID, authToken string) *TwilioProvider {
	return &TwilioProvider{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    twilioAPIBase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// WithBaseURL overrides the API origin; tests point it at httptest servers.
func (p *TwilioProvider) WithBaseURL(base string) *TwilioProvider {
	p.baseURL = strings.TrimRight(base, "/")
	return p
}

func (p *TwilioProvider) SearchAvailable(ctx context.Context, country, areaCode string) ([]string, error) {
	q := url.Values{}
	q.Set("PageSize", "1")
	if areaCode != "" {
		q.Set("AreaCode", areaCode)
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/AvailablePhoneNumbers/%s/Local.json?%s",
		p.baseURL, p.accountSID, url.PathEscape(country), q.Encode())

	var body struct {
		AvailablePhoneNumbers []struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"available_phone_numbers"`
	}
	if err := p.do(ctx, http.MethodGet, endpoint, nil, &body); err != nil {
		return nil, fmt.Errorf("telephony: search available: %w", err)
	}

	out := make([]string, 0, len(body.AvailablePhoneNumbers))
	for _, n := range body.AvailablePhoneNumbers {
		out = append(out, n.PhoneNumber)
	}
	return out, nil
}

func (p *TwilioProvider) Purchase(ctx context.Context, number, voiceURL, statusURL string) (PurchasedNumber, error) {
	form := url.Values{}
	form.Set("PhoneNumber", number)
	form.Set("VoiceUrl", voiceURL)
	form.Set("VoiceMethod", http.MethodPost)
	form.Set("StatusCallback", statusURL)
	form.Set("StatusCallbackMethod", http.MethodPost)

	endpoint := fmt.Sprintf("%s/Accounts/%s/IncomingPhoneNumbers.json", p.baseURL, p.accountSID)

	var body struct {
		SID         string `json:"sid"`
		PhoneNumber string `json:"phone_number"`
	}
	if err := p.do(ctx, http.MethodPost, endpoint, form, &body); err != nil {
		return PurchasedNumber{}, fmt.Errorf("telephony: purchase %s: %w", number, err)
	}
	return PurchasedNumber{ProviderSID: body.SID, PhoneE164: body.PhoneNumber}, nil
}

func (p *TwilioProvider) Release(ctx context.Context, providerSID string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/IncomingPhoneNumbers/%s.json", p.baseURL, p.accountSID, providerSID)
	if err := p.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("telephony: release %s: %w", providerSID, err)
	}
	return nil
}

func (p *TwilioProvider) UpdateCallbacks(ctx context.Context, providerSID, voiceURL, statusURL string) error {
	form := url.Values{}
	form.Set("VoiceUrl", voiceURL)
	form.Set("VoiceMethod", http.MethodPost)
	form.Set("StatusCallback", statusURL)
	form.Set("StatusCallbackMethod", http.MethodPost)

	endpoint := fmt.Sprintf("%s/Accounts/%s/IncomingPhoneNumbers/%s.json", p.baseURL, p.accountSID, providerSID)
	if err := p.do(ctx, http.MethodPost, endpoint, form, nil); err != nil {
		return fmt.Errorf("telephony: update callbacks %s: %w", providerSID, err)
	}
	return nil
}

func (p *TwilioProvider) do(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Provider = (*TwilioProvider)(nil)
