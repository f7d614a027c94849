package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTwilioProvider_SearchAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("AreaCode") != "212" {
			t.Errorf("expected AreaCode=212, got %q", r.URL.Query().Get("AreaCode"))
		}
		if u, _, ok := r.BasicAuth(); !ok || u != "AC1" {
			t.Errorf("expected basic auth with account sid")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"available_phone_numbers":[{"phone_number":"+12125550100"}]}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider("AC1", "tok").WithBaseURL(srv.URL)
	nums, err := p.SearchAvailable(context.Background(), "US", "212")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(nums) != 1 || nums[0] != "+12125550100" {
		t.Fatalf("unexpected numbers: %v", nums)
	}
}

func TestTwilioProvider_Purchase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostFormValue("PhoneNumber") != "+12125550100" {
			t.Errorf("expected PhoneNumber, got %q", r.PostFormValue("PhoneNumber"))
		}
		if r.PostFormValue("VoiceUrl") == "" || r.PostFormValue("StatusCallback") == "" {
			t.Errorf("expected callback urls registered at purchase time")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"PN1","phone_number":"+12125550100"}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider("AC1", "tok").WithBaseURL(srv.URL)
	got, err := p.Purchase(context.Background(), "+12125550100", "https://app/voice", "https://app/status")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.ProviderSID != "PN1" || got.PhoneE164 != "+12125550100" {
		t.Fatalf("unexpected purchase result: %+v", got)
	}
}

func TestTwilioProvider_Release_NonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":20404}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider("AC1", "tok").WithBaseURL(srv.URL)
	if err := p.Release(context.Background(), "PN404"); err == nil {
		t.Fatalf("expected error on 404")
	}
}
