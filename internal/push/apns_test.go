package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"voicefront/internal/config"
	"voicefront/internal/store"
	"voicefront/pkg/logger"
)

func testKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
}

func TestNotify_UnconfiguredIsNoOp(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedDevice(store.Device{UserID: "U1", DeviceToken: "tok1", Platform: "ios"})

	svc, err := New(config.APNsConfig{}, mem, logger.New("local"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := svc.Notify(context.Background(), "U1", "t", "b"); err != nil {
		t.Fatalf("unconfigured notify must be nil, got %v", err)
	}
}

func TestNotify_SendsToEachDevice(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var topics []string
	var auths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"title":"New voicemail"`) {
			t.Errorf("unexpected payload: %s", body)
		}
		mu.Lock()
		paths = append(paths, r.URL.Path)
		topics = append(topics, r.Header.Get("apns-topic"))
		auths = append(auths, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mem := store.NewMemory()
	mem.SeedDevice(store.Device{UserID: "U1", DeviceToken: "tok1", Platform: "ios"})
	mem.SeedDevice(store.Device{UserID: "U1", DeviceToken: "tok2", Platform: "ios"})
	mem.SeedDevice(store.Device{UserID: "U1", DeviceToken: "droid", Platform: "android"})
	mem.SeedDevice(store.Device{UserID: "U2", DeviceToken: "other", Platform: "ios"})

	svc, err := New(config.APNsConfig{
		KeyID: "K1", TeamID: "T1", BundleID: "com.example.app", PrivateKey: testKeyPEM(t),
	}, mem, logger.New("local"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	svc.WithHost(srv.URL)

	if err := svc.Notify(context.Background(), "U1", "New voicemail", "Caller left a message"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(paths) != 2 {
		t.Fatalf("expected sends to U1's two ios devices only, got %v", paths)
	}
	for _, p := range paths {
		if p != "/3/device/tok1" && p != "/3/device/tok2" {
			t.Fatalf("unexpected device path %s", p)
		}
	}
	for _, topic := range topics {
		if topic != "com.example.app" {
			t.Fatalf("apns-topic = %q", topic)
		}
	}
	for _, a := range auths {
		if !strings.HasPrefix(a, "Bearer ") {
			t.Fatalf("missing provider token, got %q", a)
		}
	}
}

func TestNotify_DeliveryFailureReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"reason":"BadDeviceToken"}`))
	}))
	defer srv.Close()

	mem := store.NewMemory()
	mem.SeedDevice(store.Device{UserID: "U1", DeviceToken: "tok1", Platform: "ios"})

	svc, err := New(config.APNsConfig{
		KeyID: "K1", TeamID: "T1", BundleID: "com.example.app", PrivateKey: testKeyPEM(t),
	}, mem, logger.New("local"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	svc.WithHost(srv.URL)

	err = svc.Notify(context.Background(), "U1", "t", "b")
	if err == nil || !strings.Contains(err.Error(), "BadDeviceToken") {
		t.Fatalf("expected delivery error, got %v", err)
	}
}

func TestProviderTokenCached(t *testing.T) {
	mem := store.NewMemory()
	svc, err := New(config.APNsConfig{
		KeyID: "K1", TeamID: "T1", BundleID: "com.example.app", PrivateKey: testKeyPEM(t),
	}, mem, logger.New("local"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	a, err := svc.providerToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	b, err := svc.providerToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if a != b {
		t.Fatalf("expected cached token reuse")
	}
}
