package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthorizeReturnsProviderIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/providers/github/authorize" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		var body struct {
			Provider string `json:"provider"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Provider != "github" {
			t.Fatalf("request body provider = %q, err = %v", body.Provider, err)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"external_id":       "42",
			"external_username": "ada",
			"avatar_url":        "https://example.com/ada.png",
		})
	}))
	defer server.Close()

	broker, err := NewBroker(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}

	got, err := broker.Authorize(context.Background(), "github")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if got.ExternalID != "42" || got.ExternalUsername != "ada" {
		t.Fatalf("identity = %+v", got)
	}
}

func TestAuthorizeRejectsBrokerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "access denied", http.StatusForbidden)
	}))
	defer server.Close()

	broker, err := NewBroker(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}

	if _, err := broker.Authorize(context.Background(), "github"); err == nil {
		t.Fatal("expected error for broker failure")
	}
}

func TestAuthorizeRejectsMissingExternalID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"external_username": "ada"})
	}))
	defer server.Close()

	broker, err := NewBroker(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}

	if _, err := broker.Authorize(context.Background(), "github"); err == nil {
		t.Fatal("expected error for missing external id")
	}
}

func TestAuthorizeHonorsContextCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	}))
	defer server.Close()
	defer close(release)

	broker, err := NewBroker(server.URL, server.Client())
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := broker.Authorize(ctx, "github")
		done <- err
	}()
	<-started
	cancel()

	if err := <-done; err == nil {
		t.Fatal("expected error after cancellation")
	}
}

func TestNewBrokerRequiresBaseURL(t *testing.T) {
	if _, err := NewBroker("   ", nil); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
