// Package identity authorizes provider linkage through an external
// identity broker that fronts each provider's OAuth flow.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/emberline/threshold/internal/services/onboarding/linking"
)

// Broker exchanges a provider authorization through the broker's HTTP
// API and returns the identity the provider issued.
type Broker struct {
	baseURL    string
	httpClient *http.Client
}

var _ linking.Authorizer = (*Broker)(nil)

// NewBroker builds a broker client. A nil httpClient falls back to an
// instrumented default client.
func NewBroker(baseURL string, httpClient *http.Client) (*Broker, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("broker base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse broker base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Broker{baseURL: baseURL, httpClient: httpClient}, nil
}

// Authorize runs the provider's authorization flow at the broker.
func (b *Broker) Authorize(ctx context.Context, providerID string) (linking.Identity, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return linking.Identity{}, errors.New("provider id is required")
	}

	body, err := json.Marshal(map[string]string{"provider": providerID})
	if err != nil {
		return linking.Identity{}, err
	}
	endpoint := b.baseURL + "/providers/" + url.PathEscape(providerID) + "/authorize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return linking.Identity{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return linking.Identity{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return linking.Identity{}, fmt.Errorf("broker responded %d", resp.StatusCode)
	}

	var payload struct {
		ExternalID       string `json:"external_id"`
		ExternalUsername string `json:"external_username"`
		AvatarURL        string `json:"avatar_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return linking.Identity{}, err
	}
	if payload.ExternalID == "" {
		return linking.Identity{}, errors.New("broker response missing external id")
	}
	return linking.Identity{
		ExternalID:       payload.ExternalID,
		ExternalUsername: payload.ExternalUsername,
		AvatarURL:        payload.AvatarURL,
	}, nil
}
