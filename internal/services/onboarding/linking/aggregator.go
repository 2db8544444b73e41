// Package linking aggregates per-provider account linkage and the wallet
// connection for one onboarding subject.
package linking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	apperrors "github.com/emberline/threshold/internal/platform/errors"
	"github.com/emberline/threshold/internal/platform/timeouts"
	"github.com/emberline/threshold/internal/services/onboarding/storage"
)

// State is one provider's (or the wallet's) linkage lifecycle position.
type State string

const (
	StateUnlinked State = "unlinked"
	StateLinking  State = "linking"
	StateLinked   State = "linked"
	StateFailed   State = "failed"
)

// SkipDestination is where a subject lands when leaving the linking
// screen without full linkage.
const SkipDestination = "profile"

// Identity is the record a provider issues after a successful
// authorization.
type Identity struct {
	ExternalID       string
	ExternalUsername string
	AvatarURL        string
}

// ProviderStatus is one provider's current linkage as shown to the
// caller. Reason is set only in StateFailed.
type ProviderStatus struct {
	State    State
	Reason   string
	Identity Identity
}

// WalletStatus is the wallet's current linkage. Address survives a
// failed persistence attempt so the caller can display it and retry.
type WalletStatus struct {
	State   State
	Reason  string
	Address string
}

// Authorizer runs a provider's authorization flow and returns the
// identity the provider issued.
type Authorizer interface {
	Authorize(ctx context.Context, providerID string) (Identity, error)
}

// Bridge exposes the external wallet. An empty address list signals
// disconnection.
type Bridge interface {
	RequestAccounts(ctx context.Context) ([]string, error)
}

// Navigator hands control to the next screen.
type Navigator interface {
	Go(ctx context.Context, destination string, payload map[string]string) error
}

// Aggregator tracks linkage for a fixed provider set plus the wallet,
// keyed by the subject email. State transitions are serialized through
// an internal mutex; port calls run outside the lock so providers link
// independently of one another.
type Aggregator struct {
	email      string
	providers  []Provider
	authorizer Authorizer
	bindings   storage.BindingStore
	wallets    storage.WalletStore
	bridge     Bridge
	nav        Navigator
	clock      func() time.Time

	mu        sync.Mutex
	statuses  map[string]ProviderStatus
	wallet    WalletStatus
	persisted bool
	closed    bool
}

// NewAggregator builds a linking session for the subject email.
func NewAggregator(email string, providers []Provider, authorizer Authorizer, bindings storage.BindingStore, wallets storage.WalletStore, bridge Bridge, nav Navigator) (*Aggregator, error) {
	if strings.TrimSpace(email) == "" {
		return nil, errors.New("subject email is required")
	}
	if len(providers) == 0 {
		return nil, errors.New("at least one provider is required")
	}
	if authorizer == nil || bindings == nil || wallets == nil || bridge == nil || nav == nil {
		return nil, errors.New("authorizer, stores, bridge, and navigator are required")
	}
	statuses := make(map[string]ProviderStatus, len(providers))
	for _, provider := range providers {
		statuses[provider.ID] = ProviderStatus{State: StateUnlinked}
	}
	return &Aggregator{
		email:      email,
		providers:  providers,
		authorizer: authorizer,
		bindings:   bindings,
		wallets:    wallets,
		bridge:     bridge,
		nav:        nav,
		clock:      time.Now,
		statuses:   statuses,
		wallet:     WalletStatus{State: StateUnlinked},
	}, nil
}

// Email returns the subject identity this session is keyed by.
func (a *Aggregator) Email() string {
	return a.email
}

// Providers returns the tracked provider set in display order.
func (a *Aggregator) Providers() []Provider {
	out := make([]Provider, len(a.providers))
	copy(out, a.providers)
	return out
}

// Statuses returns a snapshot of every provider's linkage.
func (a *Aggregator) Statuses() map[string]ProviderStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]ProviderStatus, len(a.statuses))
	for id, status := range a.statuses {
		out[id] = status
	}
	return out
}

// Wallet returns the wallet's current linkage.
func (a *Aggregator) Wallet() WalletStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wallet
}

// IsFullyLinked reports whether every provider and the wallet are
// linked. It is recomputed from current state on every call.
func (a *Aggregator) IsFullyLinked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, provider := range a.providers {
		if a.statuses[provider.ID].State != StateLinked {
			return false
		}
	}
	return a.wallet.State == StateLinked
}

// Seed loads previously persisted linkage so a returning subject sees
// prior links instead of a blank slate.
func (a *Aggregator) Seed(ctx context.Context) error {
	for _, provider := range a.providers {
		binding, err := a.bindings.GetBinding(ctx, a.email, provider.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return apperrors.Wrap(apperrors.CodePersistence, "load binding", err)
		}
		a.mu.Lock()
		a.statuses[provider.ID] = ProviderStatus{
			State: StateLinked,
			Identity: Identity{
				ExternalID:       binding.ExternalID,
				ExternalUsername: binding.ExternalUsername,
				AvatarURL:        binding.AvatarURL,
			},
		}
		a.mu.Unlock()
	}

	wallet, err := a.wallets.GetWallet(ctx, a.email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodePersistence, "load wallet", err)
	}
	a.mu.Lock()
	a.wallet = WalletStatus{State: StateLinked, Address: wallet.Address}
	a.persisted = true
	a.mu.Unlock()
	return nil
}

// ConnectProvider runs the authorization and persistence flow for one
// provider. A duplicate call while the provider is already linking is
// rejected. A failed re-link never erases a previously persisted
// linkage for that provider.
func (a *Aggregator) ConnectProvider(ctx context.Context, providerID string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return apperrors.New(apperrors.CodeLinkSessionClosed, "session is closed")
	}
	status, ok := a.statuses[providerID]
	if !ok {
		a.mu.Unlock()
		return apperrors.WithMetadata(apperrors.CodeLinkUnknownProvider, "unknown provider", map[string]string{"provider": providerID})
	}
	if status.State == StateLinking {
		a.mu.Unlock()
		return apperrors.WithMetadata(apperrors.CodeAlreadyInProgress, "provider is already linking", map[string]string{"provider": providerID})
	}
	status.State = StateLinking
	status.Reason = ""
	a.statuses[providerID] = status
	a.mu.Unlock()

	authCtx, cancel := context.WithTimeout(ctx, timeouts.Authorize)
	identity, err := a.authorizer.Authorize(authCtx, providerID)
	cancel()
	if err != nil {
		return a.failProvider(providerID, apperrors.Wrap(apperrors.CodeLinkAuthorization, "authorize", err))
	}

	now := a.clock().UTC()
	binding := storage.Binding{
		Email:            a.email,
		ProviderID:       providerID,
		ExternalID:       identity.ExternalID,
		ExternalUsername: identity.ExternalUsername,
		AvatarURL:        identity.AvatarURL,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	persistCtx, cancel := context.WithTimeout(ctx, timeouts.Persist)
	err = a.bindings.UpsertBinding(persistCtx, binding)
	cancel()
	if err != nil {
		return a.failProvider(providerID, apperrors.Wrap(apperrors.CodePersistence, "persist binding", err))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.statuses[providerID] = ProviderStatus{State: StateLinked, Identity: identity}
	return nil
}

// failProvider records a failed linking attempt unless the session
// already tore down.
func (a *Aggregator) failProvider(providerID string, err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	status := a.statuses[providerID]
	status.State = StateFailed
	status.Reason = err.Error()
	a.statuses[providerID] = status
	return err
}

// ConnectWallet requests an address from the wallet bridge. The address
// is linked in memory as soon as the bridge hands it over; a failed
// persistence write surfaces as failed but keeps the address so the
// caller can show it and retry the write alone.
func (a *Aggregator) ConnectWallet(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return apperrors.New(apperrors.CodeLinkSessionClosed, "session is closed")
	}
	if a.wallet.State == StateLinking {
		a.mu.Unlock()
		return apperrors.New(apperrors.CodeAlreadyInProgress, "wallet is already connecting")
	}
	a.wallet.State = StateLinking
	a.wallet.Reason = ""
	a.mu.Unlock()

	requestCtx, cancel := context.WithTimeout(ctx, timeouts.WalletRequest)
	accounts, err := a.bridge.RequestAccounts(requestCtx)
	cancel()
	if err != nil {
		return a.failWallet(apperrors.Wrap(apperrors.CodeLinkWalletUnavailable, "request accounts", err))
	}
	if len(accounts) == 0 {
		return a.failWallet(apperrors.New(apperrors.CodeLinkWalletUnavailable, "wallet reported no accounts"))
	}

	return a.adoptAddress(ctx, accounts[0])
}

// AccountsChanged applies an asynchronous address-change push from the
// bridge. An empty list means the wallet disconnected.
func (a *Aggregator) AccountsChanged(ctx context.Context, accounts []string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	if len(accounts) == 0 {
		a.wallet = WalletStatus{State: StateUnlinked}
		a.persisted = false
		a.mu.Unlock()
		return nil
	}
	if accounts[0] == a.wallet.Address && a.wallet.State == StateLinked {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	return a.adoptAddress(ctx, accounts[0])
}

// RetryWalletPersist retries only the durability write for an address
// that is already linked in memory.
func (a *Aggregator) RetryWalletPersist(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return apperrors.New(apperrors.CodeLinkSessionClosed, "session is closed")
	}
	address := a.wallet.Address
	a.mu.Unlock()
	if address == "" {
		return apperrors.New(apperrors.CodeLinkWalletUnavailable, "no wallet address to persist")
	}
	return a.adoptAddress(ctx, address)
}

// adoptAddress links the address in memory, then persists it.
func (a *Aggregator) adoptAddress(ctx context.Context, address string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.wallet = WalletStatus{State: StateLinked, Address: address}
	a.persisted = false
	a.mu.Unlock()

	persistCtx, cancel := context.WithTimeout(ctx, timeouts.Persist)
	err := a.wallets.UpsertWallet(persistCtx, storage.Wallet{
		Email:     a.email,
		Address:   address,
		UpdatedAt: a.clock().UTC(),
	})
	cancel()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	if err != nil {
		wrapped := apperrors.Wrap(apperrors.CodePersistence, "persist wallet", err)
		a.wallet.State = StateFailed
		a.wallet.Reason = wrapped.Error()
		return wrapped
	}
	a.wallet.State = StateLinked
	a.wallet.Reason = ""
	a.persisted = true
	return nil
}

// failWallet records a failed wallet attempt unless the session already
// tore down. The last known address is kept.
func (a *Aggregator) failWallet(err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.wallet.State = StateFailed
	a.wallet.Reason = err.Error()
	return err
}

// Skip leaves the linking screen regardless of linkage state. The
// navigation payload carries the subject identity only.
func (a *Aggregator) Skip(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return apperrors.New(apperrors.CodeLinkSessionClosed, "session is closed")
	}
	a.mu.Unlock()
	return a.nav.Go(ctx, SkipDestination, map[string]string{"email": a.email})
}

// Close tears down the session. Port replies that resolve afterwards
// are discarded rather than applied.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}
