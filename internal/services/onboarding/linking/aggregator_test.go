package linking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/emberline/threshold/internal/platform/errors"
	"github.com/emberline/threshold/internal/services/onboarding/storage"
)

type fakeAuthorizer struct {
	mu       sync.Mutex
	identity Identity
	err      error
	gate     chan struct{}
	calls    int
}

func (f *fakeAuthorizer) Authorize(ctx context.Context, providerID string) (Identity, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	identity, err := f.identity, f.err
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return identity, err
}

func (f *fakeAuthorizer) set(identity Identity, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = identity
	f.err = err
}

type memoryStore struct {
	mu         sync.Mutex
	bindings   map[string]storage.Binding
	wallets    map[string]storage.Wallet
	bindingErr error
	walletErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		bindings: make(map[string]storage.Binding),
		wallets:  make(map[string]storage.Wallet),
	}
}

func (m *memoryStore) UpsertBinding(ctx context.Context, binding storage.Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bindingErr != nil {
		return m.bindingErr
	}
	m.bindings[binding.Email+"/"+binding.ProviderID] = binding
	return nil
}

func (m *memoryStore) GetBinding(ctx context.Context, email, providerID string) (storage.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	binding, ok := m.bindings[email+"/"+providerID]
	if !ok {
		return storage.Binding{}, storage.ErrNotFound
	}
	return binding, nil
}

func (m *memoryStore) UpsertWallet(ctx context.Context, wallet storage.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.walletErr != nil {
		return m.walletErr
	}
	m.wallets[wallet.Email] = wallet
	return nil
}

func (m *memoryStore) GetWallet(ctx context.Context, email string) (storage.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wallet, ok := m.wallets[email]
	if !ok {
		return storage.Wallet{}, storage.ErrNotFound
	}
	return wallet, nil
}

func (m *memoryStore) setWalletErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walletErr = err
}

type fakeBridge struct {
	mu       sync.Mutex
	accounts []string
	err      error
}

func (f *fakeBridge) RequestAccounts(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts, f.err
}

func (f *fakeBridge) set(accounts []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = accounts
	f.err = err
}

type linkNavigator struct {
	mu          sync.Mutex
	destination string
	payload     map[string]string
	calls       int
}

func (f *linkNavigator) Go(ctx context.Context, destination string, payload map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.destination = destination
	f.payload = payload
	return nil
}

func newTestAggregator(t *testing.T) (*Aggregator, *fakeAuthorizer, *memoryStore, *fakeBridge, *linkNavigator) {
	t.Helper()
	authorizer := &fakeAuthorizer{identity: Identity{ExternalID: "42", ExternalUsername: "ada"}}
	store := newMemoryStore()
	bridge := &fakeBridge{accounts: []string{"0xabc"}}
	nav := &linkNavigator{}
	agg, err := NewAggregator("a@b.co", DefaultProviders(), authorizer, store, store, bridge, nav)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	t.Cleanup(agg.Close)
	return agg, authorizer, store, bridge, nav
}

func TestConnectProviderLinksAndPersists(t *testing.T) {
	agg, _, store, _, _ := newTestAggregator(t)

	if err := agg.ConnectProvider(context.Background(), "github"); err != nil {
		t.Fatalf("connect github: %v", err)
	}
	status := agg.Statuses()["github"]
	if status.State != StateLinked {
		t.Fatalf("github state = %s, want linked", status.State)
	}
	if status.Identity.ExternalUsername != "ada" {
		t.Fatalf("github identity = %+v", status.Identity)
	}
	binding, err := store.GetBinding(context.Background(), "a@b.co", "github")
	if err != nil {
		t.Fatalf("stored binding: %v", err)
	}
	if binding.ExternalID != "42" {
		t.Fatalf("stored binding = %+v", binding)
	}
}

func TestConnectUnknownProviderRejected(t *testing.T) {
	agg, _, _, _, _ := newTestAggregator(t)

	err := agg.ConnectProvider(context.Background(), "myspace")
	if apperrors.CodeOf(err) != apperrors.CodeLinkUnknownProvider {
		t.Fatalf("expected unknown-provider error, got %v", err)
	}
}

func TestFailedConnectIsRetryable(t *testing.T) {
	agg, authorizer, _, _, _ := newTestAggregator(t)
	authorizer.set(Identity{}, errors.New("user denied access"))

	err := agg.ConnectProvider(context.Background(), "github")
	if apperrors.CodeOf(err) != apperrors.CodeLinkAuthorization {
		t.Fatalf("expected authorization error, got %v", err)
	}
	status := agg.Statuses()["github"]
	if status.State != StateFailed || status.Reason == "" {
		t.Fatalf("github status = %+v, want failed with reason", status)
	}

	// Failing twice in a row keeps failed, never reverts to unlinked.
	if err := agg.ConnectProvider(context.Background(), "github"); err == nil {
		t.Fatal("expected second failure")
	}
	if state := agg.Statuses()["github"].State; state != StateFailed {
		t.Fatalf("github state after second failure = %s", state)
	}

	authorizer.set(Identity{ExternalID: "42", ExternalUsername: "ada"}, nil)
	if err := agg.ConnectProvider(context.Background(), "github"); err != nil {
		t.Fatalf("retry connect: %v", err)
	}
	if state := agg.Statuses()["github"].State; state != StateLinked {
		t.Fatalf("github state after retry = %s, want linked", state)
	}
}

func TestDuplicateConnectRejectedWhileLinking(t *testing.T) {
	agg, authorizer, _, _, _ := newTestAggregator(t)
	gate := make(chan struct{})
	authorizer.gate = gate

	firstDone := make(chan error, 1)
	go func() { firstDone <- agg.ConnectProvider(context.Background(), "github") }()

	// Wait for the first call to enter linking.
	for agg.Statuses()["github"].State != StateLinking {
		time.Sleep(time.Millisecond)
	}

	err := agg.ConnectProvider(context.Background(), "github")
	if apperrors.CodeOf(err) != apperrors.CodeAlreadyInProgress {
		t.Fatalf("expected already-in-progress error, got %v", err)
	}

	// The first call's resolution still applies normally.
	close(gate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if state := agg.Statuses()["github"].State; state != StateLinked {
		t.Fatalf("github state = %s, want linked", state)
	}
}

func TestConnectDifferentProvidersIndependently(t *testing.T) {
	agg, authorizer, _, _, _ := newTestAggregator(t)
	gate := make(chan struct{})
	authorizer.gate = gate

	githubDone := make(chan error, 1)
	go func() { githubDone <- agg.ConnectProvider(context.Background(), "github") }()
	for agg.Statuses()["github"].State != StateLinking {
		time.Sleep(time.Millisecond)
	}

	// A second provider is not blocked by github's in-flight link.
	linkedinDone := make(chan error, 1)
	go func() { linkedinDone <- agg.ConnectProvider(context.Background(), "linkedin") }()
	for agg.Statuses()["linkedin"].State != StateLinking {
		time.Sleep(time.Millisecond)
	}

	close(gate)
	if err := <-githubDone; err != nil {
		t.Fatalf("github connect: %v", err)
	}
	if err := <-linkedinDone; err != nil {
		t.Fatalf("linkedin connect: %v", err)
	}
}

func TestFailedRelinkKeepsPersistedBinding(t *testing.T) {
	agg, authorizer, store, _, _ := newTestAggregator(t)

	if err := agg.ConnectProvider(context.Background(), "github"); err != nil {
		t.Fatalf("connect github: %v", err)
	}

	authorizer.set(Identity{}, errors.New("provider outage"))
	if err := agg.ConnectProvider(context.Background(), "github"); err == nil {
		t.Fatal("expected re-link failure")
	}

	// Status shows failed, but the durable record from the first link
	// is untouched.
	if state := agg.Statuses()["github"].State; state != StateFailed {
		t.Fatalf("github state = %s, want failed", state)
	}
	binding, err := store.GetBinding(context.Background(), "a@b.co", "github")
	if err != nil || binding.ExternalUsername != "ada" {
		t.Fatalf("binding after failed re-link = %+v, %v", binding, err)
	}
}

func TestIsFullyLinkedRequiresEveryProviderAndWallet(t *testing.T) {
	agg, _, _, _, _ := newTestAggregator(t)

	if agg.IsFullyLinked() {
		t.Fatal("fresh session reported fully linked")
	}
	for _, provider := range agg.Providers() {
		if err := agg.ConnectProvider(context.Background(), provider.ID); err != nil {
			t.Fatalf("connect %s: %v", provider.ID, err)
		}
	}
	if agg.IsFullyLinked() {
		t.Fatal("fully linked without the wallet")
	}
	if err := agg.ConnectWallet(context.Background()); err != nil {
		t.Fatalf("connect wallet: %v", err)
	}
	if !agg.IsFullyLinked() {
		t.Fatal("expected fully linked")
	}

	// Any single regression flips the aggregate back off.
	if err := agg.AccountsChanged(context.Background(), nil); err != nil {
		t.Fatalf("accounts changed: %v", err)
	}
	if agg.IsFullyLinked() {
		t.Fatal("fully linked after wallet disconnect")
	}
}

func TestConnectWalletPersistsAddress(t *testing.T) {
	agg, _, store, _, _ := newTestAggregator(t)

	if err := agg.ConnectWallet(context.Background()); err != nil {
		t.Fatalf("connect wallet: %v", err)
	}
	wallet := agg.Wallet()
	if wallet.State != StateLinked || wallet.Address != "0xabc" {
		t.Fatalf("wallet = %+v", wallet)
	}
	stored, err := store.GetWallet(context.Background(), "a@b.co")
	if err != nil || stored.Address != "0xabc" {
		t.Fatalf("stored wallet = %+v, %v", stored, err)
	}
}

func TestConnectWalletWithNoAccountsFails(t *testing.T) {
	agg, _, _, bridge, _ := newTestAggregator(t)
	bridge.set(nil, nil)

	err := agg.ConnectWallet(context.Background())
	if apperrors.CodeOf(err) != apperrors.CodeLinkWalletUnavailable {
		t.Fatalf("expected wallet-unavailable error, got %v", err)
	}
	if state := agg.Wallet().State; state != StateFailed {
		t.Fatalf("wallet state = %s, want failed", state)
	}
}

func TestWalletPersistFailureKeepsAddressForRetry(t *testing.T) {
	agg, _, store, _, _ := newTestAggregator(t)
	store.setWalletErr(errors.New("datastore offline"))

	err := agg.ConnectWallet(context.Background())
	if apperrors.CodeOf(err) != apperrors.CodePersistence {
		t.Fatalf("expected persistence error, got %v", err)
	}
	wallet := agg.Wallet()
	if wallet.State != StateFailed || wallet.Address != "0xabc" {
		t.Fatalf("wallet = %+v, want failed with address kept", wallet)
	}

	// Retrying persists the held address without another bridge call.
	store.setWalletErr(nil)
	if err := agg.RetryWalletPersist(context.Background()); err != nil {
		t.Fatalf("retry persist: %v", err)
	}
	if state := agg.Wallet().State; state != StateLinked {
		t.Fatalf("wallet state after retry = %s", state)
	}
	stored, err := store.GetWallet(context.Background(), "a@b.co")
	if err != nil || stored.Address != "0xabc" {
		t.Fatalf("stored wallet = %+v, %v", stored, err)
	}
}

func TestAccountsChangedEmptyUnlinksWallet(t *testing.T) {
	agg, _, _, _, _ := newTestAggregator(t)

	if err := agg.ConnectWallet(context.Background()); err != nil {
		t.Fatalf("connect wallet: %v", err)
	}
	if err := agg.AccountsChanged(context.Background(), []string{}); err != nil {
		t.Fatalf("accounts changed: %v", err)
	}
	wallet := agg.Wallet()
	if wallet.State != StateUnlinked || wallet.Address != "" {
		t.Fatalf("wallet after disconnect = %+v", wallet)
	}
}

func TestAccountsChangedAdoptsNewAddress(t *testing.T) {
	agg, _, store, _, _ := newTestAggregator(t)

	if err := agg.AccountsChanged(context.Background(), []string{"0xdef"}); err != nil {
		t.Fatalf("accounts changed: %v", err)
	}
	wallet := agg.Wallet()
	if wallet.State != StateLinked || wallet.Address != "0xdef" {
		t.Fatalf("wallet = %+v", wallet)
	}
	stored, err := store.GetWallet(context.Background(), "a@b.co")
	if err != nil || stored.Address != "0xdef" {
		t.Fatalf("stored wallet = %+v, %v", stored, err)
	}
}

func TestSkipNavigatesWithSubjectOnly(t *testing.T) {
	agg, _, _, _, nav := newTestAggregator(t)

	if err := agg.Skip(context.Background()); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if nav.destination != SkipDestination {
		t.Fatalf("destination = %q, want %q", nav.destination, SkipDestination)
	}
	if len(nav.payload) != 1 || nav.payload["email"] != "a@b.co" {
		t.Fatalf("payload = %v, want subject identity only", nav.payload)
	}
}

func TestSeedRestoresPersistedLinkage(t *testing.T) {
	authorizer := &fakeAuthorizer{}
	store := newMemoryStore()
	store.bindings["a@b.co/github"] = storage.Binding{
		Email: "a@b.co", ProviderID: "github",
		ExternalID: "42", ExternalUsername: "ada",
	}
	store.wallets["a@b.co"] = storage.Wallet{Email: "a@b.co", Address: "0xabc"}

	agg, err := NewAggregator("a@b.co", DefaultProviders(), authorizer, store, store, &fakeBridge{}, &linkNavigator{})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	t.Cleanup(agg.Close)

	if err := agg.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	statuses := agg.Statuses()
	if statuses["github"].State != StateLinked || statuses["github"].Identity.ExternalUsername != "ada" {
		t.Fatalf("github status = %+v", statuses["github"])
	}
	if statuses["linkedin"].State != StateUnlinked {
		t.Fatalf("linkedin status = %+v", statuses["linkedin"])
	}
	wallet := agg.Wallet()
	if wallet.State != StateLinked || wallet.Address != "0xabc" {
		t.Fatalf("wallet = %+v", wallet)
	}
}

func TestCloseDiscardsLateAuthorization(t *testing.T) {
	agg, authorizer, _, _, _ := newTestAggregator(t)
	gate := make(chan struct{})
	authorizer.gate = gate

	done := make(chan error, 1)
	go func() { done <- agg.ConnectProvider(context.Background(), "github") }()
	for agg.Statuses()["github"].State != StateLinking {
		time.Sleep(time.Millisecond)
	}

	agg.Close()
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("connect after close: %v", err)
	}
	if state := agg.Statuses()["github"].State; state != StateLinking {
		t.Fatalf("state mutated after close: %s", state)
	}
	if err := agg.ConnectProvider(context.Background(), "linkedin"); apperrors.CodeOf(err) != apperrors.CodeLinkSessionClosed {
		t.Fatalf("expected session-closed error, got %v", err)
	}
}
