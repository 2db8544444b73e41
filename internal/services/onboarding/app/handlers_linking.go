package app

import (
	"net/http"

	apperrors "github.com/emberline/threshold/internal/platform/errors"
	"github.com/emberline/threshold/internal/services/onboarding/linking"
	"github.com/emberline/threshold/internal/services/onboarding/session"
)

type identityView struct {
	ExternalID       string `json:"external_id,omitempty"`
	ExternalUsername string `json:"external_username,omitempty"`
	AvatarURL        string `json:"avatar_url,omitempty"`
}

type providerStatusView struct {
	Name     string       `json:"name"`
	State    string       `json:"state"`
	Reason   string       `json:"reason,omitempty"`
	Identity identityView `json:"identity,omitempty"`
}

type walletView struct {
	State   string `json:"state"`
	Reason  string `json:"reason,omitempty"`
	Address string `json:"address,omitempty"`
}

type linkingView struct {
	SessionID   string                        `json:"session_id"`
	Email       string                        `json:"email"`
	Name        string                        `json:"name,omitempty"`
	Providers   map[string]providerStatusView `json:"providers"`
	Wallet      walletView                    `json:"wallet"`
	FullyLinked bool                          `json:"fully_linked"`
	Destination string                        `json:"destination,omitempty"`
	Payload     map[string]string             `json:"payload,omitempty"`
}

// handleLinkingStart opens a linking session for a subject identified
// by either a raw email (handed off by the wizard) or a subject token
// (recovery after a reload).
func (s *Server) handleLinkingStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	email := body.Email
	if email == "" {
		if body.Token == "" {
			writeError(w, apperrors.New(apperrors.CodeWizardSubjectMissing, "email or subject token is required"))
			return
		}
		claims, err := session.Verify(body.Token, s.opts.Tokens)
		if err != nil {
			writeError(w, err)
			return
		}
		email = claims.Email
	}

	sid, err := newSessionID()
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "create session id", err))
		return
	}
	bridge := &relayBridge{}
	nav := &handoff{}
	agg, err := linking.NewAggregator(email, s.opts.Providers, s.opts.Authorizer, s.opts.Bindings, s.opts.Wallets, bridge, nav)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "create linking session", err))
		return
	}
	if err := agg.Seed(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	ls := &linkSession{
		id:       sid,
		agg:      agg,
		bridge:   bridge,
		nav:      nav,
		name:     s.greetingName(r, email),
		lastSeen: s.clock().UTC(),
	}
	s.mu.Lock()
	s.linkers[sid] = ls
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, s.linkingView(ls))
}

// greetingName loads the recorded display name for the subject. Missing
// answers are not an error; the greeting is simply omitted.
func (s *Server) greetingName(r *http.Request, email string) string {
	answer, err := s.opts.Answers.GetAnswer(r.Context(), email, "name")
	if err != nil {
		return ""
	}
	return answer.Value
}

func (s *Server) handleLinkingGet(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.linkSession(r.PathValue("sid"))
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "linking session not found"))
		return
	}
	writeJSON(w, http.StatusOK, s.linkingView(ls))
}

func (s *Server) handleLinkingConnect(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.linkSession(r.PathValue("sid"))
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "linking session not found"))
		return
	}
	if err := ls.agg.ConnectProvider(r.Context(), r.PathValue("provider")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.linkingView(ls))
}

func (s *Server) handleWalletConnect(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.linkSession(r.PathValue("sid"))
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "linking session not found"))
		return
	}
	if err := ls.agg.ConnectWallet(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.linkingView(ls))
}

// handleWalletAccounts receives the client's address list. A pending
// wallet connect consumes it; otherwise it flows through as an
// asynchronous change event.
func (s *Server) handleWalletAccounts(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.linkSession(r.PathValue("sid"))
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "linking session not found"))
		return
	}
	var body struct {
		Addresses []string `json:"addresses"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	if ls.bridge.push(body.Addresses) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "delivered"})
		return
	}
	if err := ls.agg.AccountsChanged(r.Context(), body.Addresses); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.linkingView(ls))
}

func (s *Server) handleWalletRetry(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.linkSession(r.PathValue("sid"))
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "linking session not found"))
		return
	}
	if err := ls.agg.RetryWalletPersist(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.linkingView(ls))
}

func (s *Server) handleLinkingSkip(w http.ResponseWriter, r *http.Request) {
	ls, ok := s.linkSession(r.PathValue("sid"))
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "linking session not found"))
		return
	}
	if err := ls.agg.Skip(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.linkingView(ls))
}

func (s *Server) linkingView(ls *linkSession) linkingView {
	statuses := ls.agg.Statuses()
	providers := make(map[string]providerStatusView, len(statuses))
	for _, provider := range ls.agg.Providers() {
		status := statuses[provider.ID]
		providers[provider.ID] = providerStatusView{
			Name:   provider.Name,
			State:  string(status.State),
			Reason: status.Reason,
			Identity: identityView{
				ExternalID:       status.Identity.ExternalID,
				ExternalUsername: status.Identity.ExternalUsername,
				AvatarURL:        status.Identity.AvatarURL,
			},
		}
	}
	wallet := ls.agg.Wallet()
	view := linkingView{
		SessionID: ls.id,
		Email:     ls.agg.Email(),
		Name:      ls.name,
		Providers: providers,
		Wallet: walletView{
			State:   string(wallet.State),
			Reason:  wallet.Reason,
			Address: wallet.Address,
		},
		FullyLinked: ls.agg.IsFullyLinked(),
	}
	if destination, payload, ok := ls.nav.state(); ok {
		view.Destination = destination
		view.Payload = payload
	}
	return view
}
