package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emberline/threshold/internal/services/onboarding/storage"
	"github.com/emberline/threshold/internal/services/onboarding/wizard"
)

// answerRecorder adapts the wizard's persistence port onto the storage
// contracts. Company flows additionally materialize a company profile
// so the dashboard can read one record instead of reassembling answers.
type answerRecorder struct {
	flow      wizard.Flow
	answers   storage.AnswerStore
	companies storage.CompanyStore
	clock     func() time.Time
}

var _ wizard.Recorder = (*answerRecorder)(nil)

func (r *answerRecorder) RecordAnswers(ctx context.Context, identity string, answers []wizard.Answer) error {
	now := r.clock().UTC()
	records := make([]storage.Answer, 0, len(answers))
	for position, answer := range answers {
		value := answer.Value
		if len(answer.Choices) > 0 {
			value = strings.Join(answer.Choices, ", ")
		}
		records = append(records, storage.Answer{
			Email:     identity,
			Field:     answer.Field,
			Value:     value,
			Position:  position,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err := r.answers.UpsertAnswers(ctx, identity, records); err != nil {
		return fmt.Errorf("upsert answers: %w", err)
	}

	if r.flow.Name != "company" {
		return nil
	}
	company := storage.Company{
		Name:      identity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, answer := range answers {
		switch answer.Field {
		case "tech_domain":
			company.TechDomain = answer.Value
		case "required_skills":
			company.RequiredSkills = append([]string(nil), answer.Choices...)
		}
	}
	if err := r.companies.UpsertCompany(ctx, company); err != nil {
		return fmt.Errorf("upsert company: %w", err)
	}
	return nil
}

// handoff implements the navigation port by recording the hand-off for
// the client to follow, instead of driving a browser directly.
type handoff struct {
	mu          sync.Mutex
	destination string
	payload     map[string]string
	happened    bool
}

func (h *handoff) Go(ctx context.Context, destination string, payload map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destination = destination
	h.payload = payload
	h.happened = true
	return nil
}

func (h *handoff) state() (destination string, payload map[string]string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destination, h.payload, h.happened
}

// relayBridge implements the wallet bridge over HTTP round trips: a
// connect call blocks until the client pushes its addresses, and pushes
// with no connect in flight flow through as change events.
type relayBridge struct {
	mu      sync.Mutex
	waiting chan []string
}

func (b *relayBridge) RequestAccounts(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	if b.waiting != nil {
		b.mu.Unlock()
		return nil, errors.New("account request already pending")
	}
	ch := make(chan []string, 1)
	b.waiting = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.waiting == ch {
			b.waiting = nil
		}
		b.mu.Unlock()
	}()

	select {
	case accounts := <-ch:
		return accounts, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// push hands addresses to a blocked RequestAccounts call. It reports
// false when no request is in flight.
func (b *relayBridge) push(accounts []string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.waiting == nil {
		return false
	}
	b.waiting <- accounts
	b.waiting = nil
	return true
}
