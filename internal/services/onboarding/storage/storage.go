// Package storage defines persistence contracts for onboarding state.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// Answer stores one finalized wizard answer keyed by subject email.
type Answer struct {
	Email     string
	Field     string
	Value     string
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Binding stores one durable provider linkage for a subject email.
type Binding struct {
	Email            string
	ProviderID       string
	ExternalID       string
	ExternalUsername string
	AvatarURL        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Wallet stores the linked wallet address for a subject email.
type Wallet struct {
	Email     string
	Address   string
	UpdatedAt time.Time
}

// Company stores one registered company profile.
type Company struct {
	Name           string
	TechDomain     string
	RequiredSkills []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AnswerStore persists finalized wizard answers.
// Upserts are idempotent under repeated identical calls.
type AnswerStore interface {
	UpsertAnswers(ctx context.Context, email string, answers []Answer) error
	GetAnswer(ctx context.Context, email, field string) (Answer, error)
}

// BindingStore persists provider linkage records.
type BindingStore interface {
	UpsertBinding(ctx context.Context, binding Binding) error
	GetBinding(ctx context.Context, email, providerID string) (Binding, error)
}

// WalletStore persists linked wallet addresses.
type WalletStore interface {
	UpsertWallet(ctx context.Context, wallet Wallet) error
	GetWallet(ctx context.Context, email string) (Wallet, error)
}

// CompanyStore persists registered company profiles.
type CompanyStore interface {
	UpsertCompany(ctx context.Context, company Company) error
	GetCompany(ctx context.Context, name string) (Company, error)
}
