// Package sqlite provides a SQLite-backed onboarding storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/emberline/threshold/internal/platform/storage/sqlitemigrate"
	"github.com/emberline/threshold/internal/services/onboarding/storage"
	"github.com/emberline/threshold/internal/services/onboarding/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists onboarding state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite onboarding store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// UpsertAnswers writes every finalized answer for one subject in a
// single transaction. Repeated identical calls are idempotent.
func (s *Store) UpsertAnswers(ctx context.Context, email string, answers []storage.Answer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(answers) == 0 {
		return fmt.Errorf("at least one answer is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert answers: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, answer := range answers {
		field := strings.TrimSpace(answer.Field)
		if field == "" {
			return fmt.Errorf("answer field is required")
		}
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO answers (email, field, value, position, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(email, field) DO UPDATE SET
			   value = excluded.value,
			   position = excluded.position,
			   updated_at = excluded.updated_at`,
			email,
			field,
			answer.Value,
			answer.Position,
			toMillis(answer.CreatedAt),
			toMillis(answer.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert answer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert answers: %w", err)
	}
	return nil
}

// GetAnswer returns one finalized answer for a subject.
func (s *Store) GetAnswer(ctx context.Context, email, field string) (storage.Answer, error) {
	if err := ctx.Err(); err != nil {
		return storage.Answer{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Answer{}, fmt.Errorf("storage is not configured")
	}
	email = strings.TrimSpace(email)
	field = strings.TrimSpace(field)
	if email == "" {
		return storage.Answer{}, fmt.Errorf("email is required")
	}
	if field == "" {
		return storage.Answer{}, fmt.Errorf("field is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT email, field, value, position, created_at, updated_at
		 FROM answers
		 WHERE email = ? AND field = ?`,
		email,
		field,
	)
	var answer storage.Answer
	var createdAt int64
	var updatedAt int64
	err := row.Scan(
		&answer.Email,
		&answer.Field,
		&answer.Value,
		&answer.Position,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Answer{}, storage.ErrNotFound
		}
		return storage.Answer{}, fmt.Errorf("get answer: %w", err)
	}
	answer.CreatedAt = fromMillis(createdAt)
	answer.UpdatedAt = fromMillis(updatedAt)
	return answer, nil
}

// UpsertBinding writes one provider linkage for a subject.
func (s *Store) UpsertBinding(ctx context.Context, binding storage.Binding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	email := strings.TrimSpace(binding.Email)
	providerID := strings.TrimSpace(binding.ProviderID)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if providerID == "" {
		return fmt.Errorf("provider id is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO bindings (email, provider_id, external_id, external_username, avatar_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email, provider_id) DO UPDATE SET
		   external_id = excluded.external_id,
		   external_username = excluded.external_username,
		   avatar_url = excluded.avatar_url,
		   updated_at = excluded.updated_at`,
		email,
		providerID,
		binding.ExternalID,
		binding.ExternalUsername,
		binding.AvatarURL,
		toMillis(binding.CreatedAt),
		toMillis(binding.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

// GetBinding returns one provider linkage for a subject.
func (s *Store) GetBinding(ctx context.Context, email, providerID string) (storage.Binding, error) {
	if err := ctx.Err(); err != nil {
		return storage.Binding{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Binding{}, fmt.Errorf("storage is not configured")
	}
	email = strings.TrimSpace(email)
	providerID = strings.TrimSpace(providerID)
	if email == "" {
		return storage.Binding{}, fmt.Errorf("email is required")
	}
	if providerID == "" {
		return storage.Binding{}, fmt.Errorf("provider id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT email, provider_id, external_id, external_username, avatar_url, created_at, updated_at
		 FROM bindings
		 WHERE email = ? AND provider_id = ?`,
		email,
		providerID,
	)
	var binding storage.Binding
	var createdAt int64
	var updatedAt int64
	err := row.Scan(
		&binding.Email,
		&binding.ProviderID,
		&binding.ExternalID,
		&binding.ExternalUsername,
		&binding.AvatarURL,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Binding{}, storage.ErrNotFound
		}
		return storage.Binding{}, fmt.Errorf("get binding: %w", err)
	}
	binding.CreatedAt = fromMillis(createdAt)
	binding.UpdatedAt = fromMillis(updatedAt)
	return binding, nil
}

// UpsertWallet writes the linked wallet address for a subject.
func (s *Store) UpsertWallet(ctx context.Context, wallet storage.Wallet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	email := strings.TrimSpace(wallet.Email)
	address := strings.TrimSpace(wallet.Address)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if address == "" {
		return fmt.Errorf("wallet address is required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO wallets (email, address, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
		   address = excluded.address,
		   updated_at = excluded.updated_at`,
		email,
		address,
		toMillis(wallet.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert wallet: %w", err)
	}
	return nil
}

// GetWallet returns the linked wallet address for a subject.
func (s *Store) GetWallet(ctx context.Context, email string) (storage.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return storage.Wallet{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Wallet{}, fmt.Errorf("storage is not configured")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return storage.Wallet{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT email, address, updated_at
		 FROM wallets
		 WHERE email = ?`,
		email,
	)
	var wallet storage.Wallet
	var updatedAt int64
	err := row.Scan(&wallet.Email, &wallet.Address, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Wallet{}, storage.ErrNotFound
		}
		return storage.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	wallet.UpdatedAt = fromMillis(updatedAt)
	return wallet, nil
}

// UpsertCompany writes one registered company profile. Required skills
// are stored as a JSON array to keep the row self-contained.
func (s *Store) UpsertCompany(ctx context.Context, company storage.Company) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	name := strings.TrimSpace(company.Name)
	if name == "" {
		return fmt.Errorf("company name is required")
	}
	skills, err := json.Marshal(company.RequiredSkills)
	if err != nil {
		return fmt.Errorf("encode required skills: %w", err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO companies (name, tech_domain, required_skills, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   tech_domain = excluded.tech_domain,
		   required_skills = excluded.required_skills,
		   updated_at = excluded.updated_at`,
		name,
		company.TechDomain,
		string(skills),
		toMillis(company.CreatedAt),
		toMillis(company.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert company: %w", err)
	}
	return nil
}

// GetCompany returns one registered company profile.
func (s *Store) GetCompany(ctx context.Context, name string) (storage.Company, error) {
	if err := ctx.Err(); err != nil {
		return storage.Company{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Company{}, fmt.Errorf("storage is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.Company{}, fmt.Errorf("company name is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT name, tech_domain, required_skills, created_at, updated_at
		 FROM companies
		 WHERE name = ?`,
		name,
	)
	var company storage.Company
	var skills string
	var createdAt int64
	var updatedAt int64
	err := row.Scan(&company.Name, &company.TechDomain, &skills, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Company{}, storage.ErrNotFound
		}
		return storage.Company{}, fmt.Errorf("get company: %w", err)
	}
	if skills != "" {
		if err := json.Unmarshal([]byte(skills), &company.RequiredSkills); err != nil {
			return storage.Company{}, fmt.Errorf("decode required skills: %w", err)
		}
	}
	company.CreatedAt = fromMillis(createdAt)
	company.UpdatedAt = fromMillis(updatedAt)
	return company, nil
}

var _ storage.AnswerStore = (*Store)(nil)
var _ storage.BindingStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)
var _ storage.CompanyStore = (*Store)(nil)
