// Package session issues and verifies subject tokens. A subject token
// lets a returning client recover the email that keys its onboarding
// records without replaying the wizard.
package session

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/emberline/threshold/internal/platform/config"
	apperrors "github.com/emberline/threshold/internal/platform/errors"
	"github.com/emberline/threshold/internal/platform/id"
)

// DefaultTTL bounds how long a subject token stays valid.
const DefaultTTL = 24 * time.Hour

// tokenEnv holds raw env values before post-parse validation.
type tokenEnv struct {
	Issuer     string        `env:"THRESHOLD_SUBJECT_TOKEN_ISSUER"`
	Audience   string        `env:"THRESHOLD_SUBJECT_TOKEN_AUDIENCE"`
	PrivateKey string        `env:"THRESHOLD_SUBJECT_TOKEN_PRIVATE_KEY"`
	TTL        time.Duration `env:"THRESHOLD_SUBJECT_TOKEN_TTL"`
}

// Config defines how subject tokens are minted and verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	TTL      time.Duration
	Now      func() time.Time
}

// Claims captures a verified subject token.
type Claims struct {
	Email     string
	JWTID     string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// subjectClaims is the internal claims type used for JWT parsing.
type subjectClaims struct {
	jwt.RegisteredClaims
}

// LoadConfigFromEnv reads subject token configuration. The private key
// is a base64-encoded Ed25519 seed or full private key.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw tokenEnv
	if err := config.ParseEnv(&raw); err != nil {
		return Config{}, fmt.Errorf("parse subject token env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	privateKey := strings.TrimSpace(raw.PrivateKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("THRESHOLD_SUBJECT_TOKEN_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("THRESHOLD_SUBJECT_TOKEN_AUDIENCE is required")
	}
	if privateKey == "" {
		return Config{}, fmt.Errorf("THRESHOLD_SUBJECT_TOKEN_PRIVATE_KEY is required")
	}
	keyBytes, err := decodeBase64(privateKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode subject token private key: %w", err)
	}
	var key ed25519.PrivateKey
	switch len(keyBytes) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(keyBytes)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(keyBytes)
	default:
		return Config{}, fmt.Errorf("subject token private key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	ttl := raw.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      key,
		TTL:      ttl,
		Now:      now,
	}, nil
}

// Issue mints a subject token for email.
func Issue(email string, cfg Config) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", errors.New("email is required")
	}
	if err := checkConfig(cfg); err != nil {
		return "", err
	}
	now := cfg.Now().UTC()
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	tokenID, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}
	claims := subjectClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   email,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        tokenID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(cfg.Key)
	if err != nil {
		return "", fmt.Errorf("sign subject token: %w", err)
	}
	return signed, nil
}

// Verify checks a subject token and returns its validated claims.
func Verify(raw string, cfg Config) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "subject token is required")
	}
	if err := checkConfig(cfg); err != nil {
		return Claims{}, err
	}

	var parsed subjectClaims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key.Public(), nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "subject token issuer mismatch")
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "subject token audience mismatch")
	}
	if parsed.ID == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "subject token jti is required")
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "subject token subject is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeTokenInvalid, "subject token exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeTokenExpired, "subject token is expired")
	}

	claims := Claims{
		Email:     parsed.Subject,
		JWTID:     parsed.ID,
		ExpiresAt: exp,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

func checkConfig(cfg Config) error {
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PrivateKeySize || cfg.Now == nil {
		return errors.New("subject token signer is not configured")
	}
	return nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeTokenInvalid, "subject token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeTokenInvalid, "subject token alg is invalid")
	}
	return apperrors.New(apperrors.CodeTokenInvalid, "subject token is invalid")
}

// audienceContains reports whether the audience list contains value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
