// Package onboarding parses onboarding service flags and launches the service.
package onboarding

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	entrypoint "github.com/emberline/threshold/internal/platform/cmd"
	server "github.com/emberline/threshold/internal/services/onboarding/app"
	"github.com/emberline/threshold/internal/services/onboarding/identity"
	"github.com/emberline/threshold/internal/services/onboarding/session"
	"github.com/emberline/threshold/internal/services/onboarding/storage/sqlite"
)

// Config holds onboarding command configuration.
type Config struct {
	Port           int           `env:"THRESHOLD_ONBOARDING_PORT" envDefault:"8080"`
	DBPath         string        `env:"THRESHOLD_ONBOARDING_DB_PATH" envDefault:"data/onboarding.db"`
	BrokerURL      string        `env:"THRESHOLD_IDENTITY_BROKER_URL" envDefault:"http://localhost:8090"`
	RevealInterval time.Duration `env:"THRESHOLD_ONBOARDING_REVEAL_INTERVAL" envDefault:"50ms"`
	SessionTTL     time.Duration `env:"THRESHOLD_ONBOARDING_SESSION_TTL" envDefault:"1h"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The onboarding HTTP server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Path to the onboarding SQLite database")
	fs.StringVar(&cfg.BrokerURL, "broker-url", cfg.BrokerURL, "Base URL of the identity broker")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the onboarding HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceOnboarding, func(ctx context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open onboarding store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("close onboarding store: %v", err)
			}
		}()

		broker, err := identity.NewBroker(cfg.BrokerURL, nil)
		if err != nil {
			return fmt.Errorf("configure identity broker: %w", err)
		}

		tokens, err := loadTokenConfig()
		if err != nil {
			return err
		}

		return server.Run(ctx, cfg.Port, server.Options{
			Answers:        store,
			Bindings:       store,
			Wallets:        store,
			Companies:      store,
			Authorizer:     broker,
			Tokens:         tokens,
			RevealInterval: cfg.RevealInterval,
			SessionTTL:     cfg.SessionTTL,
		})
	})
}

// loadTokenConfig reads subject token settings. Tokens are an opt-in
// feature; with no issuer configured the service runs without them and
// linking sessions start from the wizard hand-off only.
func loadTokenConfig() (session.Config, error) {
	if strings.TrimSpace(os.Getenv("THRESHOLD_SUBJECT_TOKEN_ISSUER")) == "" {
		log.Printf("subject tokens disabled: THRESHOLD_SUBJECT_TOKEN_ISSUER is not set")
		return session.Config{}, nil
	}
	tokens, err := session.LoadConfigFromEnv(nil)
	if err != nil {
		return session.Config{}, fmt.Errorf("load subject token config: %w", err)
	}
	return tokens, nil
}
