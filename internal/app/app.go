// Package app assembles the outreach engine from configuration. The HTTP
// server and the CLI share it.
package app

import (
	"context"
	"fmt"

	"github.com/outreachpro/outreach/internal/auth"
	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/database"
	"github.com/outreachpro/outreach/internal/generator"
	"github.com/outreachpro/outreach/internal/logger"
	"github.com/outreachpro/outreach/internal/mailer"
	"github.com/outreachpro/outreach/internal/repository"
	"github.com/outreachpro/outreach/internal/service"
)

// App holds connections and services
type App struct {
	Config *config.Config
	Log    *logger.Logger
	DB     *database.Postgres
	Redis  *database.Redis

	Tokens     *auth.TokenService
	Webhooks   *auth.WebhookVerifier
	Generators *generator.Registry
	Accounts   *service.AccountService
	Credits    *service.CreditService
	Imports    *service.ImportService
	Outreach   *service.OutreachService
	Dispatcher *service.Dispatcher
}

// New connects to PostgreSQL and Redis and builds every service
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info().Msg("connected to PostgreSQL")

	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Msg("connected to Redis")

	a, err := build(cfg, log, db, rdb)
	if err != nil {
		rdb.Close()
		db.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, log *logger.Logger, db *database.Postgres, rdb *database.Redis) (*App, error) {
	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db)
	contactRepo := repository.NewContactRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	batchRepo := repository.NewBatchRepository(db)

	generators, err := generator.New(cfg.Generator, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generators: %w", err)
	}
	log.Info().Strs("generators", generators.Kinds()).Str("default", cfg.Generator.Default).Msg("generators initialized")

	// The token service is optional for the CLI, which acts as the account owner
	var tokens *auth.TokenService
	if cfg.Security.Tokens.Secret != "" {
		tokens, err = auth.NewTokenService(cfg.Security.Tokens)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize token service: %w", err)
		}
	}

	// Without a webhook secret purchases are applied with `outreach credits add`
	var webhooks *auth.WebhookVerifier
	if cfg.Security.Webhook.Secret != "" {
		webhooks, err = auth.NewWebhookVerifier(cfg.Security.Webhook)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize webhook verifier: %w", err)
		}
	}

	provider := mailer.NewGmailProvider(cfg.Gmail, accountRepo, log)
	locker := service.NewRedisLocker(rdb)

	outreach := service.NewOutreachService(accountRepo, contactRepo, attemptRepo, provider, generators, locker, cfg, log)

	return &App{
		Config:     cfg,
		Log:        log,
		DB:         db,
		Redis:      rdb,
		Tokens:     tokens,
		Webhooks:   webhooks,
		Generators: generators,
		Accounts:   service.NewAccountService(accountRepo, cfg, log),
		Credits:    service.NewCreditService(accountRepo, log),
		Imports:    service.NewImportService(contactRepo, log),
		Outreach:   outreach,
		Dispatcher: service.NewDispatcher(outreach, batchRepo, cfg, log),
	}, nil
}

// Close stops background batches and closes connections
func (a *App) Close(ctx context.Context) error {
	err := a.Dispatcher.Shutdown(ctx)
	if cerr := a.Redis.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := a.DB.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
