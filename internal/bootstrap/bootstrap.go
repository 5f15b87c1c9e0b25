// Package bootstrap wires the configured document store, resolver and
// profile service for the server and the CLI.
package bootstrap

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/usefultools/backend/internal/config"
	"github.com/usefultools/backend/internal/metrics"
	"github.com/usefultools/backend/internal/services"
	"github.com/usefultools/backend/internal/storage"
)

type Stack struct {
	Store    storage.DocumentStore
	Resolver *storage.Resolver
	Profiles *services.ProfileService
	// Auth is nil when no Firebase project is configured.
	Auth *fbauth.Client

	closers []func(context.Context) error
}

// Open builds the stack for cfg.StoreBackend. Firebase Auth is initialised
// whenever a Firebase project is configured, whatever the store backend.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*Stack, error) {
	s := &Stack{}

	var app *firebase.App
	if cfg.FirebaseEnabled() {
		var err error
		app, err = NewFirebaseApp(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.Auth, err = app.Auth(ctx)
		if err != nil {
			logger.Warn("Firebase Auth unavailable", zap.Error(err))
		}
	}

	switch cfg.StoreBackend {
	case config.BackendFirebase:
		if app == nil {
			return nil, fmt.Errorf("store backend %q needs FIREBASE_DATABASE_URL", cfg.StoreBackend)
		}
		client, err := app.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase database: %w", err)
		}
		s.Store = storage.NewFirebaseStore(client, cfg.PollInterval, logger)
	case config.BackendMongo:
		store, err := storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB, logger)
		if err != nil {
			return nil, fmt.Errorf("mongo store: %w", err)
		}
		s.Store = store
		s.closers = append(s.closers, store.Close)
	case config.BackendJSON:
		store, err := storage.NewJSONStore(cfg.DataDir, "tree.json")
		if err != nil {
			return nil, fmt.Errorf("json store: %w", err)
		}
		s.Store = store
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	s.Resolver = storage.NewResolver(s.Store, cfg.ScopePrefix, logger, m)
	s.Profiles = services.NewProfileService(s.Store, s.Resolver, logger, m)
	logger.Info("store ready", zap.String("backend", cfg.StoreBackend), zap.String("scope_prefix", cfg.ScopePrefix))
	return s, nil
}

func (s *Stack) Close(ctx context.Context) error {
	var firstErr error
	for _, c := range s.closers {
		if err := c(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewFirebaseApp uses FIREBASE_CREDENTIALS_JSON when set and Application
// Default Credentials otherwise.
func NewFirebaseApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.FirebaseCredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.FirebaseCredentialsJSON)))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.FirebaseProjectID,
		DatabaseURL: cfg.FirebaseDatabaseURL,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	return app, nil
}
