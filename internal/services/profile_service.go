package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/usefultools/backend/internal/metrics"
	"github.com/usefultools/backend/internal/models"
	"github.com/usefultools/backend/internal/storage"
)

// ProfileKey is the logical store key of the profile document.
const ProfileKey = "profile"

// ProfileService reads, writes and listens to a user's profile document. The
// identity is always passed in; an empty identity addresses the unscoped
// root document.
type ProfileService struct {
	store    storage.DocumentStore
	resolver *storage.Resolver
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewProfileService(store storage.DocumentStore, resolver *storage.Resolver, logger *zap.Logger, m *metrics.Metrics) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{
		store:    store,
		resolver: resolver,
		logger:   logger.Named("profile"),
		metrics:  m,
	}
}

// Fetch returns the stored profile, or nil when none exists yet.
func (s *ProfileService) Fetch(ctx context.Context, userID string) (*models.Profile, error) {
	path := s.resolver.Resolve(ctx, userID, ProfileKey)
	snap, err := s.store.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return decodeProfile(snap)
}

// Save overwrites the stored profile with p. Unset fields are omitted from
// the document. There is no retry and no version check.
func (s *ProfileService) Save(ctx context.Context, userID string, p models.Profile) error {
	path := s.resolver.Resolve(ctx, userID, ProfileKey)
	err := s.store.Write(ctx, path, p)
	s.metrics.ObserveSave(err)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	s.logger.Debug("profile saved", zap.String("user", userID), zap.String("path", path))
	return nil
}

// Listen calls onChange with the current profile and again after every
// remote change. A missing document is reported as nil. Documents that
// cannot be decoded are logged and skipped.
func (s *ProfileService) Listen(ctx context.Context, userID string, onChange func(*models.Profile)) (func(), error) {
	path := s.resolver.Resolve(ctx, userID, ProfileKey)
	unsubscribe, err := s.store.Subscribe(ctx, path, func(snap storage.Snapshot) {
		p, err := decodeProfile(snap)
		if err != nil {
			s.logger.Warn("ignoring undecodable profile", zap.String("path", path), zap.Error(err))
			return
		}
		if p != nil {
			s.metrics.ObserveRemoteUpdate()
		}
		onChange(p)
	})
	if err != nil {
		return nil, fmt.Errorf("listen profile: %w", err)
	}
	s.metrics.ListenerAttached()
	s.logger.Debug("listening", zap.String("user", userID), zap.String("path", path))

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			s.metrics.ListenerDetached()
		})
	}, nil
}

func decodeProfile(snap storage.Snapshot) (*models.Profile, error) {
	if !snap.Exists() {
		return nil, nil
	}
	var p models.Profile
	if err := snap.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}
