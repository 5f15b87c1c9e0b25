package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/usefultools/backend/internal/models"
)

// Tracker holds one user's conception and birth dates in memory and keeps
// them in step with the stored profile.
//
// The listener and explicit setters both write the fields. Nothing orders a
// local save against a remote update: the last writer wins.
type Tracker struct {
	userID   string
	profiles *ProfileService
	clock    Clock
	logger   *zap.Logger

	mu             sync.RWMutex
	conceptionDate string
	babyBirthDate  string
}

func NewTracker(userID string, profiles *ProfileService, clock Clock, logger *zap.Logger) *Tracker {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		userID:   userID,
		profiles: profiles,
		clock:    clock,
		logger:   logger.With(zap.String("user", userID)),
	}
}

func (t *Tracker) UserID() string {
	return t.userID
}

func (t *Tracker) SetConceptionDate(date string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conceptionDate = date
}

func (t *Tracker) SetBabyBirthDate(date string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.babyBirthDate = date
}

// Restore replaces both local fields at once, e.g. to undo edits whose save
// failed.
func (t *Tracker) Restore(p models.Profile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conceptionDate = p.ConceptionDate
	t.babyBirthDate = p.BabyBirthDate
}

// Profile returns the local fields as they would be saved.
func (t *Tracker) Profile() models.Profile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return models.Profile{
		ConceptionDate: t.conceptionDate,
		BabyBirthDate:  t.babyBirthDate,
	}
}

// PregnancyInfo derives the snapshot at the tracker clock's current instant.
func (t *Tracker) PregnancyInfo() (*models.PregnancyInfo, error) {
	return PregnancyInfo(t.Profile().ConceptionDate, t.clock.Now())
}

func (t *Tracker) BabyAge() (*models.BabyAge, error) {
	return BabyAge(t.Profile().BabyBirthDate, t.clock.Now())
}

// InitProfileListener subscribes to the stored profile. Each delivered
// document overwrites both local fields; a document that does not exist yet
// leaves them as they are. The returned function detaches the listener and
// may be called any number of times.
func (t *Tracker) InitProfileListener(ctx context.Context) (func(), error) {
	return t.profiles.Listen(ctx, t.userID, func(p *models.Profile) {
		if p == nil {
			return
		}
		t.mu.Lock()
		t.conceptionDate = p.ConceptionDate
		t.babyBirthDate = p.BabyBirthDate
		t.mu.Unlock()
		t.logger.Debug("profile updated from store",
			zap.String("conceptionDate", p.ConceptionDate),
			zap.String("babyBirthDate", p.BabyBirthDate))
	})
}

// SaveProfile writes both local fields as the whole stored profile. A failed
// write is returned as is; local state is untouched either way.
func (t *Tracker) SaveProfile(ctx context.Context) error {
	if err := t.profiles.Save(ctx, t.userID, t.Profile()); err != nil {
		t.logger.Error("save profile failed", zap.Error(err))
		return err
	}
	return nil
}
