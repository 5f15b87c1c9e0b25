package services

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/usefultools/backend/internal/metrics"
	"github.com/usefultools/backend/internal/models"
	"github.com/usefultools/backend/internal/storage"
)

type fixture struct {
	store    *storage.JSONStore
	resolver *storage.Resolver
	profiles *ProfileService
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewJSONStore(t.TempDir(), "tree.json")
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	resolver := storage.NewResolver(store, "identity", zap.NewNop(), m)
	return &fixture{
		store:    store,
		resolver: resolver,
		profiles: NewProfileService(store, resolver, zap.NewNop(), m),
		metrics:  m,
	}
}

func (f *fixture) readRaw(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	snap, err := f.store.Read(context.Background(), path)
	require.NoError(t, err)
	if !snap.Exists() {
		return nil
	}
	var out map[string]interface{}
	require.NoError(t, snap.Decode(&out))
	return out
}

// failingStore rejects every write.
type failingStore struct {
	storage.DocumentStore
}

func (failingStore) Write(context.Context, string, interface{}) error {
	return errors.New("permission denied")
}

func TestTracker_SaveRoundTrip(t *testing.T) {
	f := newFixture(t)
	tracker := NewTracker("u1", f.profiles, FixedClock(day(2026, 1, 15)), nil)

	tracker.SetConceptionDate("2026-01-01")
	tracker.SetBabyBirthDate("2024-05-20")
	require.NoError(t, tracker.SaveProfile(context.Background()))

	assert.Equal(t, map[string]interface{}{
		"conceptionDate": "2026-01-01",
		"babyBirthDate":  "2024-05-20",
	}, f.readRaw(t, "identity/u1/profile"))

	tracker.SetBabyBirthDate("")
	require.NoError(t, tracker.SaveProfile(context.Background()))
	assert.Equal(t, map[string]interface{}{
		"conceptionDate": "2026-01-01",
	}, f.readRaw(t, "identity/u1/profile"))

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ProfileSaves.WithLabelValues("ok")))
}

func TestTracker_DerivesWithClock(t *testing.T) {
	f := newFixture(t)
	tracker := NewTracker("u1", f.profiles, FixedClock(day(2026, 3, 1)), nil)

	info, err := tracker.PregnancyInfo()
	require.NoError(t, err)
	assert.Nil(t, info)
	age, err := tracker.BabyAge()
	require.NoError(t, err)
	assert.Nil(t, age)

	tracker.SetConceptionDate("2026-01-01")
	tracker.SetBabyBirthDate("2026-01-01")

	info, err = tracker.PregnancyInfo()
	require.NoError(t, err)
	assert.Equal(t, 9, info.CurrentWeek)
	assert.Equal(t, 4, info.CurrentDay)

	age, err = tracker.BabyAge()
	require.NoError(t, err)
	assert.Equal(t, models.BabyAge{Days: 59, Weeks: 8, Months: 1}, *age)
}

func TestTracker_ListenerAppliesRemoteUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tracker := NewTracker("u1", f.profiles, nil, nil)

	unsubscribe, err := tracker.InitProfileListener(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActiveListeners))

	other := NewTracker("u1", f.profiles, nil, nil)
	other.SetConceptionDate("2026-02-02")
	require.NoError(t, other.SaveProfile(ctx))

	assert.Equal(t, models.Profile{ConceptionDate: "2026-02-02"}, tracker.Profile())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveListeners))

	other.SetConceptionDate("2026-03-03")
	require.NoError(t, other.SaveProfile(ctx))
	assert.Equal(t, "2026-02-02", tracker.Profile().ConceptionDate)
}

func TestTracker_ListenerKeepsLocalStateWhenRemoteMissing(t *testing.T) {
	f := newFixture(t)
	tracker := NewTracker("u1", f.profiles, nil, nil)
	tracker.SetConceptionDate("2026-01-01")

	unsubscribe, err := tracker.InitProfileListener(context.Background())
	require.NoError(t, err)
	defer unsubscribe()

	assert.Equal(t, "2026-01-01", tracker.Profile().ConceptionDate)
}

func TestTracker_ListenerOverwritesBothFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Write(ctx, "identity/u1/profile", models.Profile{BabyBirthDate: "2025-06-01"}))

	tracker := NewTracker("u1", f.profiles, nil, nil)
	tracker.SetConceptionDate("2026-01-01")

	unsubscribe, err := tracker.InitProfileListener(ctx)
	require.NoError(t, err)
	defer unsubscribe()

	assert.Equal(t, models.Profile{BabyBirthDate: "2025-06-01"}, tracker.Profile())
}

func TestTracker_ObservesOwnWriteEcho(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tracker := NewTracker("u1", f.profiles, nil, nil)

	unsubscribe, err := tracker.InitProfileListener(ctx)
	require.NoError(t, err)
	defer unsubscribe()

	tracker.SetConceptionDate("2026-04-04")
	require.NoError(t, tracker.SaveProfile(ctx))
	assert.Equal(t, "2026-04-04", tracker.Profile().ConceptionDate)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RemoteUpdates))
}

func TestTracker_SaveFailureLeavesLocalState(t *testing.T) {
	f := newFixture(t)
	store := failingStore{DocumentStore: f.store}
	resolver := storage.NewResolver(store, "", nil, f.metrics)
	profiles := NewProfileService(store, resolver, nil, f.metrics)

	tracker := NewTracker("u1", profiles, nil, nil)
	tracker.SetConceptionDate("2026-01-01")

	err := tracker.SaveProfile(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, "2026-01-01", tracker.Profile().ConceptionDate)
	assert.Nil(t, f.readRaw(t, "users/u1/profile"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ProfileSaves.WithLabelValues("error")))
}

func TestTracker_RestoreReplacesBothFields(t *testing.T) {
	f := newFixture(t)
	tracker := NewTracker("u1", f.profiles, nil, nil)
	tracker.SetConceptionDate("2026-01-01")
	before := tracker.Profile()

	tracker.SetConceptionDate("2026-02-02")
	tracker.SetBabyBirthDate("2026-03-03")
	tracker.Restore(before)

	assert.Equal(t, models.Profile{ConceptionDate: "2026-01-01"}, tracker.Profile())
}

func TestTracker_LastWriterWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	phone := NewTracker("u1", f.profiles, nil, nil)
	laptop := NewTracker("u1", f.profiles, nil, nil)

	phone.SetConceptionDate("2026-01-01")
	laptop.SetBabyBirthDate("2024-01-01")
	require.NoError(t, phone.SaveProfile(ctx))
	require.NoError(t, laptop.SaveProfile(ctx))

	assert.Equal(t, map[string]interface{}{"babyBirthDate": "2024-01-01"}, f.readRaw(t, "identity/u1/profile"))
}
