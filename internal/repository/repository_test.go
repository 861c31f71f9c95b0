// Package repository provides data access layer implementations.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"league-engine/internal/domain"
	"league-engine/internal/model"
	"league-engine/internal/pkg/db"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	// Same schema the daemon migrates
	err = db.Migrate(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

func createTestUser(t *testing.T, pool *pgxpool.Pool, externalID string) *model.User {
	t.Helper()
	user, err := NewUserRepository(pool).Create(context.Background(), externalID, "user-"+externalID)
	require.NoError(t, err)
	return user
}

func createTestSeason(t *testing.T, pool *pgxpool.Pool, name string) *model.Season {
	t.Helper()
	ctx := context.Background()
	repo := NewSeasonRepository(pool)
	season, err := repo.Create(ctx, name, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Activate(ctx, season.ID))
	return season
}

func createTestSession(t *testing.T, pool *pgxpool.Pool, seasonID int64, capacity int) *model.Session {
	t.Helper()
	sess, err := NewSessionRepository(pool).Create(context.Background(),
		seasonID, 1, "1", capacity, model.SessionScheduled, time.Now())
	require.NoError(t, err)
	return sess
}

// ============================================================================
// UserRepository Tests
// ============================================================================

func TestUserRepository_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, err := repo.Create(ctx, "ext-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", user.ExternalID)
	assert.Equal(t, "alice", user.DisplayName)
	assert.Equal(t, 2000.0, user.Experience) // schema default
	assert.Equal(t, 0, user.Priority)
	assert.False(t, user.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	got, err = repo.GetByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = repo.GetByID(ctx, 99999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserRepository_GetOrCreate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, created, err := repo.GetOrCreate(ctx, "ext-1", "alice")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.GetOrCreate(ctx, "ext-1", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, user.ID, again.ID)
}

func TestUserRepository_PrioritySweep(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	u1 := createTestUser(t, pool, "ext-1")
	u2 := createTestUser(t, pool, "ext-2")
	u3 := createTestUser(t, pool, "ext-3")

	// Reject u1 and u2 twice, u3 once
	require.NoError(t, repo.IncrementPriority(ctx, []int64{u1.ID, u2.ID}))
	require.NoError(t, repo.IncrementPriority(ctx, []int64{u1.ID, u2.ID, u3.ID}))

	got, err := repo.GetByID(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Priority)

	// Admission resets
	require.NoError(t, repo.ResetPriority(ctx, []int64{u1.ID}))
	got, err = repo.GetByID(ctx, u1.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Priority)

	got, err = repo.GetByID(ctx, u3.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Priority)

	// Empty sweeps are no-ops
	require.NoError(t, repo.IncrementPriority(ctx, nil))
	require.NoError(t, repo.ResetPriority(ctx, nil))
}

// ============================================================================
// SeasonRepository Tests
// ============================================================================

func TestSeasonRepository_ActiveSwitch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSeasonRepository(pool)
	ctx := context.Background()

	s1, err := repo.Create(ctx, "Season 1", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Activate(ctx, s1.ID))

	active, err := repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, active.ID)

	s2, err := repo.Create(ctx, "Season 2", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.DeactivateAll(ctx))
	require.NoError(t, repo.Activate(ctx, s2.ID))

	active, err = repo.GetActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, s2.ID, active.ID)
}

func TestSeasonRepository_Participants(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSeasonRepository(pool)
	ctx := context.Background()

	season := createTestSeason(t, pool, "Season 1")
	user := createTestUser(t, pool, "ext-1")

	ok, err := repo.IsParticipant(ctx, season.ID, user.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.AddParticipant(ctx, season.ID, user.ID))
	// Idempotent
	require.NoError(t, repo.AddParticipant(ctx, season.ID, user.ID))

	ok, err = repo.IsParticipant(ctx, season.ID, user.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

// ============================================================================
// ScoreRepository Tests
// ============================================================================

func TestScoreRepository_EnsureAndDeltas(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewScoreRepository(pool)
	ctx := context.Background()

	season := createTestSeason(t, pool, "Season 1")
	user := createTestUser(t, pool, "ext-1")

	score, err := repo.Ensure(ctx, season.ID, user.ID, 1200)
	require.NoError(t, err)
	assert.Equal(t, 1200.0, score.Rating)
	assert.Equal(t, 1200.0, score.SeedRating)
	assert.Equal(t, 0, score.WinPoints)

	// Second ensure must not overwrite the live rating
	require.NoError(t, repo.ApplyDelta(ctx, season.ID, user.ID, 10, 35.5))
	score, err = repo.Ensure(ctx, season.ID, user.ID, 9999)
	require.NoError(t, err)
	assert.InDelta(t, 1235.5, score.Rating, 1e-9)
	assert.Equal(t, 1200.0, score.SeedRating)
	assert.Equal(t, 10, score.WinPoints)

	// Entry points and seed reset
	require.NoError(t, repo.AddEntryPoints(ctx, season.ID, user.ID, 0.5))
	require.NoError(t, repo.ResetToSeed(ctx, season.ID))
	score, err = repo.Get(ctx, season.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1200.0, score.Rating)
	assert.Equal(t, 0, score.WinPoints)
	assert.Equal(t, 0.5, score.EntryPoints) // survives the reset
}

// ============================================================================
// PoolRepository Tests
// ============================================================================

func TestPoolRepository_CreateIsUniquePerWeek(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPoolRepository(pool)
	ctx := context.Background()

	season := createTestSeason(t, pool, "Season 1")

	created, err := repo.Create(ctx, season.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.PoolStatusOpen, created.Status)

	_, err = repo.Create(ctx, season.ID, 1)
	assert.ErrorIs(t, err, ErrPoolExists)

	got, err := repo.GetBySeasonWeek(ctx, season.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	require.NoError(t, repo.Finalize(ctx, created.ID, model.PoolStatusClosed))
	got, err = repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PoolStatusClosed, got.Status)
	assert.NotNil(t, got.ClosedAt)
}

func TestPoolRepository_AdmissionOrder(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPoolRepository(pool)
	userRepo := NewUserRepository(pool)
	ctx := context.Background()

	season := createTestSeason(t, pool, "Season 1")
	entry, err := repo.Create(ctx, season.ID, 1)
	require.NoError(t, err)

	u1 := createTestUser(t, pool, "ext-1") // priority 0, applies first
	u2 := createTestUser(t, pool, "ext-2") // priority 2
	u3 := createTestUser(t, pool, "ext-3") // priority 0, applies last
	require.NoError(t, userRepo.IncrementPriority(ctx, []int64{u2.ID}))
	require.NoError(t, userRepo.IncrementPriority(ctx, []int64{u2.ID}))

	for i, u := range []*model.User{u1, u2, u3} {
		app, err := repo.CreateApplication(ctx, entry.ID, u.ID)
		require.NoError(t, err)
		// Pin submission times so the ordering is unambiguous
		_, err = pool.Exec(ctx,
			`UPDATE entry_applications SET submitted_at = $2 WHERE id = $1`,
			app.ID, time.Date(2026, 1, 1, 12, i, 0, 0, time.UTC))
		require.NoError(t, err)
	}

	candidates, err := repo.ListAdmissionCandidates(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, u2.ID, candidates[0].UserID) // highest priority first
	assert.Equal(t, u1.ID, candidates[1].UserID) // then earliest submission
	assert.Equal(t, u3.ID, candidates[2].UserID)

	// Canceled applications drop out of the sweep
	app, err := repo.GetApplication(ctx, entry.ID, u2.ID)
	require.NoError(t, err)
	_, err = repo.SetApplicationStatus(ctx, app.ID, model.ApplicationCanceled, false)
	require.NoError(t, err)

	candidates, err = repo.ListAdmissionCandidates(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, u1.ID, candidates[0].UserID)
}

// ============================================================================
// SessionRepository Tests
// ============================================================================

func TestSessionRepository_Members(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	season := createTestSeason(t, pool, "Season 1")
	sess := createTestSession(t, pool, season.ID, 2)
	u1 := createTestUser(t, pool, "ext-1")
	u2 := createTestUser(t, pool, "ext-2")

	require.NoError(t, repo.UpsertMember(ctx, sess.ID, u1.ID))
	require.NoError(t, repo.UpsertMember(ctx, sess.ID, u2.ID))

	count, err := repo.CountConfirmedMembers(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Dropout then reactivation through the same upsert
	require.NoError(t, repo.SetMemberStatus(ctx, sess.ID, u2.ID, model.MemberCanceled))
	count, err = repo.CountConfirmedMembers(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repo.UpsertMember(ctx, sess.ID, u2.ID))
	ids, err := repo.ListConfirmedMemberIDs(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestSessionRepository_Stats(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	season := createTestSeason(t, pool, "Season 1")
	sess := createTestSession(t, pool, season.ID, 2)
	u1 := createTestUser(t, pool, "ext-1")
	u2 := createTestUser(t, pool, "ext-2")

	require.NoError(t, repo.EnsureStats(ctx, sess.ID, []int64{u1.ID, u2.ID}))
	// Lazy creation is idempotent
	require.NoError(t, repo.EnsureStats(ctx, sess.ID, []int64{u1.ID, u2.ID}))

	require.NoError(t, repo.AddWins(ctx, sess.ID, []int64{u1.ID}, 1))
	require.NoError(t, repo.AddWins(ctx, sess.ID, []int64{u1.ID}, 1))

	maxWins, err := repo.MaxWins(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, maxWins)

	// Correction reversal floors at zero
	require.NoError(t, repo.AddWins(ctx, sess.ID, []int64{u2.ID}, -1))
	stats, err := repo.ListStats(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	for _, st := range stats {
		assert.GreaterOrEqual(t, st.Wins, 0)
	}

	require.NoError(t, repo.ResetStats(ctx, sess.ID))
	maxWins, err = repo.MaxWins(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, maxWins)

	// Settlement reads counters through confirmed membership only
	require.NoError(t, repo.UpsertMember(ctx, sess.ID, u1.ID))
	require.NoError(t, repo.UpsertMember(ctx, sess.ID, u2.ID))
	require.NoError(t, repo.SetMemberStatus(ctx, sess.ID, u2.ID, model.MemberCanceled))
	confirmed, err := repo.ListConfirmedStats(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, u1.ID, confirmed[0].UserID)

	// A withdrawn member's counter is removable outright
	require.NoError(t, repo.DeleteStat(ctx, sess.ID, u2.ID))
	stats, err = repo.ListStats(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, u1.ID, stats[0].UserID)
}

// ============================================================================
// MatchRepository Tests
// ============================================================================

func TestMatchRepository_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewMatchRepository(pool)
	ctx := context.Background()

	season := createTestSeason(t, pool, "Season 1")
	sess := createTestSession(t, pool, season.ID, 2)
	u1 := createTestUser(t, pool, "ext-1")
	u2 := createTestUser(t, pool, "ext-2")

	last, err := repo.LastIndex(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, last)

	m1, err := repo.Create(ctx, sess.ID, 1, []int64{u1.ID}, []int64{u2.ID})
	require.NoError(t, err)
	assert.Nil(t, m1.Winner)

	// The partial unique index rejects a second open match
	_, err = repo.Create(ctx, sess.ID, 2, []int64{u1.ID}, []int64{u2.ID})
	assert.Error(t, err)

	open, err := repo.GetOpen(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, m1.ID, open.ID)

	stage := "grand final"
	decided, err := repo.SetOutcome(ctx, m1.ID, model.WinnerA, &stage)
	require.NoError(t, err)
	require.NotNil(t, decided.Winner)
	assert.Equal(t, model.WinnerA, *decided.Winner)
	assert.NotNil(t, decided.DecidedAt)

	_, err = repo.GetOpen(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.Create(ctx, sess.ID, 2, []int64{u2.ID}, []int64{u1.ID})
	require.NoError(t, err)

	last, err = repo.LastIndex(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, last)

	hasOpen, err := repo.HasOpen(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, hasOpen)

	removed, err := repo.DeleteOpen(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	decidedList, err := repo.ListDecided(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, decidedList, 1)
	assert.Equal(t, 1, decidedList[0].MatchIndex)

	got, err := repo.GetByIndex(ctx, sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, m1.ID, got.ID)
	_, err = repo.GetByIndex(ctx, sess.ID, 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ============================================================================
// SettlementRepository Tests
// ============================================================================

func TestSettlementRepository_LedgerRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSettlementRepository(pool)
	scoreRepo := NewScoreRepository(pool)
	ctx := context.Background()

	season := createTestSeason(t, pool, "Season 1")
	sess := createTestSession(t, pool, season.ID, 2)
	u1 := createTestUser(t, pool, "ext-1")
	u2 := createTestUser(t, pool, "ext-2")

	_, err := scoreRepo.Ensure(ctx, season.ID, u1.ID, 1000)
	require.NoError(t, err)
	_, err = scoreRepo.Ensure(ctx, season.ID, u2.ID, 1000)
	require.NoError(t, err)

	batch := uuid.New()
	_, err = repo.Insert(ctx, season.ID, sess.ID, u1.ID, 10, 10.0, batch)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, season.ID, sess.ID, u2.ID, 3, -10.0, batch)
	require.NoError(t, err)
	require.NoError(t, scoreRepo.ApplyDelta(ctx, season.ID, u1.ID, 10, 10.0))
	require.NoError(t, scoreRepo.ApplyDelta(ctx, season.ID, u2.ID, 3, -10.0))

	entries, err := repo.ListBySession(ctx, season.ID, sess.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Ledger fully explains both ratings
	sums, err := repo.LedgerSums(ctx, season.ID)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	for _, sum := range sums {
		assert.InDelta(t, sum.RateSum, sum.Rating-sum.SeedRating, 1e-9)
	}

	removed, err := repo.DeleteBySession(ctx, season.ID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestSettlementRepository_HasLaterNonzero(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSettlementRepository(pool)
	sessRepo := NewSessionRepository(pool)
	ctx := context.Background()

	season := createTestSeason(t, pool, "Season 1")
	u1 := createTestUser(t, pool, "ext-1")

	early, err := sessRepo.Create(ctx, season.ID, 1, "1", 2, model.SessionFinished,
		time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	late, err := sessRepo.Create(ctx, season.ID, 2, "1", 2, model.SessionFinished,
		time.Date(2026, 1, 12, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// Only the early session settled: no later entry yet
	_, err = repo.Insert(ctx, season.ID, early.ID, u1.ID, 10, 12.5, uuid.New())
	require.NoError(t, err)
	stale, err := repo.HasLaterNonzero(ctx, season.ID, early.ScheduledAt, early.ID, []int64{u1.ID})
	require.NoError(t, err)
	assert.False(t, stale)

	// Later session settles the same participant: edits to the early one
	// must now be refused
	_, err = repo.Insert(ctx, season.ID, late.ID, u1.ID, 4, -7.5, uuid.New())
	require.NoError(t, err)
	stale, err = repo.HasLaterNonzero(ctx, season.ID, early.ScheduledAt, early.ID, []int64{u1.ID})
	require.NoError(t, err)
	assert.True(t, stale)

	// The later session itself has nothing after it
	stale, err = repo.HasLaterNonzero(ctx, season.ID, late.ScheduledAt, late.ID, []int64{u1.ID})
	require.NoError(t, err)
	assert.False(t, stale)

	// A zero rate delta does not block edits
	other := createTestUser(t, pool, "ext-2")
	_, err = repo.Insert(ctx, season.ID, late.ID, other.ID, 2, 0, uuid.New())
	require.NoError(t, err)
	stale, err = repo.HasLaterNonzero(ctx, season.ID, early.ScheduledAt, early.ID, []int64{other.ID})
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestSettlementRepository_DeleteBySeason(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSettlementRepository(pool)
	ctx := context.Background()

	season := createTestSeason(t, pool, "Season 1")
	sess := createTestSession(t, pool, season.ID, 2)
	u1 := createTestUser(t, pool, "ext-1")

	_, err := repo.Insert(ctx, season.ID, sess.ID, u1.ID, 1, 1.5, uuid.New())
	require.NoError(t, err)

	removed, err := repo.DeleteBySeason(ctx, season.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, err := repo.ListBySession(ctx, season.ID, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
