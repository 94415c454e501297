package sqlitestore

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relocation-assistant/internal/domain"
	"relocation-assistant/internal/repository"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", WithClock(func() time.Time { return baseTime }))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestAppendAndRecentTurns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTurns(ctx,
		domain.Turn{ConversationID: "1", Role: domain.RoleUser, Content: "Нужна ли виза в Сербию?", CreatedAt: baseTime},
		domain.Turn{ConversationID: "1", Role: domain.RoleAssistant, Content: "Для граждан РФ нет.", CreatedAt: baseTime.Add(time.Second)},
	))
	require.NoError(t, s.AppendTurns(ctx, domain.Turn{ConversationID: "2", Role: domain.RoleUser, Content: "other"}))

	got, err := s.RecentTurns(ctx, "1", 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, domain.RoleUser, got[0].Role)
	require.Equal(t, "Для граждан РФ нет.", got[1].Content)
	require.True(t, got[1].CreatedAt.Equal(baseTime.Add(time.Second)))

	other, err := s.RecentTurns(ctx, "2", 20)
	require.NoError(t, err)
	require.Len(t, other, 1)
	require.True(t, other[0].CreatedAt.Equal(baseTime), "zero timestamp takes the clock")
}

func TestRecentTurns_NewestWindowInChronologicalOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(7))
	for _, off := range rng.Perm(40) {
		at := baseTime.Add(time.Duration(off) * 250 * time.Millisecond)
		require.NoError(t, s.AppendTurns(ctx, domain.Turn{ConversationID: "c", Role: domain.RoleUser, Content: "m", CreatedAt: at}))
	}

	for _, limit := range []int{1, 20, 40, 100} {
		got, err := s.RecentTurns(ctx, "c", limit)
		require.NoError(t, err)
		require.LessOrEqual(t, len(got), limit)
		require.Len(t, got, min(limit, 40))
		for i := 1; i < len(got); i++ {
			require.False(t, got[i].CreatedAt.Before(got[i-1].CreatedAt))
		}
		require.True(t, got[len(got)-1].CreatedAt.Equal(baseTime.Add(39*250*time.Millisecond)))
	}

	got, err := s.RecentTurns(ctx, "c", 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRecentTurns_SameTimestampKeepsInsertOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AppendTurns(ctx,
		domain.Turn{ConversationID: "1", Role: domain.RoleUser, Content: "q", CreatedAt: baseTime},
		domain.Turn{ConversationID: "1", Role: domain.RoleAssistant, Content: "a", CreatedAt: baseTime},
	))

	got, err := s.RecentTurns(ctx, "1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Content)
}

func TestAppendTurns_InvalidRoleWritesNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.AppendTurns(ctx,
		domain.Turn{ConversationID: "1", Role: domain.RoleUser, Content: "ok"},
		domain.Turn{ConversationID: "1", Role: domain.Role("tool"), Content: "bad"},
	)
	var se *repository.StorageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "AppendTurns", se.Op)

	got, err := s.RecentTurns(ctx, "1", 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendTurns(ctx, domain.Turn{
			ConversationID: "1", Role: domain.RoleUser, Content: "m",
			CreatedAt: baseTime.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}

	n, err := s.Prune(ctx, baseTime.Add(2*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	got, err := s.RecentTurns(ctx, "1", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.True(t, got[0].CreatedAt.Equal(baseTime.Add(2*24*time.Hour)))
}

func TestProfiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetProfile(ctx, "9")
	require.NoError(t, err)
	require.False(t, ok)

	p, err := s.CreateProfile(ctx, domain.Profile{ConversationID: "9", Language: domain.LanguageRU})
	require.NoError(t, err)
	require.Equal(t, domain.LanguageRU, p.Language)
	require.Zero(t, p.RequestCount)
	require.True(t, p.CreatedAt.Equal(baseTime))

	require.NoError(t, s.IncrementRequestCount(ctx, "9"))
	require.NoError(t, s.IncrementRequestCount(ctx, "9"))
	require.NoError(t, s.SetLanguage(ctx, "9", domain.LanguageEN))
	require.NoError(t, s.SetUnlimited(ctx, "9", true))

	again, err := s.CreateProfile(ctx, domain.Profile{ConversationID: "9", Language: domain.LanguageRU})
	require.NoError(t, err)
	require.Equal(t, domain.LanguageEN, again.Language)
	require.Equal(t, 2, again.RequestCount)
	require.True(t, again.IsUnlimited)
}

func TestProfileUpdates_Missing(t *testing.T) {
	s := openTestStore(t)

	err := s.SetLanguage(context.Background(), "404", domain.LanguageEN)
	require.ErrorIs(t, err, repository.ErrProfileMissing)
}

func TestDigests(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LatestDigest(ctx, domain.LanguageRU)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.PutDigest(ctx, domain.CachedDigest{Language: domain.LanguageRU, Content: "old", CreatedAt: baseTime.Add(-30 * time.Hour)}))
	require.NoError(t, s.PutDigest(ctx, domain.CachedDigest{Language: domain.LanguageRU, Content: "new", CreatedAt: baseTime.Add(-10 * time.Hour)}))
	require.NoError(t, s.PutDigest(ctx, domain.CachedDigest{Language: domain.LanguageEN, Content: "en", CreatedAt: baseTime}))

	d, ok, err := s.LatestDigest(ctx, domain.LanguageRU)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", d.Content)

	cache, err := repository.NewDigestCache(s, 24*time.Hour, func() time.Time { return baseTime })
	require.NoError(t, err)
	text, ok, err := cache.GetFresh(ctx, domain.LanguageRU)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", text)

	n, err := cache.Invalidate(ctx, domain.LanguageRU)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	_, ok, err = cache.GetFresh(ctx, domain.LanguageRU)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Put(ctx, domain.LanguageRU, "fresh"))
	n, err = cache.Invalidate(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestDigests_StaleIsIgnored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutDigest(ctx, domain.CachedDigest{Language: domain.LanguageEN, Content: "stale", CreatedAt: baseTime.Add(-25 * time.Hour)}))

	cache, err := repository.NewDigestCache(s, 24*time.Hour, func() time.Time { return baseTime })
	require.NoError(t, err)
	_, ok, err := cache.GetFresh(ctx, domain.LanguageEN)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.LatestDigest(ctx, domain.LanguageEN)
	require.NoError(t, err)
	require.True(t, ok, "stale rows stay until invalidated")
}
