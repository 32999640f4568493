package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sos-safeguard-api/internal/models"
	appErrors "github.com/noah-isme/sos-safeguard-api/pkg/errors"
)

func TestCacheRepositoryRoundTripAndExpiry(t *testing.T) {
	mr, client := newMiniredis(t)
	repo := NewCacheRepository(client)
	ctx := context.Background()

	var out []models.VillageRating
	err := repo.Get(ctx, "analytics:ratings", &out)
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))

	ratings := []models.VillageRating{{VillageID: "village-a", RatingScore: 40}}
	require.NoError(t, repo.Set(ctx, "analytics:ratings", ratings, 10*time.Minute))
	assert.Equal(t, 10*time.Minute, mr.TTL("sos:cache:analytics:ratings"))

	require.NoError(t, repo.Get(ctx, "analytics:ratings", &out))
	assert.Equal(t, ratings, out)

	mr.FastForward(10 * time.Minute)
	err = repo.Get(ctx, "analytics:ratings", &out)
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))
}

func TestCacheRepositoryDeleteByPatternKeepsCoordinationKeys(t *testing.T) {
	mr, client := newMiniredis(t)
	repo := NewCacheRepository(client)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "analytics:ratings", []int{1}, time.Minute))
	require.NoError(t, repo.Set(ctx, "analytics:village:village-a", map[string]int{"total": 1}, time.Minute))
	require.NoError(t, mr.Set("sos:lease:deadline-sweeper", "instance-a"))

	require.NoError(t, repo.DeleteByPattern(ctx, "analytics:*"))
	assert.False(t, mr.Exists("sos:cache:analytics:ratings"))
	assert.False(t, mr.Exists("sos:cache:analytics:village:village-a"))
	assert.True(t, mr.Exists("sos:lease:deadline-sweeper"))
}

func TestCacheRepositoryWithoutRedisMisses(t *testing.T) {
	repo := NewCacheRepository(nil)
	var out map[string]int
	assert.True(t, errors.Is(repo.Get(context.Background(), "k", &out), appErrors.ErrCacheMiss))
	assert.NoError(t, repo.Set(context.Background(), "k", 1, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(context.Background(), "*"))
}
