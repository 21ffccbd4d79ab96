package risk

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestCacheRepo(t *testing.T) *CacheRepository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewCacheRepository(db, zerolog.Nop())
	require.NoError(t, repo.EnsureSchema())
	return repo
}

func samplePack(vol float64) *RiskPack {
	return &RiskPack{
		Summary: &RiskSummary{Vol1DPct: vol, Top5Names: []string{"A"}},
		Metadata: Metadata{
			Window:   252,
			Method:   "lw",
			AsofDate: "2023-06-01",
		},
	}
}

func TestCacheRepositoryRoundTrip(t *testing.T) {
	repo := newTestCacheRepo(t)

	require.NoError(t, repo.Put(ResultTypeRiskPack, "2023-06-01", 252, "lw", "hash1", samplePack(1.5)))

	got, err := repo.Get(ResultTypeRiskPack, "2023-06-01", 252, "lw", "hash1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1.5, got.Summary.Vol1DPct)
	assert.Equal(t, 252, got.Metadata.Window)
}

func TestCacheRepositoryMiss(t *testing.T) {
	repo := newTestCacheRepo(t)

	got, err := repo.Get(ResultTypeRiskPack, "2023-06-01", 252, "lw", "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheRepositoryKeyDimensions(t *testing.T) {
	repo := newTestCacheRepo(t)
	require.NoError(t, repo.Put(ResultTypeRiskPack, "2023-06-01", 252, "lw", "hash1", samplePack(1)))

	// A different window, method or portfolio hash is a different key.
	for _, probe := range []struct {
		window int
		method string
		hash   string
	}{
		{60, "lw", "hash1"},
		{252, "ewma", "hash1"},
		{252, "lw", "hash2"},
	} {
		got, err := repo.Get(ResultTypeRiskPack, "2023-06-01", probe.window, probe.method, probe.hash)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
}

func TestCacheRepositoryUpsert(t *testing.T) {
	repo := newTestCacheRepo(t)

	require.NoError(t, repo.Put(ResultTypeRiskPack, "2023-06-01", 252, "lw", "hash1", samplePack(1)))
	require.NoError(t, repo.Put(ResultTypeRiskPack, "2023-06-01", 252, "lw", "hash1", samplePack(2)))

	got, err := repo.Get(ResultTypeRiskPack, "2023-06-01", 252, "lw", "hash1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2.0, got.Summary.Vol1DPct, "last writer wins")
}

func TestCacheRepositoryPurge(t *testing.T) {
	repo := newTestCacheRepo(t)
	repo.now = func() time.Time { return time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, repo.Put(ResultTypeRiskPack, "2023-01-02", 252, "lw", "old", samplePack(1)))
	require.NoError(t, repo.Put(ResultTypeRiskPack, "2023-06-01", 252, "lw", "new", samplePack(2)))

	deleted, err := repo.Purge(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	got, err := repo.Get(ResultTypeRiskPack, "2023-01-02", 252, "lw", "old")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = repo.Get(ResultTypeRiskPack, "2023-06-01", 252, "lw", "new")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
