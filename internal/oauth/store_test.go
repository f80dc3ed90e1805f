package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	rec := &TokenRecord{
		ProviderType: "anthropic",
		Alias:        "default",
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
		State:        StateValid,
	}
	require.NoError(t, s.Save(rec))
	assert.Equal(t, 1, rec.Sequence)

	loaded, err := s.Load(Ref{ProviderType: "anthropic", Alias: "default"})
	require.NoError(t, err)
	assert.Equal(t, rec.AccessToken, loaded.AccessToken)
	assert.Equal(t, rec.RefreshToken, loaded.RefreshToken)
	assert.True(t, rec.ExpiresAt.Equal(loaded.ExpiresAt))
}

func TestStoreSaveAssignsNextSequenceAndLoadPicksHighest(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	first := &TokenRecord{ProviderType: "openai", Alias: "a", AccessToken: "x1"}
	require.NoError(t, s.Save(first))
	second := &TokenRecord{ProviderType: "openai", Alias: "a", AccessToken: "x2"}
	require.NoError(t, s.Save(second))
	assert.Equal(t, 1, first.Sequence)
	assert.Equal(t, 2, second.Sequence)

	// Load should resolve to the highest-sequence file for that alias.
	loaded, err := s.Load(Ref{ProviderType: "openai", Alias: "a"})
	require.NoError(t, err)
	assert.Equal(t, "x2", loaded.AccessToken)
}

func TestStoreLoadMissingReturnsNotExist(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	_, err := s.Load(Ref{ProviderType: "openai", Alias: "missing"})
	assert.Error(t, err)
}
