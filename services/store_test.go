package services

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore(t *testing.T) {
	store := NewMockStore()
	_, err := store.Get("missing")
	assert.Error(t, err)

	require.NoError(t, store.Set("alarm/armed", "true"))
	value, err := store.Get("alarm/armed")
	require.NoError(t, err)
	assert.Equal(t, "true", value)

	require.NoError(t, store.Set("alarm/mode", "away"))
	nodes, err := store.GetRecursive("alarm/")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestRedisStore(t *testing.T) {
	srv := miniredis.RunT(t)
	store, err := NewRedisStore(srv.Addr())
	require.NoError(t, err)

	_, err = store.Get("missing")
	assert.Error(t, err)

	require.NoError(t, store.Set("alarm/armed", "true"))
	value, err := store.Get("alarm/armed")
	require.NoError(t, err)
	assert.Equal(t, "true", value)

	require.NoError(t, store.SetWithTTL("session", "x", 60))
	srv.FastForward(61 * time.Second)
	_, err = store.Get("session")
	assert.Error(t, err)

	require.NoError(t, store.Set("alarm/mode", "away"))
	nodes, err := store.GetRecursive("alarm/")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}
