package calsync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Order(t *testing.T) {
	ctx := context.Background()

	t.Run("persisted id", func(t *testing.T) {
		store := newFakeStore()
		store.containers = []Container{{ID: "keep", Title: "Whatever", Writable: true}}
		state := &memState{containerID: "keep"}
		r := NewResolver(store, state, "")

		id, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "keep", id)
		assert.Equal(t, 0, store.createAttempts)
	})

	t.Run("reserved name", func(t *testing.T) {
		store := newFakeStore()
		store.containers = []Container{
			{ID: "work", Title: "Work", Writable: true},
			{ID: "coach", Title: DefaultContainerName, Writable: true},
		}
		state := &memState{containerID: "gone"}
		r := NewResolver(store, state, "")

		id, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "coach", id)
		assert.Equal(t, "coach", state.containerID)
		assert.Equal(t, 0, store.createAttempts)
	})

	t.Run("create under local source", func(t *testing.T) {
		store := newFakeStore()
		store.sources = []Source{
			{ID: "icloud", Kind: SourceSubscribed},
			{ID: "device", Kind: SourceLocal},
		}
		r := NewResolver(store, &memState{}, "Plan")

		id, err := r.Resolve(ctx)
		require.NoError(t, err)
		c, ok, _ := store.Container(ctx, id)
		require.True(t, ok)
		assert.Equal(t, "Plan", c.Title)
		assert.Equal(t, "device", c.SourceID)
	})

	t.Run("default container", func(t *testing.T) {
		store := newFakeStore()
		store.sources = nil
		store.containers = []Container{{ID: "a", Writable: true}, {ID: "def", Writable: true}}
		store.defaultID = "def"
		r := NewResolver(store, &memState{}, "")

		id, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "def", id)
	})

	t.Run("first writable", func(t *testing.T) {
		store := newFakeStore()
		store.createErr = errors.New("nope")
		store.containers = []Container{{ID: "ro", Writable: false}, {ID: "rw", Writable: true}}
		r := NewResolver(store, &memState{}, "")

		id, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "rw", id)
	})

	t.Run("exhausted", func(t *testing.T) {
		store := newFakeStore()
		store.sources = nil
		store.containers = []Container{{ID: "ro", Writable: false}}
		r := NewResolver(store, &memState{}, "")

		_, err := r.Resolve(ctx)
		assert.True(t, errors.Is(err, ErrContainerNotFound))
	})
}

func TestResolver_CachesCreatedContainer(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	state := &memState{}
	r := NewResolver(store, state, "")

	first, err := r.Resolve(ctx)
	require.NoError(t, err)
	second, err := r.Resolve(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.createAttempts)
	assert.Len(t, store.containers, 1)
	assert.Equal(t, first, r.Cached())
}

func TestResolver_ReresolvesInvalidCache(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := NewResolver(store, &memState{}, "")

	_, err := r.Resolve(ctx)
	require.NoError(t, err)

	// Calendar deleted by the user outside the app.
	store.containers = nil
	second, err := r.Resolve(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, second)
	assert.Equal(t, 2, store.createAttempts)
}
