// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package prefs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/plexcord/internal/testutil"
)

func TestGet_DefaultsWhenMissing(t *testing.T) {
	_, store := testutil.NewStore(t)
	m := New(store)
	defer m.Close()

	p, err := m.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Defaults("u1"), p)
}

func TestSaveAndGet(t *testing.T) {
	mr, store := testutil.NewStore(t)
	m := New(store, WithCacheTTL(0))
	ctx := context.Background()

	in := Preferences{
		UserID:  "u1",
		Theme:   "dark",
		Widgets: map[string]bool{"sessions": true, "breakers": false},
	}
	require.NoError(t, m.Save(ctx, in))

	raw, err := mr.Get("plexcord:prefs:u1")
	require.NoError(t, err)
	var stored Preferences
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "dark", stored.Theme)

	out, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUpdate_MergesPatch(t *testing.T) {
	_, store := testutil.NewStore(t)
	m := New(store)
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, Preferences{UserID: "u1", Theme: "dark", Widgets: map[string]bool{"sessions": true}}))

	p, err := m.Update(ctx, "u1", []byte(`{"widgets":{"queue":true},"playback":{"volume":80}}`))
	require.NoError(t, err)
	assert.Equal(t, "dark", p.Theme)
	assert.Equal(t, map[string]bool{"sessions": true, "queue": true}, p.Widgets)
	assert.EqualValues(t, 80, p.Playback["volume"])
}

func TestUpdate_CannotChangeUser(t *testing.T) {
	_, store := testutil.NewStore(t)
	m := New(store)

	p, err := m.Update(context.Background(), "u1", []byte(`{"user_id":"someone-else","theme":"light"}`))
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "light", p.Theme)
}

func TestUpdate_RejectsBadPatchWithoutTouchingCache(t *testing.T) {
	_, store := testutil.NewStore(t)
	m := New(store)
	ctx := context.Background()
	require.NoError(t, m.Save(ctx, Preferences{UserID: "u1", Theme: "dark", Widgets: map[string]bool{"sessions": true}}))

	_, err := m.Update(ctx, "u1", []byte(`{"widgets":{"queue":true},"colour":"red"}`))
	require.ErrorIs(t, err, ErrInvalidPatch)

	p, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"sessions": true}, p.Widgets)
}

func TestGet_CorruptDocumentServesDefaults(t *testing.T) {
	mr, store := testutil.NewStore(t)
	require.NoError(t, mr.Set("plexcord:prefs:u1", "{not json"))

	p, err := New(store).Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Defaults("u1"), p)
}

func TestEmptyUser(t *testing.T) {
	_, store := testutil.NewStore(t)
	m := New(store)

	_, err := m.Get(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidUser)
	assert.ErrorIs(t, m.Save(context.Background(), Preferences{}), ErrInvalidUser)
}

func TestStoreDown(t *testing.T) {
	mr, store := testutil.NewStore(t)
	m := New(store)
	mr.Close()

	_, err := m.Get(context.Background(), "u1")
	require.Error(t, err)
	require.Error(t, m.Save(context.Background(), Preferences{UserID: "u1"}))
}
